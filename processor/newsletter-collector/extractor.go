package newslettercollector

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

var (
	scriptRe         = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleRe          = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	excessiveLinesRe = regexp.MustCompile(`\n{3,}`)
)

// postContentSelectors locate the article body on newsletter platforms, in
// priority order.
var postContentSelectors = []string{"div.post-content", "div.available-content", "article"}

// Extraction is the readable text of a post page.
type Extraction struct {
	Title    string
	Markdown string
}

// Extractor turns a post page into capped markdown text.
type Extractor struct {
	converter *md.Converter
	maxChars  int
}

// NewExtractor creates an extractor that keeps at most maxChars characters.
func NewExtractor(maxChars int) *Extractor {
	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())

	if maxChars <= 0 {
		maxChars = DefaultMaxContentChars
	}
	return &Extractor{
		converter: converter,
		maxChars:  maxChars,
	}
}

// Extract finds the post body and converts it to markdown. Known newsletter
// containers win; otherwise readability picks the main content, and if that
// fails the page body is used with navigation chrome stripped.
func (e *Extractor) Extract(content []byte, pageURL *url.URL) (*Extraction, error) {
	title := extractHTMLTitle(content)

	fragment := ""
	doc, err := html.Parse(bytes.NewReader(content))
	if err == nil {
		for _, selector := range postContentSelectors {
			if node := findElement(doc, selector); node != nil {
				fragment = renderNode(node)
				break
			}
		}
	}

	if fragment == "" {
		if article, rerr := readability.FromReader(bytes.NewReader(content), pageURL); rerr == nil && strings.TrimSpace(article.Content) != "" {
			fragment = article.Content
			if title == "" {
				title = strings.TrimSpace(article.Title)
			}
		}
	}

	if fragment == "" {
		fragment = pageBody(doc, content)
	}

	markdown, err := e.converter.ConvertString(fragment)
	if err != nil {
		return nil, err
	}
	markdown = cleanMarkdown(markdown)

	if title == "" {
		title = extractMarkdownTitle(markdown)
	}

	return &Extraction{
		Title:    title,
		Markdown: truncateChars(markdown, e.maxChars),
	}, nil
}

// pageBody returns the page body without navigation and embedded objects.
func pageBody(doc *html.Node, content []byte) string {
	if doc == nil {
		return basicHTMLCleanup(string(content))
	}
	removeElements(doc, []string{
		"nav", "header", "footer", "aside", "script", "style", "noscript",
		"iframe", "object", "embed", "form", "input", "button",
	})
	removeByClass(doc, []string{
		"nav", "navbar", "navigation", "sidebar", "menu", "footer", "header",
		"subscribe", "subscription-widget", "paywall", "share", "comments",
		"post-footer", "related",
	})
	if body := findElement(doc, "body"); body != nil {
		return renderNode(body)
	}
	return basicHTMLCleanup(string(content))
}

func extractHTMLTitle(content []byte) string {
	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return ""
	}
	if n := findElement(doc, "title"); n != nil && n.FirstChild != nil {
		return strings.TrimSpace(n.FirstChild.Data)
	}
	return ""
}

// findElement returns the first element matching selector in document order.
func findElement(n *html.Node, selector string) *html.Node {
	if n.Type == html.ElementNode && matchesSelector(n, selector) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, selector); found != nil {
			return found
		}
	}
	return nil
}

// matchesSelector supports "tag", "tag.class", ".class" and "[attr=value]".
func matchesSelector(n *html.Node, selector string) bool {
	if strings.HasPrefix(selector, "[") && strings.HasSuffix(selector, "]") {
		key, val, ok := strings.Cut(strings.Trim(selector, "[]"), "=")
		if !ok {
			return false
		}
		return attr(n, key) == val
	}

	tag, class, hasClass := strings.Cut(selector, ".")
	if tag != "" && n.Data != tag {
		return false
	}
	if !hasClass {
		return true
	}
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func removeElements(n *html.Node, tags []string) {
	tagSet := make(map[string]bool, len(tags))
	for _, tag := range tags {
		tagSet[tag] = true
	}
	removeMatching(n, func(node *html.Node) bool {
		return tagSet[node.Data]
	})
}

func removeByClass(n *html.Node, classes []string) {
	classSet := make(map[string]bool, len(classes))
	for _, class := range classes {
		classSet[strings.ToLower(class)] = true
	}
	removeMatching(n, func(node *html.Node) bool {
		for _, c := range strings.Fields(strings.ToLower(attr(node, "class"))) {
			if classSet[c] {
				return true
			}
		}
		return false
	})
}

// removeMatching detaches every element for which match is true. Children of
// a removed element are not visited.
func removeMatching(n *html.Node, match func(*html.Node) bool) {
	var toRemove []*html.Node
	var collect func(*html.Node)
	collect = func(node *html.Node) {
		if node.Type == html.ElementNode && match(node) {
			toRemove = append(toRemove, node)
			return
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)

	for _, node := range toRemove {
		if node.Parent != nil {
			node.Parent.RemoveChild(node)
		}
	}
}

func renderNode(n *html.Node) string {
	var sb strings.Builder
	_ = html.Render(&sb, n)
	return sb.String()
}

func basicHTMLCleanup(content string) string {
	content = scriptRe.ReplaceAllString(content, "")
	return styleRe.ReplaceAllString(content, "")
}

// cleanMarkdown collapses blank-line runs and trailing whitespace.
func cleanMarkdown(content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	content = strings.Join(lines, "\n")
	content = excessiveLinesRe.ReplaceAllString(content, "\n\n")
	return strings.TrimSpace(content)
}

func extractMarkdownTitle(content string) string {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}

// truncateChars cuts s to at most n characters without splitting a rune.
func truncateChars(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
