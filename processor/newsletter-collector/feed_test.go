package newslettercollector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFeed_RSS(t *testing.T) {
	body := rssFeed("Weekly Digest",
		[2]string{"First", "https://alpha.example/p/first"},
		[2]string{"No link", ""},
		[2]string{"Relative", "/p/relative"},
		[2]string{"Third", "https://alpha.example/p/third"},
	)

	title, entries, err := parseFeed([]byte(body), "https://alpha.example/feed/", 3)
	require.NoError(t, err)

	assert.Equal(t, "Weekly Digest", title)
	require.Len(t, entries, 3)
	assert.Equal(t, "https://alpha.example/p/first", entries[0].Link)
	assert.Equal(t, "https://alpha.example/p/relative", entries[1].Link)
	assert.Equal(t, "Third", entries[2].Title)
	assert.Equal(t, "Summary of First", entries[0].Summary)
	assert.NotEmpty(t, entries[0].Published)
}

func TestParseFeed_Atom(t *testing.T) {
	body := `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Atom Letters</title>
  <id>urn:uuid:60a76c80-d399-11d9-b93c-0003939e0af6</id>
  <updated>2024-05-01T10:00:00Z</updated>
  <entry>
    <title>Atom Post</title>
    <link href="https://beta.example/posts/atom"/>
    <id>urn:uuid:1225c695-cfb8-4ebb-aaaa-80da344efa6a</id>
    <published>2024-05-01T10:00:00Z</published>
    <updated>2024-05-01T10:00:00Z</updated>
    <summary>Short summary</summary>
  </entry>
</feed>`

	title, entries, err := parseFeed([]byte(body), "https://beta.example/feed", 5)
	require.NoError(t, err)

	assert.Equal(t, "Atom Letters", title)
	require.Len(t, entries, 1)
	assert.Equal(t, "https://beta.example/posts/atom", entries[0].Link)
	assert.Equal(t, "Short summary", entries[0].Summary)
}

func TestParseFeed_ZeroLimit(t *testing.T) {
	_, entries, err := parseFeed([]byte(rssFeed("x", [2]string{"a", "https://alpha.example/a"})), "https://alpha.example/feed", 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestParseFeed_Invalid(t *testing.T) {
	_, _, err := parseFeed([]byte("<html><body>not a feed</body></html>"), "https://alpha.example/feed", 3)
	require.Error(t, err)
}
