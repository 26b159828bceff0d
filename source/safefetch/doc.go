// Package safefetch fetches attacker-influenced URLs with SSRF and
// resource-exhaustion protection.
//
// # Redirects
//
// Fetcher never lets the HTTP client follow redirects. Each hop goes
// through the same steps:
//
//  1. Classify the URL (weburl.Classifier). Unsafe hops fail with
//     UnsafeURLError before any connection is opened.
//  2. Fail with TooManyRedirectsError once the hop count exceeds the limit,
//     or RedirectLoopError when a redirect returns to a visited URL.
//  3. Issue a single GET. On 301/302/303/307/308 with a Location header the
//     target is resolved against the current URL, the redirect body is
//     released, query parameters are dropped, and Authorization,
//     Proxy-Authorization and Cookie are removed if the origin changes.
//  4. Any other response (including a 3xx without Location) is final.
//
// # Limits
//
// Bodies are read in 8 KiB chunks and cut at MaxBodyBytes whatever the
// Content-Length says. Every hop has its own timeout and the whole call has
// a time budget, so a chain of slow redirects cannot hold a caller for
// MaxRedirects times the hop timeout.
//
// # DNS rebinding
//
// Classification resolves a domain and checks every answer, but the answer
// can change before the connection is made. The default transport closes
// that gap: GuardedDialer resolves again at dial time, refuses the
// connection if any address is blocked, and dials the checked literal
// addresses. TLS server names still come from the URL host. A custom
// transport supplied through WithTransport loses this protection.
//
// # Errors
//
// Failures are typed (UnsafeURLError, TooManyRedirectsError,
// RedirectLoopError, NetworkError, InvalidResponseError) and KindOf maps
// any returned error to an ErrorKind. Only NetworkError is worth retrying,
// and the fetcher never retries on its own.
package safefetch
