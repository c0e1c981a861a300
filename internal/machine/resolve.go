package machine

import (
	"net/url"

	"github.com/soldrproxy/soldr/internal/domain"
)

// resolveAuthority implements spec.md §4.3's "Origin resolution": parse
// the request's uri; if it carries an authority, use it; otherwise fall
// back to a header named "host", case-insensitive.
func resolveAuthority(req domain.Request) (string, bool) {
	if u, err := url.Parse(req.URI); err == nil && u.Host != "" {
		return u.Host, true
	}
	return domain.HeaderValue(req.Headers, "host")
}
