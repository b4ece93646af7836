package crawler

import (
	"net/url"
	"path"
	"strings"
)

// ShortID derives the stable short identifier of a resource from its canonical
// address: the last "-" separated token of the final path segment. It returns
// "" when the address has no usable token.
func ShortID(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	base := path.Base(strings.TrimSuffix(u.Path, "/"))
	if base == "." || base == "/" || base == "" {
		return ""
	}
	idx := strings.LastIndex(base, "-")
	token := base[idx+1:]
	if token == "" {
		return ""
	}
	return token
}
