package webdav

import (
	"net/url"
	"path"
	"strings"
)

// NormalizePath percent-decodes and cleans a request path while keeping
// the collection-marking trailing slash. Paths that do not decode are
// used as-is; the storage layer never sees raw percent escapes that did
// decode. Returns an error for empty input.
func NormalizePath(p string) (string, error) {
	if p == "" {
		return "", BadRequest("bad URI")
	}
	if dec, err := url.PathUnescape(p); err == nil {
		p = dec
	}
	hadSlash := strings.HasSuffix(p, "/") && p != "/"
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	p = path.Clean(p)
	if hadSlash && p != "/" {
		p += "/"
	}
	return p, nil
}

// SplitPath cuts a normalized path into its parent collection path,
// with trailing slash, and its leaf segment without one.
func SplitPath(p string) (parent, leaf string) {
	t := strings.TrimSuffix(p, "/")
	i := strings.LastIndex(t, "/")
	if i < 0 {
		return "/", t
	}
	return t[:i+1], t[i+1:]
}
