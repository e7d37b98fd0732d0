package common

import (
	"context"
	"strings"
	"time"

	"github.com/averlon/carddavd/internal/auth"
)

// TrimQuotes strips one layer of surrounding double quotes.
func TrimQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// SafeSegment rejects path segments that could escape their collection.
func SafeSegment(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	return !strings.ContainsAny(s, "/\\")
}

// SafeCollectionName applies the same rule to collection leaves.
func SafeCollectionName(s string) bool {
	return SafeSegment(s)
}

// JoinURL joins path parts with single slashes.
func JoinURL(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p == "" {
			continue
		}
		b.WriteString("/")
		b.WriteString(p)
	}
	if b.Len() == 0 {
		return "/"
	}
	return b.String()
}

// TimeText renders t in the HTTP date format getlastmodified uses.
func TimeText(t time.Time) string {
	return t.UTC().Format(time.RFC1123)
}

func PrincipalURL(basePath, user string) string {
	return JoinURL(basePath, "principals", "users", user) + "/"
}

func AddressbookHome(basePath, user string) string {
	return JoinURL(basePath, "addressbooks", user) + "/"
}

func AddressbookPath(basePath, user, ab string) string {
	return JoinURL(basePath, "addressbooks", user, ab) + "/"
}

// MustPrincipal returns the authenticated principal; the router
// guarantees one is present past the auth middleware.
func MustPrincipal(ctx context.Context) *auth.Principal {
	p, _ := auth.PrincipalFrom(ctx)
	return p
}
