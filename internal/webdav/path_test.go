package webdav_test

import (
	"testing"

	"github.com/averlon/carddavd/internal/webdav"
)

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"/a/b", "/a/b"},
		{"/a/b/", "/a/b/"},
		{"/a//b", "/a/b"},
		{"/a/./b", "/a/b"},
		{"/a/c/../b", "/a/b"},
		{"a/b", "/a/b"},
		{"/", "/"},
		{"/a%20b/c", "/a b/c"},
		{"/a/%2e%2e/b", "/b"},
	}
	for _, tc := range cases {
		got, err := webdav.NormalizePath(tc.in)
		if err != nil {
			t.Fatalf("NormalizePath(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("NormalizePath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizePathIdempotent(t *testing.T) {
	for _, in := range []string{"/a/b/", "/a b/c", "/x/../y", "/"} {
		once, err := webdav.NormalizePath(in)
		if err != nil {
			t.Fatalf("NormalizePath(%q): %v", in, err)
		}
		twice, err := webdav.NormalizePath(once)
		if err != nil {
			t.Fatalf("NormalizePath(%q): %v", once, err)
		}
		if once != twice {
			t.Errorf("not idempotent: %q -> %q -> %q", in, once, twice)
		}
	}
}

func TestNormalizePathEmpty(t *testing.T) {
	if _, err := webdav.NormalizePath(""); err == nil {
		t.Fatal("empty path must be rejected")
	}
}

func TestSplitPath(t *testing.T) {
	cases := []struct {
		in, parent, leaf string
	}{
		{"/a/b/c.vcf", "/a/b/", "c.vcf"},
		{"/a/b/", "/a/", "b"},
		{"/top", "/", "top"},
	}
	for _, tc := range cases {
		parent, leaf := webdav.SplitPath(tc.in)
		if parent != tc.parent || leaf != tc.leaf {
			t.Errorf("SplitPath(%q) = (%q, %q), want (%q, %q)", tc.in, parent, leaf, tc.parent, tc.leaf)
		}
	}
}
