package webdav_test

import (
	"testing"

	"github.com/averlon/carddavd/internal/backend"
	"github.com/averlon/carddavd/internal/webdav"
)

func TestCardETag(t *testing.T) {
	ref := &webdav.Ref{
		Kind: webdav.KindCard,
		Card: &backend.Card{Lastmod: "20260101T120000Z", PrevLastmod: "20251231T235900Z"},
	}
	if got := ref.ETag(); got != `"20260101T120000Z"` {
		t.Fatalf("ETag = %s", got)
	}
	if got := ref.PrevETag(); got != `"20251231T235900Z"` {
		t.Fatalf("PrevETag = %s", got)
	}
	if got := ref.WeakETag(); got != `W/"20260101T120000Z"` {
		t.Fatalf("WeakETag = %s", got)
	}
}

func TestResourceETagIncludesSequence(t *testing.T) {
	ref := &webdav.Ref{
		Kind: webdav.KindResource,
		Res: &backend.Resource{
			Lastmod: "20260101T120000Z", Sequence: 7,
			PrevLastmod: "20260101T120000Z", PrevSequence: 6,
		},
	}
	if got := ref.ETag(); got != `"20260101T120000Z-7"` {
		t.Fatalf("ETag = %s", got)
	}
	if got := ref.PrevETag(); got != `"20260101T120000Z-6"` {
		t.Fatalf("PrevETag = %s", got)
	}
}

// Deriving a tag must not depend on anything but the ref's fields.
func TestETagPure(t *testing.T) {
	ref := &webdav.Ref{
		Kind: webdav.KindCard,
		Card: &backend.Card{Lastmod: "20260101T120000Z"},
	}
	a := ref.ETag()
	b := ref.ETag()
	if a != b {
		t.Fatalf("ETag not stable: %s vs %s", a, b)
	}
}

func TestEmptyRefETags(t *testing.T) {
	if (&webdav.Ref{Kind: webdav.KindCard}).ETag() != "" {
		t.Fatal("card ref without card should have empty ETag")
	}
	if (&webdav.Ref{Kind: webdav.KindPrincipal}).ETag() != "" {
		t.Fatal("principal refs carry no ETag")
	}
}
