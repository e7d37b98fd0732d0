package webdav_test

import (
	"context"
	"testing"

	"github.com/averlon/carddavd/internal/backend"
	"github.com/averlon/carddavd/internal/backend/memory"
	"github.com/averlon/carddavd/internal/webdav"

	govcard "github.com/emersion/go-vcard"
)

// newIntf builds a protocol core over a seeded in-memory store:
// an addressbook at /addressbooks/alice/contacts/ and a plain
// collection at /files/, both owned by alice.
func newIntf(t *testing.T) (*webdav.Intf, *memory.Store) {
	t.Helper()
	store := memory.NewStore(1000)
	store.AddPrincipal(&backend.Principal{UserID: "alice", DisplayName: "Alice"})
	store.SeedCollection(&backend.Collection{Path: "/", Name: "", Owner: "alice"})
	store.SeedCollection(&backend.Collection{Path: "/addressbooks/", Name: "addressbooks", ParentPath: "/", Owner: "alice"})
	store.SeedCollection(&backend.Collection{Path: "/addressbooks/alice/", Name: "alice", ParentPath: "/addressbooks/", Owner: "alice"})
	store.SeedCollection(&backend.Collection{
		Path:        "/addressbooks/alice/contacts/",
		Name:        "contacts",
		ParentPath:  "/addressbooks/alice/",
		AddressBook: true,
		Owner:       "alice",
	})
	store.SeedCollection(&backend.Collection{Path: "/files/", Name: "files", ParentPath: "/", Owner: "alice"})

	h := memory.NewHandler(store, "/dav")
	if err := h.Open(context.Background(), "alice"); err != nil {
		t.Fatalf("open handler: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	return &webdav.Intf{BE: h, MaxResults: 1000, MaxDepth: 3}, store
}

func seedCard(store *memory.Store, name, fn string, emails ...string) {
	c := govcard.Card{}
	c.SetValue(govcard.FieldVersion, "3.0")
	c.SetValue(govcard.FieldFormattedName, fn)
	c.SetValue(govcard.FieldUID, name)
	for _, e := range emails {
		c.Add(govcard.FieldEmail, &govcard.Field{Value: e})
	}
	store.SeedCard("/addressbooks/alice/contacts/", &backend.Card{
		Name: name,
		UID:  name,
		Card: c,
	})
}

func mustResolve(t *testing.T, i *webdav.Intf, uri string, ex webdav.Existence, hint webdav.TypeHint) *webdav.Ref {
	t.Helper()
	ref, err := i.Resolve(context.Background(), uri, ex, hint)
	if err != nil {
		t.Fatalf("Resolve(%q): %v", uri, err)
	}
	return ref
}
