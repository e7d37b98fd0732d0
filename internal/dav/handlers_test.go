package dav

import (
	"context"
	"encoding/xml"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/averlon/carddavd/internal/auth"
	"github.com/averlon/carddavd/internal/backend"
	"github.com/averlon/carddavd/internal/backend/memory"
	"github.com/averlon/carddavd/internal/config"
	"github.com/averlon/carddavd/internal/dav/common"

	govcard "github.com/emersion/go-vcard"
	"github.com/rs/zerolog"
)

// newTestEnv wires the handlers to an in-memory store owned by alice:
// a plain collection /books/ holding the addressbook /books/ab/, and a
// plain collection /files/ for opaque resources.
func newTestEnv(t *testing.T) (*Handlers, *memory.Store) {
	t.Helper()
	cfg := &config.Config{
		HTTP:   config.HTTPConfig{BasePath: "/dav", MaxVCFBytes: 1 << 20},
		Report: config.ReportConfig{MaxResults: 1000, MaxDepth: 3},
	}
	store := memory.NewStore(cfg.Report.MaxResults)
	store.AddPrincipal(&backend.Principal{UserID: "alice"})
	store.SeedCollection(&backend.Collection{Path: "/", Owner: "alice"})
	store.SeedCollection(&backend.Collection{Path: "/books/", Name: "books", ParentPath: "/", Owner: "alice"})
	store.SeedCollection(&backend.Collection{
		Path: "/books/ab/", Name: "ab", ParentPath: "/books/", AddressBook: true, Owner: "alice",
	})
	store.SeedCollection(&backend.Collection{Path: "/files/", Name: "files", ParentPath: "/", Owner: "alice"})

	pool := backend.NewPool(func(prefix string) backend.Handler {
		return memory.NewHandler(store, prefix)
	})
	return NewHandlers(cfg, pool, zerolog.Nop()), store
}

func seedTestCard(store *memory.Store, name, fn string) {
	c := govcard.Card{}
	c.SetValue(govcard.FieldVersion, "3.0")
	c.SetValue(govcard.FieldFormattedName, fn)
	c.SetValue(govcard.FieldUID, name)
	store.SeedCard("/books/ab/", &backend.Card{Name: name, UID: name, Card: c})
}

func davRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	return req.WithContext(auth.WithPrincipal(req.Context(), &auth.Principal{UserID: "alice"}))
}

// storeView opens a fresh backend handler for direct store assertions.
func storeView(t *testing.T, store *memory.Store) backend.Handler {
	t.Helper()
	be := memory.NewHandler(store, "/dav")
	if err := be.Open(context.Background(), "alice"); err != nil {
		t.Fatalf("open handler: %v", err)
	}
	t.Cleanup(func() { _ = be.Close() })
	return be
}

const queryBody = `<?xml version="1.0" encoding="utf-8"?>
<C:addressbook-query xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:carddav">
  <D:prop><D:getetag/></D:prop>
</C:addressbook-query>`

func runQuery(t *testing.T, h *Handlers, target, depth string) common.MultiStatus {
	t.Helper()
	req := davRequest("REPORT", target, queryBody)
	if depth != "" {
		req.Header.Set("Depth", depth)
	}
	rec := httptest.NewRecorder()
	h.Report(rec, req)
	if rec.Code != http.StatusMultiStatus {
		t.Fatalf("REPORT status = %d, body %q", rec.Code, rec.Body.String())
	}
	var ms common.MultiStatus
	if err := xml.Unmarshal(rec.Body.Bytes(), &ms); err != nil {
		t.Fatalf("unmarshal multistatus: %v", err)
	}
	return ms
}

func TestReportQueryDepthHeader(t *testing.T) {
	h, store := newTestEnv(t)
	seedTestCard(store, "a.vcf", "Alice Example")
	seedTestCard(store, "b.vcf", "Bob Builder")

	t.Run("depth zero stops at a plain collection", func(t *testing.T) {
		ms := runQuery(t, h, "/dav/", "0")
		if len(ms.Responses) != 0 {
			t.Fatalf("Depth: 0 on a plain collection must not recurse, got %d responses", len(ms.Responses))
		}
	})

	t.Run("absent header searches the subtree", func(t *testing.T) {
		ms := runQuery(t, h, "/dav/", "")
		if len(ms.Responses) != 2 {
			t.Fatalf("want both cards, got %d responses", len(ms.Responses))
		}
	})

	t.Run("infinity defers to the server cap", func(t *testing.T) {
		ms := runQuery(t, h, "/dav/", "infinity")
		if len(ms.Responses) != 2 {
			t.Fatalf("want both cards, got %d responses", len(ms.Responses))
		}
	})

	t.Run("depth zero still searches an addressbook target", func(t *testing.T) {
		ms := runQuery(t, h, "/dav/books/ab/", "0")
		if len(ms.Responses) != 2 {
			t.Fatalf("an addressbook target is searched regardless of depth, got %d responses", len(ms.Responses))
		}
	})
}

func TestCopyResource(t *testing.T) {
	h, store := newTestEnv(t)
	store.SeedResource("/files/", &backend.Resource{
		Name: "notes.txt", ContentType: "text/plain", Content: []byte("hello"),
	})

	req := davRequest("COPY", "/dav/files/notes.txt", "")
	req.Header.Set("Destination", "/dav/files/copy.txt")
	rec := httptest.NewRecorder()
	h.Copy(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("COPY status = %d, body %q", rec.Code, rec.Body.String())
	}

	ctx := context.Background()
	be := storeView(t, store)
	col, err := be.Collection(ctx, "/files/")
	if err != nil || col == nil {
		t.Fatalf("collection lookup: %v", err)
	}
	if r, err := be.File(ctx, col, "copy.txt"); err != nil || r == nil {
		t.Fatalf("copy not stored: %v %v", r, err)
	}
	if r, err := be.File(ctx, col, "notes.txt"); err != nil || r == nil {
		t.Fatalf("COPY must leave the source in place: %v %v", r, err)
	}
}

func TestMoveResource(t *testing.T) {
	h, store := newTestEnv(t)
	store.SeedResource("/files/", &backend.Resource{
		Name: "notes.txt", ContentType: "text/plain", Content: []byte("hello"),
	})

	req := davRequest("MOVE", "/dav/files/notes.txt", "")
	req.Header.Set("Destination", "/dav/files/moved.txt")
	rec := httptest.NewRecorder()
	h.Move(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("MOVE status = %d, body %q", rec.Code, rec.Body.String())
	}

	ctx := context.Background()
	be := storeView(t, store)
	col, err := be.Collection(ctx, "/files/")
	if err != nil || col == nil {
		t.Fatalf("collection lookup: %v", err)
	}
	if r, err := be.File(ctx, col, "moved.txt"); err != nil || r == nil {
		t.Fatalf("move not stored: %v %v", r, err)
	}
	if r, _ := be.File(ctx, col, "notes.txt"); r != nil {
		t.Fatal("MOVE must remove the source")
	}
}

func TestCopyResourceNoOverwrite(t *testing.T) {
	h, store := newTestEnv(t)
	store.SeedResource("/files/", &backend.Resource{Name: "notes.txt", Content: []byte("v1")})
	store.SeedResource("/files/", &backend.Resource{Name: "taken.txt", Content: []byte("v2")})

	req := davRequest("COPY", "/dav/files/notes.txt", "")
	req.Header.Set("Destination", "/dav/files/taken.txt")
	req.Header.Set("Overwrite", "F")
	rec := httptest.NewRecorder()
	h.Copy(rec, req)
	if rec.Code != http.StatusPreconditionFailed {
		t.Fatalf("COPY onto an existing target with Overwrite: F must fail with 412, got %d", rec.Code)
	}
}
