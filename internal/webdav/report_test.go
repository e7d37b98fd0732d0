package webdav_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/averlon/carddavd/internal/backend"
	"github.com/averlon/carddavd/internal/backend/memory"
	"github.com/averlon/carddavd/internal/carddav/filter"
	"github.com/averlon/carddavd/internal/webdav"
)

func seedThree(store *memory.Store) {
	seedCard(store, "a.vcf", "Alice Example", "alice@example.org")
	seedCard(store, "b.vcf", "Bob Builder", "bob@work.example")
	seedCard(store, "c.vcf", "Carol Jones")
}

func TestQueryReportUnfiltered(t *testing.T) {
	i, store := newIntf(t)
	seedThree(store)
	root := mustResolve(t, i, "/addressbooks/alice/contacts/", webdav.MustExist, webdav.HintCollection)
	res, err := i.QueryReport(context.Background(), root, nil, nil)
	if err != nil {
		t.Fatalf("QueryReport: %v", err)
	}
	if len(res.Nodes) != 3 || res.OverLimit || res.ServerTruncated {
		t.Fatalf("unexpected result: %d nodes, over=%v trunc=%v", len(res.Nodes), res.OverLimit, res.ServerTruncated)
	}
	for n, want := range []string{"a.vcf", "b.vcf", "c.vcf"} {
		if res.Nodes[n].EntityName != want {
			t.Errorf("node %d = %q, want %q", n, res.Nodes[n].EntityName, want)
		}
	}
}

func TestQueryReportFiltered(t *testing.T) {
	i, store := newIntf(t)
	seedThree(store)
	root := mustResolve(t, i, "/addressbooks/alice/contacts/", webdav.MustExist, webdav.HintCollection)

	f := &filter.Filter{
		Test: filter.TestAny,
		Props: []*filter.PropFilter{
			{Name: "FN", Match: &filter.TextMatch{Value: "Alice", MatchType: filter.MatchStartsWith}},
			{Name: "EMAIL", Match: &filter.TextMatch{Value: "work", MatchType: filter.MatchContains}},
		},
	}
	res, err := i.QueryReport(context.Background(), root, f, nil)
	if err != nil {
		t.Fatalf("QueryReport: %v", err)
	}
	if len(res.Nodes) != 2 {
		t.Fatalf("want a.vcf and b.vcf, got %d nodes", len(res.Nodes))
	}
	if res.Nodes[0].EntityName != "a.vcf" || res.Nodes[1].EntityName != "b.vcf" {
		t.Fatalf("wrong matches: %q, %q", res.Nodes[0].EntityName, res.Nodes[1].EntityName)
	}
}

func TestQueryReportClientLimit(t *testing.T) {
	i, store := newIntf(t)
	seedThree(store)
	root := mustResolve(t, i, "/addressbooks/alice/contacts/", webdav.MustExist, webdav.HintCollection)

	limit := 2
	res, err := i.QueryReport(context.Background(), root, nil, &limit)
	if err != nil {
		t.Fatalf("QueryReport: %v", err)
	}
	if len(res.Nodes) != 2 {
		t.Fatalf("limit 2 must yield 2 nodes, got %d", len(res.Nodes))
	}
	if !res.OverLimit || res.ServerTruncated {
		t.Fatalf("want OverLimit only, got over=%v trunc=%v", res.OverLimit, res.ServerTruncated)
	}
}

func TestQueryReportServerTruncation(t *testing.T) {
	store := memory.NewStore(2)
	store.AddPrincipal(&backend.Principal{UserID: "alice"})
	store.SeedCollection(&backend.Collection{Path: "/", Owner: "alice"})
	store.SeedCollection(&backend.Collection{
		Path: "/book/", Name: "book", ParentPath: "/", AddressBook: true, Owner: "alice",
	})
	for _, n := range []string{"a.vcf", "b.vcf", "c.vcf"} {
		store.SeedCard("/book/", &backend.Card{Name: n, UID: n})
	}
	h := memory.NewHandler(store, "/dav")
	if err := h.Open(context.Background(), "alice"); err != nil {
		t.Fatalf("open handler: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	i := &webdav.Intf{BE: h, MaxResults: 2, MaxDepth: 3}

	root := mustResolve(t, i, "/book/", webdav.MustExist, webdav.HintCollection)
	res, err := i.QueryReport(context.Background(), root, nil, nil)
	if err != nil {
		t.Fatalf("QueryReport: %v", err)
	}
	if len(res.Nodes) != 2 || !res.ServerTruncated || res.OverLimit {
		t.Fatalf("server cap of 2 should truncate: %d nodes, over=%v trunc=%v",
			len(res.Nodes), res.OverLimit, res.ServerTruncated)
	}
}

func TestQueryReportRecursesIntoAddressbooks(t *testing.T) {
	i, store := newIntf(t)
	seedThree(store)
	root := mustResolve(t, i, "/", webdav.MustExist, webdav.HintCollection)
	res, err := i.QueryReport(context.Background(), root, nil, nil)
	if err != nil {
		t.Fatalf("QueryReport: %v", err)
	}
	if len(res.Nodes) != 3 {
		t.Fatalf("query at the root should reach the addressbook, got %d nodes", len(res.Nodes))
	}
}

func TestQueryReportDepthCap(t *testing.T) {
	i, store := newIntf(t)
	seedThree(store)
	i.MaxDepth = 1
	root := mustResolve(t, i, "/", webdav.MustExist, webdav.HintCollection)
	res, err := i.QueryReport(context.Background(), root, nil, nil)
	if err != nil {
		t.Fatalf("QueryReport: %v", err)
	}
	if len(res.Nodes) != 0 {
		t.Fatalf("addressbook sits below the depth cap, got %d nodes", len(res.Nodes))
	}
}

func TestQueryReportCardRootBypassesFilter(t *testing.T) {
	i, store := newIntf(t)
	seedThree(store)
	ref := mustResolve(t, i, "/addressbooks/alice/contacts/c.vcf", webdav.MustExist, webdav.HintUnknown)

	f := &filter.Filter{Props: []*filter.PropFilter{
		{Name: "FN", Match: &filter.TextMatch{Value: "nobody", MatchType: filter.MatchEquals}},
	}}
	res, err := i.QueryReport(context.Background(), ref, f, nil)
	if err != nil {
		t.Fatalf("QueryReport: %v", err)
	}
	if len(res.Nodes) != 1 || res.Nodes[0] != ref {
		t.Fatal("a card target is returned as-is, never re-filtered")
	}
}

func TestMultiGetReport(t *testing.T) {
	i, store := newIntf(t)
	seedThree(store)
	hrefs := []string{
		"/addressbooks/alice/contacts/a.vcf",
		"/addressbooks/alice/contacts/missing.vcf",
		"/addressbooks/alice/contacts/b.vcf",
	}
	res, err := i.MultiGetReport(context.Background(), hrefs)
	if err != nil {
		t.Fatalf("MultiGetReport: %v", err)
	}
	if len(res.Nodes) != len(hrefs) {
		t.Fatalf("one entry per href, got %d", len(res.Nodes))
	}
	if !res.Nodes[0].Exists || res.Nodes[0].EntityName != "a.vcf" {
		t.Fatalf("first href: %+v", res.Nodes[0])
	}
	if res.Nodes[1].Exists || res.Nodes[1].Status != http.StatusNotFound {
		t.Fatalf("missing href must become a 404 placeholder: %+v", res.Nodes[1])
	}
	if res.Nodes[1].Kind != webdav.KindCard {
		t.Fatal("slashless missing href defaults to a card placeholder")
	}
	if !res.Nodes[2].Exists || res.Nodes[2].EntityName != "b.vcf" {
		t.Fatalf("third href: %+v", res.Nodes[2])
	}
}

func TestMultiGetReportCanceled(t *testing.T) {
	i, store := newIntf(t)
	seedThree(store)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := i.MultiGetReport(ctx, []string{
		"/addressbooks/alice/contacts/a.vcf",
		"/addressbooks/alice/contacts/b.vcf",
	})
	if err == nil {
		t.Fatal("a canceled context must abort the multiget")
	}
	if webdav.StatusOf(err) != http.StatusInternalServerError {
		t.Fatalf("cancellation status = %d", webdav.StatusOf(err))
	}
}

func TestMultiGetReportMissingCollection(t *testing.T) {
	i, _ := newIntf(t)
	res, err := i.MultiGetReport(context.Background(), []string{"/addressbooks/alice/gone/"})
	if err != nil {
		t.Fatalf("MultiGetReport: %v", err)
	}
	if len(res.Nodes) != 1 || res.Nodes[0].Kind != webdav.KindCollection {
		t.Fatalf("trailing slash placeholder must be a collection: %+v", res.Nodes[0])
	}
	if res.Nodes[0].Status != http.StatusNotFound {
		t.Fatalf("Status = %d", res.Nodes[0].Status)
	}
}
