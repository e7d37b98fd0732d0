package webdav_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/averlon/carddavd/internal/webdav"
)

func TestResolveExistingCollection(t *testing.T) {
	i, _ := newIntf(t)
	ref := mustResolve(t, i, "/addressbooks/alice/contacts/", webdav.MustExist, webdav.HintCollection)
	if ref.Kind != webdav.KindCollection || !ref.Exists {
		t.Fatalf("unexpected ref: %+v", ref)
	}
	if !ref.IsAddressbook() {
		t.Fatal("contacts should resolve as an addressbook")
	}
}

func TestResolveCollectionWithoutTrailingSlash(t *testing.T) {
	i, _ := newIntf(t)
	ref := mustResolve(t, i, "/addressbooks/alice/contacts", webdav.MustExist, webdav.HintUnknown)
	if ref.Kind != webdav.KindCollection || !ref.Exists {
		t.Fatalf("slashless collection URI should still find the collection, got %+v", ref)
	}
}

func TestResolveMissingMustExist(t *testing.T) {
	i, _ := newIntf(t)
	_, err := i.Resolve(context.Background(), "/addressbooks/alice/contacts/nope.vcf", webdav.MustExist, webdav.HintUnknown)
	if webdav.StatusOf(err) != http.StatusNotFound {
		t.Fatalf("want 404, got %v", err)
	}
}

func TestResolveCardInAddressbook(t *testing.T) {
	i, store := newIntf(t)
	seedCard(store, "a.vcf", "Alice Example", "alice@example.org")
	ref := mustResolve(t, i, "/addressbooks/alice/contacts/a.vcf", webdav.MustExist, webdav.HintUnknown)
	if ref.Kind != webdav.KindCard || !ref.Exists || ref.Card == nil {
		t.Fatalf("unexpected ref: %+v", ref)
	}
	if ref.EntityName != "a.vcf" {
		t.Fatalf("EntityName = %q", ref.EntityName)
	}
	if ref.Col == nil || !ref.Col.AddressBook {
		t.Fatal("card ref should carry its addressbook parent")
	}
}

func TestResolveMustNotExistHit(t *testing.T) {
	i, store := newIntf(t)
	seedCard(store, "a.vcf", "Alice Example")
	_, err := i.Resolve(context.Background(), "/addressbooks/alice/contacts/a.vcf", webdav.MustNotExist, webdav.HintEntity)
	if webdav.StatusOf(err) != http.StatusForbidden {
		t.Fatalf("want 403 for must-not-exist hit, got %v", err)
	}
}

func TestResolveUnknownHintRequiresMustExist(t *testing.T) {
	i, _ := newIntf(t)
	_, err := i.Resolve(context.Background(), "/addressbooks/alice/contacts/x.vcf", webdav.MayExist, webdav.HintUnknown)
	if webdav.StatusOf(err) != http.StatusInternalServerError {
		t.Fatalf("unknown hint without must-exist is a caller bug, got %v", err)
	}
}

func TestResolveMissingParentConflict(t *testing.T) {
	i, _ := newIntf(t)
	_, err := i.Resolve(context.Background(), "/nope/sub/", webdav.MustNotExist, webdav.HintCollection)
	if webdav.StatusOf(err) != http.StatusConflict {
		t.Fatalf("creating under a missing parent must conflict, got %v", err)
	}
}

func TestResolveNewCollectionPlaceholder(t *testing.T) {
	i, _ := newIntf(t)
	ref := mustResolve(t, i, "/files/sub/", webdav.MustNotExist, webdav.HintCollection)
	if ref.Exists {
		t.Fatal("placeholder must not claim existence")
	}
	if ref.EntityName != "sub" || ref.Col == nil || ref.Col.Path != "/files/" {
		t.Fatalf("unexpected placeholder: %+v", ref)
	}
}

func TestResolveResourcePlaceholder(t *testing.T) {
	i, _ := newIntf(t)
	ref := mustResolve(t, i, "/files/report.pdf", webdav.MayExist, webdav.HintEntity)
	if ref.Kind != webdav.KindResource || ref.Exists {
		t.Fatalf("unexpected ref: %+v", ref)
	}
	if ref.Res == nil || ref.Res.Name != "report.pdf" {
		t.Fatal("placeholder resource should be synthesized")
	}
}

func TestResolvePrincipal(t *testing.T) {
	i, _ := newIntf(t)
	ref := mustResolve(t, i, "/principals/users/alice/", webdav.MustExist, webdav.HintUnknown)
	if ref.Kind != webdav.KindPrincipal || !ref.Exists {
		t.Fatalf("unexpected ref: %+v", ref)
	}
	if ref.Principal == nil || ref.Principal.UserID != "alice" {
		t.Fatalf("principal not populated: %+v", ref.Principal)
	}
}

func TestResolveMissingPrincipal(t *testing.T) {
	i, _ := newIntf(t)
	_, err := i.Resolve(context.Background(), "/principals/users/bob/", webdav.MustExist, webdav.HintUnknown)
	if webdav.StatusOf(err) != http.StatusNotFound {
		t.Fatalf("want 404, got %v", err)
	}
}
