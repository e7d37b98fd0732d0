package webdav

import (
	"strconv"

	"github.com/averlon/carddavd/internal/backend"
)

// Kind says which arm of a Ref is populated.
type Kind int

const (
	KindCollection Kind = iota
	KindCard
	KindResource
	KindPrincipal
)

// Ref is a resolved URI: one of collection, card entity, opaque
// resource, or principal. Placeholder refs carry Exists=false and, for
// multiget error slots, a non-zero Status.
type Ref struct {
	Kind       Kind
	Path       string
	Exists     bool
	EntityName string // leaf segment for card and resource refs

	Col       *backend.Collection // parent for entities, self for collections
	Card      *backend.Card
	Res       *backend.Resource
	Principal *backend.Principal

	// Status is set on placeholder refs that stand in for a failed
	// multiget href.
	Status int
}

func quote(s string) string { return `"` + s + `"` }

// ETag returns the strong entity tag for the ref's current state.
// Cards derive it from their change stamp alone, resources from change
// stamp plus write sequence.
func (r *Ref) ETag() string {
	switch r.Kind {
	case KindCard:
		if r.Card == nil {
			return ""
		}
		return quote(r.Card.Lastmod)
	case KindResource:
		if r.Res == nil {
			return ""
		}
		return quote(r.Res.Lastmod + "-" + strconv.FormatInt(r.Res.Sequence, 10))
	case KindCollection:
		if r.Col == nil {
			return ""
		}
		return quote(r.Col.Lastmod)
	}
	return ""
}

// WeakETag is the weak form of ETag.
func (r *Ref) WeakETag() string {
	s := r.ETag()
	if s == "" {
		return ""
	}
	return "W/" + s
}

// PrevETag is the strong tag of the state before the last write, used
// to validate If-Match on updates.
func (r *Ref) PrevETag() string {
	switch r.Kind {
	case KindCard:
		if r.Card == nil {
			return ""
		}
		return quote(r.Card.PrevLastmod)
	case KindResource:
		if r.Res == nil {
			return ""
		}
		return quote(r.Res.PrevLastmod + "-" + strconv.FormatInt(r.Res.PrevSequence, 10))
	}
	return ""
}

// IsAddressbook reports whether the ref is an addressbook collection.
func (r *Ref) IsAddressbook() bool {
	return r.Kind == KindCollection && r.Col != nil && r.Col.AddressBook
}
