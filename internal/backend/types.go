package backend

import (
	"github.com/averlon/carddavd/internal/acl"

	"github.com/emersion/go-vcard"
)

// Collection is an addressbook or plain WebDAV collection row.
type Collection struct {
	Path        string // full path ending in "/"
	Name        string // leaf segment
	DisplayName string
	Description string
	AddressBook bool
	Owner       string // principal user id
	ParentPath  string // parent path ending in "/", empty for root
	Created     string
	Lastmod     string

	// Parent is filled in by lookups that resolve the chain; nil at root.
	Parent *Collection
}

// Card is a stored vCard entity inside an addressbook collection.
type Card struct {
	Name        string // resource segment, e.g. "abc.vcf"
	UID         string
	ColPath     string // owning collection path
	Lastmod     string
	PrevLastmod string
	Card        vcard.Card
	Raw         string
}

// Resource is opaque (non-vCard) content stored under a plain collection.
type Resource struct {
	Name          string
	ColPath       string
	ContentType   string
	ContentLength int64
	Lastmod       string
	Sequence      int64
	PrevLastmod   string
	PrevSequence  int64
	Content       []byte
}

type Principal struct {
	UserID      string
	DisplayName string
	Mail        string
}

// Limits carries the client-requested result cap for searches.
// A nil Limit means unbounded from the client's side.
type Limits struct {
	Limit *int
}

// CardsResult reports a card search plus how it was cut short, if at all.
type CardsResult struct {
	Cards     []*Card
	OverLimit bool // client limit exceeded
	Truncated bool // server hard cap exceeded
}

type CollectionsResult struct {
	Collections []*Collection
	OverLimit   bool
	Truncated   bool
}

// CurrentAccess is the outcome of an access check when the caller asked
// for a result instead of an error.
type CurrentAccess struct {
	Allowed bool
	Acl     acl.Effective
}
