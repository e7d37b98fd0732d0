// Package backend defines the storage contract the DAV layer drives.
// A Handler instance is opened for one authenticated account at a time
// and returned to the pool when the request finishes.
package backend

import (
	"context"

	"github.com/averlon/carddavd/internal/acl"
	"github.com/averlon/carddavd/internal/carddav/filter"
)

// Handler is the per-account storage session. Implementations are not
// required to be safe for concurrent use; the pool serializes access.
type Handler interface {
	// Open binds the handler to an account before use.
	Open(ctx context.Context, account string) error
	// Close releases the handler back to an unbound state.
	Close() error

	// IsPrincipal reports whether the path lies inside principal space.
	IsPrincipal(ctx context.Context, path string) (bool, error)
	Principal(ctx context.Context, path string) (*Principal, error)

	// Collection returns nil without error when no collection exists at
	// the path.
	Collection(ctx context.Context, path string) (*Collection, error)
	Collections(ctx context.Context, parent *Collection) (CollectionsResult, error)
	// MakeCollection returns the HTTP status to answer MKCOL with.
	MakeCollection(ctx context.Context, col *Collection) (int, error)
	DeleteCollection(ctx context.Context, col *Collection) error
	CopyCollection(ctx context.Context, from *Collection, destPath string, overwrite bool) error
	MoveCollection(ctx context.Context, from *Collection, destPath string, overwrite bool) error

	// Card returns nil without error when the collection holds no card
	// with that name.
	Card(ctx context.Context, col *Collection, name string) (*Card, error)
	Cards(ctx context.Context, col *Collection, f *filter.Filter, limits Limits) (CardsResult, error)
	AddCard(ctx context.Context, col *Collection, card *Card) error
	UpdateCard(ctx context.Context, col *Collection, card *Card) error
	DeleteCard(ctx context.Context, col *Collection, name string) error
	CopyCard(ctx context.Context, from *Collection, name string, dest *Collection, destName string, overwrite bool) error
	MoveCard(ctx context.Context, from *Collection, name string, dest *Collection, destName string, overwrite bool) error

	// File returns nil without error when no resource exists.
	File(ctx context.Context, col *Collection, name string) (*Resource, error)
	FileContent(ctx context.Context, col *Collection, name string) ([]byte, error)
	PutFile(ctx context.Context, col *Collection, res *Resource) error
	UpdateFile(ctx context.Context, col *Collection, res *Resource) error
	DeleteFile(ctx context.Context, col *Collection, name string) error
	CopyFile(ctx context.Context, from *Collection, name string, dest *Collection, destName string, overwrite bool) error
	MoveFile(ctx context.Context, from *Collection, name string, dest *Collection, destName string, overwrite bool) error

	// CheckAccess evaluates priv for user on col. With returnResult the
	// denial comes back in CurrentAccess.Allowed; otherwise a denial is
	// returned as an error.
	CheckAccess(ctx context.Context, user string, col *Collection, priv acl.Priv, returnResult bool) (CurrentAccess, error)
}
