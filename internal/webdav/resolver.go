package webdav

import (
	"context"
	"strings"

	"github.com/averlon/carddavd/internal/backend"

	"github.com/rs/zerolog"
)

// Existence says what the caller requires of the target.
type Existence int

const (
	MustExist Existence = iota
	MustNotExist
	MayExist
)

// TypeHint narrows what kind of node the caller expects at the URI.
type TypeHint int

const (
	HintUnknown TypeHint = iota
	HintCollection
	HintEntity
	HintPrincipal
)

// Intf drives the protocol core against one opened backend handler.
type Intf struct {
	BE         backend.Handler
	Logger     zerolog.Logger
	MaxResults int
	MaxDepth   int
}

// Resolve maps a request URI onto a Ref, enforcing the caller's
// existence requirement and type hint.
//
// An unknown hint is only meaningful when the target must exist; any
// other combination is a caller bug and reported as a server error.
func (i *Intf) Resolve(ctx context.Context, uri string, existence Existence, hint TypeHint) (*Ref, error) {
	p, err := NormalizePath(uri)
	if err != nil {
		return nil, err
	}

	isPrincipal, err := i.BE.IsPrincipal(ctx, p)
	if err != nil {
		return nil, ServerError("principal check: %v", err)
	}
	if isPrincipal || hint == HintPrincipal {
		pr, err := i.BE.Principal(ctx, p)
		if err != nil {
			if existence == MustExist {
				return nil, NotFound("no such principal")
			}
			return &Ref{Kind: KindPrincipal, Path: p}, nil
		}
		return &Ref{Kind: KindPrincipal, Path: p, Exists: true, Principal: pr}, nil
	}

	if hint == HintUnknown && existence != MustExist {
		return nil, ServerError("unknown type hint requires an existing target: %s", p)
	}

	// For an unknown target, a collection at the slash-terminated path
	// wins over an entity at the bare path.
	if hint == HintCollection || hint == HintUnknown {
		cp := p
		if !strings.HasSuffix(cp, "/") {
			cp += "/"
		}
		col, err := i.BE.Collection(ctx, cp)
		if err != nil {
			return nil, ServerError("collection lookup: %v", err)
		}
		if col != nil {
			if existence == MustNotExist {
				return nil, Forbidden("resource must be null: " + cp)
			}
			return &Ref{Kind: KindCollection, Path: cp, Exists: true, Col: col}, nil
		}
		if hint == HintCollection {
			parentPath, leaf := SplitPath(cp)
			parent, err := i.BE.Collection(ctx, parentPath)
			if err != nil {
				return nil, ServerError("parent lookup: %v", err)
			}
			if parent == nil {
				if existence == MustNotExist {
					// Creating a collection needs its parent in place.
					return nil, Conflict("missing parent collection: " + parentPath)
				}
				return nil, NotFound("no such collection: " + cp)
			}
			if existence == MustExist {
				return nil, NotFound("no such collection: " + cp)
			}
			return &Ref{
				Kind:       KindCollection,
				Path:       cp,
				EntityName: leaf,
				Col:        parent,
			}, nil
		}
	}

	parentPath, leaf := SplitPath(p)
	parent, err := i.BE.Collection(ctx, parentPath)
	if err != nil {
		return nil, ServerError("parent lookup: %v", err)
	}
	if parent == nil {
		return nil, NotFound("no such collection: " + parentPath)
	}

	if parent.AddressBook {
		card, err := i.BE.Card(ctx, parent, leaf)
		if err != nil {
			return nil, ServerError("card lookup: %v", err)
		}
		if card == nil {
			if existence == MustExist {
				return nil, NotFound("no such card: " + p)
			}
			return &Ref{Kind: KindCard, Path: p, EntityName: leaf, Col: parent}, nil
		}
		if existence == MustNotExist {
			return nil, Forbidden("resource must be null: " + p)
		}
		return &Ref{Kind: KindCard, Path: p, Exists: true, EntityName: leaf, Col: parent, Card: card}, nil
	}

	res, err := i.BE.File(ctx, parent, leaf)
	if err != nil {
		return nil, ServerError("resource lookup: %v", err)
	}
	if res == nil {
		if existence == MustExist {
			return nil, NotFound("no such resource: " + p)
		}
		// Placeholder so a later PUT knows where it lands.
		return &Ref{
			Kind:       KindResource,
			Path:       p,
			EntityName: leaf,
			Col:        parent,
			Res:        &backend.Resource{Name: leaf, ColPath: parent.Path},
		}, nil
	}
	if existence == MustNotExist {
		return nil, Forbidden("resource must be null: " + p)
	}
	return &Ref{Kind: KindResource, Path: p, Exists: true, EntityName: leaf, Col: parent, Res: res}, nil
}
