package webdav

import (
	"context"
	"strings"

	"github.com/averlon/carddavd/internal/carddav/filter"

	"github.com/averlon/carddavd/internal/backend"
)

// QueryResult is the flattened outcome of a REPORT traversal.
type QueryResult struct {
	Nodes           []*Ref
	OverLimit       bool // client-requested limit exceeded
	ServerTruncated bool // server hard cap exceeded
}

// QueryReport evaluates an addressbook-query rooted at ref. A card root
// is returned as-is without re-running the filter against it; an
// addressbook root is searched in storage; any other collection is
// walked depth-first, left to right, down to the server's depth cap.
func (i *Intf) QueryReport(ctx context.Context, ref *Ref, f *filter.Filter, limit *int) (QueryResult, error) {
	return i.nodeAndChildren(ctx, ref, f, limit, 0)
}

func (i *Intf) nodeAndChildren(ctx context.Context, ref *Ref, f *filter.Filter, limit *int, curDepth int) (QueryResult, error) {
	if ref.Kind == KindCard {
		return QueryResult{Nodes: []*Ref{ref}}, nil
	}
	if ref.Kind != KindCollection {
		return QueryResult{}, BadRequest("report target is not a collection")
	}

	if ref.Col.AddressBook {
		res, err := i.BE.Cards(ctx, ref.Col, f, backend.Limits{Limit: limit})
		if err != nil {
			return QueryResult{}, ServerError("card search: %v", err)
		}
		out := QueryResult{OverLimit: res.OverLimit, ServerTruncated: res.Truncated}
		for _, c := range res.Cards {
			out.Nodes = append(out.Nodes, &Ref{
				Kind:       KindCard,
				Path:       ref.Col.Path + c.Name,
				Exists:     true,
				EntityName: c.Name,
				Col:        ref.Col,
				Card:       c,
			})
		}
		return out, nil
	}

	curDepth++
	if curDepth > i.MaxDepth {
		return QueryResult{}, nil
	}

	children, err := i.BE.Collections(ctx, ref.Col)
	if err != nil {
		return QueryResult{}, ServerError("child collections: %v", err)
	}
	var out QueryResult
	for _, child := range children.Collections {
		if err := ctx.Err(); err != nil {
			return out, ServerError("report canceled: %v", err)
		}
		sub, err := i.nodeAndChildren(ctx, &Ref{Kind: KindCollection, Path: child.Path, Exists: true, Col: child}, f, limit, curDepth)
		if err != nil {
			return out, err
		}
		out.Nodes = append(out.Nodes, sub.Nodes...)
		if limit != nil && len(out.Nodes) > *limit {
			out.OverLimit = true
			break
		}
		if sub.OverLimit {
			out.OverLimit = true
			break
		}
		if sub.ServerTruncated {
			out.ServerTruncated = true
			break
		}
	}
	return out, nil
}

// MultiGetReport resolves each href in isolation. A failed href becomes
// a placeholder node carrying its error status, so the response always
// has exactly one entry per requested href, in request order.
func (i *Intf) MultiGetReport(ctx context.Context, hrefs []string) (QueryResult, error) {
	var out QueryResult
	for _, href := range hrefs {
		if err := ctx.Err(); err != nil {
			return out, ServerError("report canceled: %v", err)
		}
		ref, err := i.Resolve(ctx, href, MustExist, HintUnknown)
		if err != nil {
			kind := KindCard
			if strings.HasSuffix(href, "/") {
				kind = KindCollection
			}
			p, nerr := NormalizePath(href)
			if nerr != nil {
				p = href
			}
			out.Nodes = append(out.Nodes, &Ref{
				Kind:   kind,
				Path:   p,
				Status: StatusOf(err),
			})
			continue
		}
		out.Nodes = append(out.Nodes, ref)
	}
	return out, nil
}
