package webdav

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/averlon/carddavd/internal/backend"
)

// IfHeaders carries the conditional-write intent of a PUT.
type IfHeaders struct {
	// Create is set by If-None-Match: * and forbids replacing an
	// existing target.
	Create bool
	// IfEtag is the If-Match value; empty means unconditional.
	IfEtag string
}

// PutCard stores card at ref, which must point into an addressbook
// collection. It reports whether a new card was created.
func (i *Intf) PutCard(ctx context.Context, ref *Ref, card *backend.Card, ifh IfHeaders) (bool, error) {
	if ref.Kind != KindCard || ref.Col == nil {
		return false, Forbidden("target is not inside an addressbook")
	}

	old, err := i.BE.Card(ctx, ref.Col, ref.EntityName)
	if err != nil {
		return false, ServerError("card lookup: %v", err)
	}
	if old == nil {
		// A fresh card takes its name from the request URI.
		card.Name = ref.EntityName
		if err := i.BE.AddCard(ctx, ref.Col, card); err != nil {
			return false, ServerError("add card: %v", err)
		}
		return true, nil
	}
	if ifh.Create {
		return false, PreconditionFailed("target exists")
	}
	if card.Name == "" {
		card.Name = ref.EntityName
	}
	if card.Name != ref.EntityName {
		return false, BadRequest("mismatched names")
	}
	if ifh.IfEtag != "" && ifh.IfEtag != quote(old.Lastmod) {
		return false, PreconditionFailed("etag mismatch")
	}
	card.PrevLastmod = old.Lastmod
	if err := i.BE.UpdateCard(ctx, ref.Col, card); err != nil {
		return false, ServerError("update card: %v", err)
	}
	return false, nil
}

// PutResource stores opaque content at ref. Binary content is refused
// inside addressbook collections. Content type parts from repeated
// headers are joined with ";".
func (i *Intf) PutResource(ctx context.Context, ref *Ref, contentTypeParts []string, body io.Reader, maxBytes int64, ifh IfHeaders) (bool, error) {
	if ref.Kind != KindResource || ref.Col == nil {
		return false, PreconditionFailed("target is not a plain collection member")
	}
	if ref.Col.AddressBook {
		return false, PreconditionFailed("binary content not allowed in an addressbook")
	}

	create := ifh.Create
	if !ref.Exists {
		create = true
	} else if ifh.Create {
		return false, PreconditionFailed("target exists")
	}

	if ref.Exists && ifh.IfEtag != "" && ifh.IfEtag != ref.ETag() {
		return false, PreconditionFailed("etag mismatch")
	}

	var r io.Reader = body
	if maxBytes > 0 {
		r = io.LimitReader(body, maxBytes+1)
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return false, ServerError("read body: %v", err)
	}
	if maxBytes > 0 && int64(len(content)) > maxBytes {
		return false, &Error{Status: http.StatusRequestEntityTooLarge, Msg: "body too large"}
	}

	res := &backend.Resource{
		Name:        ref.EntityName,
		ColPath:     ref.Col.Path,
		ContentType: strings.Join(contentTypeParts, ";"),
		Content:     content,
	}
	if create {
		if err := i.BE.PutFile(ctx, ref.Col, res); err != nil {
			return false, ServerError("put file: %v", err)
		}
		return true, nil
	}
	res.PrevLastmod = ref.Res.Lastmod
	res.PrevSequence = ref.Res.Sequence
	if err := i.BE.UpdateFile(ctx, ref.Col, res); err != nil {
		return false, ServerError("update file: %v", err)
	}
	return false, nil
}

// MakeCollection creates the collection ref points at and returns the
// MKCOL status. Addressbooks cannot nest anything.
func (i *Intf) MakeCollection(ctx context.Context, ref *Ref, col *backend.Collection) (int, error) {
	if ref.Col != nil && ref.Col.AddressBook {
		return 0, Forbidden("cannot create inside an addressbook")
	}
	col.Path = ref.Path
	col.Name = ref.EntityName
	parentPath, _ := SplitPath(ref.Path)
	col.ParentPath = parentPath
	status, err := i.BE.MakeCollection(ctx, col)
	if err != nil {
		return 0, ServerError("make collection: %v", err)
	}
	return status, nil
}
