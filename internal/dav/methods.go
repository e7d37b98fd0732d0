package dav

import (
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/averlon/carddavd/internal/acl"
	"github.com/averlon/carddavd/internal/backend"
	"github.com/averlon/carddavd/internal/dav/common"
	"github.com/averlon/carddavd/internal/webdav"
	vcardutil "github.com/averlon/carddavd/pkg/vcard"
)

func (h *Handlers) Options(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("DAV", "1, 3, access-control, addressbook")
	w.Header().Set("Allow", "OPTIONS, GET, HEAD, PUT, DELETE, MKCOL, COPY, MOVE, PROPFIND, REPORT")
	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	h.get(w, r, true)
}

func (h *Handlers) Head(w http.ResponseWriter, r *http.Request) {
	h.get(w, r, false)
}

func (h *Handlers) get(w http.ResponseWriter, r *http.Request, withBody bool) {
	i, release, ok := h.intf(w, r)
	if !ok {
		return
	}
	defer release()

	pr := common.MustPrincipal(r.Context())
	ref, err := i.Resolve(r.Context(), h.davPath(r), webdav.MustExist, webdav.HintUnknown)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	switch ref.Kind {
	case webdav.KindCard:
		if _, err := i.CheckAccess(r.Context(), pr.UserID, ref, acl.PrivRead, false); err != nil {
			h.writeError(w, r, err)
			return
		}
		if inm := r.Header.Get("If-None-Match"); inm != "" && (inm == "*" || inm == ref.ETag()) {
			w.Header().Set("ETag", ref.ETag())
			w.WriteHeader(http.StatusNotModified)
			return
		}
		body := ref.Card.Raw
		if body == "" {
			body, err = vcardutil.Encode(ref.Card.Card)
			if err != nil {
				h.writeError(w, r, webdav.ServerError("encode card: %v", err))
				return
			}
		}
		w.Header().Set("Content-Type", "text/vcard; charset=utf-8")
		w.Header().Set("ETag", ref.ETag())
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		if withBody {
			_, _ = io.WriteString(w, body)
		}
	case webdav.KindResource:
		if _, err := i.CheckAccess(r.Context(), pr.UserID, ref, acl.PrivRead, false); err != nil {
			h.writeError(w, r, err)
			return
		}
		content, err := i.BE.FileContent(r.Context(), ref.Col, ref.EntityName)
		if err != nil {
			h.writeError(w, r, webdav.ServerError("read resource: %v", err))
			return
		}
		ct := ref.Res.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		w.Header().Set("Content-Type", ct)
		w.Header().Set("ETag", ref.ETag())
		w.Header().Set("Content-Length", strconv.Itoa(len(content)))
		if withBody {
			_, _ = w.Write(content)
		}
	default:
		http.Error(w, "method not allowed on collections", http.StatusMethodNotAllowed)
	}
}

func (h *Handlers) Put(w http.ResponseWriter, r *http.Request) {
	i, release, ok := h.intf(w, r)
	if !ok {
		return
	}
	defer release()

	pr := common.MustPrincipal(r.Context())
	ref, err := i.Resolve(r.Context(), h.davPath(r), webdav.MayExist, webdav.HintEntity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	priv := acl.PrivWriteContent
	if !ref.Exists {
		priv = acl.PrivBind
	}
	if _, err := i.CheckAccess(r.Context(), pr.UserID, ref, priv, false); err != nil {
		h.writeError(w, r, err)
		return
	}

	ifh := webdav.IfHeaders{
		Create: r.Header.Get("If-None-Match") == "*",
		IfEtag: r.Header.Get("If-Match"),
	}

	if ref.Kind == webdav.KindCard {
		h.putCard(w, r, i, ref, ifh)
		return
	}
	created, err := i.PutResource(r.Context(), ref, r.Header.Values("Content-Type"), r.Body, h.cfg.HTTP.MaxVCFBytes, ifh)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("ETag", ref.ETag())
	if created {
		w.WriteHeader(http.StatusCreated)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) putCard(w http.ResponseWriter, r *http.Request, i *webdav.Intf, ref *webdav.Ref, ifh webdav.IfHeaders) {
	ct := r.Header.Get("Content-Type")
	if ct != "" && !strings.Contains(ct, "text/vcard") && !strings.Contains(ct, "text/x-vcard") {
		h.writeError(w, r, webdav.UnsupportedMediaType("expected text/vcard"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, h.cfg.HTTP.MaxVCFBytes+1))
	if err != nil {
		h.writeError(w, r, webdav.ServerError("read body: %v", err))
		return
	}
	if int64(len(body)) > h.cfg.HTTP.MaxVCFBytes {
		http.Error(w, "vCard too large", http.StatusRequestEntityTooLarge)
		return
	}
	if err := vcardutil.Validate(body); err != nil {
		h.writeError(w, r, webdav.BadRequest(err.Error()))
		return
	}
	norm, err := vcardutil.Normalize(body, "")
	if err != nil {
		h.writeError(w, r, webdav.BadRequest(err.Error()))
		return
	}
	parsed, uid, err := vcardutil.Parse(norm)
	if err != nil {
		h.writeError(w, r, webdav.BadRequest(err.Error()))
		return
	}

	card := &backend.Card{
		Name: ref.EntityName,
		UID:  uid,
		Card: parsed,
		Raw:  string(norm),
	}
	created, err := i.PutCard(r.Context(), ref, card, ifh)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ref.Card = card
	w.Header().Set("ETag", ref.ETag())
	if created {
		w.WriteHeader(http.StatusCreated)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) {
	i, release, ok := h.intf(w, r)
	if !ok {
		return
	}
	defer release()

	pr := common.MustPrincipal(r.Context())
	ref, err := i.Resolve(r.Context(), h.davPath(r), webdav.MustExist, webdav.HintUnknown)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, err := i.CheckAccess(r.Context(), pr.UserID, ref, acl.PrivUnbind, false); err != nil {
		h.writeError(w, r, err)
		return
	}

	switch ref.Kind {
	case webdav.KindCard:
		err = i.BE.DeleteCard(r.Context(), ref.Col, ref.EntityName)
	case webdav.KindResource:
		err = i.BE.DeleteFile(r.Context(), ref.Col, ref.EntityName)
	case webdav.KindCollection:
		err = i.BE.DeleteCollection(r.Context(), ref.Col)
	default:
		h.writeError(w, r, webdav.Forbidden("cannot delete a principal"))
		return
	}
	if err != nil {
		h.writeError(w, r, webdav.ServerError("delete: %v", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) Mkcol(w http.ResponseWriter, r *http.Request) {
	i, release, ok := h.intf(w, r)
	if !ok {
		return
	}
	defer release()

	pr := common.MustPrincipal(r.Context())
	ref, err := i.Resolve(r.Context(), h.davPath(r), webdav.MustNotExist, webdav.HintCollection)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !common.SafeCollectionName(ref.EntityName) {
		h.writeError(w, r, webdav.BadRequest("bad collection name"))
		return
	}
	if _, err := i.CheckAccess(r.Context(), pr.UserID, ref, acl.PrivBind, false); err != nil {
		h.writeError(w, r, err)
		return
	}

	col := &backend.Collection{Owner: pr.UserID}
	if r.ContentLength != 0 {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err == nil && len(body) > 0 {
			mk := parseMkcolBody(body)
			col.DisplayName = mk.DisplayName
			col.Description = mk.Description
			col.AddressBook = mk.Addressbook
		}
	}

	status, err := i.MakeCollection(r.Context(), ref, col)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(status)
}

func (h *Handlers) Copy(w http.ResponseWriter, r *http.Request) {
	h.copyMove(w, r, false)
}

func (h *Handlers) Move(w http.ResponseWriter, r *http.Request) {
	h.copyMove(w, r, true)
}

func (h *Handlers) copyMove(w http.ResponseWriter, r *http.Request, move bool) {
	i, release, ok := h.intf(w, r)
	if !ok {
		return
	}
	defer release()

	pr := common.MustPrincipal(r.Context())
	ref, err := i.Resolve(r.Context(), h.davPath(r), webdav.MustExist, webdav.HintUnknown)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	priv := acl.PrivRead
	if move {
		priv = acl.PrivUnbind
	}
	if _, err := i.CheckAccess(r.Context(), pr.UserID, ref, priv, false); err != nil {
		h.writeError(w, r, err)
		return
	}

	destPath, err := h.destination(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	overwrite := !strings.EqualFold(r.Header.Get("Overwrite"), "F")

	switch ref.Kind {
	case webdav.KindCollection:
		if !strings.HasSuffix(destPath, "/") {
			destPath += "/"
		}
		if move {
			err = i.BE.MoveCollection(r.Context(), ref.Col, destPath, overwrite)
		} else {
			err = i.BE.CopyCollection(r.Context(), ref.Col, destPath, overwrite)
		}
	case webdav.KindCard:
		destRef, rerr := i.Resolve(r.Context(), destPath, webdav.MayExist, webdav.HintEntity)
		if rerr != nil {
			h.writeError(w, r, rerr)
			return
		}
		if destRef.Kind != webdav.KindCard {
			h.writeError(w, r, webdav.Forbidden("cards can only move between addressbooks"))
			return
		}
		if _, aerr := i.CheckAccess(r.Context(), pr.UserID, destRef, acl.PrivBind, false); aerr != nil {
			h.writeError(w, r, aerr)
			return
		}
		if move {
			err = i.BE.MoveCard(r.Context(), ref.Col, ref.EntityName, destRef.Col, destRef.EntityName, overwrite)
		} else {
			err = i.BE.CopyCard(r.Context(), ref.Col, ref.EntityName, destRef.Col, destRef.EntityName, overwrite)
		}
	case webdav.KindResource:
		destRef, rerr := i.Resolve(r.Context(), destPath, webdav.MayExist, webdav.HintEntity)
		if rerr != nil {
			h.writeError(w, r, rerr)
			return
		}
		if destRef.Kind != webdav.KindResource {
			h.writeError(w, r, webdav.Forbidden("resources can only move between plain collections"))
			return
		}
		if _, aerr := i.CheckAccess(r.Context(), pr.UserID, destRef, acl.PrivBind, false); aerr != nil {
			h.writeError(w, r, aerr)
			return
		}
		if move {
			err = i.BE.MoveFile(r.Context(), ref.Col, ref.EntityName, destRef.Col, destRef.EntityName, overwrite)
		} else {
			err = i.BE.CopyFile(r.Context(), ref.Col, ref.EntityName, destRef.Col, destRef.EntityName, overwrite)
		}
	default:
		h.writeError(w, r, webdav.Forbidden("unsupported source"))
		return
	}
	if err != nil {
		if err == backend.ErrExists {
			h.writeError(w, r, webdav.PreconditionFailed("destination exists"))
			return
		}
		h.writeError(w, r, webdav.ServerError("copy/move: %v", err))
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// destination parses the Destination header into a server-relative path
// under the DAV mount.
func (h *Handlers) destination(r *http.Request) (string, error) {
	raw := r.Header.Get("Destination")
	if raw == "" {
		return "", webdav.BadRequest("missing Destination header")
	}
	p := raw
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		p = u.Path
	}
	if !strings.HasPrefix(p, h.basePath) {
		return "", webdav.BadRequest("destination outside DAV root")
	}
	return strings.TrimPrefix(p, h.basePath), nil
}
