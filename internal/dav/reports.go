package dav

import (
	"encoding/xml"
	"io"
	"net/http"

	"github.com/averlon/carddavd/internal/acl"
	"github.com/averlon/carddavd/internal/dav/common"
	"github.com/averlon/carddavd/internal/webdav"
	vcardutil "github.com/averlon/carddavd/pkg/vcard"
)

func (h *Handlers) Report(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		h.writeError(w, r, webdav.ServerError("read body: %v", err))
		return
	}
	root, err := common.ReportRoot(body)
	if err != nil {
		h.writeError(w, r, webdav.BadRequest("malformed report body"))
		return
	}

	switch root.Space + " " + root.Local {
	case common.NSCardDAV + " addressbook-query":
		var q common.AddressbookQuery
		if err := xml.Unmarshal(body, &q); err != nil {
			h.writeError(w, r, webdav.BadRequest("malformed addressbook-query"))
			return
		}
		h.reportQuery(w, r, q)
	case common.NSCardDAV + " addressbook-multiget":
		var mg common.AddressbookMultiget
		if err := xml.Unmarshal(body, &mg); err != nil {
			h.writeError(w, r, webdav.BadRequest("malformed addressbook-multiget"))
			return
		}
		h.reportMultiget(w, r, mg)
	default:
		h.writeError(w, r, webdav.BadRequest("unsupported report: "+root.Local))
	}
}

func (h *Handlers) reportQuery(w http.ResponseWriter, r *http.Request, q common.AddressbookQuery) {
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
	if _, err := i.CheckAccess(r.Context(), pr.UserID, ref, acl.PrivRead, false); err != nil {
		h.writeError(w, r, err)
		return
	}

	// The Depth header can only tighten the server's traversal cap;
	// absent or "infinity" leaves the configured cap in charge.
	switch r.Header.Get("Depth") {
	case "0":
		i.MaxDepth = 0
	case "1":
		if i.MaxDepth > 1 {
			i.MaxDepth = 1
		}
	}

	f := common.BuildFilter(q.Filter)
	limit := common.QueryLimit(q.Limit)
	qr, err := i.QueryReport(r.Context(), ref, f, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	req := common.ParsePropRequest(q.Prop)
	var resps []common.Response
	for _, node := range qr.Nodes {
		resps = append(resps, h.reportResponse(node, req))
	}
	if qr.OverLimit || qr.ServerTruncated {
		resps = append(resps, common.Response{
			Hrefs:  []common.Href{{Value: h.basePath + ref.Path}},
			Status: &common.Status{Code: http.StatusInsufficientStorage},
		})
	}

	ms := common.MultiStatus{Responses: resps}
	if err := common.ServeMultiStatus(w, &ms); err != nil {
		h.logger.Error().Err(err).Msg("failed to serve multistatus")
	}
}

func (h *Handlers) reportMultiget(w http.ResponseWriter, r *http.Request, mg common.AddressbookMultiget) {
	i, release, ok := h.intf(w, r)
	if !ok {
		return
	}
	defer release()

	hrefs := make([]string, 0, len(mg.Hrefs))
	for _, href := range mg.Hrefs {
		p := href.Value
		if len(p) >= len(h.basePath) && p[:len(h.basePath)] == h.basePath {
			p = p[len(h.basePath):]
		}
		hrefs = append(hrefs, p)
	}

	qr, err := i.MultiGetReport(r.Context(), hrefs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	req := common.ParsePropRequest(mg.Prop)
	var resps []common.Response
	for _, node := range qr.Nodes {
		if node.Status != 0 {
			resps = append(resps, common.Response{
				Hrefs:  []common.Href{{Value: h.basePath + node.Path}},
				Status: &common.Status{Code: node.Status},
			})
			continue
		}
		resps = append(resps, h.reportResponse(node, req))
	}

	ms := common.MultiStatus{Responses: resps}
	if err := common.ServeMultiStatus(w, &ms); err != nil {
		h.logger.Error().Err(err).Msg("failed to serve multistatus")
	}
}

func (h *Handlers) reportResponse(node *webdav.Ref, req common.PropRequest) common.Response {
	resp := common.Response{Hrefs: []common.Href{{Value: h.basePath + node.Path}}}
	switch node.Kind {
	case webdav.KindCard:
		if req.GetETag {
			_ = resp.EncodeProp(http.StatusOK, common.GetETag{ETag: node.ETag()})
		}
		if req.GetContentType {
			_ = resp.EncodeProp(http.StatusOK, common.GetContentType{Type: "text/vcard; charset=utf-8"})
		}
		if req.AddressData && node.Card != nil {
			data := node.Card.Raw
			if data == "" {
				if enc, err := vcardutil.Encode(node.Card.Card); err == nil {
					data = enc
				}
			}
			_ = resp.EncodeProp(http.StatusOK, common.AddressData{Data: data})
		}
	case webdav.KindCollection:
		rt := common.ResourceType{Collection: &struct{}{}}
		if node.Col != nil && node.Col.AddressBook {
			rt.Addressbook = &struct{}{}
		}
		_ = resp.EncodeProp(http.StatusOK, rt)
		if req.GetETag {
			_ = resp.EncodeProp(http.StatusOK, common.GetETag{ETag: node.WeakETag()})
		}
	case webdav.KindResource:
		if req.GetETag {
			_ = resp.EncodeProp(http.StatusOK, common.GetETag{ETag: node.ETag()})
		}
		if req.GetContentType && node.Res != nil && node.Res.ContentType != "" {
			_ = resp.EncodeProp(http.StatusOK, common.GetContentType{Type: node.Res.ContentType})
		}
	}
	return resp
}
