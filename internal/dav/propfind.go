package dav

import (
	"encoding/xml"
	"io"
	"net/http"

	"github.com/averlon/carddavd/internal/acl"
	"github.com/averlon/carddavd/internal/dav/common"
	"github.com/averlon/carddavd/internal/webdav"
)

func (h *Handlers) Propfind(w http.ResponseWriter, r *http.Request) {
	i, release, ok := h.intf(w, r)
	if !ok {
		return
	}
	defer release()

	depth := r.Header.Get("Depth")
	if depth == "" {
		depth = "0"
	}
	if depth != "0" && depth != "1" {
		h.writeError(w, r, webdav.Forbidden("Depth: infinity is not supported"))
		return
	}

	var pf common.Propfind
	if r.ContentLength != 0 {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			h.writeError(w, r, webdav.ServerError("read body: %v", err))
			return
		}
		if len(body) > 0 {
			if err := xml.Unmarshal(body, &pf); err != nil {
				h.writeError(w, r, webdav.BadRequest("malformed propfind body"))
				return
			}
		}
	}
	req := common.ParsePropRequest(pf.Prop)
	if pf.AllProp != nil {
		req = common.ParsePropRequest(nil)
	}

	ref, err := i.Resolve(r.Context(), h.davPath(r), webdav.MustExist, webdav.HintUnknown)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var resps []common.Response
	resps = append(resps, h.nodeResponse(r, i, ref, req))

	if depth == "1" && ref.Kind == webdav.KindCollection {
		children, err := i.BE.Collections(r.Context(), ref.Col)
		if err != nil {
			h.writeError(w, r, webdav.ServerError("child collections: %v", err))
			return
		}
		for _, child := range children.Collections {
			cref := &webdav.Ref{Kind: webdav.KindCollection, Path: child.Path, Exists: true, Col: child}
			resps = append(resps, h.nodeResponse(r, i, cref, req))
		}
		if ref.Col.AddressBook {
			qr, err := i.QueryReport(r.Context(), ref, nil, nil)
			if err != nil {
				h.writeError(w, r, err)
				return
			}
			for _, node := range qr.Nodes {
				resps = append(resps, h.nodeResponse(r, i, node, req))
			}
		}
	}

	ms := common.MultiStatus{Responses: resps}
	if err := common.ServeMultiStatus(w, &ms); err != nil {
		h.logger.Error().Err(err).Msg("failed to serve multistatus")
	}
}

func (h *Handlers) nodeResponse(r *http.Request, i *webdav.Intf, ref *webdav.Ref, req common.PropRequest) common.Response {
	resp := common.Response{Hrefs: []common.Href{{Value: h.basePath + ref.Path}}}
	pr := common.MustPrincipal(r.Context())

	switch ref.Kind {
	case webdav.KindPrincipal:
		_ = resp.EncodeProp(http.StatusOK, common.ResourceType{Principal: &struct{}{}})
		if req.DisplayName && ref.Principal != nil {
			_ = resp.EncodeProp(http.StatusOK, common.DisplayName{Name: ref.Principal.DisplayName})
		}
		_ = resp.EncodeProp(http.StatusOK, common.CurrentUserPrincipal{
			Href: &common.Href{Value: common.PrincipalURL(h.basePath, pr.UserID)},
		})
		_ = resp.EncodeProp(http.StatusOK, common.AddressbookHomeSet{
			Href: &common.Href{Value: common.AddressbookHome(h.basePath, pr.UserID)},
		})
	case webdav.KindCollection:
		rt := common.ResourceType{Collection: &struct{}{}}
		if ref.Col.AddressBook {
			rt.Addressbook = &struct{}{}
		}
		if req.ResourceType {
			_ = resp.EncodeProp(http.StatusOK, rt)
		}
		if req.DisplayName {
			name := ref.Col.DisplayName
			if name == "" {
				name = ref.Col.Name
			}
			_ = resp.EncodeProp(http.StatusOK, common.DisplayName{Name: name})
		}
		if req.GetETag {
			_ = resp.EncodeProp(http.StatusOK, common.GetETag{ETag: ref.WeakETag()})
		}
		if ref.Col.Owner != "" {
			_ = resp.EncodeProp(http.StatusOK, common.Owner{
				Href: &common.Href{Value: common.PrincipalURL(h.basePath, ref.Col.Owner)},
			})
		}
		if ref.Col.AddressBook {
			if ref.Col.Description != "" {
				_ = resp.EncodeProp(http.StatusOK, common.AddressbookDescription{Description: ref.Col.Description})
			}
			_ = resp.EncodeProp(http.StatusOK, common.SupportedReportSet{
				Reports: []common.SupportedReport{
					{Report: common.Report{Query: &struct{}{}}},
					{Report: common.Report{Multiget: &struct{}{}}},
				},
			})
			_ = resp.EncodeProp(http.StatusOK, common.SupportedAddressData{
				Types: []common.AddressDataType{
					{ContentType: "text/vcard", Version: "3.0"},
					{ContentType: "text/vcard", Version: "4.0"},
				},
			})
			if ca, err := i.CheckAccess(r.Context(), pr.UserID, ref, acl.PrivAny, true); err == nil {
				_ = resp.EncodeProp(http.StatusOK, privilegeSet(ca.Acl))
			}
		}
	case webdav.KindCard:
		if req.GetETag {
			_ = resp.EncodeProp(http.StatusOK, common.GetETag{ETag: ref.ETag()})
		}
		if req.GetContentType {
			_ = resp.EncodeProp(http.StatusOK, common.GetContentType{Type: "text/vcard; charset=utf-8"})
		}
		if req.ResourceType {
			_ = resp.EncodeProp(http.StatusOK, common.ResourceType{})
		}
	case webdav.KindResource:
		if req.GetETag {
			_ = resp.EncodeProp(http.StatusOK, common.GetETag{ETag: ref.ETag()})
		}
		if req.GetContentType && ref.Res.ContentType != "" {
			_ = resp.EncodeProp(http.StatusOK, common.GetContentType{Type: ref.Res.ContentType})
		}
		if ref.Res.ContentLength > 0 {
			_ = resp.EncodeProp(http.StatusOK, common.GetContentLength{Length: ref.Res.ContentLength})
		}
		if req.ResourceType {
			_ = resp.EncodeProp(http.StatusOK, common.ResourceType{})
		}
	}
	return resp
}

func privilegeSet(e acl.Effective) common.CurrentUserPrivilegeSet {
	var ps []common.Privilege
	if e.Read {
		ps = append(ps, common.Privilege{Read: &struct{}{}})
	}
	if e.WriteProps {
		ps = append(ps, common.Privilege{WriteProps: &struct{}{}})
	}
	if e.WriteContent {
		ps = append(ps, common.Privilege{WriteContent: &struct{}{}})
	}
	if e.Bind {
		ps = append(ps, common.Privilege{Bind: &struct{}{}})
	}
	if e.Unbind {
		ps = append(ps, common.Privilege{Unbind: &struct{}{}})
	}
	if e.ReadACL {
		ps = append(ps, common.Privilege{ReadACL: &struct{}{}})
	}
	return common.CurrentUserPrivilegeSet{Privilege: ps}
}
