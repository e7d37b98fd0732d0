// Package common holds the WebDAV XML vocabulary shared by the DAV
// handlers: multistatus plumbing, property elements, and REPORT request
// models.
package common

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"net/http"
)

const (
	NSDAV     = "DAV:"
	NSCardDAV = "urn:ietf:params:xml:ns:carddav"
)

type Href struct {
	Value string `xml:",chardata"`
}

// Status renders as the WebDAV status line form, e.g.
// "HTTP/1.1 404 Not Found".
type Status struct {
	Code int
}

func (s Status) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	text := fmt.Sprintf("HTTP/1.1 %d %s", s.Code, http.StatusText(s.Code))
	return e.EncodeElement(text, start)
}

func (s *Status) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var text string
	if err := d.DecodeElement(&text, &start); err != nil {
		return err
	}
	var proto string
	var code int
	if _, err := fmt.Sscanf(text, "%s %d", &proto, &code); err != nil {
		return fmt.Errorf("malformed status line %q", text)
	}
	s.Code = code
	return nil
}

// Prop accumulates already-marshaled property elements.
type Prop struct {
	Inner string `xml:",innerxml"`
}

type PropStat struct {
	Prop   Prop   `xml:"DAV: prop"`
	Status Status `xml:"DAV: status"`
}

type Response struct {
	XMLName   xml.Name   `xml:"DAV: response"`
	Hrefs     []Href     `xml:"DAV: href"`
	PropStats []PropStat `xml:"DAV: propstat,omitempty"`
	Status    *Status    `xml:"DAV: status,omitempty"`
}

// EncodeProp marshals v and files it under the propstat for status.
func (r *Response) EncodeProp(status int, v any) error {
	raw, err := xml.Marshal(v)
	if err != nil {
		return err
	}
	for i := range r.PropStats {
		if r.PropStats[i].Status.Code == status {
			r.PropStats[i].Prop.Inner += string(raw)
			return nil
		}
	}
	r.PropStats = append(r.PropStats, PropStat{
		Prop:   Prop{Inner: string(raw)},
		Status: Status{Code: status},
	})
	return nil
}

type MultiStatus struct {
	XMLName   xml.Name   `xml:"DAV: multistatus"`
	Responses []Response `xml:"DAV: response"`
}

// ServeMultiStatus writes ms as a 207 response.
func ServeMultiStatus(w http.ResponseWriter, ms *MultiStatus) error {
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(http.StatusMultiStatus)
	if _, err := w.Write([]byte(xml.Header)); err != nil {
		return err
	}
	return xml.NewEncoder(w).Encode(ms)
}

// RawXMLValue captures an arbitrary child element of a request body.
type RawXMLValue struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Content string     `xml:",innerxml"`
}

// ReportRoot peeks at the root element of a REPORT body so the handler
// can dispatch before decoding the full document.
func ReportRoot(body []byte) (xml.Name, error) {
	d := xml.NewDecoder(bytes.NewReader(body))
	for {
		tok, err := d.Token()
		if err != nil {
			return xml.Name{}, err
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se.Name, nil
		}
	}
}
