package common

import (
	"encoding/xml"
	"strings"

	"github.com/averlon/carddavd/internal/carddav/filter"
)

// PropContainer captures a requested DAV: prop block without
// interpreting the individual elements yet.
type PropContainer struct {
	Raw []RawXMLValue `xml:",any"`
}

// PropRequest is the interpreted form of a requested prop block.
type PropRequest struct {
	GetETag         bool
	GetContentType  bool
	GetLastModified bool
	DisplayName     bool
	ResourceType    bool
	AddressData     bool
}

// ParsePropRequest reads which properties the client asked for. A nil
// block means everything.
func ParsePropRequest(p *PropContainer) PropRequest {
	if p == nil {
		return PropRequest{
			GetETag:         true,
			GetContentType:  true,
			GetLastModified: true,
			DisplayName:     true,
			ResourceType:    true,
			AddressData:     true,
		}
	}
	var req PropRequest
	for _, raw := range p.Raw {
		switch raw.XMLName.Local {
		case "getetag":
			req.GetETag = true
		case "getcontenttype":
			req.GetContentType = true
		case "getlastmodified":
			req.GetLastModified = true
		case "displayname":
			req.DisplayName = true
		case "resourcetype":
			req.ResourceType = true
		case "address-data":
			req.AddressData = true
		}
	}
	return req
}

type TextMatchXML struct {
	Collation       string `xml:"collation,attr"`
	MatchType       string `xml:"match-type,attr"`
	NegateCondition string `xml:"negate-condition,attr"`
	Value           string `xml:",chardata"`
}

type PropFilterXML struct {
	Name    string         `xml:"name,attr"`
	Test    string         `xml:"test,attr"`
	Matches []TextMatchXML `xml:"text-match"`
}

type FilterXML struct {
	Test  string          `xml:"test,attr"`
	Props []PropFilterXML `xml:"prop-filter"`
}

type LimitXML struct {
	NResults int `xml:"nresults"`
}

type AddressbookQuery struct {
	XMLName xml.Name       `xml:"urn:ietf:params:xml:ns:carddav addressbook-query"`
	Prop    *PropContainer `xml:"DAV: prop"`
	Filter  *FilterXML     `xml:"urn:ietf:params:xml:ns:carddav filter"`
	Limit   *LimitXML      `xml:"urn:ietf:params:xml:ns:carddav limit"`
}

type AddressbookMultiget struct {
	XMLName xml.Name       `xml:"urn:ietf:params:xml:ns:carddav addressbook-multiget"`
	Prop    *PropContainer `xml:"DAV: prop"`
	Hrefs   []Href         `xml:"DAV: href"`
}

type Propfind struct {
	XMLName  xml.Name       `xml:"DAV: propfind"`
	Prop     *PropContainer `xml:"DAV: prop"`
	AllProp  *struct{}      `xml:"DAV: allprop"`
	PropName *struct{}      `xml:"DAV: propname"`
}

// BuildFilter turns the wire filter into its evaluator form. A missing
// filter element matches everything. A prop-filter with no text-match
// only names the property and constrains nothing.
func BuildFilter(fx *FilterXML) *filter.Filter {
	if fx == nil {
		return nil
	}
	f := &filter.Filter{Test: filter.ParseTest(fx.Test)}
	for _, px := range fx.Props {
		pf := &filter.PropFilter{
			Name: px.Name,
			Test: filter.ParseTest(px.Test),
		}
		if len(px.Matches) > 0 {
			mx := px.Matches[0]
			pf.Match = &filter.TextMatch{
				Value:     mx.Value,
				MatchType: filter.ParseMatchType(mx.MatchType),
				Caseless:  !strings.EqualFold(mx.Collation, "i;octet"),
				Negate:    strings.EqualFold(mx.NegateCondition, "yes"),
			}
		}
		f.Props = append(f.Props, pf)
	}
	return f
}

// QueryLimit extracts the client's requested result cap, nil when
// absent or non-positive.
func QueryLimit(lx *LimitXML) *int {
	if lx == nil || lx.NResults <= 0 {
		return nil
	}
	n := lx.NResults
	return &n
}
