package dav

import (
	"encoding/xml"
)

type mkcolProps struct {
	DisplayName string
	Description string
	Addressbook bool
}

type mkcolXML struct {
	XMLName xml.Name `xml:"DAV: mkcol"`
	Set     struct {
		Prop struct {
			DisplayName  string `xml:"DAV: displayname"`
			Description  string `xml:"urn:ietf:params:xml:ns:carddav addressbook-description"`
			ResourceType struct {
				Addressbook *struct{} `xml:"urn:ietf:params:xml:ns:carddav addressbook"`
			} `xml:"DAV: resourcetype"`
		} `xml:"DAV: prop"`
	} `xml:"DAV: set"`
}

// parseMkcolBody reads the extended MKCOL body; a body that fails to
// parse is treated as a plain collection request.
func parseMkcolBody(body []byte) mkcolProps {
	var mk mkcolXML
	if err := xml.Unmarshal(body, &mk); err != nil {
		return mkcolProps{}
	}
	return mkcolProps{
		DisplayName: mk.Set.Prop.DisplayName,
		Description: mk.Set.Prop.Description,
		Addressbook: mk.Set.Prop.ResourceType.Addressbook != nil,
	}
}
