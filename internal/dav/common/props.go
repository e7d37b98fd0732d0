package common

import "encoding/xml"

// Response property elements. Each marshals as one child of DAV: prop.

type DisplayName struct {
	XMLName xml.Name `xml:"DAV: displayname"`
	Name    string   `xml:",chardata"`
}

type ResourceType struct {
	XMLName     xml.Name  `xml:"DAV: resourcetype"`
	Collection  *struct{} `xml:"DAV: collection,omitempty"`
	Addressbook *struct{} `xml:"urn:ietf:params:xml:ns:carddav addressbook,omitempty"`
	Principal   *struct{} `xml:"DAV: principal,omitempty"`
}

type GetETag struct {
	XMLName xml.Name `xml:"DAV: getetag"`
	ETag    string   `xml:",chardata"`
}

type GetContentType struct {
	XMLName xml.Name `xml:"DAV: getcontenttype"`
	Type    string   `xml:",chardata"`
}

type GetContentLength struct {
	XMLName xml.Name `xml:"DAV: getcontentlength"`
	Length  int64    `xml:",chardata"`
}

type GetLastModified struct {
	XMLName      xml.Name `xml:"DAV: getlastmodified"`
	LastModified string   `xml:",chardata"`
}

type Owner struct {
	XMLName xml.Name `xml:"DAV: owner"`
	Href    *Href    `xml:"DAV: href,omitempty"`
}

type CurrentUserPrincipal struct {
	XMLName xml.Name `xml:"DAV: current-user-principal"`
	Href    *Href    `xml:"DAV: href,omitempty"`
}

type AddressbookHomeSet struct {
	XMLName xml.Name `xml:"urn:ietf:params:xml:ns:carddav addressbook-home-set"`
	Href    *Href    `xml:"DAV: href,omitempty"`
}

type AddressbookDescription struct {
	XMLName     xml.Name `xml:"urn:ietf:params:xml:ns:carddav addressbook-description"`
	Description string   `xml:",chardata"`
}

type SupportedReportSet struct {
	XMLName xml.Name          `xml:"DAV: supported-report-set"`
	Reports []SupportedReport `xml:"DAV: supported-report"`
}

type SupportedReport struct {
	Report Report `xml:"DAV: report"`
}

type Report struct {
	Query    *struct{} `xml:"urn:ietf:params:xml:ns:carddav addressbook-query,omitempty"`
	Multiget *struct{} `xml:"urn:ietf:params:xml:ns:carddav addressbook-multiget,omitempty"`
}

type Privilege struct {
	All          *struct{} `xml:"DAV: all,omitempty"`
	Read         *struct{} `xml:"DAV: read,omitempty"`
	Write        *struct{} `xml:"DAV: write,omitempty"`
	WriteProps   *struct{} `xml:"DAV: write-properties,omitempty"`
	WriteContent *struct{} `xml:"DAV: write-content,omitempty"`
	Bind         *struct{} `xml:"DAV: bind,omitempty"`
	Unbind       *struct{} `xml:"DAV: unbind,omitempty"`
	ReadACL      *struct{} `xml:"DAV: read-acl,omitempty"`
}

type CurrentUserPrivilegeSet struct {
	XMLName   xml.Name    `xml:"DAV: current-user-privilege-set"`
	Privilege []Privilege `xml:"DAV: privilege"`
}

type SupportedAddressData struct {
	XMLName xml.Name          `xml:"urn:ietf:params:xml:ns:carddav supported-address-data"`
	Types   []AddressDataType `xml:"urn:ietf:params:xml:ns:carddav address-data-type"`
}

type AddressDataType struct {
	ContentType string `xml:"content-type,attr"`
	Version     string `xml:"version,attr"`
}

type AddressData struct {
	XMLName xml.Name `xml:"urn:ietf:params:xml:ns:carddav address-data"`
	Data    string   `xml:",chardata"`
}
