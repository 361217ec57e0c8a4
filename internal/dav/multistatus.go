package dav

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// Multistatus is a parsed WebDAV 207 multistatus response body.
type Multistatus struct {
	XMLName   xml.Name     `xml:"DAV: multistatus"`
	Responses []MSResponse `xml:"response"`
	SyncToken string       `xml:"sync-token"`
}

// MSResponse is one per-resource entry of a multistatus response.
type MSResponse struct {
	Href      string       `xml:"href"`
	Propstats []MSPropstat `xml:"propstat"`
	Status    string       `xml:"status"`
}

// MSPropstat groups properties that share one status.
type MSPropstat struct {
	Prop   MSProp `xml:"prop"`
	Status string `xml:"status"`
}

// MSProp carries the WebDAV properties the sync engine cares about.
type MSProp struct {
	GetETag      string           `xml:"getetag"`
	GetCTag      string           `xml:"http://calendarserver.org/ns/ getctag"`
	SyncToken    string           `xml:"sync-token"`
	ContentType  string           `xml:"getcontenttype"`
	CalendarData string           `xml:"urn:ietf:params:xml:ns:caldav calendar-data"`
	AddressData  string           `xml:"urn:ietf:params:xml:ns:carddav address-data"`
	ResourceType *MSResourceType  `xml:"resourcetype"`
}

// MSResourceType marks collection resources in listings.
type MSResourceType struct {
	Collection *struct{} `xml:"collection"`
}

// ParseMultistatus parses a 207 response body.
func ParseMultistatus(body []byte) (*Multistatus, error) {
	var ms Multistatus
	if err := xml.Unmarshal(body, &ms); err != nil {
		return nil, fmt.Errorf("%w: failed to parse multistatus: %w", ErrInvalidResponse, err)
	}
	return &ms, nil
}

// StatusCode returns the per-resource HTTP status. The response-level status
// wins (used by sync-collection for removed resources); otherwise the first
// propstat status applies. Zero means no status was present.
func (r *MSResponse) StatusCode() int {
	if code := parseStatusLine(r.Status); code != 0 {
		return code
	}
	for _, ps := range r.Propstats {
		if code := parseStatusLine(ps.Status); code != 0 {
			return code
		}
	}
	return 0
}

// ETag returns the entity tag reported for this resource, if any.
func (r *MSResponse) ETag() string {
	for _, ps := range r.Propstats {
		if ps.Prop.GetETag != "" {
			return ps.Prop.GetETag
		}
	}
	return ""
}

// Payload returns the inlined calendar or address data for this resource.
func (r *MSResponse) Payload() string {
	for _, ps := range r.Propstats {
		if ps.Prop.CalendarData != "" {
			return ps.Prop.CalendarData
		}
		if ps.Prop.AddressData != "" {
			return ps.Prop.AddressData
		}
	}
	return ""
}

// IsCollection reports whether the resource is a collection (the listing
// includes the collection itself at Depth 1).
func (r *MSResponse) IsCollection() bool {
	for _, ps := range r.Propstats {
		if ps.Prop.ResourceType != nil && ps.Prop.ResourceType.Collection != nil {
			return true
		}
	}
	return false
}

// parseStatusLine extracts the status code from a line like "HTTP/1.1 404 Not Found".
func parseStatusLine(line string) int {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) < 2 {
		return 0
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0
	}
	return code
}

// PropfindListingBody requests member etags and content types (Depth 1).
const PropfindListingBody = `<?xml version="1.0" encoding="utf-8" ?>
<D:propfind xmlns:D="DAV:">
  <D:prop>
    <D:getetag/>
    <D:getcontenttype/>
    <D:resourcetype/>
  </D:prop>
</D:propfind>`

// PropfindTokenBody requests the collection change tokens (Depth 0).
const PropfindTokenBody = `<?xml version="1.0" encoding="utf-8" ?>
<D:propfind xmlns:D="DAV:" xmlns:CS="http://calendarserver.org/ns/">
  <D:prop>
    <CS:getctag/>
    <D:sync-token/>
  </D:prop>
</D:propfind>`

// SyncCollectionBody builds an RFC 6578 sync-collection REPORT request.
// An empty token asks for the full change set plus an initial token.
func SyncCollectionBody(syncToken string) string {
	tokenElement := "<D:sync-token/>"
	if syncToken != "" {
		tokenElement = fmt.Sprintf("<D:sync-token>%s</D:sync-token>", xmlEscape(syncToken))
	}

	return fmt.Sprintf(`<?xml version="1.0" encoding="utf-8" ?>
<D:sync-collection xmlns:D="DAV:">
  %s
  <D:sync-level>1</D:sync-level>
  <D:prop>
    <D:getetag/>
  </D:prop>
</D:sync-collection>`, tokenElement)
}

// CalendarMultigetBody builds a calendar-multiget REPORT for a batch of hrefs.
func CalendarMultigetBody(hrefs []string) string {
	return multigetBody("C:calendar-multiget", `xmlns:C="urn:ietf:params:xml:ns:caldav"`, "C:calendar-data", hrefs)
}

// AddressbookMultigetBody builds an addressbook-multiget REPORT for a batch of hrefs.
func AddressbookMultigetBody(hrefs []string) string {
	return multigetBody("C:addressbook-multiget", `xmlns:C="urn:ietf:params:xml:ns:carddav"`, "C:address-data", hrefs)
}

func multigetBody(element, ns, dataProp string, hrefs []string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="utf-8" ?>` + "\n")
	fmt.Fprintf(&b, `<%s xmlns:D="DAV:" %s>`+"\n", element, ns)
	b.WriteString("  <D:prop>\n    <D:getetag/>\n")
	fmt.Fprintf(&b, "    <%s/>\n", dataProp)
	b.WriteString("  </D:prop>\n")
	for _, href := range hrefs {
		fmt.Fprintf(&b, "  <D:href>%s</D:href>\n", xmlEscape(href))
	}
	fmt.Fprintf(&b, "</%s>", element)
	return b.String()
}

func xmlEscape(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "'", "&apos;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	return s
}
