package ddf

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
)

// PageSize is the number of records requested per upstream page.
const PageSize = 100

// DefaultSelect is the field list requested for searches. Lookups omit
// $select so the full record is relayed.
var DefaultSelect = []string{
	"ListingKey",
	"ListingId",
	"StandardStatus",
	"ListPrice",
	"TotalActualRent",
	"UnparsedAddress",
	"City",
	"StateOrProvince",
	"PostalCode",
	"SubdivisionName",
	"Latitude",
	"Longitude",
	"PropertySubType",
	"CommonInterest",
	"BedroomsTotal",
	"BathroomsTotalInteger",
	"ParkingTotal",
	"ListAgentKey",
	"ListOfficeKey",
	"OriginalEntryTimestamp",
	"ModificationTimestamp",
	"PublicRemarks",
	"Media",
}

// Query is one OData request against the Property resource.
type Query struct {
	Filter  string
	Select  []string
	OrderBy string
	Expand  string
	Top     int
	Skip    int
	Count   bool
}

// Encode renders q as a query string. System query option names keep their
// literal "$" and spaces are sent as %20.
func (q Query) Encode() string {
	var parts []string
	add := func(k, v string) { parts = append(parts, k+"="+escape(v)) }
	if q.Filter != "" {
		add("$filter", q.Filter)
	}
	if len(q.Select) > 0 {
		add("$select", strings.Join(q.Select, ","))
	}
	if q.OrderBy != "" {
		add("$orderby", q.OrderBy)
	}
	if q.Expand != "" {
		add("$expand", q.Expand)
	}
	if q.Top > 0 {
		add("$top", strconv.Itoa(q.Top))
	}
	if q.Skip > 0 {
		add("$skip", strconv.Itoa(q.Skip))
	}
	if q.Count {
		add("$count", "true")
	}
	return strings.Join(parts, "&")
}

func escape(v string) string {
	return strings.ReplaceAll(url.QueryEscape(v), "+", "%20")
}

// Page is one decoded OData collection response.
type Page struct {
	Records  []json.RawMessage `json:"value"`
	Count    *int              `json:"@odata.count,omitempty"`
	NextLink string            `json:"@odata.nextLink,omitempty"`
	// Raw is the undecoded response body.
	Raw []byte `json:"-"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope"`
}
