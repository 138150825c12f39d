// Package odata turns listing search parameters into OData $filter and $orderby
// expressions for the DDF Property resource.
package odata

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Policy names the base predicate set a search is built from.
type Policy string

const (
	PolicyDefaultActive  Policy = "default-active"
	PolicyFeaturedOffice Policy = "featured-office"
	PolicyBoundingBox    Policy = "bounding-box"
)

const (
	TransactionForSale = "For Sale"
	TransactionForRent = "For Rent"

	activeStatusClause = "StandardStatus eq 'Active'"
	defaultOrderBy     = "OriginalEntryTimestamp desc"
)

// Params are the recognized search parameters, as raw query-string values.
type Params struct {
	City            string
	Bedrooms        string
	Bathrooms       string
	MinPrice        string
	MaxPrice        string
	PropertyType    string
	BuildingType    string
	Parking         string
	Neighborhood    string
	TransactionType string
	North           string
	South           string
	East            string
	West            string
	OfficeKey       string
}

// Options carry server-side defaults that requests cannot override.
type Options struct {
	// CreatedAfter adds an OriginalEntryTimestamp lower bound unless zero.
	CreatedAfter       time.Time
	DefaultTransaction string
}

// Filter is an ordered conjunction of clauses.
type Filter struct {
	Policy  Policy
	Clauses []string
}

func (f Filter) String() string {
	return strings.Join(f.Clauses, " and ")
}

// ValidationError reports a parameter that cannot be safely interpolated.
type ValidationError struct {
	Param  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Param, e.Value, e.Reason)
}

func ParamsFromQuery(q url.Values) Params {
	return Params{
		City:            q.Get("city"),
		Bedrooms:        q.Get("bedrooms"),
		Bathrooms:       q.Get("bathrooms"),
		MinPrice:        q.Get("minPrice"),
		MaxPrice:        q.Get("maxPrice"),
		PropertyType:    q.Get("propertyType"),
		BuildingType:    q.Get("buildingType"),
		Parking:         q.Get("parking"),
		Neighborhood:    q.Get("neighborhood"),
		TransactionType: q.Get("transactionType"),
		North:           q.Get("north"),
		South:           q.Get("south"),
		East:            q.Get("east"),
		West:            q.Get("west"),
		OfficeKey:       q.Get("officeKey"),
	}
}

// SelectPolicy picks the named policy for p. An office key wins over a
// bounding box; the box clauses are still appended in that case.
func SelectPolicy(p Params) Policy {
	switch {
	case present(p.OfficeKey):
		return PolicyFeaturedOffice
	case hasBox(p):
		return PolicyBoundingBox
	default:
		return PolicyDefaultActive
	}
}

// Build assembles the filter for p. Every clause corresponds to one present,
// non-sentinel parameter, except the base clause, the default transaction
// clause and the configured creation cutoff.
func Build(p Params, opts Options) (Filter, error) {
	f := Filter{Policy: SelectPolicy(p)}
	add := func(c string) { f.Clauses = append(f.Clauses, c) }

	switch {
	case present(p.OfficeKey):
		add("ListOfficeKey eq " + Literal(clean(p.OfficeKey)))
	case present(p.City):
		add("City eq " + Literal(clean(p.City)))
	default:
		add(activeStatusClause)
	}

	if hasBox(p) {
		box, err := boxClauses(p)
		if err != nil {
			return Filter{}, err
		}
		f.Clauses = append(f.Clauses, box...)
	}

	tx, err := transactionClause(p.TransactionType, opts.DefaultTransaction)
	if err != nil {
		return Filter{}, err
	}
	add(tx)

	if present(p.Bedrooms) {
		c, err := countClause("bedrooms", "BedroomsTotal", p.Bedrooms)
		if err != nil {
			return Filter{}, err
		}
		add(c)
	}
	if present(p.Bathrooms) {
		c, err := countClause("bathrooms", "BathroomsTotalInteger", p.Bathrooms)
		if err != nil {
			return Filter{}, err
		}
		add(c)
	}
	if present(p.MinPrice) {
		v, err := price("minPrice", p.MinPrice)
		if err != nil {
			return Filter{}, err
		}
		if v != "" {
			add("ListPrice ge " + v)
		}
	}
	if present(p.MaxPrice) {
		v, err := price("maxPrice", p.MaxPrice)
		if err != nil {
			return Filter{}, err
		}
		if v != "" {
			add("ListPrice le " + v)
		}
	}
	if present(p.PropertyType) {
		add("PropertySubType eq " + Literal(clean(p.PropertyType)))
	}
	if present(p.BuildingType) {
		add("CommonInterest eq " + Literal(clean(p.BuildingType)))
	}
	if present(p.Parking) {
		n, err := wholeNumber("parking", clean(p.Parking))
		if err != nil {
			return Filter{}, err
		}
		add("ParkingTotal ge " + strconv.Itoa(n))
	}
	if present(p.Neighborhood) {
		add("SubdivisionName eq " + Literal(clean(p.Neighborhood)))
	}
	if !opts.CreatedAfter.IsZero() {
		add("OriginalEntryTimestamp ge " + opts.CreatedAfter.UTC().Format(time.RFC3339))
	}
	return f, nil
}

// ListingKey builds the single-record lookup filter.
func ListingKey(key string) string {
	return "ListingKey eq " + Literal(strings.TrimSpace(key))
}

// Literal quotes s as an OData string literal, doubling embedded quotes.
func Literal(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

var sortOrders = map[string]string{
	"newest":     "OriginalEntryTimestamp desc",
	"oldest":     "OriginalEntryTimestamp asc",
	"price_asc":  "ListPrice asc",
	"price_desc": "ListPrice desc",
}

// OrderBy maps a sort keyword to an $orderby expression.
func OrderBy(sort string) (string, error) {
	if !present(sort) {
		return defaultOrderBy, nil
	}
	if ob, ok := sortOrders[strings.ToLower(clean(sort))]; ok {
		return ob, nil
	}
	return "", &ValidationError{Param: "sort", Value: sort, Reason: "must be one of newest, oldest, price_asc, price_desc"}
}

// NormalizeTransaction maps a transaction type in any letter case to
// TransactionForSale or TransactionForRent.
func NormalizeTransaction(v string) (string, bool) {
	switch strings.ToLower(clean(v)) {
	case strings.ToLower(TransactionForSale):
		return TransactionForSale, true
	case strings.ToLower(TransactionForRent):
		return TransactionForRent, true
	default:
		return "", false
	}
}

func transactionClause(raw, def string) (string, error) {
	v := raw
	if !present(v) {
		v = def
	}
	if clean(v) == "" {
		return "ListPrice ne null", nil
	}
	t, ok := NormalizeTransaction(v)
	if !ok {
		return "", &ValidationError{Param: "transactionType", Value: raw, Reason: "must be \"For Sale\" or \"For Rent\""}
	}
	if t == TransactionForRent {
		return "TotalActualRent ne null", nil
	}
	return "ListPrice ne null", nil
}

// countClause maps "N+" to ge and "N" to eq.
func countClause(param, field, raw string) (string, error) {
	v := clean(raw)
	op := "eq"
	if strings.HasSuffix(v, "+") {
		op = "ge"
		v = strings.TrimSpace(strings.TrimSuffix(v, "+"))
	}
	n, err := wholeNumber(param, v)
	if err != nil {
		return "", &ValidationError{Param: param, Value: raw, Reason: "must be a whole number, optionally followed by +"}
	}
	return fmt.Sprintf("%s %s %d", field, op, n), nil
}

func wholeNumber(param, v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, &ValidationError{Param: param, Value: v, Reason: "must be a non-negative whole number"}
	}
	return n, nil
}

// price returns "" for zero-equivalent values so the caller can skip them.
func price(param, raw string) (string, error) {
	f, err := strconv.ParseFloat(clean(raw), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return "", &ValidationError{Param: param, Value: raw, Reason: "must be a non-negative number"}
	}
	if f == 0 {
		return "", nil
	}
	return strconv.FormatFloat(f, 'f', -1, 64), nil
}

func boxClauses(p Params) ([]string, error) {
	coords := []struct {
		param, raw, field, op string
		limit               float64
	}{
		{"north", p.North, "Latitude", "le", 90},
		{"south", p.South, "Latitude", "ge", 90},
		{"east", p.East, "Longitude", "le", 180},
		{"west", p.West, "Longitude", "ge", 180},
	}
	out := make([]string, 0, len(coords))
	for _, c := range coords {
		f, err := strconv.ParseFloat(clean(c.raw), 64)
		if err != nil || math.IsNaN(f) || math.Abs(f) > c.limit {
			return nil, &ValidationError{Param: c.param, Value: c.raw, Reason: fmt.Sprintf("must be a number between -%g and %g", c.limit, c.limit)}
		}
		out = append(out, fmt.Sprintf("%s %s %s", c.field, c.op, strconv.FormatFloat(f, 'f', -1, 64)))
	}
	return out, nil
}

func hasBox(p Params) bool {
	return present(p.North) && present(p.South) && present(p.East) && present(p.West)
}

// present reports whether v carries a value; "any" and "all" mean no constraint.
func present(v string) bool {
	switch strings.ToLower(clean(v)) {
	case "", "any", "all":
		return false
	default:
		return true
	}
}

func clean(v string) string { return strings.TrimSpace(v) }
