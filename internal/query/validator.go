// Package query validates untyped search requests into typed queries.
//
// Malformed input is a normal outcome, not a defect: Validate reports every
// problem it finds as a field-level error list and never panics.
package query

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roadmaptools/roadmap-search/internal/roadmap"
)

// Pagination bounds.
const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// SortKeys enumerates the accepted sortBy values. Each carries its direction.
var SortKeys = []string{
	"modified:desc",
	"modified:asc",
	"created:desc",
	"created:asc",
	"retirementDate:asc",
	"retirementDate:desc",
}

// FieldError describes one validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Filters holds the structured constraints of a query. Nil slices and empty
// strings mean "no constraint". Multi-valued filters use AND semantics: a
// record must carry every listed value.
type Filters struct {
	Status            string
	AvailabilityRing  string
	Tags              []string
	Products          []string
	ProductCategories []string
	DateFrom          *time.Time
	DateTo            *time.Time
	RetirementFrom    *time.Time
	RetirementTo      *time.Time
}

// SearchQuery is a fully validated, normalized search request.
type SearchQuery struct {
	Text    string
	Limit   int
	Offset  int
	SortBy  string // empty or a member of SortKeys
	Filters Filters
}

// Validate turns an arbitrary decoded-JSON value into a SearchQuery or a
// non-empty list of field errors. All checks run independently so one call
// reports every problem at once.
func Validate(input any) (*SearchQuery, []FieldError) {
	obj, ok := input.(map[string]any)
	if !ok {
		return nil, []FieldError{{Field: "request", Message: "request must be an object"}}
	}

	q := &SearchQuery{Limit: DefaultLimit}
	var errs []FieldError

	if raw, present := obj["query"]; present {
		if s, ok := raw.(string); ok {
			q.Text = s
		} else {
			errs = append(errs, FieldError{"query", "query must be a string"})
		}
	}

	if raw, present := obj["limit"]; present {
		if n, ok := asNumber(raw); !ok {
			errs = append(errs, FieldError{"limit", "limit must be a number"})
		} else if n < 1 || n > MaxLimit {
			errs = append(errs, FieldError{"limit", fmt.Sprintf("limit must be between 1 and %d", MaxLimit)})
		} else {
			q.Limit = int(n)
		}
	}

	if raw, present := obj["offset"]; present {
		if n, ok := asNumber(raw); !ok {
			errs = append(errs, FieldError{"offset", "offset must be a number"})
		} else if n < 0 {
			errs = append(errs, FieldError{"offset", "offset must be >= 0"})
		} else {
			q.Offset = int(n)
		}
	}

	if raw, present := obj["sortBy"]; present {
		s, ok := raw.(string)
		if ok && knownSortKey(s) {
			q.SortBy = s
		} else {
			errs = append(errs, FieldError{"sortBy",
				"sortBy must be one of: " + strings.Join(SortKeys, ", ")})
		}
	}

	if raw, present := obj["filters"]; present {
		filters, ok := raw.(map[string]any)
		if !ok {
			errs = append(errs, FieldError{"filters", "filters must be an object"})
		} else {
			errs = append(errs, validateFilters(filters, &q.Filters)...)
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return q, nil
}

func validateFilters(obj map[string]any, out *Filters) []FieldError {
	var errs []FieldError

	if raw, present := obj["status"]; present {
		if s, ok := raw.(string); ok {
			out.Status = s
		} else {
			errs = append(errs, FieldError{"filters.status", "status must be a string"})
		}
	}

	if raw, present := obj["availabilityRing"]; present {
		s, ok := raw.(string)
		if ok && roadmap.KnownRing(s) {
			out.AvailabilityRing = s
		} else {
			errs = append(errs, FieldError{"filters.availabilityRing",
				"availabilityRing must be one of: " + strings.Join(roadmap.Rings, ", ")})
		}
	}

	stringLists := []struct {
		key  string
		dest *[]string
	}{
		{"tags", &out.Tags},
		{"products", &out.Products},
		{"productCategories", &out.ProductCategories},
	}
	for _, f := range stringLists {
		raw, present := obj[f.key]
		if !present {
			continue
		}
		values, err := asStringSlice(raw)
		if err != "" {
			errs = append(errs, FieldError{"filters." + f.key, f.key + " " + err})
			continue
		}
		// An explicitly empty list is normalized to absent: both mean
		// "no constraint" downstream.
		if len(values) > 0 {
			*f.dest = values
		}
	}

	dates := []struct {
		key      string
		dest     **time.Time
		endOfDay bool
	}{
		{"dateFrom", &out.DateFrom, false},
		{"dateTo", &out.DateTo, true},
		{"retirementDateFrom", &out.RetirementFrom, false},
		{"retirementDateTo", &out.RetirementTo, true},
	}
	for _, f := range dates {
		raw, present := obj[f.key]
		if !present {
			continue
		}
		s, ok := raw.(string)
		if !ok {
			errs = append(errs, FieldError{"filters." + f.key, f.key + " must be a date string"})
			continue
		}
		t, ok := parseDate(s, f.endOfDay)
		if !ok {
			errs = append(errs, FieldError{"filters." + f.key,
				f.key + " must be a date like 2025-01-31"})
			continue
		}
		*f.dest = t
	}

	return errs
}

func knownSortKey(s string) bool {
	for _, k := range SortKeys {
		if k == s {
			return true
		}
	}
	return false
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// asStringSlice accepts []string directly or a decoded-JSON []any whose
// elements are all strings. Returns a message fragment on failure.
func asStringSlice(v any) ([]string, string) {
	switch list := v.(type) {
	case []string:
		return list, ""
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, "must be an array of strings"
			}
			out = append(out, s)
		}
		return out, ""
	default:
		return nil, "must be an array of strings"
	}
}

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	time.RFC3339,
}

// parseDate applies a lightweight ISO-8601 sanity check: the value must
// contain a date separator and parse under one of the accepted layouts.
// Date-only upper bounds widen to the end of the day so ranges stay
// inclusive.
func parseDate(s string, endOfDay bool) (*time.Time, bool) {
	if !strings.ContainsAny(s, "-/") {
		return nil, false
	}
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if endOfDay && layout != time.RFC3339 {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		t = t.UTC()
		return &t, true
	}
	return nil, false
}
