package model

import (
	"math"
	"strings"
)

// DefaultPerPage is the page size of a list request that does not set one.
const DefaultPerPage = 100

// ListFilter holds criteria for querying records of one kind.
type ListFilter struct {
	Fields      map[string]string `json:"fields,omitempty"`       // exact match, ANDed
	FuzzyFields map[string]string `json:"fuzzy_fields,omitempty"` // case-insensitive substring, ORed
	Sort        string            `json:"sort,omitempty"`         // e.g. "-created_at", "name"; prefix "-" = descending
	Page        int               `json:"page,omitempty"`         // 1-based
	PerPage     int               `json:"per_page,omitempty"`     // 0 = no limit (internal callers only)

	// IncludeDeleting also returns records in LifecycleDeleting.
	IncludeDeleting bool `json:"include_deleting,omitempty"`
}

// Offset returns the row offset for the filter's page.
func (f ListFilter) Offset() int {
	if f.PerPage <= 0 || f.Page <= 1 {
		return 0
	}
	return (f.Page - 1) * f.PerPage
}

// Pagination describes one page of a listing.
type Pagination struct {
	Page      int `json:"page"`
	PerPage   int `json:"perPage"`
	Total     int `json:"total"`
	TotalPage int `json:"totalPage"`
}

// NewPagination computes totalPage = ceil(total/perPage).
func NewPagination(page, perPage, total int) Pagination {
	p := Pagination{Page: page, PerPage: perPage, Total: total}
	if perPage > 0 {
		p.TotalPage = int(math.Ceil(float64(total) / float64(perPage)))
	} else if total > 0 {
		p.TotalPage = 1
	}
	return p
}

// Matches reports whether rec passes the exact and fuzzy criteria of f.
// A missing attribute never matches an exact filter and reads as the empty
// string for fuzzy filters.
func (f ListFilter) Matches(rec Record) bool {
	return MatchFields(rec, f.Fields) && MatchFuzzyFields(rec, f.FuzzyFields)
}

// MatchFields reports whether every exact field equals rec's attribute.
func MatchFields(rec Record, fields map[string]string) bool {
	for k, want := range fields {
		got, ok := rec.Field(k)
		if !ok || got != want {
			return false
		}
	}
	return true
}

// MatchFuzzyFields reports whether any fuzzy field is a case-insensitive
// substring of rec's attribute. An empty set matches.
func MatchFuzzyFields(rec Record, fuzzy map[string]string) bool {
	if len(fuzzy) == 0 {
		return true
	}
	for k, want := range fuzzy {
		got, _ := rec.Field(k)
		if strings.Contains(strings.ToLower(got), strings.ToLower(want)) {
			return true
		}
	}
	return false
}
