package domain

import "strings"

const (
	DefaultPerPage = 15

	SortAsc  = "asc"
	SortDesc = "desc"

	SortTitle  = "title"
	SortSentAt = "sentAt"
)

// SortableFields is the allow-list of sort keys honoured by Search.
var SortableFields = []string{SortTitle, SortSentAt}

// IsSortable reports whether field is in SortableFields.
func IsSortable(field string) bool {
	for _, f := range SortableFields {
		if f == field {
			return true
		}
	}
	return false
}

// SearchInput holds raw, possibly empty, query values.
type SearchInput struct {
	Page    int
	PerPage int
	Sort    string
	SortDir string
	Filter  string
}

// SearchParams is a normalized query. Build it with NewSearchParams.
type SearchParams struct {
	Page    int    `json:"page"`
	PerPage int    `json:"perPage"`
	Sort    string `json:"sort,omitempty"`
	SortDir string `json:"sortDir,omitempty"`
	Filter  string `json:"filter,omitempty"`
}

// NewSearchParams normalizes in: page and perPage fall back to 1 and 15,
// sortDir defaults to desc and is dropped when no sort field is given.
func NewSearchParams(in SearchInput) SearchParams {
	p := SearchParams{
		Page:    in.Page,
		PerPage: in.PerPage,
		Sort:    strings.TrimSpace(in.Sort),
		Filter:  strings.TrimSpace(in.Filter),
	}
	if p.Page <= 0 {
		p.Page = 1
	}
	if p.PerPage <= 0 {
		p.PerPage = DefaultPerPage
	}
	if p.Sort != "" {
		p.SortDir = SortDesc
		if strings.EqualFold(strings.TrimSpace(in.SortDir), SortAsc) {
			p.SortDir = SortAsc
		}
	}
	return p
}

// Offset is the number of rows skipped before the current page.
func (p SearchParams) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// Ordering resolves the effective sort: unknown or empty fields fall back to sentAt desc.
func (p SearchParams) Ordering() (field, dir string) {
	if !IsSortable(p.Sort) {
		return SortSentAt, SortDesc
	}
	return p.Sort, p.SortDir
}

// SearchResult is one page of notifications plus pagination metadata.
type SearchResult struct {
	Items       []*Notification `json:"items"`
	Total       int             `json:"total"`
	CurrentPage int             `json:"currentPage"`
	PerPage     int             `json:"perPage"`
	LastPage    int             `json:"lastPage"`
	Sort        string          `json:"sort,omitempty"`
	SortDir     string          `json:"sortDir,omitempty"`
	Filter      string          `json:"filter,omitempty"`
}

// NewSearchResult echoes params and derives LastPage as ceil(total/perPage).
func NewSearchResult(items []*Notification, total int, p SearchParams) SearchResult {
	if items == nil {
		items = []*Notification{}
	}
	return SearchResult{
		Items:       items,
		Total:       total,
		CurrentPage: p.Page,
		PerPage:     p.PerPage,
		LastPage:    (total + p.PerPage - 1) / p.PerPage,
		Sort:        p.Sort,
		SortDir:     p.SortDir,
		Filter:      p.Filter,
	}
}
