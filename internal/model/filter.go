package model

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// RecordFilter holds criteria for searching configuration records.
type RecordFilter struct {
	Kind       Kind   `json:"kind,omitempty"`
	Identifier string `json:"identifier,omitempty"`
	CreatedBy  string `json:"created_by,omitempty"`
	ActiveOnly bool   `json:"active_only,omitempty"`
	Page       int    `json:"page,omitempty"` // 1-based
	Size       int    `json:"size,omitempty"`
}

// Normalize fills in paging defaults and clamps the page size.
func (f RecordFilter) Normalize() RecordFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Size <= 0 {
		f.Size = DefaultPageSize
	}
	if f.Size > MaxPageSize {
		f.Size = MaxPageSize
	}
	return f
}

// Offset returns the number of records to skip for the current page.
func (f RecordFilter) Offset() int {
	n := f.Normalize()
	return (n.Page - 1) * n.Size
}

// KindCount reports how many records of a kind exist.
type KindCount struct {
	Kind   Kind `json:"kind"`
	Total  int  `json:"total"`
	Active int  `json:"active"`
}
