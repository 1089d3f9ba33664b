package persistence

import "time"

// Actor is an authenticated caller known to the service.
type Actor struct {
	ID         string
	Name       string
	Role       string
	SecretHash string
	CreatedAt  time.Time
}

// Pagination selects one page of an ordered listing. A zero PageSize returns
// every row.
type Pagination struct {
	Page     int
	PageSize int
}

// Enabled reports whether a page window applies.
func (p Pagination) Enabled() bool {
	return p.PageSize > 0
}

// Offset is the number of rows skipped before the page starts.
func (p Pagination) Offset() int {
	if p.Page <= 1 || p.PageSize <= 0 {
		return 0
	}
	return (p.Page - 1) * p.PageSize
}

// Bounds clamps the page window to a listing of total rows.
func (p Pagination) Bounds(total int) (start, end int) {
	if !p.Enabled() {
		return 0, total
	}
	start = min(p.Offset(), total)
	end = min(start+p.PageSize, total)
	return start, end
}
