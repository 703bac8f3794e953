package core

import "math"

const (
	DefaultPerPage = 20
	MaxPerPage     = 100

	// MaxPage keeps the computed OFFSET within a 32-bit integer.
	MaxPage = math.MaxInt32 / MaxPerPage
)

// Page is the requested slice of a listing.
type Page struct {
	Number  int `query:"page"`
	PerPage int `query:"per_page"`
}

// Clean applies defaults and bounds.
func (p *Page) Clean() {
	if p.Number < 1 {
		p.Number = 1
	} else if p.Number > MaxPage {
		p.Number = MaxPage
	}
	if p.PerPage < 1 {
		p.PerPage = DefaultPerPage
	} else if p.PerPage > MaxPerPage {
		p.PerPage = MaxPerPage
	}
}

func (p Page) Limit() int  { return p.PerPage }
func (p Page) Offset() int { return (p.Number - 1) * p.PerPage }

// Paginated wraps one page of results.
type Paginated[T any] struct {
	Data    []T `json:"data"`
	Total   int `json:"total"`
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
}

func NewPaginated[T any](data []T, total int, page Page) Paginated[T] {
	if data == nil {
		data = []T{}
	}
	return Paginated[T]{Data: data, Total: total, Page: page.Number, PerPage: page.PerPage}
}
