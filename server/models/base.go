package models

import (
	"math"
	"time"
)

const (
	MAX_PAGE_SIZE     = 500
	DEFAULT_PAGE_SIZE = 100
)

type BaseModel struct {
	ID        uint      `json:"id,omitempty" gorm:"primarykey"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

type Paging struct {
	Total int64 `json:"total"`
	Page  int64 `json:"page"`
	Pages int64 `json:"pages"`
}

// PageSize clamps a requested page size to [1, MAX_PAGE_SIZE],
// falling back to DEFAULT_PAGE_SIZE for non-positive values.
func PageSize(requested int) int {
	switch {
	case requested > MAX_PAGE_SIZE:
		return MAX_PAGE_SIZE
	case requested <= 0:
		return DEFAULT_PAGE_SIZE
	}
	return requested
}

func NewPaging(page, pageSize, total int64) *Paging {
	paging := &Paging{Page: page, Total: total}
	if paging.Page == 0 {
		paging.Page = 1
	}

	paging.Pages = int64(math.Ceil(float64(paging.Total) / float64(pageSize)))
	if paging.Pages == 0 {
		paging.Pages = 1
	}

	return paging
}
