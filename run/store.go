package run

import (
	"context"
	"time"
)

// Store persists runs. Implementations serialize appends on one run and
// return copies the caller may keep.
type Store interface {
	// Create persists a new run.
	Create(ctx context.Context, r *Run) error
	// AppendOutcome adds one outcome to an IN_PROGRESS run.
	AppendOutcome(ctx context.Context, id string, o Outcome) error
	// Finalize moves the run to its terminal status and returns it.
	Finalize(ctx context.Context, id string, totalSources int, completedAt time.Time) (*Run, error)
	// Get returns the run or a NOT_FOUND error.
	Get(ctx context.Context, id string) (*Run, error)
	// ListByOwner pages through runs newest first. An empty owner lists every run.
	ListByOwner(ctx context.Context, ownerID string, page, size int) ([]*Run, int64, error)
	// ListStale returns IN_PROGRESS runs started before olderThan.
	ListStale(ctx context.Context, olderThan time.Time) ([]*Run, error)
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Pagination is the paging metadata for a list call.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// NormalizePage clamps page to >= 1 and size to 1..MaxPageSize.
func NormalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return page, size
}

// Offset returns the number of items before page.
func Offset(page, size int) int {
	page, size = NormalizePage(page, size)
	return (page - 1) * size
}

// NewPagination builds paging metadata.
func NewPagination(page, size int, total int64) Pagination {
	page, size = NormalizePage(page, size)
	pages := int((total + int64(size) - 1) / int64(size))
	if pages < 1 {
		pages = 1
	}
	return Pagination{Page: page, PageSize: size, Total: total, TotalPages: pages}
}
