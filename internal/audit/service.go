package audit

import (
	"context"
	"fmt"
)

const (
	defaultPageSize = 20
	maxPageSize     = 50
)

// PagingInfo describes the window a Timeline call returned.
type PagingInfo struct {
	Page     int
	PageSize int
	HasNext  bool
	PrevPage int
	NextPage int
}

// Result wraps timeline rows with paging information.
type Result struct {
	Rows   []Entry
	Paging PagingInfo
}

// Service coordinates audit timeline reads.
type Service struct {
	repo Repository
}

// NewService constructs an audit timeline service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Timeline fetches audit entries with paging. One extra row is requested to
// detect whether a next page exists.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize

	rows, err := s.repo.TimelineWindow(ctx, filters, pageSize+1, offset)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}
