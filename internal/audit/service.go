package audit

import (
	"context"
	"errors"
	"strings"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	maxExportRows   = 10000
)

// ErrInstitutionRequired is returned when a query is not scoped to an institution.
var ErrInstitutionRequired = errors.New("audit: institution id is required")

// Repository reads audit_logs.
type Repository interface {
	Timeline(ctx context.Context, q Query) ([]TimelineRow, error)
}

// Result wraps a timeline page.
type Result struct {
	Rows   []TimelineRow `json:"items"`
	Paging PagingInfo    `json:"paging"`
}

// Service serves the ledger audit trail.
type Service struct {
	repo Repository
}

// NewService builds the audit timeline service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Timeline returns one page, newest first.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, errors.New("audit: repository not configured")
	}
	filters = normalize(filters)
	if filters.InstitutionID == "" {
		return Result{}, ErrInstitutionRequired
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
	filters.Page, filters.PageSize = page, pageSize

	rows, err := s.repo.Timeline(ctx, Query{TimelineFilters: filters, Offset: (page - 1) * pageSize, Limit: pageSize + 1})
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	if rows == nil {
		rows = []TimelineRow{}
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

// Export returns every matching row up to a hard cap.
func (s *Service) Export(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	if s.repo == nil {
		return nil, errors.New("audit: repository not configured")
	}
	filters = normalize(filters)
	if filters.InstitutionID == "" {
		return nil, ErrInstitutionRequired
	}
	return s.repo.Timeline(ctx, Query{TimelineFilters: filters, Limit: maxExportRows})
}

func normalize(f TimelineFilters) TimelineFilters {
	f.InstitutionID = strings.TrimSpace(f.InstitutionID)
	f.Actor = strings.TrimSpace(f.Actor)
	f.Entity = strings.TrimSpace(f.Entity)
	f.EntityID = strings.TrimSpace(f.EntityID)
	f.Action = strings.TrimSpace(f.Action)
	return f
}
