package domain

import (
	"math"

	"github.com/google/uuid"
)

// Default and maximum page sizes for task listings.
const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Pagination is a 1-based page request.
type Pagination struct {
	Page  int
	Limit int
}

// Normalize clamps the request into a usable range.
func (p Pagination) Normalize() Pagination {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	// Keeps Offset from overflowing.
	if maxPage := math.MaxInt / p.Limit; p.Page > maxPage {
		p.Page = maxPage
	}
	return p
}

// Offset returns the row offset of the page.
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.Limit
}

// Page is one page of a listing together with derived navigation fields.
type Page[T any] struct {
	Items       []T  `json:"items"`
	Total       int  `json:"total"`
	Page        int  `json:"page"`
	Limit       int  `json:"limit"`
	PageCount   int  `json:"page_count"`
	HasNextPage bool `json:"has_next_page"`
	HasPrevPage bool `json:"has_prev_page"`
}

// NewPage derives the navigation fields from total and a normalized request.
func NewPage[T any](items []T, total int, p Pagination) *Page[T] {
	if items == nil {
		items = []T{}
	}
	pageCount := 0
	if p.Limit > 0 {
		pageCount = (total + p.Limit - 1) / p.Limit
	}
	return &Page[T]{
		Items:       items,
		Total:       total,
		Page:        p.Page,
		Limit:       p.Limit,
		PageCount:   pageCount,
		HasNextPage: p.Page < pageCount,
		HasPrevPage: p.Page > 1,
	}
}

// TaskFilter holds equality filters for task listings. Nil means "any".
type TaskFilter struct {
	UserID   *uuid.UUID
	Status   *TaskStatus
	Priority *TaskPriority
}

// TaskStats are aggregate counts over the task table.
type TaskStats struct {
	Total        int `json:"total"`
	Pending      int `json:"pending"`
	InProgress   int `json:"in_progress"`
	Completed    int `json:"completed"`
	Cancelled    int `json:"cancelled"`
	HighPriority int `json:"high_priority"`
	Overdue      int `json:"overdue"`
}
