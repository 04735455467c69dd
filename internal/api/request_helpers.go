package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/tasksync/internal/domain"
)

// Defaults for the overdue and dead-job listings.
const (
	defaultOverdueLimit  = 50
	maxOverdueLimit      = 500
	defaultDeadJobsLimit = 50
	maxDeadJobsLimit     = 1000
)

// getPathUUID extracts a UUID from the URL path parameters.
func getPathUUID(r *http.Request, paramName string) (uuid.UUID, error) {
	pathParam := chi.URLParam(r, paramName)
	if pathParam == "" {
		return uuid.Nil, fmt.Errorf("%w: %s is required", domain.ErrInvalidID, paramName)
	}

	id, err := uuid.Parse(pathParam)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s has invalid format", domain.ErrInvalidID, paramName)
	}
	return id, nil
}

// parseTaskFilter reads the optional status, priority and user_id query
// parameters. Unknown enum values are left for the service to reject.
func parseTaskFilter(r *http.Request) (domain.TaskFilter, error) {
	q := r.URL.Query()
	var filter domain.TaskFilter

	if v := q.Get("status"); v != "" {
		status := domain.TaskStatus(v)
		filter.Status = &status
	}
	if v := q.Get("priority"); v != "" {
		priority := domain.TaskPriority(v)
		filter.Priority = &priority
	}
	if v := q.Get("user_id"); v != "" {
		userID, err := uuid.Parse(v)
		if err != nil {
			return domain.TaskFilter{}, fmt.Errorf("%w: user_id has invalid format", domain.ErrInvalidID)
		}
		filter.UserID = &userID
	}
	return filter, nil
}

// parsePagination reads page and limit. Out-of-range values are clamped by
// the service; only non-numeric input is an error.
func parsePagination(r *http.Request) (domain.Pagination, error) {
	page, err := queryInt(r, "page", 1)
	if err != nil {
		return domain.Pagination{}, err
	}
	limit, err := queryInt(r, "limit", domain.DefaultPageLimit)
	if err != nil {
		return domain.Pagination{}, err
	}
	return domain.Pagination{Page: page, Limit: limit}, nil
}

// parseWindow reads limit and offset, applying def and capping limit at ceiling.
func parseWindow(r *http.Request, def, ceiling int) (limit, offset int, err error) {
	limit, err = queryInt(r, "limit", def)
	if err != nil {
		return 0, 0, err
	}
	offset, err = queryInt(r, "offset", 0)
	if err != nil {
		return 0, 0, err
	}
	if limit <= 0 {
		limit = def
	}
	if limit > ceiling {
		limit = ceiling
	}
	if offset < 0 {
		return 0, 0, fmt.Errorf("%w: offset cannot be negative", domain.ErrValidation)
	}
	return limit, offset, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", domain.ErrValidation, name)
	}
	return n, nil
}
