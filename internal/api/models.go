package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasksync/internal/domain"
	"github.com/phrazzld/tasksync/internal/queue"
	"github.com/phrazzld/tasksync/internal/service"
)

// CreateTaskRequest defines the payload for POST /api/tasks.
type CreateTaskRequest struct {
	UserID      string     `json:"user_id"     validate:"required,uuid"`
	Title       string     `json:"title"       validate:"required,max=255"`
	Description string     `json:"description"`
	Priority    string     `json:"priority"    validate:"omitempty,oneof=low medium high"`
	DueDate     *time.Time `json:"due_date"`
}

// UpdateTaskRequest defines the payload for PATCH /api/tasks/{id}.
// Absent fields are left untouched; clear_due_date removes the due date.
type UpdateTaskRequest struct {
	Title        *string    `json:"title"          validate:"omitempty,min=1,max=255"`
	Description  *string    `json:"description"`
	Status       *string    `json:"status"         validate:"omitempty,oneof=pending in_progress completed cancelled"`
	Priority     *string    `json:"priority"       validate:"omitempty,oneof=low medium high"`
	DueDate      *time.Time `json:"due_date"`
	ClearDueDate bool       `json:"clear_due_date"`
}

// BatchRequest defines the payload for POST /api/tasks/batch.
type BatchRequest struct {
	IDs    []string `json:"ids"    validate:"required,min=1,dive,uuid"`
	Action string   `json:"action" validate:"required,oneof=complete delete"`
}

// TaskResponse represents a task in API responses.
type TaskResponse struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// UpdateTaskResponse is returned by PATCH /api/tasks/{id}.
type UpdateTaskResponse struct {
	Task           TaskResponse `json:"task"`
	PreviousStatus string       `json:"previous_status"`
	StatusChanged  bool         `json:"status_changed"`
	Enqueued       bool         `json:"enqueued"`
}

// TaskListResponse is one page of tasks.
type TaskListResponse struct {
	Items       []TaskResponse `json:"items"`
	Total       int            `json:"total"`
	Page        int            `json:"page"`
	Limit       int            `json:"limit"`
	PageCount   int            `json:"page_count"`
	HasNextPage bool           `json:"has_next_page"`
	HasPrevPage bool           `json:"has_prev_page"`
}

// OverdueListResponse is one window of overdue tasks.
type OverdueListResponse struct {
	Items  []TaskResponse `json:"items"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// DeadJobsResponse lists archived jobs.
type DeadJobsResponse struct {
	Items []queue.DeadJob `json:"items"`
}

func (r UpdateTaskRequest) toPatch() domain.TaskPatch {
	patch := domain.TaskPatch{
		Title:        r.Title,
		Description:  r.Description,
		DueDate:      r.DueDate,
		ClearDueDate: r.ClearDueDate,
	}
	if r.Status != nil {
		status := domain.TaskStatus(*r.Status)
		patch.Status = &status
	}
	if r.Priority != nil {
		priority := domain.TaskPriority(*r.Priority)
		patch.Priority = &priority
	}
	return patch
}

// toInput assumes the request passed validation.
func (r CreateTaskRequest) toInput() service.CreateTaskInput {
	return service.CreateTaskInput{
		UserID:      uuid.MustParse(r.UserID),
		Title:       r.Title,
		Description: r.Description,
		Priority:    domain.TaskPriority(r.Priority),
		DueDate:     r.DueDate,
	}
}

// taskToResponse converts a domain.Task to a TaskResponse
func taskToResponse(task *domain.Task) TaskResponse {
	return TaskResponse{
		ID:          task.ID.String(),
		UserID:      task.UserID.String(),
		Title:       task.Title,
		Description: task.Description,
		Status:      string(task.Status),
		Priority:    string(task.Priority),
		DueDate:     task.DueDate,
		CreatedAt:   task.CreatedAt,
		UpdatedAt:   task.UpdatedAt,
	}
}

func tasksToResponse(tasks []*domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, taskToResponse(task))
	}
	return out
}

func pageToResponse(page *domain.Page[*domain.Task]) TaskListResponse {
	return TaskListResponse{
		Items:       tasksToResponse(page.Items),
		Total:       page.Total,
		Page:        page.Page,
		Limit:       page.Limit,
		PageCount:   page.PageCount,
		HasNextPage: page.HasNextPage,
		HasPrevPage: page.HasPrevPage,
	}
}
