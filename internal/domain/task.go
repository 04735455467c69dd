package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// TerminalStatuses lists the statuses a task never leaves on its own.
// Terminal tasks are never considered overdue.
var TerminalStatuses = []TaskStatus{TaskStatusCompleted, TaskStatusCancelled}

// IsTerminal reports whether the status is terminal.
func (s TaskStatus) IsTerminal() bool {
	for _, t := range TerminalStatuses {
		if s == t {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// TaskPriority ranks tasks for the owner
type TaskPriority string

// Possible task priority values
const (
	TaskPriorityLow    TaskPriority = "low"
	TaskPriorityMedium TaskPriority = "medium"
	TaskPriorityHigh   TaskPriority = "high"
)

// Valid reports whether p is a known priority.
func (p TaskPriority) Valid() bool {
	switch p {
	case TaskPriorityLow, TaskPriorityMedium, TaskPriorityHigh:
		return true
	default:
		return false
	}
}

// Validation errors for Task. Each wraps ErrValidation.
var (
	ErrEmptyTaskID         = fmt.Errorf("%w: task ID cannot be empty", ErrValidation)
	ErrEmptyTaskUserID     = fmt.Errorf("%w: task user ID cannot be empty", ErrValidation)
	ErrEmptyTaskTitle      = fmt.Errorf("%w: task title cannot be empty", ErrValidation)
	ErrTaskTitleTooLong    = fmt.Errorf("%w: task title exceeds %d characters", ErrValidation, MaxTaskTitleLength)
	ErrInvalidTaskStatus   = fmt.Errorf("%w: invalid task status", ErrValidation)
	ErrInvalidTaskPriority = fmt.Errorf("%w: invalid task priority", ErrValidation)
	ErrEmptyTaskPatch      = fmt.Errorf("%w: task patch has no fields to update", ErrValidation)
	ErrConflictingDueDate  = fmt.Errorf("%w: due date cannot be both set and cleared", ErrValidation)
)

// MaxTaskTitleLength bounds the title column.
const MaxTaskTitleLength = 255

// Task is a mutable work item owned by a user.
// ID is immutable; UpdatedAt is assigned by the store on every mutation.
type Task struct {
	ID          uuid.UUID    `json:"id"`
	UserID      uuid.UUID    `json:"user_id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Status      TaskStatus   `json:"status"`
	Priority    TaskPriority `json:"priority"`
	DueDate     *time.Time   `json:"due_date,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// NewTask creates a pending task with a fresh ID.
// An empty priority defaults to medium.
func NewTask(userID uuid.UUID, title, description string, priority TaskPriority, dueDate *time.Time) (*Task, error) {
	if priority == "" {
		priority = TaskPriorityMedium
	}
	now := time.Now().UTC()
	task := &Task{
		ID:          uuid.New(),
		UserID:      userID,
		Title:       strings.TrimSpace(title),
		Description: description,
		Status:      TaskStatusPending,
		Priority:    priority,
		DueDate:     utcPtr(dueDate),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}
	return task, nil
}

// Validate checks if the Task has valid data.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}
	if t.UserID == uuid.Nil {
		return ErrEmptyTaskUserID
	}
	if strings.TrimSpace(t.Title) == "" {
		return ErrEmptyTaskTitle
	}
	if len(t.Title) > MaxTaskTitleLength {
		return ErrTaskTitleTooLong
	}
	if !t.Status.Valid() {
		return ErrInvalidTaskStatus
	}
	if !t.Priority.Valid() {
		return ErrInvalidTaskPriority
	}
	return nil
}

// IsOverdue reports whether the task is non-terminal and due strictly before cutoff.
func (t *Task) IsOverdue(cutoff time.Time) bool {
	if t.DueDate == nil || t.Status.IsTerminal() {
		return false
	}
	return t.DueDate.Before(cutoff)
}

// TaskPatch describes a partial update. Nil fields are left untouched.
type TaskPatch struct {
	Title        *string       `json:"title,omitempty"`
	Description  *string       `json:"description,omitempty"`
	Status       *TaskStatus   `json:"status,omitempty"`
	Priority     *TaskPriority `json:"priority,omitempty"`
	DueDate      *time.Time    `json:"due_date,omitempty"`
	ClearDueDate bool          `json:"clear_due_date,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p TaskPatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil &&
		p.Priority == nil && p.DueDate == nil && !p.ClearDueDate
}

// Validate checks the fields that are present.
func (p TaskPatch) Validate() error {
	if p.IsEmpty() {
		return ErrEmptyTaskPatch
	}
	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		if title == "" {
			return ErrEmptyTaskTitle
		}
		if len(title) > MaxTaskTitleLength {
			return ErrTaskTitleTooLong
		}
	}
	if p.Status != nil && !p.Status.Valid() {
		return ErrInvalidTaskStatus
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return ErrInvalidTaskPriority
	}
	if p.DueDate != nil && p.ClearDueDate {
		return ErrConflictingDueDate
	}
	return nil
}

// StatusPatch is a patch that only sets the status.
func StatusPatch(status TaskStatus) TaskPatch {
	return TaskPatch{Status: &status}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
