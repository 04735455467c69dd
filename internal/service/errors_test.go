package service

import (
	"errors"
	"testing"

	"github.com/phrazzld/tasksync/internal/domain"
	"github.com/phrazzld/tasksync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTaskServiceError(t *testing.T) {
	t.Parallel()

	assert.Nil(t, NewTaskServiceError("op", "msg", nil))

	assert.Equal(t, ErrTaskNotFound, NewTaskServiceError("op", "msg", store.ErrTaskNotFound))
	assert.Equal(t, ErrTaskNotFound, NewTaskServiceError("op", "msg", ErrTaskNotFound))

	assert.Equal(t, domain.ErrEmptyTaskTitle, NewTaskServiceError("op", "msg", domain.ErrEmptyTaskTitle))

	invalid := invalidArgument("bad %s", "thing")
	assert.Equal(t, invalid, NewTaskServiceError("op", "msg", invalid))
	assert.EqualError(t, invalid, "invalid argument: bad thing")

	cause := errors.New("boom")
	err := NewTaskServiceError("get_task", "failed to retrieve task", cause)
	var serviceErr *TaskServiceError
	require.ErrorAs(t, err, &serviceErr)
	assert.Equal(t, "get_task", serviceErr.Operation)
	assert.ErrorIs(t, err, cause)
	assert.EqualError(t, err, "task service get_task failed: failed to retrieve task: boom")

	assert.Same(t, serviceErr, NewTaskServiceError("outer", "msg", err))
}

func TestTaskServiceError_WithoutCause(t *testing.T) {
	t.Parallel()

	err := &TaskServiceError{Operation: "create_service", Message: "repo cannot be nil"}
	assert.EqualError(t, err, "task service create_service failed: repo cannot be nil")
	assert.Nil(t, err.Unwrap())
}
