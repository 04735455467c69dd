package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/tasksync/internal/api/shared"
	"github.com/phrazzld/tasksync/internal/domain"
	"github.com/phrazzld/tasksync/internal/platform/logger"
	"github.com/phrazzld/tasksync/internal/service"
)

// TaskHandler handles task-related HTTP requests
type TaskHandler struct {
	tasks  service.TaskService
	logger *slog.Logger
}

// NewTaskHandler creates a new TaskHandler
func NewTaskHandler(tasks service.TaskService, log *slog.Logger) *TaskHandler {
	if log == nil {
		log = slog.Default()
	}
	return &TaskHandler{
		tasks:  tasks,
		logger: log.With(slog.String("component", "task_handler")),
	}
}

// RegisterRoutes mounts the task endpoints on r under /tasks.
func (h *TaskHandler) RegisterRoutes(r chi.Router) {
	r.Route("/tasks", func(r chi.Router) {
		r.Post("/", h.CreateTask)
		r.Get("/", h.ListTasks)
		r.Get("/stats", h.GetStats)
		r.Get("/overdue", h.ListOverdue)
		r.Post("/batch", h.BatchProcess)

		r.Get("/{id}", h.GetTask)
		r.Patch("/{id}", h.UpdateTask)
		r.Delete("/{id}", h.DeleteTask)
	})
}

// CreateTask handles POST /api/tasks requests
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	var req CreateTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		handleValidationError(w, r, err, log)
		return
	}

	task, err := h.tasks.Create(r.Context(), req.toInput())
	if err != nil {
		HandleAPIError(w, r, err, "Failed to create task")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusCreated, taskToResponse(task))
}

// ListTasks handles GET /api/tasks requests
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	filter, err := parseTaskFilter(r)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	page, err := parsePagination(r)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	result, err := h.tasks.List(r.Context(), filter, page)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list tasks")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, pageToResponse(result))
}

// GetStats handles GET /api/tasks/stats requests
func (h *TaskHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.tasks.GetStats(r.Context())
	if err != nil {
		HandleAPIError(w, r, err, "Failed to compute task statistics")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, stats)
}

// ListOverdue handles GET /api/tasks/overdue requests
func (h *TaskHandler) ListOverdue(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseWindow(r, defaultOverdueLimit, maxOverdueLimit)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	tasks, err := h.tasks.FindOverdueTasks(r.Context(), limit, offset)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list overdue tasks")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, OverdueListResponse{
		Items:  tasksToResponse(tasks),
		Limit:  limit,
		Offset: offset,
	})
}

// GetTask handles GET /api/tasks/{id} requests
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	task, err := h.tasks.Get(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to retrieve task")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(task))
}

// UpdateTask handles PATCH /api/tasks/{id} requests
func (h *TaskHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req UpdateTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		handleValidationError(w, r, err, log)
		return
	}

	result, err := h.tasks.Update(r.Context(), id, req.toPatch())
	if err != nil {
		HandleAPIError(w, r, err, "Failed to update task")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, UpdateTaskResponse{
		Task:           taskToResponse(result.Task),
		PreviousStatus: string(result.PreviousStatus),
		StatusChanged:  result.StatusChanged,
		Enqueued:       result.Enqueued,
	})
}

// DeleteTask handles DELETE /api/tasks/{id} requests
func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	if err := h.tasks.Remove(r.Context(), id); err != nil {
		HandleAPIError(w, r, err, "Failed to delete task")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// BatchProcess handles POST /api/tasks/batch requests
func (h *TaskHandler) BatchProcess(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	var req BatchRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		handleValidationError(w, r, err, log)
		return
	}

	ids := make([]uuid.UUID, 0, len(req.IDs))
	for _, raw := range req.IDs {
		ids = append(ids, uuid.MustParse(raw))
	}

	result, err := h.tasks.BatchProcess(r.Context(), ids, domain.BatchAction(req.Action))
	if err != nil {
		HandleAPIError(w, r, err, "Failed to process batch")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, result)
}

// pathID parses {id} and writes a 400 when it is malformed.
func (h *TaskHandler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := getPathUUID(r, "id")
	if err != nil {
		logger.FromContextOrDefault(r.Context(), h.logger).Debug("invalid task id",
			slog.String("value", chi.URLParam(r, "id")))
		HandleAPIError(w, r, err, "")
		return uuid.Nil, false
	}
	return id, true
}
