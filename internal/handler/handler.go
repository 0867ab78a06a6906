package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mtlprog/deepflow/internal/classifier"
	"github.com/mtlprog/deepflow/internal/config"
	"github.com/mtlprog/deepflow/internal/handler/dto"
	"github.com/mtlprog/deepflow/internal/middleware"
	"github.com/mtlprog/deepflow/internal/notify"
	"github.com/mtlprog/deepflow/internal/priority"
	"github.com/mtlprog/deepflow/internal/repository"
	"github.com/mtlprog/deepflow/internal/service"
)

// Options configures the collaborators Handler cannot build from the pool alone.
type Options struct {
	Settings    config.Settings
	Classifier  classifier.Classifier // nil means classifier.Static
	Dispatchers []notify.Dispatcher   // delivered to in addition to the log and the outbox
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	pool            *pgxpool.Pool
	settings        config.Settings
	taskService     *service.TaskService
	focusService    *service.FocusService
	pomodoroService *service.PomodoroService
	pipeline        *service.Pipeline
	taskRepo        *repository.TaskRepository
	eventRepo       *repository.TaskEventRepository
	queueRepo       *repository.QueueRepository
	notifRepo       *repository.NotificationRepository
	authMiddleware  *middleware.AuthMiddleware
	now             func() time.Time
}

// New creates a new Handler instance with all dependencies.
func New(pool *pgxpool.Pool, opts Options) *Handler {
	// Create repositories
	taskRepo := repository.NewTaskRepository(pool)
	eventRepo := repository.NewTaskEventRepository(pool)
	queueRepo := repository.NewQueueRepository(pool)
	focusRepo := repository.NewFocusRepository(pool)
	pomodoroRepo := repository.NewPomodoroRepository(pool)
	notifRepo := repository.NewNotificationRepository(pool)
	userRepo := repository.NewUserRepository(pool)

	// Create services
	engine := priority.NewEngine(opts.Settings.Weights)
	taskService := service.NewTaskService(pool, taskRepo, eventRepo, queueRepo, focusRepo, engine, opts.Settings.Queue)
	focusService := service.NewFocusService(focusRepo, opts.Settings.Interrupt)
	pomodoroService := service.NewPomodoroService(pomodoroRepo)

	c := opts.Classifier
	if c == nil {
		c = classifier.Static{}
	}
	dispatcher := append(notify.Multi{notify.Log{}, notify.NewOutbox(notifRepo)}, opts.Dispatchers...)
	pipeline := service.NewPipeline(c, taskService, focusService, dispatcher, opts.Settings.Interrupt, opts.Settings.Ingest)

	// Create middleware
	authMiddleware := middleware.NewAuthMiddleware(userRepo)

	return &Handler{
		pool:            pool,
		settings:        opts.Settings,
		taskService:     taskService,
		focusService:    focusService,
		pomodoroService: pomodoroService,
		pipeline:        pipeline,
		taskRepo:        taskRepo,
		eventRepo:       eventRepo,
		queueRepo:       queueRepo,
		notifRepo:       notifRepo,
		authMiddleware:  authMiddleware,
		now:             time.Now,
	}
}

// TaskService exposes the task service for background jobs such as rescoring.
func (h *Handler) TaskService() *service.TaskService {
	return h.taskService
}

// RegisterRoutes registers all HTTP routes.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Health check
	mux.HandleFunc("GET /healthz", h.handleHealthz)

	auth := func(fn http.HandlerFunc) http.Handler {
		return h.authMiddleware.Authenticate(fn)
	}

	// Focus state
	mux.Handle("GET /api/v1/state", auth(h.handleGetState))
	mux.Handle("PUT /api/v1/state", auth(h.handleSetState))
	mux.Handle("PUT /api/v1/context", auth(h.handleSetContext))

	// Queue
	mux.Handle("GET /api/v1/queue", auth(h.handleGetQueue))
	mux.Handle("POST /api/v1/queue", auth(h.handleCreateTask))
	mux.Handle("POST /api/v1/queue/pop", auth(h.handlePopTask))
	mux.Handle("GET /api/v1/queue/current", auth(h.handleCurrentTask))

	// Tasks
	mux.Handle("GET /api/v1/tasks", auth(h.handleListTasks))
	mux.Handle("GET /api/v1/tasks/{id}", auth(h.handleGetTask))
	mux.Handle("PATCH /api/v1/tasks/{id}", auth(h.handleUpdateTask))

	// Pomodoro
	mux.Handle("GET /api/v1/pomodoro/settings", auth(h.handleGetPomodoro))
	mux.Handle("PUT /api/v1/pomodoro/settings", auth(h.handleUpdatePomodoro))

	// Ingestion and notifications
	mux.Handle("POST /api/v1/webhooks/ingest", auth(h.handleIngest))
	mux.Handle("GET /api/v1/notifications", auth(h.handleListNotifications))

	// Statistics
	mux.Handle("GET /api/v1/stats", auth(h.handleGetStats))
}

// respondJSON writes a JSON response.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// respondError writes an error response.
func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, dto.NewErrorResponse(code, message))
}

// respondDomainError maps err through dto.MapDomainError and names the
// offending field for validation failures.
func respondDomainError(w http.ResponseWriter, err error) {
	status, code, message := dto.MapDomainError(err)
	resp := dto.NewErrorResponse(code, message)
	if field, ok := dto.ValidationField(err); ok {
		resp.Error.Field = field
	}
	respondJSON(w, status, resp)
}

// extractTaskID extracts and validates task ID from path parameter.
// Returns (taskID, true) if valid, ("", false) if invalid (error already sent to client).
func extractTaskID(w http.ResponseWriter, r *http.Request) (string, bool) {
	taskID := r.PathValue("id")
	if taskID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "task id is required")
		return "", false
	}

	if _, err := uuid.Parse(taskID); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "task_id must be a valid UUID")
		return "", false
	}

	return taskID, true
}

// parseLimit reads a positive integer query parameter, returning def when absent.
func parseLimit(r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// handleHealthz returns service health status.
func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.pool.Ping(ctx); err != nil {
		slog.Error("health check failed", "error", err)
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "database": "down"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
