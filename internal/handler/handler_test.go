package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/suite"

	"github.com/mtlprog/deepflow/internal/classifier"
	"github.com/mtlprog/deepflow/internal/config"
	"github.com/mtlprog/deepflow/internal/database"
	"github.com/mtlprog/deepflow/internal/domain"
	"github.com/mtlprog/deepflow/internal/handler"
	"github.com/mtlprog/deepflow/internal/handler/dto"
)

// urgencyClassifier classifies every message with a fixed urgency.
type urgencyClassifier struct {
	urgency int
}

func (c *urgencyClassifier) Classify(_ context.Context, req classifier.Request) (domain.Classification, error) {
	return domain.Classification{
		Urgency:         c.urgency,
		Summary:         req.Content,
		SuggestedAction: "Reply",
	}, nil
}

type HandlerTestSuite struct {
	suite.Suite
	pool       *pgxpool.Pool
	mux        *http.ServeMux
	classifier *urgencyClassifier

	// Test fixtures
	user1ID    string
	user1Token string
	user2ID    string
	user2Token string
}

func (s *HandlerTestSuite) SetupSuite() {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		s.T().Skip("DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := database.New(ctx, databaseURL)
	s.Require().NoError(err)
	s.pool = db.Pool()

	err = database.RunMigrations(ctx, s.pool)
	s.Require().NoError(err)

	s.classifier = &urgencyClassifier{urgency: 5}
	h := handler.New(s.pool, handler.Options{
		Settings:   config.Default(),
		Classifier: s.classifier,
	})
	s.mux = http.NewServeMux()
	h.RegisterRoutes(s.mux)
}

func (s *HandlerTestSuite) SetupTest() {
	ctx := context.Background()

	_, err := s.pool.Exec(ctx, `TRUNCATE users, tasks, task_events, queue_entries,
		current_tasks, focus_states, pomodoro_settings, notifications CASCADE`)
	s.Require().NoError(err)

	s.user1ID = "00000000-0000-0000-0000-000000000011"
	s.user1Token = "token-1"
	s.user2ID = "00000000-0000-0000-0000-000000000012"
	s.user2Token = "token-2"

	_, err = s.pool.Exec(ctx, `
		INSERT INTO users (id, name, token)
		VALUES ($1, 'user-1', $2), ($3, 'user-2', $4)
	`, s.user1ID, s.user1Token, s.user2ID, s.user2Token)
	s.Require().NoError(err)

	s.classifier.urgency = 5
}

func (s *HandlerTestSuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerTestSuite))
}

// Helper to make authenticated request
func (s *HandlerTestSuite) makeRequest(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var bodyReader *bytes.Reader
	if body != nil {
		bodyBytes, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(bodyBytes)
	} else {
		bodyReader = bytes.NewReader([]byte{})
	}

	req := httptest.NewRequest(method, path, bodyReader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)
	return w
}

func (s *HandlerTestSuite) decode(w *httptest.ResponseRecorder, v interface{}) {
	s.Require().NoError(json.NewDecoder(w.Body).Decode(v))
}

func (s *HandlerTestSuite) createTask(token, title string, urgency int) dto.TaskResponse {
	w := s.makeRequest("POST", "/api/v1/queue", token, dto.CreateTaskRequest{
		Title:   title,
		Urgency: &urgency,
	})
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	var task dto.TaskResponse
	s.decode(w, &task)
	return task
}

func (s *HandlerTestSuite) TestHealthz() {
	w := s.makeRequest("GET", "/healthz", "", nil)
	s.Equal(http.StatusOK, w.Code)
}

func (s *HandlerTestSuite) TestUnauthorized() {
	w := s.makeRequest("GET", "/api/v1/queue", "", nil)
	s.Equal(http.StatusUnauthorized, w.Code)

	w = s.makeRequest("GET", "/api/v1/queue", "wrong-token", nil)
	s.Equal(http.StatusUnauthorized, w.Code)
}

func (s *HandlerTestSuite) TestState_DefaultAndUpdate() {
	w := s.makeRequest("GET", "/api/v1/state", s.user1Token, nil)
	s.Require().Equal(http.StatusOK, w.Code)

	var state dto.StateResponse
	s.decode(w, &state)
	s.Equal("IDLE", state.State)
	s.Equal(s.user1ID, state.UserID)

	w = s.makeRequest("PUT", "/api/v1/state", s.user1Token, dto.SetStateRequest{State: "flow"})
	s.Require().Equal(http.StatusOK, w.Code)
	s.decode(w, &state)
	s.Equal("FLOW", state.State)
}

func (s *HandlerTestSuite) TestState_InvalidRejectedWithField() {
	w := s.makeRequest("PUT", "/api/v1/state", s.user1Token, dto.SetStateRequest{State: "SHALLOW"})
	s.Require().Equal(http.StatusOK, w.Code)

	w = s.makeRequest("PUT", "/api/v1/state", s.user1Token, dto.SetStateRequest{State: "NAPPING"})
	s.Equal(http.StatusUnprocessableEntity, w.Code)

	var errResp dto.ErrorResponse
	s.decode(w, &errResp)
	s.Equal("VALIDATION_ERROR", errResp.Error.Code)
	s.Equal("state", errResp.Error.Field)

	// Rejected value leaves the stored state untouched
	w = s.makeRequest("GET", "/api/v1/state", s.user1Token, nil)
	var state dto.StateResponse
	s.decode(w, &state)
	s.Equal("SHALLOW", state.State)
}

func (s *HandlerTestSuite) TestContext_AppliesBonus() {
	w := s.makeRequest("PUT", "/api/v1/context", s.user1Token, dto.SetContextRequest{Context: "backend"})
	s.Require().Equal(http.StatusOK, w.Code)

	urgency := 5
	w = s.makeRequest("POST", "/api/v1/queue", s.user1Token, dto.CreateTaskRequest{
		Title:       "Fix API",
		Urgency:     &urgency,
		ContextTags: []string{"Backend"},
	})
	s.Require().Equal(http.StatusCreated, w.Code)

	var task dto.TaskResponse
	s.decode(w, &task)
	s.InDelta(25.0, task.PriorityScore, 0.001)
}

func (s *HandlerTestSuite) TestCreateTask_Validation() {
	w := s.makeRequest("POST", "/api/v1/queue", s.user1Token, dto.CreateTaskRequest{Title: "No urgency"})
	s.Equal(http.StatusUnprocessableEntity, w.Code)

	var errResp dto.ErrorResponse
	s.decode(w, &errResp)
	s.Equal("urgency", errResp.Error.Field)

	urgency := 11
	w = s.makeRequest("POST", "/api/v1/queue", s.user1Token, dto.CreateTaskRequest{Title: "Too urgent", Urgency: &urgency})
	s.Equal(http.StatusUnprocessableEntity, w.Code)

	w = s.makeRequest("POST", "/api/v1/queue", s.user1Token, "not an object")
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *HandlerTestSuite) TestQueue_OrderPopAndCurrent() {
	low := s.createTask(s.user1Token, "Low", 3)
	high := s.createTask(s.user1Token, "High", 9)

	w := s.makeRequest("GET", "/api/v1/queue", s.user1Token, nil)
	s.Require().Equal(http.StatusOK, w.Code)

	var queue dto.QueueResponse
	s.decode(w, &queue)
	s.Nil(queue.CurrentTask)
	s.Equal(2, queue.TotalCount)
	s.Require().Len(queue.Queue, 2)
	s.Equal(high.ID, queue.Queue[0].ID)
	s.Equal(low.ID, queue.Queue[1].ID)

	w = s.makeRequest("POST", "/api/v1/queue/pop", s.user1Token, nil)
	s.Require().Equal(http.StatusOK, w.Code)

	var popped dto.TaskResponse
	s.decode(w, &popped)
	s.Equal(high.ID, popped.ID)
	s.Equal("in_progress", popped.Status)

	w = s.makeRequest("GET", "/api/v1/queue/current", s.user1Token, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var current dto.TaskResponse
	s.decode(w, &current)
	s.Equal(high.ID, current.ID)

	w = s.makeRequest("GET", "/api/v1/queue?limit=1", s.user1Token, nil)
	s.decode(w, &queue)
	s.Equal(1, queue.TotalCount)
	s.Require().NotNil(queue.CurrentTask)
	s.Equal(high.ID, queue.CurrentTask.ID)
}

func (s *HandlerTestSuite) TestQueue_PopEmptyReturnsNull() {
	w := s.makeRequest("POST", "/api/v1/queue/pop", s.user1Token, nil)
	s.Equal(http.StatusOK, w.Code)
	s.JSONEq("null", w.Body.String())

	w = s.makeRequest("GET", "/api/v1/queue/current", s.user1Token, nil)
	s.Equal(http.StatusOK, w.Code)
	s.JSONEq("null", w.Body.String())
}

func (s *HandlerTestSuite) TestQueue_ConcurrentPopsDistinct() {
	s.createTask(s.user1Token, "A", 5)
	s.createTask(s.user1Token, "B", 5)

	var wg sync.WaitGroup
	ids := make(chan string, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := s.makeRequest("POST", "/api/v1/queue/pop", s.user1Token, nil)
			var task dto.TaskResponse
			if json.NewDecoder(w.Body).Decode(&task) == nil {
				ids <- task.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		seen[id] = true
	}
	s.Len(seen, 2)
}

func (s *HandlerTestSuite) TestUpdateTask_Lifecycle() {
	task := s.createTask(s.user1Token, "Review PR", 6)
	completed := "completed"

	w := s.makeRequest("PATCH", "/api/v1/tasks/"+task.ID, s.user1Token, dto.UpdateTaskRequest{Status: &completed})
	s.Require().Equal(http.StatusOK, w.Code)

	var updated dto.TaskResponse
	s.decode(w, &updated)
	s.Equal("completed", updated.Status)
	s.NotNil(updated.CompletedAt)

	pending := "pending"
	w = s.makeRequest("PATCH", "/api/v1/tasks/"+task.ID, s.user1Token, dto.UpdateTaskRequest{Status: &pending})
	s.Equal(http.StatusConflict, w.Code)

	bogus := "archived"
	w = s.makeRequest("PATCH", "/api/v1/tasks/"+task.ID, s.user1Token, dto.UpdateTaskRequest{Status: &bogus})
	s.Equal(http.StatusUnprocessableEntity, w.Code)
}

func (s *HandlerTestSuite) TestTask_NotFoundAndForeign() {
	task := s.createTask(s.user1Token, "Mine", 4)

	w := s.makeRequest("GET", "/api/v1/tasks/"+task.ID, s.user2Token, nil)
	s.Equal(http.StatusNotFound, w.Code)

	w = s.makeRequest("GET", "/api/v1/tasks/99999999-9999-9999-9999-999999999999", s.user1Token, nil)
	s.Equal(http.StatusNotFound, w.Code)

	w = s.makeRequest("GET", "/api/v1/tasks/not-a-uuid", s.user1Token, nil)
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *HandlerTestSuite) TestGetTask_WithEvents() {
	task := s.createTask(s.user1Token, "Write docs", 2)

	w := s.makeRequest("GET", "/api/v1/tasks/"+task.ID, s.user1Token, nil)
	s.Require().Equal(http.StatusOK, w.Code)

	var detail dto.TaskDetailResponse
	s.decode(w, &detail)
	s.Equal(task.ID, detail.Task.ID)
	s.Require().Len(detail.Events, 1)
	s.Equal("created", detail.Events[0].Type)
}

func (s *HandlerTestSuite) TestListTasks_FiltersAndSortInjection() {
	s.createTask(s.user1Token, "Critical", 9)
	s.createTask(s.user1Token, "Low", 1)
	s.createTask(s.user2Token, "Other user", 9)

	w := s.makeRequest("GET", "/api/v1/tasks?category=critical", s.user1Token, nil)
	s.Require().Equal(http.StatusOK, w.Code)

	var list dto.TasksListResponse
	s.decode(w, &list)
	s.Equal(1, list.Total)
	s.Equal("Critical", list.Tasks[0].Title)

	w = s.makeRequest("GET", "/api/v1/tasks?sort=created_at;DROP+TABLE+tasks;--", s.user1Token, nil)
	s.Equal(http.StatusBadRequest, w.Code)

	var count int
	err := s.pool.QueryRow(context.Background(), "SELECT COUNT(*) FROM tasks").Scan(&count)
	s.NoError(err)
	s.Equal(3, count)
}

func (s *HandlerTestSuite) TestPomodoro_DefaultsAndBounds() {
	w := s.makeRequest("GET", "/api/v1/pomodoro/settings", s.user1Token, nil)
	s.Require().Equal(http.StatusOK, w.Code)

	var settings dto.PomodoroSettingsResponse
	s.decode(w, &settings)
	s.Equal(30, settings.WorkMinutes)
	s.Equal(5, settings.BreakMinutes)

	w = s.makeRequest("PUT", "/api/v1/pomodoro/settings", s.user1Token, dto.PomodoroSettingsRequest{WorkMinutes: 50, BreakMinutes: 10})
	s.Require().Equal(http.StatusOK, w.Code)

	w = s.makeRequest("PUT", "/api/v1/pomodoro/settings", s.user1Token, dto.PomodoroSettingsRequest{WorkMinutes: 500, BreakMinutes: 10})
	s.Equal(http.StatusUnprocessableEntity, w.Code)

	w = s.makeRequest("GET", "/api/v1/pomodoro/settings", s.user1Token, nil)
	s.decode(w, &settings)
	s.Equal(50, settings.WorkMinutes)
	s.Equal(10, settings.BreakMinutes)
}

func (s *HandlerTestSuite) TestIngest_CriticalInterruptsFlow() {
	w := s.makeRequest("PUT", "/api/v1/state", s.user1Token, dto.SetStateRequest{State: "FLOW"})
	s.Require().Equal(http.StatusOK, w.Code)

	s.classifier.urgency = 9
	w = s.makeRequest("POST", "/api/v1/webhooks/ingest", s.user1Token, dto.IngestRequest{
		Source:  "slack",
		Sender:  "ops",
		Content: "Production is down",
	})
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	var decision dto.IngestResponse
	s.decode(w, &decision)
	s.True(decision.Interrupt)
	s.True(decision.Notified)
	s.Equal("FLOW", decision.State)
	s.Require().NotNil(decision.Task)
	s.Equal("critical", decision.Task.Category)

	w = s.makeRequest("GET", "/api/v1/notifications", s.user1Token, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var notes dto.NotificationsResponse
	s.decode(w, &notes)
	s.Require().Len(notes.Notifications, 1)
	s.Equal("critical", notes.Notifications[0].Level)

	// Drained notifications are not returned twice
	w = s.makeRequest("GET", "/api/v1/notifications", s.user1Token, nil)
	s.decode(w, &notes)
	s.Empty(notes.Notifications)
}

func (s *HandlerTestSuite) TestIngest_StandardQueuedDuringFlow() {
	w := s.makeRequest("PUT", "/api/v1/state", s.user1Token, dto.SetStateRequest{State: "FLOW"})
	s.Require().Equal(http.StatusOK, w.Code)

	w = s.makeRequest("POST", "/api/v1/webhooks/ingest", s.user1Token, dto.IngestRequest{
		Source:  "email",
		Sender:  "alice",
		Content: "Lunch on Friday?",
	})
	s.Require().Equal(http.StatusCreated, w.Code)

	var decision dto.IngestResponse
	s.decode(w, &decision)
	s.False(decision.Interrupt)
	s.False(decision.Notified)
	s.True(decision.AutoReplySuggested)

	w = s.makeRequest("GET", "/api/v1/queue", s.user1Token, nil)
	var queue dto.QueueResponse
	s.decode(w, &queue)
	s.Equal(1, queue.TotalCount)
}

func (s *HandlerTestSuite) TestIngest_DiscardSuppressed() {
	s.classifier.urgency = 0
	w := s.makeRequest("POST", "/api/v1/webhooks/ingest", s.user1Token, dto.IngestRequest{
		Source:  "email",
		Sender:  "newsletter",
		Content: "Weekly digest",
	})
	s.Require().Equal(http.StatusOK, w.Code)

	var decision dto.IngestResponse
	s.decode(w, &decision)
	s.True(decision.Suppressed)
	s.Nil(decision.Task)
}

func (s *HandlerTestSuite) TestIngest_EmptyContentRejected() {
	w := s.makeRequest("POST", "/api/v1/webhooks/ingest", s.user1Token, dto.IngestRequest{Source: "slack"})
	s.Equal(http.StatusUnprocessableEntity, w.Code)
}

func (s *HandlerTestSuite) TestStats() {
	s.createTask(s.user1Token, "One", 5)
	s.createTask(s.user1Token, "Two", 8)

	w := s.makeRequest("GET", "/api/v1/stats?period=all", s.user1Token, nil)
	s.Require().Equal(http.StatusOK, w.Code)

	var stats dto.StatsResponse
	s.decode(w, &stats)
	s.Equal(2, stats.TotalTasksCreated)
	s.Equal(2, stats.QueueLength)
	s.Equal(2, stats.TasksByStatus["pending"])

	w = s.makeRequest("GET", "/api/v1/stats?period=decade", s.user1Token, nil)
	s.Equal(http.StatusBadRequest, w.Code)
}
