package service_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/suite"

	"github.com/mtlprog/deepflow/internal/config"
	"github.com/mtlprog/deepflow/internal/database"
	"github.com/mtlprog/deepflow/internal/domain"
	"github.com/mtlprog/deepflow/internal/priority"
	"github.com/mtlprog/deepflow/internal/repository"
	"github.com/mtlprog/deepflow/internal/service"
)

// TaskServiceTestSuite is the test suite for TaskService.
type TaskServiceTestSuite struct {
	suite.Suite
	pool        *pgxpool.Pool
	taskService *service.TaskService
	taskRepo    *repository.TaskRepository
	eventRepo   *repository.TaskEventRepository
	queueRepo   *repository.QueueRepository
	focusRepo   *repository.FocusRepository
	settings    config.Settings

	userID  string
	otherID string
}

// SetupSuite runs once before all tests.
func (s *TaskServiceTestSuite) SetupSuite() {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		s.T().Skip("DATABASE_URL not set")
	}

	ctx := context.Background()

	db, err := database.New(ctx, databaseURL)
	s.Require().NoError(err, "failed to connect to database")
	s.pool = db.Pool()

	err = database.RunMigrations(ctx, s.pool)
	s.Require().NoError(err, "failed to run migrations")

	s.settings = config.Default()
	s.taskRepo = repository.NewTaskRepository(s.pool)
	s.eventRepo = repository.NewTaskEventRepository(s.pool)
	s.queueRepo = repository.NewQueueRepository(s.pool)
	s.focusRepo = repository.NewFocusRepository(s.pool)

	s.taskService = service.NewTaskService(
		s.pool,
		s.taskRepo,
		s.eventRepo,
		s.queueRepo,
		s.focusRepo,
		priority.NewEngine(s.settings.Weights),
		s.settings.Queue,
	)
}

// SetupTest runs before each test.
func (s *TaskServiceTestSuite) SetupTest() {
	ctx := context.Background()

	_, err := s.pool.Exec(ctx, `TRUNCATE users, tasks, task_events, queue_entries,
		current_tasks, focus_states, pomodoro_settings, notifications CASCADE`)
	s.Require().NoError(err, "failed to truncate tables")

	s.userID = "00000000-0000-0000-0000-000000000011"
	s.otherID = "00000000-0000-0000-0000-000000000012"
	_, err = s.pool.Exec(ctx, `
		INSERT INTO users (id, name, token)
		VALUES ($1, 'alice', 'token-1'), ($2, 'bob', 'token-2')
	`, s.userID, s.otherID)
	s.Require().NoError(err, "failed to create users")
}

// TearDownSuite runs once after all tests.
func (s *TaskServiceTestSuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *TaskServiceTestSuite) create(title string, urgency int) *domain.Task {
	task, err := s.taskService.CreateTask(context.Background(), s.userID, domain.NewTaskInput{
		Title:   title,
		Urgency: urgency,
	})
	s.Require().NoError(err)
	return task
}

func (s *TaskServiceTestSuite) start(title string, urgency int) *domain.Task {
	task := s.create(title, urgency)
	status := domain.TaskStatusInProgress
	task, err := s.taskService.UpdateTask(context.Background(), s.userID, task.ID, domain.TaskUpdate{Status: &status})
	s.Require().NoError(err)
	return task
}

func (s *TaskServiceTestSuite) update(taskID string, status domain.TaskStatus) (*domain.Task, error) {
	return s.taskService.UpdateTask(context.Background(), s.userID, taskID, domain.TaskUpdate{Status: &status})
}

// TestCreateTask_QueuedPending tests that created tasks are pending, scored and queued.
func (s *TaskServiceTestSuite) TestCreateTask_QueuedPending() {
	ctx := context.Background()

	task := s.create("Fix login", 9)
	s.Equal(domain.TaskStatusPending, task.Status)
	s.Equal(domain.CategoryCritical, task.Category)
	s.Equal(domain.DefaultEstimatedMinutes, task.EstimatedMinutes)
	s.InDelta(36.0, task.PriorityScore, 0.01)

	entries, err := s.queueRepo.PeekTop(ctx, s.userID, 10)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(task.ID, entries[0].TaskID)

	events, err := s.eventRepo.GetByTaskID(ctx, task.ID)
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(domain.EventTypeCreated, events[0].Type)
}

// TestCreateTask_InvalidUrgency tests that validation happens before any write.
func (s *TaskServiceTestSuite) TestCreateTask_InvalidUrgency() {
	ctx := context.Background()

	_, err := s.taskService.CreateTask(ctx, s.userID, domain.NewTaskInput{Title: "x", Urgency: 11})
	s.ErrorIs(err, domain.ErrInvalidUrgency)

	n, err := s.queueRepo.Len(ctx, s.userID)
	s.Require().NoError(err)
	s.Zero(n)
}

// TestCreateTask_ContextBonus tests that the stored current context feeds the score.
func (s *TaskServiceTestSuite) TestCreateTask_ContextBonus() {
	ctx := context.Background()
	s.Require().NoError(s.focusRepo.SetContext(ctx, s.userID, "IDLE", "deepflow"))

	with, err := s.taskService.CreateTask(ctx, s.userID, domain.NewTaskInput{
		Title: "a", Urgency: 5, ContextTags: []string{"DeepFlow"},
	})
	s.Require().NoError(err)
	without := s.create("b", 5)

	s.InDelta(5.0, with.PriorityScore-without.PriorityScore, 0.01)
}

// TestPopNext_OrderAndCurrent tests pop order, the current pointer and that
// a popped task is not popped again.
func (s *TaskServiceTestSuite) TestPopNext_OrderAndCurrent() {
	ctx := context.Background()

	low := s.create("low", 2)
	high := s.create("high", 9)

	popped, err := s.taskService.PopNext(ctx, s.userID)
	s.Require().NoError(err)
	s.Require().NotNil(popped)
	s.Equal(high.ID, popped.ID)
	s.Equal(domain.TaskStatusInProgress, popped.Status)

	current, err := s.taskService.CurrentTask(ctx, s.userID)
	s.Require().NoError(err)
	s.Require().NotNil(current)
	s.Equal(high.ID, current.ID)

	second, err := s.taskService.PopNext(ctx, s.userID)
	s.Require().NoError(err)
	s.Require().NotNil(second)
	s.Equal(low.ID, second.ID)

	third, err := s.taskService.PopNext(ctx, s.userID)
	s.Require().NoError(err)
	s.Nil(third)
}

// TestPopNext_EmptyQueue tests that popping an empty queue is not an error.
func (s *TaskServiceTestSuite) TestPopNext_EmptyQueue() {
	task, err := s.taskService.PopNext(context.Background(), s.userID)
	s.NoError(err)
	s.Nil(task)
}

// TestPopNext_ConcurrentPops checks that concurrent pops never return the same task.
func (s *TaskServiceTestSuite) TestPopNext_ConcurrentPops() {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		s.create("task", 5)
	}

	var wg sync.WaitGroup
	results := make(chan string, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task, err := s.taskService.PopNext(ctx, s.userID)
			if err == nil && task != nil {
				results <- task.ID
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[string]bool)
	for id := range results {
		s.False(seen[id], "task %s popped twice", id)
		seen[id] = true
	}
	s.Len(seen, 5)
}

// TestPopNext_SkipsStaleEntry tests that queue entries without a task are dropped.
func (s *TaskServiceTestSuite) TestPopNext_SkipsStaleEntry() {
	ctx := context.Background()

	task := s.create("real", 3)
	s.Require().NoError(s.queueRepo.Add(ctx, s.userID, "00000000-0000-0000-0000-0000000000ff", 99))

	popped, err := s.taskService.PopNext(ctx, s.userID)
	s.Require().NoError(err)
	s.Require().NotNil(popped)
	s.Equal(task.ID, popped.ID)
}

// TestGetQueue_SkipsAndHealsStaleEntries tests best-effort queue reads.
func (s *TaskServiceTestSuite) TestGetQueue_SkipsAndHealsStaleEntries() {
	ctx := context.Background()

	task := s.create("real", 3)
	s.Require().NoError(s.queueRepo.Add(ctx, s.userID, "00000000-0000-0000-0000-0000000000ff", 99))

	view, err := s.taskService.GetQueue(ctx, s.userID, 10)
	s.Require().NoError(err)
	s.Require().Len(view.Tasks, 1)
	s.Equal(task.ID, view.Tasks[0].ID)
	s.Equal(1, view.TotalCount)
	s.Nil(view.Current)
}

// TestUpdateTask_Complete tests that completion removes the task and clears current.
func (s *TaskServiceTestSuite) TestUpdateTask_Complete() {
	ctx := context.Background()
	task := s.start("ship", 6)

	done, err := s.update(task.ID, domain.TaskStatusCompleted)
	s.Require().NoError(err)
	s.Equal(domain.TaskStatusCompleted, done.Status)
	s.NotNil(done.CompletedAt)

	current, err := s.taskService.CurrentTask(ctx, s.userID)
	s.Require().NoError(err)
	s.Nil(current)

	n, err := s.queueRepo.Len(ctx, s.userID)
	s.Require().NoError(err)
	s.Zero(n)

	stored, err := s.taskRepo.GetByID(ctx, task.ID)
	s.Require().NoError(err)
	s.NotNil(stored.CompletedAt)
}

// TestUpdateTask_BlockHalvesScore tests that blocking halves the score and keeps the task queued.
func (s *TaskServiceTestSuite) TestUpdateTask_BlockHalvesScore() {
	ctx := context.Background()
	task := s.start("review", 8)
	before := task.PriorityScore

	blocked, err := s.update(task.ID, domain.TaskStatusBlocked)
	s.Require().NoError(err)
	s.InDelta(before/2, blocked.PriorityScore, 0.01)

	entries, err := s.queueRepo.PeekTop(ctx, s.userID, 10)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(task.ID, entries[0].TaskID)

	current, err := s.queueRepo.GetCurrent(ctx, s.userID)
	s.Require().NoError(err)
	s.Empty(current)
}

// TestUpdateTask_DeferRequeuesAtBottom tests that deferral re-queues at near-zero score.
func (s *TaskServiceTestSuite) TestUpdateTask_DeferRequeuesAtBottom() {
	ctx := context.Background()
	task := s.start("later", 9)
	other := s.create("now", 1)

	deferred, err := s.update(task.ID, domain.TaskStatusDeferred)
	s.Require().NoError(err)
	s.InDelta(s.settings.Queue.DeferredScore, deferred.PriorityScore, 0.001)

	entries, err := s.queueRepo.PeekTop(ctx, s.userID, 10)
	s.Require().NoError(err)
	s.Require().Len(entries, 2)
	s.Equal(other.ID, entries[0].TaskID)
	s.Equal(task.ID, entries[1].TaskID)
}

// TestUpdateTask_InvalidTransitions tests lifecycle enforcement.
func (s *TaskServiceTestSuite) TestUpdateTask_InvalidTransitions() {
	started := s.start("y", 5)
	_, err := s.update(started.ID, domain.TaskStatusPending)
	s.ErrorIs(err, domain.ErrInvalidTransition)

	_, err = s.update(started.ID, domain.TaskStatusCompleted)
	s.Require().NoError(err)

	_, err = s.update(started.ID, domain.TaskStatusPending)
	s.ErrorIs(err, domain.ErrInvalidTransition)

	_, err = s.update(started.ID, domain.TaskStatusInProgress)
	s.ErrorIs(err, domain.ErrInvalidTransition)
}

// TestUpdateTask_CompleteQueuedTask tests completing a task that was never popped.
func (s *TaskServiceTestSuite) TestUpdateTask_CompleteQueuedTask() {
	ctx := context.Background()
	current := s.start("focus", 5)
	queued := s.create("done already", 4)

	done, err := s.update(queued.ID, domain.TaskStatusCompleted)
	s.Require().NoError(err)
	s.Equal(domain.TaskStatusCompleted, done.Status)
	s.NotNil(done.CompletedAt)

	n, err := s.queueRepo.Len(ctx, s.userID)
	s.Require().NoError(err)
	s.Zero(n)

	pointer, err := s.queueRepo.GetCurrent(ctx, s.userID)
	s.Require().NoError(err)
	s.Equal(current.ID, pointer)
}

// TestUpdateTask_DeferAndBlockQueuedTask tests moving a queued task between waiting states.
func (s *TaskServiceTestSuite) TestUpdateTask_DeferAndBlockQueuedTask() {
	ctx := context.Background()
	task := s.create("waiting", 8)
	other := s.create("next", 2)

	deferred, err := s.update(task.ID, domain.TaskStatusDeferred)
	s.Require().NoError(err)
	s.InDelta(s.settings.Queue.DeferredScore, deferred.PriorityScore, 0.001)

	entries, err := s.queueRepo.PeekTop(ctx, s.userID, 0)
	s.Require().NoError(err)
	s.Require().Len(entries, 2)
	s.Equal(other.ID, entries[0].TaskID)
	s.InDelta(s.settings.Queue.DeferredScore, entries[1].Score, 0.001)

	blocked, err := s.update(task.ID, domain.TaskStatusBlocked)
	s.Require().NoError(err)
	s.Equal(domain.TaskStatusBlocked, blocked.Status)

	n, err := s.queueRepo.Len(ctx, s.userID)
	s.Require().NoError(err)
	s.Equal(2, n)

	done, err := s.update(task.ID, domain.TaskStatusCompleted)
	s.Require().NoError(err)
	s.Equal(domain.TaskStatusCompleted, done.Status)

	entries, err = s.queueRepo.PeekTop(ctx, s.userID, 0)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(other.ID, entries[0].TaskID)
}

// TestUpdateTask_UrgencyOverride tests that an urgency override re-derives category and score.
func (s *TaskServiceTestSuite) TestUpdateTask_UrgencyOverride() {
	ctx := context.Background()
	task := s.create("bump", 3)

	urgency := 10
	updated, err := s.taskService.UpdateTask(ctx, s.userID, task.ID, domain.TaskUpdate{Urgency: &urgency})
	s.Require().NoError(err)
	s.Equal(domain.CategoryCritical, updated.Category)
	s.Greater(updated.PriorityScore, task.PriorityScore)

	entries, err := s.queueRepo.PeekTop(ctx, s.userID, 1)
	s.Require().NoError(err)
	s.InDelta(updated.PriorityScore, entries[0].Score, 0.01)
}

// TestUpdateTask_NotFound tests missing and foreign tasks.
func (s *TaskServiceTestSuite) TestUpdateTask_NotFound() {
	ctx := context.Background()
	status := domain.TaskStatusCompleted

	_, err := s.taskService.UpdateTask(ctx, s.userID, "00000000-0000-0000-0000-0000000000ff", domain.TaskUpdate{Status: &status})
	s.ErrorIs(err, domain.ErrTaskNotFound)

	task := s.create("mine", 5)
	_, err = s.taskService.UpdateTask(ctx, s.otherID, task.ID, domain.TaskUpdate{Status: &status})
	s.ErrorIs(err, domain.ErrTaskNotFound)
}

// TestRescore_RaisesWaitingTasks tests that rescoring picks up elapsed wait time.
func (s *TaskServiceTestSuite) TestRescore_RaisesWaitingTasks() {
	ctx := context.Background()
	task := s.create("old", 3)

	_, err := s.pool.Exec(ctx, `UPDATE tasks SET created_at = $1 WHERE id = $2`,
		time.Now().Add(-25*time.Hour), task.ID)
	s.Require().NoError(err)

	n, err := s.taskService.Rescore(ctx, s.userID)
	s.Require().NoError(err)
	s.Equal(1, n)

	entries, err := s.queueRepo.PeekTop(ctx, s.userID, 1)
	s.Require().NoError(err)
	s.InDelta(task.PriorityScore+10, entries[0].Score, 0.1)
}

// TestRescore_KeepsDeferredAndBlockedScores tests that rescoring respects waiting states.
func (s *TaskServiceTestSuite) TestRescore_KeepsDeferredAndBlockedScores() {
	ctx := context.Background()
	deferred := s.start("later", 9)
	_, err := s.update(deferred.ID, domain.TaskStatusDeferred)
	s.Require().NoError(err)
	blocked := s.start("stuck", 6)
	_, err = s.update(blocked.ID, domain.TaskStatusBlocked)
	s.Require().NoError(err)

	n, err := s.taskService.Rescore(ctx, s.userID)
	s.Require().NoError(err)
	s.Equal(2, n)

	entries, err := s.queueRepo.PeekTop(ctx, s.userID, 0)
	s.Require().NoError(err)
	s.Require().Len(entries, 2)
	s.Equal(blocked.ID, entries[0].TaskID)
	s.InDelta(blocked.PriorityScore/2, entries[0].Score, 0.01)
	s.Equal(deferred.ID, entries[1].TaskID)
	s.InDelta(s.settings.Queue.DeferredScore, entries[1].Score, 0.001)
}

// TestRescore_DoesNotOverwriteConcurrentDefer tests that a transition in flight
// during a rescore keeps the score it commits.
func (s *TaskServiceTestSuite) TestRescore_DoesNotOverwriteConcurrentDefer() {
	ctx := context.Background()
	task := s.create("racing", 9)
	other := s.create("steady", 3)

	tx, err := s.pool.Begin(ctx)
	s.Require().NoError(err)
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `UPDATE tasks SET status = 'deferred', priority_score = 0.1 WHERE id = $1`, task.ID)
	s.Require().NoError(err)
	_, err = tx.Exec(ctx, `UPDATE queue_entries SET score = 0.1 WHERE task_id = $1`, task.ID)
	s.Require().NoError(err)

	n, err := s.taskService.Rescore(ctx, s.userID)
	s.Require().NoError(err)
	s.Equal(1, n)

	s.Require().NoError(tx.Commit(ctx))

	entries, err := s.queueRepo.PeekTop(ctx, s.userID, 0)
	s.Require().NoError(err)
	s.Require().Len(entries, 2)
	s.Equal(other.ID, entries[0].TaskID)
	s.Equal(task.ID, entries[1].TaskID)
	s.InDelta(0.1, entries[1].Score, 0.001)
}

// TestRescore_SkipsTaskLockedByTransition tests that a locked task row is left alone.
func (s *TaskServiceTestSuite) TestRescore_SkipsTaskLockedByTransition() {
	ctx := context.Background()
	task := s.create("locked", 5)

	tx, err := s.pool.Begin(ctx)
	s.Require().NoError(err)
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `SELECT id FROM tasks WHERE id = $1 FOR UPDATE`, task.ID)
	s.Require().NoError(err)

	n, err := s.taskService.Rescore(ctx, s.userID)
	s.Require().NoError(err)
	s.Zero(n)

	s.Require().NoError(tx.Rollback(ctx))

	n, err = s.taskService.Rescore(ctx, s.userID)
	s.Require().NoError(err)
	s.Equal(1, n)
}

// TestRescoreAll tests rescoring across users.
func (s *TaskServiceTestSuite) TestRescoreAll() {
	ctx := context.Background()
	s.create("a", 5)
	_, err := s.taskService.CreateTask(ctx, s.otherID, domain.NewTaskInput{Title: "b", Urgency: 5})
	s.Require().NoError(err)

	n, err := s.taskService.RescoreAll(ctx)
	s.Require().NoError(err)
	s.Equal(2, n)
}

// TestTaskServiceTestSuite runs the test suite.
func TestTaskServiceTestSuite(t *testing.T) {
	suite.Run(t, new(TaskServiceTestSuite))
}
