package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mtlprog/deepflow/internal/config"
	"github.com/mtlprog/deepflow/internal/domain"
	"github.com/mtlprog/deepflow/internal/metrics"
	"github.com/mtlprog/deepflow/internal/priority"
	"github.com/mtlprog/deepflow/internal/repository"
)

// QueueView is a user's current task plus the top of their queue.
type QueueView struct {
	Current    *domain.Task
	Tasks      []*domain.Task
	TotalCount int
}

// TaskService coordinates task storage, scoring and the per-user queue.
// Every status change and its queue mutation commit in one transaction.
type TaskService struct {
	pool      *pgxpool.Pool
	taskRepo  *repository.TaskRepository
	eventRepo *repository.TaskEventRepository
	queueRepo *repository.QueueRepository
	focusRepo *repository.FocusRepository
	engine    *priority.Engine
	queue     config.QueueSettings
	validator *Validator
	now       func() time.Time
}

// NewTaskService creates a new TaskService.
func NewTaskService(
	pool *pgxpool.Pool,
	taskRepo *repository.TaskRepository,
	eventRepo *repository.TaskEventRepository,
	queueRepo *repository.QueueRepository,
	focusRepo *repository.FocusRepository,
	engine *priority.Engine,
	queue config.QueueSettings,
) *TaskService {
	return &TaskService{
		pool:      pool,
		taskRepo:  taskRepo,
		eventRepo: eventRepo,
		queueRepo: queueRepo,
		focusRepo: focusRepo,
		engine:    engine,
		queue:     queue,
		validator: NewValidator(),
		now:       time.Now,
	}
}

// begin opens a transaction; the returned func rolls back unless committed.
func (s *TaskService) begin(ctx context.Context) (pgx.Tx, func(), error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: begin transaction: %v", domain.ErrStorageUnavailable, err)
	}
	rollback := func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Error("failed to rollback transaction", "error", err)
		}
	}
	return tx, rollback, nil
}

// createEventAndCommit persists a task event within the transaction, then commits.
func (s *TaskService) createEventAndCommit(ctx context.Context, tx pgx.Tx, event *domain.TaskEvent) error {
	if err := s.eventRepo.Create(ctx, tx, event); err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// currentContext returns the user's stored project context, "" when unset.
func (s *TaskService) currentContext(ctx context.Context, userID string) (string, error) {
	rec, err := s.focusRepo.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", nil
	}
	return rec.Context, nil
}

// CreateTask validates input, scores it and stores it as a pending queued task.
func (s *TaskService) CreateTask(ctx context.Context, userID string, in domain.NewTaskInput) (*domain.Task, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	currentContext, err := s.currentContext(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get current context: %w", err)
	}

	now := s.now()
	task := &domain.Task{
		OwnerID:          userID,
		Title:            in.Title,
		Summary:          in.Summary,
		SuggestedAction:  in.SuggestedAction,
		Urgency:          in.Urgency,
		Category:         in.Category,
		EstimatedMinutes: in.EstimatedMinutes,
		Deadline:         in.Deadline,
		ContextTags:      in.ContextTags,
		Status:           domain.TaskStatusPending,
	}
	task.PriorityScore = s.engine.ScoreAt(now, priority.Input{
		Urgency:        task.Urgency,
		Deadline:       task.Deadline,
		CreatedAt:      &now,
		ContextTags:    task.ContextTags,
		CurrentContext: currentContext,
	})

	tx, rollback, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer rollback()

	if _, err := s.taskRepo.Create(ctx, tx, task); err != nil {
		return nil, err
	}
	if err := s.queueRepo.WithTx(tx).Add(ctx, userID, task.ID, task.PriorityScore); err != nil {
		return nil, err
	}

	status := task.Status
	score := task.PriorityScore
	event := &domain.TaskEvent{
		TaskID:    task.ID,
		UserID:    userID,
		Type:      domain.EventTypeCreated,
		NewStatus: &status,
		Score:     &score,
	}
	if err := s.createEventAndCommit(ctx, tx, event); err != nil {
		return nil, err
	}

	metrics.RecordTaskOp(ctx, "create", string(task.Status))
	slog.Info("task created",
		"task_id", task.ID,
		"user_id", userID,
		"urgency", task.Urgency,
		"category", task.Category,
		"score", task.PriorityScore,
	)

	return task, nil
}

// GetTask returns one task owned by userID.
func (s *TaskService) GetTask(ctx context.Context, userID, taskID string) (*domain.Task, error) {
	task, err := s.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !task.IsOwnedBy(userID) {
		return nil, domain.ErrTaskNotFound
	}
	return task, nil
}

// GetQueue rescores the user's queue and returns the current task and the
// top limit queued tasks. Stale queue entries are skipped and removed.
func (s *TaskService) GetQueue(ctx context.Context, userID string, limit int) (*QueueView, error) {
	if limit <= 0 {
		limit = s.queue.PeekSize
	}
	if limit > s.queue.MaxPeekSize {
		limit = s.queue.MaxPeekSize
	}

	if _, err := s.Rescore(ctx, userID); err != nil {
		return nil, err
	}

	entries, err := s.queueRepo.PeekTop(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	tasks, err := s.hydrate(ctx, userID, entries)
	if err != nil {
		return nil, err
	}

	total, err := s.queueRepo.Len(ctx, userID)
	if err != nil {
		return nil, err
	}

	current, err := s.CurrentTask(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &QueueView{Current: current, Tasks: tasks, TotalCount: total}, nil
}

// hydrate loads the tasks behind entries, preserving order. Entries whose
// task no longer exists are removed from the queue.
func (s *TaskService) hydrate(ctx context.Context, userID string, entries []repository.QueueEntry) ([]*domain.Task, error) {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.TaskID
	}

	byID, err := s.taskRepo.GetByIDs(ctx, userID, ids)
	if err != nil {
		return nil, err
	}

	tasks := make([]*domain.Task, 0, len(entries))
	for _, e := range entries {
		task, ok := byID[e.TaskID]
		if !ok {
			s.dropStale(ctx, userID, e.TaskID)
			continue
		}
		task.PriorityScore = e.Score
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func (s *TaskService) dropStale(ctx context.Context, userID, taskID string) {
	slog.Warn("skipping stale queue entry", "user_id", userID, "task_id", taskID)
	if _, err := s.queueRepo.Remove(ctx, userID, taskID); err != nil {
		slog.Error("failed to remove stale queue entry", "user_id", userID, "task_id", taskID, "error", err)
	}
}

// CurrentTask returns the user's current task, or nil when there is none.
// A pointer to a task that no longer exists is cleared.
func (s *TaskService) CurrentTask(ctx context.Context, userID string) (*domain.Task, error) {
	taskID, err := s.queueRepo.GetCurrent(ctx, userID)
	if err != nil {
		return nil, err
	}
	if taskID == "" {
		return nil, nil
	}

	task, err := s.taskRepo.GetByID(ctx, taskID)
	if errors.Is(err, domain.ErrTaskNotFound) {
		slog.Warn("clearing stale current task", "user_id", userID, "task_id", taskID)
		if err := s.queueRepo.ClearCurrentIf(ctx, userID, taskID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

// PopNext removes the highest-scored startable task from the queue, marks it
// in_progress and makes it the current task. Returns nil when the queue is empty.
func (s *TaskService) PopNext(ctx context.Context, userID string) (*domain.Task, error) {
	for {
		task, retry, err := s.popOnce(ctx, userID)
		if err != nil || !retry {
			return task, err
		}
	}
}

// popOnce pops one entry. retry is true when the entry was stale and
// another pop should be attempted.
func (s *TaskService) popOnce(ctx context.Context, userID string) (*domain.Task, bool, error) {
	tx, rollback, err := s.begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer rollback()

	queue := s.queueRepo.WithTx(tx)
	entry, err := queue.PopHighest(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	if entry == nil {
		return nil, false, nil
	}

	task, err := s.taskRepo.GetByIDForUpdate(ctx, tx, entry.TaskID)
	if errors.Is(err, domain.ErrTaskNotFound) || (err == nil && !task.IsOwnedBy(userID)) {
		// Commit the removal of the dangling entry and try the next one.
		slog.Warn("skipping stale queue entry", "user_id", userID, "task_id", entry.TaskID)
		if err := tx.Commit(ctx); err != nil {
			return nil, false, fmt.Errorf("commit transaction: %w", err)
		}
		return nil, true, nil
	}
	if err != nil {
		return nil, false, err
	}

	if err := s.validator.CanStart(task); err != nil {
		// A task that cannot start has no business in the queue.
		slog.Warn("dropping unstartable queue entry", "task_id", task.ID, "status", task.Status)
		if err := tx.Commit(ctx); err != nil {
			return nil, false, fmt.Errorf("commit transaction: %w", err)
		}
		return nil, true, nil
	}

	oldStatus := task.Status
	newStatus := domain.TaskStatusInProgress
	if err := s.taskRepo.UpdateStatus(ctx, tx, task.ID, oldStatus, newStatus, entry.Score, nil); err != nil {
		return nil, false, err
	}
	if err := queue.SetCurrent(ctx, userID, task.ID); err != nil {
		return nil, false, err
	}

	event := &domain.TaskEvent{
		TaskID:    task.ID,
		UserID:    userID,
		Type:      domain.EventTypeStarted,
		OldStatus: &oldStatus,
		NewStatus: &newStatus,
		Score:     &entry.Score,
	}
	if err := s.createEventAndCommit(ctx, tx, event); err != nil {
		return nil, false, err
	}

	task.Status = newStatus
	task.PriorityScore = entry.Score

	metrics.RecordTaskOp(ctx, "pop", string(newStatus))
	slog.Info("task popped",
		"task_id", task.ID,
		"user_id", userID,
		"old_status", oldStatus,
		"score", entry.Score,
	)

	return task, false, nil
}

// UpdateTask applies a partial update. A status change runs the lifecycle
// side effects on the queue and the current pointer in the same transaction.
func (s *TaskService) UpdateTask(ctx context.Context, userID, taskID string, upd domain.TaskUpdate) (*domain.Task, error) {
	if err := upd.Validate(); err != nil {
		return nil, err
	}

	tx, rollback, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer rollback()

	task, err := s.taskRepo.GetByIDForUpdate(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}
	if !task.IsOwnedBy(userID) {
		return nil, domain.ErrTaskNotFound
	}

	oldStatus := task.Status
	newStatus := oldStatus
	if upd.Status != nil {
		newStatus = *upd.Status
	}
	if err := s.validator.CanTransition(task, newStatus); err != nil {
		return nil, err
	}

	queue := s.queueRepo.WithTx(tx)
	fieldsChanged := s.applyFields(task, upd)
	if fieldsChanged {
		if err := s.rescoreFields(ctx, task); err != nil {
			return nil, err
		}
		queued := newStatus == oldStatus && task.Status.CanStart()
		if queued {
			task.PriorityScore = QueuedScore(task.Status, task.PriorityScore, s.queue)
		}
		if err := s.taskRepo.UpdateFields(ctx, tx, task); err != nil {
			return nil, err
		}
		if queued {
			if err := queue.Add(ctx, userID, task.ID, task.PriorityScore); err != nil {
				return nil, err
			}
		}
	}

	eventType := domain.EventTypeUpdated
	if newStatus != oldStatus {
		eventType = domain.EventTypeStatusChanged
		if err := s.applyTransition(ctx, tx, queue, task, newStatus); err != nil {
			return nil, err
		}
	} else if !fieldsChanged {
		// Nothing to do.
		return task, nil
	}

	score := task.PriorityScore
	event := &domain.TaskEvent{
		TaskID:    task.ID,
		UserID:    userID,
		Type:      eventType,
		OldStatus: &oldStatus,
		NewStatus: &newStatus,
		Score:     &score,
	}
	if err := s.createEventAndCommit(ctx, tx, event); err != nil {
		return nil, err
	}

	metrics.RecordTaskOp(ctx, "update", string(task.Status))
	slog.Info("task updated",
		"task_id", task.ID,
		"user_id", userID,
		"old_status", oldStatus,
		"new_status", newStatus,
		"score", task.PriorityScore,
		"event_id", event.ID,
	)

	return task, nil
}

// applyFields copies non-status fields from upd into task and reports
// whether anything changed.
func (s *TaskService) applyFields(task *domain.Task, upd domain.TaskUpdate) bool {
	changed := false
	if upd.Title != nil && *upd.Title != task.Title {
		task.Title = *upd.Title
		changed = true
	}
	if upd.Summary != nil && *upd.Summary != task.Summary {
		task.Summary = *upd.Summary
		changed = true
	}
	if upd.Urgency != nil && *upd.Urgency != task.Urgency {
		task.Urgency = *upd.Urgency
		task.Category = domain.CategoryForUrgency(task.Urgency)
		changed = true
	}
	return changed
}

// rescoreFields recomputes the engine score after an urgency override.
func (s *TaskService) rescoreFields(ctx context.Context, task *domain.Task) error {
	currentContext, err := s.currentContext(ctx, task.OwnerID)
	if err != nil {
		return fmt.Errorf("get current context: %w", err)
	}
	task.PriorityScore = s.engine.ScoreAt(s.now(), priority.InputFromTask(task, currentContext))
	return nil
}

// applyTransition writes the new status and its queue side effects.
func (s *TaskService) applyTransition(
	ctx context.Context,
	tx pgx.Tx,
	queue *repository.QueueRepository,
	task *domain.Task,
	newStatus domain.TaskStatus,
) error {
	effect := PlanTransition(task, newStatus, s.queue, s.now())

	if err := s.taskRepo.UpdateStatus(ctx, tx, task.ID, task.Status, newStatus, effect.Score, effect.CompletedAt); err != nil {
		return err
	}
	if effect.Dequeue {
		if _, err := queue.Remove(ctx, task.OwnerID, task.ID); err != nil {
			return err
		}
	}
	if effect.Enqueue {
		if err := queue.Add(ctx, task.OwnerID, task.ID, effect.Score); err != nil {
			return err
		}
	}
	if effect.SetCurrent {
		if err := queue.SetCurrent(ctx, task.OwnerID, task.ID); err != nil {
			return err
		}
	}
	if effect.ClearCurrent {
		if err := queue.ClearCurrentIf(ctx, task.OwnerID, task.ID); err != nil {
			return err
		}
	}

	task.Status = newStatus
	task.PriorityScore = effect.Score
	task.CompletedAt = effect.CompletedAt
	return nil
}

// Rescore recalculates the score of every task in the user's queue and
// returns how many entries were updated.
//
// Entries and tasks are locked for the duration of the update, so a status
// change committed meanwhile cannot be overwritten with a stale score. Rows
// locked by an in-flight pop or transition are left for the next pass.
func (s *TaskService) Rescore(ctx context.Context, userID string) (int, error) {
	currentContext, err := s.currentContext(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("get current context: %w", err)
	}

	tx, rollback, err := s.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer rollback()

	queue := s.queueRepo.WithTx(tx)
	entries, err := queue.LockEntries(ctx, userID)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.TaskID
	}
	byID, err := s.taskRepo.GetByIDsForUpdate(ctx, tx, userID, ids)
	if err != nil {
		return 0, err
	}

	tasks := make([]*domain.Task, 0, len(byID))
	for _, t := range byID {
		tasks = append(tasks, t)
	}
	engineScores := s.engine.RecalculateAll(tasks, currentContext)

	scores := make(map[string]float64, len(engineScores))
	for id, score := range engineScores {
		scores[id] = QueuedScore(byID[id].Status, score, s.queue)
	}

	if err := queue.UpdateScores(ctx, userID, scores); err != nil {
		return 0, err
	}
	if err := s.taskRepo.UpdateScores(ctx, tx, scores); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}

	metrics.RecordTaskOp(ctx, "rescore", "queued")
	slog.Debug("queue rescored", "user_id", userID, "tasks", len(scores), "skipped", len(entries)-len(scores))

	return len(scores), nil
}

// RescoreAll rescores every user with queued tasks. Failures for one user
// do not stop the others.
func (s *TaskService) RescoreAll(ctx context.Context) (int, error) {
	users, err := s.queueRepo.UsersWithEntries(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	var errs []error
	for _, userID := range users {
		n, err := s.Rescore(ctx, userID)
		if err != nil {
			slog.Error("failed to rescore queue", "user_id", userID, "error", err)
			errs = append(errs, fmt.Errorf("user %s: %w", userID, err))
			continue
		}
		total += n
	}

	slog.Info("rescored queues", "users", len(users), "tasks", total, "failed", len(errs))

	return total, errors.Join(errs...)
}
