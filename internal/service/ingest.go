package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mtlprog/deepflow/internal/classifier"
	"github.com/mtlprog/deepflow/internal/config"
	"github.com/mtlprog/deepflow/internal/domain"
	"github.com/mtlprog/deepflow/internal/metrics"
	"github.com/mtlprog/deepflow/internal/notify"
)

// TaskCreator stores a classified message as a queued task.
type TaskCreator interface {
	CreateTask(ctx context.Context, userID string, in domain.NewTaskInput) (*domain.Task, error)
}

// FocusReader reads a user's focus state.
type FocusReader interface {
	GetState(ctx context.Context, userID string) (domain.FocusState, error)
}

// Decision is the outcome of processing one message.
type Decision struct {
	Task               *domain.Task // nil when the message was suppressed
	Classification     domain.Classification
	State              domain.FocusState
	Interrupt          bool
	Notified           bool
	Suppressed         bool
	AutoReplySuggested bool
}

// Pipeline turns incoming messages into queued tasks: classify, score,
// store, then notify when the user's focus state allows it.
type Pipeline struct {
	classifier classifier.Classifier
	tasks      TaskCreator
	focus      FocusReader
	dispatcher notify.Dispatcher
	policy     domain.InterruptPolicy
	settings   config.IngestSettings
}

// NewPipeline creates a new Pipeline.
func NewPipeline(
	c classifier.Classifier,
	tasks TaskCreator,
	focus FocusReader,
	dispatcher notify.Dispatcher,
	policy domain.InterruptPolicy,
	settings config.IngestSettings,
) *Pipeline {
	return &Pipeline{
		classifier: c,
		tasks:      tasks,
		focus:      focus,
		dispatcher: dispatcher,
		policy:     policy,
		settings:   settings,
	}
}

// Process classifies msg, stores it and decides whether to interrupt.
// Classifier and dispatcher failures never fail the message; storage
// failures do, and nothing is partially committed.
func (p *Pipeline) Process(ctx context.Context, msg domain.Message) (*Decision, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	state, err := p.focus.GetState(ctx, msg.UserID)
	if err != nil {
		return nil, fmt.Errorf("get focus state: %w", err)
	}

	c := p.classify(ctx, msg, state)
	decision := &Decision{Classification: c, State: state}

	if c.Category == domain.CategoryDiscard {
		decision.Suppressed = true
		metrics.RecordIngest(ctx, string(msg.Source), string(c.Category), false, c.Fallback)
		slog.Info("message suppressed",
			"user_id", msg.UserID,
			"source", msg.Source,
			"source_id", msg.SourceID,
			"urgency", c.Urgency,
		)
		return decision, nil
	}

	task, err := p.tasks.CreateTask(ctx, msg.UserID, domain.NewTaskInput{
		Title:            titleFor(msg, c),
		Summary:          c.Summary,
		SuggestedAction:  c.SuggestedAction,
		Urgency:          c.Urgency,
		Category:         c.Category,
		EstimatedMinutes: c.EstimatedMinutes,
		ContextTags:      c.ContextTags,
	})
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	decision.Task = task

	decision.Interrupt = p.policy.CanInterrupt(state, c.Urgency)
	if decision.Interrupt {
		decision.Notified = p.dispatch(ctx, task)
	} else {
		decision.AutoReplySuggested = state != domain.FocusIdle && c.Urgency <= p.settings.AutoReplyMaxUrgency
	}

	metrics.RecordIngest(ctx, string(msg.Source), string(c.Category), decision.Interrupt, c.Fallback)
	slog.Info("message processed",
		"user_id", msg.UserID,
		"task_id", task.ID,
		"source", msg.Source,
		"state", state,
		"urgency", c.Urgency,
		"category", c.Category,
		"interrupt", decision.Interrupt,
		"notified", decision.Notified,
		"fallback", c.Fallback,
	)

	return decision, nil
}

// classify calls the classifier with a bounded timeout and substitutes the
// safe default on timeout, error or invalid output.
func (p *Pipeline) classify(ctx context.Context, msg domain.Message, state domain.FocusState) domain.Classification {
	cctx, cancel := context.WithTimeout(ctx, p.settings.ClassifierTimeout)
	defer cancel()

	start := time.Now()
	c, err := p.classifier.Classify(cctx, classifier.Request{
		Sender:  msg.Sender,
		Source:  msg.Source,
		Content: msg.Content,
		State:   state,
	})
	if err == nil {
		err = c.Normalize(msg.Content)
	}
	if err != nil {
		slog.Warn("classification unavailable, using default",
			"user_id", msg.UserID,
			"source", msg.Source,
			"error", err,
		)
		c = domain.FallbackClassification(msg.Content)
	}
	metrics.RecordClassifierDuration(ctx, time.Since(start).Seconds(), c.Fallback)
	return c
}

// dispatch notifies the user about task. Failures are logged and reported
// as not notified.
func (p *Pipeline) dispatch(ctx context.Context, task *domain.Task) bool {
	dctx, cancel := context.WithTimeout(ctx, p.settings.DispatchTimeout)
	defer cancel()

	n := domain.Notification{
		UserID: task.OwnerID,
		TaskID: task.ID,
		Title:  task.Title,
		Body:   task.SuggestedAction,
		Level:  domain.LevelForCategory(task.Category),
	}
	if err := p.dispatcher.Dispatch(dctx, n); err != nil {
		slog.Error("failed to dispatch notification", "task_id", task.ID, "error", err)
		return false
	}
	return true
}

// titleFor builds a task title from the sender and the summary.
func titleFor(msg domain.Message, c domain.Classification) string {
	title := c.Summary
	if title == "" {
		title = msg.Content
	}
	return domain.Truncate(fmt.Sprintf("[%s] %s: %s", msg.Source, msg.Sender, title), domain.MaxTitleLength)
}
