// Package priority computes the dynamic priority score that orders a user's queue.
//
// A score is a weighted sum of four components, each on a 0-100 scale:
//
//	score = Wu*(urgency*10) + Wd*deadline + Ww*wait + contextBonus
//
// The deadline and wait components depend on the current time, so scores drift
// and must be recomputed whenever the queue is read or reordered.
package priority

import (
	"math"
	"time"

	"github.com/mtlprog/deepflow/internal/domain"
)

const (
	maxComponent = 100.0

	// contextBonusPoints is multiplied by the context weight.
	contextBonusPoints = 50.0

	// waitPointsPerHour makes the wait component reach its cap after 50 hours.
	waitPointsPerHour = 2.0
)

// Weights are the multipliers of the score components. They are expected,
// but not required, to sum to at most 1.
type Weights struct {
	Urgency  float64 `yaml:"urgency"`
	Deadline float64 `yaml:"deadline"`
	Wait     float64 `yaml:"wait"`
	Context  float64 `yaml:"context"`
}

// DefaultWeights returns 0.4 / 0.3 / 0.2 / 0.1.
func DefaultWeights() Weights {
	return Weights{Urgency: 0.4, Deadline: 0.3, Wait: 0.2, Context: 0.1}
}

// Input holds everything the score depends on besides the clock.
type Input struct {
	Urgency        int
	Deadline       *time.Time
	CreatedAt      *time.Time
	ContextTags    []string
	CurrentContext string
}

// InputFromTask builds an Input from a stored task.
func InputFromTask(task *domain.Task, currentContext string) Input {
	in := Input{
		Urgency:        task.Urgency,
		Deadline:       task.Deadline,
		ContextTags:    task.ContextTags,
		CurrentContext: currentContext,
	}
	if !task.CreatedAt.IsZero() {
		createdAt := task.CreatedAt
		in.CreatedAt = &createdAt
	}
	return in
}

// Engine is a pure, deterministic scorer. Its only dependency is the clock.
type Engine struct {
	weights Weights
	now     func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates an Engine with the given weights.
func NewEngine(weights Weights, opts ...Option) *Engine {
	e := &Engine{weights: weights, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Weights returns the engine's weights.
func (e *Engine) Weights() Weights {
	return e.weights
}

// Score computes the priority score of in at the current time.
func (e *Engine) Score(in Input) float64 {
	return e.ScoreAt(e.now(), in)
}

// ScoreAt computes the priority score of in as of now, rounded to two decimals.
// Urgency is not validated here.
func (e *Engine) ScoreAt(now time.Time, in Input) float64 {
	score := e.weights.Urgency * float64(in.Urgency*10)
	score += e.weights.Deadline * DeadlineComponent(now, in.Deadline)
	score += e.weights.Wait * WaitComponent(now, in.CreatedAt)
	if matchesContext(in.ContextTags, in.CurrentContext) {
		score += e.weights.Context * contextBonusPoints
	}
	return round2(score)
}

// ScoreTask is shorthand for Score(InputFromTask(task, currentContext)).
func (e *Engine) ScoreTask(task *domain.Task, currentContext string) float64 {
	return e.Score(InputFromTask(task, currentContext))
}

// RecalculateAll scores every task independently at a single instant and
// returns the scores keyed by task ID.
func (e *Engine) RecalculateAll(tasks []*domain.Task, currentContext string) map[string]float64 {
	now := e.now()
	scores := make(map[string]float64, len(tasks))
	for _, task := range tasks {
		scores[task.ID] = e.ScoreAt(now, InputFromTask(task, currentContext))
	}
	return scores
}

// DeadlineComponent is 0 without a deadline, 100 once the deadline is reached,
// and min(100, 100/max(1, hours left)) before it.
func DeadlineComponent(now time.Time, deadline *time.Time) float64 {
	if deadline == nil {
		return 0
	}
	hours := deadline.Sub(now).Hours()
	if hours <= 0 {
		return maxComponent
	}
	return math.Min(maxComponent, maxComponent/math.Max(1, hours))
}

// WaitComponent grows by two points per hour waited and caps at 100.
func WaitComponent(now time.Time, createdAt *time.Time) float64 {
	if createdAt == nil {
		return 0
	}
	hours := now.Sub(*createdAt).Hours()
	if hours <= 0 {
		return 0
	}
	return math.Min(maxComponent, hours*waitPointsPerHour)
}

func matchesContext(tags []string, current string) bool {
	task := domain.Task{ContextTags: tags}
	return task.HasContext(current)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
