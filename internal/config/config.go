// Package config holds defaults and tunable settings for the focus engine.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mtlprog/deepflow/internal/domain"
	"github.com/mtlprog/deepflow/internal/priority"
)

const (
	// DefaultPort is the default HTTP server port.
	DefaultPort = "8080"

	// DefaultDatabaseURL is empty; must be provided via flag or environment.
	DefaultDatabaseURL = ""

	// DefaultCORSOrigins allows the local dashboard.
	DefaultCORSOrigins = "http://localhost:3000"

	// DefaultOpenAIBaseURL is the OpenAI-compatible API root used by the classifier.
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"

	// DefaultLLMModel is the model asked to classify messages.
	DefaultLLMModel = "gpt-4-turbo"
)

// Settings are the tunables of the queue, the focus gate and the ingestion pipeline.
type Settings struct {
	Weights   priority.Weights       `yaml:"weights"`
	Interrupt domain.InterruptPolicy `yaml:"interrupt"`
	Queue     QueueSettings          `yaml:"queue"`
	Ingest    IngestSettings         `yaml:"ingest"`
}

// QueueSettings control how status transitions reorder the queue.
type QueueSettings struct {
	PeekSize      int     `yaml:"peek_size"`
	MaxPeekSize   int     `yaml:"max_peek_size"`
	DeferredScore float64 `yaml:"deferred_score"`
	BlockedFactor float64 `yaml:"blocked_factor"`
}

// IngestSettings bound the calls to external collaborators.
type IngestSettings struct {
	ClassifierTimeout   time.Duration `yaml:"classifier_timeout"`
	DispatchTimeout     time.Duration `yaml:"dispatch_timeout"`
	AutoReplyMaxUrgency int           `yaml:"auto_reply_max_urgency"`
}

// Default returns the built-in settings.
func Default() Settings {
	return Settings{
		Weights:   priority.DefaultWeights(),
		Interrupt: domain.DefaultInterruptPolicy(),
		Queue: QueueSettings{
			PeekSize:      10,
			MaxPeekSize:   100,
			DeferredScore: 0.1,
			BlockedFactor: 0.5,
		},
		Ingest: IngestSettings{
			ClassifierTimeout:   10 * time.Second,
			DispatchTimeout:     5 * time.Second,
			AutoReplyMaxUrgency: 7,
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path.
// An empty path returns the defaults.
func Load(path string) (Settings, error) {
	s := Default()
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse config file %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return s, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return s, nil
}

// Validate rejects settings that would break queue ordering or the focus gate.
func (s Settings) Validate() error {
	w := s.Weights
	if w.Urgency < 0 || w.Deadline < 0 || w.Wait < 0 || w.Context < 0 {
		return errors.New("priority weights must not be negative")
	}
	if err := validThreshold("shallow_threshold", s.Interrupt.ShallowThreshold); err != nil {
		return err
	}
	if err := validThreshold("flow_threshold", s.Interrupt.FlowThreshold); err != nil {
		return err
	}
	if s.Queue.PeekSize < 1 || s.Queue.MaxPeekSize < s.Queue.PeekSize {
		return fmt.Errorf("queue peek_size must be between 1 and max_peek_size (%d)", s.Queue.MaxPeekSize)
	}
	if s.Queue.DeferredScore < 0 {
		return errors.New("queue deferred_score must not be negative")
	}
	if s.Queue.BlockedFactor < 0 || s.Queue.BlockedFactor > 1 {
		return errors.New("queue blocked_factor must be between 0 and 1")
	}
	if s.Ingest.ClassifierTimeout <= 0 || s.Ingest.DispatchTimeout <= 0 {
		return errors.New("ingest timeouts must be positive")
	}
	return nil
}

func validThreshold(name string, v int) error {
	if v < domain.MinUrgency || v > domain.MaxUrgency+1 {
		return fmt.Errorf("interrupt %s must be between %d and %d, got %d",
			name, domain.MinUrgency, domain.MaxUrgency+1, v)
	}
	return nil
}
