package domain

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Source is the channel an incoming message arrived on.
type Source string

const (
	SourceSlack    Source = "slack"
	SourceEmail    Source = "email"
	SourceTelegram Source = "telegram"
	SourceJira     Source = "jira"
	SourceNotion   Source = "notion"
	SourceManual   Source = "manual"
)

// IsValid checks if the source is one of the known channels.
func (s Source) IsValid() bool {
	switch s {
	case SourceSlack, SourceEmail, SourceTelegram, SourceJira, SourceNotion, SourceManual:
		return true
	default:
		return false
	}
}

// Message is an incoming item to be classified and routed.
type Message struct {
	UserID   string
	Source   Source
	SourceID string
	Sender   string
	Content  string
	Received time.Time
}

// Validate checks the message before it reaches the classifier.
func (m *Message) Validate() error {
	if m.Source == "" {
		m.Source = SourceManual
	}
	if !m.Source.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidSource, m.Source)
	}
	if strings.TrimSpace(m.Content) == "" {
		return ErrEmptyContent
	}
	if m.Sender == "" {
		m.Sender = "unknown"
	}
	return nil
}

// Classification is the validated result of the urgency classifier.
type Classification struct {
	Urgency          int
	Category         Category
	Summary          string
	SuggestedAction  string
	EstimatedMinutes int
	ContextTags      []string
	Fallback         bool // true when the safe default was substituted
}

// Fallback defaults used when the classifier is unavailable or returns garbage.
const (
	FallbackUrgency = 5
	FallbackAction  = "Review this message"
)

// FallbackClassification is the safe default for a message that could not be classified.
func FallbackClassification(content string) Classification {
	return Classification{
		Urgency:          FallbackUrgency,
		Category:         CategoryForUrgency(FallbackUrgency),
		Summary:          Truncate(strings.TrimSpace(content), MaxSummaryLength),
		SuggestedAction:  FallbackAction,
		EstimatedMinutes: DefaultEstimatedMinutes,
		ContextTags:      []string{},
		Fallback:         true,
	}
}

// Normalize validates c against content and fills defaults. An urgency outside
// 0-10 is rejected; a category that disagrees with the urgency band is kept
// (the classifier is authoritative) and logged.
func (c *Classification) Normalize(content string) error {
	if err := ValidateUrgency(c.Urgency); err != nil {
		return err
	}
	expected := CategoryForUrgency(c.Urgency)
	switch {
	case c.Category == "":
		c.Category = expected
	case !c.Category.IsValid():
		return fmt.Errorf("%w: %q", ErrInvalidCategory, c.Category)
	case c.Category != expected:
		slog.Warn("classifier category disagrees with urgency band",
			"urgency", c.Urgency,
			"category", c.Category,
			"expected_category", expected,
		)
	}
	c.Summary = strings.TrimSpace(c.Summary)
	if c.Summary == "" {
		c.Summary = strings.TrimSpace(content)
	}
	c.Summary = Truncate(c.Summary, MaxSummaryLength)
	c.SuggestedAction = Truncate(strings.TrimSpace(c.SuggestedAction), MaxSuggestedActionLength)
	if c.EstimatedMinutes <= 0 {
		c.EstimatedMinutes = DefaultEstimatedMinutes
	}
	if c.ContextTags == nil {
		c.ContextTags = []string{}
	}
	return nil
}
