// Package notification delivers rendered signal alerts to subscribers over
// external channels (Telegram, webhooks, or the log for development).
package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"signal-enginev1/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel    `json:"level"`
	Title   string        `json:"title"`
	Message string        `json:"message"`
	Signal  *model.Signal `json:"signal,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert to one recipient. Returns error if delivery fails.
	Send(ctx context.Context, recipient string, alert Alert) error
}

// ErrRateLimited matches any *RateLimitError via errors.Is.
var ErrRateLimited = errors.New("notification: rate limited")

// RateLimitError is returned when the channel asks the sender to back off.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("notification: rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// LogNotifier is a simple notifier that logs alerts (useful for development).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, recipient string, alert Alert) error {
	log.Printf("[notify] [%s] to=%s %s: %s", alert.Level, recipient, alert.Title, alert.Message)
	return nil
}
