// Package notify defines the push-notification collaborator. Delivery
// is fire-and-forget: callers log but never fail on notifier errors.
package notify

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// Kind identifies the type of update being published.
type Kind string

const (
	KindIssueCreated Kind = "issue_created"
	KindIssueUpdated Kind = "issue_updated"
	KindIssueDeleted Kind = "issue_deleted"
	KindSummary      Kind = "summary"
)

// Event is one structured update keyed by issue.
type Event struct {
	Kind         Kind
	RepoFullName string
	IssueID      int64
	IssueNumber  int
	Title        string
}

// Notifier publishes update events to the real-time channel.
type Notifier interface {
	Publish(ctx context.Context, ev Event) error
}

// Noop is a Notifier that discards every event.
type Noop struct{}

// Publish implements Notifier.
func (Noop) Publish(context.Context, Event) error { return nil }

// Logger is a Notifier that writes events to the log. It stands in for
// the real push channel in CLI runs.
type Logger struct {
	log zerolog.Logger
}

// NewLogger creates a logging notifier.
func NewLogger(log zerolog.Logger) *Logger {
	return &Logger{log: log}
}

// Publish implements Notifier.
func (l *Logger) Publish(_ context.Context, ev Event) error {
	l.log.Debug().
		Str("kind", string(ev.Kind)).
		Str("repo", ev.RepoFullName).
		Int("issue", ev.IssueNumber).
		Msg("notification published")
	return nil
}

// Retrying wraps a Notifier with capped exponential backoff. The core
// sync and webhook paths never retry internally; this wrapper is where
// delivery retry lives when a deployment wants it.
type Retrying struct {
	next        Notifier
	maxRetries  uint64
	maxInterval time.Duration
}

// NewRetrying creates a retrying wrapper around next.
func NewRetrying(next Notifier, maxRetries uint64) *Retrying {
	return &Retrying{
		next:        next,
		maxRetries:  maxRetries,
		maxInterval: 10 * time.Second,
	}
}

// Publish implements Notifier.
func (r *Retrying) Publish(ctx context.Context, ev Event) error {
	policy := backoff.NewExponentialBackOff()
	policy.MaxInterval = r.maxInterval

	op := func() error {
		return r.next.Publish(ctx, ev)
	}
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, r.maxRetries), ctx))
}
