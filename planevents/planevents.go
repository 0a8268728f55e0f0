// Package planevents publishes plan progress on the message bus and lets
// other processes follow it.
package planevents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/contenox/planner/libbus"
	"github.com/contenox/planner/plantypes"
)

const DefaultSubject = "planner.plan"

// Snapshot is the message published for every plan update.
type Snapshot struct {
	Steps      []*plantypes.Step `json:"steps"`
	Total      int               `json:"total"`
	Pending    int               `json:"pending"`
	InProgress int               `json:"inProgress"`
	Completed  int               `json:"completed"`
	Failed     int               `json:"failed"`
	At         time.Time         `json:"at"`
}

func NewSnapshot(steps []*plantypes.Step, at time.Time) Snapshot {
	return Snapshot{
		Steps:      steps,
		Total:      len(steps),
		Pending:    plantypes.Count(steps, plantypes.StepStatusPending),
		InProgress: plantypes.Count(steps, plantypes.StepStatusInProgress),
		Completed:  plantypes.Count(steps, plantypes.StepStatusCompleted),
		Failed:     plantypes.Count(steps, plantypes.StepStatusFailed),
		At:         at,
	}
}

func (s Snapshot) String() string {
	out := fmt.Sprintf("%d/%d completed", s.Completed, s.Total)
	if s.Failed > 0 {
		out += fmt.Sprintf(", %d failed", s.Failed)
	}
	if s.InProgress > 0 {
		out += fmt.Sprintf(", %d running", s.InProgress)
	}
	return out
}

type observerConfig struct {
	timeout time.Duration
	now     func() time.Time
}

type Option func(*observerConfig)

// WithPublishTimeout bounds how long one publish may block. Default 2s.
func WithPublishTimeout(d time.Duration) Option {
	return func(c *observerConfig) { c.timeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(c *observerConfig) { c.now = now }
}

// NewBusObserver returns a plan observer that publishes every snapshot on
// subject. Publish failures are logged and dropped.
func NewBusObserver(messenger libbus.Messenger, subject string, opts ...Option) func(steps []*plantypes.Step) {
	cfg := observerConfig{
		timeout: 2 * time.Second,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if subject == "" {
		subject = DefaultSubject
	}
	return func(steps []*plantypes.Step) {
		data, err := json.Marshal(NewSnapshot(steps, cfg.now()))
		if err != nil {
			slog.Warn("failed to encode plan snapshot", "error", err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
		defer cancel()
		if err := messenger.Publish(ctx, subject, data); err != nil {
			slog.Warn("failed to publish plan snapshot", "subject", subject, "error", err)
		}
	}
}

// Subscribe streams decoded snapshots from subject. The returned channel is
// closed when ctx ends. Messages that are not snapshots are skipped.
func Subscribe(ctx context.Context, messenger libbus.Messenger, subject string) (<-chan Snapshot, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	raw := make(chan []byte, 16)
	sub, err := messenger.Stream(ctx, subject, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	out := make(chan Snapshot, 16)
	go func() {
		defer close(out)
		defer func() { _ = sub.Unsubscribe() }()
		for {
			select {
			case <-ctx.Done():
				return
			case data, ok := <-raw:
				if !ok {
					return
				}
				var snap Snapshot
				if err := json.Unmarshal(data, &snap); err != nil {
					slog.Warn("skipping malformed plan snapshot", "subject", subject, "error", err)
					continue
				}
				select {
				case out <- snap:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
