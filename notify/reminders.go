// Package notify schedules local reminders for upcoming events. Delivery is
// left to a Scheduler; this package only decides what to schedule and
// remembers which events already have a reminder.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/goliatone/go-campus-client/domain"
	"github.com/goliatone/go-campus-client/storage"
	"go.uber.org/zap"
)

const (
	// KeyScheduledEvents holds the JSON array of event ids with a reminder.
	KeyScheduledEvents = "SCHEDULED_EVENTS"
	// DefaultLeadTime is how long before the event the reminder fires.
	DefaultLeadTime = 15 * time.Minute
	// FallbackBody is used for events without a description.
	FallbackBody = "You have an event scheduled soon!"

	minDelay = time.Second
)

// Notification is a one-shot local notification.
type Notification struct {
	Title   string
	Body    string
	After   time.Duration
	EventID int64
}

// Scheduler delivers notifications.
type Scheduler interface {
	Schedule(ctx context.Context, n Notification) error
}

// Reminders schedules one reminder per event. It is safe for concurrent use.
type Reminders struct {
	store     storage.Store
	scheduler Scheduler
	logger    *zap.Logger
	now       func() time.Time
	lead      time.Duration

	mu sync.Mutex
}

// Option configures Reminders.
type Option func(*Reminders)

// WithLogger sets the logger. A nil logger keeps the no-op default.
func WithLogger(l *zap.Logger) Option {
	return func(r *Reminders) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Reminders) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLeadTime overrides DefaultLeadTime.
func WithLeadTime(d time.Duration) Option {
	return func(r *Reminders) {
		if d > 0 {
			r.lead = d
		}
	}
}

// NewReminders builds Reminders persisting scheduled ids in store.
func NewReminders(store storage.Store, scheduler Scheduler, opts ...Option) *Reminders {
	r := &Reminders{
		store:     store,
		scheduler: scheduler,
		logger:    zap.NewNop(),
		now:       time.Now,
		lead:      DefaultLeadTime,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Schedule sets a reminder for ev unless one was already scheduled or the
// reminder time has passed. Failures are logged; it reports whether a
// reminder was scheduled.
func (r *Reminders) Schedule(ctx context.Context, ev domain.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	log := r.logger.With(zap.Int64("event_id", ev.ID))
	scheduled := r.load(ctx, log)
	if slices.Contains(scheduled, ev.ID) {
		return false
	}

	start, err := ev.StartsAt()
	if err != nil {
		log.Warn("cannot schedule reminder", zap.Error(err))
		return false
	}
	fireAt := start.Add(-r.lead)
	now := r.now()
	if !fireAt.After(now) {
		return false
	}

	body := ev.Description
	if body == "" {
		body = FallbackBody
	}
	n := Notification{
		Title:   "Upcoming Event: " + ev.Title,
		Body:    body,
		After:   max(minDelay, fireAt.Sub(now).Truncate(time.Second)),
		EventID: ev.ID,
	}
	if err := r.scheduler.Schedule(ctx, n); err != nil {
		log.Error("failed to schedule notification", zap.Error(err))
		return false
	}

	if err := r.save(ctx, append(scheduled, ev.ID)); err != nil {
		log.Error("failed to persist scheduled events", zap.Error(err))
	}
	log.Debug("reminder scheduled", zap.Duration("after", n.After))
	return true
}

// ScheduleAll schedules every event and returns how many reminders were set.
func (r *Reminders) ScheduleAll(ctx context.Context, events []domain.Event) int {
	n := 0
	for _, ev := range events {
		if r.Schedule(ctx, ev) {
			n++
		}
	}
	return n
}

// Scheduled returns the ids of events with a reminder.
func (r *Reminders) Scheduled(ctx context.Context) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load(ctx, r.logger)
}

func (r *Reminders) load(ctx context.Context, log *zap.Logger) []int64 {
	raw, ok, err := r.store.Get(ctx, KeyScheduledEvents)
	if err != nil {
		log.Warn("failed to read scheduled events", zap.Error(err))
		return nil
	}
	if !ok || raw == "" {
		return nil
	}
	var ids []int64
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		log.Warn("discarding unreadable scheduled events", zap.Error(err))
		return nil
	}
	return ids
}

func (r *Reminders) save(ctx context.Context, ids []int64) error {
	raw, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encode scheduled events: %w", err)
	}
	return r.store.Set(ctx, KeyScheduledEvents, string(raw))
}

// LogScheduler writes notifications to a logger instead of a device.
type LogScheduler struct {
	Logger *zap.Logger
}

// Schedule logs n at info level and never fails.
func (s LogScheduler) Schedule(_ context.Context, n Notification) error {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("notification scheduled",
		zap.String("title", n.Title),
		zap.String("body", n.Body),
		zap.Duration("after", n.After),
		zap.Int64("event_id", n.EventID))
	return nil
}
