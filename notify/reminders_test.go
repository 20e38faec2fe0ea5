package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-campus-client/domain"
	"github.com/goliatone/go-campus-client/storage"
	"go.uber.org/zap/zaptest"
)

type recordingScheduler struct {
	mu   sync.Mutex
	got  []Notification
	fail error
}

func (s *recordingScheduler) Schedule(_ context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.got = append(s.got, n)
	return nil
}

var now = time.Date(2030, 9, 1, 8, 0, 0, 0, time.UTC)

func newReminders(t *testing.T, store storage.Store, sched Scheduler) *Reminders {
	t.Helper()
	return NewReminders(store, sched,
		WithLogger(zaptest.NewLogger(t)),
		WithClock(func() time.Time { return now }),
	)
}

func TestSchedule(t *testing.T) {
	tests := []struct {
		name      string
		event     domain.Event
		scheduled bool
		want      Notification
	}{
		{
			name:      "an hour ahead",
			event:     domain.Event{ID: 1, Title: "Orientation", Description: "Welcome", Date: "2030-09-01T09:00:00Z"},
			scheduled: true,
			want:      Notification{Title: "Upcoming Event: Orientation", Body: "Welcome", After: 45 * time.Minute, EventID: 1},
		},
		{
			name:      "no description",
			event:     domain.Event{ID: 2, Title: "Hackathon", Date: "2030-09-01T08:20:00Z"},
			scheduled: true,
			want:      Notification{Title: "Upcoming Event: Hackathon", Body: FallbackBody, After: 5 * time.Minute, EventID: 2},
		},
		{
			name:      "under a second left",
			event:     domain.Event{ID: 3, Title: "Soon", Date: "2030-09-01T08:15:00.5Z"},
			scheduled: true,
			want:      Notification{Title: "Upcoming Event: Soon", Body: FallbackBody, After: time.Second, EventID: 3},
		},
		{
			name:  "reminder time reached",
			event: domain.Event{ID: 4, Title: "Now", Date: "2030-09-01T08:15:00Z"},
		},
		{
			name:  "past event",
			event: domain.Event{ID: 5, Title: "Old", Date: "2030-08-01"},
		},
		{
			name:  "unparseable date",
			event: domain.Event{ID: 6, Title: "Broken", Date: "tomorrow"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := storage.NewMemoryStore()
			sched := &recordingScheduler{}
			r := newReminders(t, store, sched)

			if got := r.Schedule(context.Background(), tt.event); got != tt.scheduled {
				t.Fatalf("Schedule() = %v, want %v", got, tt.scheduled)
			}
			if !tt.scheduled {
				if len(sched.got) != 0 {
					t.Errorf("unexpected notifications: %+v", sched.got)
				}
				if _, ok, _ := store.Get(context.Background(), KeyScheduledEvents); ok {
					t.Error("nothing should be persisted")
				}
				return
			}
			if len(sched.got) != 1 || sched.got[0] != tt.want {
				t.Errorf("got %+v, want %+v", sched.got, tt.want)
			}
		})
	}
}

func TestSchedule_OncePerEvent(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	sched := &recordingScheduler{}
	r := newReminders(t, store, sched)

	events := []domain.Event{
		{ID: 1, Title: "A", Date: "2030-09-02T10:00:00Z"},
		{ID: 2, Title: "B", Date: "2030-09-03T10:00:00Z"},
		{ID: 1, Title: "A", Date: "2030-09-02T10:00:00Z"},
	}
	if n := r.ScheduleAll(ctx, events); n != 2 {
		t.Fatalf("ScheduleAll() = %d, want 2", n)
	}
	if n := r.ScheduleAll(ctx, events); n != 0 {
		t.Errorf("second ScheduleAll() = %d, want 0", n)
	}

	raw, _, _ := store.Get(ctx, KeyScheduledEvents)
	if raw != "[1,2]" {
		t.Errorf("persisted %q", raw)
	}

	// a new instance sees what was persisted
	again := newReminders(t, store, sched)
	if again.Schedule(ctx, events[0]) {
		t.Error("event scheduled twice across instances")
	}
	if got := again.Scheduled(ctx); len(got) != 2 {
		t.Errorf("Scheduled() = %v", got)
	}
}

func TestSchedule_CorruptStateIsReset(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	_ = store.Set(ctx, KeyScheduledEvents, "{not json")
	r := newReminders(t, store, &recordingScheduler{})

	if !r.Schedule(ctx, domain.Event{ID: 9, Title: "X", Date: "2030-09-05"}) {
		t.Fatal("expected reminder to be scheduled")
	}
	raw, _, _ := store.Get(ctx, KeyScheduledEvents)
	if raw != "[9]" {
		t.Errorf("persisted %q", raw)
	}
}

func TestSchedule_SchedulerFailureNotPersisted(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	sched := &recordingScheduler{fail: errors.New("permission denied")}
	r := newReminders(t, store, sched)

	if r.Schedule(ctx, domain.Event{ID: 3, Title: "X", Date: "2030-09-05"}) {
		t.Fatal("expected failure")
	}
	if got := r.Scheduled(ctx); len(got) != 0 {
		t.Errorf("failed reminder was recorded: %v", got)
	}

	sched.fail = nil
	if !r.Schedule(ctx, domain.Event{ID: 3, Title: "X", Date: "2030-09-05"}) {
		t.Error("retry should schedule")
	}
}

func TestWithLeadTime(t *testing.T) {
	sched := &recordingScheduler{}
	r := NewReminders(storage.NewMemoryStore(), sched,
		WithClock(func() time.Time { return now }),
		WithLeadTime(time.Hour))

	r.Schedule(context.Background(), domain.Event{ID: 1, Title: "A", Date: "2030-09-01T10:00:00Z"})
	if len(sched.got) != 1 || sched.got[0].After != time.Hour {
		t.Errorf("got %+v", sched.got)
	}
}

func TestLogScheduler(t *testing.T) {
	s := LogScheduler{Logger: zaptest.NewLogger(t)}
	if err := s.Schedule(context.Background(), Notification{Title: "t", After: time.Second}); err != nil {
		t.Fatal(err)
	}
	if err := (LogScheduler{}).Schedule(context.Background(), Notification{}); err != nil {
		t.Fatal(err)
	}
}
