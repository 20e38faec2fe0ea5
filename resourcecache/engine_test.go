package resourcecache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-campus-client/cache"
	"github.com/goliatone/go-campus-client/internal/metrics"
	"go.uber.org/zap/zaptest"
)

func newEngine(t *testing.T, name string, opts ...Option) *Engine {
	t.Helper()
	store, err := cache.NewCacheService(cache.DefaultConfig())
	if err != nil {
		t.Fatalf("NewCacheService() error: %v", err)
	}
	opts = append([]Option{WithLogger(zaptest.NewLogger(t)), WithMetrics(metrics.New(nil))}, opts...)
	return NewEngine(name, store, opts...)
}

// source is a scripted backend that counts calls per key.
type source struct {
	mu    sync.Mutex
	calls map[string]int
	err   error
	gate  chan struct{}
}

func newSource() *source {
	return &source{calls: map[string]int{}}
}

func (s *source) fetch(key string) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		s.mu.Lock()
		s.calls[key]++
		n := s.calls[key]
		gate := s.gate
		err := s.err
		s.mu.Unlock()
		if gate != nil {
			<-gate
		}
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s#%d", key, n), nil
	}
}

func (s *source) count(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[key]
}

func (s *source) setGate(g chan struct{}) {
	s.mu.Lock()
	s.gate = g
	s.mu.Unlock()
}

func (s *source) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}

// tagged declares a query whose parameter is the list of tags it provides.
func tagged(e *Engine, src *source) *Query[string, string] {
	return NewQuery(e, "item",
		func(ctx context.Context, id string) (string, error) { return src.fetch(id)(ctx) },
		func(id string, _ string, _ error) []Tag { return tagsFor[id] },
	)
}

var tagsFor = map[string][]Tag{
	"all-clubs": {TypeTag(TagClubs)},
	"club-1":    {IDTag(TagClub, 1)},
	"club-2":    {IDTag(TagClub, 2)},
	"club-any":  {TypeTag(TagClub)},
	"events":    {TypeTag(TagEvents)},
}

func TestQuery_DeduplicatesConcurrentSubscribers(t *testing.T) {
	e := newEngine(t, "Events")
	src := newSource()
	gate := make(chan struct{})
	src.setGate(gate)
	q := tagged(e, src)

	const n = 20
	results := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = q.Fetch(context.Background(), "events")
		}(i)
	}

	eventually(t, func() bool { return src.count("events") == 1 }, "first fetch started")
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	if got := src.count("events"); got != 1 {
		t.Fatalf("expected 1 network call, got %d", got)
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil || results[i] != "events#1" {
			t.Errorf("caller %d got %q, %v", i, results[i], errs[i])
		}
	}
}

func TestQuery_CachedResultIsReused(t *testing.T) {
	e := newEngine(t, "Events")
	src := newSource()
	q := tagged(e, src)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		v, err := q.Fetch(ctx, "events")
		if err != nil || v != "events#1" {
			t.Fatalf("Fetch() = %q, %v", v, err)
		}
	}
	if got := src.count("events"); got != 1 {
		t.Errorf("expected 1 call, got %d", got)
	}
}

func TestQuery_DistinctParamsDistinctEntries(t *testing.T) {
	e := newEngine(t, "Marketplace")
	src := newSource()
	q := tagged(e, src)
	ctx := context.Background()

	a, _ := q.Fetch(ctx, "club-1")
	b, _ := q.Fetch(ctx, "club-2")
	if a == b {
		t.Fatalf("distinct params shared a result: %q", a)
	}
	if q.Key("club-1") == q.Key("club-2") {
		t.Fatal("distinct params shared a key")
	}
	if e.Len() != 2 {
		t.Errorf("expected 2 entries, got %d", e.Len())
	}
}

func TestQuery_NoParamsKey(t *testing.T) {
	e := newEngine(t, "ClubMessages")
	q := NewQuery(e, "list", func(context.Context, NoParams) (int, error) { return 1, nil }, nil)
	if got := q.Key(NoParams{}); got != "club_messages::list" {
		t.Errorf("Key() = %q", got)
	}
}

func TestInvalidate_MatchingRules(t *testing.T) {
	tests := []struct {
		name    string
		tags    []Tag
		matched []string
	}{
		{"type-wide tag matches every id", []Tag{TypeTag(TagClub)}, []string{"club-1", "club-2", "club-any"}},
		{"id tag matches only the same id", []Tag{IDTag(TagClub, 1)}, []string{"club-1"}},
		{"unrelated id", []Tag{IDTag(TagClub, 9)}, nil},
		{"different type", []Tag{TypeTag(TagClubs)}, []string{"all-clubs"}},
		{"several tags", []Tag{TypeTag(TagEvents), IDTag(TagClub, 2)}, []string{"events", "club-2"}},
		{"no match", []Tag{TypeTag(TagUsers)}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t, "Clubs")
			src := newSource()
			q := tagged(e, src)
			ctx := context.Background()
			for id := range tagsFor {
				if _, err := q.Fetch(ctx, id); err != nil {
					t.Fatalf("seed %s: %v", id, err)
				}
			}

			if got := e.Invalidate(ctx, tt.tags...); got != len(tt.matched) {
				t.Fatalf("Invalidate() matched %d, want %d", got, len(tt.matched))
			}

			want := map[string]bool{}
			for _, id := range tt.matched {
				want[id] = true
			}
			for id := range tagsFor {
				st, ok := e.State(q.Key(id))
				if !ok {
					t.Fatalf("entry %s missing", id)
				}
				if st.Stale != want[id] {
					t.Errorf("%s stale = %v, want %v", id, st.Stale, want[id])
				}
				// unsubscribed entries wait for their next subscription
				if src.count(id) != 1 {
					t.Errorf("%s fetched %d times, want 1", id, src.count(id))
				}
			}
		})
	}
}

func TestInvalidate_RefetchOnNextAccess(t *testing.T) {
	e := newEngine(t, "Clubs")
	src := newSource()
	q := tagged(e, src)
	ctx := context.Background()

	_, _ = q.Fetch(ctx, "club-1")
	_, _ = q.Fetch(ctx, "events")
	e.Invalidate(ctx, IDTag(TagClub, 1))

	v, err := q.Fetch(ctx, "club-1")
	if err != nil || v != "club-1#2" {
		t.Fatalf("expected refetch, got %q, %v", v, err)
	}
	v, _ = q.Fetch(ctx, "events")
	if v != "events#1" || src.count("events") != 1 {
		t.Errorf("disjoint query was refetched: %q (%d calls)", v, src.count("events"))
	}
	if st, _ := e.State(q.Key("club-1")); st.Stale {
		t.Error("entry should be fresh after refetch")
	}
}

func TestInvalidate_SubscribedEntryRefetchesImmediately(t *testing.T) {
	e := newEngine(t, "Events")
	src := newSource()
	q := tagged(e, src)
	ctx := context.Background()

	sub := q.Subscribe(ctx, "events")
	defer sub.Close()
	if _, err := sub.Wait(ctx); err != nil {
		t.Fatalf("Wait() error: %v", err)
	}

	e.Invalidate(ctx, TypeTag(TagEvents))
	eventually(t, func() bool { return sub.Result().Data == "events#2" }, "subscriber sees refetched data")
	if got := src.count("events"); got != 2 {
		t.Errorf("expected 2 calls, got %d", got)
	}
}

func TestInvalidate_DuringFetchSchedulesOneFollowUp(t *testing.T) {
	e := newEngine(t, "Events")
	src := newSource()
	gate := make(chan struct{})
	src.setGate(gate)
	q := tagged(e, src)
	ctx := context.Background()

	sub := q.Subscribe(ctx, "events")
	defer sub.Close()
	eventually(t, func() bool { return src.count("events") == 1 }, "fetch started")

	for i := 0; i < 3; i++ {
		e.Invalidate(ctx, TypeTag(TagEvents))
	}
	src.setGate(nil)
	close(gate)

	eventually(t, func() bool { return sub.Result().Data == "events#2" && !sub.Result().Loading() }, "follow-up completed")
	time.Sleep(20 * time.Millisecond)
	if got := src.count("events"); got != 2 {
		t.Errorf("expected exactly one follow-up (2 calls), got %d", got)
	}
}

func TestRefetch_CollapsesOverlappingCalls(t *testing.T) {
	e := newEngine(t, "ClubMessages")
	src := newSource()
	gate := make(chan struct{})
	src.setGate(gate)
	q := tagged(e, src)
	ctx := context.Background()

	sub := q.Subscribe(ctx, "club-1")
	defer sub.Close()
	eventually(t, func() bool { return src.count("club-1") == 1 }, "fetch started")

	first := sub.Refetch(ctx)
	second := sub.Refetch(ctx)
	src.setGate(nil)
	close(gate)
	<-first
	<-second
	if got := src.count("club-1"); got != 1 {
		t.Fatalf("overlapping refetches should join the in-flight call, got %d calls", got)
	}

	<-sub.Refetch(ctx)
	if got := src.count("club-1"); got != 2 {
		t.Errorf("refetch after settle should fetch, got %d calls", got)
	}
	if r := sub.Result(); r.Data != "club-1#2" {
		t.Errorf("Result().Data = %q", r.Data)
	}
}

func TestRefetch_OnlyAffectsItsKey(t *testing.T) {
	e := newEngine(t, "Clubs")
	src := newSource()
	q := tagged(e, src)
	ctx := context.Background()

	a := q.Subscribe(ctx, "club-1")
	defer a.Close()
	b := q.Subscribe(ctx, "club-2")
	defer b.Close()
	_, _ = a.Wait(ctx)
	_, _ = b.Wait(ctx)

	<-a.Refetch(ctx)
	if src.count("club-1") != 2 || src.count("club-2") != 1 {
		t.Errorf("unexpected calls: club-1=%d club-2=%d", src.count("club-1"), src.count("club-2"))
	}
}

func TestStaleWhileError(t *testing.T) {
	e := newEngine(t, "Events")
	src := newSource()
	q := tagged(e, src)
	ctx := context.Background()

	sub := q.Subscribe(ctx, "events")
	defer sub.Close()
	if r, _ := sub.Wait(ctx); r.Data != "events#1" {
		t.Fatalf("unexpected first result %+v", r)
	}

	boom := errors.New("backend down")
	src.setErr(boom)
	<-sub.Refetch(ctx)

	r := sub.Result()
	if r.Status != StatusError || !errors.Is(r.Err, boom) {
		t.Fatalf("expected error status, got %+v", r)
	}
	if !r.HasData || r.Data != "events#1" {
		t.Errorf("previous data should remain visible, got %+v", r)
	}

	src.setErr(nil)
	<-sub.Refetch(ctx)
	if r := sub.Result(); r.Status != StatusSuccess || r.Err != nil {
		t.Errorf("expected recovery, got %+v", r)
	}
}

func TestFetch_ErrorWithoutData(t *testing.T) {
	e := newEngine(t, "Events")
	src := newSource()
	boom := errors.New("boom")
	src.setErr(boom)
	q := tagged(e, src)

	_, err := q.Fetch(context.Background(), "events")
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	// an errored entry refetches on the next subscription
	src.setErr(nil)
	v, err := q.Fetch(context.Background(), "events")
	if err != nil || v != "events#2" {
		t.Errorf("Fetch() = %q, %v", v, err)
	}
}

func TestMutation_InvalidatesOnlyOnSuccess(t *testing.T) {
	e := newEngine(t, "Events")
	src := newSource()
	q := tagged(e, src)
	ctx := context.Background()
	_, _ = q.Fetch(ctx, "events")

	fail := true
	m := NewMutation(e, "create",
		func(ctx context.Context, title string) (string, error) {
			if fail {
				return "", errors.New("rejected")
			}
			return title, nil
		},
		func(string, string) []Tag { return []Tag{TypeTag(TagEvents)} },
	)

	if _, err := m.Do(ctx, "party"); err == nil {
		t.Fatal("expected failure")
	}
	if st, _ := e.State(q.Key("events")); st.Stale {
		t.Fatal("failed mutation must not invalidate")
	}

	fail = false
	if v, err := m.Do(ctx, "party"); err != nil || v != "party" {
		t.Fatalf("Do() = %q, %v", v, err)
	}
	if st, _ := e.State(q.Key("events")); !st.Stale {
		t.Error("successful mutation should invalidate")
	}
}

func TestGC_CollectsUnusedEntries(t *testing.T) {
	e := newEngine(t, "Events", WithKeepUnusedFor(20*time.Millisecond))
	src := newSource()
	q := tagged(e, src)
	ctx := context.Background()

	held := q.Subscribe(ctx, "club-1")
	_, _ = held.Wait(ctx)
	_, _ = q.Fetch(ctx, "events")

	eventually(t, func() bool { return e.Len() == 1 }, "unused entry collected")
	if _, ok := e.State(q.Key("club-1")); !ok {
		t.Fatal("subscribed entry must not be collected")
	}

	// collected entries are deindexed and refetched from scratch
	if n := e.Invalidate(ctx, TypeTag(TagEvents)); n != 0 {
		t.Errorf("collected entry still indexed (%d matches)", n)
	}
	v, _ := q.Fetch(ctx, "events")
	if v != "events#2" {
		t.Errorf("expected fresh fetch after collection, got %q", v)
	}

	held.Close()
	eventually(t, func() bool { return e.Len() == 0 }, "entry collected after last unsubscribe")
}

func TestGC_ResubscribeCancelsCollection(t *testing.T) {
	e := newEngine(t, "Events", WithKeepUnusedFor(30*time.Millisecond))
	src := newSource()
	q := tagged(e, src)
	ctx := context.Background()

	_, _ = q.Fetch(ctx, "events")
	sub := q.Subscribe(ctx, "events")
	time.Sleep(60 * time.Millisecond)

	if e.Len() != 1 {
		t.Fatal("entry with a subscriber was collected")
	}
	if src.count("events") != 1 {
		t.Errorf("resubscribing a fresh entry should not fetch, got %d calls", src.count("events"))
	}
	sub.Close()
	eventually(t, func() bool { return e.Len() == 0 }, "collected after close")
}

func TestFetch_DetachedFromSubscriberCancellation(t *testing.T) {
	e := newEngine(t, "Events")
	var sawCancel atomic.Bool
	gate := make(chan struct{})
	q := NewQuery(e, "list", func(ctx context.Context, _ NoParams) (string, error) {
		<-gate
		if ctx.Err() != nil {
			sawCancel.Store(true)
		}
		return "ok", nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	first := q.Subscribe(ctx, NoParams{})
	cancel()
	first.Close()

	second := q.Subscribe(context.Background(), NoParams{})
	defer second.Close()
	close(gate)

	r, err := second.Wait(context.Background())
	if err != nil || r.Data != "ok" {
		t.Fatalf("Wait() = %+v, %v", r, err)
	}
	if sawCancel.Load() {
		t.Error("fetch observed the first subscriber's cancellation")
	}
}

func TestWithCacheTags(t *testing.T) {
	e := newEngine(t, "Users")
	src := newSource()
	q := tagged(e, src)
	ctx := WithCacheTags(context.Background(), IDTag(TagUsers, 9), IDTag(TagUsers, 9))

	_, _ = q.Fetch(ctx, "events")
	st, _ := e.State(q.Key("events"))
	if len(st.Tags) != 2 {
		t.Fatalf("expected provided + extra tag, got %v", st.Tags)
	}
	if n := e.Invalidate(context.Background(), IDTag(TagUsers, 9)); n != 1 {
		t.Errorf("extra tag did not match, got %d", n)
	}

	if got := cacheTagsFromContext(WithCacheTags(context.Background())); got != nil {
		t.Errorf("no tags should leave ctx untouched, got %v", got)
	}
}

func TestSubscription_ChangesKeepsLatest(t *testing.T) {
	e := newEngine(t, "Events")
	src := newSource()
	q := tagged(e, src)
	ctx := context.Background()

	sub := q.Subscribe(ctx, "events")
	_, _ = sub.Wait(ctx)
	<-sub.Refetch(ctx)
	<-sub.Refetch(ctx)

	eventually(t, func() bool { return len(sub.Changes()) == 1 }, "one pending change")
	r := <-sub.Changes()
	if r.Data != "events#3" {
		t.Errorf("expected latest state, got %+v", r)
	}

	sub.Close()
	sub.Close()
	if _, ok := <-sub.Changes(); ok {
		t.Error("Changes should be closed after Close")
	}
	if _, err := sub.Wait(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Wait() after Close = %v", err)
	}
}

func TestReset(t *testing.T) {
	e := newEngine(t, "Clubs")
	src := newSource()
	q := tagged(e, src)
	ctx := context.Background()

	_, _ = q.Fetch(ctx, "club-2")
	sub := q.Subscribe(ctx, "club-1")
	defer sub.Close()
	_, _ = sub.Wait(ctx)

	e.Reset(ctx)

	if e.Len() != 1 {
		t.Fatalf("expected only the subscribed entry to survive, got %d", e.Len())
	}
	r := sub.Result()
	if r.Status != StatusIdle || r.HasData {
		t.Errorf("expected idle entry without data, got %+v", r)
	}

	<-sub.Refetch(ctx)
	if sub.Result().Data != "club-1#2" {
		t.Errorf("expected refetch after reset, got %+v", sub.Result())
	}
	if v, _ := q.Fetch(ctx, "club-2"); v != "club-2#2" {
		t.Errorf("reset entry should refetch, got %q", v)
	}
}

func TestReset_FetchJoiningStaleFetchGetsFreshData(t *testing.T) {
	e := newEngine(t, "Clubs", WithKeepUnusedFor(10*time.Millisecond))
	src := newSource()
	gate := make(chan struct{})
	src.setGate(gate)
	q := tagged(e, src)
	ctx := context.Background()
	key := q.Key("club-1")

	type result struct {
		v   string
		err error
	}
	results := make(chan result, 2)
	fetch := func() {
		v, err := q.Fetch(ctx, "club-1")
		results <- result{v, err}
	}

	go fetch()
	eventually(t, func() bool { return src.count("club-1") == 1 }, "first fetch started")
	e.Reset(ctx)

	go fetch()
	eventually(t, func() bool {
		st, _ := e.State(key)
		return st.Subscribers == 2
	}, "second caller joined")

	src.setGate(nil)
	close(gate)

	for i := 0; i < 2; i++ {
		r := <-results
		if r.err != nil || r.v != "club-1#2" {
			t.Errorf("caller got %q, %v; want data from a fetch started after reset", r.v, r.err)
		}
	}
	if got := src.count("club-1"); got != 2 {
		t.Errorf("expected 2 network calls, got %d", got)
	}
	eventually(t, func() bool { return e.Len() == 0 }, "entry collected")
}

func TestReset_DroppedFetchIsNotASuccess(t *testing.T) {
	e := newEngine(t, "Clubs", WithKeepUnusedFor(10*time.Millisecond))
	src := newSource()
	gate := make(chan struct{})
	src.setGate(gate)
	q := tagged(e, src)
	ctx := context.Background()

	errc := make(chan error, 1)
	go func() {
		_, err := q.Fetch(ctx, "club-1")
		errc <- err
	}()
	eventually(t, func() bool { return src.count("club-1") == 1 }, "fetch started")
	e.Reset(ctx)
	close(gate)

	if err := <-errc; !errors.Is(err, ErrEntryGone) {
		t.Errorf("Fetch() error = %v, want ErrEntryGone", err)
	}
	if got := src.count("club-1"); got != 1 {
		t.Errorf("expected no follow-up fetch, got %d calls", got)
	}
	eventually(t, func() bool { return e.Len() == 0 }, "entry collected")
}

func TestGroup(t *testing.T) {
	clubs := newEngine(t, "Clubs")
	events := newEngine(t, "Events")
	src := newSource()
	qc, qe := tagged(clubs, src), tagged(events, src)
	ctx := context.Background()

	_, _ = qc.Fetch(ctx, "club-1")
	_, _ = qe.Fetch(ctx, "events")

	g := Group{clubs, events}
	if n := g.Invalidate(ctx, TypeTag(TagEvents), IDTag(TagClub, 1)); n != 2 {
		t.Errorf("Group.Invalidate() = %d, want 2", n)
	}
	g.Reset(ctx)
	if clubs.Len()+events.Len() != 0 {
		t.Error("expected all engines empty after reset")
	}
}

type countingRefetcher struct{ n atomic.Int32 }

func (c *countingRefetcher) Refetch(context.Context) <-chan struct{} {
	c.n.Add(1)
	done := make(chan struct{})
	close(done)
	return done
}

func TestPoll(t *testing.T) {
	r := &countingRefetcher{}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	Poll(ctx, r, 10*time.Millisecond)
	if got := r.n.Load(); got < 2 {
		t.Errorf("expected repeated refetches, got %d", got)
	}
}

func TestToSnake(t *testing.T) {
	tests := map[string]string{
		"Events":          "events",
		"ClubMessages":    "club_messages",
		"Marketplace":     "marketplace",
		"HTTPServer":      "http_server",
		"users v2":        "users_v_2",
		"*domain.Club":    "domain_club",
		"already_snake":   "already_snake",
		"":                "",
		"Club2Fa":         "club_2_fa",
		"--Announcements": "announcements",
	}
	for in, want := range tests {
		if got := toSnake(in); got != want {
			t.Errorf("toSnake(%q) = %q, want %q", in, got, want)
		}
	}
}
