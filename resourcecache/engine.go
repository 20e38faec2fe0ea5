package resourcecache

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-campus-client/cache"
	"github.com/goliatone/go-campus-client/internal/metrics"
	"go.uber.org/zap"
)

// DefaultKeepUnusedFor is how long an entry without subscribers is kept.
const DefaultKeepUnusedFor = 60 * time.Second

// Status is the lifecycle state of a cached entry.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// State is a point-in-time view of one entry. Data is kept when a later
// fetch fails, so Err and Data may both be set.
type State struct {
	Key         string
	Status      Status
	Data        any
	HasData     bool
	Err         error
	Stale       bool
	UpdatedAt   time.Time
	Subscribers int
	Tags        []Tag

	version uint64
}

type (
	fetchFunc    func(ctx context.Context) (any, error)
	providesFunc func(data any, err error) []Tag
)

type entry struct {
	key      string
	fetch    fetchFunc
	provides providesFunc
	extra    []Tag
	tags     []Tag

	status    Status
	data      any
	hasData   bool
	err       error
	stale     bool
	updatedAt time.Time
	version   uint64

	subscribers map[uint64]func(State)

	inFlight     bool
	refetchAfter bool
	done         chan struct{}
	gen          uint64
	fetchGen     uint64
	gcTimer      *time.Timer
}

// Engine caches the queries of one resource domain. It is safe for
// concurrent use.
type Engine struct {
	name          string
	namespace     string
	store         cache.CacheService
	serializer    cache.KeySerializer
	keepUnusedFor time.Duration
	logger        *zap.Logger
	metrics       *metrics.Recorder
	now           func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	index   *tagIndex
	nextID  uint64
}

// Option configures an Engine.
type Option func(*Engine)

// WithKeepUnusedFor sets how long unsubscribed entries survive. Values <= 0
// keep the default.
func WithKeepUnusedFor(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.keepUnusedFor = d
		}
	}
}

// WithLogger sets the logger. A nil logger keeps the no-op default.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics records cache activity on m.
func WithMetrics(m *metrics.Recorder) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithKeySerializer replaces the namespaced default serializer.
func WithKeySerializer(s cache.KeySerializer) Option {
	return func(e *Engine) {
		if s != nil {
			e.serializer = s
		}
	}
}

// NewEngine creates the engine for the domain called name. Keys are
// namespaced by the snake-cased name, so engines may share one store.
func NewEngine(name string, store cache.CacheService, opts ...Option) *Engine {
	namespace := toSnake(name)
	e := &Engine{
		name:          name,
		namespace:     namespace,
		store:         store,
		serializer:    cache.NewKeySerializer(namespace),
		keepUnusedFor: DefaultKeepUnusedFor,
		logger:        zap.NewNop(),
		now:           time.Now,
		entries:       make(map[string]*entry),
		index:         newTagIndex(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("domain", name))
	return e
}

// Name returns the domain name.
func (e *Engine) Name() string {
	return e.name
}

// Namespace returns the key prefix of this engine.
func (e *Engine) Namespace() string {
	return e.namespace
}

// Key builds the cache key for endpoint and params.
func (e *Engine) Key(endpoint string, params ...any) string {
	return e.serializer.SerializeKey(endpoint, params...)
}

func (e *Engine) subscribe(ctx context.Context, key string, fetch fetchFunc, provides providesFunc, fn func(State)) uint64 {
	extra := cacheTagsFromContext(ctx)

	e.mu.Lock()
	ent, ok := e.entries[key]
	if !ok {
		ent = &entry{key: key, status: StatusIdle, subscribers: make(map[uint64]func(State))}
		e.entries[key] = ent
	}
	ent.fetch = fetch
	ent.provides = provides
	if ent.gcTimer != nil {
		ent.gcTimer.Stop()
		ent.gcTimer = nil
	}
	if !ok || len(extra) > 0 {
		ent.extra = dedupeTags(append(ent.extra, extra...))
		provisional := ent.tags
		if !ok {
			// param-derived tags are known before the first result arrives
			provisional = provides(nil, nil)
		}
		e.setTagsLocked(ent, provisional)
	}

	e.nextID++
	id := e.nextID
	ent.subscribers[id] = fn

	var after func()
	switch {
	case ent.inFlight:
		if ent.fetchGen != ent.gen {
			// the running fetch predates a Reset and its result will be dropped
			ent.refetchAfter = true
		}
		e.metrics.CacheHit(e.name)
	case ent.status == StatusIdle, ent.status == StatusError, ent.stale:
		e.metrics.CacheMiss(e.name)
		after = e.startFetchLocked(ctx, ent, ent.stale || ent.status == StatusError)
	case !e.fresh(key):
		e.metrics.CacheMiss(e.name)
		after = e.startFetchLocked(ctx, ent, false)
	default:
		e.metrics.CacheHit(e.name)
	}
	e.mu.Unlock()

	if after != nil {
		after()
	}
	return id
}

func (e *Engine) fresh(key string) bool {
	_, ok := e.store.Peek(key)
	return ok
}

func (e *Engine) unsubscribe(key string, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.entries[key]
	if !ok {
		return
	}
	delete(ent.subscribers, id)
	if len(ent.subscribers) == 0 && !ent.inFlight {
		e.scheduleGCLocked(ent)
	}
}

// startFetchLocked marks ent loading and fetches it in the background. force
// bypasses the store's freshness. The returned func delivers the loading
// state and must run after the lock is released.
func (e *Engine) startFetchLocked(ctx context.Context, ent *entry, force bool) func() {
	ent.inFlight = true
	ent.fetchGen = ent.gen
	ent.status = StatusLoading
	ent.done = make(chan struct{})
	if ent.gcTimer != nil {
		ent.gcTimer.Stop()
		ent.gcTimer = nil
	}

	// unsubscribing must not cancel a fetch other subscribers may be waiting on
	go e.runFetch(context.WithoutCancel(ctx), ent, ent.fetch, ent.gen, force)
	return e.notifierLocked(ent)
}

func (e *Engine) runFetch(ctx context.Context, ent *entry, fetch fetchFunc, gen uint64, force bool) {
	if force {
		_ = e.store.Delete(ctx, ent.key)
	}
	e.logger.Debug("fetch started", zap.String("key", ent.key), zap.Bool("force", force))
	val, err := e.store.GetOrFetch(ctx, ent.key, cache.FetchFn[any](fetch))
	e.metrics.Fetch(e.name, err)

	e.mu.Lock()
	ent.inFlight = false
	close(ent.done)

	if ent.gen != gen || e.entries[ent.key] != ent {
		// reset while in flight; the result belongs to a previous session
		current := e.entries[ent.key] == ent
		if current {
			_ = e.store.Delete(ctx, ent.key)
		}
		ent.status = StatusIdle
		var after func()
		switch {
		case current && ent.refetchAfter && len(ent.subscribers) > 0:
			ent.refetchAfter = false
			after = e.startFetchLocked(ctx, ent, true)
		case len(ent.subscribers) > 0:
			after = e.notifierLocked(ent)
		case current:
			ent.refetchAfter = false
			e.scheduleGCLocked(ent)
		}
		e.mu.Unlock()
		if after != nil {
			after()
		}
		return
	}

	ent.updatedAt = e.now()
	if err == nil {
		ent.data = val
		ent.hasData = true
		ent.err = nil
		ent.status = StatusSuccess
		ent.stale = false
		e.logger.Debug("fetch succeeded", zap.String("key", ent.key))
	} else {
		ent.err = err
		ent.status = StatusError
		e.logger.Debug("fetch failed", zap.String("key", ent.key), zap.Error(err))
		val = nil
	}
	if ent.provides != nil {
		e.setTagsLocked(ent, ent.provides(val, err))
	}

	after := []func(){e.notifierLocked(ent)}
	if ent.refetchAfter {
		ent.refetchAfter = false
		if len(ent.subscribers) > 0 {
			after = append(after, e.startFetchLocked(ctx, ent, true))
		} else {
			ent.stale = true
			_ = e.store.Delete(ctx, ent.key)
		}
	}
	if len(ent.subscribers) == 0 && !ent.inFlight {
		e.scheduleGCLocked(ent)
	}
	e.mu.Unlock()

	for _, fn := range after {
		fn()
	}
}

// Refetch fetches key again, bypassing freshness. When a fetch for key is
// already in flight no new fetch starts. The returned channel closes when the
// fetch the caller joined has settled.
func (e *Engine) Refetch(ctx context.Context, key string) <-chan struct{} {
	e.mu.Lock()
	ent, ok := e.entries[key]
	if !ok {
		e.mu.Unlock()
		done := make(chan struct{})
		close(done)
		return done
	}
	if ent.inFlight {
		if ent.fetchGen != ent.gen {
			ent.refetchAfter = true
		}
		done := ent.done
		e.mu.Unlock()
		return done
	}
	after := e.startFetchLocked(ctx, ent, true)
	done := ent.done
	e.mu.Unlock()

	after()
	return done
}

// Invalidate marks every entry providing a tag that matches tags as stale.
// Subscribed entries refetch at once; others refetch on next subscription.
// An entry with a fetch in flight gets exactly one follow-up fetch. It
// returns the number of matched entries.
func (e *Engine) Invalidate(ctx context.Context, tags ...Tag) int {
	if len(tags) == 0 {
		return 0
	}

	e.mu.Lock()
	keys := e.index.match(tags)
	var after []func()
	for key := range keys {
		ent, ok := e.entries[key]
		if !ok {
			continue
		}
		_ = e.store.Delete(ctx, key)
		switch {
		case ent.inFlight:
			ent.refetchAfter = true
		case len(ent.subscribers) > 0:
			after = append(after, e.startFetchLocked(ctx, ent, true))
		default:
			ent.stale = true
		}
	}
	e.mu.Unlock()

	for _, t := range tags {
		e.metrics.Invalidation(e.name, string(t.Type), len(keys))
	}
	if len(keys) > 0 {
		e.logger.Debug("tags invalidated", zap.Stringers("tags", tags), zap.Int("entries", len(keys)))
	}
	for _, fn := range after {
		fn()
	}
	return len(keys)
}

// Reset drops all cached data, typically on logout. Entries without
// subscribers are removed; subscribed entries return to idle and fetch again
// on Refetch or on the next subscription. A fetch in flight during Reset has
// its result dropped, and is followed by a fresh fetch when a subscription or
// Refetch joined it after the Reset.
func (e *Engine) Reset(ctx context.Context) {
	e.mu.Lock()
	var after []func()
	for key, ent := range e.entries {
		ent.gen++
		ent.refetchAfter = false
		if len(ent.subscribers) == 0 {
			if ent.gcTimer != nil {
				ent.gcTimer.Stop()
			}
			e.index.remove(key, ent.tags)
			delete(e.entries, key)
			continue
		}
		ent.data = nil
		ent.hasData = false
		ent.err = nil
		ent.stale = false
		if !ent.inFlight {
			ent.status = StatusIdle
		}
		after = append(after, e.notifierLocked(ent))
	}
	e.mu.Unlock()

	_ = e.store.DeleteByPrefix(ctx, e.namespace+cache.KeySeparator)
	e.logger.Debug("cache reset")
	for _, fn := range after {
		fn()
	}
}

// State returns the current state of key.
func (e *Engine) State(key string) (State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.entries[key]
	if !ok {
		return State{Key: key, Status: StatusIdle}, false
	}
	return snapshot(ent), true
}

// Len returns the number of live entries.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entries)
}

// wait blocks until key has no fetch in flight and returns its state. An
// entry left idle by Reset has no result to return and reports ErrEntryGone.
func (e *Engine) wait(ctx context.Context, key string) (State, error) {
	for {
		e.mu.Lock()
		ent, ok := e.entries[key]
		if !ok {
			e.mu.Unlock()
			return State{Key: key, Status: StatusIdle}, ErrEntryGone
		}
		if !ent.inFlight {
			st := snapshot(ent)
			e.mu.Unlock()
			if st.Status == StatusIdle {
				return st, ErrEntryGone
			}
			return st, nil
		}
		done := ent.done
		e.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return State{}, ctx.Err()
		}
	}
}

func (e *Engine) setTagsLocked(ent *entry, provided []Tag) {
	next := dedupeTags(append(append([]Tag(nil), provided...), ent.extra...))
	e.index.remove(ent.key, ent.tags)
	ent.tags = next
	e.index.add(ent.key, next)
}

func (e *Engine) scheduleGCLocked(ent *entry) {
	if ent.gcTimer != nil {
		ent.gcTimer.Stop()
	}
	ent.gcTimer = time.AfterFunc(e.keepUnusedFor, func() { e.collect(ent) })
}

func (e *Engine) collect(ent *entry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.entries[ent.key] != ent || len(ent.subscribers) > 0 || ent.inFlight {
		return
	}
	delete(e.entries, ent.key)
	e.index.remove(ent.key, ent.tags)
	_ = e.store.Delete(context.Background(), ent.key)
	e.logger.Debug("entry collected", zap.String("key", ent.key))
}

// notifierLocked captures ent's state and returns a func that delivers it to
// the current subscribers. Deliveries may race; subscribers drop states older
// than the last one they saw.
func (e *Engine) notifierLocked(ent *entry) func() {
	if len(ent.subscribers) == 0 {
		return func() {}
	}
	ent.version++
	st := snapshot(ent)
	fns := make([]func(State), 0, len(ent.subscribers))
	for _, fn := range ent.subscribers {
		fns = append(fns, fn)
	}
	return func() {
		for _, fn := range fns {
			fn(st)
		}
	}
}

func snapshot(ent *entry) State {
	return State{
		Key:         ent.key,
		Status:      ent.status,
		Data:        ent.data,
		HasData:     ent.hasData,
		Err:         ent.err,
		Stale:       ent.stale,
		UpdatedAt:   ent.updatedAt,
		Subscribers: len(ent.subscribers),
		Tags:        append([]Tag(nil), ent.tags...),
		version:     ent.version,
	}
}
