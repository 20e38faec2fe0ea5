package resourcecache

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrEntryGone is returned by Wait when Reset dropped the entry or left it
// without a result.
var ErrEntryGone = errors.New("resourcecache: entry no longer exists")

// ErrClosed is returned by Wait on a closed Subscription.
var ErrClosed = errors.New("resourcecache: subscription closed")

// NoParams is the parameter type of queries without arguments. It adds no
// segment to the key.
type NoParams struct{}

// Result is the typed view of an entry.
type Result[T any] struct {
	Status    Status
	Data      T
	HasData   bool
	Err       error
	Stale     bool
	UpdatedAt time.Time
}

// Loading reports whether a fetch is in flight.
func (r Result[T]) Loading() bool {
	return r.Status == StatusLoading
}

// Ok reports whether the last fetch succeeded.
func (r Result[T]) Ok() bool {
	return r.Status == StatusSuccess
}

func toResult[T any](st State) Result[T] {
	r := Result[T]{
		Status:    st.Status,
		HasData:   st.HasData,
		Err:       st.Err,
		Stale:     st.Stale,
		UpdatedAt: st.UpdatedAt,
	}
	if v, ok := st.Data.(T); ok {
		r.Data = v
	}
	return r
}

// Query is a named, cached read of one resource domain.
type Query[P, T any] struct {
	engine   *Engine
	name     string
	fetch    func(ctx context.Context, params P) (T, error)
	provides func(params P, data T, err error) []Tag
}

// NewQuery declares a query on engine. provides may be nil.
func NewQuery[P, T any](
	engine *Engine,
	name string,
	fetch func(ctx context.Context, params P) (T, error),
	provides func(params P, data T, err error) []Tag,
) *Query[P, T] {
	return &Query[P, T]{engine: engine, name: name, fetch: fetch, provides: provides}
}

// Key returns the cache key for params.
func (q *Query[P, T]) Key(params P) string {
	if _, ok := any(params).(NoParams); ok {
		return q.engine.Key(q.name)
	}
	return q.engine.Key(q.name, params)
}

// Subscribe registers interest in params. The first subscriber of a key
// triggers the fetch; later ones share the entry and any fetch in flight.
// The caller must Close the subscription.
func (q *Query[P, T]) Subscribe(ctx context.Context, params P) *Subscription[T] {
	key := q.Key(params)
	sub := &Subscription[T]{
		engine:  q.engine,
		key:     key,
		changes: make(chan Result[T], 1),
	}

	fetch := func(ctx context.Context) (any, error) {
		v, err := q.fetch(ctx, params)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
	provides := func(data any, err error) []Tag {
		if q.provides == nil {
			return nil
		}
		typed, _ := data.(T)
		return q.provides(params, typed, err)
	}

	sub.id = q.engine.subscribe(ctx, key, fetch, provides, sub.deliver)
	return sub
}

// Fetch subscribes, waits for a settled result and unsubscribes. On a failed
// refetch the previous data is returned together with the error.
func (q *Query[P, T]) Fetch(ctx context.Context, params P) (T, error) {
	sub := q.Subscribe(ctx, params)
	defer sub.Close()

	r, err := sub.Wait(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	return r.Data, r.Err
}

// Subscription is one consumer's live view of a query key.
type Subscription[T any] struct {
	engine *Engine
	key    string
	id     uint64

	mu      sync.Mutex
	closed  bool
	seen    uint64
	changes chan Result[T]
}

// Key returns the cache key this subscription follows.
func (s *Subscription[T]) Key() string {
	return s.key
}

// Result returns the entry's current state.
func (s *Subscription[T]) Result() Result[T] {
	st, _ := s.engine.State(s.key)
	return toResult[T](st)
}

// Changes delivers state transitions. Only the latest undelivered state is
// kept. The channel is closed by Close.
func (s *Subscription[T]) Changes() <-chan Result[T] {
	return s.changes
}

// Wait blocks until no fetch is in flight for the key.
func (s *Subscription[T]) Wait(ctx context.Context) (Result[T], error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return Result[T]{}, ErrClosed
	}
	st, err := s.engine.wait(ctx, s.key)
	if err != nil {
		return Result[T]{}, err
	}
	return toResult[T](st), nil
}

// Refetch forces a fetch of this key, joining one already in flight. The
// returned channel closes when it settles.
func (s *Subscription[T]) Refetch(ctx context.Context) <-chan struct{} {
	return s.engine.Refetch(ctx, s.key)
}

// Close unsubscribes. An in-flight fetch still completes and updates the
// entry for other subscribers.
func (s *Subscription[T]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.changes)
	s.mu.Unlock()

	s.engine.unsubscribe(s.key, s.id)
}

func (s *Subscription[T]) deliver(st State) {
	r := toResult[T](st)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || st.version <= s.seen {
		return
	}
	s.seen = st.version
	select {
	case <-s.changes:
	default:
	}
	s.changes <- r
}
