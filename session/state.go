package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-campus-client/domain"
	"github.com/goliatone/go-campus-client/storage"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// Snapshot is a point-in-time copy of the session.
type Snapshot struct {
	AccessToken  string
	RefreshToken string
	User         *domain.User
	Hydrated     bool
}

// LoggedIn reports whether the snapshot carries an access token.
func (s Snapshot) LoggedIn() bool {
	return s.AccessToken != ""
}

// State holds the session in memory and mirrors it to a storage.Store.
type State struct {
	store   storage.Store
	logger  *zap.Logger
	persist *persister
	parser  *jwt.Parser

	mu       sync.RWMutex
	token    *oauth2.Token
	user     *domain.User
	hydrated bool
	// version changes on every mutation so a slow hydration cannot overwrite
	// tokens set while it was reading the store.
	version uint64

	hydrateOnce sync.Once
	hydratedCh  chan struct{}

	listenersMu sync.Mutex
	listeners   map[int]func(Snapshot)
	nextID      int
}

// New creates an empty, unhydrated State backed by store. A nil store keeps
// the session in memory only; a nil logger disables logging.
func New(store storage.Store, logger *zap.Logger) *State {
	if store == nil {
		store = storage.NewMemoryStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &State{
		store:      store,
		logger:     logger,
		persist:    newPersister(logger),
		parser:     jwt.NewParser(),
		hydratedCh: make(chan struct{}),
		listeners:  make(map[int]func(Snapshot)),
	}
}

// SetTokens replaces both tokens and, when user is not nil, the profile.
func (s *State) SetTokens(accessToken, refreshToken string, user *domain.User) {
	s.mu.Lock()
	s.token = s.newToken(accessToken, refreshToken)
	if user != nil {
		s.user = cloneUser(user)
	}
	s.version++
	current := s.user
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.persist.enqueue(writeOp{name: "set_tokens", run: func(ctx context.Context) error {
		set := map[string]string{}
		var remove []string
		putOrRemove(set, &remove, KeyAccessToken, accessToken)
		putOrRemove(set, &remove, KeyRefreshToken, refreshToken)
		if current != nil {
			raw, err := json.Marshal(current)
			if err != nil {
				return fmt.Errorf("encode user: %w", err)
			}
			set[KeyUser] = string(raw)
		} else {
			remove = append(remove, KeyUser)
		}
		return s.write(ctx, set, remove)
	}})
	s.notify(snap)
}

// SetUser replaces the profile only.
func (s *State) SetUser(user *domain.User) {
	s.mu.Lock()
	s.user = cloneUser(user)
	s.version++
	current := s.user
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.persist.enqueue(writeOp{name: "set_user", run: func(ctx context.Context) error {
		if current == nil {
			return s.store.Remove(ctx, KeyUser)
		}
		raw, err := json.Marshal(current)
		if err != nil {
			return fmt.Errorf("encode user: %w", err)
		}
		return s.store.Set(ctx, KeyUser, string(raw))
	}})
	s.notify(snap)
}

// Clear drops tokens and profile. The hydration flag is left untouched.
func (s *State) Clear() {
	s.mu.Lock()
	s.token = nil
	s.user = nil
	s.version++
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.persist.enqueue(writeOp{name: "clear", run: func(ctx context.Context) error {
		return s.store.MultiRemove(ctx, persistedKeys...)
	}})
	s.notify(snap)
}

// Hydrate loads persisted values into memory. Read or parse failures count as
// an empty session. It runs once per State; later calls return immediately.
func (s *State) Hydrate(ctx context.Context) {
	s.hydrateOnce.Do(func() {
		s.mu.RLock()
		startVersion := s.version
		s.mu.RUnlock()

		access, refresh, user := s.load(ctx)

		s.mu.Lock()
		if s.version == startVersion {
			s.token = s.newToken(access, refresh)
			s.user = user
		}
		s.hydrated = true
		snap := s.snapshotLocked()
		s.mu.Unlock()

		close(s.hydratedCh)
		s.logger.Debug("session hydrated", zap.Bool("logged_in", snap.LoggedIn()))
		s.notify(snap)
	})
}

func (s *State) load(ctx context.Context) (access, refresh string, user *domain.User) {
	values, err := s.store.MultiGet(ctx, persistedKeys...)
	if err != nil {
		s.logger.Warn("session hydration read failed", zap.Error(err))
		return "", "", nil
	}

	access = normalize(values[KeyAccessToken])
	refresh = normalize(values[KeyRefreshToken])

	if raw := normalize(values[KeyUser]); raw != "" && raw != "{}" {
		var u domain.User
		if err := json.Unmarshal([]byte(raw), &u); err != nil {
			s.logger.Warn("session hydration parse failed", zap.String("key", KeyUser), zap.Error(err))
			return "", "", nil
		}
		if !u.IsZero() {
			user = &u
		}
	}
	return access, refresh, user
}

// WaitHydrated blocks until Hydrate has completed or ctx is done.
func (s *State) WaitHydrated(ctx context.Context) error {
	select {
	case <-s.hydratedCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Hydrated reports whether hydration has completed.
func (s *State) Hydrated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hydrated
}

// Snapshot returns a copy of the current session.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// AccessToken returns the current access token or "".
func (s *State) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil {
		return ""
	}
	return s.token.AccessToken
}

// RefreshToken returns the current refresh token or "".
func (s *State) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil {
		return ""
	}
	return s.token.RefreshToken
}

// User returns a copy of the current profile, or nil.
func (s *State) User() *domain.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneUser(s.user)
}

// Token returns a copy of the current token, or nil when logged out.
func (s *State) Token() *oauth2.Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil {
		return nil
	}
	t := *s.token
	return &t
}

// LoggedIn reports whether an access token is present.
func (s *State) LoggedIn() bool {
	return s.AccessToken() != ""
}

// Subscribe registers fn for every change. fn runs on the mutating goroutine
// and must not call back into State mutators.
func (s *State) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s.listenersMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenersMu.Lock()
			delete(s.listeners, id)
			s.listenersMu.Unlock()
		})
	}
}

// Flush waits for every persistence write queued so far.
func (s *State) Flush(ctx context.Context) error {
	return s.persist.flush(ctx)
}

// Close flushes pending writes and stops the persistence worker. Mutations
// after Close only affect memory.
func (s *State) Close() {
	s.persist.close()
}

func (s *State) notify(snap Snapshot) {
	s.listenersMu.Lock()
	fns := make([]func(Snapshot), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenersMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

func (s *State) snapshotLocked() Snapshot {
	snap := Snapshot{User: cloneUser(s.user), Hydrated: s.hydrated}
	if s.token != nil {
		snap.AccessToken = s.token.AccessToken
		snap.RefreshToken = s.token.RefreshToken
	}
	return snap
}

func (s *State) newToken(access, refresh string) *oauth2.Token {
	if access == "" && refresh == "" {
		return nil
	}
	return &oauth2.Token{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		Expiry:       s.expiry(access),
	}
}

// expiry decodes the exp claim without verifying the signature. Opaque
// tokens have no expiry.
func (s *State) expiry(access string) time.Time {
	if access == "" {
		return time.Time{}
	}
	claims := jwt.MapClaims{}
	if _, _, err := s.parser.ParseUnverified(access, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

func (s *State) write(ctx context.Context, set map[string]string, remove []string) error {
	if len(set) > 0 {
		if err := s.store.MultiSet(ctx, set); err != nil {
			return err
		}
	}
	if len(remove) > 0 {
		if err := s.store.MultiRemove(ctx, remove...); err != nil {
			return err
		}
	}
	return nil
}

func putOrRemove(set map[string]string, remove *[]string, key, value string) {
	if value == "" {
		*remove = append(*remove, key)
		return
	}
	set[key] = value
}

func normalize(v string) string {
	v = strings.TrimSpace(v)
	if v == "null" || v == "undefined" {
		return ""
	}
	return v
}

func cloneUser(u *domain.User) *domain.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
