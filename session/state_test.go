package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-campus-client/domain"
	"github.com/goliatone/go-campus-client/storage"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// failingStore fails every call.
type failingStore struct{}

var errStore = errors.New("store unavailable")

func (failingStore) Get(context.Context, string) (string, bool, error) { return "", false, errStore }
func (failingStore) Set(context.Context, string, string) error         { return errStore }
func (failingStore) Remove(context.Context, string) error              { return errStore }
func (failingStore) MultiGet(context.Context, ...string) (map[string]string, error) {
	return nil, errStore
}
func (failingStore) MultiSet(context.Context, map[string]string) error { return errStore }
func (failingStore) MultiRemove(context.Context, ...string) error      { return errStore }

// slowStore blocks MultiGet until release is closed.
type slowStore struct {
	*storage.MemoryStore
	release chan struct{}
}

func (s *slowStore) MultiGet(ctx context.Context, keys ...string) (map[string]string, error) {
	<-s.release
	return s.MemoryStore.MultiGet(ctx, keys...)
}

func newState(t *testing.T, store storage.Store) *State {
	t.Helper()
	s := New(store, zaptest.NewLogger(t))
	t.Cleanup(s.Close)
	return s
}

func TestHydrate_EmptyStorage(t *testing.T) {
	s := newState(t, storage.NewMemoryStore())

	assert.False(t, s.Hydrated())
	s.Hydrate(context.Background())

	snap := s.Snapshot()
	assert.Equal(t, Snapshot{Hydrated: true}, snap)
	assert.Nil(t, s.Token())
	assert.False(t, s.LoggedIn())
}

func TestHydrate_FailuresMeanAbsent(t *testing.T) {
	tests := []struct {
		name  string
		store func() storage.Store
	}{
		{"read error", func() storage.Store { return failingStore{} }},
		{"malformed user", func() storage.Store {
			m := storage.NewMemoryStore()
			_ = m.MultiSet(context.Background(), map[string]string{
				KeyAccessToken:  "a1",
				KeyRefreshToken: "r1",
				KeyUser:         "{not json",
			})
			return m
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newState(t, tt.store())
			s.Hydrate(context.Background())
			assert.Equal(t, Snapshot{Hydrated: true}, s.Snapshot())
		})
	}
}

func TestHydrate_PlaceholdersAreAbsent(t *testing.T) {
	for _, raw := range []string{"", "null", "{}", `{"id":0,"name":""}`} {
		t.Run(raw, func(t *testing.T) {
			m := storage.NewMemoryStore()
			_ = m.MultiSet(context.Background(), map[string]string{
				KeyAccessToken:  "a1",
				KeyRefreshToken: "r1",
				KeyUser:         raw,
			})
			s := newState(t, m)
			s.Hydrate(context.Background())

			snap := s.Snapshot()
			assert.Equal(t, "a1", snap.AccessToken)
			assert.Equal(t, "r1", snap.RefreshToken)
			assert.Nil(t, snap.User)
		})
	}
}

func TestHydrate_RestoresPersistedSession(t *testing.T) {
	m := storage.NewMemoryStore()
	_ = m.MultiSet(context.Background(), map[string]string{
		KeyAccessToken:  "a1",
		KeyRefreshToken: "r1",
		KeyUser:         `{"id":7,"name":"Ada","phone":"555","role":"student"}`,
	})
	s := newState(t, m)
	s.Hydrate(context.Background())

	u := s.User()
	require.NotNil(t, u)
	assert.Equal(t, int64(7), u.ID)
	assert.Equal(t, domain.RoleStudent, u.Role)
	assert.True(t, s.LoggedIn())
}

func TestHydrate_RunsOnce(t *testing.T) {
	m := storage.NewMemoryStore()
	s := newState(t, m)
	s.Hydrate(context.Background())

	_ = m.Set(context.Background(), KeyAccessToken, "late")
	s.Hydrate(context.Background())
	assert.Equal(t, "", s.AccessToken())
}

func TestHydrate_DoesNotOverwriteNewerTokens(t *testing.T) {
	slow := &slowStore{MemoryStore: storage.NewMemoryStore(), release: make(chan struct{})}
	_ = slow.MemoryStore.Set(context.Background(), KeyAccessToken, "old")
	s := newState(t, slow)

	done := make(chan struct{})
	go func() {
		s.Hydrate(context.Background())
		close(done)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.WaitHydrated(ctx), context.DeadlineExceeded)

	s.SetTokens("fresh", "r-fresh", nil)
	close(slow.release)
	<-done

	require.NoError(t, s.WaitHydrated(context.Background()))
	assert.Equal(t, "fresh", s.AccessToken())
	assert.True(t, s.Hydrated())
}

func TestSetTokens_PersistsAllFields(t *testing.T) {
	m := storage.NewMemoryStore()
	s := newState(t, m)
	user := &domain.User{ID: 7, Name: "Ada", Phone: "555", Role: domain.RoleStudent}

	s.SetTokens("a1", "r1", user)
	require.NoError(t, s.Flush(context.Background()))

	snap := s.Snapshot()
	assert.Equal(t, "a1", snap.AccessToken)
	assert.Equal(t, "r1", snap.RefreshToken)
	assert.Equal(t, int64(7), snap.User.ID)

	got, _ := m.MultiGet(context.Background(), persistedKeys...)
	assert.Equal(t, "a1", got[KeyAccessToken])
	assert.Equal(t, "r1", got[KeyRefreshToken])
	var persisted domain.User
	require.NoError(t, json.Unmarshal([]byte(got[KeyUser]), &persisted))
	assert.Equal(t, *user, persisted)

	// caller mutations do not leak into the session
	user.Name = "changed"
	assert.Equal(t, "Ada", s.User().Name)
}

func TestSetTokens_KeepsProfileWhenUserOmitted(t *testing.T) {
	s := newState(t, storage.NewMemoryStore())
	s.SetTokens("a1", "r1", &domain.User{ID: 7})
	s.SetTokens("a2", "r2", nil)

	assert.Equal(t, "a2", s.AccessToken())
	assert.Equal(t, "r2", s.RefreshToken())
	require.NotNil(t, s.User())
	assert.Equal(t, int64(7), s.User().ID)
}

func TestSetTokens_StoreFailureKeepsMemory(t *testing.T) {
	s := newState(t, failingStore{})
	s.SetTokens("a1", "r1", nil)
	require.NoError(t, s.Flush(context.Background()))
	assert.Equal(t, "a1", s.AccessToken())
}

func TestSetUser(t *testing.T) {
	m := storage.NewMemoryStore()
	s := newState(t, m)
	s.SetUser(&domain.User{ID: 3, Name: "Lin"})
	require.NoError(t, s.Flush(context.Background()))

	raw, found, _ := m.Get(context.Background(), KeyUser)
	require.True(t, found)
	assert.Contains(t, raw, `"name":"Lin"`)

	s.SetUser(nil)
	require.NoError(t, s.Flush(context.Background()))
	_, found, _ = m.Get(context.Background(), KeyUser)
	assert.False(t, found)
}

func TestClear_KeepsHydratedAndRemovesKeys(t *testing.T) {
	m := storage.NewMemoryStore()
	s := newState(t, m)
	s.Hydrate(context.Background())
	s.SetTokens("a1", "r1", &domain.User{ID: 7})
	s.Clear()
	require.NoError(t, s.Flush(context.Background()))

	assert.Equal(t, Snapshot{Hydrated: true}, s.Snapshot())
	assert.Equal(t, 0, m.Len())
}

func TestPersistenceOrder(t *testing.T) {
	m := storage.NewMemoryStore()
	s := newState(t, m)
	for i := 0; i < 20; i++ {
		s.SetTokens("a", "r", nil)
		s.Clear()
	}
	s.SetTokens("final", "r-final", nil)
	require.NoError(t, s.Flush(context.Background()))

	v, _, _ := m.Get(context.Background(), KeyAccessToken)
	assert.Equal(t, "final", v)
}

func TestSubscribe(t *testing.T) {
	s := newState(t, storage.NewMemoryStore())

	var mu sync.Mutex
	var seen []Snapshot
	unsubscribe := s.Subscribe(func(snap Snapshot) {
		mu.Lock()
		seen = append(seen, snap)
		mu.Unlock()
	})

	s.SetTokens("a1", "r1", nil)
	s.Clear()
	unsubscribe()
	unsubscribe()
	s.SetTokens("a2", "r2", nil)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.True(t, seen[0].LoggedIn())
	assert.False(t, seen[1].LoggedIn())
}

func TestToken_ExpiryFromJWT(t *testing.T) {
	exp := time.Now().Add(15 * time.Minute).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "7",
		"exp": exp.Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	s := newState(t, storage.NewMemoryStore())
	s.SetTokens(signed, "r1", nil)

	tok := s.Token()
	require.NotNil(t, tok)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.True(t, tok.Expiry.Equal(exp), "expiry %v != %v", tok.Expiry, exp)

	s.SetTokens("opaque-token", "r1", nil)
	assert.True(t, s.Token().Expiry.IsZero())
}

func TestCloseStopsPersistence(t *testing.T) {
	m := storage.NewMemoryStore()
	s := New(m, zaptest.NewLogger(t))
	s.SetTokens("a1", "r1", nil)
	s.Close()
	s.Close()

	v, _, _ := m.Get(context.Background(), KeyAccessToken)
	assert.Equal(t, "a1", v, "Close drains queued writes")

	s.SetTokens("a2", "r2", nil)
	assert.Equal(t, "a2", s.AccessToken())
	require.NoError(t, s.Flush(context.Background()))
	v, _, _ = m.Get(context.Background(), KeyAccessToken)
	assert.Equal(t, "a1", v)
}
