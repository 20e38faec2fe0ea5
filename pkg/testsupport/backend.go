package testsupport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goliatone/go-campus-client/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultAccessTTL is the lifetime of access tokens minted by FakeBackend.
const DefaultAccessTTL = 15 * time.Minute

type fakeUser struct {
	domain.User
	password string
}

// FakeBackend is an in-memory implementation of the campus REST contract.
// Access tokens are HS256 JWTs, refresh tokens are opaque and rotate on use.
type FakeBackend struct {
	mu sync.Mutex

	secret    []byte
	accessTTL time.Duration
	now       func() time.Time

	users    map[int64]*fakeUser
	phones   map[string]int64
	refresh  map[string]int64
	revoked  map[string]bool
	issued   []string

	events        map[int64]domain.Event
	clubs         map[int64]*domain.Club
	announcements map[int64][]domain.Announcement
	items         map[int64]domain.MarketplaceItem
	messages      map[int64][]domain.ClubMessage
	nextID        int64

	refreshStatus int
	hits          map[string]int

	router chi.Router
}

// NewFakeBackend returns an empty backend.
func NewFakeBackend() *FakeBackend {
	f := &FakeBackend{
		secret:        []byte(uuid.NewString()),
		accessTTL:     DefaultAccessTTL,
		now:           time.Now,
		users:         make(map[int64]*fakeUser),
		phones:        make(map[string]int64),
		refresh:       make(map[string]int64),
		revoked:       make(map[string]bool),
		events:        make(map[int64]domain.Event),
		clubs:         make(map[int64]*domain.Club),
		announcements: make(map[int64][]domain.Announcement),
		items:         make(map[int64]domain.MarketplaceItem),
		messages:      make(map[int64][]domain.ClubMessage),
		hits:          make(map[string]int),
	}
	f.router = f.routes()
	return f
}

// Handler returns the backend's HTTP handler.
func (f *FakeBackend) Handler() http.Handler {
	return f.router
}

// SetAccessTTL changes the lifetime of tokens minted from now on.
func (f *FakeBackend) SetAccessTTL(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accessTTL = d
}

// ExpireAccessTokens makes every access token issued so far answer 401.
func (f *FakeBackend) ExpireAccessTokens() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.issued {
		f.revoked[id] = true
	}
	f.issued = f.issued[:0]
}

// FailRefresh makes the refresh endpoint answer status. Zero restores normal
// behavior.
func (f *FakeBackend) FailRefresh(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshStatus = status
}

// Hits returns how many requests matched route, written as "GET /events/".
func (f *FakeBackend) Hits(route string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[route]
}

// AddUser registers an account and returns it.
func (f *FakeBackend) AddUser(name, phone, password string, role domain.Role) domain.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addUserLocked(name, phone, password, role)
}

func (f *FakeBackend) addUserLocked(name, phone, password string, role domain.Role) domain.User {
	if role == "" {
		role = domain.RoleStudent
	}
	f.nextID++
	u := &fakeUser{User: domain.User{ID: f.nextID, Name: name, Phone: phone, Role: role}, password: password}
	f.users[u.ID] = u
	f.phones[phone] = u.ID
	return u.User
}

// IssueTokens mints a token pair for userID, as login would.
func (f *FakeBackend) IssueTokens(userID int64) domain.TokenPair {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.issueLocked(userID)
}

func (f *FakeBackend) issueLocked(userID int64) domain.TokenPair {
	now := f.now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(f.accessTTL)),
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(f.secret)
	if err != nil {
		panic(fmt.Sprintf("testsupport: sign token: %v", err))
	}
	f.issued = append(f.issued, claims.ID)
	refresh := uuid.NewString()
	f.refresh[refresh] = userID
	return domain.TokenPair{AccessToken: access, RefreshToken: refresh}
}

// Seed loads records into the backend. Ids in the seed are kept.
func (f *FakeBackend) Seed(s Seed) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range s.Users {
		f.users[u.ID] = &fakeUser{User: u.User, password: u.Password}
		f.phones[u.Phone] = u.ID
		f.bumpLocked(u.ID)
	}
	for _, e := range s.Events {
		f.events[e.ID] = e
		f.bumpLocked(e.ID)
	}
	for i := range s.Clubs {
		c := s.Clubs[i]
		f.clubs[c.ID] = &c
		f.bumpLocked(c.ID)
	}
	for _, it := range s.Items {
		f.items[it.ID] = it
		f.bumpLocked(it.ID)
	}
}

func (f *FakeBackend) bumpLocked(id int64) {
	if id > f.nextID {
		f.nextID = id
	}
}

// Seed is the fixture format accepted by FakeBackend.Seed.
type Seed struct {
	Users  []SeedUser               `json:"users"`
	Events []domain.Event           `json:"events"`
	Clubs  []domain.Club            `json:"clubs"`
	Items  []domain.MarketplaceItem `json:"items"`
}

// SeedUser is a user with its login password.
type SeedUser struct {
	domain.User
	Password string `json:"password"`
}

type ctxKey struct{}

func (f *FakeBackend) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(f.count)

	r.Post("/auth/login", f.login)
	r.Post("/auth/register", f.register)
	r.Post("/auth/refresh", f.refreshTokens)

	r.Group(func(r chi.Router) {
		r.Use(f.authenticate)

		r.Get("/auth/me", f.me)
		r.Post("/auth/logout", f.logout)

		r.Get("/events/", f.listEvents)
		r.Post("/events/", f.createEvent)
		r.Put("/events/{id}", f.updateEvent)
		r.Delete("/events/{id}", f.deleteEvent)

		r.Get("/clubs/", f.listClubs)
		r.Post("/clubs/", f.createClub)
		r.Get("/clubs/mine", f.myClubs)
		r.Get("/clubs/{id}", f.getClub)
		r.Put("/clubs/{id}", f.updateClub)
		r.Delete("/clubs/{id}", f.deleteClub)
		r.Post("/clubs/{id}/join", f.joinClub)
		r.Post("/clubs/{id}/approve", f.approveJoin)
		r.Get("/clubs/{id}/announcements", f.listAnnouncements)
		r.Post("/clubs/{id}/announcements", f.postAnnouncement)
		r.Get("/clubs/{id}/messages", f.listMessages)
		r.Post("/clubs/{id}/messages", f.postMessage)

		r.Get("/marketplace", f.listItems)
		r.Post("/marketplace", f.createItem)
		r.Get("/marketplace/{id}", f.getItem)
		r.Put("/marketplace/{id}", f.updateItem)
		r.Delete("/marketplace/{id}", f.deleteItem)

		r.Get("/users/lookup", f.lookupUsers)
		r.Post("/upload", f.upload)
	})
	return r
}

func (f *FakeBackend) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		pattern := chi.RouteContext(r.Context()).RoutePattern()
		f.mu.Lock()
		f.hits[r.Method+" "+pattern]++
		f.mu.Unlock()
	})
}

func (f *FakeBackend) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeError(w, http.StatusUnauthorized, "missing token")
			return
		}
		claims := &jwt.RegisteredClaims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
			return f.secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(f.now))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		f.mu.Lock()
		revoked := f.revoked[claims.ID]
		id, _ := strconv.ParseInt(claims.Subject, 10, 64)
		user, found := f.users[id]
		f.mu.Unlock()
		if revoked || !found {
			writeError(w, http.StatusUnauthorized, "token expired")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKey{}, principal{user: user.User, tokenID: claims.ID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type principal struct {
	user    domain.User
	tokenID string
}

func current(r *http.Request) principal {
	p, _ := r.Context().Value(ctxKey{}).(principal)
	return p
}

func (f *FakeBackend) login(w http.ResponseWriter, r *http.Request) {
	var creds domain.Credentials
	if !readJSON(w, r, &creds) {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.phones[creds.Phone]
	if !ok || f.users[id].password != creds.Password {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, domain.AuthResponse{TokenPair: f.issueLocked(id), User: f.users[id].User})
}

func (f *FakeBackend) register(w http.ResponseWriter, r *http.Request) {
	var reg domain.Registration
	if !readJSON(w, r, &reg) {
		return
	}
	if reg.Phone == "" || reg.Password == "" || reg.Name == "" {
		writeError(w, http.StatusBadRequest, "name, phone and password are required")
		return
	}
	if reg.Role != "" && !domain.ValidRole(reg.Role) {
		writeError(w, http.StatusBadRequest, "invalid role")
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, taken := f.phones[reg.Phone]; taken {
		writeError(w, http.StatusConflict, "phone already registered")
		return
	}
	u := f.addUserLocked(reg.Name, reg.Phone, reg.Password, reg.Role)
	writeJSON(w, http.StatusCreated, domain.AuthResponse{TokenPair: f.issueLocked(u.ID), User: u})
}

func (f *FakeBackend) refreshTokens(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if !readJSON(w, r, &body) {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refreshStatus != 0 {
		writeError(w, f.refreshStatus, "refresh rejected")
		return
	}
	id, ok := f.refresh[body.RefreshToken]
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	delete(f.refresh, body.RefreshToken)
	writeJSON(w, http.StatusOK, f.issueLocked(id))
}

func (f *FakeBackend) me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]domain.User{"user": current(r).user})
}

func (f *FakeBackend) logout(w http.ResponseWriter, r *http.Request) {
	p := current(r)
	f.mu.Lock()
	f.revoked[p.tokenID] = true
	for token, id := range f.refresh {
		if id == p.user.ID {
			delete(f.refresh, token)
		}
	}
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, domain.MessageResponse{Message: "logged out"})
}

func (f *FakeBackend) lookupUsers(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.User{}
	for _, part := range strings.Split(r.URL.Query().Get("ids"), ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			continue
		}
		if u, ok := f.users[id]; ok {
			out = append(out, u.User)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (f *FakeBackend) upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing image")
		return
	}
	defer file.Close()
	if _, err := io.Copy(io.Discard, file); err != nil {
		writeError(w, http.StatusBadRequest, "unreadable image")
		return
	}
	url := fmt.Sprintf("http://%s/uploads/%s-%s", r.Host, uuid.NewString()[:8], header.Filename)
	writeJSON(w, http.StatusCreated, map[string]string{"url": url})
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func readJSON(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func sortedKeys[V any](m map[int64]V) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
