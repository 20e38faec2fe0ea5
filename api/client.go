package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/goliatone/go-campus-client/cache"
	"github.com/goliatone/go-campus-client/domain"
	"github.com/goliatone/go-campus-client/internal/metrics"
	"github.com/goliatone/go-campus-client/pipeline"
	"github.com/goliatone/go-campus-client/resourcecache"
	"github.com/goliatone/go-campus-client/transport"
	"go.uber.org/zap"
)

// Executor runs requests on behalf of the session. *pipeline.Pipeline
// implements it.
type Executor interface {
	Execute(ctx context.Context, req pipeline.Request) (json.RawMessage, error)
}

// SessionWriter is the part of session.State that auth operations update.
type SessionWriter interface {
	SetTokens(accessToken, refreshToken string, user *domain.User)
	SetUser(user *domain.User)
	Clear()
}

// Client groups the resource domains.
type Client struct {
	Auth        *Auth
	Events      *Events
	Clubs       *Clubs
	Marketplace *Marketplace
	Messages    *Messages
	Users       *Users
	Upload      *Upload

	engines resourcecache.Group
}

type options struct {
	logger        *zap.Logger
	metrics       *metrics.Recorder
	keepUnusedFor time.Duration
}

// Option configures a Client.
type Option func(*options)

// WithLogger sets the logger shared by every domain engine.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics records cache activity on m.
func WithMetrics(m *metrics.Recorder) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithKeepUnusedFor sets how long unsubscribed query results are kept.
func WithKeepUnusedFor(d time.Duration) Option {
	return func(o *options) {
		o.keepUnusedFor = d
	}
}

// New builds a Client. All domains share store; their keys are namespaced
// per domain.
func New(exec Executor, sess SessionWriter, store cache.CacheService, opts ...Option) *Client {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	engine := func(name string) *resourcecache.Engine {
		return resourcecache.NewEngine(name, store,
			resourcecache.WithLogger(o.logger.Named("cache")),
			resourcecache.WithMetrics(o.metrics),
			resourcecache.WithKeepUnusedFor(o.keepUnusedFor),
		)
	}

	c := &Client{}
	authEngine := engine("Auth")
	eventsEngine := engine("Events")
	clubsEngine := engine("Clubs")
	marketEngine := engine("Marketplace")
	messagesEngine := engine("ClubMessages")
	usersEngine := engine("Users")
	c.engines = resourcecache.Group{authEngine, eventsEngine, clubsEngine, marketEngine, messagesEngine, usersEngine}

	c.Auth = newAuth(authEngine, exec, sess, c.Reset, o.logger.Named("auth"))
	c.Events = newEvents(eventsEngine, exec)
	c.Clubs = newClubs(clubsEngine, exec)
	c.Marketplace = newMarketplace(marketEngine, exec)
	c.Messages = newMessages(messagesEngine, exec)
	c.Users = newUsers(usersEngine, exec)
	c.Upload = &Upload{exec: exec}
	return c
}

// Engines returns the per-domain cache engines.
func (c *Client) Engines() resourcecache.Group {
	return c.engines
}

// Reset drops every cached result. Logout calls it.
func (c *Client) Reset(ctx context.Context) {
	c.engines.Reset(ctx)
}

// Ptr returns a pointer to v, for optional request fields.
func Ptr[T any](v T) *T {
	return &v
}

func call[T any](ctx context.Context, exec Executor, op string, req pipeline.Request) (T, error) {
	payload, err := exec.Execute(ctx, req)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%s: %w", op, err)
	}
	out, err := transport.Decode[T](payload)
	if err != nil {
		return out, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func get(path string) pipeline.Request {
	return pipeline.Request{Request: transport.Request{Method: http.MethodGet, Path: path}}
}

func send(method, path string, body any) pipeline.Request {
	return pipeline.Request{Request: transport.Request{Method: method, Path: path, Body: body}}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
