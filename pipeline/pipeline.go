// Package pipeline executes requests on behalf of the signed-in user. It
// attaches the bearer token, recovers from a 401 with at most one shared
// refresh followed by a single retry, and clears the session when the refresh
// token is no longer accepted.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/goliatone/go-campus-client/domain"
	"github.com/goliatone/go-campus-client/internal/metrics"
	"github.com/goliatone/go-campus-client/transport"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// DefaultRefreshPath is the backend's token rotation endpoint.
const DefaultRefreshPath = "/auth/refresh"

// Request is a transport request plus pipeline flags. Anonymous requests are
// sent without a bearer token and never trigger a refresh.
type Request struct {
	transport.Request
	Anonymous bool
}

// Session is the slice of session.State the pipeline reads and mutates.
// WaitHydrated must return once persisted tokens have been loaded.
type Session interface {
	WaitHydrated(ctx context.Context) error
	AccessToken() string
	RefreshToken() string
	Token() *oauth2.Token
	SetTokens(accessToken, refreshToken string, user *domain.User)
	Clear()
}

// Config holds pipeline options.
type Config struct {
	// RefreshPath overrides DefaultRefreshPath.
	RefreshPath string
	// ProactiveRefresh refreshes before sending when the access token's
	// expiry claim is within RefreshSkew of now.
	ProactiveRefresh bool
	RefreshSkew      time.Duration
}

// Pipeline is safe for concurrent use. All pipelines sharing a Session should
// share one Pipeline so that refreshes are de-duplicated.
type Pipeline struct {
	sender  transport.Sender
	session Session
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Recorder
	now     func() time.Time

	refreshGroup singleflight.Group
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger. A nil logger keeps the no-op default.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMetrics records request classes and refresh outcomes on m.
func WithMetrics(m *metrics.Recorder) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithClock replaces time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// New builds a Pipeline sending through sender and reading tokens from sess.
func New(sender transport.Sender, sess Session, cfg Config, opts ...Option) *Pipeline {
	if cfg.RefreshPath == "" {
		cfg.RefreshPath = DefaultRefreshPath
	}
	p := &Pipeline{
		sender:  sender,
		session: sess,
		cfg:     cfg,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Execute sends req and applies the refresh-and-retry policy. Authenticated
// requests wait for session hydration first, so persisted tokens are never
// skipped. Errors other than a 401 are returned unchanged and never retried.
func (p *Pipeline) Execute(ctx context.Context, req Request) (json.RawMessage, error) {
	log := p.logger.With(
		zap.String("request_id", uuid.NewString()),
		zap.String("method", req.Method),
		zap.String("path", req.Path),
	)

	if req.Anonymous {
		payload, err := p.sender.Send(ctx, req.Request)
		p.record(err)
		return payload, err
	}

	if err := p.session.WaitHydrated(ctx); err != nil {
		return nil, fmt.Errorf("pipeline.Execute: %w", err)
	}

	if p.cfg.ProactiveRefresh {
		p.refreshIfExpiring(ctx, log)
	}

	used := p.session.AccessToken()
	payload, err := p.sender.Send(ctx, withBearer(req.Request, used))
	p.record(err)

	var unauthorized *transport.HTTPError
	if !errors.As(err, &unauthorized) || unauthorized.Status != http.StatusUnauthorized {
		return payload, err
	}

	refreshToken := p.session.RefreshToken()
	if refreshToken == "" {
		log.Debug("unauthorized without refresh token")
		p.metrics.Refresh(metrics.RefreshNoToken)
		return nil, err
	}

	if current := p.session.AccessToken(); current != "" && current != used {
		log.Debug("token rotated while request was in flight, retrying")
		p.metrics.Refresh(metrics.RefreshRotated)
		payload, err = p.sender.Send(ctx, withBearer(req.Request, current))
		p.record(err)
		return payload, err
	}

	log.Debug("unauthorized, refreshing token")
	if refreshErr := p.refresh(ctx, refreshToken); refreshErr != nil {
		log.Info("token refresh failed, clearing session", zap.Error(refreshErr))
		p.metrics.Refresh(metrics.RefreshFailure)
		p.session.Clear()
		return nil, &AuthExpiredError{Cause: unauthorized, RefreshErr: refreshErr}
	}
	p.metrics.Refresh(metrics.RefreshSuccess)

	payload, err = p.sender.Send(ctx, withBearer(req.Request, p.session.AccessToken()))
	p.record(err)
	return payload, err
}

// refresh rotates the token pair. Concurrent callers holding the same refresh
// token share one call; the session is updated before any of them returns.
func (p *Pipeline) refresh(ctx context.Context, refreshToken string) error {
	_, err, shared := p.refreshGroup.Do(refreshToken, func() (any, error) {
		if current := p.session.RefreshToken(); current != "" && current != refreshToken {
			// rotated by a flight that finished before this one started
			return nil, nil
		}
		// the first caller's cancellation must not fail the others
		payload, err := p.sender.Send(context.WithoutCancel(ctx), transport.Request{
			Method: http.MethodPost,
			Path:   p.cfg.RefreshPath,
			Body:   map[string]string{"refreshToken": refreshToken},
		})
		if err != nil {
			return nil, err
		}
		pair, err := transport.Decode[domain.TokenPair](payload)
		if err != nil {
			return nil, err
		}
		if pair.AccessToken == "" {
			return nil, ErrEmptyRefresh
		}
		next := pair.RefreshToken
		if next == "" {
			next = refreshToken
		}
		p.session.SetTokens(pair.AccessToken, next, nil)
		return pair, nil
	})
	if shared {
		p.logger.Debug("joined in-flight token refresh")
	}
	return err
}

func (p *Pipeline) refreshIfExpiring(ctx context.Context, log *zap.Logger) {
	tok := p.session.Token()
	if tok == nil || tok.RefreshToken == "" || tok.Expiry.IsZero() {
		return
	}
	if p.now().Add(p.cfg.RefreshSkew).Before(tok.Expiry) {
		return
	}
	p.metrics.Refresh(metrics.RefreshEarly)
	if err := p.refresh(ctx, tok.RefreshToken); err != nil {
		// the request goes out with the old token and takes the 401 path
		log.Debug("proactive refresh failed", zap.Error(err))
	}
}

func (p *Pipeline) record(err error) {
	if p.metrics == nil {
		return
	}
	var httpErr *transport.HTTPError
	switch {
	case err == nil:
		p.metrics.Request("2xx")
	case errors.As(err, &httpErr):
		p.metrics.Request(strconv.Itoa(httpErr.Status))
	case transport.IsTransport(err):
		p.metrics.Request("transport")
	default:
		p.metrics.Request("other")
	}
}

func withBearer(req transport.Request, accessToken string) transport.Request {
	if accessToken == "" {
		return req
	}
	header := req.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	tok := &oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}
	header.Set("Authorization", tok.Type()+" "+tok.AccessToken)
	req.Header = header
	return req
}
