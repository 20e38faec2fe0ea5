package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/goliatone/go-campus-client/domain"
	"github.com/goliatone/go-campus-client/pipeline"
	rc "github.com/goliatone/go-campus-client/resourcecache"
	"github.com/goliatone/go-campus-client/transport"
	"go.uber.org/zap"
)

// Auth signs users in and out and loads the current profile.
type Auth struct {
	engine  *rc.Engine
	exec    Executor
	session SessionWriter
	reset   func(context.Context)
	logger  *zap.Logger
	me      *rc.Query[rc.NoParams, domain.User]
}

func newAuth(engine *rc.Engine, exec Executor, sess SessionWriter, reset func(context.Context), logger *zap.Logger) *Auth {
	a := &Auth{engine: engine, exec: exec, session: sess, reset: reset, logger: logger}
	a.me = rc.NewQuery(engine, "me",
		func(ctx context.Context, _ rc.NoParams) (domain.User, error) {
			resp, err := call[struct {
				User domain.User `json:"user"`
			}](ctx, exec, "auth.Me", get("/auth/me"))
			if err != nil {
				return domain.User{}, err
			}
			sess.SetUser(&resp.User)
			return resp.User, nil
		},
		func(_ rc.NoParams, u domain.User, err error) []rc.Tag {
			if err != nil || u.ID == 0 {
				return nil
			}
			return []rc.Tag{rc.IDTag(rc.TagUsers, u.ID)}
		},
	)
	return a
}

// Login exchanges credentials for a token pair and stores it with the user.
func (a *Auth) Login(ctx context.Context, creds domain.Credentials) (domain.AuthResponse, error) {
	return a.authenticate(ctx, "auth.Login", "/auth/login", creds)
}

// Register creates an account and signs it in.
func (a *Auth) Register(ctx context.Context, reg domain.Registration) (domain.AuthResponse, error) {
	if reg.Role != "" && !domain.ValidRole(reg.Role) {
		return domain.AuthResponse{}, fmt.Errorf("auth.Register: invalid role %q", reg.Role)
	}
	return a.authenticate(ctx, "auth.Register", "/auth/register", reg)
}

func (a *Auth) authenticate(ctx context.Context, op, path string, body any) (domain.AuthResponse, error) {
	req := send(http.MethodPost, path, body)
	req.Anonymous = true
	resp, err := call[domain.AuthResponse](ctx, a.exec, op, req)
	if err != nil {
		return resp, err
	}
	user := resp.User
	a.session.SetTokens(resp.AccessToken, resp.RefreshToken, &user)
	a.logger.Info("signed in", zap.Int64("user_id", user.ID))
	return resp, nil
}

// Me fetches the current profile and stores it in the session.
func (a *Auth) Me(ctx context.Context) (domain.User, error) {
	return a.me.Fetch(ctx, rc.NoParams{})
}

// WatchMe subscribes to the current profile.
func (a *Auth) WatchMe(ctx context.Context) *rc.Subscription[domain.User] {
	return a.me.Subscribe(ctx, rc.NoParams{})
}

// Logout tells the backend to end the session. The local session and every
// cached result are cleared even when the call fails.
func (a *Auth) Logout(ctx context.Context) error {
	_, err := call[domain.MessageResponse](ctx, a.exec, "auth.Logout",
		pipeline.Request{Request: transport.Request{Method: http.MethodPost, Path: "/auth/logout"}})
	a.session.Clear()
	a.reset(ctx)
	if err != nil {
		a.logger.Warn("logout call failed, session cleared locally", zap.Error(err))
		return err
	}
	a.logger.Info("signed out")
	return nil
}
