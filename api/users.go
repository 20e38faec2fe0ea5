package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/goliatone/go-campus-client/domain"
	"github.com/goliatone/go-campus-client/pipeline"
	rc "github.com/goliatone/go-campus-client/resourcecache"
	"github.com/goliatone/go-campus-client/transport"
)

// Users resolves user ids to profiles.
type Users struct {
	lookup *rc.Query[[]int64, []domain.User]
}

func newUsers(engine *rc.Engine, exec Executor) *Users {
	return &Users{
		lookup: rc.NewQuery(engine, "lookup",
			func(ctx context.Context, ids []int64) ([]domain.User, error) {
				parts := make([]string, len(ids))
				for i, id := range ids {
					parts[i] = strconv.FormatInt(id, 10)
				}
				req := pipeline.Request{Request: transport.Request{
					Method: http.MethodGet,
					Path:   "/users/lookup",
					Query:  url.Values{"ids": {strings.Join(parts, ",")}},
				}}
				return call[[]domain.User](ctx, exec, "users.Lookup", req)
			},
			func(ids []int64, _ []domain.User, _ error) []rc.Tag {
				tags := make([]rc.Tag, len(ids))
				for i, id := range ids {
					tags[i] = rc.IDTag(rc.TagUsers, id)
				}
				return tags
			},
		),
	}
}

// Lookup returns the profiles of ids. An empty ids returns nil without a
// request.
func (u *Users) Lookup(ctx context.Context, ids []int64) ([]domain.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return u.lookup.Fetch(ctx, ids)
}
