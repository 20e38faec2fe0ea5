package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/goliatone/go-campus-client/domain"
	"github.com/goliatone/go-campus-client/pipeline"
	rc "github.com/goliatone/go-campus-client/resourcecache"
	"github.com/goliatone/go-campus-client/transport"
)

// DefaultChatLimit is the page size chat screens request.
const DefaultChatLimit = 100

// MessageParams selects a club's chat messages. SinceID returns only
// messages newer than that id.
type MessageParams struct {
	ClubID  int64
	SinceID *int64
	Limit   *int
}

type messagePost struct {
	ClubID  int64
	Content string
}

// Messages is the club chat domain.
type Messages struct {
	list *rc.Query[MessageParams, []domain.ClubMessage]
	send *rc.Mutation[messagePost, domain.ClubMessage]
}

func newMessages(engine *rc.Engine, exec Executor) *Messages {
	chat := func(clubID int64) []rc.Tag {
		return []rc.Tag{rc.IDTag(rc.TagClubMessages, clubID)}
	}
	return &Messages{
		list: rc.NewQuery(engine, "list",
			func(ctx context.Context, p MessageParams) ([]domain.ClubMessage, error) {
				q := url.Values{}
				if p.SinceID != nil {
					q.Set("sinceId", strconv.FormatInt(*p.SinceID, 10))
				}
				if p.Limit != nil {
					q.Set("limit", strconv.Itoa(*p.Limit))
				}
				req := pipeline.Request{Request: transport.Request{
					Method: http.MethodGet,
					Path:   "/clubs/" + itoa(p.ClubID) + "/messages",
					Query:  q,
				}}
				return call[[]domain.ClubMessage](ctx, exec, "messages.List", req)
			},
			func(p MessageParams, _ []domain.ClubMessage, _ error) []rc.Tag { return chat(p.ClubID) },
		),
		send: rc.NewMutation(engine, "send",
			func(ctx context.Context, p messagePost) (domain.ClubMessage, error) {
				body := map[string]string{"content": p.Content}
				return call[domain.ClubMessage](ctx, exec, "messages.Send", send(http.MethodPost, "/clubs/"+itoa(p.ClubID)+"/messages", body))
			},
			func(p messagePost, _ domain.ClubMessage) []rc.Tag { return chat(p.ClubID) },
		),
	}
}

// List returns a club's messages, newer than SinceID when it is set.
func (m *Messages) List(ctx context.Context, p MessageParams) ([]domain.ClubMessage, error) {
	return m.list.Fetch(ctx, p)
}

// Watch subscribes to a club's chat. Pair it with resourcecache.Poll to keep
// it current.
func (m *Messages) Watch(ctx context.Context, p MessageParams) *rc.Subscription[[]domain.ClubMessage] {
	return m.list.Subscribe(ctx, p)
}

// Send posts content to the club chat and refreshes its message lists.
func (m *Messages) Send(ctx context.Context, clubID int64, content string) (domain.ClubMessage, error) {
	return m.send.Do(ctx, messagePost{ClubID: clubID, Content: content})
}
