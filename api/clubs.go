package api

import (
	"context"
	"net/http"

	"github.com/goliatone/go-campus-client/domain"
	rc "github.com/goliatone/go-campus-client/resourcecache"
)

// ClubInput is the create and update payload.
type ClubInput struct {
	Name        string  `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

type clubUpdate struct {
	ID    int64
	Input ClubInput
}

type approval struct {
	ClubID int64
	UserID int64
}

type announcementPost struct {
	ClubID  int64
	Content string
}

// Clubs covers the club directory, membership workflow and announcements.
type Clubs struct {
	list          *rc.Query[rc.NoParams, []domain.Club]
	mine          *rc.Query[rc.NoParams, []domain.Club]
	get           *rc.Query[int64, domain.Club]
	announcements *rc.Query[int64, []domain.Announcement]

	create   *rc.Mutation[ClubInput, domain.Club]
	update   *rc.Mutation[clubUpdate, domain.Club]
	remove   *rc.Mutation[int64, domain.MessageResponse]
	join     *rc.Mutation[int64, domain.JoinResult]
	approve  *rc.Mutation[approval, domain.JoinResult]
	announce *rc.Mutation[announcementPost, domain.Announcement]
}

func clubsTag() rc.Tag { return rc.TypeTag(rc.TagClubs) }

func clubTags(id int64) []rc.Tag {
	return []rc.Tag{clubsTag(), rc.IDTag(rc.TagClub, id)}
}

func newClubs(engine *rc.Engine, exec Executor) *Clubs {
	all := func() []rc.Tag { return []rc.Tag{clubsTag()} }
	c := &Clubs{}

	c.list = rc.NewQuery(engine, "list",
		func(ctx context.Context, _ rc.NoParams) ([]domain.Club, error) {
			return call[[]domain.Club](ctx, exec, "clubs.List", get("/clubs/"))
		},
		func(rc.NoParams, []domain.Club, error) []rc.Tag { return all() },
	)
	c.mine = rc.NewQuery(engine, "mine",
		func(ctx context.Context, _ rc.NoParams) ([]domain.Club, error) {
			return call[[]domain.Club](ctx, exec, "clubs.Mine", get("/clubs/mine"))
		},
		func(rc.NoParams, []domain.Club, error) []rc.Tag { return all() },
	)
	c.get = rc.NewQuery(engine, "get",
		func(ctx context.Context, id int64) (domain.Club, error) {
			return call[domain.Club](ctx, exec, "clubs.Get", get("/clubs/"+itoa(id)))
		},
		func(id int64, _ domain.Club, _ error) []rc.Tag { return []rc.Tag{rc.IDTag(rc.TagClub, id)} },
	)
	c.announcements = rc.NewQuery(engine, "announcements",
		func(ctx context.Context, id int64) ([]domain.Announcement, error) {
			return call[[]domain.Announcement](ctx, exec, "clubs.Announcements", get("/clubs/"+itoa(id)+"/announcements"))
		},
		func(id int64, _ []domain.Announcement, _ error) []rc.Tag {
			return []rc.Tag{rc.IDTag(rc.TagAnnouncements, id)}
		},
	)

	c.create = rc.NewMutation(engine, "create",
		func(ctx context.Context, in ClubInput) (domain.Club, error) {
			return call[domain.Club](ctx, exec, "clubs.Create", send(http.MethodPost, "/clubs/", in))
		},
		func(ClubInput, domain.Club) []rc.Tag { return all() },
	)
	c.update = rc.NewMutation(engine, "update",
		func(ctx context.Context, u clubUpdate) (domain.Club, error) {
			return call[domain.Club](ctx, exec, "clubs.Update", send(http.MethodPut, "/clubs/"+itoa(u.ID), u.Input))
		},
		func(u clubUpdate, _ domain.Club) []rc.Tag { return clubTags(u.ID) },
	)
	c.remove = rc.NewMutation(engine, "delete",
		func(ctx context.Context, id int64) (domain.MessageResponse, error) {
			return call[domain.MessageResponse](ctx, exec, "clubs.Delete", send(http.MethodDelete, "/clubs/"+itoa(id), nil))
		},
		func(int64, domain.MessageResponse) []rc.Tag { return all() },
	)
	c.join = rc.NewMutation(engine, "join",
		func(ctx context.Context, id int64) (domain.JoinResult, error) {
			return call[domain.JoinResult](ctx, exec, "clubs.RequestJoin", send(http.MethodPost, "/clubs/"+itoa(id)+"/join", nil))
		},
		func(id int64, _ domain.JoinResult) []rc.Tag { return clubTags(id) },
	)
	c.approve = rc.NewMutation(engine, "approve",
		func(ctx context.Context, a approval) (domain.JoinResult, error) {
			body := map[string]int64{"userId": a.UserID}
			return call[domain.JoinResult](ctx, exec, "clubs.Approve", send(http.MethodPost, "/clubs/"+itoa(a.ClubID)+"/approve", body))
		},
		func(a approval, _ domain.JoinResult) []rc.Tag { return clubTags(a.ClubID) },
	)
	c.announce = rc.NewMutation(engine, "announce",
		func(ctx context.Context, p announcementPost) (domain.Announcement, error) {
			body := map[string]string{"content": p.Content}
			return call[domain.Announcement](ctx, exec, "clubs.PostAnnouncement", send(http.MethodPost, "/clubs/"+itoa(p.ClubID)+"/announcements", body))
		},
		func(p announcementPost, _ domain.Announcement) []rc.Tag {
			return []rc.Tag{rc.IDTag(rc.TagAnnouncements, p.ClubID)}
		},
	)
	return c
}

// List returns every club.
func (c *Clubs) List(ctx context.Context) ([]domain.Club, error) {
	return c.list.Fetch(ctx, rc.NoParams{})
}

// Watch subscribes to the club directory.
func (c *Clubs) Watch(ctx context.Context) *rc.Subscription[[]domain.Club] {
	return c.list.Subscribe(ctx, rc.NoParams{})
}

// Mine returns the clubs the current user belongs to or administers.
func (c *Clubs) Mine(ctx context.Context) ([]domain.Club, error) {
	return c.mine.Fetch(ctx, rc.NoParams{})
}

// Get returns one club including its announcements.
func (c *Clubs) Get(ctx context.Context, id int64) (domain.Club, error) {
	return c.get.Fetch(ctx, id)
}

// WatchClub subscribes to one club.
func (c *Clubs) WatchClub(ctx context.Context, id int64) *rc.Subscription[domain.Club] {
	return c.get.Subscribe(ctx, id)
}

// Announcements returns the announcements of club id.
func (c *Clubs) Announcements(ctx context.Context, id int64) ([]domain.Announcement, error) {
	return c.announcements.Fetch(ctx, id)
}

// Create registers a club administered by the current user.
func (c *Clubs) Create(ctx context.Context, in ClubInput) (domain.Club, error) {
	return c.create.Do(ctx, in)
}

// Update changes the set fields of club id.
func (c *Clubs) Update(ctx context.Context, id int64, in ClubInput) (domain.Club, error) {
	return c.update.Do(ctx, clubUpdate{ID: id, Input: in})
}

// Delete removes club id.
func (c *Clubs) Delete(ctx context.Context, id int64) (domain.MessageResponse, error) {
	return c.remove.Do(ctx, id)
}

// RequestJoin asks to join club id. The request stays pending until the club
// admin approves it.
func (c *Clubs) RequestJoin(ctx context.Context, id int64) (domain.JoinResult, error) {
	return c.join.Do(ctx, id)
}

// Approve accepts userID's pending request for club id.
func (c *Clubs) Approve(ctx context.Context, id, userID int64) (domain.JoinResult, error) {
	return c.approve.Do(ctx, approval{ClubID: id, UserID: userID})
}

// PostAnnouncement publishes content to club id. Only the club admin may post.
func (c *Clubs) PostAnnouncement(ctx context.Context, id int64, content string) (domain.Announcement, error) {
	return c.announce.Do(ctx, announcementPost{ClubID: id, Content: content})
}
