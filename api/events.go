package api

import (
	"context"
	"net/http"

	"github.com/goliatone/go-campus-client/domain"
	rc "github.com/goliatone/go-campus-client/resourcecache"
)

// EventInput is the create and update payload. Empty fields are omitted, so
// an update only changes what is set.
type EventInput struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Date        string `json:"date,omitempty"`
	Place       string `json:"place,omitempty"`
}

type eventUpdate struct {
	ID    int64
	Input EventInput
}

// Events is the campus events domain.
type Events struct {
	list   *rc.Query[rc.NoParams, []domain.Event]
	create *rc.Mutation[EventInput, domain.Event]
	update *rc.Mutation[eventUpdate, domain.Event]
	remove *rc.Mutation[int64, domain.MessageResponse]
}

func newEvents(engine *rc.Engine, exec Executor) *Events {
	events := func() []rc.Tag {
		return []rc.Tag{rc.TypeTag(rc.TagEvents)}
	}
	return &Events{
		list: rc.NewQuery(engine, "list",
			func(ctx context.Context, _ rc.NoParams) ([]domain.Event, error) {
				return call[[]domain.Event](ctx, exec, "events.List", get("/events/"))
			},
			func(rc.NoParams, []domain.Event, error) []rc.Tag { return events() },
		),
		create: rc.NewMutation(engine, "create",
			func(ctx context.Context, in EventInput) (domain.Event, error) {
				return call[domain.Event](ctx, exec, "events.Create", send(http.MethodPost, "/events/", in))
			},
			func(EventInput, domain.Event) []rc.Tag { return events() },
		),
		update: rc.NewMutation(engine, "update",
			func(ctx context.Context, u eventUpdate) (domain.Event, error) {
				return call[domain.Event](ctx, exec, "events.Update", send(http.MethodPut, "/events/"+itoa(u.ID), u.Input))
			},
			func(eventUpdate, domain.Event) []rc.Tag { return events() },
		),
		remove: rc.NewMutation(engine, "delete",
			func(ctx context.Context, id int64) (domain.MessageResponse, error) {
				return call[domain.MessageResponse](ctx, exec, "events.Delete", send(http.MethodDelete, "/events/"+itoa(id), nil))
			},
			func(int64, domain.MessageResponse) []rc.Tag { return events() },
		),
	}
}

// List returns all events.
func (e *Events) List(ctx context.Context) ([]domain.Event, error) {
	return e.list.Fetch(ctx, rc.NoParams{})
}

// Watch subscribes to the event list.
func (e *Events) Watch(ctx context.Context) *rc.Subscription[[]domain.Event] {
	return e.list.Subscribe(ctx, rc.NoParams{})
}

// Create adds an event and refreshes the event list.
func (e *Events) Create(ctx context.Context, in EventInput) (domain.Event, error) {
	return e.create.Do(ctx, in)
}

// Update changes the set fields of event id.
func (e *Events) Update(ctx context.Context, id int64, in EventInput) (domain.Event, error) {
	return e.update.Do(ctx, eventUpdate{ID: id, Input: in})
}

// Delete removes event id.
func (e *Events) Delete(ctx context.Context, id int64) (domain.MessageResponse, error) {
	return e.remove.Do(ctx, id)
}
