package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/goliatone/go-campus-client/domain"
	"github.com/goliatone/go-campus-client/pipeline"
	rc "github.com/goliatone/go-campus-client/resourcecache"
	"github.com/goliatone/go-campus-client/transport"
)

// MarketplaceParams filters the listing. Only set fields are sent, and two
// params with the same set fields share one cache entry.
type MarketplaceParams struct {
	Q        *string
	Category *string
	Status   *domain.ItemStatus
	MinPrice *float64
	MaxPrice *float64
	// Sort is "field:dir", for example "price:asc".
	Sort   *string
	Page   *int
	Limit  *int
	UserID *int64
}

// Values encodes the set fields as query parameters.
func (p MarketplaceParams) Values() url.Values {
	v := url.Values{}
	setString := func(k string, s *string) {
		if s != nil {
			v.Set(k, *s)
		}
	}
	setFloat := func(k string, f *float64) {
		if f != nil {
			v.Set(k, strconv.FormatFloat(*f, 'f', -1, 64))
		}
	}
	setInt := func(k string, i *int) {
		if i != nil {
			v.Set(k, strconv.Itoa(*i))
		}
	}
	setString("q", p.Q)
	setString("category", p.Category)
	if p.Status != nil {
		v.Set("status", string(*p.Status))
	}
	setFloat("minPrice", p.MinPrice)
	setFloat("maxPrice", p.MaxPrice)
	setString("sort", p.Sort)
	setInt("page", p.Page)
	setInt("limit", p.Limit)
	if p.UserID != nil {
		v.Set("userId", strconv.FormatInt(*p.UserID, 10))
	}
	return v
}

// ItemInput is the listing create and update payload.
type ItemInput struct {
	Title        *string            `json:"title,omitempty"`
	Description  *string            `json:"description,omitempty"`
	Price        *float64           `json:"price,omitempty"`
	Category     *string            `json:"category,omitempty"`
	ContactPhone *string            `json:"contact_phone,omitempty"`
	ContactLink  *string            `json:"contact_link,omitempty"`
	ImageURL     *string            `json:"image_url,omitempty"`
	Status       *domain.ItemStatus `json:"status,omitempty"`
}

type itemUpdate struct {
	ID    int64
	Input ItemInput
}

// Marketplace is the peer-to-peer listings domain.
type Marketplace struct {
	list   *rc.Query[MarketplaceParams, []domain.MarketplaceItem]
	get    *rc.Query[int64, domain.MarketplaceItem]
	create *rc.Mutation[ItemInput, domain.MarketplaceItem]
	update *rc.Mutation[itemUpdate, domain.MarketplaceItem]
	remove *rc.Mutation[int64, domain.MessageResponse]
}

func newMarketplace(engine *rc.Engine, exec Executor) *Marketplace {
	all := func() []rc.Tag { return []rc.Tag{rc.TypeTag(rc.TagMarketplace)} }
	return &Marketplace{
		list: rc.NewQuery(engine, "list",
			func(ctx context.Context, p MarketplaceParams) ([]domain.MarketplaceItem, error) {
				req := pipeline.Request{Request: transport.Request{Method: http.MethodGet, Path: "/marketplace", Query: p.Values()}}
				return call[[]domain.MarketplaceItem](ctx, exec, "marketplace.List", req)
			},
			func(MarketplaceParams, []domain.MarketplaceItem, error) []rc.Tag { return all() },
		),
		get: rc.NewQuery(engine, "get",
			func(ctx context.Context, id int64) (domain.MarketplaceItem, error) {
				return call[domain.MarketplaceItem](ctx, exec, "marketplace.Get", get("/marketplace/"+itoa(id)))
			},
			func(id int64, _ domain.MarketplaceItem, _ error) []rc.Tag {
				return []rc.Tag{rc.IDTag(rc.TagMarketplace, id)}
			},
		),
		create: rc.NewMutation(engine, "create",
			func(ctx context.Context, in ItemInput) (domain.MarketplaceItem, error) {
				if in.Status != nil && !domain.ValidItemStatus(*in.Status) {
					return domain.MarketplaceItem{}, fmt.Errorf("marketplace.Create: invalid status %q", *in.Status)
				}
				return call[domain.MarketplaceItem](ctx, exec, "marketplace.Create", send(http.MethodPost, "/marketplace", in))
			},
			func(ItemInput, domain.MarketplaceItem) []rc.Tag { return all() },
		),
		update: rc.NewMutation(engine, "update",
			func(ctx context.Context, u itemUpdate) (domain.MarketplaceItem, error) {
				if u.Input.Status != nil && !domain.ValidItemStatus(*u.Input.Status) {
					return domain.MarketplaceItem{}, fmt.Errorf("marketplace.Update: invalid status %q", *u.Input.Status)
				}
				return call[domain.MarketplaceItem](ctx, exec, "marketplace.Update", send(http.MethodPut, "/marketplace/"+itoa(u.ID), u.Input))
			},
			func(itemUpdate, domain.MarketplaceItem) []rc.Tag { return all() },
		),
		remove: rc.NewMutation(engine, "delete",
			func(ctx context.Context, id int64) (domain.MessageResponse, error) {
				return call[domain.MessageResponse](ctx, exec, "marketplace.Delete", send(http.MethodDelete, "/marketplace/"+itoa(id), nil))
			},
			func(int64, domain.MessageResponse) []rc.Tag { return all() },
		),
	}
}

// List returns the listings matching p.
func (m *Marketplace) List(ctx context.Context, p MarketplaceParams) ([]domain.MarketplaceItem, error) {
	return m.list.Fetch(ctx, p)
}

// Watch subscribes to the listings matching p.
func (m *Marketplace) Watch(ctx context.Context, p MarketplaceParams) *rc.Subscription[[]domain.MarketplaceItem] {
	return m.list.Subscribe(ctx, p)
}

// Key returns the cache key of the listing query for p.
func (m *Marketplace) Key(p MarketplaceParams) string {
	return m.list.Key(p)
}

// Get returns one listing.
func (m *Marketplace) Get(ctx context.Context, id int64) (domain.MarketplaceItem, error) {
	return m.get.Fetch(ctx, id)
}

// Create publishes a listing. An unknown status is rejected before any request.
func (m *Marketplace) Create(ctx context.Context, in ItemInput) (domain.MarketplaceItem, error) {
	return m.create.Do(ctx, in)
}

// Update changes the set fields of listing id. Only the seller may update it.
func (m *Marketplace) Update(ctx context.Context, id int64, in ItemInput) (domain.MarketplaceItem, error) {
	return m.update.Do(ctx, itemUpdate{ID: id, Input: in})
}

// Delete removes a listing and invalidates every cached listing query.
func (m *Marketplace) Delete(ctx context.Context, id int64) (domain.MessageResponse, error) {
	return m.remove.Do(ctx, id)
}
