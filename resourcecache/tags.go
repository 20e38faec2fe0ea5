package resourcecache

import (
	"context"
	"fmt"

	"github.com/puzpuzpuz/xsync/v3"
)

// TagType enumerates the invalidation labels used by the resource domains.
type TagType string

const (
	TagEvents        TagType = "Events"
	TagClubs         TagType = "Clubs"
	TagClub          TagType = "Club"
	TagAnnouncements TagType = "Announcements"
	TagMarketplace   TagType = "Marketplace"
	TagClubMessages  TagType = "ClubMessages"
	TagUsers         TagType = "Users"
)

// Tag labels cached queries. A Tag without ID covers the whole type.
type Tag struct {
	Type TagType
	ID   string
}

// TypeTag returns the tag for a whole type.
func TypeTag(t TagType) Tag {
	return Tag{Type: t}
}

// IDTag returns the tag for one record of a type.
func IDTag(t TagType, id any) Tag {
	return Tag{Type: t, ID: fmt.Sprint(id)}
}

func (t Tag) String() string {
	if t.ID == "" {
		return string(t.Type)
	}
	return string(t.Type) + ":" + t.ID
}

type keySet = xsync.MapOf[string, struct{}]

// tagIndex maps tags and tag types to the keys that provide them, so that
// invalidation is a lookup rather than a scan over all entries.
type tagIndex struct {
	byTag  *xsync.MapOf[Tag, *keySet]
	byType *xsync.MapOf[TagType, *keySet]
}

func newTagIndex() *tagIndex {
	return &tagIndex{
		byTag:  xsync.NewMapOf[Tag, *keySet](),
		byType: xsync.NewMapOf[TagType, *keySet](),
	}
}

func (ix *tagIndex) add(key string, tags []Tag) {
	for _, t := range tags {
		set, _ := ix.byTag.LoadOrCompute(t, func() *keySet { return xsync.NewMapOf[string, struct{}]() })
		set.Store(key, struct{}{})
		typeSet, _ := ix.byType.LoadOrCompute(t.Type, func() *keySet { return xsync.NewMapOf[string, struct{}]() })
		typeSet.Store(key, struct{}{})
	}
}

func (ix *tagIndex) remove(key string, tags []Tag) {
	drop := func(set *keySet, loaded bool) (*keySet, bool) {
		if !loaded {
			return nil, true
		}
		set.Delete(key)
		return set, set.Size() == 0
	}
	for _, t := range tags {
		ix.byTag.Compute(t, drop)
		ix.byType.Compute(t.Type, drop)
	}
}

// match returns the keys whose provided tags intersect invalidated. A tag
// without ID matches every tag of its type; a tag with ID matches only the
// same ID.
func (ix *tagIndex) match(invalidated []Tag) map[string]struct{} {
	keys := make(map[string]struct{})
	collect := func(set *keySet) {
		set.Range(func(k string, _ struct{}) bool {
			keys[k] = struct{}{}
			return true
		})
	}
	for _, t := range invalidated {
		if t.ID == "" {
			if set, ok := ix.byType.Load(t.Type); ok {
				collect(set)
			}
			continue
		}
		if set, ok := ix.byTag.Load(t); ok {
			collect(set)
		}
	}
	return keys
}

type cacheTagsContextKey struct{}

// WithCacheTags attaches extra provided tags to queries subscribed with ctx.
func WithCacheTags(ctx context.Context, tags ...Tag) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(tags) == 0 {
		return ctx
	}
	combined := dedupeTags(append(cacheTagsFromContext(ctx), tags...))
	return context.WithValue(ctx, cacheTagsContextKey{}, combined)
}

func cacheTagsFromContext(ctx context.Context) []Tag {
	if ctx == nil {
		return nil
	}
	if tags, ok := ctx.Value(cacheTagsContextKey{}).([]Tag); ok {
		return append([]Tag(nil), tags...)
	}
	return nil
}

func dedupeTags(tags []Tag) []Tag {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[Tag]struct{}, len(tags))
	out := make([]Tag, 0, len(tags))
	for _, t := range tags {
		if t.Type == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
