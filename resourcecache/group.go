package resourcecache

import "context"

// Group fans invalidation and reset out to several engines.
type Group []*Engine

// Invalidate invalidates tags in every engine and returns the matched total.
func (g Group) Invalidate(ctx context.Context, tags ...Tag) int {
	n := 0
	for _, e := range g {
		n += e.Invalidate(ctx, tags...)
	}
	return n
}

// Reset resets every engine.
func (g Group) Reset(ctx context.Context) {
	for _, e := range g {
		e.Reset(ctx)
	}
}
