package resourcecache

import (
	"context"

	"go.uber.org/zap"
)

// Mutation is a named write of one resource domain. Its tags are
// invalidated only after the write succeeded.
type Mutation[P, T any] struct {
	engine      *Engine
	name        string
	do          func(ctx context.Context, params P) (T, error)
	invalidates func(params P, result T) []Tag
}

// NewMutation declares a mutation on engine. invalidates may be nil.
func NewMutation[P, T any](
	engine *Engine,
	name string,
	do func(ctx context.Context, params P) (T, error),
	invalidates func(params P, result T) []Tag,
) *Mutation[P, T] {
	return &Mutation[P, T]{engine: engine, name: name, do: do, invalidates: invalidates}
}

// Do runs the mutation and, on success, invalidates its tags.
func (m *Mutation[P, T]) Do(ctx context.Context, params P) (T, error) {
	result, err := m.do(ctx, params)
	if err != nil {
		m.engine.logger.Debug("mutation failed", zap.String("mutation", m.name), zap.Error(err))
		return result, err
	}
	if m.invalidates != nil {
		m.engine.Invalidate(ctx, m.invalidates(params, result)...)
	}
	return result, nil
}
