// Package flight collapses concurrent calls that share a key into a single
// execution whose result is handed to every caller.
package flight

import (
	"context"

	"golang.org/x/sync/singleflight"
)

type Group[T any] struct {
	g singleflight.Group
}

// Do runs fn once per key at a time. Callers arriving while a call for the
// same key is outstanding wait for it and receive its result; shared reports
// whether the result was handed to more than one caller. The key is released
// as soon as fn returns, success or failure, so the next Do starts fresh.
//
// fn receives a context detached from the caller's cancellation: a caller that
// gives up must not fail the call for everyone else waiting on it.
func (g *Group[T]) Do(ctx context.Context, key string, fn func(context.Context) (T, error)) (v T, shared bool, err error) {
	detached := context.WithoutCancel(ctx)
	ch := g.g.DoChan(key, func() (any, error) {
		return fn(detached)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return v, res.Shared, res.Err
		}
		return res.Val.(T), res.Shared, nil
	case <-ctx.Done():
		return v, false, ctx.Err()
	}
}

func (g *Group[T]) Forget(key string) {
	g.g.Forget(key)
}
