// Package lock provides single-flight guards keyed by job id.
package lock

import (
	"context"
	"errors"

	"golang.org/x/sync/singleflight"
)

// ErrHeld is returned when another process currently owns the key.
var ErrHeld = errors.New("lock: key is held by another worker")

// Func is the guarded work.
type Func func(ctx context.Context) (any, error)

// Flight runs fn at most once at a time per key. shared reports that the value
// came from an execution started by another caller.
type Flight interface {
	Do(ctx context.Context, key string, fn Func) (v any, shared bool, err error)
}

// LocalFlight collapses concurrent calls within this process.
type LocalFlight struct {
	group singleflight.Group
}

func NewLocalFlight() *LocalFlight {
	return &LocalFlight{}
}

// Do joins an in-flight execution for key or starts one. fn runs on a context
// detached from the starting caller's cancellation; a caller whose ctx ends
// stops waiting while the execution keeps running for the others.
func (f *LocalFlight) Do(ctx context.Context, key string, fn Func) (any, bool, error) {
	detached := context.WithoutCancel(ctx)
	ch := f.group.DoChan(key, func() (any, error) {
		return fn(detached)
	})
	select {
	case res := <-ch:
		return res.Val, res.Shared, res.Err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Chain stacks flights: the first collapses local callers, the next guards
// across processes, and so on.
type Chain []Flight

func (c Chain) Do(ctx context.Context, key string, fn Func) (any, bool, error) {
	if len(c) == 0 {
		v, err := fn(ctx)
		return v, false, err
	}
	head, rest := c[0], c[1:]
	return head.Do(ctx, key, func(ctx context.Context) (any, error) {
		v, _, err := rest.Do(ctx, key, fn)
		return v, err
	})
}
