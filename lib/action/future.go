// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package action

import (
	"context"
	"sync"
)

// Future is the eventual answer to a Request.
type Future struct {
	done  chan struct{}
	once  sync.Once
	value bool
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func resolvedFuture(value bool) *Future {
	future := newFuture()
	future.resolve(value)
	return future
}

// resolve sets the value. Only the first call has any effect.
func (f *Future) resolve(value bool) {
	f.once.Do(func() {
		f.value = value
		close(f.done)
	})
}

// Done is closed once the future resolves.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the future resolves or ctx ends.
func (f *Future) Wait(ctx context.Context) (bool, error) {
	select {
	case <-f.done:
		return f.value, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Resolved returns the value and whether the future has resolved.
func (f *Future) Resolved() (value, ok bool) {
	select {
	case <-f.done:
		return f.value, true
	default:
		return false, false
	}
}
