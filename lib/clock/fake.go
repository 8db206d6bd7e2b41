// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a Clock whose time moves only when Advance is called.
// Safe for concurrent use.
//
// AfterFunc callbacks run synchronously inside Advance, in deadline
// order. A callback must not call Advance.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*fakeTimer
	changed *sync.Cond
}

type fakeTimer struct {
	deadline time.Time
	channel  chan time.Time // After timers
	callback func()         // AfterFunc timers
	done     bool           // fired or stopped
}

// Fake returns a FakeClock set to initial.
func Fake(initial time.Time) *FakeClock {
	clock := &FakeClock{now: initial}
	clock.changed = sync.NewCond(&clock.mu)
	return clock
}

// Now returns the fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After returns a channel that receives when the clock is advanced
// past now+d.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.now
		return channel
	}
	c.pending = append(c.pending, &fakeTimer{deadline: c.now.Add(d), channel: channel})
	c.changed.Broadcast()
	return channel
}

// AfterFunc registers f to run when the clock is advanced past now+d.
// If d <= 0, f runs before AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{stop: func() bool { return false }}
	}

	c.mu.Lock()
	timer := &fakeTimer{deadline: c.now.Add(d), callback: f}
	c.pending = append(c.pending, timer)
	c.changed.Broadcast()
	c.mu.Unlock()

	return &Timer{stop: func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if timer.done {
			return false
		}
		timer.done = true
		c.changed.Broadcast()
		return true
	}}
}

// Advance moves the clock forward by d and fires every timer whose
// deadline is at or before the new time, earliest first.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	target := c.now
	c.mu.Unlock()

	for {
		expired := c.takeExpired(target)
		if len(expired) == 0 {
			return
		}
		for _, timer := range expired {
			if timer.callback != nil {
				timer.callback()
				continue
			}
			select {
			case timer.channel <- target:
			default:
			}
		}
	}
}

func (c *FakeClock) takeExpired(target time.Time) []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expired, remaining []*fakeTimer
	for _, timer := range c.pending {
		switch {
		case timer.done:
		case !timer.deadline.After(target):
			timer.done = true
			expired = append(expired, timer)
		default:
			remaining = append(remaining, timer)
		}
	}
	c.pending = remaining
	if len(expired) > 0 {
		c.changed.Broadcast()
	}

	sort.SliceStable(expired, func(i, j int) bool {
		return expired[i].deadline.Before(expired[j].deadline)
	})
	return expired
}

// WaitForTimers blocks until at least n timers are pending.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.pendingLocked() < n {
		c.changed.Wait()
	}
}

// Pending returns the number of armed timers.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingLocked()
}

func (c *FakeClock) pendingLocked() int {
	count := 0
	for _, timer := range c.pending {
		if !timer.done {
			count++
		}
	}
	return count
}
