// Copyright 2026 The Sightglass Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a FakeClock frozen at the given time. Time moves only
// when Advance is called; pending waits fire in deadline order.
//
// FakeClock is safe for concurrent use.
func Fake(initial time.Time) *FakeClock {
	fake := &FakeClock{current: initial}
	fake.registered = sync.NewCond(&fake.mu)
	return fake
}

// FakeClock is a deterministic Clock for tests. Waits registered via
// After, NewTicker, or Sleep block until Advance moves the clock past
// their deadline.
type FakeClock struct {
	mu         sync.Mutex
	current    time.Time
	waits      []*fakeWait
	registered *sync.Cond
}

// fakeWait is one pending After, Sleep, or ticker wait.
type fakeWait struct {
	deadline time.Time
	channel  chan time.Time

	// interval is non-zero for ticker waits; after firing, the wait
	// is rescheduled at deadline + interval.
	interval time.Duration

	stopped bool
	fired   bool
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After returns a channel that receives once the clock advances past
// d from now. If d <= 0 the channel receives immediately.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.current
		return channel
	}
	c.waits = append(c.waits, &fakeWait{
		deadline: c.current.Add(d),
		channel:  channel,
	})
	c.registered.Broadcast()
	return channel
}

// NewTicker returns a Ticker firing every d in fake time. Panics if
// d <= 0.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker interval")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	wait := &fakeWait{
		deadline: c.current.Add(d),
		channel:  channel,
		interval: d,
	}
	c.waits = append(c.waits, wait)
	c.registered.Broadcast()

	return &Ticker{
		C: channel,
		stop: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			wait.stopped = true
		},
		reset: func(d time.Duration) {
			c.mu.Lock()
			defer c.mu.Unlock()
			wait.interval = d
			wait.deadline = c.current.Add(d)
			wait.stopped = false
		},
	}
}

// Sleep blocks until the clock advances past d. Returns immediately
// for d <= 0.
func (c *FakeClock) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	<-c.After(d)
}

// Advance moves the clock forward by d, firing every wait whose
// deadline falls within the new time, in deadline order. Ticker
// waits are rescheduled and fire once per elapsed interval; ticks
// that overflow the channel buffer are dropped.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	target := c.current
	c.mu.Unlock()

	for {
		expired := c.takeExpired(target)
		if len(expired) == 0 {
			return
		}

		sort.Slice(expired, func(i, j int) bool {
			return expired[i].deadline.Before(expired[j].deadline)
		})

		for _, wait := range expired {
			select {
			case wait.channel <- target:
			default:
			}
		}
	}
}

// takeExpired removes waits whose deadline has passed, reschedules
// tickers, and returns the waits to fire.
func (c *FakeClock) takeExpired(target time.Time) []*fakeWait {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expired []*fakeWait
	var remaining []*fakeWait
	for _, wait := range c.waits {
		if wait.stopped {
			continue
		}
		if wait.deadline.After(target) {
			remaining = append(remaining, wait)
			continue
		}
		expired = append(expired, wait)
	}

	for _, wait := range expired {
		if wait.interval > 0 {
			wait.deadline = wait.deadline.Add(wait.interval)
			remaining = append(remaining, wait)
		} else {
			wait.fired = true
		}
	}

	c.waits = remaining
	return expired
}

// WaitForTimers blocks until at least n waits are pending. Tests call
// this after starting a loop goroutine and before Advance, closing
// the race between the loop registering its ticker and the test
// driving the clock.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.pendingLocked() < n {
		c.registered.Wait()
	}
}

// PendingCount returns the number of active pending waits.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingLocked()
}

func (c *FakeClock) pendingLocked() int {
	count := 0
	for _, wait := range c.waits {
		if !wait.stopped {
			count++
		}
	}
	return count
}
