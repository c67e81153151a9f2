// Copyright 2026 The Sightglass Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock is the time source for the SDK's loops. The surface is the
// subset of the time package the SDK actually needs: wall-clock reads,
// one-shot waits, periodic tickers, and sleeps.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once
	// duration d has elapsed. If d <= 0 the channel receives
	// immediately.
	After(d time.Duration) <-chan time.Time

	// NewTicker returns a Ticker delivering ticks on its C channel
	// every d. Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker

	// Sleep blocks the calling goroutine for at least d.
	Sleep(d time.Duration)
}

// Ticker delivers periodic ticks on C. The channel has capacity 1:
// if the consumer falls behind, ticks are dropped, matching
// time.Ticker.
//
// Reset is how the delivery queue shortens its cadence after a failed
// flush (retry interval) and restores it after a success (batch
// interval) without tearing the loop down.
type Ticker struct {
	// C delivers ticks.
	C <-chan time.Time

	stop  func()
	reset func(time.Duration)
}

// Stop turns the ticker off. No ticks arrive on C after Stop returns;
// C is not closed.
func (t *Ticker) Stop() { t.stop() }

// Reset restarts the tick cycle with a new interval. The next tick
// arrives after the new duration elapses.
func (t *Ticker) Reset(d time.Duration) { t.reset(d) }
