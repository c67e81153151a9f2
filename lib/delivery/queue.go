// Copyright 2026 The Sightglass Authors
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sightglass-io/sightglass/lib/clock"
	"github.com/sightglass-io/sightglass/lib/retry"
	"github.com/sightglass-io/sightglass/lib/schema/telemetry"
	"github.com/sightglass-io/sightglass/lib/session"
	"github.com/sightglass-io/sightglass/lib/transport"
)

// minFlushSpacing is the floor between ordinary flush attempts. The
// batch size trigger can fire on every Add during a burst; the floor
// keeps that from turning into a request per record. ForceFlush
// bypasses it.
const minFlushSpacing = time.Second

// drainFlushTimeout bounds the final flush when the run loop shuts
// down. Past this the records are dropped rather than holding up
// host shutdown.
const drainFlushTimeout = 2 * time.Second

// Config holds the parameters for creating a [Queue]. All fields but
// OnAuthExpired are required.
type Config struct {
	// Channel names the intake endpoint this queue delivers to.
	Channel telemetry.Channel

	// Transport sends serialized batches.
	Transport transport.Transport

	// Session gates flushing. The queue only reads it.
	Session *session.Session

	// Policy supplies the initial cadence and capacity limits. The
	// collector's server configuration replaces it via
	// [Queue.SetPolicy] after authentication.
	Policy retry.Policy

	// Clock drives the flush timer. Production callers pass
	// clock.Real(); tests pass clock.Fake() for deterministic
	// control.
	Clock clock.Clock

	// Logger receives flush failures and pruning warnings.
	Logger *slog.Logger

	// OnAuthExpired, when set, is called after a send fails because
	// the collector rejected the session token. The authenticator
	// hooks its silent refresh here. Called from the flush loop
	// goroutine; must not block.
	OnAuthExpired func()
}

// pendingRecord is one queued payload with its enqueue time, which
// drives age-based pruning.
type pendingRecord[T any] struct {
	payload  T
	enqueued time.Time
}

// Stats counts a queue's delivery activity for the host's debug
// surfaces.
type Stats struct {
	// Pending is the current in-memory record count.
	Pending int

	// Sent counts records delivered in successful batches.
	Sent uint64

	// Retried counts records re-queued after a failed send. One
	// record can be counted several times.
	Retried uint64

	// Pruned counts records dropped by the capacity and age limits.
	Pruned uint64
}

// Queue buffers records for one telemetry channel and flushes them as
// batches. Safe for concurrent use; Add never blocks on network I/O
// and never fails.
//
// Lifecycle: call [Queue.Run] in a goroutine to start the flush loop,
// then cancel the context to stop it. Run performs a final drain
// flush before closing the Done channel.
type Queue[T any] struct {
	channel       telemetry.Channel
	transport     transport.Transport
	session       *session.Session
	clock         clock.Clock
	logger        *slog.Logger
	onAuthExpired func()

	mu          sync.Mutex
	pending     []pendingRecord[T]
	retained    []T
	policy      retry.Policy
	retrying    bool
	lastAttempt time.Time
	stats       Stats

	kick  chan struct{}
	force chan chan struct{}
	done  chan struct{}

	// afterCycle, when non-nil, runs at the end of each loop cycle,
	// after the timer reset. Tests use it to synchronize with the
	// flush loop.
	afterCycle func()
}

// NewQueue creates a delivery queue for one channel. The caller must
// start the flush loop by calling [Queue.Run] in a goroutine.
func NewQueue[T any](config Config) (*Queue[T], error) {
	if config.Channel == "" {
		return nil, fmt.Errorf("delivery queue: Channel is required")
	}
	if config.Transport == nil {
		return nil, fmt.Errorf("delivery queue: Transport is required")
	}
	if config.Session == nil {
		return nil, fmt.Errorf("delivery queue: Session is required")
	}
	if config.Clock == nil {
		return nil, fmt.Errorf("delivery queue: Clock is required")
	}
	if config.Logger == nil {
		return nil, fmt.Errorf("delivery queue: Logger is required")
	}

	return &Queue[T]{
		channel:       config.Channel,
		transport:     config.Transport,
		session:       config.Session,
		clock:         config.Clock,
		logger:        config.Logger.With("channel", config.Channel),
		onAuthExpired: config.OnAuthExpired,
		policy:        config.Policy,
		kick:          make(chan struct{}, 1),
		force:         make(chan chan struct{}),
		done:          make(chan struct{}),
	}, nil
}

// Add appends a record to the queue. Always succeeds; delivery
// failures surface later through logs and pruning warnings, never
// through Add. Reaching the batch size threshold schedules an
// immediate flush instead of waiting out the timer.
func (q *Queue[T]) Add(record T) {
	q.mu.Lock()
	q.pending = append(q.pending, pendingRecord[T]{
		payload:  record,
		enqueued: q.clock.Now(),
	})
	q.pruneOverflowLocked()
	full := q.policy.MaxBatchSize > 0 && len(q.pending) >= q.policy.MaxBatchSize
	q.mu.Unlock()

	if full {
		select {
		case q.kick <- struct{}{}:
		default:
		}
	}
}

// SetPolicy replaces the queue's cadence and capacity limits. The new
// cadence takes effect at the next natural timer reset; an in-flight
// wait is never truncated.
func (q *Queue[T]) SetPolicy(policy retry.Policy) {
	q.mu.Lock()
	q.policy = policy
	q.mu.Unlock()
}

// Stats returns a snapshot of the queue's counters.
func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	stats := q.stats
	stats.Pending = len(q.pending)
	return stats
}

// Retained returns the records kept after successful delivery. Empty
// unless the policy's RetainAfterSent is set.
func (q *Queue[T]) Retained() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]T, len(q.retained))
	copy(out, q.retained)
	return out
}

// ForceFlush requests an immediate flush that bypasses the spacing
// floor, then a second attempt after the straggler window, so that a
// critical event has two chances to leave the process before the
// host tears it down. Blocks until both attempts have run or ctx is
// cancelled.
func (q *Queue[T]) ForceFlush(ctx context.Context) {
	finished := make(chan struct{})
	select {
	case q.force <- finished:
	case <-ctx.Done():
		return
	case <-q.done:
		return
	}
	select {
	case <-finished:
	case <-ctx.Done():
	}
}

// Run starts the flush loop. Blocks until ctx is cancelled, then
// performs one final drain flush with a short deadline. Closes the
// Done channel after the drain completes.
//
// Must be called exactly once per queue.
func (q *Queue[T]) Run(ctx context.Context) {
	defer close(q.done)

	ticker := q.clock.NewTicker(q.nextWait())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			q.pruneExpired()
			q.flush(ctx, false)
			ticker.Reset(q.nextWait())
		case <-q.kick:
			q.flush(ctx, false)
			ticker.Reset(q.nextWait())
		case finished := <-q.force:
			q.flush(ctx, true)
			select {
			case <-q.clock.After(q.stragglerWindow()):
				q.flush(ctx, true)
			case <-ctx.Done():
			}
			close(finished)
			ticker.Reset(q.nextWait())
		case <-ctx.Done():
			drainContext, drainCancel := context.WithTimeout(context.Background(), drainFlushTimeout)
			q.flush(drainContext, true)
			drainCancel()
			return
		}
		if q.afterCycle != nil {
			q.afterCycle()
		}
	}
}

// Done returns a channel that is closed after Run has fully exited,
// including the final drain flush.
func (q *Queue[T]) Done() <-chan struct{} {
	return q.done
}

func (q *Queue[T]) nextWait() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.retrying {
		return q.policy.RetryInterval
	}
	return q.policy.NextBatchWait
}

func (q *Queue[T]) stragglerWindow() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.policy.StragglerTimeout
}

// flush snapshots and removes the queue contents, serializes them as
// one batch, and sends it. A failed batch goes back to the front of
// the list so that records added during the attempt queue up behind
// it, and the cadence drops to the retry interval until a send
// succeeds. The lock is held for the list swap only, never across
// the network call.
func (q *Queue[T]) flush(ctx context.Context, forced bool) {
	state := q.session.Snapshot()

	q.mu.Lock()
	if len(q.pending) == 0 || !q.session.IsValid() {
		q.mu.Unlock()
		return
	}
	now := q.clock.Now()
	if !forced && !q.lastAttempt.IsZero() && now.Sub(q.lastAttempt) < minFlushSpacing {
		q.mu.Unlock()
		return
	}
	q.lastAttempt = now
	snapshot := q.pending
	q.pending = nil
	retain := q.policy.RetainAfterSent
	q.mu.Unlock()

	payloads := make([]T, len(snapshot))
	for i, record := range snapshot {
		payloads[i] = record.payload
	}
	body, err := json.Marshal(telemetry.Batch[T]{Data: payloads})
	if err != nil {
		// A record that cannot serialize never will; requeueing it
		// would wedge the queue.
		q.logger.Warn("dropping unserializable batch",
			"count", len(snapshot),
			"error", err,
		)
		q.mu.Lock()
		q.stats.Pruned += uint64(len(snapshot))
		q.mu.Unlock()
		return
	}

	err = q.transport.SendBatch(ctx, q.channel, body, state)

	q.mu.Lock()
	if err == nil {
		q.stats.Sent += uint64(len(snapshot))
		q.retrying = false
		if retain {
			q.retained = append(q.retained, payloads...)
		}
		q.mu.Unlock()
		return
	}

	// Any failure requeues, front first. Fatal means a retry of the
	// identical request will not help, but the records themselves may
	// still succeed in a later, differently composed batch.
	q.pending = append(snapshot, q.pending...)
	q.stats.Retried += uint64(len(snapshot))
	q.retrying = true
	q.mu.Unlock()

	q.logger.Warn("batch send failed, requeued",
		"count", len(snapshot),
		"kind", transport.KindOf(err),
		"error", err,
	)
	if transport.KindOf(err) == transport.KindAuthExpired && q.onAuthExpired != nil {
		q.onAuthExpired()
	}
}

// pruneOverflowLocked enforces MaxCachedItems, dropping oldest first.
// Caller holds q.mu.
func (q *Queue[T]) pruneOverflowLocked() {
	limit := q.policy.MaxCachedItems
	if limit <= 0 || len(q.pending) <= limit {
		return
	}
	dropped := len(q.pending) - limit
	q.pending = append(q.pending[:0:0], q.pending[dropped:]...)
	q.stats.Pruned += uint64(dropped)
	q.logger.Warn("queue over capacity, pruned oldest records",
		"dropped", dropped,
		"limit", limit,
	)
}

// pruneExpired drops records older than PruneOlderThan. Oldest records
// sit at the front, so one scan finds the cut point.
func (q *Queue[T]) pruneExpired() {
	q.mu.Lock()
	defer q.mu.Unlock()
	maxAge := q.policy.PruneOlderThan
	if maxAge <= 0 || len(q.pending) == 0 {
		return
	}
	cutoff := q.clock.Now().Add(-maxAge)
	cut := 0
	for cut < len(q.pending) && q.pending[cut].enqueued.Before(cutoff) {
		cut++
	}
	if cut == 0 {
		return
	}
	q.pending = append(q.pending[:0:0], q.pending[cut:]...)
	q.stats.Pruned += uint64(cut)
	q.logger.Warn("pruned records past maximum age",
		"dropped", cut,
		"maxAge", maxAge,
	)
}
