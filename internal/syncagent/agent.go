// Syncrelay - Loan Ledger Change Sync and Realtime Notification Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

/*
Package syncagent implements the durable pull path of change synchronization.

The Agent polls the change store for records newer than its cursor, groups
them by table and dispatches each group to the listener registry, then
advances the cursor to the server's timestamp_actual. Consumed records are
acknowledged asynchronously; an acknowledgment failure is logged and never
fails the poll.

Failures are counted. After MaxRetries consecutive failures the agent
reports a degraded status, but it never stops polling: the next tick tries
again and the first success clears the counter.

At most one poll runs at a time. A poll requested while another is in
flight returns ErrPollInProgress without touching the store.
*/
package syncagent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/syncrelay/internal/cache"
	"github.com/tomtom215/syncrelay/internal/cursor"
	"github.com/tomtom215/syncrelay/internal/listener"
	"github.com/tomtom215/syncrelay/internal/logging"
	"github.com/tomtom215/syncrelay/internal/metrics"
	"github.com/tomtom215/syncrelay/internal/models"
	"github.com/tomtom215/syncrelay/internal/store"
)

// ErrPollInProgress is returned by Poll when another poll is running.
var ErrPollInProgress = errors.New("poll already in progress")

// Status is the health of the pull path.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
)

// Config holds sync agent configuration.
type Config struct {
	// Interval between polls.
	Interval time.Duration

	// MaxRetries consecutive failures before the status turns degraded.
	MaxRetries int

	// Acknowledge posts mark_synced for every received batch.
	Acknowledge bool

	// AckTimeout bounds each mark_synced call.
	AckTimeout time.Duration

	DedupCapacity int
	DedupTTL      time.Duration
}

// DefaultConfig returns the defaults used by the agent binary.
func DefaultConfig() Config {
	return Config{
		Interval:      5 * time.Second,
		MaxRetries:    3,
		Acknowledge:   true,
		AckTimeout:    10 * time.Second,
		DedupCapacity: 10000,
		DedupTTL:      time.Hour,
	}
}

// Snapshot describes the agent at one point in time.
type Snapshot struct {
	Status      Status    `json:"status"`
	Failures    int       `json:"consecutive_failures"`
	LastError   string    `json:"last_error,omitempty"`
	LastSuccess time.Time `json:"last_success"`
	Cursor      time.Time `json:"cursor"`
	Running     bool      `json:"running"`
}

// PollResult summarizes one successful poll.
type PollResult struct {
	Received   int
	Duplicates int
	Dispatched int
	Cursor     time.Time
	Advanced   bool
}

// Agent polls the change store and feeds the listener registry.
type Agent struct {
	api      store.API
	cursor   *cursor.Cursor
	registry *listener.Registry[models.ChangeRecord]
	config   Config
	seen     *cache.LRU[int64]
	logger   zerolog.Logger

	// polling implements single-flight suppression; pollMu orders a full
	// resync after the poll it interrupts.
	polling atomic.Bool
	pollMu  sync.Mutex

	kick chan struct{}

	mu          sync.Mutex
	running     bool
	stopChan    chan struct{}
	failures    int
	status      Status
	lastErr     error
	lastSuccess time.Time
	onStatus    func(Status, error)

	wg    sync.WaitGroup
	ackWG sync.WaitGroup
}

// New creates an agent. The cursor should already be loaded.
func New(api store.API, cur *cursor.Cursor, registry *listener.Registry[models.ChangeRecord], cfg Config) *Agent {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = def.AckTimeout
	}

	return &Agent{
		api:      api,
		cursor:   cur,
		registry: registry,
		config:   cfg,
		seen:     cache.NewLRU[int64](cfg.DedupCapacity, cfg.DedupTTL),
		logger:   logging.WithComponent("sync-agent"),
		kick:     make(chan struct{}, 1),
		status:   StatusHealthy,
	}
}

// SetOnStatus sets the callback invoked on healthy/degraded transitions.
func (a *Agent) SetOnStatus(fn func(Status, error)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onStatus = fn
}

// Start begins the polling loop. The first poll runs immediately.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = true
	a.stopChan = make(chan struct{})
	stop := a.stopChan
	a.mu.Unlock()

	a.logger.Info().
		Dur("interval", a.config.Interval).
		Time("cursor", a.cursor.Value()).
		Msg("starting sync agent")

	a.wg.Add(1)
	go a.pollLoop(ctx, stop)
	return nil
}

// Stop halts the polling loop and waits for it and for any pending
// acknowledgments to finish.
func (a *Agent) Stop() {
	a.mu.Lock()
	if a.running {
		a.running = false
		close(a.stopChan)
	}
	a.mu.Unlock()

	a.wg.Wait()
	a.ackWG.Wait()
	a.logger.Info().Msg("sync agent stopped")
}

// Trigger requests a poll without waiting for the next tick. Requests made
// while one is already queued are coalesced.
func (a *Agent) Trigger() {
	select {
	case a.kick <- struct{}{}:
	default:
	}
}

func (a *Agent) pollLoop(ctx context.Context, stop <-chan struct{}) {
	defer a.wg.Done()

	a.runPoll(ctx)

	ticker := time.NewTicker(a.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			a.runPoll(ctx)
		case <-a.kick:
			a.runPoll(ctx)
		}
	}
}

func (a *Agent) runPoll(ctx context.Context) {
	res, err := a.Poll(ctx)
	switch {
	case errors.Is(err, ErrPollInProgress):
		a.logger.Debug().Msg("poll skipped, another poll is in flight")
	case err != nil:
		// logged by recordFailure
	case res.Received > 0:
		a.logger.Debug().
			Int("received", res.Received).
			Int("dispatched", res.Dispatched).
			Int("duplicates", res.Duplicates).
			Time("cursor", res.Cursor).
			Msg("poll complete")
	}
}

// Poll performs one poll cycle. Transport, status and decode failures are
// counted and returned; they never stop the loop.
func (a *Agent) Poll(ctx context.Context) (PollResult, error) {
	if !a.polling.CompareAndSwap(false, true) {
		metrics.RecordPollSkipped()
		return PollResult{}, ErrPollInProgress
	}

	a.pollMu.Lock()
	defer a.pollMu.Unlock()
	defer a.polling.Store(false)

	return a.pollLocked(ctx)
}

func (a *Agent) pollLocked(ctx context.Context) (PollResult, error) {
	start := time.Now()
	since := a.cursor.Value()

	resp, err := a.api.Changes(ctx, since)
	if err != nil {
		metrics.RecordPoll(time.Since(start), nil, err)
		a.recordFailure(err)
		return PollResult{}, err
	}

	tables, groups := models.GroupByTable(resp.Changes)
	counts := make(map[string]int, len(tables))
	res := PollResult{Received: len(resp.Changes)}

	for _, table := range tables {
		records := groups[table]
		counts[table] = len(records)

		fresh := make([]models.ChangeRecord, 0, len(records))
		for i := range records {
			if a.seen.IsDuplicate(records[i].ID) {
				res.Duplicates++
				continue
			}
			fresh = append(fresh, records[i])
		}
		if len(fresh) == 0 {
			continue
		}

		delivered := a.registry.Dispatch(table, fresh)
		res.Dispatched += len(fresh)
		if delivered == 0 && a.registry.Len(table) > 0 {
			a.logger.Warn().Str("table", table).Int("records", len(fresh)).Msg("no listener accepted the batch")
		}
	}
	if res.Duplicates > 0 {
		metrics.SyncChangesDuplicate.Add(float64(res.Duplicates))
	}

	advanced, err := a.cursor.Advance(ctx, resp.CurrentTimestamp.Time)
	if err != nil {
		err = fmt.Errorf("advance cursor: %w", err)
		metrics.RecordPoll(time.Since(start), counts, err)
		a.recordFailure(err)
		return res, err
	}
	res.Advanced = advanced
	res.Cursor = a.cursor.Value()

	metrics.RecordPoll(time.Since(start), counts, nil)
	a.recordSuccess()

	if a.config.Acknowledge && len(resp.Changes) > 0 {
		a.acknowledge(models.IDs(resp.Changes))
	}
	return res, nil
}

// acknowledge marks ids consumed in the background. The cursor is the
// source of truth for this client; the flag only lets the store prune.
func (a *Agent) acknowledge(ids []int64) {
	a.ackWG.Add(1)
	go func() {
		defer a.ackWG.Done()

		ctx, cancel := context.WithTimeout(context.Background(), a.config.AckTimeout)
		defer cancel()

		if err := a.api.MarkSynced(ctx, ids); err != nil {
			metrics.SyncAckErrors.Inc()
			a.logger.Warn().Err(err).Int("records", len(ids)).Msg("failed to acknowledge changes")
		}
	}()
}

// ForceFullResync resets the cursor to the epoch, forgets dispatched ids
// and polls. The reset and the epoch poll run under the poll lock, so an
// in-flight poll finishes first and cannot overwrite the reset cursor.
func (a *Agent) ForceFullResync(ctx context.Context) error {
	a.pollMu.Lock()
	defer a.pollMu.Unlock()

	if err := a.cursor.Reset(ctx); err != nil {
		return fmt.Errorf("reset cursor: %w", err)
	}
	a.seen.Clear()

	metrics.SyncFullResyncs.Inc()
	a.logger.Info().Msg("full resync requested")

	_, err := a.pollLocked(ctx)
	return err
}

// Cursor returns the current cursor value.
func (a *Agent) Cursor() time.Time {
	return a.cursor.Value()
}

// Status returns a snapshot of the agent's health.
func (a *Agent) Status() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Snapshot{
		Status:      a.status,
		Failures:    a.failures,
		LastSuccess: a.lastSuccess,
		Cursor:      a.cursor.Value(),
		Running:     a.running,
	}
	if a.lastErr != nil {
		s.LastError = a.lastErr.Error()
	}
	return s
}

func (a *Agent) recordFailure(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}

	a.mu.Lock()
	a.failures++
	a.lastErr = err
	n := a.failures
	degraded := n >= a.config.MaxRetries && a.status == StatusHealthy
	if degraded {
		a.status = StatusDegraded
	}
	cb := a.onStatus
	a.mu.Unlock()

	metrics.SetConsecutiveFailures(n)
	a.logger.Warn().Err(err).Int("consecutive_failures", n).Msg("poll failed")

	if degraded {
		a.logger.Error().
			Err(err).
			Int("max_retries", a.config.MaxRetries).
			Msg("sync degraded, will keep retrying")
		if cb != nil {
			cb(StatusDegraded, err)
		}
	}
}

func (a *Agent) recordSuccess() {
	a.mu.Lock()
	recovered := a.status == StatusDegraded
	a.failures = 0
	a.lastErr = nil
	a.status = StatusHealthy
	a.lastSuccess = time.Now()
	cb := a.onStatus
	a.mu.Unlock()

	metrics.SetConsecutiveFailures(0)
	if recovered {
		a.logger.Info().Msg("sync recovered")
		if cb != nil {
			cb(StatusHealthy, nil)
		}
	}
}
