// Counters engine - fact/index ingestion and counter evaluation service.
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package dispatcher implements the QueryDispatcher: a bounded worker pool
// that multiplexes independent counter queries across a fixed set of
// database connections, routing each result back by a process-unique
// queryId (spec §4.6). Job execution runs behind a gobreaker circuit
// breaker; results travel back through a pending-queries map of
// single-shot result channels.
package dispatcher

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/sgaydamakov/counters-engine/internal/apperrors"
	"github.com/sgaydamakov/counters-engine/internal/metrics"
)

// Job is the unit of work submitted to the dispatcher: an opaque query
// execution closure, given its own context so the worker can honor
// cancellation independently of the submitter's timeout bookkeeping.
type Job func(ctx context.Context) (interface{}, error)

// Config configures pool sizing and timeouts.
type Config struct {
	WorkerCount          int
	QueryTimeout         time.Duration
	WorkerAcquireTimeout time.Duration
}

type pendingResult struct {
	value interface{}
	err   error
}

// Dispatcher is the QueryDispatcher worker pool.
type Dispatcher struct {
	cfg Config

	slots chan struct{}

	mu      sync.Mutex
	pending map[int64]chan pendingResult

	nextQueryID   int64
	queryIDMu     sync.Mutex
	processPrefix int64

	breaker *gobreaker.CircuitBreaker[interface{}]
}

// New builds a Dispatcher with cfg.WorkerCount worker slots.
func New(cfg Config) *Dispatcher {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	slots := make(chan struct{}, cfg.WorkerCount)
	for i := 0; i < cfg.WorkerCount; i++ {
		slots <- struct{}{}
	}

	cb := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        "query-dispatcher",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Dispatcher{
		cfg:           cfg,
		slots:         slots,
		pending:       make(map[int64]chan pendingResult),
		processPrefix: int64(os.Getpid()) << 32,
		breaker:       cb,
	}
}

// NextQueryID returns a process-unique, monotonically increasing queryId:
// a process-id prefix combined with an atomically-incremented counter, so
// no two processes or goroutines ever observe the same value (spec §4.6).
func (d *Dispatcher) NextQueryID() int64 {
	d.queryIDMu.Lock()
	defer d.queryIDMu.Unlock()
	d.nextQueryID++
	return d.processPrefix | d.nextQueryID
}

// Submit runs job under a worker slot and routes its result back to the
// caller by queryId. It blocks until the job completes, times out, the
// caller's context is cancelled, or no worker becomes available within
// WorkerAcquireTimeout.
func (d *Dispatcher) Submit(ctx context.Context, queryID int64, job Job) (interface{}, error) {
	acquireTimer := time.NewTimer(d.cfg.WorkerAcquireTimeout)
	defer acquireTimer.Stop()

	select {
	case <-d.slots:
		defer func() { d.slots <- struct{}{} }()
	case <-acquireTimer.C:
		metrics.DispatcherNoAvailableWorkers.Inc()
		return nil, apperrors.ErrNoAvailableWorkers
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	metrics.DispatcherWorkersBusy.Set(float64(d.cfg.WorkerCount - len(d.slots)))
	defer metrics.DispatcherWorkersBusy.Set(float64(d.cfg.WorkerCount - len(d.slots)))

	resultCh := make(chan pendingResult, 1)
	d.mu.Lock()
	if _, exists := d.pending[queryID]; exists {
		d.mu.Unlock()
		metrics.DispatcherQueryIDCollisions.Inc()
		return nil, fmt.Errorf("dispatcher: queryId %d already pending", queryID)
	}
	d.pending[queryID] = resultCh
	metrics.DispatcherQueueDepth.Set(float64(len(d.pending)))
	d.mu.Unlock()

	go d.run(queryID, job)

	timeout := d.cfg.QueryTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-resultCh:
		return res.value, res.err
	case <-timer.C:
		d.drop(queryID)
		metrics.DispatcherQueryTimeouts.Inc()
		return nil, &apperrors.TimeoutError{QueryID: fmt.Sprintf("%d", queryID)}
	case <-ctx.Done():
		d.drop(queryID)
		return nil, ctx.Err()
	}
}

// run executes job and, if the queryId is still pending (i.e. has not
// already timed out or been cancelled), delivers the result exactly once.
// A late result addressed to a removed queryId is silently dropped — never
// logged, per spec §4.6 ("a known class of false-positive noise").
func (d *Dispatcher) run(queryID int64, job Job) {
	start := time.Now()
	value, err := d.breaker.Execute(func() (interface{}, error) {
		return job(context.Background())
	})
	metrics.RecordDispatcherQuery(time.Since(start))

	d.mu.Lock()
	ch, ok := d.pending[queryID]
	if ok {
		delete(d.pending, queryID)
		metrics.DispatcherQueueDepth.Set(float64(len(d.pending)))
	}
	d.mu.Unlock()

	if !ok {
		return
	}
	ch <- pendingResult{value: value, err: err}
}

func (d *Dispatcher) drop(queryID int64) {
	d.mu.Lock()
	delete(d.pending, queryID)
	metrics.DispatcherQueueDepth.Set(float64(len(d.pending)))
	d.mu.Unlock()
}

// Pending reports the number of in-flight queries, for diagnostics and tests.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
