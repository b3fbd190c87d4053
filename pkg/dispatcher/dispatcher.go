// Package dispatcher implements the single-worker FIFO command queue
// that asynchronous session requests (record/play/start/stop) are
// moved onto, off the gateway's calling goroutine. Grounded on the
// sibling project's pkg/nest/queue.go CommandQueue, simplified: this
// queue carries no priority heap (every command is the same priority
// here) and the worker loop drains plain FIFO order rather than a
// heap.Pop.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// Ticket is one queued unit of work: a function to run on the worker
// goroutine and a channel the submitter blocks on for its result.
type Ticket struct {
	Execute  func(ctx context.Context) error
	Response chan error
}

// Dispatcher drains a single FIFO queue on one worker goroutine,
// guaranteeing requests from the same submitter are processed in
// arrival order. A golang.org/x/time/rate.Limiter gates admission of
// new tickets: configured generously by default, it exists as a
// safety valve against a misbehaving caller hammering record, not as
// a primary throttle — the same limiter the sibling's queue applies,
// just moved to the admission edge instead of the drain side.
type Dispatcher struct {
	limiter *rate.Limiter

	mu     sync.Mutex
	queue  []*Ticket
	notify chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closed bool
}

// New creates a dispatcher with the given admission rate (queries per
// second) and burst. A zero/negative rate means unlimited.
func New(qps float64, burst int) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	limit := rate.Inf
	if qps > 0 {
		limit = rate.Limit(qps)
	}
	if burst <= 0 {
		burst = 1
	}
	d := &Dispatcher{
		limiter: rate.NewLimiter(limit, burst),
		notify:  make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
	return d
}

// Start launches the single worker goroutine.
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.workerLoop()
}

// Stop signals the worker to exit after draining, and rejects any
// ticket still queued with context.Canceled — the sentinel-shutdown
// pattern the sibling queue uses, simplified to one boolean instead of
// a typed sentinel ticket.
func (d *Dispatcher) Stop() {
	d.cancel()
	d.wg.Wait()

	d.mu.Lock()
	remaining := d.queue
	d.queue = nil
	d.closed = true
	d.mu.Unlock()

	for _, t := range remaining {
		t.Response <- context.Canceled
		close(t.Response)
	}
}

// Submit enqueues one unit of work and blocks until it has executed
// (or the dispatcher is stopped). Admission is gated by the rate
// limiter; Submit blocks on Wait rather than dropping the request.
func (d *Dispatcher) Submit(ctx context.Context, execute func(ctx context.Context) error) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("dispatcher: admission: %w", err)
	}

	t := &Ticket{Execute: execute, Response: make(chan error, 1)}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return context.Canceled
	}
	d.queue = append(d.queue, t)
	d.mu.Unlock()

	select {
	case d.notify <- struct{}{}:
	default:
	}

	select {
	case err := <-t.Response:
		return err
	case <-d.ctx.Done():
		return context.Canceled
	}
}

func (d *Dispatcher) workerLoop() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-d.notify:
		}

		for {
			d.mu.Lock()
			if len(d.queue) == 0 {
				d.mu.Unlock()
				break
			}
			t := d.queue[0]
			d.queue = d.queue[1:]
			d.mu.Unlock()

			t.Response <- t.Execute(d.ctx)
		}
	}
}
