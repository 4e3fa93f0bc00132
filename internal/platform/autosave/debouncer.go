// Package autosave buffers form edits and writes them after a quiescence
// window. Every Touch re-arms the key's timer, so a clinician typing in a
// form produces one write once they pause instead of one per keystroke.
package autosave

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/anesth/preop/internal/platform/metrics"
)

var ErrClosed = errors.New("autosave: debouncer closed")

// FlushFunc persists the latest value of key.
type FlushFunc[T any] func(ctx context.Context, key string, value T) error

type Options struct {
	Delay        time.Duration
	RetryDelay   time.Duration
	FlushTimeout time.Duration
	Logger       zerolog.Logger
	Metrics      *metrics.Registry
}

type entry[T any] struct {
	value    T
	gen      uint64
	timer    *time.Timer
	flushing bool
}

// Debouncer holds at most one pending value per key. A failed flush keeps
// the value pending and retries after RetryDelay; values are only dropped
// once written.
type Debouncer[T any] struct {
	opts  Options
	flush FlushFunc[T]

	mu       sync.Mutex
	pending  map[string]*entry[T]
	closed   bool
	inflight sync.WaitGroup
}

func NewDebouncer[T any](flush FlushFunc[T], opts Options) *Debouncer[T] {
	if opts.Delay <= 0 {
		opts.Delay = 2 * time.Second
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * opts.Delay
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = 10 * time.Second
	}
	return &Debouncer[T]{opts: opts, flush: flush, pending: make(map[string]*entry[T])}
}

// Touch replaces the pending value of key and restarts its quiescence timer.
func (d *Debouncer[T]) Touch(key string, value T) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}

	e, ok := d.pending[key]
	if !ok {
		e = &entry[T]{}
		d.pending[key] = e
	}
	e.value = value
	e.gen++
	d.arm(key, e, d.opts.Delay)
	return nil
}

// arm must be called with d.mu held.
func (d *Debouncer[T]) arm(key string, e *entry[T], after time.Duration) {
	if e.timer != nil {
		e.timer.Stop()
	}
	gen := e.gen
	e.timer = time.AfterFunc(after, func() { d.fire(key, gen) })
}

// Pending returns the value waiting to be written for key, if any.
func (d *Debouncer[T]) Pending(key string) (T, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.pending[key]
	if !ok {
		var zero T
		return zero, false
	}
	return e.value, true
}

// Len returns the number of keys with unsaved values.
func (d *Debouncer[T]) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Cancel drops the pending value of key without writing it.
func (d *Debouncer[T]) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.pending[key]; ok {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(d.pending, key)
	}
}

func (d *Debouncer[T]) fire(key string, gen uint64) {
	d.mu.Lock()
	if d.closed {
		// Close writes what is left
		d.mu.Unlock()
		return
	}
	e, ok := d.pending[key]
	if !ok || e.gen != gen {
		d.mu.Unlock()
		return
	}
	if e.flushing {
		// a write of an older value is still running
		d.arm(key, e, d.opts.Delay)
		d.mu.Unlock()
		return
	}
	e.flushing = true
	value := e.value
	d.inflight.Add(1)
	d.mu.Unlock()
	defer d.inflight.Done()

	ctx, cancel := context.WithTimeout(context.Background(), d.opts.FlushTimeout)
	err := d.flush(ctx, key, value)
	cancel()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.settle(key, e, gen, err)
}

// settle must be called with d.mu held.
func (d *Debouncer[T]) settle(key string, e *entry[T], gen uint64, err error) {
	e.flushing = false
	d.opts.Metrics.AutosaveFlushed(err == nil)

	if err != nil {
		d.opts.Logger.Error().Err(err).Str("key", key).Msg("autosave flush failed, will retry")
		if e.gen == gen && !d.closed {
			d.arm(key, e, d.opts.RetryDelay)
		}
		return
	}
	if e.gen == gen && d.pending[key] == e {
		delete(d.pending, key)
	}
}

// Flush writes every pending value now. Values whose write fails stay
// pending and the errors are returned joined.
func (d *Debouncer[T]) Flush(ctx context.Context) error {
	type job struct {
		key   string
		e     *entry[T]
		gen   uint64
		value T
	}

	d.mu.Lock()
	var jobs []job
	for key, e := range d.pending {
		if e.flushing {
			continue
		}
		if e.timer != nil {
			e.timer.Stop()
		}
		e.flushing = true
		jobs = append(jobs, job{key: key, e: e, gen: e.gen, value: e.value})
	}
	d.mu.Unlock()

	var errs []error
	for _, j := range jobs {
		err := d.flush(ctx, j.key, j.value)
		if err != nil {
			errs = append(errs, fmt.Errorf("flush %s: %w", j.key, err))
		}
		d.mu.Lock()
		d.settle(j.key, j.e, j.gen, err)
		d.mu.Unlock()
	}
	return errors.Join(errs...)
}

// Close stops accepting edits, waits for running writes and flushes what is
// still pending. No write starts after Close returns.
func (d *Debouncer[T]) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	for _, e := range d.pending {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return d.Flush(ctx)
}
