package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const defaultQuietPeriod = 300 * time.Millisecond

// MutationSource reports page changes. notify is called for every batch of
// mutations, load when a new document finished loading. The returned stop
// function unsubscribes.
type MutationSource interface {
	Subscribe(ctx context.Context, notify, load func()) (stop func() error, err error)
}

// ChangeWatcher re-runs a function after the page has been quiet for a
// while. Every new mutation batch restarts the quiet period, so a burst of
// changes produces a single run. All runs happen on one goroutine and never
// overlap.
type ChangeWatcher struct {
	run    func(context.Context)
	source MutationSource
	quiet  time.Duration
	logger *zap.Logger

	notifyCh  chan struct{}
	triggerCh chan struct{}

	mu          sync.Mutex
	running     bool
	stopCh      chan struct{}
	doneCh      chan struct{}
	unsubscribe func() error

	runs atomic.Int64
}

type WatcherOption func(*ChangeWatcher)

func WithQuietPeriod(d time.Duration) WatcherOption {
	return func(w *ChangeWatcher) {
		if d > 0 {
			w.quiet = d
		}
	}
}

func WithMutationSource(src MutationSource) WatcherOption {
	return func(w *ChangeWatcher) { w.source = src }
}

func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *ChangeWatcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func NewChangeWatcher(run func(context.Context), opts ...WatcherOption) *ChangeWatcher {
	w := &ChangeWatcher{
		run:       run,
		quiet:     defaultQuietPeriod,
		logger:    zap.NewNop(),
		notifyCh:  make(chan struct{}, 1),
		triggerCh: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start subscribes to the mutation source, runs the function once right away
// and begins watching. Changes reported during that first run are queued.
// Calling Start on a running watcher does nothing. The watcher stops by
// itself when ctx is done and can then be started again.
func (w *ChangeWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	if w.source != nil {
		stop, err := w.source.Subscribe(ctx, w.Notify, w.Trigger)
		if err != nil {
			return fmt.Errorf("subscribe to mutations: %w", err)
		}
		w.unsubscribe = stop
	}

	w.runOnce(ctx)

	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.running = true

	go w.loop(ctx, w.stopCh, w.doneCh)

	w.logger.Debug("change watcher started", zap.Duration("quiet_period", w.quiet))
	return nil
}

// Stop unsubscribes, cancels any pending run and waits for the watch loop
// to exit.
func (w *ChangeWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	unsubscribe := w.unsubscribe
	w.unsubscribe = nil
	stopCh, doneCh := w.stopCh, w.doneCh
	w.mu.Unlock()

	if unsubscribe != nil {
		if err := unsubscribe(); err != nil {
			w.logger.Debug("unsubscribe failed", zap.Error(err))
		}
	}

	close(stopCh)
	<-doneCh

	w.logger.Debug("change watcher stopped", zap.Int64("runs", w.runs.Load()))
}

// Notify reports a batch of mutations and restarts the quiet period.
func (w *ChangeWatcher) Notify() {
	select {
	case w.notifyCh <- struct{}{}:
	default:
	}
}

// Trigger asks for a run without waiting for the quiet period.
func (w *ChangeWatcher) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

// Runs returns how many times the function has run.
func (w *ChangeWatcher) Runs() int64 {
	return w.runs.Load()
}

func (w *ChangeWatcher) loop(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			w.expire(doneCh)
			return

		case <-stopCh:
			return

		case <-w.notifyCh:
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.quiet)
			timerC = timer.C

		case <-timerC:
			timer, timerC = nil, nil
			w.runOnce(ctx)

		case <-w.triggerCh:
			w.runOnce(ctx)
		}
	}
}

// expire releases a watcher whose context ended without Stop.
func (w *ChangeWatcher) expire(doneCh chan struct{}) {
	w.mu.Lock()
	if !w.running || w.doneCh != doneCh {
		w.mu.Unlock()
		return
	}
	w.running = false
	unsubscribe := w.unsubscribe
	w.unsubscribe = nil
	w.mu.Unlock()

	if unsubscribe != nil {
		if err := unsubscribe(); err != nil {
			w.logger.Debug("unsubscribe failed", zap.Error(err))
		}
	}
	w.logger.Debug("change watcher context done", zap.Int64("runs", w.runs.Load()))
}

func (w *ChangeWatcher) runOnce(ctx context.Context) {
	w.runs.Add(1)
	w.run(ctx)
}
