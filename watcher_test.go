package main

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeSource struct {
	mu      sync.Mutex
	notify  func()
	load    func()
	stopped bool
	err     error
}

func (f *fakeSource) Subscribe(ctx context.Context, notify, load func()) (func() error, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notify, f.load = notify, load
	return func() error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.stopped = true
		return nil
	}, nil
}

func (f *fakeSource) mutate() {
	f.mu.Lock()
	notify := f.notify
	f.mu.Unlock()
	notify()
}

func (f *fakeSource) loaded() {
	f.mu.Lock()
	load := f.load
	f.mu.Unlock()
	load()
}

func countingRun(counter *atomic.Int64) func(context.Context) {
	return func(context.Context) { counter.Add(1) }
}

func TestChangeWatcherRunsOnStart(t *testing.T) {
	defer goleak.VerifyNone(t)

	var runs atomic.Int64
	w := NewChangeWatcher(countingRun(&runs))
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	assert.Equal(t, int64(1), runs.Load(), "first run happens before Start returns")
	assert.Equal(t, int64(1), w.Runs())
}

func TestChangeWatcherDebouncesBurst(t *testing.T) {
	defer goleak.VerifyNone(t)

	var runs atomic.Int64
	w := NewChangeWatcher(countingRun(&runs), WithQuietPeriod(50*time.Millisecond))
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	for i := 0; i < 5; i++ {
		w.Notify()
		time.Sleep(10 * time.Millisecond)
	}

	assert.Eventually(t, func() bool { return runs.Load() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int64(2), runs.Load(), "a burst produces a single run")
}

func TestChangeWatcherRestartsQuietPeriod(t *testing.T) {
	defer goleak.VerifyNone(t)

	var runs atomic.Int64
	w := NewChangeWatcher(countingRun(&runs), WithQuietPeriod(200*time.Millisecond))
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	w.Notify()
	time.Sleep(100 * time.Millisecond)
	w.Notify()
	time.Sleep(130 * time.Millisecond)

	// 230ms after the first batch, but only 130ms after the last one.
	assert.Equal(t, int64(1), runs.Load())
	assert.Eventually(t, func() bool { return runs.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestChangeWatcherTriggerSkipsQuietPeriod(t *testing.T) {
	defer goleak.VerifyNone(t)

	var runs atomic.Int64
	w := NewChangeWatcher(countingRun(&runs), WithQuietPeriod(time.Hour))
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	w.Trigger()
	assert.Eventually(t, func() bool { return runs.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestChangeWatcherStopCancelsPendingRun(t *testing.T) {
	defer goleak.VerifyNone(t)

	var runs atomic.Int64
	w := NewChangeWatcher(countingRun(&runs), WithQuietPeriod(100*time.Millisecond))
	require.NoError(t, w.Start(context.Background()))

	w.Notify()
	w.Stop()

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int64(1), runs.Load())
}

func TestChangeWatcherStopsWithContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	var runs atomic.Int64
	ctx, cancel := context.WithCancel(context.Background())
	w := NewChangeWatcher(countingRun(&runs), WithQuietPeriod(10*time.Millisecond))
	require.NoError(t, w.Start(ctx))

	cancel()
	// Stop after the loop already exited must still return.
	w.Stop()
}

func TestChangeWatcherRestartsAfterContextDone(t *testing.T) {
	defer goleak.VerifyNone(t)

	var runs atomic.Int64
	src := &fakeSource{}
	ctx, cancel := context.WithCancel(context.Background())
	w := NewChangeWatcher(countingRun(&runs), WithMutationSource(src))
	require.NoError(t, w.Start(ctx))

	cancel()
	assert.Eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return src.stopped
	}, time.Second, 5*time.Millisecond, "an ended context unsubscribes")

	// No Stop in between: the watcher is already idle.
	require.NoError(t, w.Start(context.Background()))
	assert.Equal(t, int64(2), runs.Load())
	w.Stop()
}

func TestChangeWatcherSubscribesBeforeFirstRun(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := &fakeSource{}
	var runs atomic.Int64
	run := func(context.Context) {
		if runs.Add(1) == 1 {
			// The page changes while the first run is still in progress.
			src.mutate()
		}
	}

	w := NewChangeWatcher(run, WithQuietPeriod(20*time.Millisecond), WithMutationSource(src))
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	assert.Eventually(t, func() bool { return runs.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestChangeWatcherStartStopTwice(t *testing.T) {
	defer goleak.VerifyNone(t)

	var runs atomic.Int64
	w := NewChangeWatcher(countingRun(&runs))
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Start(context.Background()))
	assert.Equal(t, int64(1), runs.Load())

	w.Stop()
	w.Stop()

	// A stopped watcher can be started again.
	require.NoError(t, w.Start(context.Background()))
	w.Stop()
	assert.Equal(t, int64(2), runs.Load())
}

func TestChangeWatcherUsesMutationSource(t *testing.T) {
	defer goleak.VerifyNone(t)

	var runs atomic.Int64
	src := &fakeSource{}
	w := NewChangeWatcher(countingRun(&runs),
		WithQuietPeriod(20*time.Millisecond),
		WithMutationSource(src))
	require.NoError(t, w.Start(context.Background()))

	src.mutate()
	assert.Eventually(t, func() bool { return runs.Load() == 2 }, time.Second, 5*time.Millisecond)

	src.loaded()
	assert.Eventually(t, func() bool { return runs.Load() == 3 }, time.Second, 5*time.Millisecond)

	w.Stop()
	src.mu.Lock()
	defer src.mu.Unlock()
	assert.True(t, src.stopped, "Stop unsubscribes from the source")
}

func TestChangeWatcherSubscribeError(t *testing.T) {
	defer goleak.VerifyNone(t)

	boom := errors.New("boom")
	w := NewChangeWatcher(func(context.Context) {}, WithMutationSource(&fakeSource{err: boom}))

	err := w.Start(context.Background())
	assert.ErrorIs(t, err, boom)
	// Nothing is running, so Stop is a no-op.
	w.Stop()
}

func TestChangeWatcherRunsNeverOverlap(t *testing.T) {
	defer goleak.VerifyNone(t)

	var active, overlaps atomic.Int64
	run := func(context.Context) {
		if active.Add(1) > 1 {
			overlaps.Add(1)
		}
		time.Sleep(time.Millisecond)
		active.Add(-1)
	}

	w := NewChangeWatcher(run, WithQuietPeriod(time.Millisecond))
	require.NoError(t, w.Start(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				w.Notify()
				w.Trigger()
			}
		}()
	}
	wg.Wait()
	time.Sleep(20 * time.Millisecond)
	w.Stop()

	assert.Zero(t, overlaps.Load())
	assert.Greater(t, w.Runs(), int64(1))
}

func TestChangeWatcherWithPipeline(t *testing.T) {
	defer goleak.VerifyNone(t)

	doc := mustParse(t, `<html lang="en"><body>
		<div><span class="price">$20.00</span></div>
		<div class="delivery-price">$5.00</div>
	</body></html>`)
	src := &fakeSource{}

	var mu sync.Mutex
	run := newTestPipeline().Func(doc)
	w := NewChangeWatcher(func(ctx context.Context) {
		mu.Lock()
		defer mu.Unlock()
		run(ctx)
	}, WithQuietPeriod(10*time.Millisecond), WithMutationSource(src))

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	mu.Lock()
	assert.Equal(t, "Total with shipping: $25.00", totalText(t, doc))
	delivery, _ := doc.Query(".delivery-price")
	require.NoError(t, delivery.SetText("Free"))
	mu.Unlock()

	src.mutate()
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return countMatches(doc, totalSelector) == 0
	}, time.Second, 5*time.Millisecond)
}
