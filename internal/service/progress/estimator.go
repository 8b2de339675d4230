package progress

import (
	"context"
	"math"
	"sync"
	"time"
)

const (
	// Cap is the highest value the estimator reports. Only the orchestrator
	// reports 100, once the recognizer has actually returned.
	Cap = 99

	DefaultMultiplier = 2.0
	DefaultTick       = 100 * time.Millisecond
)

// Progress returns the estimated completion percentage after elapsed out of
// an expected total. A non-positive total jumps straight to Cap.
func Progress(elapsed, total time.Duration) int {
	if total <= 0 {
		return Cap
	}
	p := math.Floor(float64(elapsed) / float64(total) * 100)
	switch {
	case p < 0:
		return 0
	case p > Cap:
		return Cap
	}
	return int(p)
}

// Estimator produces a time-based progress curve for an opaque operation
// whose expected length is audio duration times Multiplier.
type Estimator struct {
	Multiplier float64
	Tick       time.Duration

	now func() time.Time
}

// NewEstimator returns an estimator. Non-positive arguments take the
// defaults.
func NewEstimator(multiplier float64, tick time.Duration) *Estimator {
	if multiplier <= 0 {
		multiplier = DefaultMultiplier
	}
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Estimator{Multiplier: multiplier, Tick: tick, now: time.Now}
}

// WithClock replaces the time source. Used by tests that drive elapsed time.
func (e *Estimator) WithClock(now func() time.Time) *Estimator {
	e.now = now
	return e
}

// EstimatedTotal returns the expected processing time for audio of the given
// length in seconds.
func (e *Estimator) EstimatedTotal(durationSeconds float64) time.Duration {
	if durationSeconds <= 0 || math.IsNaN(durationSeconds) || math.IsInf(durationSeconds, 0) {
		return 0
	}
	return time.Duration(durationSeconds * e.Multiplier * float64(time.Second))
}

// Run is one running estimation loop.
type Run struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop cancels the loop and blocks until it has exited. After Stop returns
// emit is never called again. Safe to call more than once.
func (r *Run) Stop() {
	r.once.Do(r.cancel)
	<-r.done
}

// Done is closed when the loop exits, either by reaching Cap or by Stop.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Start begins emitting estimates for audio of durationSeconds. The first
// value is emitted immediately and then once per Tick; the loop exits on its
// own after emitting Cap. Values passed to emit never decrease. An initial
// estimate of 0 is not emitted: callers report the start themselves.
func (e *Estimator) Start(ctx context.Context, durationSeconds float64, emit func(progress int)) *Run {
	ctx, cancel := context.WithCancel(ctx)
	r := &Run{cancel: cancel, done: make(chan struct{})}

	now := e.now
	if now == nil {
		now = time.Now
	}
	total := e.EstimatedTotal(durationSeconds)
	start := now()

	go func() {
		defer close(r.done)
		defer cancel()

		ticker := time.NewTicker(e.Tick)
		defer ticker.Stop()

		last, first := 0, true
		for {
			p := max(Progress(now().Sub(start), total), last)
			if ctx.Err() != nil {
				return
			}
			if !first || p > 0 {
				emit(p)
			}
			last, first = p, false
			if p >= Cap {
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return r
}
