// Package progress fans transcription progress out to connected observers
// and estimates progress for recognizer calls that report none.
package progress

import (
	"sync"

	"github.com/rs/zerolog"

	"voicetotext-service/internal/models"
	"voicetotext-service/internal/observability/logging"
	"voicetotext-service/internal/observability/metrics"
)

// Observer is one live progress subscriber, typically a WebSocket
// connection. Send must honour its own write deadline so a stalled peer
// cannot hold up a broadcast indefinitely.
type Observer interface {
	Send(v any) error
	Close() error
}

// Broadcaster owns the set of live observers.
//
// Membership changes come from connection lifetimes (Register, Unregister)
// and from failed deliveries inside Publish. Publish calls are serialized so
// every observer sees frames in the order they were published.
type Broadcaster struct {
	mu        sync.RWMutex
	observers map[Observer]struct{}

	sendMu sync.Mutex

	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewBroadcaster creates an empty broadcaster. A nil m uses the default
// metrics registry.
func NewBroadcaster(m *metrics.Metrics) *Broadcaster {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Broadcaster{
		observers: make(map[Observer]struct{}),
		metrics:   m,
		logger:    logging.WithComponent("progress"),
	}
}

// Register adds o to the live set. Registering the same observer twice is a
// no-op; the return value reports whether o was added.
func (b *Broadcaster) Register(o Observer) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.observers[o]; ok {
		return false
	}
	b.observers[o] = struct{}{}
	b.metrics.RecordObserverRegistered()
	b.logger.Debug().Int("observers", len(b.observers)).Msg("Observer registered")
	return true
}

// Unregister removes o if present and reports whether it was.
func (b *Broadcaster) Unregister(o Observer) bool {
	return b.remove(o, false)
}

func (b *Broadcaster) remove(o Observer, sendFailed bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.observers[o]; !ok {
		return false
	}
	delete(b.observers, o)
	b.metrics.RecordObserverUnregistered(sendFailed)
	b.logger.Debug().
		Int("observers", len(b.observers)).
		Bool("sendFailed", sendFailed).
		Msg("Observer unregistered")
	return true
}

// Len returns the number of live observers.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.observers)
}

// Broadcast publishes a progress frame. Values outside 0..100 are clamped.
func (b *Broadcaster) Broadcast(jobID string, progress int) int {
	progress = min(max(progress, 0), 100)
	return b.Publish(models.ProgressFrame{Progress: progress, JobID: jobID})
}

// Publish delivers frame to every observer registered when the call starts
// and returns the number of successful deliveries. Observers that fail are
// closed and removed before Publish returns; a failure never affects
// delivery to the others.
func (b *Broadcaster) Publish(frame any) int {
	b.sendMu.Lock()
	defer b.sendMu.Unlock()

	snapshot := b.snapshot()
	b.metrics.RecordBroadcast()
	if len(snapshot) == 0 {
		return 0
	}

	errs := make([]error, len(snapshot))
	var wg sync.WaitGroup
	for i, o := range snapshot {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = o.Send(frame)
		}()
	}
	wg.Wait()

	delivered := 0
	for i, err := range errs {
		if err == nil {
			delivered++
			continue
		}
		o := snapshot[i]
		if b.remove(o, true) {
			b.logger.Warn().Err(err).Msg("Dropping observer after failed send")
			_ = o.Close()
		}
	}
	return delivered
}

// CloseAll closes and removes every observer. Used on shutdown.
func (b *Broadcaster) CloseAll() {
	for _, o := range b.snapshot() {
		if b.remove(o, false) {
			_ = o.Close()
		}
	}
}

func (b *Broadcaster) snapshot() []Observer {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Observer, 0, len(b.observers))
	for o := range b.observers {
		out = append(out, o)
	}
	return out
}
