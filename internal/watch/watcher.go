// Package watch implements the DOM capture fallback channel: once a
// submission is observed, the rendered page text is sampled on an interval
// until a stable labeled result appears or the attempt budget runs out.
package watch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/674019130/zhuqueAI-plugin/internal/extract"
	"github.com/674019130/zhuqueAI-plugin/internal/record"
)

// State is the watcher's lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StatePolling State = "polling"
)

// Sampler reads the page's plain text with the recorder's own UI elements
// excluded, so their rendered percentages cannot contaminate the sample.
type Sampler interface {
	PageText(ctx context.Context) (string, error)
}

// Sink receives qualifying samples; a nil return from Accept means the
// candidate was not accepted. Disarm is called when the attempt budget runs
// out, so an armed capture cycle never outlives its polling window.
type Sink interface {
	Accept(ctx context.Context, cand *record.Candidate) *record.DetectionRecord
	Disarm()
}

// Watcher is the polling state machine: Idle → Polling → (accepted or timed
// out) → Idle. It keeps a fingerprint of the last sample it handed over that
// survives arm cycles, so an unchanged result still rendered from the
// previous run is never re-emitted; only Reset clears that memory.
type Watcher struct {
	extractor   *extract.Extractor
	sampler     Sampler
	sink        Sink
	interval    time.Duration
	maxAttempts int

	mu              sync.Mutex
	state           State
	stop            chan struct{}
	lastFingerprint string
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithInterval overrides the sampling interval.
func WithInterval(d time.Duration) Option {
	return func(w *Watcher) { w.interval = d }
}

// WithMaxAttempts overrides the polling attempt budget.
func WithMaxAttempts(n int) Option {
	return func(w *Watcher) { w.maxAttempts = n }
}

// New creates an idle Watcher.
func New(extractor *extract.Extractor, sampler Sampler, sink Sink, opts ...Option) *Watcher {
	w := &Watcher{
		extractor:   extractor,
		sampler:     sampler,
		sink:        sink,
		interval:    2 * time.Second,
		maxAttempts: 30,
		state:       StateIdle,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// State returns the current lifecycle state.
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Start enters Polling. A second trigger while already polling leaves the
// running cycle in place rather than restarting it.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.state == StatePolling {
		w.mu.Unlock()
		return
	}
	w.state = StatePolling
	stop := make(chan struct{})
	w.stop = stop
	w.mu.Unlock()

	slog.Debug("dom watcher polling started", "interval", w.interval, "max_attempts", w.maxAttempts)
	go w.pollLoop(stop)
}

// Reset forces Idle and clears the fingerprint memory.
func (w *Watcher) Reset() {
	w.mu.Lock()
	w.lastFingerprint = ""
	stop := w.stop
	w.mu.Unlock()
	w.stopPolling(stop, "reset")
}

// stopPolling transitions to Idle, but only when stop still identifies the
// cycle the caller belongs to; a finished loop must not tear down a cycle
// started after it. Reports whether the transition happened.
func (w *Watcher) stopPolling(stop chan struct{}, reason string) bool {
	if stop == nil {
		return false
	}
	w.mu.Lock()
	if w.state != StatePolling || w.stop != stop {
		w.mu.Unlock()
		return false
	}
	w.state = StateIdle
	w.stop = nil
	close(stop)
	w.mu.Unlock()
	slog.Debug("dom watcher polling stopped", "reason", reason)
	return true
}

func (w *Watcher) pollLoop(stop chan struct{}) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for attempts := 0; ; {
		select {
		case <-stop:
			return
		case <-ticker.C:
			attempts++
			if w.sampleOnce() {
				w.stopPolling(stop, "accepted")
				return
			}
			if attempts >= w.maxAttempts {
				// Disarm only when this cycle really ended here; a racing
				// reset or re-arm owns the state by then.
				if w.stopPolling(stop, "timeout") {
					w.sink.Disarm()
				}
				return
			}
		}
	}
}

// sampleOnce takes one page sample and reports whether a record was accepted.
func (w *Watcher) sampleOnce() bool {
	ctx, cancel := context.WithTimeout(context.Background(), w.interval)
	defer cancel()

	text, err := w.sampler.PageText(ctx)
	if err != nil {
		slog.Debug("page sample failed", "error", err)
		return false
	}

	cand := w.extractor.FromPageText(text)
	if cand == nil {
		return false
	}

	fp := cand.Fingerprint()
	w.mu.Lock()
	stale := fp == w.lastFingerprint
	if !stale {
		w.lastFingerprint = fp
	}
	w.mu.Unlock()
	if stale {
		return false
	}

	return w.sink.Accept(ctx, cand) != nil
}
