// Package coordinator funnels every capture channel through a single
// acceptance point: candidates are validated, deduplicated across channels,
// assembled into detection records and handed to the record store.
package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/674019130/zhuqueAI-plugin/internal/record"
)

// Store is the persistence collaborator. Add reports false when the store
// detected a persistence-time duplicate.
type Store interface {
	Add(rec *record.DetectionRecord) (bool, error)
	BackfillVerdict(id, verdict string) error
}

// Poller is the DOM capture watcher as seen from the coordinator: arming a
// cycle starts it, a user-initiated reset forces it idle.
type Poller interface {
	Start()
	Reset()
}

// PageReader reads live page state used during record assembly: the content
// of the focused input control and the rendered verdict phrase.
type PageReader interface {
	FocusedInputText(ctx context.Context) (string, error)
	PageVerdict(ctx context.Context) (string, error)
}

// AcceptListener is notified after a record was accepted and persisted.
type AcceptListener func(rec *record.DetectionRecord)

// Coordinator owns the capture state. All state mutation happens
// synchronously under one lock; channels never write scores into it.
type Coordinator struct {
	store         Store
	backfillDelay time.Duration
	now           func() time.Time

	mu              sync.Mutex
	pageReader      PageReader
	armed           bool
	lastFingerprint string
	poller          Poller
	listeners       []AcceptListener

	accepted uint64
	rejected uint64
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithBackfillDelay overrides the delay before the secondary DOM read that
// backfills a verdict for fast-path captures.
func WithBackfillDelay(d time.Duration) Option {
	return func(c *Coordinator) { c.backfillDelay = d }
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New creates a Coordinator. pageReader may be nil when no live page is
// attached; assembly then works from the candidate alone.
func New(store Store, pageReader PageReader, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:         store,
		pageReader:    pageReader,
		backfillDelay: 1500 * time.Millisecond,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetPoller wires the DOM capture watcher in after construction; the watcher
// needs the coordinator as its sink, so the two are linked post-hoc.
func (c *Coordinator) SetPoller(p Poller) {
	c.mu.Lock()
	c.poller = p
	c.mu.Unlock()
}

// SetPageReader wires the live page reader in after construction; the CDP
// client needs the capture adapters, which need the coordinator as their
// sink.
func (c *Coordinator) SetPageReader(p PageReader) {
	c.mu.Lock()
	c.pageReader = p
	c.mu.Unlock()
}

func (c *Coordinator) reader() PageReader {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pageReader
}

// AddListener registers a post-acceptance listener (panel refresh, webhook).
func (c *Coordinator) AddListener(l AcceptListener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
}

// Arm marks a capture cycle as expected: a submission was just observed.
// Short-term fingerprint suppression is cleared so a rerun of the same text
// can be recorded again, and the DOM polling loop is started if idle.
func (c *Coordinator) Arm() {
	c.mu.Lock()
	c.armed = true
	c.lastFingerprint = ""
	poller := c.poller
	c.mu.Unlock()

	slog.Debug("capture armed")
	if poller != nil {
		poller.Start()
	}
}

// Disarm ends the current capture cycle without an acceptance. The DOM
// watcher calls it when the polling attempt budget is exhausted; fingerprint
// memory is kept so a stale result rendered later is still suppressed.
func (c *Coordinator) Disarm() {
	c.mu.Lock()
	wasArmed := c.armed
	c.armed = false
	c.mu.Unlock()

	if wasArmed {
		slog.Debug("capture disarmed without acceptance")
	}
}

// Armed reports whether a capture cycle is in flight.
func (c *Coordinator) Armed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.armed
}

// LastFingerprint returns the fingerprint of the most recently accepted
// result. Channels use it to pre-filter obviously stale samples.
func (c *Coordinator) LastFingerprint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastFingerprint
}

// Reset forces the watcher idle and clears fingerprint memory. Invoked on
// user-initiated bulk clear.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	c.armed = false
	c.lastFingerprint = ""
	poller := c.poller
	c.mu.Unlock()

	if poller != nil {
		poller.Reset()
	}
	slog.Debug("capture state reset")
}

// Stats returns acceptance counters for the status endpoint.
func (c *Coordinator) Stats() (accepted, rejected uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accepted, c.rejected
}

// Accept validates and deduplicates a candidate. On acceptance the assembled
// record has been persisted and listeners were notified; the returned record
// is non-nil. A nil record means the candidate was rejected; rejection is a
// normal outcome, not an error.
func (c *Coordinator) Accept(ctx context.Context, cand *record.Candidate) *record.DetectionRecord {
	if cand == nil || !cand.Valid() {
		c.countRejected()
		return nil
	}

	fp := cand.Fingerprint()

	c.mu.Lock()
	if fp != "" && fp == c.lastFingerprint {
		c.mu.Unlock()
		c.countRejected()
		slog.Debug("candidate rejected: duplicate fingerprint", "channel", cand.Channel, "fingerprint", fp)
		return nil
	}
	c.mu.Unlock()

	rec := c.assemble(ctx, cand)

	added, err := c.store.Add(rec)
	if err != nil {
		c.countRejected()
		slog.Error("record store add failed", "error", err)
		return nil
	}
	if !added {
		c.countRejected()
		slog.Debug("candidate rejected: store-level duplicate", "channel", cand.Channel, "fingerprint", fp)
		return nil
	}

	// Commit the fingerprint only after the store accepted the record, so a
	// losing racer on the same event still gets suppressed by the store's
	// time-window check rather than slipping past a half-updated state.
	c.mu.Lock()
	c.armed = false
	c.lastFingerprint = fp
	c.accepted++
	listeners := make([]AcceptListener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	slog.Info("detection recorded",
		"id", rec.ID,
		"channel", cand.Channel,
		"human", scoreLog(rec.HumanScore),
		"suspect", scoreLog(rec.SuspectScore),
		"ai", scoreLog(rec.AIScore),
		"verdict", rec.VerdictText,
	)

	if rec.VerdictText == "" && cand.Channel != record.ChannelDOM {
		c.scheduleVerdictBackfill(rec.ID)
	}

	for _, l := range listeners {
		l(rec)
	}
	return rec
}

// assemble builds the persisted record. Input text priority: text
// reconstructed from the payload wins over the focused input control.
func (c *Coordinator) assemble(ctx context.Context, cand *record.Candidate) *record.DetectionRecord {
	inputText := cand.SourceText
	if pr := c.reader(); inputText == "" && pr != nil {
		if t, err := pr.FocusedInputText(ctx); err == nil {
			inputText = t
		} else {
			slog.Debug("focused input read failed", "error", err)
		}
	}

	return &record.DetectionRecord{
		ID:           record.NewID(),
		CapturedAt:   c.now().UTC(),
		InputText:    inputText,
		InputPreview: record.Preview(inputText),
		VerdictText:  cand.VerdictText,
		HumanScore:   cand.HumanScore,
		SuspectScore: cand.SuspectScore,
		AIScore:      cand.AIScore,
		Channel:      cand.Channel,
	}
}

// scheduleVerdictBackfill performs the delayed secondary DOM read: fast-path
// payloads carry no human-readable verdict, the rendered page does, slightly
// later.
func (c *Coordinator) scheduleVerdictBackfill(id string) {
	pr := c.reader()
	if pr == nil {
		return
	}
	time.AfterFunc(c.backfillDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		verdict, err := pr.PageVerdict(ctx)
		if err != nil || verdict == "" {
			slog.Debug("verdict backfill yielded nothing", "id", id, "error", err)
			return
		}
		if err := c.store.BackfillVerdict(id, verdict); err != nil {
			slog.Debug("verdict backfill write failed", "id", id, "error", err)
		}
	})
}

func (c *Coordinator) countRejected() {
	c.mu.Lock()
	c.rejected++
	c.mu.Unlock()
}

func scoreLog(s *float64) any {
	if s == nil {
		return nil
	}
	return *s
}
