package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/674019130/zhuqueAI-plugin/internal/extract"
	"github.com/674019130/zhuqueAI-plugin/internal/record"
	"github.com/674019130/zhuqueAI-plugin/internal/store"
	"github.com/674019130/zhuqueAI-plugin/internal/watch"
)

func fp(v float64) *float64 { return &v }

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakePage struct {
	input   string
	verdict string
}

func (p *fakePage) FocusedInputText(ctx context.Context) (string, error) { return p.input, nil }
func (p *fakePage) PageVerdict(ctx context.Context) (string, error)     { return p.verdict, nil }

type fakePoller struct {
	mu      sync.Mutex
	started int
	resets  int
}

func (p *fakePoller) Start() {
	p.mu.Lock()
	p.started++
	p.mu.Unlock()
}

func (p *fakePoller) Reset() {
	p.mu.Lock()
	p.resets++
	p.mu.Unlock()
}

func newTestCoordinator(t *testing.T, clock *fakeClock) (*Coordinator, *store.Store) {
	t.Helper()
	st, err := store.New(t.TempDir(), 5*time.Second)
	if err != nil {
		t.Fatalf("store.New() failed: %v", err)
	}
	return New(st, &fakePage{input: "被检测的文本"}, WithClock(clock.Now)), st
}

func candidate(ch string, human, suspect, ai float64) *record.Candidate {
	return &record.Candidate{
		HumanScore:   fp(human),
		SuspectScore: fp(suspect),
		AIScore:      fp(ai),
		Channel:      ch,
	}
}

func TestAcceptRejectsSparseCandidates(t *testing.T) {
	c, st := newTestCoordinator(t, newFakeClock())
	ctx := context.Background()

	tests := []struct {
		name string
		cand *record.Candidate
	}{
		{"nil_candidate", nil},
		{"no_scores", &record.Candidate{VerdictText: "疑似AI"}},
		{"one_score", &record.Candidate{AIScore: fp(90)}},
		{"out_of_range", &record.Candidate{HumanScore: fp(130), AIScore: fp(10)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := c.Accept(ctx, tt.cand); rec != nil {
				t.Fatalf("Accept() = %+v; want rejection", rec)
			}
		})
	}
	if st.Count() != 0 {
		t.Fatalf("store has %d records; want 0", st.Count())
	}
}

func TestCrossChannelDedup(t *testing.T) {
	clock := newFakeClock()
	c, st := newTestCoordinator(t, clock)
	ctx := context.Background()
	c.Arm()

	if rec := c.Accept(ctx, candidate(record.ChannelFetch, 72, 10, 18)); rec == nil {
		t.Fatal("first acceptance rejected")
	}

	t.Run("same_triple_from_second_channel_rejected", func(t *testing.T) {
		clock.Advance(time.Second)
		if rec := c.Accept(ctx, candidate(record.ChannelDOM, 72, 10, 18)); rec != nil {
			t.Fatalf("Accept() = %+v; want fingerprint rejection", rec)
		}
		if st.Count() != 1 {
			t.Fatalf("store has %d records; want 1", st.Count())
		}
	})

	t.Run("acceptance_disarms", func(t *testing.T) {
		if c.Armed() {
			t.Fatal("still armed after acceptance")
		}
	})

	t.Run("distinct_triple_accepted", func(t *testing.T) {
		clock.Advance(time.Second)
		if rec := c.Accept(ctx, candidate(record.ChannelSocket, 50, 25, 25)); rec == nil {
			t.Fatal("distinct candidate rejected")
		}
	})
}

func TestReplayIdempotence(t *testing.T) {
	clock := newFakeClock()
	c, st := newTestCoordinator(t, clock)
	ctx := context.Background()

	c.Arm()
	if rec := c.Accept(ctx, candidate(record.ChannelXHR, 83.5, 6.3, 10.2)); rec == nil {
		t.Fatal("first acceptance rejected")
	}

	// Replay within the window after a fresh arm. The arm clears the
	// fingerprint, so only the store's time-window check stands.
	c.Arm()
	clock.Advance(2 * time.Second)
	if rec := c.Accept(ctx, candidate(record.ChannelXHR, 83.5, 6.3, 10.2)); rec != nil {
		t.Fatalf("replay inside dedup window accepted: %+v", rec)
	}
	if st.Count() != 1 {
		t.Fatalf("store has %d records; want 1", st.Count())
	}

	// Replay past the window after another arm yields a second record.
	c.Arm()
	clock.Advance(10 * time.Second)
	if rec := c.Accept(ctx, candidate(record.ChannelXHR, 83.5, 6.3, 10.2)); rec == nil {
		t.Fatal("replay outside dedup window rejected")
	}
	if st.Count() != 2 {
		t.Fatalf("store has %d records; want 2", st.Count())
	}
}

func TestArmStartsPollerAndClearsSuppression(t *testing.T) {
	clock := newFakeClock()
	c, _ := newTestCoordinator(t, clock)
	poller := &fakePoller{}
	c.SetPoller(poller)

	c.Arm()
	if !c.Armed() {
		t.Fatal("not armed after Arm()")
	}
	if poller.started != 1 {
		t.Fatalf("poller started %d times; want 1", poller.started)
	}

	if rec := c.Accept(context.Background(), candidate(record.ChannelFetch, 60, 20, 20)); rec == nil {
		t.Fatal("acceptance rejected")
	}
	if got := c.LastFingerprint(); got == "" {
		t.Fatal("fingerprint not committed")
	}

	c.Arm()
	if got := c.LastFingerprint(); got != "" {
		t.Fatalf("arm did not clear fingerprint suppression: %q", got)
	}

	c.Reset()
	if c.Armed() {
		t.Fatal("still armed after Reset()")
	}
	if poller.resets != 1 {
		t.Fatalf("poller reset %d times; want 1", poller.resets)
	}
}

type stalledSampler struct{}

func (stalledSampler) PageText(ctx context.Context) (string, error) { return "检测中...", nil }

func TestPollTimeoutDisarms(t *testing.T) {
	clock := newFakeClock()
	c, st := newTestCoordinator(t, clock)

	w := watch.New(extract.New(nil), stalledSampler{}, c,
		watch.WithInterval(2*time.Millisecond),
		watch.WithMaxAttempts(3),
	)
	c.SetPoller(w)

	c.Arm()

	deadline := time.Now().Add(2 * time.Second)
	for c.Armed() {
		if time.Now().After(deadline) {
			t.Fatal("still armed after the polling attempt budget ran out")
		}
		time.Sleep(time.Millisecond)
	}

	if st.Count() != 0 {
		t.Fatalf("store has %d records; want 0", st.Count())
	}
	if w.State() != watch.StateIdle {
		t.Fatalf("watcher state = %s; want idle", w.State())
	}
}

func TestInputTextResolution(t *testing.T) {
	clock := newFakeClock()
	st, err := store.New(t.TempDir(), time.Second)
	if err != nil {
		t.Fatalf("store.New() failed: %v", err)
	}
	page := &fakePage{input: "textarea contents"}
	c := New(st, page, WithClock(clock.Now))
	ctx := context.Background()

	t.Run("payload_text_wins", func(t *testing.T) {
		cand := candidate(record.ChannelFetch, 70, 10, 20)
		cand.SourceText = "reconstructed from payload"
		rec := c.Accept(ctx, cand)
		if rec == nil {
			t.Fatal("acceptance rejected")
		}
		if rec.InputText != "reconstructed from payload" {
			t.Fatalf("InputText = %q", rec.InputText)
		}
	})

	t.Run("falls_back_to_focused_input", func(t *testing.T) {
		clock.Advance(time.Minute)
		rec := c.Accept(ctx, candidate(record.ChannelFetch, 65, 15, 20))
		if rec == nil {
			t.Fatal("acceptance rejected")
		}
		if rec.InputText != "textarea contents" {
			t.Fatalf("InputText = %q", rec.InputText)
		}
	})
}

func TestVerdictBackfill(t *testing.T) {
	clock := newFakeClock()
	st, err := store.New(t.TempDir(), time.Second)
	if err != nil {
		t.Fatalf("store.New() failed: %v", err)
	}
	page := &fakePage{verdict: "未发现AI生成内容"}
	c := New(st, page, WithClock(clock.Now), WithBackfillDelay(10*time.Millisecond))

	rec := c.Accept(context.Background(), candidate(record.ChannelFetch, 95, 2, 3))
	if rec == nil {
		t.Fatal("acceptance rejected")
	}
	if rec.VerdictText != "" {
		t.Fatalf("VerdictText = %q before backfill", rec.VerdictText)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := st.Get(rec.ID)
		if err != nil {
			t.Fatalf("Get() failed: %v", err)
		}
		if got.VerdictText == "未发现AI生成内容" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("verdict never backfilled, still %q", got.VerdictText)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestListenersNotifiedOnAcceptOnly(t *testing.T) {
	clock := newFakeClock()
	c, _ := newTestCoordinator(t, clock)

	var mu sync.Mutex
	var notified []string
	c.AddListener(func(rec *record.DetectionRecord) {
		mu.Lock()
		notified = append(notified, rec.ID)
		mu.Unlock()
	})

	if rec := c.Accept(context.Background(), candidate(record.ChannelFetch, 40, 30, 30)); rec == nil {
		t.Fatal("acceptance rejected")
	}
	c.Accept(context.Background(), candidate(record.ChannelDOM, 40, 30, 30))

	mu.Lock()
	defer mu.Unlock()
	if len(notified) != 1 {
		t.Fatalf("listeners notified %d times; want 1", len(notified))
	}
}
