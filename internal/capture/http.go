// Package capture adapts CDP Network events into the extraction pipeline.
// It correlates request lifecycles into complete response payloads, routes
// in-scope ones to the extractor, and archives the raw bytes.
package capture

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"

	"github.com/674019130/zhuqueAI-plugin/internal/extract"
	"github.com/674019130/zhuqueAI-plugin/internal/record"
	"github.com/674019130/zhuqueAI-plugin/internal/storage"
)

// Sink receives extracted candidates.
type Sink interface {
	Accept(ctx context.Context, cand *record.Candidate) *record.DetectionRecord
}

// pendingRequest tracks an in-flight request between RequestWillBeSent and
// LoadingFinished.
type pendingRequest struct {
	url          string
	resourceType network.ResourceType
	seen         time.Time
}

// NetworkCapture correlates CDP HTTP events. Only requests whose URL passes
// the extractor's scope filter are tracked; everything else is dropped at
// the first event.
type NetworkCapture struct {
	extractor *extract.Extractor
	sink      Sink
	archive   *storage.Archive

	pending   map[string]*pendingRequest
	pendingMu sync.RWMutex

	done chan struct{}
}

func NewNetworkCapture(extractor *extract.Extractor, sink Sink, archive *storage.Archive) *NetworkCapture {
	n := &NetworkCapture{
		extractor: extractor,
		sink:      sink,
		archive:   archive,
		pending:   make(map[string]*pendingRequest),
		done:      make(chan struct{}),
	}
	go n.cleanupLoop()
	return n
}

func (n *NetworkCapture) Close() {
	close(n.done)
}

func (n *NetworkCapture) OnRequestWillBeSent(ev *network.EventRequestWillBeSent) {
	if !n.extractor.Vocabulary().InScope(ev.Request.URL) {
		return
	}

	n.pendingMu.Lock()
	n.pending[string(ev.RequestID)] = &pendingRequest{
		url:  ev.Request.URL,
		seen: time.Now(),
	}
	n.pendingMu.Unlock()
}

func (n *NetworkCapture) OnResponseReceived(ev *network.EventResponseReceived) {
	n.pendingMu.Lock()
	if pending, ok := n.pending[string(ev.RequestID)]; ok {
		pending.resourceType = ev.Type
	}
	n.pendingMu.Unlock()
}

// OnLoadingFinished completes the request lifecycle. getBody is called off
// the event loop; CDP only serves Network.getResponseBody after the load
// finishes.
func (n *NetworkCapture) OnLoadingFinished(ev *network.EventLoadingFinished, getBody func() ([]byte, error)) {
	n.pendingMu.Lock()
	pending, ok := n.pending[string(ev.RequestID)]
	if ok {
		delete(n.pending, string(ev.RequestID))
	}
	n.pendingMu.Unlock()

	if !ok || getBody == nil {
		return
	}

	go func() {
		body, err := getBody()
		if err != nil {
			slog.Debug("Failed to get response body", "request_id", ev.RequestID, "error", err)
			return
		}
		if len(body) == 0 {
			return
		}
		n.offer(pending, body)
	}()
}

func (n *NetworkCapture) OnLoadingFailed(ev *network.EventLoadingFailed) {
	n.pendingMu.Lock()
	delete(n.pending, string(ev.RequestID))
	n.pendingMu.Unlock()
}

// PendingCount reports in-flight tracked requests.
func (n *NetworkCapture) PendingCount() int {
	n.pendingMu.RLock()
	defer n.pendingMu.RUnlock()
	return len(n.pending)
}

func (n *NetworkCapture) offer(pending *pendingRequest, body []byte) {
	channel := record.ChannelFetch
	if pending.resourceType == network.ResourceTypeXHR {
		channel = record.ChannelXHR
	}

	n.archive.Record(channel, pending.url, body)

	cand := n.extractor.ExtractRaw(body)
	if cand == nil {
		return
	}
	cand.Channel = channel

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	n.sink.Accept(ctx, cand)
}

func (n *NetworkCapture) cleanupLoop() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n.cleanupStale()
		case <-n.done:
			return
		}
	}
}

func (n *NetworkCapture) cleanupStale() {
	threshold := time.Now().Add(-5 * time.Minute)

	n.pendingMu.Lock()
	defer n.pendingMu.Unlock()

	for id, pending := range n.pending {
		if pending.seen.Before(threshold) {
			delete(n.pending, id)
		}
	}
}
