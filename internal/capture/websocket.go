package capture

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"

	"github.com/674019130/zhuqueAI-plugin/internal/extract"
	"github.com/674019130/zhuqueAI-plugin/internal/record"
	"github.com/674019130/zhuqueAI-plugin/internal/storage"
)

// SocketCapture follows CDP WebSocket events. Connections are tracked from
// creation so frame events, which carry no URL, can be scope-filtered and
// attributed.
type SocketCapture struct {
	extractor *extract.Extractor
	sink      Sink
	archive   *storage.Archive

	connections   map[string]string // requestID -> URL, in-scope only
	connectionsMu sync.RWMutex
}

func NewSocketCapture(extractor *extract.Extractor, sink Sink, archive *storage.Archive) *SocketCapture {
	return &SocketCapture{
		extractor:   extractor,
		sink:        sink,
		archive:     archive,
		connections: make(map[string]string),
	}
}

func (s *SocketCapture) OnWebSocketCreated(ev *network.EventWebSocketCreated) {
	if !s.extractor.Vocabulary().InScope(ev.URL) {
		return
	}

	s.connectionsMu.Lock()
	s.connections[string(ev.RequestID)] = ev.URL
	s.connectionsMu.Unlock()
}

// OnWebSocketFrameReceived offers an inbound frame from a tracked
// connection to the extractor. Outbound frames carry the submitted text,
// not scores, and are ignored.
func (s *SocketCapture) OnWebSocketFrameReceived(ev *network.EventWebSocketFrameReceived) {
	s.connectionsMu.RLock()
	url, ok := s.connections[string(ev.RequestID)]
	s.connectionsMu.RUnlock()
	if !ok {
		return
	}

	payload := []byte(ev.Response.PayloadData)
	if len(payload) == 0 {
		return
	}

	s.archive.Record(record.ChannelSocket, url, payload)

	cand := s.extractor.ExtractRaw(payload)
	if cand == nil {
		return
	}
	cand.Channel = record.ChannelSocket

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.sink.Accept(ctx, cand)
}

func (s *SocketCapture) OnWebSocketClosed(ev *network.EventWebSocketClosed) {
	s.connectionsMu.Lock()
	delete(s.connections, string(ev.RequestID))
	s.connectionsMu.Unlock()
}

// ActiveConnections reports tracked in-scope connections.
func (s *SocketCapture) ActiveConnections() int {
	s.connectionsMu.RLock()
	defer s.connectionsMu.RUnlock()
	return len(s.connections)
}
