package interceptor

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/674019130/zhuqueAI-plugin/internal/extract"
	"github.com/674019130/zhuqueAI-plugin/internal/record"
)

// SocketTap wraps the client side of an established WebSocket connection.
// Reads and writes keep gobwas frame semantics for the caller; inbound data
// messages on an in-scope endpoint are additionally offered to the
// extractor.
type SocketTap struct {
	conn      io.ReadWriter
	url       string
	inScope   bool
	extractor *extract.Extractor
	sink      Sink
}

// NewSocketTap creates a tap over an upgraded connection. url is the dialed
// endpoint, used for the scope decision once at construction.
func NewSocketTap(conn io.ReadWriter, url string, extractor *extract.Extractor, sink Sink) *SocketTap {
	return &SocketTap{
		conn:      conn,
		url:       url,
		inScope:   extractor.Vocabulary().InScope(url),
		extractor: extractor,
		sink:      sink,
	}
}

// ReadMessage reads the next data message from the server. The payload is
// returned to the caller exactly as received.
func (t *SocketTap) ReadMessage() ([]byte, ws.OpCode, error) {
	data, op, err := wsutil.ReadServerData(t.conn)
	if err != nil {
		return data, op, err
	}
	if t.inScope && (op == ws.OpText || op == ws.OpBinary) {
		t.offer(data)
	}
	return data, op, nil
}

// WriteMessage sends a client data message through unchanged.
func (t *SocketTap) WriteMessage(op ws.OpCode, data []byte) error {
	return wsutil.WriteClientMessage(t.conn, op, data)
}

func (t *SocketTap) offer(payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("socket tap extraction panic swallowed", "url", t.url, "panic", r)
		}
	}()

	cand := t.extractor.ExtractRaw(payload)
	if cand == nil {
		return
	}
	cand.Channel = record.ChannelSocket

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	t.sink.Accept(ctx, cand)
}
