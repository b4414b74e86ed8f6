package capture

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"

	"github.com/674019130/zhuqueAI-plugin/internal/extract"
	"github.com/674019130/zhuqueAI-plugin/internal/record"
)

type chanSink struct {
	ch chan *record.Candidate
}

func newChanSink() *chanSink {
	return &chanSink{ch: make(chan *record.Candidate, 8)}
}

func (s *chanSink) Accept(ctx context.Context, cand *record.Candidate) *record.DetectionRecord {
	s.ch <- cand
	return &record.DetectionRecord{ID: record.NewID()}
}

func (s *chanSink) wait(t *testing.T) *record.Candidate {
	t.Helper()
	select {
	case cand := <-s.ch:
		return cand
	case <-time.After(2 * time.Second):
		t.Fatal("no candidate reached the sink")
		return nil
	}
}

func (s *chanSink) expectNone(t *testing.T) {
	t.Helper()
	select {
	case cand := <-s.ch:
		t.Fatalf("unexpected candidate: %+v", cand)
	case <-time.After(50 * time.Millisecond):
	}
}

func request(id, url string) *network.EventRequestWillBeSent {
	return &network.EventRequestWillBeSent{
		RequestID: network.RequestID(id),
		Request:   &network.Request{URL: url, Method: "POST"},
	}
}

func response(id string, resourceType network.ResourceType) *network.EventResponseReceived {
	return &network.EventResponseReceived{
		RequestID: network.RequestID(id),
		Type:      resourceType,
		Response:  &network.Response{Status: 200},
	}
}

func finished(id string) *network.EventLoadingFinished {
	return &network.EventLoadingFinished{RequestID: network.RequestID(id)}
}

const resultBody = `{"status":"success","labels_ratio":{"0":0.835,"1":0.063,"2":0.102}}`

func TestNetworkCapture(t *testing.T) {
	t.Run("in_scope_response_reaches_sink", func(t *testing.T) {
		sink := newChanSink()
		nc := NewNetworkCapture(extract.New(nil), sink, nil)
		defer nc.Close()

		nc.OnRequestWillBeSent(request("1", "https://matrix.example.com/api/ai-detect/query"))
		nc.OnResponseReceived(response("1", network.ResourceTypeFetch))
		nc.OnLoadingFinished(finished("1"), func() ([]byte, error) {
			return []byte(resultBody), nil
		})

		cand := sink.wait(t)
		if cand.Channel != record.ChannelFetch {
			t.Fatalf("Channel = %q; want fetch", cand.Channel)
		}
		if cand.HumanScore == nil || *cand.HumanScore != 83.5 {
			t.Fatalf("HumanScore = %v; want 83.5", cand.HumanScore)
		}
		if nc.PendingCount() != 0 {
			t.Fatalf("PendingCount = %d; want 0", nc.PendingCount())
		}
	})

	t.Run("xhr_resource_type_tags_xhr_channel", func(t *testing.T) {
		sink := newChanSink()
		nc := NewNetworkCapture(extract.New(nil), sink, nil)
		defer nc.Close()

		nc.OnRequestWillBeSent(request("2", "https://matrix.example.com/check"))
		nc.OnResponseReceived(response("2", network.ResourceTypeXHR))
		nc.OnLoadingFinished(finished("2"), func() ([]byte, error) {
			return []byte(resultBody), nil
		})

		if cand := sink.wait(t); cand.Channel != record.ChannelXHR {
			t.Fatalf("Channel = %q; want xhr", cand.Channel)
		}
	})

	t.Run("out_of_scope_request_never_tracked", func(t *testing.T) {
		sink := newChanSink()
		nc := NewNetworkCapture(extract.New(nil), sink, nil)
		defer nc.Close()

		nc.OnRequestWillBeSent(request("3", "https://matrix.example.com/assets/app.js"))
		if nc.PendingCount() != 0 {
			t.Fatalf("PendingCount = %d; want 0", nc.PendingCount())
		}
		nc.OnLoadingFinished(finished("3"), func() ([]byte, error) {
			return []byte(resultBody), nil
		})
		sink.expectNone(t)
	})

	t.Run("failed_request_dropped", func(t *testing.T) {
		sink := newChanSink()
		nc := NewNetworkCapture(extract.New(nil), sink, nil)
		defer nc.Close()

		nc.OnRequestWillBeSent(request("4", "https://matrix.example.com/detect"))
		nc.OnLoadingFailed(&network.EventLoadingFailed{RequestID: network.RequestID("4")})
		if nc.PendingCount() != 0 {
			t.Fatalf("PendingCount = %d; want 0", nc.PendingCount())
		}
	})

	t.Run("body_without_scores_ignored", func(t *testing.T) {
		sink := newChanSink()
		nc := NewNetworkCapture(extract.New(nil), sink, nil)
		defer nc.Close()

		nc.OnRequestWillBeSent(request("5", "https://matrix.example.com/detect"))
		nc.OnResponseReceived(response("5", network.ResourceTypeFetch))
		nc.OnLoadingFinished(finished("5"), func() ([]byte, error) {
			return []byte(`{"status":"queued"}`), nil
		})
		sink.expectNone(t)
	})
}

func TestSocketCapture(t *testing.T) {
	frame := func(id, payload string) *network.EventWebSocketFrameReceived {
		return &network.EventWebSocketFrameReceived{
			RequestID: network.RequestID(id),
			Response:  &network.WebSocketFrame{Opcode: 1, PayloadData: payload},
		}
	}

	t.Run("tracked_connection_frame_extracted", func(t *testing.T) {
		sink := newChanSink()
		sc := NewSocketCapture(extract.New(nil), sink, nil)

		sc.OnWebSocketCreated(&network.EventWebSocketCreated{
			RequestID: network.RequestID("ws1"),
			URL:       "wss://matrix.example.com/ai-detect/stream",
		})
		if sc.ActiveConnections() != 1 {
			t.Fatalf("ActiveConnections = %d; want 1", sc.ActiveConnections())
		}

		sc.OnWebSocketFrameReceived(frame("ws1", `{"data":{"human_percent":72,"ai_percent":18,"suspected_ai_percent":10}}`))
		cand := sink.wait(t)
		if cand.Channel != record.ChannelSocket {
			t.Fatalf("Channel = %q; want socket", cand.Channel)
		}
		if cand.AIScore == nil || *cand.AIScore != 18 {
			t.Fatalf("AIScore = %v; want 18", cand.AIScore)
		}
	})

	t.Run("untracked_connection_ignored", func(t *testing.T) {
		sink := newChanSink()
		sc := NewSocketCapture(extract.New(nil), sink, nil)

		sc.OnWebSocketCreated(&network.EventWebSocketCreated{
			RequestID: network.RequestID("ws2"),
			URL:       "wss://cdn.example.com/metrics",
		})
		if sc.ActiveConnections() != 0 {
			t.Fatalf("ActiveConnections = %d; want 0", sc.ActiveConnections())
		}
		sc.OnWebSocketFrameReceived(frame("ws2", `{"human_score":60,"ai_score":40}`))
		sink.expectNone(t)
	})

	t.Run("closed_connection_forgotten", func(t *testing.T) {
		sink := newChanSink()
		sc := NewSocketCapture(extract.New(nil), sink, nil)

		sc.OnWebSocketCreated(&network.EventWebSocketCreated{
			RequestID: network.RequestID("ws3"),
			URL:       "wss://matrix.example.com/ai-detect/stream",
		})
		sc.OnWebSocketClosed(&network.EventWebSocketClosed{RequestID: network.RequestID("ws3")})
		sc.OnWebSocketFrameReceived(frame("ws3", `{"human_score":60,"ai_score":40}`))
		sink.expectNone(t)
	})
}
