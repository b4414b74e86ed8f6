package panel

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/674019130/zhuqueAI-plugin/internal/record"
)

func TestBroker(t *testing.T) {
	t.Run("publish_reaches_all_subscribers", func(t *testing.T) {
		b := NewBroker()
		_, ch1 := b.Subscribe()
		_, ch2 := b.Subscribe()

		b.Publish(Event{Type: EventCaptureArmed, Payload: "{}"})

		for _, ch := range []<-chan Event{ch1, ch2} {
			select {
			case evt := <-ch:
				if evt.Type != EventCaptureArmed {
					t.Fatalf("Type = %q", evt.Type)
				}
			case <-time.After(time.Second):
				t.Fatal("subscriber did not receive event")
			}
		}
	})

	t.Run("unsubscribe_closes_channel", func(t *testing.T) {
		b := NewBroker()
		id, ch := b.Subscribe()
		b.Unsubscribe(id)

		if _, ok := <-ch; ok {
			t.Fatal("channel still open after Unsubscribe")
		}
		if b.ClientCount() != 0 {
			t.Fatalf("ClientCount = %d; want 0", b.ClientCount())
		}
	})

	t.Run("slow_subscriber_drops_not_blocks", func(t *testing.T) {
		b := NewBroker()
		b.Subscribe()

		done := make(chan struct{})
		go func() {
			for i := 0; i < subscriberBufSize*2; i++ {
				b.Publish(Event{Type: EventRecordAdded, Payload: "{}"})
			}
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("Publish blocked on a full subscriber")
		}
	})

	t.Run("publish_record_payload_is_id_reference_only", func(t *testing.T) {
		b := NewBroker()
		_, ch := b.Subscribe()

		human := 83.5
		b.PublishRecord(EventRecordAdded, &record.DetectionRecord{
			ID:          "abcd-ef01-2345",
			HumanScore:  &human,
			VerdictText: "未发现AI生成内容",
		})

		evt := <-ch
		if evt.Payload != `{"id":"abcd-ef01-2345"}` {
			t.Fatalf("payload = %q; want an id reference, content comes from the store", evt.Payload)
		}
	})
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker()
	srv := httptest.NewServer(SSEHandler(b))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"?types=record_added", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	// Wait for the subscription to land before publishing.
	deadline := time.Now().Add(time.Second)
	for b.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	b.Publish(Event{Type: EventCaptureReset, Payload: "{}"})
	b.Publish(Event{Type: EventRecordAdded, Payload: `{"id":"abcd-ef01-2345"}`})

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !strings.HasPrefix(line, "event: record_added") {
		t.Fatalf("first event = %q; filtered type leaked through", line)
	}
	data, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !strings.Contains(data, `"id":"abcd-ef01-2345"`) {
		t.Fatalf("data line = %q", data)
	}
}
