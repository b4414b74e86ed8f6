// Package notify pushes short plain-text notices about accepted detections
// to an ntfy-style endpoint.
package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/674019130/zhuqueAI-plugin/internal/record"
)

// Send sends a message to the requested endpoint using HTTP POST.
func Send(ctx context.Context, client *http.Client, endpoint, message string) error {
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy notification failed: status=%d", resp.StatusCode)
	}
	return nil
}

// CaptureMessage renders the one-line notice for an accepted detection.
func CaptureMessage(rec *record.DetectionRecord) string {
	var b strings.Builder
	b.WriteString("Detection recorded")
	if rec.VerdictText != "" {
		b.WriteString(": ")
		b.WriteString(rec.VerdictText)
	}
	for _, part := range []struct {
		label string
		score *float64
	}{
		{"human", rec.HumanScore},
		{"suspected", rec.SuspectScore},
		{"ai", rec.AIScore},
	} {
		if part.score != nil {
			fmt.Fprintf(&b, " %s=%.2f%%", part.label, *part.score)
		}
	}
	return b.String()
}

// Listener returns a callback that pushes a notice for each accepted
// detection. An empty endpoint disables notification; delivery failures are
// logged and never propagate to the capture path.
func Listener(client *http.Client, endpoint string) func(*record.DetectionRecord) {
	return func(rec *record.DetectionRecord) {
		if endpoint == "" {
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := Send(ctx, client, endpoint, CaptureMessage(rec)); err != nil {
				slog.Warn("capture notification failed", "record_id", rec.ID, "error", err)
			}
		}()
	}
}
