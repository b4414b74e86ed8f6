// Package storage persists the raw in-scope traffic the recorder observed.
// The archive keeps the payloads the extractor worked from, one JSONL
// stream per channel, so a binding change in the detection service can be
// diagnosed after the fact.
package storage

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"
)

// Entry is one archived payload.
type Entry struct {
	Timestamp     time.Time `json:"timestamp"`
	Channel       string    `json:"channel"`
	URL           string    `json:"url,omitempty"`
	Payload       string    `json:"payload,omitempty"`
	PayloadBase64 string    `json:"payload_base64,omitempty"`
	Truncated     bool      `json:"truncated,omitempty"`
	OriginalSize  int       `json:"original_size,omitempty"`
	SHA256        string    `json:"sha256,omitempty"`
}

// Archive fans archived payloads out to one JSONLWriter per channel.
type Archive struct {
	baseDir    string
	maxSizeMB  int
	bufferSize int
	maxPayload int
	enabled    bool

	writers map[string]*JSONLWriter
	mu      sync.RWMutex
}

// NewArchive creates an archive rooted at baseDir. When enabled is false
// every Record call is a no-op; the nil-safe toggle keeps call sites free
// of conditionals.
func NewArchive(baseDir string, bufferSize, maxSizeMB, maxPayload int, enabled bool) *Archive {
	return &Archive{
		baseDir:    baseDir,
		maxSizeMB:  maxSizeMB,
		bufferSize: bufferSize,
		maxPayload: maxPayload,
		enabled:    enabled,
		writers:    make(map[string]*JSONLWriter),
	}
}

// Record archives a raw payload under its channel stream. Oversized
// payloads are truncated; the hash and original size of the full payload
// are kept so a truncated entry can still be matched against a re-capture.
func (a *Archive) Record(channel, url string, payload []byte) {
	if a == nil || !a.enabled {
		return
	}

	body, truncated, originalSize, hash := truncatePayload(payload, a.maxPayload)
	entry := &Entry{
		Timestamp:    time.Now().UTC(),
		Channel:      channel,
		URL:          url,
		Truncated:    truncated,
		OriginalSize: originalSize,
		SHA256:       hash,
	}
	if utf8.Valid(body) {
		entry.Payload = string(body)
	} else {
		entry.PayloadBase64 = base64.StdEncoding.EncodeToString(body)
	}

	if err := a.writer(channel).Write(entry); err != nil {
		slog.Debug("archive write skipped", "channel", channel, "error", err)
	}
}

func (a *Archive) writer(channel string) *JSONLWriter {
	a.mu.RLock()
	w, ok := a.writers[channel]
	a.mu.RUnlock()
	if ok {
		return w
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if w, ok := a.writers[channel]; ok {
		return w
	}
	w = NewJSONLWriter(a.baseDir, channel, a.bufferSize, a.maxSizeMB)
	a.writers[channel] = w
	slog.Info("Created archive stream", "channel", channel)
	return w
}

// Close closes all channel streams.
func (a *Archive) Close() error {
	if a == nil {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var lastErr error
	for channel, w := range a.writers {
		if err := w.Close(); err != nil {
			slog.Error("Failed to close archive stream", "channel", channel, "error", err)
			lastErr = err
		}
	}
	a.writers = make(map[string]*JSONLWriter)
	return lastErr
}

func truncatePayload(in []byte, maxBytes int) ([]byte, bool, int, string) {
	if maxBytes <= 0 || len(in) <= maxBytes {
		return in, false, len(in), ""
	}
	sum := sha256.Sum256(in)
	return in[:maxBytes], true, len(in), hex.EncodeToString(sum[:])
}
