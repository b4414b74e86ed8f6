// Package interceptor is the transport interception layer for embedding
// applications that talk to the detection service directly: wrappers around
// an owned reference to the real transport that preserve its full observable
// contract while teeing inbound payloads into the extraction pipeline. No
// global primitive is ever mutated; the embedding application installs the
// layer explicitly.
package interceptor

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/674019130/zhuqueAI-plugin/internal/extract"
	"github.com/674019130/zhuqueAI-plugin/internal/record"
)

// defaultMaxBody bounds how much of a response body is buffered for
// extraction. The remainder still streams to the caller untouched.
const defaultMaxBody = 4 * 1024 * 1024

// Sink receives extracted candidates.
type Sink interface {
	Accept(ctx context.Context, cand *record.Candidate) *record.DetectionRecord
}

// Transport decorates an http.RoundTripper. Responses whose request URL
// passes the scope filter have their body offered to the extractor; all
// other traffic passes through unread.
type Transport struct {
	base      http.RoundTripper
	extractor *extract.Extractor
	sink      Sink
	channel   string
	maxBody   int
}

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithChannel overrides the channel tag candidates are attributed to.
// Defaults to the fetch channel; embedders wrapping a legacy client can tag
// the XHR channel instead.
func WithChannel(name string) TransportOption {
	return func(t *Transport) { t.channel = name }
}

// WithMaxBody overrides the extraction buffer limit.
func WithMaxBody(n int) TransportOption {
	return func(t *Transport) { t.maxBody = n }
}

// NewTransport wraps base. A nil base uses http.DefaultTransport.
func NewTransport(base http.RoundTripper, extractor *extract.Extractor, sink Sink, opts ...TransportOption) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	t := &Transport{
		base:      base,
		extractor: extractor,
		sink:      sink,
		channel:   record.ChannelFetch,
		maxBody:   defaultMaxBody,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RoundTrip performs the request on the wrapped transport. The caller
// observes the identical response; extraction happens on a buffered copy.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil || resp == nil || resp.Body == nil {
		return resp, err
	}
	if !t.extractor.Vocabulary().InScope(req.URL.String()) {
		return resp, nil
	}

	buffered, readErr := io.ReadAll(io.LimitReader(resp.Body, int64(t.maxBody)))
	if readErr != nil {
		// Hand back what was read; the wrapper must not surface its own
		// failure as a transport error.
		resp.Body = replayBody{Reader: bytes.NewReader(buffered), closer: resp.Body}
		slog.Debug("interceptor body buffering failed", "url", req.URL.String(), "error", readErr)
		return resp, nil
	}
	resp.Body = replayBody{
		Reader: io.MultiReader(bytes.NewReader(buffered), resp.Body),
		closer: resp.Body,
	}

	go t.offer(buffered, req.URL.String())
	return resp, nil
}

// offer runs extraction off the caller's path. Panics and failures stay
// inside the interceptor boundary.
func (t *Transport) offer(body []byte, url string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("interceptor extraction panic swallowed", "url", url, "panic", r)
		}
	}()

	cand := t.extractor.ExtractRaw(body)
	if cand == nil {
		return
	}
	cand.Channel = t.channel

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	t.sink.Accept(ctx, cand)
}

// replayBody streams the buffered prefix followed by the remainder of the
// original body, and closes the original.
type replayBody struct {
	io.Reader
	closer io.Closer
}

func (b replayBody) Close() error { return b.closer.Close() }
