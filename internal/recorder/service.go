// Package recorder implements the API service over the store, the
// coordinator, and the capture adapters.
package recorder

import (
	"context"
	"strings"
	"time"

	"github.com/674019130/zhuqueAI-plugin/internal/coordinator"
	"github.com/674019130/zhuqueAI-plugin/internal/panel"
	"github.com/674019130/zhuqueAI-plugin/internal/record"
	"github.com/674019130/zhuqueAI-plugin/internal/store"
)

// StatusInfo is the recorder's observable state.
type StatusInfo struct {
	Armed           bool   `json:"armed"`
	AcceptedTotal   uint64 `json:"accepted_total"`
	RejectedTotal   uint64 `json:"rejected_total"`
	RecordCount     int    `json:"record_count"`
	PendingRequests int    `json:"pending_requests"`
	ActiveSockets   int    `json:"active_sockets"`
	PanelClients    int    `json:"panel_clients"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
}

// PendingCounter reports in-flight tracked HTTP requests.
type PendingCounter interface {
	PendingCount() int
}

// SocketCounter reports tracked WebSocket connections.
type SocketCounter interface {
	ActiveConnections() int
}

// Service backs the HTTP API.
type Service struct {
	store   *store.Store
	coord   *coordinator.Coordinator
	pending PendingCounter
	sockets SocketCounter
	broker  *panel.Broker
	started time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithCounters wires the capture adapters whose gauges show up in status.
// Either may be nil.
func WithCounters(pending PendingCounter, sockets SocketCounter) Option {
	return func(s *Service) {
		s.pending = pending
		s.sockets = sockets
	}
}

// WithBroker wires the panel broker for state-change events.
func WithBroker(b *panel.Broker) Option {
	return func(s *Service) { s.broker = b }
}

func New(st *store.Store, coord *coordinator.Coordinator, opts ...Option) *Service {
	s := &Service{
		store:   st,
		coord:   coord,
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Status(ctx context.Context) (StatusInfo, error) {
	accepted, rejected := s.coord.Stats()
	info := StatusInfo{
		Armed:         s.coord.Armed(),
		AcceptedTotal: accepted,
		RejectedTotal: rejected,
		RecordCount:   s.store.Count(),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}
	if s.pending != nil {
		info.PendingRequests = s.pending.PendingCount()
	}
	if s.sockets != nil {
		info.ActiveSockets = s.sockets.ActiveConnections()
	}
	if s.broker != nil {
		info.PanelClients = s.broker.ClientCount()
	}
	return info, nil
}

func (s *Service) ListRecords(ctx context.Context) ([]record.DetectionRecord, error) {
	return s.store.GetAll(), nil
}

func (s *Service) GetRecord(ctx context.Context, id string) (record.DetectionRecord, error) {
	if err := requireNonEmpty(id, "record_id"); err != nil {
		return record.DetectionRecord{}, err
	}
	return s.store.Get(strings.TrimSpace(id))
}

func (s *Service) UpdateRecord(ctx context.Context, id string, starred *bool, note *string) (record.DetectionRecord, error) {
	if err := requireNonEmpty(id, "record_id"); err != nil {
		return record.DetectionRecord{}, err
	}
	if starred == nil && note == nil {
		return record.DetectionRecord{}, record.NewError(record.CodeValidation, "at least one of starred or note is required", nil)
	}

	rec, err := s.store.Update(strings.TrimSpace(id), starred, note)
	if err != nil {
		return record.DetectionRecord{}, err
	}
	if s.broker != nil {
		s.broker.PublishRecord(panel.EventRecordUpdated, &rec)
	}
	return rec, nil
}

func (s *Service) DeleteRecord(ctx context.Context, id string) error {
	if err := requireNonEmpty(id, "record_id"); err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if err := s.store.RemoveByID(id); err != nil {
		return err
	}
	s.publish(panel.EventRecordRemoved, `{"id":"`+id+`"}`)
	return nil
}

func (s *Service) ClearRecords(ctx context.Context) error {
	if err := s.store.Clear(); err != nil {
		return err
	}
	s.publish(panel.EventRecordsCleared, "{}")
	return nil
}

func (s *Service) ExportRecords(ctx context.Context) ([]byte, string, error) {
	return s.store.Export()
}

func (s *Service) ArmCapture(ctx context.Context) (StatusInfo, error) {
	s.coord.Arm()
	s.publish(panel.EventCaptureArmed, "{}")
	return s.Status(ctx)
}

func (s *Service) ResetCapture(ctx context.Context) (StatusInfo, error) {
	s.coord.Reset()
	s.publish(panel.EventCaptureReset, "{}")
	return s.Status(ctx)
}

func (s *Service) publish(eventType, payload string) {
	if s.broker != nil {
		s.broker.Publish(panel.Event{Type: eventType, Payload: payload})
	}
}

func requireNonEmpty(value, field string) error {
	if strings.TrimSpace(value) == "" {
		return record.NewError(record.CodeValidation, field+" is required", nil)
	}
	return nil
}
