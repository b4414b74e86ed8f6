package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/674019130/zhuqueAI-plugin/internal/panel"
	"github.com/674019130/zhuqueAI-plugin/internal/record"
	"github.com/674019130/zhuqueAI-plugin/internal/recorder"
)

type Service interface {
	Status(ctx context.Context) (recorder.StatusInfo, error)
	ListRecords(ctx context.Context) ([]record.DetectionRecord, error)
	GetRecord(ctx context.Context, id string) (record.DetectionRecord, error)
	UpdateRecord(ctx context.Context, id string, starred *bool, note *string) (record.DetectionRecord, error)
	DeleteRecord(ctx context.Context, id string) error
	ClearRecords(ctx context.Context) error
	ExportRecords(ctx context.Context) ([]byte, string, error)
	ArmCapture(ctx context.Context) (recorder.StatusInfo, error)
	ResetCapture(ctx context.Context) (recorder.StatusInfo, error)
}

// NewServer builds the recorder's HTTP surface. broker may be nil; the
// events stream then responds 404.
func NewServer(svc Service, broker *panel.Broker) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("ZhuQue Recorder API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})

	if broker != nil {
		router.Get("/api/v1/events", panel.SSEHandler(broker))
	}

	registerRecordHandlers(api, svc)
	registerCaptureHandlers(api, svc)
	registerMiscHandlers(api, svc)

	return router
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *record.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case record.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case record.CodeRecordNotFound:
			return huma.Error404NotFound(coded.Message)
		case record.CodeEvalTimeout:
			return huma.Error504GatewayTimeout(coded.Message)
		case record.CodeCDPUnavailable:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
