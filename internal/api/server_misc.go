package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/674019130/zhuqueAI-plugin/internal/recorder"
)

func registerMiscHandlers(api huma.API, svc Service) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}

	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Liveness check", Tags: []string{"System"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})

	type statusOutput struct {
		Body recorder.StatusInfo
	}

	huma.Register(api, huma.Operation{OperationID: "get-status", Method: http.MethodGet, Path: "/api/v1/status", Summary: "Recorder state and counters", Tags: []string{"System"}},
		func(ctx context.Context, input *struct{}) (*statusOutput, error) {
			info, err := svc.Status(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &statusOutput{}
			out.Body = info
			return out, nil
		})
}
