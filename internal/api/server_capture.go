package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/674019130/zhuqueAI-plugin/internal/recorder"
)

func registerCaptureHandlers(api huma.API, svc Service) {
	type statusOutput struct {
		Body recorder.StatusInfo
	}

	huma.Register(api, huma.Operation{OperationID: "arm-capture", Method: http.MethodPost, Path: "/api/v1/capture/arm", Summary: "Arm capture and start DOM polling", Tags: []string{"Capture"}},
		func(ctx context.Context, input *struct{}) (*statusOutput, error) {
			info, err := svc.ArmCapture(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &statusOutput{}
			out.Body = info
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "reset-capture", Method: http.MethodPost, Path: "/api/v1/capture/reset", Summary: "Disarm capture and clear duplicate suppression", Tags: []string{"Capture"}},
		func(ctx context.Context, input *struct{}) (*statusOutput, error) {
			info, err := svc.ResetCapture(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &statusOutput{}
			out.Body = info
			return out, nil
		})
}
