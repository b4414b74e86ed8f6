package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/674019130/zhuqueAI-plugin/internal/record"
)

func registerRecordHandlers(api huma.API, svc Service) {
	type recordOutput struct {
		Body record.DetectionRecord
	}

	type listRecordsOutput struct {
		Body struct {
			Records []record.DetectionRecord `json:"records"`
			Count   int                      `json:"count"`
		}
	}

	huma.Register(api, huma.Operation{OperationID: "list-records", Method: http.MethodGet, Path: "/api/v1/records", Summary: "List all detection records, newest first", Tags: []string{"Records"}},
		func(ctx context.Context, input *struct{}) (*listRecordsOutput, error) {
			records, err := svc.ListRecords(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listRecordsOutput{}
			out.Body.Records = records
			out.Body.Count = len(records)
			return out, nil
		})

	type recordIDInput struct {
		RecordID string `path:"record_id"`
	}

	huma.Register(api, huma.Operation{OperationID: "get-record", Method: http.MethodGet, Path: "/api/v1/records/{record_id}", Summary: "Get a single detection record", Tags: []string{"Records"}},
		func(ctx context.Context, input *recordIDInput) (*recordOutput, error) {
			rec, err := svc.GetRecord(ctx, input.RecordID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &recordOutput{}
			out.Body = rec
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "update-record", Method: http.MethodPatch, Path: "/api/v1/records/{record_id}", Summary: "Star or annotate a record", Tags: []string{"Records"}},
		func(ctx context.Context, input *struct {
			RecordID string `path:"record_id"`
			Body     struct {
				Starred *bool   `json:"starred,omitempty" doc:"Set or clear the star"`
				Note    *string `json:"note,omitempty" doc:"Free-form note; empty string clears it"`
			}
		}) (*recordOutput, error) {
			rec, err := svc.UpdateRecord(ctx, input.RecordID, input.Body.Starred, input.Body.Note)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &recordOutput{}
			out.Body = rec
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "delete-record", Method: http.MethodDelete, Path: "/api/v1/records/{record_id}", Summary: "Delete a record", Tags: []string{"Records"}},
		func(ctx context.Context, input *recordIDInput) (*struct{}, error) {
			if err := svc.DeleteRecord(ctx, input.RecordID); err != nil {
				return nil, mapErr(err)
			}
			return nil, nil
		})

	huma.Register(api, huma.Operation{OperationID: "clear-records", Method: http.MethodDelete, Path: "/api/v1/records", Summary: "Delete all records", Tags: []string{"Records"}},
		func(ctx context.Context, input *struct{}) (*struct{}, error) {
			if err := svc.ClearRecords(ctx); err != nil {
				return nil, mapErr(err)
			}
			return nil, nil
		})

	type exportOutput struct {
		ContentType        string `header:"Content-Type"`
		ContentDisposition string `header:"Content-Disposition"`
		Body               []byte
	}

	huma.Register(api, huma.Operation{
		OperationID: "export-records",
		Method:      http.MethodGet,
		Path:        "/api/v1/records/export",
		Summary:     "Download all records as a JSON file",
		Tags:        []string{"Records"},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Records export",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Type: "string", Format: "binary"},
					},
				},
			},
		},
	}, func(ctx context.Context, input *struct{}) (*exportOutput, error) {
		data, filename, err := svc.ExportRecords(ctx)
		if err != nil {
			return nil, mapErr(err)
		}
		return &exportOutput{
			ContentType:        "application/json",
			ContentDisposition: fmt.Sprintf("attachment; filename=%q", filename),
			Body:               data,
		}, nil
	})
}
