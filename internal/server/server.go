// Package server exposes a read-only HTTP API over the workspace export
// catalog: listing saved exports, enumerating their fields, and computing
// top-N counts.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"sqanalyze/internal/analyze"
	"sqanalyze/internal/domain"
	"sqanalyze/internal/export"
	"sqanalyze/internal/records"
	"sqanalyze/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Repo     repo.Repo
	BasePath string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"export not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns the API handler.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	router := chi.NewRouter()
	hcfg := huma.DefaultConfig("sqanalyze API", "0.1.0")
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerExports(group, cfg.Repo)
	registerFields(group, cfg.Repo)
	registerTop(group, cfg.Repo)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var nf *analyze.FieldNotFoundError
	if errors.As(err, &nf) {
		return newAPIError(http.StatusUnprocessableEntity, "field_not_found", err.Error(),
			map[string]any{"columns": nf.Columns})
	}
	var ace analyze.ConfigError
	if errors.As(err, &ace) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	var ece export.ConfigError
	if errors.As(err, &ece) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", "export not found", nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerExports(api huma.API, r repo.Repo) {
	huma.Register(api, huma.Operation{
		OperationID: "list-exports",
		Method:      http.MethodGet,
		Path:        "/exports",
		Summary:     "List cataloged exports",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			Items []domain.Export `json:"items"`
		} `json:"body"`
	}, error) {
		items, err := r.ListExports(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		resp := &struct {
			Body struct {
				Items []domain.Export `json:"items"`
			} `json:"body"`
		}{}
		resp.Body.Items = items
		return resp, nil
	})

	type exportPath struct {
		ExportID string `path:"export_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-export",
		Method:      http.MethodGet,
		Path:        "/exports/{export_id}",
		Summary:     "Show one cataloged export",
	}, func(ctx context.Context, input *exportPath) (*struct {
		Body domain.Export `json:"body"`
	}, error) {
		e, err := r.GetExport(ctx, input.ExportID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Export `json:"body"`
		}{Body: e}, nil
	})
}

func registerFields(api huma.API, r repo.Repo) {
	type fieldsPath struct {
		ExportID string `path:"export_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "export-fields",
		Method:      http.MethodGet,
		Path:        "/exports/{export_id}/fields",
		Summary:     "Enumerate flattened columns of a JSON export",
	}, func(ctx context.Context, input *fieldsPath) (*struct {
		Body struct {
			Columns []string `json:"columns"`
			Total   int      `json:"total"`
		} `json:"body"`
	}, error) {
		table, err := loadTable(ctx, r, input.ExportID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := &struct {
			Body struct {
				Columns []string `json:"columns"`
				Total   int      `json:"total"`
			} `json:"body"`
		}{}
		resp.Body.Columns = table.Columns
		resp.Body.Total = len(table.Columns)
		return resp, nil
	})
}

func registerTop(api huma.API, r repo.Repo) {
	type topInput struct {
		ExportID string `path:"export_id"`
		By       string `query:"by" required:"true" doc:"field to group by"`
		N        int    `query:"n" default:"10" doc:"number of groups to return"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "export-top",
		Method:      http.MethodGet,
		Path:        "/exports/{export_id}/top",
		Summary:     "Top-N value counts for one field of a JSON export",
	}, func(ctx context.Context, input *topInput) (*struct {
		Body struct {
			Field  string               `json:"field"`
			Column string               `json:"column"`
			Counts []analyze.GroupCount `json:"counts"`
		} `json:"body"`
	}, error) {
		table, err := loadTable(ctx, r, input.ExportID)
		if err != nil {
			return nil, handleError(err)
		}
		column, err := analyze.ResolveColumn(table.Columns, input.By)
		if err != nil {
			return nil, handleError(err)
		}
		counts, err := analyze.TopCounts(table, input.By, input.N)
		if err != nil {
			return nil, handleError(err)
		}
		resp := &struct {
			Body struct {
				Field  string               `json:"field"`
				Column string               `json:"column"`
				Counts []analyze.GroupCount `json:"counts"`
			} `json:"body"`
		}{}
		resp.Body.Field = input.By
		resp.Body.Column = column
		resp.Body.Counts = counts
		return resp, nil
	})
}

func loadTable(ctx context.Context, r repo.Repo, exportID string) (analyze.Table, error) {
	e, err := r.GetExport(ctx, exportID)
	if err != nil {
		return analyze.Table{}, err
	}
	if e.Format != string(export.FormatJSON) {
		return analyze.Table{}, analyze.ConfigError{Msg: "analysis requires a json export"}
	}
	recs, err := records.FromFile(e.Path)
	if err != nil {
		return analyze.Table{}, err
	}
	return analyze.Flatten(recs), nil
}
