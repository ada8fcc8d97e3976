package mcp

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/mend/internal/config"
	"github.com/hpungsan/mend/internal/errors"
	"github.com/hpungsan/mend/internal/ops"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	db  *sql.DB
	cfg *config.Config
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(db *sql.DB, cfg *config.Config) *Handlers {
	return &Handlers{db: db, cfg: cfg}
}

// Request types for each tool

// ResolveRequest represents the arguments for csv_resolve.
type ResolveRequest struct {
	Path           string  `json:"path,omitempty"`
	Data           *string `json:"data,omitempty"`
	Label          string  `json:"label,omitempty"`
	Delimiter      string  `json:"delimiter,omitempty"`
	Quote          string  `json:"quote,omitempty"`
	Columns        int     `json:"columns,omitempty"`
	MaxMoves       *int    `json:"max_moves,omitempty"`
	TimeoutMS      *int    `json:"timeout_ms,omitempty"`
	Workers        *int    `json:"workers,omitempty"`
	StrictTies     *bool   `json:"strict_ties,omitempty"`
	KeepBlankLines bool    `json:"keep_blank_lines,omitempty"`
	NoCache        bool    `json:"no_cache,omitempty"`
	Record         bool    `json:"record,omitempty"`
}

// StrictRequest represents the arguments for csv_strict.
type StrictRequest struct {
	Path         string  `json:"path,omitempty"`
	Data         *string `json:"data,omitempty"`
	Delimiter    string  `json:"delimiter,omitempty"`
	Quote        string  `json:"quote,omitempty"`
	Columns      int     `json:"columns,omitempty"`
	AbsorbColumn int     `json:"absorb_column,omitempty"`
}

// FetchRequest represents the arguments for run_fetch.
type FetchRequest struct {
	ID          string `json:"id"`
	IncludeRows *bool  `json:"include_rows,omitempty"`
}

// ListRequest represents the arguments for run_list.
type ListRequest struct {
	Label   *string `json:"label,omitempty"`
	Outcome *string `json:"outcome,omitempty"`
	Limit   int     `json:"limit,omitempty"`
	Offset  int     `json:"offset,omitempty"`
}

// PurgeRequest represents the arguments for run_purge.
type PurgeRequest struct {
	Label         *string `json:"label,omitempty"`
	OlderThanDays *int    `json:"older_than_days,omitempty"`
	All           bool    `json:"all,omitempty"`
}

// ExportRequest represents the arguments for run_export.
type ExportRequest struct {
	ID     string  `json:"id,omitempty"`
	Label  *string `json:"label,omitempty"`
	Format string  `json:"format,omitempty"`
	Path   string  `json:"path,omitempty"`
}

// ReportRequest represents the arguments for run_report.
type ReportRequest struct {
	ID      string `json:"id"`
	Format  string `json:"format,omitempty"`
	MaxRows int    `json:"max_rows,omitempty"`
}

// Handler implementations

// HandleResolve handles the csv_resolve tool call.
func (h *Handlers) HandleResolve(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ResolveRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	data, err := inlineData(input.Path, input.Data)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.Resolve(ctx, h.db, h.cfg, ops.ResolveInput{
		Path:           input.Path,
		Data:           data,
		Label:          input.Label,
		Delimiter:      input.Delimiter,
		Quote:          input.Quote,
		Columns:        input.Columns,
		MaxMoves:       input.MaxMoves,
		TimeoutMS:      input.TimeoutMS,
		Workers:        input.Workers,
		StrictTies:     input.StrictTies,
		KeepBlankLines: input.KeepBlankLines,
		NoCache:        input.NoCache,
		Record:         input.Record,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleStrict handles the csv_strict tool call.
func (h *Handlers) HandleStrict(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[StrictRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	data, err := inlineData(input.Path, input.Data)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.Strict(ctx, h.cfg, ops.StrictInput{
		Path:         input.Path,
		Data:         data,
		Delimiter:    input.Delimiter,
		Quote:        input.Quote,
		Columns:      input.Columns,
		AbsorbColumn: input.AbsorbColumn,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleFetch handles the run_fetch tool call.
func (h *Handlers) HandleFetch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[FetchRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Fetch(h.db, ops.FetchInput{
		ID:          input.ID,
		IncludeRows: input.IncludeRows,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleList handles the run_list tool call.
func (h *Handlers) HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.List(h.db, ops.ListInput{
		Label:   input.Label,
		Outcome: input.Outcome,
		Limit:   input.Limit,
		Offset:  input.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandlePurge handles the run_purge tool call.
func (h *Handlers) HandlePurge(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[PurgeRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Purge(ctx, h.db, ops.PurgeInput{
		Label:         input.Label,
		OlderThanDays: input.OlderThanDays,
		All:           input.All,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleExport handles the run_export tool call.
func (h *Handlers) HandleExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ExportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Export(ctx, h.db, h.cfg, ops.ExportInput{
		ID:     input.ID,
		Label:  input.Label,
		Format: input.Format,
		Path:   input.Path,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleReport handles the run_report tool call.
func (h *Handlers) HandleReport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ReportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Report(h.db, ops.ReportInput{
		ID:      input.ID,
		Format:  input.Format,
		MaxRows: input.MaxRows,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// inlineData converts the data argument, requiring exactly one of path and data.
func inlineData(path string, data *string) ([]byte, error) {
	switch {
	case path == "" && data == nil:
		return nil, errors.NewInvalidRequest("path or data is required")
	case path != "" && data != nil:
		return nil, errors.NewInvalidRequest("specify either path or data, not both")
	case data != nil:
		return []byte(*data), nil
	}
	return nil, nil
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are not exposed.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if mErr, ok := errors.As(err); ok {
		message := mErr.Message
		// Keep wrapper context such as "file 2: ..."
		if prefix := strings.TrimSuffix(err.Error(), mErr.Error()); prefix != err.Error() {
			message = prefix + message
		}
		errorObj := map[string]any{
			"code":    mErr.Code,
			"message": message,
			"status":  mErr.Status,
		}
		if mErr.Position != nil {
			errorObj["position"] = mErr.Position
		}
		if mErr.Code != errors.ErrInternal && mErr.Details != nil {
			errorObj["details"] = mErr.Details
		}
		if mErr.Code == errors.ErrInternal {
			errorObj["message"] = "an internal error occurred"
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    errors.ErrInternal,
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
