package web

import (
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"html/template"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hpungsan/mend/internal/config"
	"github.com/hpungsan/mend/internal/errors"
	"github.com/hpungsan/mend/internal/ops"
)

// Handlers contains HTTP route handlers.
type Handlers struct {
	db       *sql.DB
	cfg      *config.Config
	renderer *Renderer
	limiter  *rate.Limiter
	log      *zap.Logger
}

// ResolveRequest is the JSON body of POST /resolve.
type ResolveRequest struct {
	Data           string `json:"data"`
	Label          string `json:"label,omitempty"`
	Delimiter      string `json:"delimiter,omitempty"`
	Quote          string `json:"quote,omitempty"`
	Columns        int    `json:"columns,omitempty"`
	KeepBlankLines bool   `json:"keep_blank_lines,omitempty"`
	NoCache        bool   `json:"no_cache,omitempty"`
	Record         bool   `json:"record,omitempty"`
}

// HandleList handles GET /runs: stored runs, newest first.
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	label := q.Get("label")
	outcome := q.Get("outcome")
	limit := parseIntParam(r, "limit", ops.DefaultListLimit)
	offset := parseIntParam(r, "offset", 0)

	result, err := ops.List(h.db, ops.ListInput{
		Label:   ptrString(label),
		Outcome: ptrString(outcome),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}

	data := ListPageData{
		PageData: PageData{Title: "Runs", Version: h.renderer.version},
		Items:    result.Items,
		Total:    result.Pagination.Total,
		Label:    label,
		Outcome:  outcome,
	}
	p := result.Pagination
	if p.Offset > 0 {
		data.Prev = pageURL(label, outcome, p.Limit, max(p.Offset-p.Limit, 0))
	}
	if p.HasMore {
		data.Next = pageURL(label, outcome, p.Limit, p.Offset+p.Limit)
	}
	h.renderer.renderPage(w, "list", data)
}

// HandleDetail handles GET /runs/{id}: the run report as HTML.
func (h *Handlers) HandleDetail(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	report, err := ops.Report(h.db, ops.ReportInput{
		ID:      id,
		Format:  ops.ReportHTML,
		MaxRows: parseIntParam(r, "max_rows", 0),
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	h.renderer.renderPage(w, "detail", DetailPageData{
		PageData: PageData{Title: "Run " + report.ID, Version: h.renderer.version},
		ID:       report.ID,
		// goldmark escapes raw HTML by default and cells are escaped
		Report: template.HTML(report.Content),
	})
}

// HandleRows handles GET /runs/{id}/rows: the run's rows as JSON.
func (h *Handlers) HandleRows(w http.ResponseWriter, r *http.Request) {
	result, err := ops.Fetch(h.db, ops.FetchInput{ID: r.PathValue("id")})
	if err != nil {
		h.renderer.renderJSONError(w, r, err)
		return
	}
	rows := result.Rows
	if rows == nil {
		rows = [][]string{}
	}
	renderJSON(w, http.StatusOK, map[string]any{
		"id":      result.ID,
		"columns": result.Columns,
		"rows":    rows,
	})
}

// HandleResolve handles POST /resolve. A JSON body carries the data and
// options; a text/* body is the data itself, with options in the query.
func (h *Handlers) HandleResolve(w http.ResponseWriter, r *http.Request) {
	if h.limiter != nil && !h.limiter.Allow() {
		w.Header().Set("Retry-After", "1")
		renderJSON(w, http.StatusTooManyRequests, map[string]any{
			"error": map[string]any{
				"code":    "RATE_LIMITED",
				"message": "too many resolve requests",
				"status":  http.StatusTooManyRequests,
			},
		})
		return
	}

	input, err := h.resolveInput(w, r)
	if err != nil {
		h.renderer.renderJSONError(w, r, err)
		return
	}

	result, err := ops.Resolve(r.Context(), h.db, h.cfg, input)
	if err != nil {
		h.renderer.renderJSONError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// resolveInput decodes the request body into a ResolveInput.
func (h *Handlers) resolveInput(w http.ResponseWriter, r *http.Request) (ops.ResolveInput, error) {
	limit := h.cfg.MaxInputBytes
	if limit <= 0 {
		limit = config.DefaultConfig().MaxInputBytes
	}
	// JSON escaping can grow the body beyond the data it carries.
	body := http.MaxBytesReader(w, r.Body, 2*limit+4096)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if strings.HasPrefix(mediaType, "text/") {
		data, err := io.ReadAll(body)
		if err != nil {
			return ops.ResolveInput{}, bodyError(err, limit)
		}
		q := r.URL.Query()
		columns, err := parseOptionalInt(q.Get("columns"))
		if err != nil {
			return ops.ResolveInput{}, errors.NewInvalidRequest("columns must be an integer")
		}
		return ops.ResolveInput{
			Data:      data,
			Label:     q.Get("label"),
			Delimiter: q.Get("delimiter"),
			Quote:     q.Get("quote"),
			Columns:   columns,
			NoCache:   parseBoolParam(r, "no_cache"),
			Record:    parseBoolParam(r, "record"),
		}, nil
	}

	var req ResolveRequest
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if stderrors.As(err, &maxErr) {
			return ops.ResolveInput{}, bodyError(err, limit)
		}
		return ops.ResolveInput{}, errors.NewInvalidRequest("invalid request body: " + err.Error())
	}
	return ops.ResolveInput{
		Data:           []byte(req.Data),
		Label:          req.Label,
		Delimiter:      req.Delimiter,
		Quote:          req.Quote,
		Columns:        req.Columns,
		KeepBlankLines: req.KeepBlankLines,
		NoCache:        req.NoCache,
		Record:         req.Record,
	}, nil
}

func bodyError(err error, limit int64) error {
	var maxErr *http.MaxBytesError
	if stderrors.As(err, &maxErr) {
		return errors.NewFileTooLarge(limit, maxErr.Limit+1)
	}
	return errors.NewIO(err)
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{"status": "ok", "version": h.renderer.version}
	if err := h.db.PingContext(r.Context()); err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "unavailable"
	}
	renderJSON(w, status, body)
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

func parseOptionalInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

// parseBoolParam parses a boolean query parameter.
func parseBoolParam(r *http.Request, name string) bool {
	s := r.URL.Query().Get(name)
	return s == "true" || s == "1"
}

// ptrString returns a pointer to s if non-empty, nil otherwise.
func ptrString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// pageURL builds the list URL for one page.
func pageURL(label, outcome string, limit, offset int) string {
	v := url.Values{}
	if label != "" {
		v.Set("label", label)
	}
	if outcome != "" {
		v.Set("outcome", outcome)
	}
	v.Set("limit", strconv.Itoa(limit))
	v.Set("offset", strconv.Itoa(offset))
	return "/runs?" + v.Encode()
}
