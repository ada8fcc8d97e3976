package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/mend/internal/errors"
	"github.com/hpungsan/mend/internal/run"
)

// PageData contains common fields used across all page templates.
type PageData struct {
	Title   string
	Version string
}

// ListPageData is the template data for the run list page.
type ListPageData struct {
	PageData
	Items   []run.RunSummary
	Total   int
	Label   string
	Outcome string
	Prev    string // URL of the previous page, empty on the first
	Next    string // URL of the next page, empty on the last
}

// DetailPageData is the template data for the run detail page.
type DetailPageData struct {
	PageData
	ID     string
	Report template.HTML
}

// ErrorPageData is the template data for the error page.
type ErrorPageData struct {
	PageData
	StatusCode int
	Message    string
}

const layoutTemplate = `{{define "layout"}}<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}} · mend</title>
<style>
body{font-family:system-ui,sans-serif;margin:2rem auto;max-width:72rem;padding:0 1rem}
table{border-collapse:collapse}
td,th{border:1px solid #ccc;padding:.25rem .5rem;text-align:left}
.muted{color:#666}
</style>
</head>
<body>
<nav><a href="/runs">Runs</a> <span class="muted">mend {{.Version}}</span></nav>
<main>{{template "content" .}}</main>
</body>
</html>{{end}}`

var pageTemplates = map[string]string{
	"list": `{{define "content"}}<h1>Runs</h1>
<form method="get" action="/runs">
<input name="label" value="{{.Label}}" placeholder="label">
<select name="outcome">
<option value="">any outcome</option>
{{range $o := outcomes}}<option value="{{$o}}"{{if eq $o $.Outcome}} selected{{end}}>{{$o}}</option>{{end}}
</select>
<button type="submit">Filter</button>
</form>
{{if .Items}}<table>
<tr><th>ID</th><th>Label</th><th>Outcome</th><th>Rows</th><th>Columns</th><th>Score</th><th>Input</th><th>Created</th></tr>
{{range .Items}}<tr>
<td><a href="/runs/{{.ID}}">{{.ID}}</a></td>
<td>{{.Label}}</td>
<td>{{.Outcome}}{{if .ErrorCode}} <span class="muted">{{deref .ErrorCode}}</span>{{end}}</td>
<td>{{formatCount .RowCount}}</td>
<td>{{.Columns}}</td>
<td>{{printf "%.4f" .Score}}</td>
<td>{{formatCount .InputBytes}} B</td>
<td>{{formatTime .CreatedAt}}</td>
</tr>{{end}}
</table>
<p class="muted">{{.Total}} runs{{if .Prev}} · <a href="{{.Prev}}">previous</a>{{end}}{{if .Next}} · <a href="{{.Next}}">next</a>{{end}}</p>
{{else}}<p>No runs found.</p>{{end}}{{end}}`,

	"detail": `{{define "content"}}<p><a href="/runs/{{.ID}}/rows">rows as JSON</a></p>
{{.Report}}{{end}}`,

	"error": `{{define "content"}}<h1>Error {{.StatusCode}}</h1>
<p>{{.Message}}</p>{{end}}`,
}

// Renderer manages template parsing and rendering.
type Renderer struct {
	templates map[string]*template.Template
	version   string
	log       *zap.Logger
}

// NewRenderer parses the layout and every page template.
func NewRenderer(version string, log *zap.Logger) *Renderer {
	if log == nil {
		log = zap.NewNop()
	}
	funcMap := template.FuncMap{
		"formatTime":  formatTime,
		"formatCount": formatCount,
		"deref":       deref,
		"outcomes": func() []string {
			return []string{run.OutcomeResolved, run.OutcomeInvalid, run.OutcomeAmbiguity}
		},
	}

	layout := template.Must(template.New("layout").Funcs(funcMap).Parse(layoutTemplate))

	templates := make(map[string]*template.Template, len(pageTemplates))
	for name, page := range pageTemplates {
		t := template.Must(layout.Clone())
		template.Must(t.Parse(page))
		templates[name] = t
	}

	return &Renderer{
		templates: templates,
		version:   version,
		log:       log,
	}
}

// renderPage renders a named page template with the given data and HTTP 200 status.
func (r *Renderer) renderPage(w http.ResponseWriter, name string, data any) {
	r.renderPageStatus(w, http.StatusOK, name, data)
}

// renderPageStatus renders a named page template with the given data and HTTP status code.
func (r *Renderer) renderPageStatus(w http.ResponseWriter, status int, name string, data any) {
	t, ok := r.templates[name]
	if !ok {
		r.log.Error("template not found", zap.String("template", name))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		r.log.Error("template execution failed", zap.String("template", name), zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// renderError renders an error response with content negotiation.
func (r *Renderer) renderError(w http.ResponseWriter, req *http.Request, err error) {
	if wantsJSON(req) {
		r.renderJSONError(w, req, err)
		return
	}

	mErr := r.mendError(req, err)
	r.renderPageStatus(w, mErr.Status, "error", ErrorPageData{
		PageData: PageData{
			Title:   fmt.Sprintf("Error %d", mErr.Status),
			Version: r.version,
		},
		StatusCode: mErr.Status,
		Message:    publicMessage(mErr),
	})
}

// renderJSONError writes the error payload used by every JSON endpoint.
// Internal error details are not exposed.
func (r *Renderer) renderJSONError(w http.ResponseWriter, req *http.Request, err error) {
	mErr := r.mendError(req, err)
	errorObj := map[string]any{
		"code":    string(mErr.Code),
		"message": publicMessage(mErr),
		"status":  mErr.Status,
	}
	if mErr.Position != nil {
		errorObj["position"] = mErr.Position
	}
	if mErr.Code != errors.ErrInternal && mErr.Details != nil {
		errorObj["details"] = mErr.Details
	}
	renderJSON(w, mErr.Status, map[string]any{"error": errorObj})
}

// mendError converts err, logging internal failures.
func (r *Renderer) mendError(req *http.Request, err error) *errors.MendError {
	mErr, ok := errors.As(err)
	if !ok {
		mErr = errors.NewInternal(err)
	}
	if mErr.Code == errors.ErrInternal {
		r.log.Error("request failed", zap.String("path", req.URL.Path), zap.Error(err))
	}
	return mErr
}

func publicMessage(mErr *errors.MendError) string {
	if mErr.Code == errors.ErrInternal {
		return "an internal error occurred"
	}
	return mErr.Message
}

// wantsJSON reports whether the client asked for JSON.
func wantsJSON(req *http.Request) bool {
	return strings.Contains(req.Header.Get("Accept"), "application/json")
}

// renderJSON writes a JSON response.
func renderJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// formatTime formats a Unix timestamp as "2006-01-02 15:04" UTC.
func formatTime(unix int64) string {
	return time.Unix(unix, 0).UTC().Format("2006-01-02 15:04")
}

// formatCount formats an int or int64 with comma thousands separators.
func formatCount(v any) string {
	var n int64
	switch x := v.(type) {
	case int:
		n = int64(x)
	case int64:
		n = x
	default:
		return fmt.Sprint(v)
	}
	if n < 0 {
		return "-" + formatCount(-n)
	}
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}

	var result strings.Builder
	remainder := len(s) % 3
	if remainder > 0 {
		result.WriteString(s[:remainder])
	}
	for i := remainder; i < len(s); i += 3 {
		if result.Len() > 0 {
			result.WriteByte(',')
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}

// deref dereferences a *string, returning "" if nil.
func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
