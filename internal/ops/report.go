package ops

import (
	"bytes"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/hpungsan/mend/internal/db"
	"github.com/hpungsan/mend/internal/errors"
	"github.com/hpungsan/mend/internal/run"
)

// Report formats.
const (
	ReportMarkdown = "markdown"
	ReportHTML     = "html"
)

// DefaultReportRows is how many rows a report previews.
const DefaultReportRows = 20

var markdown = goldmark.New(goldmark.WithExtensions(extension.Table))

// ReportInput contains parameters for the Report operation.
type ReportInput struct {
	ID      string
	Format  string // markdown (default) or html
	MaxRows int    // rows previewed, default 20; negative previews none
}

// ReportOutput contains the result of the Report operation.
type ReportOutput struct {
	ID      string `json:"id"`
	Format  string `json:"format"`
	Content string `json:"content"`
}

// Report renders a stored run as Markdown or HTML.
func Report(database *sql.DB, input ReportInput) (*ReportOutput, error) {
	id := strings.TrimSpace(input.ID)
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}
	format := strings.ToLower(strings.TrimSpace(input.Format))
	if format == "" {
		format = ReportMarkdown
	}
	if format != ReportMarkdown && format != ReportHTML {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("format must be %s or %s", ReportMarkdown, ReportHTML))
	}

	r, err := db.GetByID(database, id)
	if err != nil {
		return nil, err
	}

	maxRows := input.MaxRows
	if maxRows == 0 {
		maxRows = DefaultReportRows
	}
	content := RunMarkdown(r, maxRows)
	if format == ReportHTML {
		content, err = RenderMarkdown(content)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
	}
	return &ReportOutput{ID: r.ID, Format: format, Content: content}, nil
}

// RenderMarkdown converts Markdown to HTML, with GFM tables.
func RenderMarkdown(md string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RunMarkdown describes a run and previews up to maxRows of its rows.
func RunMarkdown(r *run.Run, maxRows int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Run %s\n\n", r.ID)
	b.WriteString("| Field | Value |\n|---|---|\n")
	field := func(name string, value any) {
		fmt.Fprintf(&b, "| %s | %s |\n", name, escapeCell(fmt.Sprint(value)))
	}
	field("Label", r.LabelRaw)
	if r.Source != nil {
		field("Source", *r.Source)
	}
	field("Outcome", r.Outcome)
	field("Delimiter", dialectName(r.Delimiter))
	field("Quote", r.Quote)
	field("Columns", r.Columns)
	field("Rows", r.RowCount)
	field("Score", fmt.Sprintf("%.6f", r.Score))
	field("Structural", r.Structural)
	field("Moves", r.Moves)
	field("Exhausted", r.Exhausted)
	field("Input bytes", r.InputBytes)
	field("SHA-256", r.InputSHA256)
	field("Created", time.Unix(r.CreatedAt, 0).UTC().Format(time.RFC3339))

	if r.ErrorCode != nil {
		b.WriteString("\n## Failure\n\n")
		msg := ""
		if r.ErrorMessage != nil {
			msg = *r.ErrorMessage
		}
		fmt.Fprintf(&b, "**%s**: %s", *r.ErrorCode, msg)
		if r.ErrorLine != nil && r.ErrorColumn != nil {
			fmt.Fprintf(&b, " (line %d, column %d)", *r.ErrorLine, *r.ErrorColumn)
		}
		b.WriteString("\n")
	}

	if len(r.ColumnScores) > 0 {
		b.WriteString("\n## Column heterogeneity\n\n| Column | Gini |\n|---|---|\n")
		for i, s := range r.ColumnScores {
			fmt.Fprintf(&b, "| %d | %.6f |\n", i+1, s)
		}
	}

	if maxRows > 0 && len(r.Rows) > 0 {
		shown := min(maxRows, len(r.Rows))
		fmt.Fprintf(&b, "\n## Rows (%d of %d)\n\n", shown, len(r.Rows))
		width := 0
		for _, row := range r.Rows[:shown] {
			width = max(width, len(row))
		}
		b.WriteString("|")
		for i := range width {
			fmt.Fprintf(&b, " %d |", i+1)
		}
		b.WriteString("\n|")
		b.WriteString(strings.Repeat("---|", width))
		b.WriteString("\n")
		for _, row := range r.Rows[:shown] {
			b.WriteString("|")
			for i := range width {
				cell := " "
				if i < len(row) {
					cell = escapeCell(row[i])
				}
				fmt.Fprintf(&b, " %s |", cell)
			}
			b.WriteString("\n")
		}
	}

	return b.String()
}

// escapeCell makes s safe inside a Markdown table cell.
func escapeCell(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "|", `\|`)
	s = strings.ReplaceAll(s, "\r", `\r`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	if s == "" {
		return " "
	}
	return s
}

func dialectName(d string) string {
	switch d {
	case "\t":
		return "tab"
	case " ":
		return "space"
	}
	return "`" + d + "`"
}
