package run

// RunSummary is a run's metadata without its rows.
// Used for browse operations (list, sweep) to reduce data transfer.
type RunSummary struct {
	ID           string  `json:"id"`
	Label        string  `json:"label"`
	LabelNorm    string  `json:"label_norm"`
	Source       *string `json:"source,omitempty"`
	InputSHA256  string  `json:"input_sha256"`
	InputBytes   int64   `json:"input_bytes"`
	Delimiter    string  `json:"delimiter"`
	Quote        string  `json:"quote"`
	Columns      int     `json:"columns"`
	Outcome      string  `json:"outcome"`
	ErrorCode    *string `json:"error_code,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`
	ErrorLine    *int    `json:"error_line,omitempty"`
	ErrorColumn  *int    `json:"error_column,omitempty"`
	RowCount     int     `json:"row_count"`
	Score        float64 `json:"score"`
	Moves        int     `json:"moves"`
	Exhausted    bool    `json:"exhausted"`
	CreatedAt    int64   `json:"created_at"`
}

// ToSummary converts a Run to a RunSummary by stripping the rows.
func (r *Run) ToSummary() RunSummary {
	return RunSummary{
		ID:           r.ID,
		Label:        r.LabelRaw,
		LabelNorm:    r.LabelNorm,
		Source:       r.Source,
		InputSHA256:  r.InputSHA256,
		InputBytes:   r.InputBytes,
		Delimiter:    r.Delimiter,
		Quote:        r.Quote,
		Columns:      r.Columns,
		Outcome:      r.Outcome,
		ErrorCode:    r.ErrorCode,
		ErrorMessage: r.ErrorMessage,
		ErrorLine:    r.ErrorLine,
		ErrorColumn:  r.ErrorColumn,
		RowCount:     r.RowCount,
		Score:        r.Score,
		Moves:        r.Moves,
		Exhausted:    r.Exhausted,
		CreatedAt:    r.CreatedAt,
	}
}
