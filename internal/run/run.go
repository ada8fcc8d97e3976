package run

// Outcomes recorded for a run.
const (
	OutcomeResolved  = "resolved"
	OutcomeInvalid   = "invalid"
	OutcomeAmbiguity = "ambiguity"
)

// ValidOutcome reports whether s is a known outcome.
func ValidOutcome(s string) bool {
	switch s {
	case OutcomeResolved, OutcomeInvalid, OutcomeAmbiguity:
		return true
	}
	return false
}

// Run is one stored resolution: its input fingerprint, the options it ran
// with, and what came out.
type Run struct {
	// ID is a ULID that uniquely identifies this run
	ID string

	// LabelRaw is the label as provided by the caller ("default" when omitted)
	LabelRaw string

	// LabelNorm is the normalized label (lowercased, trimmed, collapsed spaces)
	LabelNorm string

	// Source is the input path, or nil for inline data
	Source *string

	// InputSHA256 is the hex digest of the input after BOM stripping
	InputSHA256 string

	// InputBytes is the input length after BOM stripping
	InputBytes int64

	Delimiter string
	Quote     string

	// Columns is the column count the run resolved with (inferred when 0 was requested)
	Columns int

	// Outcome is one of OutcomeResolved, OutcomeInvalid, OutcomeAmbiguity
	Outcome string

	// ErrorCode, ErrorMessage and the position are set for failed runs
	ErrorCode    *string
	ErrorMessage *string
	ErrorLine    *int
	ErrorColumn  *int

	// RowCount is the number of rows resolved (before the failure, if any)
	RowCount int

	// Score is the summed column heterogeneity of the resolved rows
	Score float64

	// Structural counts the separators and quotes read as structural
	Structural int

	// Moves is the number of row placements the search spent
	Moves int

	// Exhausted is true when the search proved its answer optimal
	Exhausted bool

	// ColumnScores is the per-column heterogeneity (stored as JSON in DB)
	ColumnScores []float64

	// Rows holds the resolved cells (stored as JSON in DB)
	Rows [][]string

	// CreatedAt is the Unix timestamp when the run was recorded
	CreatedAt int64
}
