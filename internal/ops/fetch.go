package ops

import (
	"database/sql"
	"strings"

	"github.com/hpungsan/mend/internal/db"
	"github.com/hpungsan/mend/internal/errors"
	"github.com/hpungsan/mend/internal/run"
)

// FetchInput contains parameters for the Fetch operation.
type FetchInput struct {
	ID          string
	IncludeRows *bool // default: true (nil means default)
}

// FetchOutput contains the result of the Fetch operation.
type FetchOutput struct {
	run.RunSummary
	Structural   int        `json:"structural"`
	ColumnScores []float64  `json:"column_scores,omitempty"`
	Rows         [][]string `json:"rows,omitempty"`
}

// Fetch retrieves a stored run by ID.
func Fetch(database *sql.DB, input FetchInput) (*FetchOutput, error) {
	id := strings.TrimSpace(input.ID)
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}

	r, err := db.GetByID(database, id)
	if err != nil {
		return nil, err
	}

	output := &FetchOutput{
		RunSummary:   r.ToSummary(),
		Structural:   r.Structural,
		ColumnScores: r.ColumnScores,
	}
	if input.IncludeRows == nil || *input.IncludeRows {
		output.Rows = r.Rows
	}
	return output, nil
}
