package ops

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/hpungsan/mend/internal/db"
	"github.com/hpungsan/mend/internal/errors"
	"github.com/hpungsan/mend/internal/run"
)

// ListInput contains parameters for the List operation.
type ListInput struct {
	Label   *string // optional filter, normalized
	Outcome *string // optional filter: resolved, invalid, ambiguity
	Limit   int     // default: 20, max: 100
	Offset  int     // default: 0
}

// ListOutput contains the result of the List operation.
type ListOutput struct {
	Items      []run.RunSummary `json:"items"`
	Pagination Pagination       `json:"pagination"`
	Sort       string           `json:"sort"`
}

// List retrieves run summaries, newest first, with pagination.
func List(database *sql.DB, input ListInput) (*ListOutput, error) {
	var filter db.ListFilter
	if label := cleanOptionalString(input.Label); label != nil {
		norm := run.Normalize(*label)
		filter.LabelNorm = &norm
	}
	if outcome := cleanOptionalString(input.Outcome); outcome != nil {
		o := strings.ToLower(*outcome)
		if !run.ValidOutcome(o) {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("outcome must be one of: %s, %s, %s",
				run.OutcomeResolved, run.OutcomeInvalid, run.OutcomeAmbiguity))
		}
		filter.Outcome = &o
	}

	// Apply limit defaults and bounds
	limit := input.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	offset := max(input.Offset, 0)

	summaries, total, err := db.List(database, filter, limit, offset)
	if err != nil {
		return nil, err
	}

	// Ensure we return an empty array rather than nil
	if summaries == nil {
		summaries = []run.RunSummary{}
	}

	return &ListOutput{
		Items: summaries,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(summaries) < total,
			Total:   total,
		},
		Sort: "created_at_desc",
	}, nil
}
