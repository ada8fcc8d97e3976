package ops

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/hpungsan/mend/internal/db"
	"github.com/hpungsan/mend/internal/errors"
	"github.com/hpungsan/mend/internal/logging"
	"github.com/hpungsan/mend/internal/run"
)

// PurgeInput contains parameters for the Purge operation.
type PurgeInput struct {
	Label         *string // optional filter by label
	OlderThanDays *int    // optional, only purge runs created before (now - N days)
	All           bool    // required when no filter is given
}

// PurgeOutput contains the result of the Purge operation.
type PurgeOutput struct {
	Purged  int    `json:"purged"`
	Message string `json:"message"`
}

// Purge permanently deletes stored runs.
func Purge(ctx context.Context, database *sql.DB, input PurgeInput) (*PurgeOutput, error) {
	var labelNorm *string
	if label := cleanOptionalString(input.Label); label != nil {
		norm := run.Normalize(*label)
		labelNorm = &norm
	}
	if input.OlderThanDays != nil && *input.OlderThanDays < 0 {
		return nil, errors.NewInvalidRequest("older_than_days cannot be negative")
	}
	if labelNorm == nil && input.OlderThanDays == nil && !input.All {
		return nil, errors.NewInvalidRequest("purge needs a label, older_than_days, or all")
	}

	count, err := db.Purge(database, labelNorm, input.OlderThanDays)
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).Info("purged runs", zap.Int("count", count))
	return &PurgeOutput{
		Purged:  count,
		Message: formatPurgeMessage(count, labelNorm, input.OlderThanDays),
	}, nil
}

// formatPurgeMessage creates a human-readable message for the purge result.
func formatPurgeMessage(count int, label *string, olderThanDays *int) string {
	if count == 0 {
		return "No runs to purge"
	}

	runWord := "run"
	if count > 1 {
		runWord = "runs"
	}

	msg := fmt.Sprintf("Permanently deleted %d %s", count, runWord)
	if label != nil {
		msg += fmt.Sprintf(" labeled %q", *label)
	}
	if olderThanDays != nil {
		msg += fmt.Sprintf(" (created more than %d days ago)", *olderThanDays)
	}
	return msg
}
