package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/hpungsan/mend/internal/errors"
	"github.com/hpungsan/mend/internal/run"
)

const runColumns = `
	id, label_raw, label_norm, source, input_sha256, input_bytes,
	delimiter, quote, column_count, outcome,
	error_code, error_message, error_line, error_column,
	row_count, score, structural, moves, exhausted,
	column_scores, rows_json, created_at
`

const summaryColumns = `
	id, label_raw, label_norm, source, input_sha256, input_bytes,
	delimiter, quote, column_count, outcome,
	error_code, error_message, error_line, error_column,
	row_count, score, moves, exhausted, created_at
`

// ListFilter narrows List and StreamForExport. Nil fields match everything.
type ListFilter struct {
	LabelNorm *string
	Outcome   *string
}

// Insert stores a new run in the database.
func Insert(db *sql.DB, r *run.Run) error {
	scores, err := toNullJSON(r.ColumnScores, len(r.ColumnScores) > 0)
	if err != nil {
		return errors.NewInternal(err)
	}
	rows, err := toNullJSON(r.Rows, len(r.Rows) > 0)
	if err != nil {
		return errors.NewInternal(err)
	}

	query := `INSERT INTO runs (` + runColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = db.Exec(query,
		r.ID, r.LabelRaw, r.LabelNorm, toNullString(r.Source), r.InputSHA256, r.InputBytes,
		r.Delimiter, r.Quote, r.Columns, r.Outcome,
		toNullString(r.ErrorCode), toNullString(r.ErrorMessage), toNullInt(r.ErrorLine), toNullInt(r.ErrorColumn),
		r.RowCount, r.Score, r.Structural, r.Moves, r.Exhausted,
		scores, rows, r.CreatedAt,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// GetByID retrieves a run by its ULID.
func GetByID(db *sql.DB, id string) (*run.Run, error) {
	row := db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return r, nil
}

// FindCached returns the newest resolved run for the same input and options.
// Returns nil, nil when there is none.
func FindCached(db *sql.DB, sha, delimiter, quote string, columns int) (*run.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs
		WHERE input_sha256 = ? AND delimiter = ? AND quote = ? AND column_count = ?
		  AND outcome = 'resolved'
		ORDER BY created_at DESC, id DESC
		LIMIT 1`

	r, err := scanRun(db.QueryRow(query, sha, delimiter, quote, columns))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return r, nil
}

// List returns run summaries, newest first, and the total matching count.
func List(db *sql.DB, filter ListFilter, limit, offset int) ([]run.RunSummary, int, error) {
	where, args := filter.clause()

	var total int
	if err := db.QueryRow(`SELECT COUNT(*) FROM runs`+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	query := `SELECT ` + summaryColumns + ` FROM runs` + where + `
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`
	rows, err := db.Query(query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []run.RunSummary
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, 0, errors.NewInternal(err)
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	return out, total, nil
}

// Purge permanently deletes runs, optionally only those with labelNorm or
// created more than olderThanDays ago.
func Purge(db *sql.DB, labelNorm *string, olderThanDays *int) (int, error) {
	var conds []string
	var args []any
	if labelNorm != nil {
		conds = append(conds, "label_norm = ?")
		args = append(args, *labelNorm)
	}
	if olderThanDays != nil {
		cutoff := time.Now().Add(-time.Duration(*olderThanDays) * 24 * time.Hour).Unix()
		conds = append(conds, "created_at < ?")
		args = append(args, cutoff)
	}

	query := `DELETE FROM runs`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}

	result, err := db.Exec(query, args...)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return int(n), nil
}

// StreamForExport returns a cursor over full runs matching filter, oldest
// first. The caller must close the rows and read them with ScanRunFromRows.
func StreamForExport(ctx context.Context, db *sql.DB, filter ListFilter) (*sql.Rows, error) {
	where, args := filter.clause()
	rows, err := db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs`+where+` ORDER BY created_at ASC, id ASC`, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return rows, nil
}

// ScanRunFromRows scans the current row of a StreamForExport cursor.
func ScanRunFromRows(rows *sql.Rows) (*run.Run, error) {
	return scanRun(rows)
}

func (f ListFilter) clause() (string, []any) {
	var conds []string
	var args []any
	if f.LabelNorm != nil {
		conds = append(conds, "label_norm = ?")
		args = append(args, *f.LabelNorm)
	}
	if f.Outcome != nil {
		conds = append(conds, "outcome = ?")
		args = append(args, *f.Outcome)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanRun scans a row selected with runColumns.
func scanRun(row scanner) (*run.Run, error) {
	var (
		r          run.Run
		source     sql.NullString
		errCode    sql.NullString
		errMessage sql.NullString
		errLine    sql.NullInt64
		errColumn  sql.NullInt64
		scoresJSON sql.NullString
		rowsJSON   sql.NullString
	)

	err := row.Scan(
		&r.ID, &r.LabelRaw, &r.LabelNorm, &source, &r.InputSHA256, &r.InputBytes,
		&r.Delimiter, &r.Quote, &r.Columns, &r.Outcome,
		&errCode, &errMessage, &errLine, &errColumn,
		&r.RowCount, &r.Score, &r.Structural, &r.Moves, &r.Exhausted,
		&scoresJSON, &rowsJSON, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Source = fromNullString(source)
	r.ErrorCode = fromNullString(errCode)
	r.ErrorMessage = fromNullString(errMessage)
	r.ErrorLine = fromNullInt(errLine)
	r.ErrorColumn = fromNullInt(errColumn)

	if scoresJSON.Valid && scoresJSON.String != "" {
		if err := json.Unmarshal([]byte(scoresJSON.String), &r.ColumnScores); err != nil {
			return nil, err
		}
	}
	if rowsJSON.Valid && rowsJSON.String != "" {
		if err := json.Unmarshal([]byte(rowsJSON.String), &r.Rows); err != nil {
			return nil, err
		}
	}
	return &r, nil
}

// scanSummary scans a row selected with summaryColumns.
func scanSummary(row scanner) (*run.RunSummary, error) {
	var (
		s          run.RunSummary
		source     sql.NullString
		errCode    sql.NullString
		errMessage sql.NullString
		errLine    sql.NullInt64
		errColumn  sql.NullInt64
	)

	err := row.Scan(
		&s.ID, &s.Label, &s.LabelNorm, &source, &s.InputSHA256, &s.InputBytes,
		&s.Delimiter, &s.Quote, &s.Columns, &s.Outcome,
		&errCode, &errMessage, &errLine, &errColumn,
		&s.RowCount, &s.Score, &s.Moves, &s.Exhausted, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.Source = fromNullString(source)
	s.ErrorCode = fromNullString(errCode)
	s.ErrorMessage = fromNullString(errMessage)
	s.ErrorLine = fromNullInt(errLine)
	s.ErrorColumn = fromNullInt(errColumn)
	return &s, nil
}

// toNullJSON marshals v when present.
func toNullJSON(v any, present bool) (sql.NullString, error) {
	if !present {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// toNullString converts a *string to sql.NullString.
func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// fromNullString converts a sql.NullString to *string.
func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func toNullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func fromNullInt(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
