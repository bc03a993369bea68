package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattwade/papermill/internal/convert"
)

const defaultRecentLimit = 50

// Entry is one completed conversion attempt.
type Entry struct {
	ID           string              `json:"id"`
	InputFormat  string              `json:"input_format"`
	OutputFormat string              `json:"output_format"`
	OutputPath   string              `json:"output_path,omitempty"`
	Method       string              `json:"method,omitempty"`
	Success      bool                `json:"success"`
	FailureKind  convert.FailureKind `json:"failure_kind,omitempty"`
	Error        string              `json:"error,omitempty"`
	ElapsedMs    int64               `json:"elapsed_ms"`
	CreatedAt    time.Time           `json:"created_at"`
}

// Store persists conversion outcomes to the conversion_log table.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record appends one conversion outcome. Implements the dispatcher's
// Recorder interface.
func (s *Store) Record(ctx context.Context, operationID, inputFormat, outputFormat string, res convert.Result) error {
	if operationID == "" {
		return fmt.Errorf("operationID is empty")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	success := 0
	if res.Success {
		success = 1
	}

	var failureKind, errMsg any
	if res.Kind != "" {
		failureKind = string(res.Kind)
	}
	if res.Error != "" {
		errMsg = res.Error
	}
	var outputPath, method any
	if res.OutputPath != "" {
		outputPath = res.OutputPath
	}
	if res.Method != "" {
		method = res.Method
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO conversion_log(
  id, input_format, output_format, output_path, method, success, failure_kind, error, elapsed_ms, created_at
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, operationID, inputFormat, outputFormat, outputPath, method, success, failureKind, errMsg, res.ElapsedMs, now)
	if err != nil {
		return fmt.Errorf("record conversion: %w", err)
	}
	return nil
}

// Get returns the entry for one operation. Returns (nil, nil) when no entry
// with that id exists.
func (s *Store) Get(ctx context.Context, operationID string) (*Entry, error) {
	if operationID == "" {
		return nil, fmt.Errorf("operationID is empty")
	}
	row := s.db.QueryRowContext(ctx, `
SELECT id, input_format, output_format, output_path, method, success, failure_kind, error, elapsed_ms, created_at
FROM conversion_log
WHERE id = ?;
`, operationID)

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversion: %w", err)
	}
	return e, nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, input_format, output_format, output_path, method, success, failure_kind, error, elapsed_ms, created_at
FROM conversion_log
ORDER BY created_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversions: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("list conversions: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list conversions: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		e           Entry
		outputPath  sql.NullString
		method      sql.NullString
		success     int
		failureKind sql.NullString
		errMsg      sql.NullString
		createdAtS  string
	)
	err := row.Scan(
		&e.ID, &e.InputFormat, &e.OutputFormat, &outputPath, &method,
		&success, &failureKind, &errMsg, &e.ElapsedMs, &createdAtS,
	)
	if err != nil {
		return nil, err
	}

	e.Success = success != 0
	if outputPath.Valid {
		e.OutputPath = outputPath.String
	}
	if method.Valid {
		e.Method = method.String
	}
	if failureKind.Valid {
		e.FailureKind = convert.FailureKind(failureKind.String)
	}
	if errMsg.Valid {
		e.Error = errMsg.String
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAtS); err == nil {
		e.CreatedAt = t
	}
	return &e, nil
}
