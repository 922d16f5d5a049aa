package settings

import (
	"context"
	"fmt"
	"time"
)

// Transfer outcomes recorded in history.
const (
	OutcomeCompleted = "completed"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
)

// TransferRecord summarizes one finished transfer job.
type TransferRecord struct {
	JobID       string    `json:"job_id"`
	Device      string    `json:"device"`
	DeviceName  string    `json:"device_name"`
	Move        bool      `json:"move"`
	Outcome     string    `json:"outcome"`
	TotalFiles  int       `json:"total_files"`
	CopiedFiles int       `json:"copied_files"`
	CopiedKB    int64     `json:"copied_kb"`
	Destination string    `json:"destination"`
	Message     string    `json:"message"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Duration returns how long the job ran.
func (r TransferRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// RecordTransfer appends a finished job to history.
func (s *Store) RecordTransfer(ctx context.Context, rec TransferRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transfer_history (
            job_id, device, device_name, move, outcome, total_files, copied_files,
            copied_kb, destination, message, started_at, finished_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.JobID, rec.Device, rec.DeviceName, boolToInt(rec.Move), rec.Outcome,
		rec.TotalFiles, rec.CopiedFiles, rec.CopiedKB, rec.Destination, rec.Message,
		rec.StartedAt.UTC().Format(time.RFC3339Nano), rec.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert transfer history: %w", err)
	}
	return nil
}

// History returns up to limit most recent jobs, newest first. A limit <= 0
// returns every record.
func (s *Store) History(ctx context.Context, limit int) ([]TransferRecord, error) {
	query := `SELECT job_id, device, device_name, move, outcome, total_files, copied_files,
        copied_kb, destination, message, started_at, finished_at
        FROM transfer_history ORDER BY finished_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transfer history: %w", err)
	}
	defer rows.Close()

	var records []TransferRecord
	for rows.Next() {
		var (
			rec               TransferRecord
			move              int
			started, finished string
		)
		if err := rows.Scan(&rec.JobID, &rec.Device, &rec.DeviceName, &move, &rec.Outcome,
			&rec.TotalFiles, &rec.CopiedFiles, &rec.CopiedKB, &rec.Destination, &rec.Message,
			&started, &finished); err != nil {
			return nil, fmt.Errorf("scan transfer history: %w", err)
		}
		rec.Move = move != 0
		rec.StartedAt = parseTime(started)
		rec.FinishedAt = parseTime(finished)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfer history: %w", err)
	}
	return records, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func parseTime(value string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return ts
}
