package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrRunNotFound is returned when no sync run has the requested correlation id.
var ErrRunNotFound = errors.New("sync run not found")

// StartSyncRun opens the ledger row for correlationID in state running.
// Starting an existing id again resets it: status back to running, finish
// time, stats and error cleared.
func (s *Store) StartSyncRun(ctx context.Context, correlationID, source string) (int64, error) {
	if !present(correlationID) {
		return 0, fmt.Errorf("start sync run: %w: correlation_id", ErrMissingKey)
	}

	var id int64
	err := s.inTx(ctx, "start sync run", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sync_runs (correlation_id, source, started_at, status)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(correlation_id) DO UPDATE SET
				source = excluded.source,
				started_at = excluded.started_at,
				status = excluded.status,
				finished_at = NULL,
				stats_json = NULL,
				error_text = NULL
		`, correlationID, source, s.timestamp(), string(RunRunning))
		if err != nil {
			return fmt.Errorf("insert: %w", err)
		}

		err = tx.QueryRowContext(ctx, `
			SELECT id FROM sync_runs WHERE correlation_id = ?
		`, correlationID).Scan(&id)
		if err != nil {
			return lookupErr("sync run", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// FinishSyncRun records the terminal state of a run. stats is stored as JSON.
func (s *Store) FinishSyncRun(ctx context.Context, correlationID string, status RunStatus, stats any, errText string) error {
	statsJSON, err := marshalJSON(stats)
	if err != nil {
		return fmt.Errorf("finish sync run: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE sync_runs
		SET finished_at = ?, status = ?, stats_json = ?, error_text = ?
		WHERE correlation_id = ?
	`, s.timestamp(), string(status), statsJSON, nullString(errText), correlationID)
	if err != nil {
		return fmt.Errorf("finish sync run: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish sync run: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish sync run %s: %w", correlationID, ErrRunNotFound)
	}
	return nil
}

const selectSyncRun = `
	SELECT id, correlation_id, source, started_at, finished_at, status, stats_json, error_text
	FROM sync_runs`

// GetSyncRun returns the run with the given correlation id.
// Returns ErrRunNotFound if there is none.
func (s *Store) GetSyncRun(ctx context.Context, correlationID string) (SyncRun, error) {
	run, err := scanSyncRun(s.db.QueryRowContext(ctx,
		selectSyncRun+` WHERE correlation_id = ?`, correlationID))
	if errors.Is(err, sql.ErrNoRows) {
		return SyncRun{}, fmt.Errorf("get sync run %s: %w", correlationID, ErrRunNotFound)
	}
	if err != nil {
		return SyncRun{}, fmt.Errorf("get sync run: %w", err)
	}
	return run, nil
}

// ListSyncRuns returns the most recent runs first. limit <= 0 means all.
func (s *Store) ListSyncRuns(ctx context.Context, limit int) ([]SyncRun, error) {
	query := selectSyncRun + ` ORDER BY started_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sync runs: %w", err)
	}
	defer rows.Close()

	runs := []SyncRun{}
	for rows.Next() {
		run, err := scanSyncRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync runs: %w", err)
	}
	return runs, nil
}

func scanSyncRun(row rowScanner) (SyncRun, error) {
	var run SyncRun
	var status string
	var statsJSON sql.NullString
	if err := row.Scan(
		&run.ID, &run.CorrelationID, &run.Source, reqTime(&run.StartedAt), optTime(&run.FinishedAt),
		&status, &statsJSON, optString(&run.Error),
	); err != nil {
		return SyncRun{}, err
	}
	run.Status = RunStatus(status)
	if err := unmarshalJSON(statsJSON, &run.Stats); err != nil {
		return SyncRun{}, err
	}
	return run, nil
}
