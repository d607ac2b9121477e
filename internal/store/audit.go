package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
)

// auditTx appends an audit row for an order or item merge when the store
// carries a correlation id. before is nil for inserts.
func (s *Store) auditTx(ctx context.Context, tx *sql.Tx, entityType string, entityID int64, action string, before, after any) error {
	if s.correlationID == "" {
		return nil
	}
	return s.appendAudit(ctx, tx, AuditEntry{
		CorrelationID: s.correlationID,
		EntityType:    entityType,
		EntityID:      strconv.FormatInt(entityID, 10),
		Action:        action,
	}, before, after)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) appendAudit(ctx context.Context, db execer, entry AuditEntry, before, after any) error {
	beforeJSON, err := marshalJSON(before)
	if err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	afterJSON, err := marshalJSON(after)
	if err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO audit_log (correlation_id, entity_type, entity_id, action, before_json, after_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		entry.CorrelationID,
		entry.EntityType,
		entry.EntityID,
		entry.Action,
		beforeJSON,
		afterJSON,
		s.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// AppendAudit writes one audit row outside of any upsert. before and after
// are encoded as JSON; nil stores NULL.
func (s *Store) AppendAudit(ctx context.Context, entry AuditEntry, before, after any) error {
	if entry.CorrelationID == "" {
		entry.CorrelationID = s.correlationID
	}
	if entry.CorrelationID == "" || entry.EntityType == "" || entry.Action == "" {
		return fmt.Errorf("append audit: %w: correlation_id, entity_type, action", ErrMissingKey)
	}
	return s.appendAudit(ctx, s.db, entry, before, after)
}

// ListAudit returns the audit rows of one run in insertion order.
func (s *Store) ListAudit(ctx context.Context, correlationID string) ([]AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, correlation_id, entity_type, entity_id, action, before_json, after_json, created_at
		FROM audit_log
		WHERE correlation_id = ?
		ORDER BY id ASC
	`, correlationID)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	entries := []AuditEntry{}
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(
			&e.ID, &e.CorrelationID, &e.EntityType, &e.EntityID, &e.Action,
			optString(&e.Before), optString(&e.After), reqTime(&e.CreatedAt),
		); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit: %w", err)
	}
	return entries, nil
}
