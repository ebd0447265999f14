package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"lock-credential-bridge/internal/credentials"
	"lock-credential-bridge/internal/types"
)

// Record stores a finished bulk report with one outcome row per credential result
func (db *DB) Record(ctx context.Context, report *types.BulkOperationReport) error {
	if report == nil || report.ID == "" {
		return fmt.Errorf("report with an id is required")
	}

	counts, err := json.Marshal(report.Counts)
	if err != nil {
		return fmt.Errorf("failed to encode counts: %w", err)
	}
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, db.rebind(`
		INSERT INTO bulk_operations (id, operation, outcome, started_at, finished_at, device_count,
		                             result_count, auth_error_detected, nothing_found, counts, report)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		report.ID,
		string(report.Operation),
		report.Outcome(),
		report.StartedAt.UTC(),
		report.FinishedAt.UTC(),
		len(report.Devices),
		report.Counts.Total(),
		report.AuthErrorDetected,
		report.NothingFound,
		string(counts),
		string(body),
	)
	if err != nil {
		return fmt.Errorf("failed to insert operation: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, db.rebind(`
		INSERT INTO credential_outcomes (operation_id, device_id, gateway_id, uid, uid_key, status, slot, code, message, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`))
	if err != nil {
		return fmt.Errorf("failed to prepare outcome insert: %w", err)
	}
	defer stmt.Close()

	recordedAt := report.FinishedAt.UTC()
	for _, device := range report.Devices {
		for _, r := range device.Results {
			var slot sql.NullInt64
			if r.Slot != nil {
				slot = sql.NullInt64{Int64: int64(*r.Slot), Valid: true}
			}
			if _, err := stmt.ExecContext(ctx,
				report.ID,
				device.CanonicalID,
				device.GatewayID,
				r.UID,
				credentials.Key(r.UID),
				string(r.Status),
				slot,
				r.Code,
				r.Message,
				recordedAt,
			); err != nil {
				return fmt.Errorf("failed to insert outcome for %s on %s: %w", r.UID, device.CanonicalID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit operation: %w", err)
	}
	return nil
}

// ListOperations returns journaled operations, newest first
func (db *DB) ListOperations(ctx context.Context, filter OperationFilter) ([]*OperationRecord, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Operation != "" {
		where = append(where, "operation = ?")
		args = append(args, string(filter.Operation))
	}
	if !filter.Since.IsZero() {
		where = append(where, "started_at >= ?")
		args = append(args, filter.Since.UTC())
	}

	query := `
		SELECT id, operation, outcome, started_at, finished_at, device_count, result_count,
		       auth_error_detected, nothing_found, counts
		FROM bulk_operations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, id LIMIT ? OFFSET ?"
	args = append(args, filter.limit(), filter.Offset)

	rows, err := db.conn.QueryContext(ctx, db.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query operations: %w", err)
	}
	defer rows.Close()

	records := []*OperationRecord{}
	for rows.Next() {
		record := &OperationRecord{}
		var operation, counts string
		if err := rows.Scan(
			&record.ID,
			&operation,
			&record.Outcome,
			&record.StartedAt,
			&record.FinishedAt,
			&record.DeviceCount,
			&record.ResultCount,
			&record.AuthErrorDetected,
			&record.NothingFound,
			&counts,
		); err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		record.Operation = types.OperationKind(operation)
		if err := json.Unmarshal([]byte(counts), &record.Counts); err != nil {
			return nil, fmt.Errorf("failed to decode counts of %s: %w", record.ID, err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operations: %w", err)
	}
	return records, nil
}

// GetOperation returns the full report of one journaled operation
func (db *DB) GetOperation(ctx context.Context, id string) (*types.BulkOperationReport, error) {
	var body string
	err := db.conn.QueryRowContext(ctx, db.rebind(`SELECT report FROM bulk_operations WHERE id = ?`), id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query operation %s: %w", id, err)
	}

	var report types.BulkOperationReport
	if err := json.Unmarshal([]byte(body), &report); err != nil {
		return nil, fmt.Errorf("failed to decode operation %s: %w", id, err)
	}
	return &report, nil
}

// CredentialHistory returns every journaled outcome for uid, newest first.
// Equivalent spellings of the uid match.
func (db *DB) CredentialHistory(ctx context.Context, uid string, limit int) ([]*CredentialOutcome, error) {
	key := credentials.Key(uid)
	if key == "" {
		return nil, fmt.Errorf("uid is required")
	}
	limit = OperationFilter{Limit: limit}.limit()

	rows, err := db.conn.QueryContext(ctx, db.rebind(`
		SELECT o.id, o.operation_id, b.operation, o.device_id, o.gateway_id, o.uid, o.status,
		       o.slot, o.code, o.message, o.recorded_at
		FROM credential_outcomes o
		JOIN bulk_operations b ON b.id = o.operation_id
		WHERE o.uid_key = ?
		ORDER BY o.recorded_at DESC, o.id DESC
		LIMIT ?
	`), key, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query credential history: %w", err)
	}
	defer rows.Close()

	outcomes := []*CredentialOutcome{}
	for rows.Next() {
		o := &CredentialOutcome{}
		var (
			operation, status string
			slot              sql.NullInt64
			code, message     sql.NullString
		)
		if err := rows.Scan(&o.ID, &o.OperationID, &operation, &o.DeviceID, &o.GatewayID, &o.UID,
			&status, &slot, &code, &message, &o.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		o.Operation = types.OperationKind(operation)
		o.Status = types.OperationStatus(status)
		if slot.Valid {
			s := int(slot.Int64)
			o.Slot = &s
		}
		o.Code = code.String
		o.Message = message.String
		outcomes = append(outcomes, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outcomes: %w", err)
	}
	return outcomes, nil
}

// Prune deletes operations that started before cutoff and returns how many were removed
func (db *DB) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, db.rebind(`
		DELETE FROM credential_outcomes
		WHERE operation_id IN (SELECT id FROM bulk_operations WHERE started_at < ?)
	`), cutoff.UTC()); err != nil {
		return 0, fmt.Errorf("failed to prune outcomes: %w", err)
	}

	result, err := tx.ExecContext(ctx, db.rebind(`DELETE FROM bulk_operations WHERE started_at < ?`), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune operations: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit prune: %w", err)
	}
	return removed, nil
}
