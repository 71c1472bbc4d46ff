package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// DBLogger persists audit records in PostgreSQL.
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a database-backed audit logger and ensures the
// audit_logs table exists.
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	logger := &DBLogger{db: db}
	if err := logger.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_logs table: %w", err)
	}
	return logger, nil
}

func (l *DBLogger) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_logs (
		id VARCHAR(64) PRIMARY KEY,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		action VARCHAR(100) NOT NULL,
		status VARCHAR(20) NOT NULL,
		actor_id VARCHAR(64),
		entity_type VARCHAR(50),
		entity_id VARCHAR(64),
		details TEXT,
		request_id VARCHAR(100),
		ip_address VARCHAR(45),
		metadata JSONB,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_action ON audit_logs(action);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_actor_id ON audit_logs(actor_id);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_entity ON audit_logs(entity_type, entity_id);
	`
	_, err := l.db.Exec(query)
	return err
}

// Record appends one audit entry.
func (l *DBLogger) Record(ctx context.Context, rec *Record) error {
	var metadataJSON []byte
	var err error
	if rec.Metadata != nil {
		metadataJSON, err = json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	query := `
		INSERT INTO audit_logs (id, timestamp, action, status, actor_id, entity_type, entity_id, details, request_id, ip_address, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = l.db.ExecContext(ctx, query,
		rec.ID, rec.Timestamp, rec.Action, rec.Status,
		rec.ActorID, rec.EntityType, rec.EntityID, rec.Details,
		rec.RequestID, rec.IPAddress, nullableJSON(metadataJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

// Search returns records matching the filter, most recent first.
func (l *DBLogger) Search(ctx context.Context, f Filter) ([]*Record, error) {
	query := `
		SELECT id, timestamp, action, status, actor_id, entity_type, entity_id, details, request_id, ip_address, metadata
		FROM audit_logs WHERE 1=1`
	args := []interface{}{}

	if f.StartTime != nil {
		args = append(args, *f.StartTime)
		query += fmt.Sprintf(" AND timestamp >= $%d", len(args))
	}
	if f.EndTime != nil {
		args = append(args, *f.EndTime)
		query += fmt.Sprintf(" AND timestamp <= $%d", len(args))
	}
	if f.ActorID != "" {
		args = append(args, f.ActorID)
		query += fmt.Sprintf(" AND actor_id = $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.EntityType != "" {
		args = append(args, f.EntityType)
		query += fmt.Sprintf(" AND entity_type = $%d", len(args))
	}
	if f.EntityID != "" {
		args = append(args, f.EntityID)
		query += fmt.Sprintf(" AND entity_id = $%d", len(args))
	}
	if len(f.Actions) > 0 {
		query += " AND action IN ("
		for i, a := range f.Actions {
			if i > 0 {
				query += ", "
			}
			args = append(args, a)
			query += fmt.Sprintf("$%d", len(args))
		}
		query += ")"
	}

	query += " ORDER BY timestamp DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit logs: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var rec Record
		var actorID, entityType, entityID, details, requestID, ipAddress sql.NullString
		var metadataJSON []byte
		err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.Action, &rec.Status,
			&actorID, &entityType, &entityID, &details, &requestID, &ipAddress, &metadataJSON)
		if err != nil {
			return nil, err
		}
		rec.ActorID = actorID.String
		rec.EntityType = entityType.String
		rec.EntityID = entityID.String
		rec.Details = details.String
		rec.RequestID = requestID.String
		rec.IPAddress = ipAddress.String
		if len(metadataJSON) > 0 {
			_ = json.Unmarshal(metadataJSON, &rec.Metadata)
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// Purge deletes records older than the cutoff and returns how many were
// removed. Called by the retention worker only; the log is append-only for
// everything else.
func (l *DBLogger) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := l.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE timestamp < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit logs: %w", err)
	}
	return result.RowsAffected()
}

// Close is a no-op: the logger does not own the database handle.
func (l *DBLogger) Close() error { return nil }

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
