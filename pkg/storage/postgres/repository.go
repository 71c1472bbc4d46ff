package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opsdesk/guichet/pkg/request"
	"github.com/opsdesk/guichet/pkg/storage"
)

// Repository persists request aggregates in a single requests table. The
// WorkflowStep and History ledgers travel with the aggregate as JSONB; the
// version column guards against concurrent writers.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a postgres-backed repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates the requests table if it does not exist.
func (r *Repository) Migrate(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS requests (
		id VARCHAR(64) PRIMARY KEY,
		reference VARCHAR(64) NOT NULL UNIQUE,
		subject TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		category VARCHAR(100) NOT NULL DEFAULT '',
		priority VARCHAR(20) NOT NULL DEFAULT 'normale',
		status VARCHAR(30) NOT NULL,
		requester_id VARCHAR(64) NOT NULL,
		verifier_id VARCHAR(64),
		dec_validator_id VARCHAR(64),
		bao_validator_id VARCHAR(64),
		technician_id VARCHAR(64),
		assigned_by_id VARCHAR(64),
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
		submitted_at TIMESTAMP WITH TIME ZONE,
		verified_at TIMESTAMP WITH TIME ZONE,
		dec_validated_at TIMESTAMP WITH TIME ZONE,
		bao_validated_at TIMESTAMP WITH TIME ZONE,
		assigned_at TIMESTAMP WITH TIME ZONE,
		resolved_at TIMESTAMP WITH TIME ZONE,
		steps JSONB NOT NULL DEFAULT '[]',
		history JSONB NOT NULL DEFAULT '[]',
		version BIGINT NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_requests_status ON requests(status);
	CREATE INDEX IF NOT EXISTS idx_requests_requester ON requests(requester_id);
	CREATE INDEX IF NOT EXISTS idx_requests_created_at ON requests(created_at DESC);
	`
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to migrate requests table: %w", err)
	}
	return nil
}

const requestColumns = `
	id, reference, subject, description, category, priority, status,
	requester_id, verifier_id, dec_validator_id, bao_validator_id, technician_id, assigned_by_id,
	created_at, updated_at, submitted_at, verified_at, dec_validated_at, bao_validated_at, assigned_at, resolved_at,
	steps, history, version`

// CreateRequest inserts a new aggregate at version 1.
func (r *Repository) CreateRequest(ctx context.Context, req *request.Request) error {
	stepsJSON, historyJSON, err := marshalLedgers(req)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO requests (` + requestColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
	`
	req.Version = 1
	_, err = r.db.ExecContext(ctx, query,
		req.ID, req.Reference, req.Subject, req.Description, req.Category, req.Priority, req.Status,
		req.RequesterID, req.VerifierID, req.DECValidatorID, req.BAOValidatorID, req.TechnicianID, req.AssignedByID,
		req.CreatedAt, req.UpdatedAt, req.SubmittedAt, req.VerifiedAt, req.DECValidatedAt, req.BAOValidatedAt, req.AssignedAt, req.ResolvedAt,
		stepsJSON, historyJSON, req.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return nil
}

// LoadRequest loads an aggregate by id.
func (r *Repository) LoadRequest(ctx context.Context, id string) (*request.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id = $1`
	req, err := scanRequest(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("request %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load request: %w", err)
	}
	return req, nil
}

// SaveRequest writes the aggregate back iff the stored version still matches
// the caller's. Zero rows affected means a concurrent writer won the race.
func (r *Repository) SaveRequest(ctx context.Context, req *request.Request) error {
	stepsJSON, historyJSON, err := marshalLedgers(req)
	if err != nil {
		return err
	}

	req.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE requests SET
			subject = $2, description = $3, category = $4, priority = $5, status = $6,
			verifier_id = $7, dec_validator_id = $8, bao_validator_id = $9, technician_id = $10, assigned_by_id = $11,
			updated_at = $12, submitted_at = $13, verified_at = $14, dec_validated_at = $15,
			bao_validated_at = $16, assigned_at = $17, resolved_at = $18,
			steps = $19, history = $20, version = version + 1
		WHERE id = $1 AND version = $21
	`
	result, err := r.db.ExecContext(ctx, query,
		req.ID, req.Subject, req.Description, req.Category, req.Priority, req.Status,
		req.VerifierID, req.DECValidatorID, req.BAOValidatorID, req.TechnicianID, req.AssignedByID,
		req.UpdatedAt, req.SubmittedAt, req.VerifiedAt, req.DECValidatedAt,
		req.BAOValidatedAt, req.AssignedAt, req.ResolvedAt,
		stepsJSON, historyJSON, req.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to save request: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Either the row is gone or another writer bumped the version.
		if _, loadErr := r.LoadRequest(ctx, req.ID); loadErr != nil {
			return loadErr
		}
		return fmt.Errorf("request %s: %w", req.ID, storage.ErrConflict)
	}
	req.Version++
	return nil
}

// ListRequests returns matching aggregates ordered by creation time.
func (r *Repository) ListRequests(ctx context.Context, f storage.Filter) ([]*request.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE 1=1`
	args := []interface{}{}

	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.RequesterID != "" {
		args = append(args, f.RequesterID)
		query += fmt.Sprintf(" AND requester_id = $%d", len(args))
	}
	if f.Category != "" {
		args = append(args, f.Category)
		query += fmt.Sprintf(" AND category = $%d", len(args))
	}
	query += " ORDER BY created_at"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	defer rows.Close()

	var out []*request.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// CountByStatus returns the number of stored requests per status. Used to
// feed the per-status gauge.
func (r *Repository) CountByStatus(ctx context.Context) (map[request.Status]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM requests GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count requests: %w", err)
	}
	defer rows.Close()

	counts := make(map[request.Status]int64)
	for rows.Next() {
		var status request.Status
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func marshalLedgers(req *request.Request) (steps, history []byte, err error) {
	if req.Steps == nil {
		steps = []byte("[]")
	} else if steps, err = json.Marshal(req.Steps); err != nil {
		return nil, nil, fmt.Errorf("failed to marshal steps: %w", err)
	}
	if req.History == nil {
		history = []byte("[]")
	} else if history, err = json.Marshal(req.History); err != nil {
		return nil, nil, fmt.Errorf("failed to marshal history: %w", err)
	}
	return steps, history, nil
}

// scanRequest scans an aggregate from a database row.
func scanRequest(scanner interface {
	Scan(dest ...interface{}) error
}) (*request.Request, error) {
	var req request.Request
	var stepsJSON, historyJSON []byte

	err := scanner.Scan(
		&req.ID, &req.Reference, &req.Subject, &req.Description, &req.Category, &req.Priority, &req.Status,
		&req.RequesterID, &req.VerifierID, &req.DECValidatorID, &req.BAOValidatorID, &req.TechnicianID, &req.AssignedByID,
		&req.CreatedAt, &req.UpdatedAt, &req.SubmittedAt, &req.VerifiedAt, &req.DECValidatedAt, &req.BAOValidatedAt, &req.AssignedAt, &req.ResolvedAt,
		&stepsJSON, &historyJSON, &req.Version,
	)
	if err != nil {
		return nil, err
	}

	if len(stepsJSON) > 0 {
		if err := json.Unmarshal(stepsJSON, &req.Steps); err != nil {
			return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
		}
	}
	if len(historyJSON) > 0 {
		if err := json.Unmarshal(historyJSON, &req.History); err != nil {
			return nil, fmt.Errorf("failed to unmarshal history: %w", err)
		}
	}
	return &req, nil
}
