package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/omenlabs/omend/internal/domain"
)

// OperationStore implements domain.OperationStore using PostgreSQL.
type OperationStore struct {
	pool *pgxpool.Pool
}

// NewOperationStore creates a new OperationStore backed by the given pool.
func NewOperationStore(pool *pgxpool.Pool) *OperationStore {
	return &OperationStore{pool: pool}
}

const operationSelectCols = `id, intent, status, operation_hash,
	receipt_success, receipt_block, receipt_revert_reason,
	backend_attempts, op_error, acknowledged, created_at, updated_at`

func scanOperation(row pgx.Row) (domain.Record, error) {
	var (
		rec         domain.Record
		intentJSON  []byte
		hash        *string
		rcptSuccess *bool
		rcptBlock   *int64
		rcptReason  *string
		opErrJSON   []byte
	)
	err := row.Scan(
		&rec.ID, &intentJSON, &rec.Status, &hash,
		&rcptSuccess, &rcptBlock, &rcptReason,
		&rec.BackendAttempts, &opErrJSON, &rec.Acknowledged,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return domain.Record{}, err
	}

	if err := json.Unmarshal(intentJSON, &rec.Intent); err != nil {
		return domain.Record{}, fmt.Errorf("decode intent: %w", err)
	}
	if hash != nil {
		rec.OperationHash = *hash
	}
	if rcptSuccess != nil {
		rcpt := domain.Receipt{Success: *rcptSuccess}
		if rcptBlock != nil {
			rcpt.BlockNumber = uint64(*rcptBlock)
		}
		if rcptReason != nil {
			rcpt.RevertReason = *rcptReason
		}
		rec.Receipt = &rcpt
	}
	if len(opErrJSON) > 0 {
		var opErr domain.OpError
		if err := json.Unmarshal(opErrJSON, &opErr); err != nil {
			return domain.Record{}, fmt.Errorf("decode op error: %w", err)
		}
		rec.Err = &opErr
	}
	return rec, nil
}

func scanOperationRows(rows pgx.Rows) ([]domain.Record, error) {
	var recs []domain.Record
	for rows.Next() {
		rec, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func marshalOpError(opErr *domain.OpError) ([]byte, error) {
	if opErr == nil {
		return nil, nil
	}
	return json.Marshal(opErr)
}

// Create inserts a fresh record.
func (s *OperationStore) Create(ctx context.Context, rec domain.Record) error {
	intentJSON, err := json.Marshal(rec.Intent)
	if err != nil {
		return fmt.Errorf("postgres: encode intent: %w", err)
	}

	const query = `
		INSERT INTO operations (
			id, kind, requester, target, intent, status,
			backend_attempts, acknowledged, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = s.pool.Exec(ctx, query,
		rec.ID, string(rec.Intent.Kind),
		rec.Intent.Requester.Hex(), rec.Intent.Target.Hex(),
		intentJSON, string(rec.Status),
		rec.BackendAttempts, rec.Acknowledged,
		rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create operation %s: %w", rec.ID, err)
	}
	return nil
}

// GetByID returns a record by its correlation id.
func (s *OperationStore) GetByID(ctx context.Context, id string) (domain.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+operationSelectCols+` FROM operations WHERE id = $1`, id)

	rec, err := scanOperation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Record{}, domain.ErrNotFound
		}
		return domain.Record{}, fmt.Errorf("postgres: get operation %s: %w", id, err)
	}
	return rec, nil
}

// SetHash records the ledger hash for a record. The hash column starts NULL
// and the guarded UPDATE only fires on that state, so the hash is written at
// most once no matter how many processes race.
func (s *OperationStore) SetHash(ctx context.Context, id, hash string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE operations
		SET operation_hash = $2, updated_at = NOW()
		WHERE id = $1 AND operation_hash IS NULL`,
		id, hash,
	)
	if err != nil {
		return fmt.Errorf("postgres: set hash for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM operations WHERE id = $1)", id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: set hash for %s: %w", id, err)
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrHashAlreadySet
	}
	return nil
}

// SetReceipt attaches the confirmation receipt to a record.
func (s *OperationStore) SetReceipt(ctx context.Context, id string, rcpt domain.Receipt) error {
	var reason *string
	if rcpt.RevertReason != "" {
		reason = &rcpt.RevertReason
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE operations
		SET receipt_success = $2, receipt_block = $3, receipt_revert_reason = $4,
		    updated_at = NOW()
		WHERE id = $1`,
		id, rcpt.Success, int64(rcpt.BlockNumber), reason,
	)
	if err != nil {
		return fmt.Errorf("postgres: set receipt for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateStatus moves a record to the given status, replacing the classified
// error when one is provided.
func (s *OperationStore) UpdateStatus(ctx context.Context, id string, status domain.OperationStatus, opErr *domain.OpError) error {
	errJSON, err := marshalOpError(opErr)
	if err != nil {
		return fmt.Errorf("postgres: encode op error: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE operations
		SET status = $2, op_error = COALESCE($3, op_error), updated_at = NOW()
		WHERE id = $1`,
		id, string(status), errJSON,
	)
	if err != nil {
		return fmt.Errorf("postgres: update status for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// IncBackendAttempts bumps and returns the backend-sync retry counter.
func (s *OperationStore) IncBackendAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	err := s.pool.QueryRow(ctx, `
		UPDATE operations
		SET backend_attempts = backend_attempts + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING backend_attempts`,
		id,
	).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("postgres: bump attempts for %s: %w", id, err)
	}
	return attempts, nil
}

// Acknowledge marks a record as acknowledged by the interface.
func (s *OperationStore) Acknowledge(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE operations SET acknowledged = TRUE, updated_at = NOW()
		WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("postgres: acknowledge %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListByStatus returns records in the given status, oldest first. A limit of
// zero means no limit.
func (s *OperationStore) ListByStatus(ctx context.Context, status domain.OperationStatus, limit int) ([]domain.Record, error) {
	query := `SELECT ` + operationSelectCols + `
		FROM operations WHERE status = $1 ORDER BY created_at ASC`
	args := []any{string(status)}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list by status %s: %w", status, err)
	}
	defer rows.Close()

	recs, err := scanOperationRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan by status %s: %w", status, err)
	}
	return recs, nil
}

// ListAcknowledgedBefore returns acknowledged terminal records last touched
// before the cutoff. These are the archiver's candidates.
func (s *OperationStore) ListAcknowledgedBefore(ctx context.Context, before time.Time) ([]domain.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+operationSelectCols+`
		FROM operations
		WHERE acknowledged = TRUE AND updated_at < $1
		ORDER BY updated_at ASC`,
		before,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list acknowledged: %w", err)
	}
	defer rows.Close()

	recs, err := scanOperationRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan acknowledged: %w", err)
	}
	return recs, nil
}

// DeleteByIDs removes records after they have been archived.
func (s *OperationStore) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx,
		"DELETE FROM operations WHERE id = ANY($1)", ids,
	); err != nil {
		return fmt.Errorf("postgres: delete operations: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.OperationStore = (*OperationStore)(nil)
