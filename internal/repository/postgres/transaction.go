package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/NeuronioAzul/car-dealership-sub000/internal/domain"
	"github.com/NeuronioAzul/car-dealership-sub000/internal/repository"
	"github.com/NeuronioAzul/car-dealership-sub000/pkg/database"
	apperrors "github.com/NeuronioAzul/car-dealership-sub000/pkg/errors"
)

// TransactionRepository is the Postgres implementation of
// repository.TransactionRepository. Step lists, context and dispatch counters
// are stored as JSONB; all JSON handling stays inside this package so the
// coordinator works with plain domain values.
type TransactionRepository struct {
	db database.DBTX
}

// NewTransactionRepository creates a Postgres-backed transaction repository.
func NewTransactionRepository(db database.DBTX) *TransactionRepository {
	return &TransactionRepository{db: db}
}

const transactionColumns = `
	id, saga_type, customer_id, vehicle_id, status,
	steps, completed_steps, compensation_steps, current_step,
	failure_reason, context, dispatch_attempts, compensation_stalled,
	version, created_at, updated_at, completed_at`

// Create inserts a new saga transaction row.
func (r *TransactionRepository) Create(ctx context.Context, tx *domain.SagaTransaction) error {
	steps, completed, compensation, txContext, attempts, err := marshalJSONColumns(tx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO saga_transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err = r.db.Exec(ctx, query,
		tx.ID, tx.SagaType, tx.CustomerID, tx.VehicleID, string(tx.Status),
		steps, completed, compensation, nullableString(tx.CurrentStep),
		nullableString(tx.FailureReason), txContext, attempts, tx.CompensationStalled,
		tx.Version, tx.CreatedAt, tx.UpdatedAt, tx.CompletedAt,
	)
	if err != nil {
		return apperrors.Wrap(err, "insert saga transaction")
	}
	return nil
}

// GetByID loads a saga transaction by its id.
func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*domain.SagaTransaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM saga_transactions WHERE id = $1`

	row := r.db.QueryRow(ctx, query, id)
	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("saga transaction", id)
		}
		return nil, apperrors.Wrap(err, "get saga transaction")
	}
	return tx, nil
}

// Update persists the transaction with an optimistic version check. The row
// is only written when its stored version matches the version the caller
// read; a mismatch means a concurrent transition won and the caller's state
// is stale, reported as ErrStaleWrite. On success the in-memory version is
// advanced to match the row.
func (r *TransactionRepository) Update(ctx context.Context, tx *domain.SagaTransaction) error {
	steps, completed, compensation, txContext, attempts, err := marshalJSONColumns(tx)
	if err != nil {
		return err
	}

	query := `
		UPDATE saga_transactions
		SET status = $1,
		    steps = $2,
		    completed_steps = $3,
		    compensation_steps = $4,
		    current_step = $5,
		    failure_reason = $6,
		    context = $7,
		    dispatch_attempts = $8,
		    compensation_stalled = $9,
		    updated_at = $10,
		    completed_at = $11,
		    version = version + 1
		WHERE id = $12 AND version = $13`

	tag, err := r.db.Exec(ctx, query,
		string(tx.Status), steps, completed, compensation,
		nullableString(tx.CurrentStep), nullableString(tx.FailureReason),
		txContext, attempts, tx.CompensationStalled,
		tx.UpdatedAt, tx.CompletedAt,
		tx.ID, tx.Version,
	)
	if err != nil {
		return apperrors.Wrap(err, "update saga transaction")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("saga transaction %s at version %d: %w", tx.ID, tx.Version, apperrors.ErrStaleWrite)
	}

	tx.Version++
	return nil
}

// List returns transactions matching the filter, newest first.
func (r *TransactionRepository) List(ctx context.Context, filter repository.ListFilter) ([]*domain.SagaTransaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM saga_transactions WHERE 1=1`
	args := []any{}
	idx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, string(filter.Status))
		idx++
	}
	if filter.CustomerID != "" {
		query += fmt.Sprintf(" AND customer_id = $%d", idx)
		args = append(args, filter.CustomerID)
		idx++
	}

	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(" LIMIT $%d", idx)
	args = append(args, limit)
	idx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", idx)
		args = append(args, filter.Offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(err, "list saga transactions")
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// ListStalled returns active transactions whose last update is older than the
// given cutoff, oldest first, for the recovery sweeper.
func (r *TransactionRepository) ListStalled(ctx context.Context, olderThan time.Time, statuses []domain.SagaStatus) ([]*domain.SagaTransaction, error) {
	statusStrs := make([]string, len(statuses))
	for i, s := range statuses {
		statusStrs[i] = string(s)
	}

	query := `SELECT ` + transactionColumns + `
		FROM saga_transactions
		WHERE status = ANY($1) AND updated_at < $2 AND NOT compensation_stalled
		ORDER BY updated_at ASC`

	rows, err := r.db.Query(ctx, query, statusStrs, olderThan)
	if err != nil {
		return nil, apperrors.Wrap(err, "list stalled saga transactions")
	}
	defer rows.Close()

	return scanTransactions(rows)
}

func marshalJSONColumns(tx *domain.SagaTransaction) (steps, completed, compensation, txContext, attempts []byte, err error) {
	if steps, err = json.Marshal(tx.Steps); err != nil {
		return nil, nil, nil, nil, nil, apperrors.Wrap(err, "marshal steps")
	}
	if completed, err = json.Marshal(tx.CompletedSteps); err != nil {
		return nil, nil, nil, nil, nil, apperrors.Wrap(err, "marshal completed steps")
	}
	if compensation, err = json.Marshal(tx.CompensationSteps); err != nil {
		return nil, nil, nil, nil, nil, apperrors.Wrap(err, "marshal compensation steps")
	}
	if txContext, err = json.Marshal(tx.Context); err != nil {
		return nil, nil, nil, nil, nil, apperrors.Wrap(err, "marshal context")
	}
	if attempts, err = json.Marshal(tx.DispatchAttempts); err != nil {
		return nil, nil, nil, nil, nil, apperrors.Wrap(err, "marshal dispatch attempts")
	}
	return steps, completed, compensation, txContext, attempts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*domain.SagaTransaction, error) {
	var (
		tx            domain.SagaTransaction
		status        string
		steps         []byte
		completed     []byte
		compensation  []byte
		currentStep   sql.NullString
		failureReason sql.NullString
		txContext     []byte
		attempts      []byte
	)

	err := row.Scan(
		&tx.ID, &tx.SagaType, &tx.CustomerID, &tx.VehicleID, &status,
		&steps, &completed, &compensation, &currentStep,
		&failureReason, &txContext, &attempts, &tx.CompensationStalled,
		&tx.Version, &tx.CreatedAt, &tx.UpdatedAt, &tx.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	tx.Status = domain.SagaStatus(status)
	tx.CurrentStep = currentStep.String
	tx.FailureReason = failureReason.String

	if err := json.Unmarshal(steps, &tx.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal steps: %w", err)
	}
	if err := json.Unmarshal(completed, &tx.CompletedSteps); err != nil {
		return nil, fmt.Errorf("unmarshal completed steps: %w", err)
	}
	if len(compensation) > 0 {
		if err := json.Unmarshal(compensation, &tx.CompensationSteps); err != nil {
			return nil, fmt.Errorf("unmarshal compensation steps: %w", err)
		}
	}
	if err := json.Unmarshal(txContext, &tx.Context); err != nil {
		return nil, fmt.Errorf("unmarshal context: %w", err)
	}
	if err := json.Unmarshal(attempts, &tx.DispatchAttempts); err != nil {
		return nil, fmt.Errorf("unmarshal dispatch attempts: %w", err)
	}

	return &tx, nil
}

func scanTransactions(rows pgx.Rows) ([]*domain.SagaTransaction, error) {
	txs := make([]*domain.SagaTransaction, 0)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, "scan saga transaction")
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "iterate saga transactions")
	}
	return txs, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
