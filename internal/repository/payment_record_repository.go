package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/akylbek/payment-system/payment-verification/internal/domain"
	"github.com/akylbek/payment-system/payment-verification/internal/models"
)

const (
	receiptNumberConstraint = "payment_records_receipt_number_key"
	trackingIDConstraint    = "payment_records_tracking_id_key"
)

const recordColumns = `id, receipt_number, tracking_id, payment_method, payment_type,
	amount, amount_paid, proof_references, receipt_reference,
	sender_identifier, sender_name, transaction_id, transaction_date, transaction_time, user_note,
	status, verification_status, assigned_to, assigned_at, verified_by, verified_at,
	verification_note, rejection_reason, user_id, course_id, created_at, submitted_at, updated_at`

type PaymentRecordRepository struct {
	db *sql.DB
}

func NewPaymentRecordRepository(db *sql.DB) *PaymentRecordRepository {
	return &PaymentRecordRepository{db: db}
}

func (r *PaymentRecordRepository) InitDB() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS payment_records (
			id BIGSERIAL PRIMARY KEY,
			receipt_number VARCHAR(32) NOT NULL,
			tracking_id VARCHAR(64) NOT NULL,
			payment_method VARCHAR(20) NOT NULL,
			payment_type VARCHAR(20) NOT NULL,
			amount BIGINT NOT NULL,
			amount_paid BIGINT NOT NULL CHECK (amount_paid > 0),
			proof_references TEXT[] NOT NULL CHECK (cardinality(proof_references) > 0),
			receipt_reference TEXT,
			sender_identifier VARCHAR(32),
			sender_name VARCHAR(120),
			transaction_id VARCHAR(120) NOT NULL,
			transaction_date DATE NOT NULL,
			transaction_time VARCHAR(16),
			user_note TEXT,
			status VARCHAR(20) NOT NULL,
			verification_status VARCHAR(20) NOT NULL,
			assigned_to VARCHAR(255),
			assigned_at TIMESTAMPTZ,
			verified_by VARCHAR(255),
			verified_at TIMESTAMPTZ,
			verification_note TEXT,
			rejection_reason TEXT,
			user_id VARCHAR(255) NOT NULL,
			course_id VARCHAR(255) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			submitted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT payment_records_receipt_number_key UNIQUE (receipt_number),
			CONSTRAINT payment_records_tracking_id_key UNIQUE (tracking_id),
			CONSTRAINT payment_records_assignment_chk
				CHECK ((assigned_to IS NOT NULL) = (verification_status = 'in_progress')),
			CONSTRAINT payment_records_verified_chk
				CHECK ((status = 'verified') = (verified_by IS NOT NULL AND verified_at IS NOT NULL)),
			CONSTRAINT payment_records_rejected_chk
				CHECK (status <> 'rejected' OR rejection_reason IS NOT NULL)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payment_records_queue
			ON payment_records(created_at, id) WHERE status IN ('submitted', 'under_review')`,
		`CREATE INDEX IF NOT EXISTS idx_payment_records_user ON payment_records(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_payment_records_proofs ON payment_records USING GIN (proof_references)`,
	}

	for _, query := range queries {
		if _, err := r.db.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

func (r *PaymentRecordRepository) Insert(ctx context.Context, rec *models.PaymentRecord) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO payment_records (
			receipt_number, tracking_id, payment_method, payment_type,
			amount, amount_paid, proof_references, receipt_reference,
			sender_identifier, sender_name, transaction_id, transaction_date, transaction_time, user_note,
			status, verification_status, user_id, course_id, created_at, submitted_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		RETURNING id
	`,
		rec.ReceiptNumber, rec.TrackingID, rec.PaymentMethod, rec.PaymentType,
		rec.Amount, rec.AmountPaid, pq.Array(rec.ProofReferences), rec.ReceiptReference,
		rec.SenderIdentifier, rec.SenderName, rec.TransactionID, rec.TransactionDate, rec.TransactionTime, rec.UserNote,
		rec.Status, rec.VerificationStatus, rec.UserID, rec.CourseID, rec.CreatedAt, rec.SubmittedAt, rec.UpdatedAt,
	).Scan(&rec.ID)
	if isIdentifierCollision(err) {
		return domain.ErrDuplicateIdentifier
	}
	return err
}

func (r *PaymentRecordRepository) GetByID(ctx context.Context, id int64) (*models.PaymentRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM payment_records WHERE id = $1`, id)
	return scanRecord(row)
}

func (r *PaymentRecordRepository) GetByReceiptNumber(ctx context.Context, receiptNumber string) (*models.PaymentRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM payment_records WHERE receipt_number = $1`, receiptNumber)
	return scanRecord(row)
}

// GetByEvidenceRef finds the record that references ref as a proof or as its receipt.
func (r *PaymentRecordRepository) GetByEvidenceRef(ctx context.Context, ref string) (*models.PaymentRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM payment_records
		WHERE $1 = ANY(proof_references) OR receipt_reference = $1 LIMIT 1`, ref)
	return scanRecord(row)
}

// ListPending returns non-terminal records oldest first, resuming after filter.After when set.
// A non-zero createdSince restricts the listing to records created at or after it.
func (r *PaymentRecordRepository) ListPending(ctx context.Context, filter models.QueueFilter, createdSince time.Time) ([]models.PaymentRecord, error) {
	where := []string{`status IN ('submitted', 'under_review')`}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Method != "" {
		where = append(where, "payment_method = "+arg(filter.Method))
	}
	if !createdSince.IsZero() {
		where = append(where, "created_at >= "+arg(createdSince))
	}
	if filter.After != nil {
		ts := arg(filter.After.CreatedAt)
		id := arg(filter.After.ID)
		where = append(where, fmt.Sprintf("(created_at, id) > (%s, %s)", ts, id))
	}
	query := `SELECT ` + recordColumns + ` FROM payment_records WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY created_at ASC, id ASC LIMIT ` + arg(filter.Limit)

	return r.queryRecords(ctx, query, args...)
}

func (r *PaymentRecordRepository) ListStaleUnderReview(ctx context.Context, updatedBefore time.Time, limit int) ([]models.PaymentRecord, error) {
	return r.queryRecords(ctx, `SELECT `+recordColumns+` FROM payment_records
		WHERE status = 'under_review' AND updated_at < $1
		ORDER BY updated_at ASC, id ASC LIMIT $2`, updatedBefore, limit)
}

func (r *PaymentRecordRepository) Transition(ctx context.Context, expected models.Precondition, next *models.PaymentRecord) (int64, error) {
	return transition(ctx, r.db, expected, next)
}

func (r *PaymentRecordRepository) TransitionToVerified(ctx context.Context, expected models.Precondition, next *models.PaymentRecord) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := transition(ctx, tx, expected, next)
	if err != nil || rows == 0 {
		return rows, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO enrollment_activations (payment_id, user_id, course_id, attempts, created_at)
		VALUES ($1, $2, $3, 0, $4)
		ON CONFLICT (payment_id) DO NOTHING
	`, next.ID, next.UserID, next.CourseID, next.UpdatedAt); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return rows, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func transition(ctx context.Context, db execer, expected models.Precondition, next *models.PaymentRecord) (int64, error) {
	result, err := db.ExecContext(ctx, `
		UPDATE payment_records
		SET status = $1, verification_status = $2, assigned_to = $3, assigned_at = $4,
			verified_by = $5, verified_at = $6, verification_note = $7, rejection_reason = $8,
			updated_at = $9
		WHERE id = $10 AND status = $11 AND verification_status = $12
			AND assigned_to IS NOT DISTINCT FROM $13 AND updated_at = $14
	`,
		next.Status, next.VerificationStatus, next.AssignedTo, next.AssignedAt,
		next.VerifiedBy, next.VerifiedAt, next.VerificationNote, next.RejectionReason,
		next.UpdatedAt,
		next.ID, expected.Status, expected.VerificationStatus, expected.AssignedTo, expected.UpdatedAt,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *PaymentRecordRepository) queryRecords(ctx context.Context, query string, args ...any) ([]models.PaymentRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []models.PaymentRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.PaymentRecord, error) {
	var rec models.PaymentRecord
	err := row.Scan(
		&rec.ID, &rec.ReceiptNumber, &rec.TrackingID, &rec.PaymentMethod, &rec.PaymentType,
		&rec.Amount, &rec.AmountPaid, pq.Array(&rec.ProofReferences), &rec.ReceiptReference,
		&rec.SenderIdentifier, &rec.SenderName, &rec.TransactionID, &rec.TransactionDate, &rec.TransactionTime, &rec.UserNote,
		&rec.Status, &rec.VerificationStatus, &rec.AssignedTo, &rec.AssignedAt, &rec.VerifiedBy, &rec.VerifiedAt,
		&rec.VerificationNote, &rec.RejectionReason, &rec.UserID, &rec.CourseID, &rec.CreatedAt, &rec.SubmittedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundError{Resource: "payment", Err: err}
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func isIdentifierCollision(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code.Name() != "unique_violation" {
		return false
	}
	return pqErr.Constraint == receiptNumberConstraint || pqErr.Constraint == trackingIDConstraint
}
