package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/akylbek/payment-system/payment-verification/internal/domain"
	"github.com/akylbek/payment-system/payment-verification/internal/models"
)

type EnrollmentRepository struct {
	db *sql.DB
}

func NewEnrollmentRepository(db *sql.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

func (r *EnrollmentRepository) InitDB() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS enrollments (
			id BIGSERIAL PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			course_id VARCHAR(255) NOT NULL,
			payment_id BIGINT NOT NULL REFERENCES payment_records(id),
			status VARCHAR(20) NOT NULL,
			activated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT enrollments_user_course_key UNIQUE (user_id, course_id)
		)`,
		`CREATE TABLE IF NOT EXISTS enrollment_activations (
			payment_id BIGINT PRIMARY KEY REFERENCES payment_records(id),
			user_id VARCHAR(255) NOT NULL,
			course_id VARCHAR(255) NOT NULL,
			attempts INT NOT NULL DEFAULT 0,
			last_error TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			completed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_enrollment_activations_pending
			ON enrollment_activations(created_at) WHERE completed_at IS NULL`,
	}

	for _, query := range queries {
		if _, err := r.db.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

// Activate is idempotent: a repeated call for the same (user, course) keeps the original
// enrollment and payment reference.
func (r *EnrollmentRepository) Activate(ctx context.Context, userID, courseID string, paymentID int64) (*models.Enrollment, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var e models.Enrollment
	err = tx.QueryRowContext(ctx, `
		INSERT INTO enrollments (user_id, course_id, payment_id, status, activated_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW(), NOW())
		ON CONFLICT (user_id, course_id) DO UPDATE SET status = EXCLUDED.status, updated_at = NOW()
		RETURNING id, user_id, course_id, payment_id, status, activated_at, created_at, updated_at
	`, userID, courseID, paymentID, models.EnrollmentActive).Scan(
		&e.ID, &e.UserID, &e.CourseID, &e.PaymentID, &e.Status, &e.ActivatedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE enrollment_activations
		SET completed_at = NOW(), attempts = attempts + 1, last_error = NULL
		WHERE payment_id = $1 AND completed_at IS NULL
	`, paymentID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *EnrollmentRepository) Get(ctx context.Context, userID, courseID string) (*models.Enrollment, error) {
	var e models.Enrollment
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, course_id, payment_id, status, activated_at, created_at, updated_at
		FROM enrollments WHERE user_id = $1 AND course_id = $2
	`, userID, courseID).Scan(
		&e.ID, &e.UserID, &e.CourseID, &e.PaymentID, &e.Status, &e.ActivatedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundError{Resource: "enrollment", Err: err}
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *EnrollmentRepository) ListPendingActivations(ctx context.Context, limit int) ([]models.EnrollmentActivation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT payment_id, user_id, course_id, attempts, last_error, created_at, completed_at
		FROM enrollment_activations
		WHERE completed_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pending := []models.EnrollmentActivation{}
	for rows.Next() {
		var a models.EnrollmentActivation
		if err := rows.Scan(&a.PaymentID, &a.UserID, &a.CourseID, &a.Attempts, &a.LastError, &a.CreatedAt, &a.CompletedAt); err != nil {
			return nil, err
		}
		pending = append(pending, a)
	}
	return pending, rows.Err()
}

func (r *EnrollmentRepository) RecordActivationFailure(ctx context.Context, paymentID int64, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE enrollment_activations SET attempts = attempts + 1, last_error = $1
		WHERE payment_id = $2 AND completed_at IS NULL
	`, reason, paymentID)
	return err
}

func (r *EnrollmentRepository) CountPendingActivations(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM enrollment_activations WHERE completed_at IS NULL`).Scan(&n)
	return n, err
}
