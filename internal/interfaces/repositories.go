package interfaces

import (
	"context"
	"time"

	"github.com/akylbek/payment-system/payment-verification/internal/models"
)

// PaymentRecordRepository defines the contract for payment record data access.
// Transition methods are conditional: they return the number of rows updated, which is
// zero when the stored record no longer matches the expected precondition.
type PaymentRecordRepository interface {
	Insert(ctx context.Context, record *models.PaymentRecord) error
	GetByID(ctx context.Context, id int64) (*models.PaymentRecord, error)
	GetByReceiptNumber(ctx context.Context, receiptNumber string) (*models.PaymentRecord, error)
	GetByEvidenceRef(ctx context.Context, ref string) (*models.PaymentRecord, error)
	ListPending(ctx context.Context, filter models.QueueFilter, dayStart time.Time) ([]models.PaymentRecord, error)
	ListStaleUnderReview(ctx context.Context, updatedBefore time.Time, limit int) ([]models.PaymentRecord, error)
	Transition(ctx context.Context, expected models.Precondition, next *models.PaymentRecord) (int64, error)
	// TransitionToVerified applies next and writes its enrollment activation marker in one transaction.
	TransitionToVerified(ctx context.Context, expected models.Precondition, next *models.PaymentRecord) (int64, error)
}

// EnrollmentRepository owns enrollments and their activation markers.
type EnrollmentRepository interface {
	// Activate upserts the (user, course) enrollment and completes the payment's marker atomically.
	Activate(ctx context.Context, userID, courseID string, paymentID int64) (*models.Enrollment, error)
	Get(ctx context.Context, userID, courseID string) (*models.Enrollment, error)
	ListPendingActivations(ctx context.Context, limit int) ([]models.EnrollmentActivation, error)
	RecordActivationFailure(ctx context.Context, paymentID int64, reason string) error
	CountPendingActivations(ctx context.Context) (int64, error)
}
