package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-verification/internal/domain"
	"github.com/akylbek/payment-system/payment-verification/internal/interfaces"
	"github.com/akylbek/payment-system/payment-verification/internal/models"
	"github.com/akylbek/payment-system/payment-verification/internal/telemetry"
)

const defaultReconcileBatch = 100

// EnrollmentActivator turns verified payments into enrollments. Activation is an upsert on
// (user, course), so retries and reconciliation never create a second enrollment.
type EnrollmentActivator struct {
	repo      interfaces.EnrollmentRepository
	batchSize int
}

func NewEnrollmentActivator(repo interfaces.EnrollmentRepository, batchSize int) *EnrollmentActivator {
	if batchSize <= 0 {
		batchSize = defaultReconcileBatch
	}
	return &EnrollmentActivator{repo: repo, batchSize: batchSize}
}

func (a *EnrollmentActivator) Activate(ctx context.Context, userID, courseID string, paymentID int64) (*models.Enrollment, error) {
	ctx, span := telemetry.StartSpan(ctx, "EnrollmentActivator.Activate", paymentID)
	defer span.End()

	e, err := a.repo.Activate(ctx, userID, courseID, paymentID)
	if err != nil {
		telemetry.EnrollmentActivationsTotal.WithLabelValues("failed").Inc()
		span.RecordError(err)

		// The marker must learn about the failure even if ctx ran out.
		recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if rerr := a.repo.RecordActivationFailure(recordCtx, paymentID, err.Error()); rerr != nil {
			telemetry.Logger.Error("Failed to record enrollment activation failure",
				zap.Int64("payment_id", paymentID),
				zap.Error(rerr),
			)
		}
		return nil, domain.PersistenceError{Op: "activate enrollment", Err: err}
	}

	telemetry.EnrollmentActivationsTotal.WithLabelValues("activated").Inc()
	telemetry.Logger.Info("Enrollment activated",
		zap.Int64("payment_id", paymentID),
		zap.String("user_id", userID),
		zap.String("course_id", courseID),
		zap.Int64("enrollment_id", e.ID),
	)
	return e, nil
}

type ReconcileResult struct {
	Activated int
	Failed    int
}

// Reconcile retries one batch of verified payments whose enrollment is still missing.
func (a *EnrollmentActivator) Reconcile(ctx context.Context) (ReconcileResult, error) {
	var result ReconcileResult

	pending, err := a.repo.ListPendingActivations(ctx, a.batchSize)
	if err != nil {
		return result, domain.PersistenceError{Op: "list pending activations", Err: err}
	}

	for _, p := range pending {
		if ctx.Err() != nil {
			break
		}
		if _, err := a.Activate(ctx, p.UserID, p.CourseID, p.PaymentID); err != nil {
			result.Failed++
			continue
		}
		result.Activated++
	}

	if backlog, err := a.repo.CountPendingActivations(ctx); err == nil {
		telemetry.ActivationBacklog.Set(float64(backlog))
	}

	if len(pending) > 0 {
		telemetry.Logger.Info("Enrollment reconciliation pass finished",
			zap.Int("activated", result.Activated),
			zap.Int("failed", result.Failed),
		)
	}
	return result, ctx.Err()
}
