package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-verification/internal/domain"
	"github.com/akylbek/payment-system/payment-verification/internal/interfaces"
	"github.com/akylbek/payment-system/payment-verification/internal/models"
	"github.com/akylbek/payment-system/payment-verification/internal/telemetry"
)

const defaultActivationAttemptTimeout = 3 * time.Second

// Activator grants course access for a verified payment.
type Activator interface {
	Activate(ctx context.Context, userID, courseID string, paymentID int64) (*models.Enrollment, error)
}

// VerificationService applies reviewer actions to payment records. Each action is a single
// conditional write against the state that was read; a lost race is reported, never retried.
type VerificationService struct {
	repo           interfaces.PaymentRecordRepository
	activator      Activator
	notifier       interfaces.Notifier
	attemptTimeout time.Duration
	now            func() time.Time
}

func NewVerificationService(
	repo interfaces.PaymentRecordRepository,
	activator Activator,
	notifier interfaces.Notifier,
	attemptTimeout time.Duration,
) *VerificationService {
	if attemptTimeout <= 0 {
		attemptTimeout = defaultActivationAttemptTimeout
	}
	return &VerificationService{
		repo:           repo,
		activator:      activator,
		notifier:       notifier,
		attemptTimeout: attemptTimeout,
		now:            time.Now,
	}
}

func (s *VerificationService) Apply(ctx context.Context, action models.ReviewAction) (*models.PaymentRecord, error) {
	ctx, span := telemetry.StartSpan(ctx, "VerificationService.Apply", action.PaymentID)
	defer span.End()

	rec, err := s.apply(ctx, action)
	result := "ok"
	switch {
	case err == nil:
	case domain.IsConflict(err):
		result = "conflict"
	case domain.IsValidation(err), domain.IsForbidden(err), domain.IsNotFound(err):
		result = "invalid"
	default:
		result = "error"
		span.RecordError(err)
	}
	telemetry.TransitionsTotal.WithLabelValues(string(action.Action), result).Inc()
	return rec, err
}

func (s *VerificationService) apply(ctx context.Context, action models.ReviewAction) (*models.PaymentRecord, error) {
	action.Note = strings.TrimSpace(action.Note)
	action.RejectionReason = strings.TrimSpace(action.RejectionReason)
	action.AssignTo = strings.TrimSpace(action.AssignTo)

	if err := checkAction(action); err != nil {
		return nil, err
	}

	current, err := s.repo.GetByID(ctx, action.PaymentID)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, err
		}
		return nil, domain.PersistenceError{Op: "load payment", Err: err}
	}

	if !authorized(action, current) {
		return nil, domain.ForbiddenError{Msg: "not allowed to " + string(action.Action) + " this payment"}
	}
	if !action.StaleBefore.IsZero() && !current.UpdatedAt.Before(action.StaleBefore) {
		return nil, domain.ConflictError{Code: domain.ConflictStaleState, Msg: "payment was updated since it was listed"}
	}

	// PostgreSQL keeps microseconds; the stamp must round-trip so the next precondition matches.
	now := s.now().Truncate(time.Microsecond)
	if now.Equal(current.UpdatedAt) {
		now = now.Add(time.Microsecond)
	}
	next, err := plan(current, action, now)
	if err != nil {
		return nil, err
	}

	// Past this point the store may accept the write; a cancelled request must not get there.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rows int64
	if action.Action == models.ActionVerify {
		rows, err = s.repo.TransitionToVerified(ctx, current.Precondition(), next)
	} else {
		rows, err = s.repo.Transition(ctx, current.Precondition(), next)
	}
	if err != nil {
		return nil, domain.PersistenceError{Op: "apply " + string(action.Action), Err: err}
	}
	if rows == 0 {
		return nil, s.lostRace(context.WithoutCancel(ctx), action)
	}

	telemetry.Logger.Info("Payment transition applied",
		zap.Int64("payment_id", next.ID),
		zap.String("action", string(action.Action)),
		zap.String("actor", action.Actor.UserID),
		zap.String("from_status", string(current.Status)),
		zap.String("to_status", string(next.Status)),
	)

	// The write is final; side effects must not be cut short by the caller going away.
	sideCtx := context.WithoutCancel(ctx)
	if action.Action == models.ActionVerify {
		s.attemptActivation(sideCtx, next)
	}

	note := action.Note
	if action.Action == models.ActionReject {
		note = action.RejectionReason
	}
	s.notifier.Dispatch(models.NewNotification(models.NotificationFor(action.Action), next, action.Actor.UserID, note, now))

	return next, nil
}

// attemptActivation makes one bounded try. The activation marker written with the verified
// status stays pending on failure and the reconciler picks it up.
func (s *VerificationService) attemptActivation(ctx context.Context, rec *models.PaymentRecord) {
	ctx, cancel := context.WithTimeout(ctx, s.attemptTimeout)
	defer cancel()

	if _, err := s.activator.Activate(ctx, rec.UserID, rec.CourseID, rec.ID); err != nil {
		telemetry.Logger.Warn("Enrollment activation deferred to reconciler",
			zap.Int64("payment_id", rec.ID),
			zap.String("user_id", rec.UserID),
			zap.String("course_id", rec.CourseID),
			zap.Error(err),
		)
	}
}

func (s *VerificationService) lostRace(ctx context.Context, action models.ReviewAction) error {
	latest, err := s.repo.GetByID(ctx, action.PaymentID)
	if err == nil && latest.Status.IsTerminal() {
		return alreadyFinalized(latest)
	}
	return domain.ConflictError{
		Code: domain.ConflictStaleState,
		Msg:  "payment was changed by another reviewer, reload and try again",
	}
}

func checkAction(action models.ReviewAction) error {
	switch action.Action {
	case models.ActionAssign, models.ActionUnassign, models.ActionVerify, models.ActionCancel:
	case models.ActionReject:
		if action.RejectionReason == "" {
			return domain.ValidationError{Field: "rejection_reason", Msg: "rejection reason required"}
		}
	case models.ActionRequestInfo:
		if action.Note == "" {
			return domain.ValidationError{Field: "note", Msg: "describe the information needed"}
		}
	default:
		return domain.ValidationError{Field: "action", Msg: fmt.Sprintf("unknown action %q", action.Action)}
	}
	if action.Actor.UserID == "" {
		return domain.ForbiddenError{Msg: "authentication required"}
	}
	return nil
}

func authorized(action models.ReviewAction, rec *models.PaymentRecord) bool {
	if action.Actor.IsReviewer {
		return true
	}
	return action.Action == models.ActionCancel && action.Actor.UserID == rec.UserID
}

// plan computes the record after action without touching current. It enforces the
// preconditions against the state that was read; the store re-checks them on write.
func plan(current *models.PaymentRecord, action models.ReviewAction, now time.Time) (*models.PaymentRecord, error) {
	if current.Status.IsTerminal() {
		return nil, alreadyFinalized(current)
	}

	next := current.Clone()
	next.UpdatedAt = now
	actor := action.Actor.UserID

	switch action.Action {
	case models.ActionAssign:
		if current.AssignedTo != nil {
			return nil, domain.ConflictError{
				Code: domain.ConflictAlreadyAssigned,
				Msg:  fmt.Sprintf("payment is already assigned to %s", *current.AssignedTo),
			}
		}
		assignee := action.AssignTo
		if assignee == "" {
			assignee = actor
		}
		next.AssignedTo = &assignee
		next.AssignedAt = &now
		next.VerificationStatus = models.VerificationInProgress

	case models.ActionUnassign:
		if current.AssignedTo == nil {
			return nil, domain.ConflictError{Code: domain.ConflictNotAssigned, Msg: "payment is not assigned"}
		}
		next.AssignedTo = nil
		next.AssignedAt = nil
		next.VerificationStatus = models.VerificationPending

	case models.ActionVerify:
		finish(next, models.StatusVerified)
		next.VerifiedBy = &actor
		next.VerifiedAt = &now
		if action.Note != "" {
			next.VerificationNote = &action.Note
		}

	case models.ActionReject:
		finish(next, models.StatusRejected)
		next.RejectionReason = &action.RejectionReason
		if action.Note != "" {
			next.VerificationNote = &action.Note
		}

	case models.ActionRequestInfo:
		next.Status = models.StatusUnderReview
		next.VerificationNote = &action.Note

	case models.ActionCancel:
		finish(next, models.StatusCancelled)
		if action.Note != "" {
			next.VerificationNote = &action.Note
		}
	}
	return next, nil
}

// finish moves rec into a terminal status. Completed records carry no assignment.
func finish(rec *models.PaymentRecord, status models.PaymentStatus) {
	rec.Status = status
	rec.VerificationStatus = models.VerificationCompleted
	rec.AssignedTo = nil
	rec.AssignedAt = nil
}

func alreadyFinalized(rec *models.PaymentRecord) error {
	return domain.ConflictError{
		Code: domain.ConflictAlreadyFinalized,
		Msg:  fmt.Sprintf("payment %s is already %s", rec.ReceiptNumber, rec.Status),
	}
}
