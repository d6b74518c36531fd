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

const (
	ExpiryActorID    = "system:expiry"
	ExpiryReason     = "no response to information request"
	defaultExpiryTTL = 7 * 24 * time.Hour
	expirySweepBatch = 100
)

// ExpirySweeper rejects records left in under_review longer than the TTL. It goes through
// the verification service so the same conditional write and notifications apply.
type ExpirySweeper struct {
	repo     interfaces.PaymentRecordRepository
	verifier *VerificationService
	ttl      time.Duration
	now      func() time.Time
}

func NewExpirySweeper(repo interfaces.PaymentRecordRepository, verifier *VerificationService, ttl time.Duration) *ExpirySweeper {
	if ttl <= 0 {
		ttl = defaultExpiryTTL
	}
	return &ExpirySweeper{repo: repo, verifier: verifier, ttl: ttl, now: time.Now}
}

// Sweep returns the number of records it expired.
func (e *ExpirySweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := e.now().Add(-e.ttl)
	stale, err := e.repo.ListStaleUnderReview(ctx, cutoff, expirySweepBatch)
	if err != nil {
		return 0, domain.PersistenceError{Op: "list stale info requests", Err: err}
	}

	expired := 0
	for _, rec := range stale {
		if ctx.Err() != nil {
			break
		}
		_, err := e.verifier.Apply(ctx, models.ReviewAction{
			PaymentID:       rec.ID,
			Action:          models.ActionReject,
			Actor:           models.Identity{UserID: ExpiryActorID, IsReviewer: true},
			RejectionReason: ExpiryReason,
			StaleBefore:     cutoff,
		})
		switch {
		case err == nil:
			expired++
		case domain.IsConflict(err):
			// a reviewer or the learner got there first
		default:
			telemetry.Logger.Warn("Failed to expire information request",
				zap.Int64("payment_id", rec.ID),
				zap.Error(err),
			)
		}
	}
	return expired, ctx.Err()
}
