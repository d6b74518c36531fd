package service

import (
	"context"
	"time"

	"github.com/akylbek/payment-system/payment-verification/internal/domain"
	"github.com/akylbek/payment-system/payment-verification/internal/interfaces"
	"github.com/akylbek/payment-system/payment-verification/internal/models"
	"github.com/akylbek/payment-system/payment-verification/internal/telemetry"
)

const (
	defaultQueueLimit = 50
	maxQueueLimit     = 200
)

// QueueService is the reviewers' read-only view of records awaiting action, oldest first.
type QueueService struct {
	repo interfaces.PaymentRecordRepository
	loc  *time.Location
	now  func() time.Time
}

func NewQueueService(repo interfaces.PaymentRecordRepository, loc *time.Location) *QueueService {
	if loc == nil {
		loc = time.UTC
	}
	return &QueueService{repo: repo, loc: loc, now: time.Now}
}

func (q *QueueService) ListPending(ctx context.Context, filter models.QueueFilter) (models.QueuePage, error) {
	ctx, span := telemetry.StartSpan(ctx, "QueueService.ListPending", 0)
	defer span.End()

	if filter.Method != "" && !filter.Method.Valid() {
		return models.QueuePage{}, domain.ValidationError{Field: "method", Msg: "unknown payment method"}
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultQueueLimit
	case filter.Limit > maxQueueLimit:
		filter.Limit = maxQueueLimit
	}

	var since time.Time
	if filter.CreatedToday {
		since = startOfDay(q.now(), q.loc)
	}

	records, err := q.repo.ListPending(ctx, filter, since)
	if err != nil {
		return models.QueuePage{}, domain.PersistenceError{Op: "list pending payments", Err: err}
	}

	page := models.QueuePage{Records: records}
	if len(records) == filter.Limit {
		last := records[len(records)-1]
		page.Next = &models.QueueCursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return page, nil
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
