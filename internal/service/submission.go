package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-verification/internal/domain"
	"github.com/akylbek/payment-system/payment-verification/internal/evidence"
	"github.com/akylbek/payment-system/payment-verification/internal/interfaces"
	"github.com/akylbek/payment-system/payment-verification/internal/models"
	"github.com/akylbek/payment-system/payment-verification/internal/telemetry"
)

const defaultMaxIDAttempts = 5

type SubmissionService struct {
	repo        interfaces.PaymentRecordRepository
	catalog     interfaces.CourseCatalog
	intake      *evidence.Intake
	notifier    interfaces.Notifier
	ids         IdentifierSource
	validate    *validator.Validate
	maxAttempts int
	now         func() time.Time
}

func NewSubmissionService(
	repo interfaces.PaymentRecordRepository,
	catalog interfaces.CourseCatalog,
	intake *evidence.Intake,
	notifier interfaces.Notifier,
	maxAttempts int,
) *SubmissionService {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxIDAttempts
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &SubmissionService{
		repo:        repo,
		catalog:     catalog,
		intake:      intake,
		notifier:    notifier,
		ids:         randomIdentifiers{},
		validate:    v,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// Submit validates a learner's payment report, stores its evidence and writes the record.
// Nothing is written when validation fails.
func (s *SubmissionService) Submit(ctx context.Context, sub models.Submission) (*models.PaymentRecord, error) {
	ctx, span := telemetry.StartSpan(ctx, "SubmissionService.Submit", 0)
	defer span.End()

	rec, err := s.submit(ctx, sub)
	switch {
	case err == nil:
		telemetry.SubmissionsTotal.WithLabelValues("created").Inc()
	case domain.IsValidation(err):
		telemetry.SubmissionsTotal.WithLabelValues("invalid").Inc()
	default:
		telemetry.SubmissionsTotal.WithLabelValues("failed").Inc()
		span.RecordError(err)
	}
	return rec, err
}

func (s *SubmissionService) submit(ctx context.Context, sub models.Submission) (*models.PaymentRecord, error) {
	now := s.now().Truncate(time.Microsecond)
	normalizeSubmission(&sub)
	if err := s.validateSubmission(sub, now); err != nil {
		return nil, err
	}

	course, err := s.catalog.GetCourse(ctx, sub.CourseID)
	if domain.IsNotFound(err) {
		return nil, domain.ValidationError{Field: "course_id", Msg: "course does not exist", Err: err}
	}
	if err != nil {
		return nil, domain.PersistenceError{Op: "load course", Err: err}
	}

	files := append([]models.EvidenceFile(nil), sub.Proofs...)
	if sub.Receipt != nil {
		files = append(files, *sub.Receipt)
	}
	if err := s.intake.Check(files); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	refs, err := s.intake.StoreAll(ctx, files)
	if err != nil {
		return nil, err
	}

	rec := &models.PaymentRecord{
		PaymentMethod:      sub.PaymentMethod,
		PaymentType:        sub.PaymentType,
		Amount:             course.Price,
		AmountPaid:         sub.AmountPaid,
		ProofReferences:    refs[:len(sub.Proofs)],
		SenderIdentifier:   models.StringPtr(sub.SenderIdentifier),
		SenderName:         models.StringPtr(sub.SenderName),
		TransactionID:      sub.TransactionID,
		TransactionDate:    sub.TransactionDate,
		TransactionTime:    models.StringPtr(sub.TransactionTime),
		UserNote:           models.StringPtr(sub.UserNote),
		Status:             models.StatusSubmitted,
		VerificationStatus: models.VerificationPending,
		UserID:             sub.UserID,
		CourseID:           sub.CourseID,
		CreatedAt:          now,
		SubmittedAt:        now,
		UpdatedAt:          now,
	}
	if sub.Receipt != nil {
		rec.ReceiptReference = &refs[len(refs)-1]
	}

	if err := s.insertWithFreshIdentifiers(ctx, rec, now); err != nil {
		s.intake.Discard(context.WithoutCancel(ctx), refs)
		return nil, err
	}

	telemetry.Logger.Info("Payment submitted",
		zap.Int64("payment_id", rec.ID),
		zap.String("receipt_number", rec.ReceiptNumber),
		zap.String("user_id", rec.UserID),
		zap.String("course_id", rec.CourseID),
		zap.String("method", string(rec.PaymentMethod)),
	)

	n := models.NewNotification(models.NotifySubmitted, rec, sub.UserID, "", now)
	n.UserEmail = sub.UserEmail
	s.notifier.Dispatch(n)

	return rec, nil
}

func (s *SubmissionService) insertWithFreshIdentifiers(ctx context.Context, rec *models.PaymentRecord, now time.Time) error {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		rec.ReceiptNumber = s.ids.ReceiptNumber(now)
		rec.TrackingID = s.ids.TrackingID()

		err := s.repo.Insert(ctx, rec)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrDuplicateIdentifier) {
			return domain.PersistenceError{Op: "insert payment record", Err: err}
		}
		telemetry.Logger.Warn("Payment identifier collision, regenerating",
			zap.String("receipt_number", rec.ReceiptNumber),
			zap.Int("attempt", attempt),
		)
	}
	return domain.PersistenceError{
		Op:  fmt.Sprintf("generate unique identifiers after %d attempts", s.maxAttempts),
		Err: domain.ErrDuplicateIdentifier,
	}
}

func normalizeSubmission(sub *models.Submission) {
	sub.UserEmail = strings.TrimSpace(sub.UserEmail)
	sub.CourseID = strings.TrimSpace(sub.CourseID)
	sub.PaymentMethod = models.PaymentMethod(strings.ToLower(strings.TrimSpace(string(sub.PaymentMethod))))
	sub.PaymentType = models.PaymentType(strings.ToLower(strings.TrimSpace(string(sub.PaymentType))))
	sub.SenderIdentifier = strings.ReplaceAll(strings.TrimSpace(sub.SenderIdentifier), " ", "")
	sub.SenderName = strings.TrimSpace(sub.SenderName)
	sub.TransactionID = strings.TrimSpace(sub.TransactionID)
	sub.TransactionTime = strings.TrimSpace(sub.TransactionTime)
	sub.UserNote = strings.TrimSpace(sub.UserNote)
}

func (s *SubmissionService) validateSubmission(sub models.Submission, now time.Time) error {
	if err := s.validate.Struct(sub); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fieldError(verrs[0])
		}
		return domain.ValidationError{Msg: "invalid submission", Err: err}
	}

	if !sub.PaymentMethod.Valid() {
		return domain.ValidationError{Field: "payment_method", Msg: "unknown payment method"}
	}
	if !sub.PaymentType.Valid() {
		return domain.ValidationError{Field: "payment_type", Msg: "unknown payment type"}
	}
	if sub.TransactionDate.IsZero() {
		return domain.ValidationError{Field: "transaction_date", Msg: "transaction date required"}
	}
	if sub.TransactionDate.After(now.Add(24 * time.Hour)) {
		return domain.ValidationError{Field: "transaction_date", Msg: "transaction date cannot be in the future"}
	}
	if len(sub.Proofs) == 0 {
		return domain.ValidationError{Field: "proofs", Msg: "at least one proof of payment is required"}
	}

	switch {
	case sub.PaymentMethod.IsWallet():
		if sub.SenderIdentifier == "" {
			return domain.ValidationError{Field: "sender_identifier", Msg: "mobile number required"}
		}
		if !isPhoneNumber(sub.SenderIdentifier) {
			return domain.ValidationError{Field: "sender_identifier", Msg: "invalid mobile number"}
		}
	case sub.PaymentMethod == models.MethodBank || sub.PaymentMethod == models.MethodCash:
		if sub.SenderName == "" {
			return domain.ValidationError{Field: "sender_name", Msg: "sender name required"}
		}
	}
	return nil
}

func fieldError(fe validator.FieldError) error {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return domain.ValidationError{Field: field, Msg: strings.ReplaceAll(field, "_", " ") + " required"}
	case "gt":
		return domain.ValidationError{Field: field, Msg: "must be greater than zero"}
	case "max":
		return domain.ValidationError{Field: field, Msg: "is too long"}
	case "email":
		return domain.ValidationError{Field: field, Msg: "invalid email address"}
	}
	return domain.ValidationError{Field: field}
}

func isPhoneNumber(s string) bool {
	digits := strings.TrimPrefix(s, "+")
	if len(digits) < 7 || len(digits) > 15 {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
