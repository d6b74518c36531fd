package handlers

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/akylbek/payment-system/payment-verification/internal/auth"
	"github.com/akylbek/payment-system/payment-verification/internal/domain"
	"github.com/akylbek/payment-system/payment-verification/internal/evidence"
	"github.com/akylbek/payment-system/payment-verification/internal/interfaces"
	"github.com/akylbek/payment-system/payment-verification/internal/models"
	"github.com/akylbek/payment-system/payment-verification/internal/receipt"
)

type Submitter interface {
	Submit(ctx context.Context, sub models.Submission) (*models.PaymentRecord, error)
}

type ActionApplier interface {
	Apply(ctx context.Context, action models.ReviewAction) (*models.PaymentRecord, error)
}

type RecordReader interface {
	GetByID(ctx context.Context, id int64) (*models.PaymentRecord, error)
	GetByReceiptNumber(ctx context.Context, receiptNumber string) (*models.PaymentRecord, error)
	GetByEvidenceRef(ctx context.Context, ref string) (*models.PaymentRecord, error)
}

// PaymentHandler serves the learner-facing payment routes.
type PaymentHandler struct {
	submitter Submitter
	applier   ActionApplier
	records   RecordReader
	catalog   interfaces.CourseCatalog
	intake    *evidence.Intake
	store     interfaces.EvidenceStore
	loc       *time.Location
}

func NewPaymentHandler(
	submitter Submitter,
	applier ActionApplier,
	records RecordReader,
	catalog interfaces.CourseCatalog,
	intake *evidence.Intake,
	store interfaces.EvidenceStore,
	loc *time.Location,
) *PaymentHandler {
	return &PaymentHandler{
		submitter: submitter,
		applier:   applier,
		records:   records,
		catalog:   catalog,
		intake:    intake,
		store:     store,
		loc:       loc,
	}
}

// paymentView is a record plus links to its evidence.
type paymentView struct {
	*models.PaymentRecord
	ProofURLs  []string `json:"proof_urls"`
	ReceiptURL string   `json:"receipt_url,omitempty"`
}

func newPaymentView(rec *models.PaymentRecord, store interfaces.EvidenceStore) paymentView {
	v := paymentView{PaymentRecord: rec, ProofURLs: make([]string, 0, len(rec.ProofReferences))}
	for _, ref := range rec.ProofReferences {
		v.ProofURLs = append(v.ProofURLs, store.Resolve(ref))
	}
	if rec.ReceiptReference != nil {
		v.ReceiptURL = store.Resolve(*rec.ReceiptReference)
	}
	return v
}

func (h *PaymentHandler) Submit(c *gin.Context) {
	id, _ := auth.CurrentUser(c)

	limit := int64(h.intake.MaxFiles())*h.intake.MaxBytes() + 1<<20
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)

	form, err := c.MultipartForm()
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			RespondDomainError(c, domain.ValidationError{Field: "proofs", Msg: "upload is too large"})
			return
		}
		RespondDomainError(c, domain.ValidationError{Msg: "expected a multipart form", Err: err})
		return
	}

	sub, err := submissionFromForm(form)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	sub.UserID = id.UserID
	sub.UserEmail = id.Email

	proofs := append(form.File["proofs[]"], form.File["proofs"]...)
	if sub.Proofs, err = h.intake.ReadMultipart(proofs); err != nil {
		RespondDomainError(c, err)
		return
	}
	if files := form.File["receipt"]; len(files) > 0 {
		read, err := h.intake.ReadMultipart(files[:1])
		if err != nil {
			RespondDomainError(c, err)
			return
		}
		sub.Receipt = &read[0]
	}

	rec, err := h.submitter.Submit(c.Request.Context(), sub)
	if err != nil {
		RespondDomainError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"payment": newPaymentView(rec, h.store),
	})
}

func submissionFromForm(form *multipart.Form) (models.Submission, error) {
	field := func(name string) string {
		if v := form.Value[name]; len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}

	sub := models.Submission{
		CourseID:         field("course_id"),
		PaymentMethod:    models.PaymentMethod(field("payment_method")),
		PaymentType:      models.PaymentType(field("payment_type")),
		SenderIdentifier: field("sender_identifier"),
		SenderName:       field("sender_name"),
		TransactionID:    field("transaction_id"),
		TransactionTime:  field("transaction_time"),
		UserNote:         field("user_note"),
	}

	if raw := field("amount_paid"); raw != "" {
		amount, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return sub, domain.ValidationError{Field: "amount_paid", Msg: "must be a whole number", Err: err}
		}
		sub.AmountPaid = amount
	}

	if raw := field("transaction_date"); raw != "" {
		date, err := parseDate(raw)
		if err != nil {
			return sub, domain.ValidationError{Field: "transaction_date", Msg: "use YYYY-MM-DD", Err: err}
		}
		sub.TransactionDate = date
	}
	return sub, nil
}

func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, raw)
}

// loadVisible resolves :ref as an id or receipt number and checks the caller may see it.
func (h *PaymentHandler) loadVisible(c *gin.Context) (*models.PaymentRecord, bool) {
	rec, err := lookupRecord(c.Request.Context(), h.records, c.Param("ref"))
	if err != nil {
		RespondDomainError(c, err)
		return nil, false
	}
	id, _ := auth.CurrentUser(c)
	if !id.IsReviewer && id.UserID != rec.UserID {
		RespondDomainError(c, domain.ForbiddenError{Msg: "not your payment"})
		return nil, false
	}
	return rec, true
}

func lookupRecord(ctx context.Context, records RecordReader, ref string) (*models.PaymentRecord, error) {
	ref = strings.TrimSpace(ref)
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil && id > 0 {
		return records.GetByID(ctx, id)
	}
	if ref == "" {
		return nil, domain.ValidationError{Field: "ref", Msg: "payment reference required"}
	}
	return records.GetByReceiptNumber(ctx, strings.ToUpper(ref))
}

func (h *PaymentHandler) Status(c *gin.Context) {
	rec, ok := h.loadVisible(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":                  rec.ID,
		"status":              rec.Status,
		"verification_status": rec.VerificationStatus,
		"receipt_number":      rec.ReceiptNumber,
		"tracking_id":         rec.TrackingID,
		"amount":              rec.Amount,
		"amount_paid":         rec.AmountPaid,
		"payment_method":      rec.PaymentMethod,
		"created_at":          rec.CreatedAt,
		"submitted_at":        rec.SubmittedAt,
		"updated_at":          rec.UpdatedAt,
		"verified_at":         rec.VerifiedAt,
	})
}

func (h *PaymentHandler) Receipt(c *gin.Context) {
	rec, ok := h.loadVisible(c)
	if !ok {
		return
	}

	// The course title is decoration; the receipt still renders without it.
	course, err := h.catalog.GetCourse(c.Request.Context(), rec.CourseID)
	if err != nil {
		course = nil
	}

	data, filename, err := receipt.Render(rec, course, h.loc)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/pdf", data)
}

type cancelRequest struct {
	Note string `json:"note" binding:"max=1000"`
}

func (h *PaymentHandler) Cancel(c *gin.Context) {
	var req cancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			RespondDomainError(c, domain.ValidationError{Msg: "invalid request body", Err: err})
			return
		}
	}

	rec, err := lookupRecord(c.Request.Context(), h.records, c.Param("ref"))
	if err != nil {
		RespondDomainError(c, err)
		return
	}

	id, _ := auth.CurrentUser(c)
	updated, err := h.applier.Apply(c.Request.Context(), models.ReviewAction{
		PaymentID: rec.ID,
		Action:    models.ActionCancel,
		Actor:     id,
		Note:      req.Note,
	})
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	respondTransition(c, updated, h.store)
}

func respondTransition(c *gin.Context, rec *models.PaymentRecord, store interfaces.EvidenceStore) {
	c.JSON(http.StatusOK, gin.H{
		"success":             true,
		"status":              rec.Status,
		"verification_status": rec.VerificationStatus,
		"payment":             newPaymentView(rec, store),
	})
}
