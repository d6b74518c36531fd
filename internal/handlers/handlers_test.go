package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/akylbek/payment-system/payment-verification/internal/auth"
	"github.com/akylbek/payment-system/payment-verification/internal/domain"
	"github.com/akylbek/payment-system/payment-verification/internal/evidence"
	"github.com/akylbek/payment-system/payment-verification/internal/models"
)

var png = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)

type stubSubmitter struct {
	got models.Submission
	rec *models.PaymentRecord
	err error
}

func (s *stubSubmitter) Submit(_ context.Context, sub models.Submission) (*models.PaymentRecord, error) {
	s.got = sub
	return s.rec, s.err
}

type stubApplier struct {
	got models.ReviewAction
	rec *models.PaymentRecord
	err error
}

func (s *stubApplier) Apply(_ context.Context, a models.ReviewAction) (*models.PaymentRecord, error) {
	s.got = a
	return s.rec, s.err
}

type stubRecords map[int64]*models.PaymentRecord

func (s stubRecords) GetByID(_ context.Context, id int64) (*models.PaymentRecord, error) {
	if r, ok := s[id]; ok {
		return r, nil
	}
	return nil, domain.NotFoundError{Resource: "payment"}
}

func (s stubRecords) GetByReceiptNumber(_ context.Context, n string) (*models.PaymentRecord, error) {
	for _, r := range s {
		if r.ReceiptNumber == n {
			return r, nil
		}
	}
	return nil, domain.NotFoundError{Resource: "payment"}
}

func (s stubRecords) GetByEvidenceRef(_ context.Context, ref string) (*models.PaymentRecord, error) {
	for _, r := range s {
		for _, p := range r.ProofReferences {
			if p == ref {
				return r, nil
			}
		}
	}
	return nil, domain.NotFoundError{Resource: "payment"}
}

type stubCatalog struct{}

func (stubCatalog) GetCourse(_ context.Context, id string) (*models.Course, error) {
	return &models.Course{ID: id, Title: "Practical Go", Price: 1999}, nil
}

type memoryStore map[string]models.EvidenceFile

func (m memoryStore) Store(_ context.Context, f models.EvidenceFile) (string, error) {
	ref := evidence.Ref(uuid.New())
	m[ref] = f
	return ref, nil
}

func (m memoryStore) Load(_ context.Context, ref string) (*models.EvidenceFile, error) {
	f, ok := m[ref]
	if !ok {
		return nil, domain.NotFoundError{Resource: "evidence"}
	}
	return &f, nil
}

func (m memoryStore) Discard(_ context.Context, refs []string) error {
	for _, r := range refs {
		delete(m, r)
	}
	return nil
}

func (m memoryStore) Resolve(ref string) string {
	id, _ := evidence.ParseRef(ref)
	return "http://test/evidence/" + id.String()
}

func sampleRecord() *models.PaymentRecord {
	now := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	return &models.PaymentRecord{
		ID:                 7,
		ReceiptNumber:      "RCP2610140900000001",
		TrackingID:         "TRK-ABC",
		PaymentMethod:      models.MethodWalletA,
		PaymentType:        models.TypePersonal,
		Amount:             1999,
		AmountPaid:         1999,
		ProofReferences:    []string{evidence.Ref(uuid.New())},
		TransactionID:      "TX1",
		TransactionDate:    now,
		Status:             models.StatusSubmitted,
		VerificationStatus: models.VerificationPending,
		UserID:             "u1",
		CourseID:           "course-go",
		CreatedAt:          now,
		SubmittedAt:        now,
		UpdatedAt:          now,
	}
}

// serve runs handler behind a stand-in for the auth middleware.
func serve(t *testing.T, id *models.Identity, method, route, target string, body *bytes.Buffer, contentType string, handler gin.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Handle(method, route, func(c *gin.Context) {
		if id != nil {
			auth.WithIdentity(c, *id)
		}
		c.Next()
	}, handler)

	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

var (
	learner  = &models.Identity{UserID: "u1", Email: "u1@example.com"}
	stranger = &models.Identity{UserID: "u2"}
	reviewer = &models.Identity{UserID: "admin_1", IsReviewer: true}
)

func multipartSubmission(t *testing.T, fields map[string]string, proofs int) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for i := 0; i < proofs; i++ {
		fw, err := mw.CreateFormFile("proofs[]", "proof.png")
		require.NoError(t, err)
		_, err = fw.Write(png)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func newPaymentHandler(sub *stubSubmitter, app *stubApplier, recs stubRecords) *PaymentHandler {
	store := memoryStore{}
	return NewPaymentHandler(sub, app, recs, stubCatalog{}, evidence.NewIntake(store, 2, 1<<20), store, time.UTC)
}

func TestSubmitParsesMultipart(t *testing.T) {
	rec := sampleRecord()
	sub := &stubSubmitter{rec: rec}
	h := newPaymentHandler(sub, nil, nil)

	body, ct := multipartSubmission(t, map[string]string{
		"course_id":         "course-go",
		"payment_method":    "wallet_a",
		"payment_type":      "personal",
		"amount_paid":       "1999",
		"sender_identifier": "+254700000001",
		"transaction_id":    "TX1",
		"transaction_date":  "2026-10-13",
	}, 1)
	w := serve(t, learner, http.MethodPost, "/payments", "/payments", body, ct, h.Submit)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Equal(t, "u1", sub.got.UserID)
	require.Equal(t, "u1@example.com", sub.got.UserEmail)
	require.Equal(t, int64(1999), sub.got.AmountPaid)
	require.Equal(t, models.MethodWalletA, sub.got.PaymentMethod)
	require.Equal(t, time.Date(2026, 10, 13, 0, 0, 0, 0, time.UTC), sub.got.TransactionDate)
	require.Len(t, sub.got.Proofs, 1)
	require.Equal(t, png, sub.got.Proofs[0].Data)

	out := decode(t, w)
	require.Equal(t, true, out["success"])
	payment := out["payment"].(map[string]any)
	require.Equal(t, rec.ReceiptNumber, payment["receipt_number"])
	require.Len(t, payment["proof_urls"], 1)
}

func TestSubmitRejectsBadInput(t *testing.T) {
	h := newPaymentHandler(&stubSubmitter{}, nil, nil)

	body, ct := multipartSubmission(t, map[string]string{"amount_paid": "12.50"}, 1)
	w := serve(t, learner, http.MethodPost, "/payments", "/payments", body, ct, h.Submit)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "amount_paid", decode(t, w)["field"])

	body, ct = multipartSubmission(t, nil, 3)
	w = serve(t, learner, http.MethodPost, "/payments", "/payments", body, ct, h.Submit)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "proofs", decode(t, w)["field"])

	w = serve(t, learner, http.MethodPost, "/payments", "/payments", bytes.NewBufferString(`{}`), "application/json", h.Submit)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitMapsServiceErrors(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{domain.ValidationError{Field: "sender_identifier", Msg: "mobile number required"}, http.StatusBadRequest, "validation_error"},
		{domain.PersistenceError{Op: "insert", Err: context.DeadlineExceeded}, http.StatusServiceUnavailable, "unavailable"},
	}
	for _, tt := range tests {
		h := newPaymentHandler(&stubSubmitter{err: tt.err}, nil, nil)
		body, ct := multipartSubmission(t, map[string]string{"course_id": "course-go"}, 1)
		w := serve(t, learner, http.MethodPost, "/payments", "/payments", body, ct, h.Submit)
		require.Equal(t, tt.status, w.Code)
		out := decode(t, w)
		require.Equal(t, false, out["success"])
		require.Equal(t, tt.code, out["code"])
	}
}

func TestStatusVisibility(t *testing.T) {
	rec := sampleRecord()
	h := newPaymentHandler(nil, nil, stubRecords{rec.ID: rec})

	for _, target := range []string{"/payments/7/status", "/payments/" + rec.ReceiptNumber + "/status"} {
		w := serve(t, learner, http.MethodGet, "/payments/:ref/status", target, nil, "", h.Status)
		require.Equal(t, http.StatusOK, w.Code, target)
		out := decode(t, w)
		require.Equal(t, "submitted", out["status"])
		require.Equal(t, "pending", out["verification_status"])
		require.Equal(t, rec.TrackingID, out["tracking_id"])
	}

	w := serve(t, reviewer, http.MethodGet, "/payments/:ref/status", "/payments/7/status", nil, "", h.Status)
	require.Equal(t, http.StatusOK, w.Code)

	w = serve(t, stranger, http.MethodGet, "/payments/:ref/status", "/payments/7/status", nil, "", h.Status)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = serve(t, learner, http.MethodGet, "/payments/:ref/status", "/payments/99/status", nil, "", h.Status)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestReceiptPDF(t *testing.T) {
	rec := sampleRecord()
	h := newPaymentHandler(nil, nil, stubRecords{rec.ID: rec})

	w := serve(t, learner, http.MethodGet, "/payments/:ref/receipt.pdf", "/payments/7/receipt.pdf", nil, "", h.Receipt)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	require.Contains(t, w.Header().Get("Content-Disposition"), "RECEIPT_"+rec.ReceiptNumber+".pdf")
	require.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF-")))
}

func TestCancelPassesCallerThrough(t *testing.T) {
	rec := sampleRecord()
	cancelled := *rec
	cancelled.Status = models.StatusCancelled
	cancelled.VerificationStatus = models.VerificationCompleted
	app := &stubApplier{rec: &cancelled}
	h := newPaymentHandler(nil, app, stubRecords{rec.ID: rec})

	w := serve(t, learner, http.MethodPost, "/payments/:ref/cancel", "/payments/"+rec.ReceiptNumber+"/cancel",
		bytes.NewBufferString(`{"note":"paid twice"}`), "application/json", h.Cancel)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, models.ActionCancel, app.got.Action)
	require.Equal(t, rec.ID, app.got.PaymentID)
	require.Equal(t, "u1", app.got.Actor.UserID)
	require.Equal(t, "paid twice", app.got.Note)
	require.Equal(t, "cancelled", decode(t, w)["status"])
}

func TestAdminActionResponses(t *testing.T) {
	rec := sampleRecord()
	verified := *rec
	verified.Status = models.StatusVerified
	verified.VerificationStatus = models.VerificationCompleted

	tests := []struct {
		name   string
		app    *stubApplier
		body   string
		status int
		code   string
	}{
		{"verified", &stubApplier{rec: &verified}, `{"payment_id":7,"action":"verify","note":"ok"}`, http.StatusOK, ""},
		{"finalized", &stubApplier{err: domain.ConflictError{Code: domain.ConflictAlreadyFinalized}}, `{"payment_id":7,"action":"verify"}`, http.StatusConflict, "already_finalized"},
		{"stale", &stubApplier{err: domain.ConflictError{Code: domain.ConflictStaleState}}, `{"payment_id":7,"action":"assign"}`, http.StatusConflict, "stale_state"},
		{"missing reason", &stubApplier{err: domain.ValidationError{Field: "rejection_reason"}}, `{"payment_id":7,"action":"reject"}`, http.StatusBadRequest, "validation_error"},
		{"unknown payment", &stubApplier{err: domain.NotFoundError{Resource: "payment"}}, `{"payment_id":8,"action":"verify"}`, http.StatusNotFound, "not_found"},
		{"no payment id", &stubApplier{}, `{"action":"verify"}`, http.StatusBadRequest, "validation_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewAdminHandler(nil, tt.app, memoryStore{})
			w := serve(t, reviewer, http.MethodPost, "/admin/payments/actions", "/admin/payments/actions",
				bytes.NewBufferString(tt.body), "application/json", h.Action)

			require.Equal(t, tt.status, w.Code, w.Body.String())
			out := decode(t, w)
			if tt.code == "" {
				require.Equal(t, true, out["success"])
				require.Equal(t, "verified", out["status"])
				require.Equal(t, "completed", out["verification_status"])
				require.Equal(t, "admin_1", tt.app.got.Actor.UserID)
				require.Equal(t, models.ActionVerify, tt.app.got.Action)
				return
			}
			require.Equal(t, false, out["success"])
			require.Equal(t, tt.code, out["code"])
		})
	}
}

type stubQueue struct {
	got  models.QueueFilter
	page models.QueuePage
}

func (s *stubQueue) ListPending(_ context.Context, f models.QueueFilter) (models.QueuePage, error) {
	s.got = f
	return s.page, nil
}

func TestAdminQueue(t *testing.T) {
	rec := sampleRecord()
	q := &stubQueue{page: models.QueuePage{
		Records: []models.PaymentRecord{*rec},
		Next:    &models.QueueCursor{CreatedAt: rec.CreatedAt, ID: rec.ID},
	}}
	h := NewAdminHandler(q, nil, memoryStore{})

	w := serve(t, reviewer, http.MethodGet, "/admin/payments/queue", "/admin/payments/queue?method=WALLET_A&today=true&limit=1", nil, "", h.Queue)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, models.MethodWalletA, q.got.Method)
	require.True(t, q.got.CreatedToday)
	require.Equal(t, 1, q.got.Limit)

	out := decode(t, w)
	require.Len(t, out["payments"], 1)
	next := out["next_cursor"].(string)

	w = serve(t, reviewer, http.MethodGet, "/admin/payments/queue", "/admin/payments/queue?after="+next, nil, "", h.Queue)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, q.got.After)
	require.Equal(t, rec.ID, q.got.After.ID)
	require.True(t, rec.CreatedAt.Equal(q.got.After.CreatedAt))

	w = serve(t, reviewer, http.MethodGet, "/admin/payments/queue", "/admin/payments/queue?after=garbage", nil, "", h.Queue)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEvidenceAccess(t *testing.T) {
	store := memoryStore{}
	ref, err := store.Store(context.Background(), models.EvidenceFile{FileName: "proof.png", ContentType: "image/png", Data: png})
	require.NoError(t, err)
	rec := sampleRecord()
	rec.ProofReferences = []string{ref}
	h := NewEvidenceHandler(store, stubRecords{rec.ID: rec})

	id, err := evidence.ParseRef(ref)
	require.NoError(t, err)
	target := "/evidence/" + id.String()

	for _, who := range []*models.Identity{learner, reviewer} {
		w := serve(t, who, http.MethodGet, "/evidence/:id", target, nil, "", h.Serve)
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "image/png", w.Header().Get("Content-Type"))
		require.Equal(t, png, w.Body.Bytes())
	}

	w := serve(t, stranger, http.MethodGet, "/evidence/:id", target, nil, "", h.Serve)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = serve(t, reviewer, http.MethodGet, "/evidence/:id", "/evidence/"+uuid.NewString(), nil, "", h.Serve)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = serve(t, reviewer, http.MethodGet, "/evidence/:id", "/evidence/not-a-uuid", nil, "", h.Serve)
	require.Equal(t, http.StatusNotFound, w.Code)
}
