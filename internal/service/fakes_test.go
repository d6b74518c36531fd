package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/akylbek/payment-system/payment-verification/internal/domain"
	"github.com/akylbek/payment-system/payment-verification/internal/evidence"
	"github.com/akylbek/payment-system/payment-verification/internal/models"
)

var pngProof = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)

// fakeStore is an in-memory record and enrollment store whose transitions are
// compare-and-swap under a mutex, like the conditional UPDATE in PostgreSQL.
type fakeStore struct {
	mu          sync.Mutex
	records     map[int64]*models.PaymentRecord
	nextID      int64
	insertErr   error
	activateErr error

	enrollments    map[string]*models.Enrollment
	activations    map[int64]*models.EnrollmentActivation
	activateCalls  int
	nextEnrollment int64

	// beforeTransition runs inside Transition before the precondition is checked.
	beforeTransition func(rec *models.PaymentRecord)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records:     map[int64]*models.PaymentRecord{},
		enrollments: map[string]*models.Enrollment{},
		activations: map[int64]*models.EnrollmentActivation{},
	}
}

func (f *fakeStore) Insert(_ context.Context, rec *models.PaymentRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	for _, r := range f.records {
		if r.ReceiptNumber == rec.ReceiptNumber || r.TrackingID == rec.TrackingID {
			return domain.ErrDuplicateIdentifier
		}
	}
	f.nextID++
	rec.ID = f.nextID
	f.records[rec.ID] = rec.Clone()
	return nil
}

func (f *fakeStore) GetByID(_ context.Context, id int64) (*models.PaymentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return nil, domain.NotFoundError{Resource: "payment"}
	}
	return r.Clone(), nil
}

func (f *fakeStore) GetByReceiptNumber(_ context.Context, receipt string) (*models.PaymentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records {
		if r.ReceiptNumber == receipt {
			return r.Clone(), nil
		}
	}
	return nil, domain.NotFoundError{Resource: "payment"}
}

func (f *fakeStore) GetByEvidenceRef(_ context.Context, ref string) (*models.PaymentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records {
		if r.ReceiptReference != nil && *r.ReceiptReference == ref {
			return r.Clone(), nil
		}
		for _, p := range r.ProofReferences {
			if p == ref {
				return r.Clone(), nil
			}
		}
	}
	return nil, domain.NotFoundError{Resource: "payment"}
}

func (f *fakeStore) ListPending(_ context.Context, filter models.QueueFilter, since time.Time) ([]models.PaymentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []models.PaymentRecord
	for _, r := range f.records {
		if r.Status.IsTerminal() {
			continue
		}
		if filter.Method != "" && r.PaymentMethod != filter.Method {
			continue
		}
		if !since.IsZero() && r.CreatedAt.Before(since) {
			continue
		}
		if a := filter.After; a != nil {
			if r.CreatedAt.Before(a.CreatedAt) || (r.CreatedAt.Equal(a.CreatedAt) && r.ID <= a.ID) {
				continue
			}
		}
		out = append(out, *r.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f *fakeStore) ListStaleUnderReview(_ context.Context, before time.Time, limit int) ([]models.PaymentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.PaymentRecord
	for _, r := range f.records {
		if r.Status == models.StatusUnderReview && r.UpdatedAt.Before(before) {
			out = append(out, *r.Clone())
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) Transition(_ context.Context, expected models.Precondition, next *models.PaymentRecord) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.swap(expected, next), nil
}

func (f *fakeStore) TransitionToVerified(_ context.Context, expected models.Precondition, next *models.PaymentRecord) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := f.swap(expected, next)
	if rows == 1 {
		if _, ok := f.activations[next.ID]; !ok {
			f.activations[next.ID] = &models.EnrollmentActivation{
				PaymentID: next.ID, UserID: next.UserID, CourseID: next.CourseID, CreatedAt: next.UpdatedAt,
			}
		}
	}
	return rows, nil
}

func (f *fakeStore) swap(expected models.Precondition, next *models.PaymentRecord) int64 {
	cur, ok := f.records[next.ID]
	if !ok {
		return 0
	}
	if f.beforeTransition != nil {
		f.beforeTransition(cur)
	}
	if cur.Status != expected.Status || cur.VerificationStatus != expected.VerificationStatus ||
		!sameString(cur.AssignedTo, expected.AssignedTo) || !cur.UpdatedAt.Equal(expected.UpdatedAt) {
		return 0
	}
	f.records[next.ID] = next.Clone()
	return 1
}

func sameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (f *fakeStore) Activate(_ context.Context, userID, courseID string, paymentID int64) (*models.Enrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activateCalls++
	if f.activateErr != nil {
		return nil, f.activateErr
	}
	key := userID + "|" + courseID
	e, ok := f.enrollments[key]
	if !ok {
		f.nextEnrollment++
		now := time.Now()
		e = &models.Enrollment{
			ID: f.nextEnrollment, UserID: userID, CourseID: courseID, PaymentID: paymentID,
			Status: models.EnrollmentActive, ActivatedAt: now, CreatedAt: now, UpdatedAt: now,
		}
		f.enrollments[key] = e
	}
	if a, ok := f.activations[paymentID]; ok && a.CompletedAt == nil {
		now := time.Now()
		a.CompletedAt = &now
		a.Attempts++
	}
	c := *e
	return &c, nil
}

func (f *fakeStore) Get(_ context.Context, userID, courseID string) (*models.Enrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.enrollments[userID+"|"+courseID]
	if !ok {
		return nil, domain.NotFoundError{Resource: "enrollment"}
	}
	c := *e
	return &c, nil
}

func (f *fakeStore) ListPendingActivations(_ context.Context, limit int) ([]models.EnrollmentActivation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.EnrollmentActivation
	for _, a := range f.activations {
		if a.CompletedAt == nil {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PaymentID < out[j].PaymentID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) RecordActivationFailure(_ context.Context, paymentID int64, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.activations[paymentID]; ok && a.CompletedAt == nil {
		a.Attempts++
		a.LastError = &reason
	}
	return nil
}

func (f *fakeStore) CountPendingActivations(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, a := range f.activations {
		if a.CompletedAt == nil {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func (f *fakeStore) enrollmentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.enrollments)
}

type fakeCatalog map[string]models.Course

func (c fakeCatalog) GetCourse(_ context.Context, id string) (*models.Course, error) {
	course, ok := c[id]
	if !ok {
		return nil, domain.NotFoundError{Resource: "course"}
	}
	return &course, nil
}

type fakeNotifier struct {
	mu  sync.Mutex
	got []models.Notification
}

func (n *fakeNotifier) Dispatch(msg models.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, msg)
}

func (n *fakeNotifier) kinds() []models.NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]models.NotificationKind, 0, len(n.got))
	for _, m := range n.got {
		out = append(out, m.Kind)
	}
	return out
}

type fakeEvidence struct {
	mu        sync.Mutex
	stored    map[string]models.EvidenceFile
	discarded []string
	next      int
}

func newFakeEvidence() *fakeEvidence {
	return &fakeEvidence{stored: map[string]models.EvidenceFile{}}
}

func (e *fakeEvidence) Store(_ context.Context, f models.EvidenceFile) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.next++
	ref := fmt.Sprintf("evidence:%04d", e.next)
	e.stored[ref] = f
	return ref, nil
}

func (e *fakeEvidence) Load(_ context.Context, ref string) (*models.EvidenceFile, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	f, ok := e.stored[ref]
	if !ok {
		return nil, domain.NotFoundError{Resource: "evidence"}
	}
	return &f, nil
}

func (e *fakeEvidence) Discard(_ context.Context, refs []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range refs {
		delete(e.stored, r)
	}
	e.discarded = append(e.discarded, refs...)
	return nil
}

func (e *fakeEvidence) Resolve(ref string) string { return "http://test/evidence/" + ref }

func (e *fakeEvidence) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.stored)
}

// scriptedIDs replays fixed receipt numbers, repeating the last one when it runs out.
type scriptedIDs struct {
	mu       sync.Mutex
	receipts []string
	calls    int
}

func (s *scriptedIDs) ReceiptNumber(time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.receipts) {
		i = len(s.receipts) - 1
	}
	s.calls++
	return s.receipts[i]
}

func (s *scriptedIDs) TrackingID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("TRK-%d", s.calls)
}

type harness struct {
	store      *fakeStore
	evidence   *fakeEvidence
	notifier   *fakeNotifier
	submission *SubmissionService
	queue      *QueueService
	verifier   *VerificationService
	activator  *EnrollmentActivator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:    newFakeStore(),
		evidence: newFakeEvidence(),
		notifier: &fakeNotifier{},
	}
	catalog := fakeCatalog{
		"course-go":  {ID: "course-go", Title: "Practical Go", Price: 1999},
		"course-sql": {ID: "course-sql", Title: "SQL Basics", Price: 500},
	}
	intake := evidence.NewIntake(h.evidence, 3, 1<<20)
	h.submission = NewSubmissionService(h.store, catalog, intake, h.notifier, 5)
	h.queue = NewQueueService(h.store, time.UTC)
	h.activator = NewEnrollmentActivator(h.store, 10)
	h.verifier = NewVerificationService(h.store, h.activator, h.notifier, time.Second)
	return h
}

func walletSubmission(userID string, amount int64) models.Submission {
	return models.Submission{
		UserID:           userID,
		UserEmail:        userID + "@example.com",
		CourseID:         "course-go",
		PaymentMethod:    models.MethodWalletA,
		PaymentType:      models.TypePersonal,
		AmountPaid:       amount,
		SenderIdentifier: "+254700000001",
		TransactionID:    "TX-" + userID,
		TransactionDate:  time.Now().Add(-time.Hour),
		Proofs:           []models.EvidenceFile{{FileName: "proof.png", Data: pngProof}},
	}
}

func (h *harness) submit(t *testing.T, userID string) *models.PaymentRecord {
	t.Helper()
	rec, err := h.submission.Submit(context.Background(), walletSubmission(userID, 1999))
	require.NoError(t, err)
	return rec
}

var reviewer1 = models.Identity{UserID: "admin_1", Email: "admin1@example.com", IsReviewer: true}
var reviewer2 = models.Identity{UserID: "admin_2", Email: "admin2@example.com", IsReviewer: true}

// requireInvariants checks the per-record rules every stored record must satisfy.
func requireInvariants(t *testing.T, rec *models.PaymentRecord) {
	t.Helper()
	require.Equal(t, rec.AssignedTo != nil, rec.VerificationStatus == models.VerificationInProgress,
		"assignment and in_progress must agree")
	require.Equal(t, rec.Status == models.StatusVerified, rec.VerifiedBy != nil && rec.VerifiedAt != nil,
		"verified status and verifier fields must agree")
	if rec.Status == models.StatusRejected {
		require.NotNil(t, rec.RejectionReason)
	}
	require.Positive(t, rec.AmountPaid)
	require.NotEmpty(t, rec.ProofReferences)
}

var errStoreDown = errors.New("connection refused")
