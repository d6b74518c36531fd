package models

import "time"

type PaymentStatus string

const (
	StatusSubmitted   PaymentStatus = "submitted"
	StatusUnderReview PaymentStatus = "under_review"
	StatusVerified    PaymentStatus = "verified"
	StatusRejected    PaymentStatus = "rejected"
	StatusCancelled   PaymentStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s PaymentStatus) IsTerminal() bool {
	return s == StatusVerified || s == StatusRejected || s == StatusCancelled
}

type VerificationStatus string

const (
	VerificationPending    VerificationStatus = "pending"
	VerificationInProgress VerificationStatus = "in_progress"
	VerificationCompleted  VerificationStatus = "completed"
)

type PaymentMethod string

const (
	MethodWalletA PaymentMethod = "wallet_a"
	MethodWalletB PaymentMethod = "wallet_b"
	MethodWalletC PaymentMethod = "wallet_c"
	MethodBank    PaymentMethod = "bank"
	MethodCash    PaymentMethod = "cash"
	MethodOther   PaymentMethod = "other"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodWalletA, MethodWalletB, MethodWalletC, MethodBank, MethodCash, MethodOther:
		return true
	}
	return false
}

// IsWallet reports whether the method is a mobile-money wallet transfer.
func (m PaymentMethod) IsWallet() bool {
	return m == MethodWalletA || m == MethodWalletB || m == MethodWalletC
}

type PaymentType string

const (
	TypePersonal     PaymentType = "personal"
	TypeAgent        PaymentType = "agent"
	TypeBankTransfer PaymentType = "bank_transfer"
)

func (t PaymentType) Valid() bool {
	switch t {
	case TypePersonal, TypeAgent, TypeBankTransfer:
		return true
	}
	return false
}

// PaymentRecord is a single learner's claim that an out-of-band payment was made.
type PaymentRecord struct {
	ID            int64  `json:"id"`
	ReceiptNumber string `json:"receipt_number"`
	TrackingID    string `json:"tracking_id"`

	PaymentMethod PaymentMethod `json:"payment_method"`
	PaymentType   PaymentType   `json:"payment_type"`

	Amount     int64 `json:"amount"`
	AmountPaid int64 `json:"amount_paid"`

	ProofReferences  []string `json:"proof_references"`
	ReceiptReference *string  `json:"receipt_reference,omitempty"`

	SenderIdentifier *string   `json:"sender_identifier,omitempty"`
	SenderName       *string   `json:"sender_name,omitempty"`
	TransactionID    string    `json:"transaction_id"`
	TransactionDate  time.Time `json:"transaction_date"`
	TransactionTime  *string   `json:"transaction_time,omitempty"`
	UserNote         *string   `json:"user_note,omitempty"`

	Status             PaymentStatus      `json:"status"`
	VerificationStatus VerificationStatus `json:"verification_status"`

	AssignedTo       *string    `json:"assigned_to,omitempty"`
	AssignedAt       *time.Time `json:"assigned_at,omitempty"`
	VerifiedBy       *string    `json:"verified_by,omitempty"`
	VerifiedAt       *time.Time `json:"verified_at,omitempty"`
	VerificationNote *string    `json:"verification_note,omitempty"`
	RejectionReason  *string    `json:"rejection_reason,omitempty"`

	UserID   string `json:"user_id"`
	CourseID string `json:"course_id"`

	CreatedAt   time.Time `json:"created_at"`
	SubmittedAt time.Time `json:"submitted_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Precondition is the slice of a record's state a conditional update must still match.
type Precondition struct {
	Status             PaymentStatus
	VerificationStatus VerificationStatus
	AssignedTo         *string
	// UpdatedAt changes on every transition, so it also guards writes that keep the statuses.
	UpdatedAt time.Time
}

// Precondition captures the guard-relevant state of r as last read.
func (r *PaymentRecord) Precondition() Precondition {
	p := Precondition{Status: r.Status, VerificationStatus: r.VerificationStatus, UpdatedAt: r.UpdatedAt}
	if r.AssignedTo != nil {
		a := *r.AssignedTo
		p.AssignedTo = &a
	}
	return p
}

// Clone returns a deep copy so a transition can be computed without touching the read snapshot.
func (r *PaymentRecord) Clone() *PaymentRecord {
	c := *r
	c.ProofReferences = append([]string(nil), r.ProofReferences...)
	c.ReceiptReference = cloneString(r.ReceiptReference)
	c.SenderIdentifier = cloneString(r.SenderIdentifier)
	c.SenderName = cloneString(r.SenderName)
	c.TransactionTime = cloneString(r.TransactionTime)
	c.UserNote = cloneString(r.UserNote)
	c.AssignedTo = cloneString(r.AssignedTo)
	c.AssignedAt = cloneTime(r.AssignedAt)
	c.VerifiedBy = cloneString(r.VerifiedBy)
	c.VerifiedAt = cloneTime(r.VerifiedAt)
	c.VerificationNote = cloneString(r.VerificationNote)
	c.RejectionReason = cloneString(r.RejectionReason)
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// StringPtr returns nil for an empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// QueueFilter narrows the verification queue. The zero value lists everything pending.
type QueueFilter struct {
	Method       PaymentMethod
	CreatedToday bool
	Limit        int
	After        *QueueCursor
}

// QueueCursor is a keyset position in the (created_at, id) ordering.
type QueueCursor struct {
	CreatedAt time.Time `json:"created_at"`
	ID        int64     `json:"id"`
}

type QueuePage struct {
	Records []PaymentRecord `json:"records"`
	Next    *QueueCursor    `json:"next,omitempty"`
}
