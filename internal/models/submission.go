package models

import "time"

// EvidenceFile is an uploaded proof file that has not been stored yet.
type EvidenceFile struct {
	FileName    string
	ContentType string
	Data        []byte
}

// Submission is what a learner reports about an out-of-band payment.
type Submission struct {
	UserID    string `json:"user_id" validate:"required"`
	UserEmail string `json:"user_email" validate:"omitempty,email"`
	CourseID  string `json:"course_id" validate:"required"`

	PaymentMethod PaymentMethod `json:"payment_method" validate:"required"`
	PaymentType   PaymentType   `json:"payment_type" validate:"required"`
	AmountPaid    int64         `json:"amount_paid" validate:"gt=0"`

	SenderIdentifier string    `json:"sender_identifier" validate:"omitempty,max=32"`
	SenderName       string    `json:"sender_name" validate:"omitempty,max=120"`
	TransactionID    string    `json:"transaction_id" validate:"required,max=120"`
	TransactionDate  time.Time `json:"transaction_date"`
	TransactionTime  string    `json:"transaction_time" validate:"omitempty,max=16"`
	UserNote         string    `json:"user_note" validate:"omitempty,max=1000"`

	Proofs  []EvidenceFile `json:"-"`
	Receipt *EvidenceFile  `json:"-"`
}

// Identity is the authenticated caller as supplied by the identity provider.
type Identity struct {
	UserID      string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
	IsReviewer  bool   `json:"is_reviewer"`
}

// Course is the catalog view the workflow needs.
type Course struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Price int64  `json:"price"`
}

type EnrollmentStatus string

const EnrollmentActive EnrollmentStatus = "active"

// Enrollment grants a user access to a course and points back at the payment that paid for it.
type Enrollment struct {
	ID          int64            `json:"id"`
	UserID      string           `json:"user_id"`
	CourseID    string           `json:"course_id"`
	PaymentID   int64            `json:"payment_id"`
	Status      EnrollmentStatus `json:"status"`
	ActivatedAt time.Time        `json:"activated_at"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// EnrollmentActivation marks a verified payment whose enrollment has not been confirmed yet.
type EnrollmentActivation struct {
	PaymentID   int64
	UserID      string
	CourseID    string
	Attempts    int
	LastError   *string
	CreatedAt   time.Time
	CompletedAt *time.Time
}
