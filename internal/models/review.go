package models

import "time"

type ReviewActionType string

const (
	ActionAssign      ReviewActionType = "assign"
	ActionUnassign    ReviewActionType = "unassign"
	ActionVerify      ReviewActionType = "verify"
	ActionReject      ReviewActionType = "reject"
	ActionRequestInfo ReviewActionType = "request_info"
	ActionCancel      ReviewActionType = "cancel"
)

// ReviewAction is one requested transition on a payment record.
type ReviewAction struct {
	PaymentID       int64
	Action          ReviewActionType
	Actor           Identity
	Note            string
	RejectionReason string
	AssignTo        string
	// StaleBefore, when set, refuses the action if the record was updated at or after it.
	StaleBefore time.Time
}

type NotificationKind string

const (
	NotifySubmitted     NotificationKind = "payment.submitted"
	NotifyAssigned      NotificationKind = "payment.assign"
	NotifyUnassigned    NotificationKind = "payment.unassign"
	NotifyVerified      NotificationKind = "payment.verify"
	NotifyRejected      NotificationKind = "payment.reject"
	NotifyInfoRequested NotificationKind = "payment.request_info"
	NotifyCancelled     NotificationKind = "payment.cancel"
)

// NotificationFor maps a successful action to the message kind it emits.
func NotificationFor(a ReviewActionType) NotificationKind {
	return NotificationKind("payment." + string(a))
}

// Notification is a side-channel message about a record transition.
type Notification struct {
	Kind          NotificationKind `json:"kind"`
	PaymentID     int64            `json:"payment_id"`
	ReceiptNumber string           `json:"receipt_number"`
	TrackingID    string           `json:"tracking_id"`
	UserID        string           `json:"user_id"`
	UserEmail     string           `json:"user_email,omitempty"`
	UserPhone     string           `json:"user_phone,omitempty"`
	CourseID      string           `json:"course_id"`
	Status        PaymentStatus    `json:"status"`
	Actor         string           `json:"actor,omitempty"`
	Note          string           `json:"note,omitempty"`
	Amount        int64            `json:"amount"`
	AmountPaid    int64            `json:"amount_paid"`
	OccurredAt    time.Time        `json:"occurred_at"`
}

// NewNotification builds the message for record r after a transition of the given kind.
func NewNotification(kind NotificationKind, r *PaymentRecord, actor, note string, at time.Time) Notification {
	n := Notification{
		Kind:          kind,
		PaymentID:     r.ID,
		ReceiptNumber: r.ReceiptNumber,
		TrackingID:    r.TrackingID,
		UserID:        r.UserID,
		CourseID:      r.CourseID,
		Status:        r.Status,
		Actor:         actor,
		Note:          note,
		Amount:        r.Amount,
		AmountPaid:    r.AmountPaid,
		OccurredAt:    at,
	}
	if r.PaymentMethod.IsWallet() && r.SenderIdentifier != nil {
		n.UserPhone = *r.SenderIdentifier
	}
	return n
}
