package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/nats-io/nats.go"
	"github.com/segmentio/kafka-go"

	"github.com/akylbek/payment-system/payment-verification/internal/models"
)

const (
	EmailSubject = "notifications.email"
	SMSSubject   = "notifications.sms"
	EventsTopic  = "payment.verification.events"
)

// messageWriter is the part of *kafka.Writer the operator channel needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// publisher is the part of *nats.Conn the user-facing channels need.
type publisher interface {
	PublishMsg(m *nats.Msg) error
}

// OperatorChannel publishes every transition to the operator event stream.
type OperatorChannel struct {
	writer messageWriter
}

func NewOperatorChannel(writer messageWriter) *OperatorChannel {
	return &OperatorChannel{writer: writer}
}

func (c *OperatorChannel) Name() string { return "operator" }

func (c *OperatorChannel) Send(ctx context.Context, n models.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return c.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(n.PaymentID, 10)),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(n.Kind)},
		},
	})
}

type emailMessage struct {
	To            string `json:"to,omitempty"`
	ToUserID      string `json:"to_user_id"`
	Template      string `json:"template"`
	ReceiptNumber string `json:"receipt_number"`
	TrackingID    string `json:"tracking_id"`
	Status        string `json:"status"`
	Note          string `json:"note,omitempty"`
	AmountPaid    int64  `json:"amount_paid"`
}

// EmailChannel hands user-facing e-mails to the mailer over NATS. When the address is not
// known the mailer resolves it from the user id.
type EmailChannel struct {
	conn publisher
}

func NewEmailChannel(conn publisher) *EmailChannel {
	return &EmailChannel{conn: conn}
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) Send(_ context.Context, n models.Notification) error {
	if n.UserEmail == "" && n.UserID == "" {
		return nil
	}
	payload, err := json.Marshal(emailMessage{
		To:            n.UserEmail,
		ToUserID:      n.UserID,
		Template:      string(n.Kind),
		ReceiptNumber: n.ReceiptNumber,
		TrackingID:    n.TrackingID,
		Status:        string(n.Status),
		Note:          n.Note,
		AmountPaid:    n.AmountPaid,
	})
	if err != nil {
		return err
	}
	return c.conn.PublishMsg(&nats.Msg{Subject: EmailSubject, Data: payload})
}

type smsMessage struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

// SMSChannel texts the sender phone on terminal outcomes and information requests.
type SMSChannel struct {
	conn publisher
}

func NewSMSChannel(conn publisher) *SMSChannel {
	return &SMSChannel{conn: conn}
}

func (c *SMSChannel) Name() string { return "sms" }

func (c *SMSChannel) Send(_ context.Context, n models.Notification) error {
	text := smsText(n)
	if n.UserPhone == "" || text == "" {
		return nil
	}
	payload, err := json.Marshal(smsMessage{To: n.UserPhone, Text: text})
	if err != nil {
		return err
	}
	return c.conn.PublishMsg(&nats.Msg{Subject: SMSSubject, Data: payload})
}

func smsText(n models.Notification) string {
	switch n.Kind {
	case models.NotifySubmitted:
		return fmt.Sprintf("Payment %s received and waiting for verification.", n.ReceiptNumber)
	case models.NotifyVerified:
		return fmt.Sprintf("Payment %s verified. Your course is now available.", n.ReceiptNumber)
	case models.NotifyRejected:
		return fmt.Sprintf("Payment %s was rejected: %s", n.ReceiptNumber, n.Note)
	case models.NotifyInfoRequested:
		return fmt.Sprintf("More information is needed for payment %s: %s", n.ReceiptNumber, n.Note)
	}
	return ""
}
