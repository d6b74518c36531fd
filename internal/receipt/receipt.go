// Package receipt renders the acknowledgement document a learner can download after submitting.
package receipt

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/phpdave11/gofpdf"

	"github.com/akylbek/payment-system/payment-verification/internal/models"
)

const stamp = "2006-01-02 15:04 MST"

// Render returns a one-page PDF for rec and a download filename.
func Render(rec *models.PaymentRecord, course *models.Course, loc *time.Location) ([]byte, string, error) {
	if loc == nil {
		loc = time.UTC
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Payment receipt "+rec.ReceiptNumber, false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, "PAYMENT RECEIPT")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 12)
	line := func(label, value string) {
		pdf.Cell(0, 7, fmt.Sprintf("%-18s: %s", label, value))
		pdf.Ln(7)
	}
	line("Receipt number", rec.ReceiptNumber)
	line("Tracking ID", rec.TrackingID)
	line("Submitted", rec.SubmittedAt.In(loc).Format(stamp))
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 7, "Payment")
	pdf.Ln(8)
	pdf.SetFont("Helvetica", "", 12)
	if course != nil {
		line("Course", orDash(course.Title))
	} else {
		line("Course", rec.CourseID)
	}
	line("Method", methodLabel(rec.PaymentMethod))
	line("Transaction", rec.TransactionID)
	line("Expected amount", formatAmount(rec.Amount))
	line("Amount paid", formatAmount(rec.AmountPaid))
	if rec.AmountPaid < rec.Amount {
		line("Outstanding", formatAmount(rec.Amount-rec.AmountPaid))
	}
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Status: "+statusLabel(rec.Status))
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "I", 10)
	msg := "This receipt acknowledges that your payment report was received. Access is granted once a reviewer verifies it."
	switch rec.Status {
	case models.StatusVerified:
		msg = "Your payment was verified and course access is active."
	case models.StatusRejected:
		msg = "Your payment could not be verified"
		if rec.RejectionReason != nil {
			msg += ": " + *rec.RejectionReason
		}
		msg += "."
	}
	pdf.MultiCell(0, 6, msg, "", "", false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, "", fmt.Errorf("render receipt %s: %w", rec.ReceiptNumber, err)
	}
	return buf.Bytes(), "RECEIPT_" + rec.ReceiptNumber + ".pdf", nil
}

// formatAmount groups thousands: 1999 -> "1,999".
func formatAmount(v int64) string {
	sign := ""
	if v < 0 {
		sign, v = "-", -v
	}
	s := fmt.Sprintf("%d", v)
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return sign + b.String()
}

func methodLabel(m models.PaymentMethod) string {
	switch m {
	case models.MethodWalletA:
		return "Mobile wallet A"
	case models.MethodWalletB:
		return "Mobile wallet B"
	case models.MethodWalletC:
		return "Mobile wallet C"
	case models.MethodBank:
		return "Bank transfer"
	case models.MethodCash:
		return "Cash deposit"
	}
	return "Other"
}

func statusLabel(s models.PaymentStatus) string {
	return strings.ToUpper(strings.ReplaceAll(string(s), "_", " "))
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
