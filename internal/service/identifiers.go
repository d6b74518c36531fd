package service

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
)

const receiptPrefix = "RCP"

// IdentifierSource produces candidate identifiers. Uniqueness is enforced by the store;
// callers regenerate on collision.
type IdentifierSource interface {
	ReceiptNumber(now time.Time) string
	TrackingID() string
}

type randomIdentifiers struct{}

// ReceiptNumber is RCP + yyMMddHHmmss (UTC) + four random digits, e.g. RCP2610141530220417.
func (randomIdentifiers) ReceiptNumber(now time.Time) string {
	return fmt.Sprintf("%s%s%04d", receiptPrefix, now.UTC().Format("060102150405"), rand.IntN(10000))
}

func (randomIdentifiers) TrackingID() string {
	return "TRK-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}
