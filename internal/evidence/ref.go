package evidence

import (
	"strings"

	"github.com/google/uuid"

	"github.com/akylbek/payment-system/payment-verification/internal/domain"
)

const refPrefix = "evidence:"

// Ref is the opaque reference stored on payment records for the blob with the given id.
func Ref(id uuid.UUID) string {
	return refPrefix + id.String()
}

func ParseRef(ref string) (uuid.UUID, error) {
	raw, ok := strings.CutPrefix(ref, refPrefix)
	if !ok {
		return uuid.Nil, domain.ValidationError{Field: "evidence", Msg: "unknown evidence reference"}
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, domain.ValidationError{Field: "evidence", Msg: "malformed evidence reference", Err: err}
	}
	return id, nil
}
