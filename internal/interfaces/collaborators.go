package interfaces

import (
	"context"
	"time"

	"github.com/akylbek/payment-system/payment-verification/internal/models"
)

// EvidenceStore keeps uploaded proof material and hands back opaque references.
type EvidenceStore interface {
	Store(ctx context.Context, file models.EvidenceFile) (string, error)
	Load(ctx context.Context, ref string) (*models.EvidenceFile, error)
	Discard(ctx context.Context, refs []string) error
	Resolve(ref string) string
}

type CourseCatalog interface {
	GetCourse(ctx context.Context, courseID string) (*models.Course, error)
}

// Notifier accepts a message for best-effort delivery and never blocks the caller.
type Notifier interface {
	Dispatch(n models.Notification)
}

// Channel is one outbound transport used by the notification dispatcher.
type Channel interface {
	Name() string
	Send(ctx context.Context, n models.Notification) error
}

// Locker grants a short-lived lease so only one replica runs a periodic sweep.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}
