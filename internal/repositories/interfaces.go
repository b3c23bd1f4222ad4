package repositories

import (
	"context"
	"errors"

	"github.com/prudhvinik1/ussync/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrRejected marks a write the store refused outright; retrying cannot help.
	ErrRejected = errors.New("write rejected")
)

// PresenceRepository is the document-per-user presence store.
type PresenceRepository interface {
	GetPresence(ctx context.Context, userID string) (*models.UserPresence, error)
	// MergePresence updates only the fields set in patch, creating the document if needed.
	MergePresence(ctx context.Context, userID string, patch models.PresencePatch) error
	// Watch streams the current snapshot of userID followed by one snapshot per change.
	Watch(ctx context.Context, userID string) (PresenceStream, error)
}

// PresenceStream is a cancelable, non-restartable sequence of snapshots.
// Updates is closed when the stream ends; Err then reports why (nil after Close).
type PresenceStream interface {
	Updates() <-chan models.PresenceSnapshot
	Err() error
	Close() error
}

// IdentityRepository is device-local durable storage for the signed-in identity.
type IdentityRepository interface {
	InstallID(ctx context.Context) (string, error)
	SaveCurrentUser(ctx context.Context, userID string) error
	CurrentUser(ctx context.Context) (string, error)
	ClearCurrentUser(ctx context.Context) error
}
