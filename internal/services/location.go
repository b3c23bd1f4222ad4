package services

import (
	"context"
	"errors"
	"time"

	"github.com/prudhvinik1/ussync/internal/models"
)

var (
	ErrForegroundPermissionDenied = errors.New("foreground location permission denied")
	ErrBackgroundPermissionDenied = errors.New("background location permission denied")
)

type PermissionStatus string

const (
	PermissionGranted      PermissionStatus = "granted"
	PermissionDenied       PermissionStatus = "denied"
	PermissionUndetermined PermissionStatus = "undetermined"
)

// LocationProvider is the host platform's location facility.
// Once permission is revoked, CurrentPosition returns ErrForegroundPermissionDenied
// and Readings channels are closed.
type LocationProvider interface {
	RequestForegroundPermission(ctx context.Context) (PermissionStatus, error)
	RequestBackgroundPermission(ctx context.Context) (PermissionStatus, error)
	// CurrentPosition performs a single best-effort read.
	CurrentPosition(ctx context.Context) (models.Fix, error)
	// Readings streams raw device readings until ctx is done.
	Readings(ctx context.Context) (<-chan models.Fix, error)
}

// BackgroundOptions configures a platform-managed background location task.
type BackgroundOptions struct {
	DistanceMeters   float64
	Interval         time.Duration
	DeferredInterval time.Duration
}

// BackgroundHandler is invoked by the platform with a batch of fixes. It runs
// outside the foreground session and may run after a process restart.
type BackgroundHandler func(ctx context.Context, fixes []models.Fix) error

// BackgroundTaskManager is the host platform's background-execution facility.
type BackgroundTaskManager interface {
	IsTaskRegistered(ctx context.Context, name string) (bool, error)
	StartLocationUpdates(ctx context.Context, name string, opts BackgroundOptions, handler BackgroundHandler) error
	StopLocationUpdates(ctx context.Context, name string) error
}
