package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang/glog"
	"github.com/prudhvinik1/ussync/internal/models"
	"github.com/prudhvinik1/ussync/internal/repositories"
)

const BackgroundLocationTask = "background-location-task"

// BackgroundTracker registers the platform background task and publishes the
// fixes it delivers. The handler resolves the identity from durable storage on
// every invocation, never from process memory.
type BackgroundTracker struct {
	provider   LocationProvider
	tasks      BackgroundTaskManager
	identities repositories.IdentityRepository
	repo       repositories.PresenceRepository
	opts       BackgroundOptions
	retry      RetryPolicy
}

func NewBackgroundTracker(
	provider LocationProvider,
	tasks BackgroundTaskManager,
	identities repositories.IdentityRepository,
	repo repositories.PresenceRepository,
	opts BackgroundOptions,
	retry RetryPolicy,
) *BackgroundTracker {
	return &BackgroundTracker{
		provider:   provider,
		tasks:      tasks,
		identities: identities,
		repo:       repo,
		opts:       opts,
		retry:      retry,
	}
}

// Start registers background updates for userID. Without a background grant it
// returns ErrBackgroundPermissionDenied and registers nothing.
func (t *BackgroundTracker) Start(ctx context.Context, userID string) error {
	status, err := t.provider.RequestForegroundPermission(ctx)
	if err != nil {
		return fmt.Errorf("failed to request foreground permission: %w", err)
	}
	if status != PermissionGranted {
		return ErrForegroundPermissionDenied
	}

	status, err = t.provider.RequestBackgroundPermission(ctx)
	if err != nil {
		return fmt.Errorf("failed to request background permission: %w", err)
	}
	if status != PermissionGranted {
		glog.Warningf("[background]permission = %s, foreground cadence only\n", status)
		return ErrBackgroundPermissionDenied
	}

	// persisted before registering so the first invocation can resolve it
	if err := t.identities.SaveCurrentUser(ctx, userID); err != nil {
		return fmt.Errorf("failed to persist current user: %w", err)
	}

	registered, err := t.tasks.IsTaskRegistered(ctx, BackgroundLocationTask)
	if err != nil {
		return fmt.Errorf("failed to check background task: %w", err)
	}
	if registered {
		glog.V(1).Infof("[background]task already registered\n")
		return nil
	}

	if err := t.tasks.StartLocationUpdates(ctx, BackgroundLocationTask, t.opts, t.HandleLocations); err != nil {
		return fmt.Errorf("failed to start background updates: %w", err)
	}
	glog.Infof("[background]started for %s (%.0fm / %s, deferred %s)\n", userID, t.opts.DistanceMeters, t.opts.Interval, t.opts.DeferredInterval)
	return nil
}

// Stop unregisters the background task if it is registered. Safe to call repeatedly.
func (t *BackgroundTracker) Stop(ctx context.Context) error {
	registered, err := t.tasks.IsTaskRegistered(ctx, BackgroundLocationTask)
	if err != nil {
		return fmt.Errorf("failed to check background task: %w", err)
	}
	if !registered {
		return nil
	}
	if err := t.tasks.StopLocationUpdates(ctx, BackgroundLocationTask); err != nil {
		return fmt.Errorf("failed to stop background updates: %w", err)
	}
	glog.Infof("[background]stopped\n")
	return nil
}

// HandleLocations publishes the newest fix of a delivered batch.
func (t *BackgroundTracker) HandleLocations(ctx context.Context, fixes []models.Fix) error {
	if len(fixes) == 0 {
		return nil
	}
	userID, err := t.identities.CurrentUser(ctx)
	if errors.Is(err, repositories.ErrNotFound) {
		glog.V(1).Infof("[background]no signed-in identity, dropping %d fixes\n", len(fixes))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to resolve current user: %w", err)
	}

	latest := fixes[0]
	for _, fix := range fixes[1:] {
		if fix.Timestamp >= latest.Timestamp {
			latest = fix
		}
	}
	glog.V(1).Infof("[background]publish %s batch=%d\n", userID, len(fixes))
	return NewPresencePublisher(t.repo, userID, t.retry).PublishLocation(ctx, latest)
}
