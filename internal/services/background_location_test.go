package services

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/prudhvinik1/ussync/internal/config"
	"github.com/prudhvinik1/ussync/internal/models"
	"github.com/prudhvinik1/ussync/internal/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T, provider *fakeProvider, tasks *fakeTasks, repo repositories.PresenceRepository) (*BackgroundTracker, string) {
	path := filepath.Join(t.TempDir(), "identity.yaml")
	identities := repositories.NewFileIdentityRepository(path)
	return NewBackgroundTracker(provider, tasks, identities, repo, BackgroundOptionsFor(config.DefaultCadence()), fastRetry()), path
}

// TestBackgroundTracker_BackgroundDenied tests that no task is registered without background access
func TestBackgroundTracker_BackgroundDenied(t *testing.T) {
	provider := newFakeProvider(dhaka)
	provider.background = PermissionDenied
	tasks := newFakeTasks()
	tracker, _ := newTestTracker(t, provider, tasks, newFlakyRepo())

	err := tracker.Start(context.Background(), "user_rubayet")

	assert.ErrorIs(t, err, ErrBackgroundPermissionDenied)
	registered, _ := tasks.IsTaskRegistered(context.Background(), BackgroundLocationTask)
	assert.False(t, registered)
	starts, _ := tasks.counts()
	assert.Equal(t, 0, starts)
}

func TestBackgroundTracker_ForegroundDenied(t *testing.T) {
	provider := newFakeProvider(dhaka)
	provider.foreground = PermissionDenied
	tasks := newFakeTasks()
	tracker, _ := newTestTracker(t, provider, tasks, newFlakyRepo())

	assert.ErrorIs(t, tracker.Start(context.Background(), "user_rubayet"), ErrForegroundPermissionDenied)
	starts, _ := tasks.counts()
	assert.Equal(t, 0, starts)
}

func TestBackgroundTracker_StartRegistersOnce(t *testing.T) {
	tasks := newFakeTasks()
	tracker, _ := newTestTracker(t, newFakeProvider(dhaka), tasks, newFlakyRepo())
	ctx := context.Background()

	require.NoError(t, tracker.Start(ctx, "user_rubayet"))
	require.NoError(t, tracker.Start(ctx, "user_rubayet"))

	starts, _ := tasks.counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, BackgroundOptionsFor(config.DefaultCadence()), tasks.opts)
}

// TestBackgroundTracker_StopIsIdempotent tests stopping with and without a registered task
func TestBackgroundTracker_StopIsIdempotent(t *testing.T) {
	tasks := newFakeTasks()
	tracker, _ := newTestTracker(t, newFakeProvider(dhaka), tasks, newFlakyRepo())
	ctx := context.Background()

	require.NoError(t, tracker.Stop(ctx))
	_, stops := tasks.counts()
	assert.Equal(t, 0, stops, "nothing to stop")

	require.NoError(t, tracker.Start(ctx, "user_rubayet"))
	require.NoError(t, tracker.Stop(ctx))
	require.NoError(t, tracker.Stop(ctx))
	_, stops = tasks.counts()
	assert.Equal(t, 1, stops)
}

// TestBackgroundTracker_HandlerReadsPersistedIdentity tests a handler invocation after a process restart
func TestBackgroundTracker_HandlerReadsPersistedIdentity(t *testing.T) {
	repo := newFlakyRepo()
	tasks := newFakeTasks()
	tracker, path := newTestTracker(t, newFakeProvider(dhaka), tasks, repo)
	ctx := context.Background()
	require.NoError(t, tracker.Start(ctx, "user_rubayet"))

	// a fresh process: new identity store over the same file, no session state
	restarted := NewBackgroundTracker(newFakeProvider(dhaka), tasks, repositories.NewFileIdentityRepository(path), repo,
		BackgroundOptionsFor(config.DefaultCadence()), fastRetry())

	older := models.Fix{Latitude: 23.8000, Longitude: 90.4000, Timestamp: 1000}
	newest := models.Fix{Latitude: 23.8103, Longitude: 90.4125, Timestamp: 3000}
	middle := models.Fix{Latitude: 23.8050, Longitude: 90.4050, Timestamp: 2000}
	require.NoError(t, restarted.HandleLocations(ctx, []models.Fix{older, newest, middle}))

	presence, err := repo.GetPresence(ctx, "user_rubayet")
	require.NoError(t, err)
	assert.Equal(t, newest.Location(), *presence.Location)
	assert.Equal(t, 1, repo.merges(), "one write per batch")
}

func TestBackgroundTracker_HandlerWithoutIdentity(t *testing.T) {
	repo := newFlakyRepo()
	tracker, _ := newTestTracker(t, newFakeProvider(dhaka), newFakeTasks(), repo)

	require.NoError(t, tracker.HandleLocations(context.Background(), []models.Fix{dhaka}))
	require.NoError(t, tracker.HandleLocations(context.Background(), nil))
	assert.Equal(t, 0, repo.merges())
}

// TestBackgroundTracker_RegisteredHandlerPublishes tests the handler handed to the task manager
func TestBackgroundTracker_RegisteredHandlerPublishes(t *testing.T) {
	repo := newFlakyRepo()
	tasks := newFakeTasks()
	tracker, _ := newTestTracker(t, newFakeProvider(dhaka), tasks, repo)
	ctx := context.Background()
	require.NoError(t, tracker.Start(ctx, "user_raisa"))

	handler := tasks.handler(BackgroundLocationTask)
	require.NotNil(t, handler)
	require.NoError(t, handler(ctx, []models.Fix{dhaka}))

	presence, err := repo.GetPresence(ctx, "user_raisa")
	require.NoError(t, err)
	assert.Equal(t, dhaka.Location(), *presence.Location)
}
