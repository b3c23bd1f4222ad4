package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/prudhvinik1/ussync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runPresenceRepositorySuite checks the behavior every presence backend must share.
func runPresenceRepositorySuite(t *testing.T, newRepo func(t *testing.T) PresenceRepository) {
	t.Run("GetMissing", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.GetPresence(context.Background(), uniqueUser("missing"))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("MergeIndependence", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		user := uniqueUser("rubayet")

		// ARRANGE: status first
		require.NoError(t, repo.MergePresence(ctx, user, models.StatusPatch("Missing you", 2000)))

		// ACT: location write must not touch the status
		require.NoError(t, repo.MergePresence(ctx, user, models.LocationPatch(models.Location{Latitude: 23.8103, Longitude: 90.4125, Timestamp: 1000})))

		// ASSERT
		presence, err := repo.GetPresence(ctx, user)
		require.NoError(t, err)
		require.NotNil(t, presence.Location)
		assert.Equal(t, 23.8103, presence.Location.Latitude)
		assert.Equal(t, 90.4125, presence.Location.Longitude)
		assert.Equal(t, int64(1000), presence.Location.Timestamp)
		assert.Equal(t, "Missing you", presence.StatusText())
		assert.Equal(t, int64(2000), presence.StatusTimestamp)

		// and a status write must not touch the location
		require.NoError(t, repo.MergePresence(ctx, user, models.StatusPatch("home", 3000)))
		presence, err = repo.GetPresence(ctx, user)
		require.NoError(t, err)
		require.NotNil(t, presence.Location)
		assert.Equal(t, int64(1000), presence.Location.Timestamp)
		assert.Equal(t, "home", presence.StatusText())
	})

	t.Run("LastWriteWins", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		user := uniqueUser("raisa")

		require.NoError(t, repo.MergePresence(ctx, user, models.LocationPatch(models.Location{Latitude: 1, Longitude: 1, Timestamp: 2000})))
		require.NoError(t, repo.MergePresence(ctx, user, models.LocationPatch(models.Location{Latitude: 2, Longitude: 2, Timestamp: 1000})))

		presence, err := repo.GetPresence(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, 2.0, presence.Location.Latitude, "store is last-write-wins by arrival")
	})

	t.Run("WatchDeliversChanges", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		user := uniqueUser("partner")

		stream, err := repo.Watch(ctx, user)
		require.NoError(t, err)
		defer stream.Close()

		first := nextSnapshot(t, stream)
		assert.Equal(t, user, first.UserID)
		assert.False(t, first.Exists(), "no document yet")

		require.NoError(t, repo.MergePresence(ctx, user, models.LocationPatch(models.Location{Latitude: 23.8103, Longitude: 90.4125, Timestamp: 1000})))
		snap := waitForSnapshot(t, stream, func(s models.PresenceSnapshot) bool {
			return s.Exists() && s.Presence.Location != nil
		})
		assert.Equal(t, 23.8103, snap.Presence.Location.Latitude)
		assert.Equal(t, "", snap.Presence.StatusText())

		require.NoError(t, repo.MergePresence(ctx, user, models.StatusPatch("Missing you", 2000)))
		snap = waitForSnapshot(t, stream, func(s models.PresenceSnapshot) bool {
			return s.Exists() && s.Presence.StatusText() == "Missing you"
		})
		require.NotNil(t, snap.Presence.Location)
		assert.Equal(t, 90.4125, snap.Presence.Location.Longitude)
	})

	t.Run("WatchIgnoresOtherUsers", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		user := uniqueUser("watched")
		other := uniqueUser("other")

		stream, err := repo.Watch(ctx, user)
		require.NoError(t, err)
		defer stream.Close()
		nextSnapshot(t, stream)

		require.NoError(t, repo.MergePresence(ctx, other, models.StatusPatch("not for you", 1)))
		require.NoError(t, repo.MergePresence(ctx, user, models.StatusPatch("for you", 2)))

		snap := nextSnapshot(t, stream)
		assert.Equal(t, user, snap.UserID)
		assert.Equal(t, "for you", snap.Presence.StatusText())
	})

	t.Run("CloseEndsStream", func(t *testing.T) {
		repo := newRepo(t)
		stream, err := repo.Watch(context.Background(), uniqueUser("closed"))
		require.NoError(t, err)
		nextSnapshot(t, stream)

		require.NoError(t, stream.Close())
		drainUntilClosed(t, stream)
		assert.NoError(t, stream.Err(), "a stream ended by Close reports no error")
	})

	t.Run("CanceledContextEndsStream", func(t *testing.T) {
		repo := newRepo(t)
		ctx, cancel := context.WithCancel(context.Background())
		stream, err := repo.Watch(ctx, uniqueUser("canceled"))
		require.NoError(t, err)
		nextSnapshot(t, stream)

		cancel()
		drainUntilClosed(t, stream)
		assert.NoError(t, stream.Err())
	})
}

func uniqueUser(name string) string {
	return "user_" + name + "_" + time.Now().Format("150405.000000000")
}

func nextSnapshot(t *testing.T, stream PresenceStream) models.PresenceSnapshot {
	t.Helper()
	select {
	case snap, ok := <-stream.Updates():
		require.True(t, ok, "stream ended early: %v", stream.Err())
		return snap
	case <-time.After(5 * time.Second):
		require.FailNow(t, "timed out waiting for snapshot")
	}
	return models.PresenceSnapshot{}
}

func waitForSnapshot(t *testing.T, stream PresenceStream, match func(models.PresenceSnapshot) bool) models.PresenceSnapshot {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case snap, ok := <-stream.Updates():
			require.True(t, ok, "stream ended early: %v", stream.Err())
			if match(snap) {
				return snap
			}
		case <-deadline:
			require.FailNow(t, "timed out waiting for matching snapshot")
		}
	}
}

func drainUntilClosed(t *testing.T, stream PresenceStream) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-stream.Updates():
			if !ok {
				return
			}
		case <-deadline:
			require.FailNow(t, "stream did not close")
		}
	}
}
