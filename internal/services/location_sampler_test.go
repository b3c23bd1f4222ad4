package services

import (
	"context"
	"testing"
	"time"

	"github.com/prudhvinik1/ussync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var dhaka = models.Fix{Latitude: 23.8103, Longitude: 90.4125, Timestamp: 1000}

// TestLocationSampler_InitialFix tests that one fix is emitted immediately on start
func TestLocationSampler_InitialFix(t *testing.T) {
	provider := newFakeProvider(dhaka)
	sampler := NewLocationSampler(provider, CadencePolicy{DistanceMeters: 30, Interval: time.Hour})

	stream, err := sampler.Start(context.Background())
	require.NoError(t, err)
	defer stream.Stop()

	assert.Equal(t, dhaka, nextFix(t, stream))
	assert.Equal(t, 1, provider.calls())
}

func TestLocationSampler_ForegroundDenied(t *testing.T) {
	provider := newFakeProvider(dhaka)
	provider.foreground = PermissionDenied
	sampler := NewLocationSampler(provider, CadencePolicy{DistanceMeters: 30, Interval: time.Hour})

	_, err := sampler.Start(context.Background())
	assert.ErrorIs(t, err, ErrForegroundPermissionDenied)
	assert.Equal(t, 0, provider.calls(), "no read without permission")
}

// TestLocationSampler_DistanceTrigger tests that small moves are held back and large moves emitted
func TestLocationSampler_DistanceTrigger(t *testing.T) {
	provider := newFakeProvider(dhaka)
	sampler := NewLocationSampler(provider, CadencePolicy{DistanceMeters: 30, Interval: time.Hour})

	stream, err := sampler.Start(context.Background())
	require.NoError(t, err)
	defer stream.Stop()
	nextFix(t, stream)

	pushReading(t, provider, models.Fix{Latitude: 23.8104, Longitude: 90.4125, Timestamp: 2000})
	select {
	case fix := <-stream.Fixes():
		t.Fatalf("unexpected fix for an 11m move: %+v", fix)
	case <-time.After(50 * time.Millisecond):
	}

	far := models.Fix{Latitude: 23.8110, Longitude: 90.4125, Timestamp: 3000}
	pushReading(t, provider, far)
	assert.Equal(t, far, nextFix(t, stream))
}

// TestLocationSampler_TimeTrigger tests that a stationary device still reports every interval
func TestLocationSampler_TimeTrigger(t *testing.T) {
	provider := newFakeProvider(dhaka)
	sampler := NewLocationSampler(provider, CadencePolicy{DistanceMeters: 30, Interval: 20 * time.Millisecond})

	stream, err := sampler.Start(context.Background())
	require.NoError(t, err)
	defer stream.Stop()

	nextFix(t, stream)
	provider.set(func(p *fakeProvider) { p.position.Timestamp = 2000 })
	for nextFix(t, stream).Timestamp != 2000 {
	}
	assert.GreaterOrEqual(t, provider.calls(), 2)
}

func TestLocationSampler_MonotonicTimestamps(t *testing.T) {
	provider := newFakeProvider(models.Fix{Latitude: 23.8103, Longitude: 90.4125, Timestamp: 5000})
	sampler := NewLocationSampler(provider, CadencePolicy{DistanceMeters: 30, Interval: time.Hour})

	stream, err := sampler.Start(context.Background())
	require.NoError(t, err)
	defer stream.Stop()
	nextFix(t, stream)

	// a late-arriving reading whose capture time is older than the last emission
	pushReading(t, provider, models.Fix{Latitude: 23.8200, Longitude: 90.4125, Timestamp: 4000})
	fix := nextFix(t, stream)
	assert.Equal(t, 23.8200, fix.Latitude)
	assert.Equal(t, int64(5000), fix.Timestamp)
}

// TestLocationSampler_Revoked tests that revocation ends sampling with the permission error
func TestLocationSampler_Revoked(t *testing.T) {
	provider := newFakeProvider(dhaka)
	sampler := NewLocationSampler(provider, CadencePolicy{DistanceMeters: 30, Interval: 10 * time.Millisecond})

	stream, err := sampler.Start(context.Background())
	require.NoError(t, err)
	nextFix(t, stream)

	provider.set(func(p *fakeProvider) { p.foreground = PermissionDenied })
	for range stream.Fixes() {
	}
	assert.ErrorIs(t, stream.Err(), ErrForegroundPermissionDenied)
	stream.Stop()
}

func TestLocationSampler_ReadingsClosed(t *testing.T) {
	provider := newFakeProvider(dhaka)
	sampler := NewLocationSampler(provider, CadencePolicy{DistanceMeters: 30, Interval: time.Hour})

	stream, err := sampler.Start(context.Background())
	require.NoError(t, err)
	nextFix(t, stream)

	close(provider.readings)
	for range stream.Fixes() {
	}
	assert.ErrorIs(t, stream.Err(), ErrLocationUnavailable)
}

func TestLocationSampler_StopIsClean(t *testing.T) {
	provider := newFakeProvider(dhaka)
	sampler := NewLocationSampler(provider, CadencePolicy{DistanceMeters: 30, Interval: time.Hour})

	stream, err := sampler.Start(context.Background())
	require.NoError(t, err)
	nextFix(t, stream)

	stream.Stop()
	stream.Stop()
	_, ok := <-stream.Fixes()
	assert.False(t, ok)
	assert.NoError(t, stream.Err())
}

// TestLocationSampler_InitialFixError tests that a failed first read does not stop sampling
func TestLocationSampler_InitialFixError(t *testing.T) {
	provider := newFakeProvider(dhaka)
	provider.positionErr = errTransport
	sampler := NewLocationSampler(provider, CadencePolicy{DistanceMeters: 30, Interval: time.Hour})

	stream, err := sampler.Start(context.Background())
	require.NoError(t, err)
	defer stream.Stop()

	pushReading(t, provider, dhaka)
	assert.Equal(t, dhaka, nextFix(t, stream))
}
