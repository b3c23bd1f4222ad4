package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prudhvinik1/ussync/internal/config"
	"github.com/prudhvinik1/ussync/internal/models"
	"github.com/prudhvinik1/ussync/internal/repositories"
	"github.com/stretchr/testify/require"
)

var errTransport = errors.New("transport down")

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}
}

func fastSubscriber() SubscriberOptions {
	return SubscriberOptions{UnknownAfter: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, StableAfter: time.Minute}
}

func testCadence() config.Cadence {
	c := config.DefaultCadence()
	c.ForegroundInterval = time.Hour
	return c
}

// fakeProvider is a scripted LocationProvider.
type fakeProvider struct {
	mu           sync.Mutex
	foreground   PermissionStatus
	background   PermissionStatus
	position     models.Fix
	positionErr  error
	currentCalls int
	readings     chan models.Fix
}

func newFakeProvider(position models.Fix) *fakeProvider {
	return &fakeProvider{
		foreground: PermissionGranted,
		background: PermissionGranted,
		position:   position,
		readings:   make(chan models.Fix),
	}
}

func (p *fakeProvider) RequestForegroundPermission(ctx context.Context) (PermissionStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.foreground, nil
}

func (p *fakeProvider) RequestBackgroundPermission(ctx context.Context) (PermissionStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.background, nil
}

func (p *fakeProvider) CurrentPosition(ctx context.Context) (models.Fix, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.currentCalls++
	if p.foreground != PermissionGranted {
		return models.Fix{}, ErrForegroundPermissionDenied
	}
	if p.positionErr != nil {
		return models.Fix{}, p.positionErr
	}
	return p.position, nil
}

func (p *fakeProvider) Readings(ctx context.Context) (<-chan models.Fix, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.foreground != PermissionGranted {
		return nil, ErrForegroundPermissionDenied
	}
	return p.readings, nil
}

func (p *fakeProvider) set(fn func(p *fakeProvider)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}

func (p *fakeProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentCalls
}

// fakeTasks is an in-process BackgroundTaskManager.
type fakeTasks struct {
	mu         sync.Mutex
	registered map[string]BackgroundHandler
	opts       BackgroundOptions
	starts     int
	stops      int
}

func newFakeTasks() *fakeTasks {
	return &fakeTasks{registered: map[string]BackgroundHandler{}}
}

func (f *fakeTasks) IsTaskRegistered(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.registered[name]
	return ok, nil
}

func (f *fakeTasks) StartLocationUpdates(ctx context.Context, name string, opts BackgroundOptions, handler BackgroundHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	f.opts = opts
	f.registered[name] = handler
	return nil
}

func (f *fakeTasks) StopLocationUpdates(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	delete(f.registered, name)
	return nil
}

func (f *fakeTasks) handler(name string) BackgroundHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.registered[name]
}

func (f *fakeTasks) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops
}

// flakyRepo wraps the memory repository with injectable failures.
type flakyRepo struct {
	*repositories.MemoryPresenceRepository

	mu          sync.Mutex
	failMerges  int
	mergeErr    error
	mergeCalls  int
	failWatches int
	watchCalls  int
}

func newFlakyRepo() *flakyRepo {
	return &flakyRepo{MemoryPresenceRepository: repositories.NewMemoryPresenceRepository()}
}

func (r *flakyRepo) MergePresence(ctx context.Context, userID string, patch models.PresencePatch) error {
	r.mu.Lock()
	r.mergeCalls++
	if r.failMerges > 0 {
		r.failMerges--
		err := r.mergeErr
		r.mu.Unlock()
		if err == nil {
			err = errTransport
		}
		return err
	}
	r.mu.Unlock()
	return r.MemoryPresenceRepository.MergePresence(ctx, userID, patch)
}

func (r *flakyRepo) Watch(ctx context.Context, userID string) (repositories.PresenceStream, error) {
	r.mu.Lock()
	r.watchCalls++
	if r.failWatches > 0 {
		r.failWatches--
		r.mu.Unlock()
		return nil, errTransport
	}
	r.mu.Unlock()
	return r.MemoryPresenceRepository.Watch(ctx, userID)
}

// droppingRepo delivers the current document on every Watch and then drops the stream.
type droppingRepo struct {
	*repositories.MemoryPresenceRepository

	mu         sync.Mutex
	watchCalls int
}

func (r *droppingRepo) Watch(ctx context.Context, userID string) (repositories.PresenceStream, error) {
	r.mu.Lock()
	r.watchCalls++
	r.mu.Unlock()

	snap := models.PresenceSnapshot{UserID: userID}
	if presence, err := r.GetPresence(ctx, userID); err == nil {
		snap.Presence = presence
	}
	stream, streamCtx := repositories.NewChannelStream(ctx)
	go func() {
		stream.Send(streamCtx, snap)
		stream.Finish(streamCtx, errTransport)
	}()
	return stream, nil
}

func (r *droppingRepo) watches() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.watchCalls
}

func (r *flakyRepo) set(fn func(r *flakyRepo)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r)
}

func (r *flakyRepo) merges() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mergeCalls
}

// recordingSurface keeps every event it receives.
type recordingSurface struct {
	mu     sync.Mutex
	events []models.DisplayEvent
}

func (s *recordingSurface) Post(event models.DisplayEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSurface) Events() []models.DisplayEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.DisplayEvent(nil), s.events...)
}

func (s *recordingSurface) ofType(typ models.EventType) []models.DisplayEvent {
	var out []models.DisplayEvent
	for _, e := range s.Events() {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func (s *recordingSurface) waitFor(t *testing.T, want models.DisplayEvent) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, e := range s.Events() {
			if e == want {
				return true
			}
		}
		return false
	}, 5*time.Second, 5*time.Millisecond, "never received %+v, got %+v", want, s.Events())
}

func nextFix(t *testing.T, stream *FixStream) models.Fix {
	t.Helper()
	select {
	case fix, ok := <-stream.Fixes():
		require.True(t, ok, "fix stream ended: %v", stream.Err())
		return fix
	case <-time.After(5 * time.Second):
		require.FailNow(t, "timed out waiting for fix")
	}
	return models.Fix{}
}

func pushReading(t *testing.T, p *fakeProvider, fix models.Fix) {
	t.Helper()
	select {
	case p.readings <- fix:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "sampler did not take reading")
	}
}
