package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/prudhvinik1/ussync/internal/models"
)

var ErrLocationUnavailable = errors.New("location readings ended")

// LocationSampler produces foreground fixes at the configured cadence.
type LocationSampler struct {
	provider LocationProvider
	policy   CadencePolicy
	now      func() time.Time
}

func NewLocationSampler(provider LocationProvider, policy CadencePolicy) *LocationSampler {
	return &LocationSampler{
		provider: provider,
		policy:   policy,
		now:      time.Now,
	}
}

// FixStream is the output of one sampler run.
type FixStream struct {
	fixes  chan models.Fix
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Fixes is closed when sampling stops.
func (s *FixStream) Fixes() <-chan models.Fix {
	return s.fixes
}

// Err reports why sampling stopped on its own; nil after Stop.
func (s *FixStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stop ends sampling and waits for the sampling goroutine to exit. Safe to call more than once.
func (s *FixStream) Stop() {
	s.cancel()
	<-s.done
}

func (s *FixStream) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Start checks foreground permission, then emits one immediate best-effort fix
// followed by cadence-gated fixes until ctx is done or location becomes unavailable.
func (s *LocationSampler) Start(ctx context.Context) (*FixStream, error) {
	status, err := s.provider.RequestForegroundPermission(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to request foreground permission: %w", err)
	}
	if status != PermissionGranted {
		glog.Warningf("[sampler]foreground permission = %s\n", status)
		return nil, ErrForegroundPermissionDenied
	}

	runCtx, cancel := context.WithCancel(ctx)
	stream := &FixStream{
		fixes:  make(chan models.Fix),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.run(runCtx, stream)
	return stream, nil
}

func (s *LocationSampler) run(ctx context.Context, stream *FixStream) {
	defer close(stream.done)
	defer close(stream.fixes)

	gate := NewCadenceGate(s.policy)
	interval := s.policy.Interval
	if interval <= 0 {
		interval = time.Duration(math.MaxInt64)
	}
	timer := time.NewTimer(interval)
	defer timer.Stop()

	emit := func(fix models.Fix) bool {
		out := gate.Emitted(fix, s.now())
		select {
		case <-ctx.Done():
			return false
		case stream.fixes <- out:
		}
		timer.Reset(interval)
		return true
	}

	// request one fix up front so the surface never waits a full interval
	fix, err := s.provider.CurrentPosition(ctx)
	switch {
	case err == nil:
		if !emit(fix) {
			return
		}
	case errors.Is(err, ErrForegroundPermissionDenied):
		glog.Warningf("[sampler]initial fix denied\n")
		stream.fail(err)
		return
	case ctx.Err() != nil:
		return
	default:
		glog.Warningf("[sampler]initial fix error = %s\n", err)
	}

	readings, err := s.provider.Readings(ctx)
	if err != nil {
		if ctx.Err() == nil {
			glog.Warningf("[sampler]readings error = %s\n", err)
			stream.fail(err)
		}
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case reading, ok := <-readings:
			if !ok {
				if ctx.Err() == nil {
					glog.Warningf("[sampler]readings closed\n")
					stream.fail(ErrLocationUnavailable)
				}
				return
			}
			if gate.ShouldEmit(reading, s.now()) {
				if !emit(reading) {
					return
				}
			}
		case <-timer.C:
			fix, err := s.provider.CurrentPosition(ctx)
			if err != nil {
				if errors.Is(err, ErrForegroundPermissionDenied) {
					glog.Warningf("[sampler]permission revoked\n")
					stream.fail(err)
					return
				}
				if ctx.Err() != nil {
					return
				}
				glog.V(1).Infof("[sampler]interval fix error = %s\n", err)
				timer.Reset(interval)
				continue
			}
			if !emit(fix) {
				return
			}
		}
	}
}
