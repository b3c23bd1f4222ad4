package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/golang/glog"
	"github.com/prudhvinik1/ussync/internal/config"
	"github.com/prudhvinik1/ussync/internal/models"
	"github.com/prudhvinik1/ussync/internal/repositories"
	"golang.org/x/text/unicode/norm"
)

var (
	ErrSessionActive = errors.New("map session already started")
	ErrSessionClosed = errors.New("map session closed")
)

type MapSessionConfig struct {
	Pairing    models.Pairing
	Repo       repositories.PresenceRepository
	Identities repositories.IdentityRepository
	Provider   LocationProvider
	// Tasks is optional; without it only the foreground cadence runs.
	Tasks      BackgroundTaskManager
	Cadence    config.Cadence
	Retry      RetryPolicy
	Subscriber SubscriberOptions
	Surface    Surface
}

// MapSession is one map-view session for the signed-in member of the pairing.
type MapSession struct {
	pairing    models.Pairing
	provider   LocationProvider
	identities repositories.IdentityRepository
	sampler    *LocationSampler
	publisher  *PresencePublisher
	partner    *PartnerSubscriber
	background *BackgroundTracker
	surface    Surface

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	sub     *PartnerSubscription
	fixes   *FixStream
	lastFix *models.Fix
	wg      sync.WaitGroup
}

func NewMapSession(cfg MapSessionConfig) (*MapSession, error) {
	if err := cfg.Pairing.Validate(); err != nil {
		return nil, err
	}
	if cfg.Repo == nil || cfg.Identities == nil || cfg.Provider == nil || cfg.Surface == nil {
		return nil, errors.New("map session requires a repository, identity store, location provider and surface")
	}

	s := &MapSession{
		pairing:    cfg.Pairing,
		provider:   cfg.Provider,
		identities: cfg.Identities,
		sampler:    NewLocationSampler(cfg.Provider, ForegroundPolicy(cfg.Cadence)),
		publisher:  NewPresencePublisher(cfg.Repo, cfg.Pairing.SelfID, cfg.Retry),
		partner:    NewPartnerSubscriber(cfg.Repo, cfg.Pairing, cfg.Subscriber),
		surface:    NewDedupSurface(cfg.Surface),
	}
	if cfg.Tasks != nil {
		s.background = NewBackgroundTracker(cfg.Provider, cfg.Tasks, cfg.Identities, cfg.Repo, BackgroundOptionsFor(cfg.Cadence), cfg.Retry)
	}
	return s, nil
}

// Start subscribes to the partner and starts sampling. Permission denials are
// posted to the surface rather than failing the session.
func (s *MapSession) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.started {
		return ErrSessionActive
	}

	self := s.pairing.SelfID
	if err := s.identities.SaveCurrentUser(ctx, self); err != nil {
		return fmt.Errorf("failed to persist current user: %w", err)
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	sub, err := s.partner.Subscribe(sessionCtx, s.surface)
	if err != nil {
		cancel()
		return err
	}

	fixes, err := s.sampler.Start(sessionCtx)
	switch {
	case errors.Is(err, ErrForegroundPermissionDenied):
		glog.Warningf("[session]%s foreground location denied\n", self)
		s.surface.Post(models.PermissionDenied("foreground"))
	case err != nil:
		sub.Close()
		cancel()
		return err
	default:
		s.wg.Add(1)
		go s.consumeFixes(sessionCtx, fixes)

		if s.background != nil {
			err := s.background.Start(sessionCtx, self)
			switch {
			case errors.Is(err, ErrBackgroundPermissionDenied):
				s.surface.Post(models.PermissionDenied("background"))
			case err != nil:
				glog.Warningf("[session]%s background start error = %s\n", self, err)
			}
		}
	}

	s.started = true
	s.cancel = cancel
	s.sub = sub
	s.fixes = fixes
	glog.Infof("[session]%s started, following %s\n", self, s.pairing.PartnerID)
	return nil
}

// consumeFixes draws every fix right away and hands publishing to publishFixes
// through a one-slot queue holding only the newest unsent fix, so a slow or
// failing store never holds up sampling.
func (s *MapSession) consumeFixes(ctx context.Context, fixes *FixStream) {
	defer s.wg.Done()

	pending := make(chan models.Fix, 1)
	s.wg.Add(1)
	go s.publishFixes(ctx, pending)
	defer close(pending)

	first := true
	for fix := range fixes.Fixes() {
		s.mu.Lock()
		last := fix
		s.lastFix = &last
		s.mu.Unlock()

		s.surface.Post(models.UserUpdate(fix))
		if first {
			s.surface.Post(models.CenterOnUser(fix))
			first = false
		}

		select {
		case stale := <-pending:
			glog.V(1).Infof("[session]fix at %d superseded before publish\n", stale.Timestamp)
		default:
		}
		pending <- fix
	}

	if err := fixes.Err(); err != nil {
		glog.Warningf("[session]sampling stopped = %s\n", err)
		if errors.Is(err, ErrForegroundPermissionDenied) {
			s.surface.Post(models.PermissionDenied("foreground"))
		}
	}
}

// publishFixes writes queued fixes one at a time, so the store sees them in capture order.
func (s *MapSession) publishFixes(ctx context.Context, pending <-chan models.Fix) {
	defer s.wg.Done()

	for fix := range pending {
		if ctx.Err() != nil {
			return
		}
		if err := s.publisher.PublishLocation(ctx, fix); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.surface.Post(models.PublishFailed("location"))
		}
	}
}

// SendStatus publishes a heart-beat message and echoes it to the local surface.
// Invalid text is rejected before any write.
func (s *MapSession) SendStatus(ctx context.Context, text string) error {
	if err := ValidateStatus(text); err != nil {
		return err
	}
	if err := s.publisher.PublishStatus(ctx, text); err != nil {
		s.surface.Post(models.PublishFailed("status"))
		return err
	}
	// echo the stored form so the local bubble matches the partner's
	s.surface.Post(models.SetUserStatus(norm.NFC.String(text)))
	return nil
}

// LocateMe centers the map on the last known fix, reading one if none is known yet.
func (s *MapSession) LocateMe(ctx context.Context) error {
	s.mu.Lock()
	last := s.lastFix
	s.mu.Unlock()
	if last != nil {
		s.surface.Post(models.CenterOnUser(*last))
		return nil
	}

	fix, err := s.provider.CurrentPosition(ctx)
	if err != nil {
		return fmt.Errorf("failed to read current position: %w", err)
	}
	s.mu.Lock()
	s.lastFix = &fix
	s.mu.Unlock()
	s.surface.Post(models.CenterOnUser(fix))
	return nil
}

// Close ends the session: the partner subscription is released and foreground
// sampling stops. Background updates keep running until Logout.
func (s *MapSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	sub, fixes, cancel := s.sub, s.fixes, s.cancel
	s.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	if cancel != nil {
		cancel()
	}
	if fixes != nil {
		fixes.Stop()
	}
	s.wg.Wait()
	glog.Infof("[session]%s closed\n", s.pairing.SelfID)
	return nil
}

// Logout closes the session, stops background updates and forgets the stored identity.
func (s *MapSession) Logout(ctx context.Context) error {
	s.Close()
	if s.background != nil {
		if err := s.background.Stop(ctx); err != nil {
			return err
		}
	}
	return s.identities.ClearCurrentUser(ctx)
}
