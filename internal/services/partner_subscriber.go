package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang/glog"
	"github.com/prudhvinik1/ussync/internal/metrics"
	"github.com/prudhvinik1/ussync/internal/models"
	"github.com/prudhvinik1/ussync/internal/repositories"
)

var errStreamEnded = errors.New("presence stream ended")

type SubscriberOptions struct {
	// UnknownAfter consecutive failures show the partner as unknown.
	UnknownAfter    int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// StableAfter is how long a stream must stay up, absent any change beyond
	// its initial snapshot, before the failure count and backoff reset.
	StableAfter time.Duration
}

func DefaultSubscriberOptions() SubscriberOptions {
	return SubscriberOptions{
		UnknownAfter:    3,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		StableAfter:     30 * time.Second,
	}
}

// PartnerSubscriber follows the partner's presence document.
type PartnerSubscriber struct {
	repo      repositories.PresenceRepository
	partnerID string
	opts      SubscriberOptions
}

func NewPartnerSubscriber(repo repositories.PresenceRepository, pairing models.Pairing, opts SubscriberOptions) *PartnerSubscriber {
	return &PartnerSubscriber{repo: repo, partnerID: pairing.PartnerID, opts: opts}
}

// PartnerSubscription is one live subscription. Close releases it.
type PartnerSubscription struct {
	partnerID string
	surface   Surface
	cancel    context.CancelFunc
	done      chan struct{}

	mu     sync.Mutex
	closed bool
}

// Subscribe starts following the partner and delivers events to surface until Close.
// Transport drops are retried with backoff for the life of the subscription.
func (s *PartnerSubscriber) Subscribe(ctx context.Context, surface Surface) (*PartnerSubscription, error) {
	if s.partnerID == "" {
		return nil, errors.New("partner id is required")
	}
	runCtx, cancel := context.WithCancel(ctx)
	sub := &PartnerSubscription{
		partnerID: s.partnerID,
		surface:   surface,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go sub.run(runCtx, s.repo, s.opts)
	return sub, nil
}

// Close stops the subscription. No event is delivered after Close returns.
func (p *PartnerSubscription) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cancel()
	<-p.done
	return nil
}

// Done is closed once the subscription has fully stopped.
func (p *PartnerSubscription) Done() <-chan struct{} {
	return p.done
}

func (p *PartnerSubscription) deliver(event models.DisplayEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.surface.Post(event)
}

func (p *PartnerSubscription) run(ctx context.Context, repo repositories.PresenceRepository, opts SubscriberOptions) {
	defer close(p.done)

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = opts.InitialInterval
	retry.MaxInterval = opts.MaxInterval
	retry.MaxElapsedTime = 0

	failures := 0
	unknown := false

	for ctx.Err() == nil {
		stream, err := repo.Watch(ctx, p.partnerID)
		if err == nil {
			connectedAt := time.Now()
			received := 0
			for snap := range stream.Updates() {
				received++
				// the initial snapshot alone does not prove the transport healthy
				if received > 1 || time.Since(connectedAt) >= opts.StableAfter {
					failures = 0
					retry.Reset()
				}
				if p.handle(snap) {
					unknown = false
				}
			}
			if time.Since(connectedAt) >= opts.StableAfter {
				failures = 0
				retry.Reset()
			}
			stream.Close()
			err = stream.Err()
			if err == nil {
				err = errStreamEnded
			}
		}
		if ctx.Err() != nil {
			return
		}

		failures++
		metrics.SubscriptionFailuresTotal.Inc()
		glog.Warningf("[partner]%s subscription failure %d = %s\n", p.partnerID, failures, err)
		if failures >= opts.UnknownAfter && !unknown {
			unknown = true
			p.deliver(models.PartnerStatusUnknown())
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(retry.NextBackOff()):
		}
	}
}

// handle reports whether a PARTNER_UPDATE was delivered.
func (p *PartnerSubscription) handle(snap models.PresenceSnapshot) bool {
	if !snap.Exists() || snap.Presence.Location == nil {
		// the surface keeps the last known marker
		metrics.PartnerEventsTotal.WithLabelValues("no_location").Inc()
		return false
	}
	metrics.PartnerEventsTotal.WithLabelValues("update").Inc()
	p.deliver(models.PartnerUpdate(*snap.Presence.Location, snap.Presence.StatusText()))
	return true
}
