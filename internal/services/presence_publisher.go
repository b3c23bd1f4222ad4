package services

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang/glog"
	"github.com/prudhvinik1/ussync/internal/metrics"
	"github.com/prudhvinik1/ussync/internal/models"
	"github.com/prudhvinik1/ussync/internal/repositories"
	"golang.org/x/text/unicode/norm"
)

var (
	ErrInvalidStatus = errors.New("invalid status message")
	ErrStoreWrite    = errors.New("presence store write failed")
)

// RetryPolicy bounds the retries made after a failed store write.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      4,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, p.MaxRetries), ctx)
}

// PresencePublisher turns local intent into merge-writes on the owner's own document.
type PresencePublisher struct {
	repo   repositories.PresenceRepository
	userID string
	retry  RetryPolicy
	now    func() time.Time
}

func NewPresencePublisher(repo repositories.PresenceRepository, userID string, retry RetryPolicy) *PresencePublisher {
	return &PresencePublisher{
		repo:   repo,
		userID: userID,
		retry:  retry,
		now:    time.Now,
	}
}

func (p *PresencePublisher) UserID() string {
	return p.userID
}

// ValidateStatus accepts 1 to StatusMaxLength characters, counted after NFC
// normalization.
func ValidateStatus(text string) error {
	if text == "" {
		return fmt.Errorf("%w: empty", ErrInvalidStatus)
	}
	if n := utf8.RuneCountInString(norm.NFC.String(text)); n > models.StatusMaxLength {
		return fmt.Errorf("%w: %d characters, max %d", ErrInvalidStatus, n, models.StatusMaxLength)
	}
	return nil
}

// PublishLocation writes the fix as the user's location. Status is untouched.
func (p *PresencePublisher) PublishLocation(ctx context.Context, fix models.Fix) error {
	return p.publish(ctx, "location", models.LocationPatch(fix.Location()))
}

// PublishStatus writes text and the current time as the user's status. Location is untouched.
func (p *PresencePublisher) PublishStatus(ctx context.Context, text string) error {
	if err := ValidateStatus(text); err != nil {
		return err
	}
	text = norm.NFC.String(text)
	return p.publish(ctx, "status", models.StatusPatch(text, p.now().UnixMilli()))
}

func (p *PresencePublisher) publish(ctx context.Context, kind string, patch models.PresencePatch) error {
	attempt := 0
	op := func() error {
		attempt++
		err := p.repo.MergePresence(ctx, p.userID, patch)
		if err != nil {
			metrics.PublishAttemptsTotal.WithLabelValues(kind, "failure").Inc()
			glog.V(1).Infof("[publish]%s %s attempt %d error = %s\n", kind, p.userID, attempt, err)
			if errors.Is(err, repositories.ErrRejected) {
				return backoff.Permanent(err)
			}
			return err
		}
		metrics.PublishAttemptsTotal.WithLabelValues(kind, "success").Inc()
		return nil
	}

	if err := backoff.Retry(op, p.retry.backOff(ctx)); err != nil {
		glog.Warningf("[publish]%s %s failed after %d attempts = %s\n", kind, p.userID, attempt, err)
		return fmt.Errorf("%w: %s: %w", ErrStoreWrite, kind, err)
	}
	return nil
}
