package repositories

import (
	"context"
	"sync"

	"github.com/prudhvinik1/ussync/internal/models"
)

type MemoryPresenceRepository struct {
	mu       sync.Mutex
	docs     map[string]*models.UserPresence
	watchers map[string]map[chan struct{}]struct{}
}

func NewMemoryPresenceRepository() *MemoryPresenceRepository {
	return &MemoryPresenceRepository{
		docs:     make(map[string]*models.UserPresence),
		watchers: make(map[string]map[chan struct{}]struct{}),
	}
}

func (r *MemoryPresenceRepository) GetPresence(ctx context.Context, userID string) (*models.UserPresence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, ok := r.docs[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return doc.Clone(), nil
}

func (r *MemoryPresenceRepository) MergePresence(ctx context.Context, userID string, patch models.PresencePatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	doc, ok := r.docs[userID]
	if !ok {
		doc = &models.UserPresence{UserID: userID}
		r.docs[userID] = doc
	}
	patch.Apply(doc)

	// Signals coalesce; watchers always re-read the latest document.
	for signal := range r.watchers[userID] {
		select {
		case signal <- struct{}{}:
		default:
		}
	}
	return nil
}

func (r *MemoryPresenceRepository) Watch(ctx context.Context, userID string) (PresenceStream, error) {
	signal := make(chan struct{}, 1)
	signal <- struct{}{} // initial snapshot

	r.mu.Lock()
	if r.watchers[userID] == nil {
		r.watchers[userID] = make(map[chan struct{}]struct{})
	}
	r.watchers[userID][signal] = struct{}{}
	r.mu.Unlock()

	stream, streamCtx := NewChannelStream(ctx)
	go func() {
		defer func() {
			r.mu.Lock()
			delete(r.watchers[userID], signal)
			r.mu.Unlock()
			stream.Finish(streamCtx, nil)
		}()

		for {
			select {
			case <-streamCtx.Done():
				return
			case <-signal:
			}
			snap := models.PresenceSnapshot{UserID: userID}
			if doc, err := r.GetPresence(streamCtx, userID); err == nil {
				snap.Presence = doc
			}
			if !stream.Send(streamCtx, snap) {
				return
			}
		}
	}()
	return stream, nil
}

// WatcherCount reports the number of open watches on userID.
func (r *MemoryPresenceRepository) WatcherCount(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.watchers[userID])
}
