package repositories

import (
	"context"
	"sync"

	"github.com/prudhvinik1/ussync/internal/models"
)

const streamBufferSize = 16

// ChannelStream is a PresenceStream fed by a single producer goroutine.
// The producer calls Send for every snapshot and Finish exactly once when done.
type ChannelStream struct {
	updates chan models.PresenceSnapshot
	cancel  context.CancelFunc

	mu       sync.Mutex
	err      error
	finished bool
}

// NewChannelStream returns the stream and the context the producer must run under.
// Close cancels that context.
func NewChannelStream(parent context.Context) (*ChannelStream, context.Context) {
	ctx, cancel := context.WithCancel(parent)
	return &ChannelStream{
		updates: make(chan models.PresenceSnapshot, streamBufferSize),
		cancel:  cancel,
	}, ctx
}

// Send delivers snap unless ctx is done. It reports whether the snapshot was delivered.
func (s *ChannelStream) Send(ctx context.Context, snap models.PresenceSnapshot) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	case s.updates <- snap:
		return true
	}
}

// Finish closes the update channel. err is dropped when ctx was already canceled,
// so a stream ended by Close reports a nil Err.
func (s *ChannelStream) Finish(ctx context.Context, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.finished = true
	if ctx.Err() == nil {
		s.err = err
	}
	close(s.updates)
	s.cancel()
}

func (s *ChannelStream) Updates() <-chan models.PresenceSnapshot {
	return s.updates
}

func (s *ChannelStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *ChannelStream) Close() error {
	s.cancel()
	return nil
}
