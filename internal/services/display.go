package services

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/golang/glog"
	"github.com/prudhvinik1/ussync/internal/models"
)

// Surface receives display events. Delivery is best effort; Post must not block for long.
type Surface interface {
	Post(event models.DisplayEvent)
}

// SurfaceFunc adapts a function to a Surface.
type SurfaceFunc func(event models.DisplayEvent)

func (f SurfaceFunc) Post(event models.DisplayEvent) {
	f(event)
}

// DedupSurface drops an event identical to the previous event of the same type,
// so at-least-once delivery upstream is a no-op at the display.
// CENTER_ON_USER is a command and always passes through.
type DedupSurface struct {
	next Surface

	mu   sync.Mutex
	last map[models.EventType]models.DisplayEvent
}

func NewDedupSurface(next Surface) *DedupSurface {
	return &DedupSurface{next: next, last: make(map[models.EventType]models.DisplayEvent)}
}

func (s *DedupSurface) Post(event models.DisplayEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.Type != models.EventCenterOnUser {
		if prev, ok := s.last[event.Type]; ok && prev == event {
			glog.V(2).Infof("[display]drop duplicate %s\n", event.Type)
			return
		}
		s.last[event.Type] = event
		// a fresh partner update supersedes the unknown state and vice versa
		switch event.Type {
		case models.EventPartnerUpdate:
			delete(s.last, models.EventPartnerStatusUnknown)
		case models.EventPartnerStatusUnknown:
			delete(s.last, models.EventPartnerUpdate)
		}
	}
	s.next.Post(event)
}

// JSONSurface writes one JSON object per line.
type JSONSurface struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONSurface(w io.Writer) *JSONSurface {
	return &JSONSurface{enc: json.NewEncoder(w)}
}

func (s *JSONSurface) Post(event models.DisplayEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(event); err != nil {
		glog.Warningf("[display]write %s error = %s\n", event.Type, err)
	}
}
