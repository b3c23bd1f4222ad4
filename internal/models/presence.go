package models

// StatusMaxLength is the longest heart-beat message, in characters.
const StatusMaxLength = 20

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timestamp int64   `json:"timestamp"` // ms since epoch
}

// UserPresence is the document kept for one paired identity.
// Location and Status are nil until first written.
type UserPresence struct {
	UserID          string    `json:"userId,omitempty"`
	Location        *Location `json:"location,omitempty"`
	Status          *string   `json:"status,omitempty"`
	StatusTimestamp int64     `json:"statusTimestamp,omitempty"`
}

// StatusText returns the status or "" when none was ever set.
func (p *UserPresence) StatusText() string {
	if p == nil || p.Status == nil {
		return ""
	}
	return *p.Status
}

func (p *UserPresence) Clone() *UserPresence {
	if p == nil {
		return nil
	}
	out := *p
	if p.Location != nil {
		loc := *p.Location
		out.Location = &loc
	}
	if p.Status != nil {
		s := *p.Status
		out.Status = &s
	}
	return &out
}

// PresencePatch is a merge-write: nil fields are left untouched.
type PresencePatch struct {
	Location        *Location `json:"location,omitempty"`
	Status          *string   `json:"status,omitempty"`
	StatusTimestamp *int64    `json:"statusTimestamp,omitempty"`
}

func (p PresencePatch) IsEmpty() bool {
	return p.Location == nil && p.Status == nil && p.StatusTimestamp == nil
}

// Apply merges the patch into presence.
func (p PresencePatch) Apply(presence *UserPresence) {
	if p.Location != nil {
		loc := *p.Location
		presence.Location = &loc
	}
	if p.Status != nil {
		s := *p.Status
		presence.Status = &s
	}
	if p.StatusTimestamp != nil {
		presence.StatusTimestamp = *p.StatusTimestamp
	}
}

func LocationPatch(loc Location) PresencePatch {
	return PresencePatch{Location: &loc}
}

func StatusPatch(text string, timestamp int64) PresencePatch {
	return PresencePatch{Status: &text, StatusTimestamp: &timestamp}
}

// PresenceSnapshot is one observation of a presence document.
type PresenceSnapshot struct {
	UserID   string        `json:"userId"`
	Presence *UserPresence `json:"presence,omitempty"` // nil when the document does not exist
}

func (s PresenceSnapshot) Exists() bool {
	return s.Presence != nil
}
