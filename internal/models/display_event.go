package models

type EventType string

const (
	EventUserUpdate           EventType = "USER_UPDATE"
	EventPartnerUpdate        EventType = "PARTNER_UPDATE"
	EventCenterOnUser         EventType = "CENTER_ON_USER"
	EventSetUserStatus        EventType = "SET_USER_STATUS"
	EventPartnerStatusUnknown EventType = "PARTNER_STATUS_UNKNOWN"
	EventPermissionDenied     EventType = "PERMISSION_DENIED"
	EventPublishFailed        EventType = "PUBLISH_FAILED"
)

// DisplayEvent is one message to the display surface.
// Payloads are comparable value types so repeated events can be detected with ==.
type DisplayEvent struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload,omitempty"`
}

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type PartnerPayload struct {
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
	Status string  `json:"status"`
}

type StatusPayload struct {
	Text string `json:"text"`
}

type PermissionPayload struct {
	Scope string `json:"scope"` // "foreground" or "background"
}

type FailurePayload struct {
	Kind string `json:"kind"` // "location" or "status"
}

func UserUpdate(f Fix) DisplayEvent {
	return DisplayEvent{Type: EventUserUpdate, Payload: Coordinates{Lat: f.Latitude, Lng: f.Longitude}}
}

func CenterOnUser(f Fix) DisplayEvent {
	return DisplayEvent{Type: EventCenterOnUser, Payload: Coordinates{Lat: f.Latitude, Lng: f.Longitude}}
}

func PartnerUpdate(loc Location, status string) DisplayEvent {
	return DisplayEvent{Type: EventPartnerUpdate, Payload: PartnerPayload{Lat: loc.Latitude, Lng: loc.Longitude, Status: status}}
}

func SetUserStatus(text string) DisplayEvent {
	return DisplayEvent{Type: EventSetUserStatus, Payload: StatusPayload{Text: text}}
}

func PartnerStatusUnknown() DisplayEvent {
	return DisplayEvent{Type: EventPartnerStatusUnknown}
}

func PermissionDenied(scope string) DisplayEvent {
	return DisplayEvent{Type: EventPermissionDenied, Payload: PermissionPayload{Scope: scope}}
}

func PublishFailed(kind string) DisplayEvent {
	return DisplayEvent{Type: EventPublishFailed, Payload: FailurePayload{Kind: kind}}
}
