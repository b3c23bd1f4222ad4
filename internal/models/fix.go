package models

import "time"

// Fix is a single coordinate reading with its capture time.
type Fix struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timestamp int64   `json:"timestamp"` // ms since epoch
}

func (f Fix) Location() Location {
	return Location{Latitude: f.Latitude, Longitude: f.Longitude, Timestamp: f.Timestamp}
}

func (f Fix) Time() time.Time {
	return time.UnixMilli(f.Timestamp)
}
