package simulator

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/prudhvinik1/ussync/internal/utils"
)

type Waypoint struct {
	Latitude  float64 `yaml:"lat"`
	Longitude float64 `yaml:"lng"`
}

// Route walks a polyline at constant speed and loops back to the first waypoint.
type Route struct {
	points []Waypoint
	legs   []float64 // meters, legs[i] is points[i] -> points[i+1 mod n]
	total  float64
	speed  float64 // meters per second
}

func NewRoute(points []Waypoint, speed float64) (*Route, error) {
	if len(points) == 0 {
		return nil, errors.New("route needs at least one waypoint")
	}
	if speed < 0 {
		return nil, errors.New("speed must not be negative")
	}
	r := &Route{points: points, speed: speed}
	if len(points) > 1 {
		r.legs = make([]float64, len(points))
		for i, p := range points {
			next := points[(i+1)%len(points)]
			r.legs[i] = utils.DistanceMeters(p.Latitude, p.Longitude, next.Latitude, next.Longitude)
			r.total += r.legs[i]
		}
	}
	return r, nil
}

// PositionAt returns the coordinate reached after walking for elapsed.
func (r *Route) PositionAt(elapsed time.Duration) (float64, float64) {
	first := r.points[0]
	if r.total == 0 || r.speed == 0 || elapsed <= 0 {
		return first.Latitude, first.Longitude
	}

	walked := r.speed * elapsed.Seconds()
	for walked >= r.total {
		walked -= r.total
	}
	for i, leg := range r.legs {
		if walked <= leg {
			from, to := r.points[i], r.points[(i+1)%len(r.points)]
			if leg == 0 {
				return from.Latitude, from.Longitude
			}
			return utils.Interpolate(from.Latitude, from.Longitude, to.Latitude, to.Longitude, walked/leg)
		}
		walked -= leg
	}
	return first.Latitude, first.Longitude
}

// ParseWaypoints reads "lat,lng;lat,lng;..." as given on the command line.
func ParseWaypoints(raw string) ([]Waypoint, error) {
	var out []Waypoint
	for _, pair := range strings.Split(raw, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.Split(pair, ",")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid waypoint %q", pair)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil || lat < -90 || lat > 90 {
			return nil, fmt.Errorf("invalid latitude in %q", pair)
		}
		lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil || lng < -180 || lng > 180 {
			return nil, fmt.Errorf("invalid longitude in %q", pair)
		}
		out = append(out, Waypoint{Latitude: lat, Longitude: lng})
	}
	if len(out) == 0 {
		return nil, errors.New("no waypoints")
	}
	return out, nil
}
