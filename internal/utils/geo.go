package utils

import "math"

const earthRadiusMeters = 6371000.0

// DistanceMeters is the haversine great-circle distance between two coordinates.
func DistanceMeters(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(a)))
}

// Interpolate returns the point a fraction t of the way from (lat1,lng1) to (lat2,lng2).
// Linear in degrees, which is fine over the short legs a simulated walk uses.
func Interpolate(lat1, lng1, lat2, lng2, t float64) (float64, float64) {
	return lat1 + (lat2-lat1)*t, lng1 + (lng2-lng1)*t
}
