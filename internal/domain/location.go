package domain

import "math"

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point is a finite coordinate inside the WGS84 range.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// VehicleClass is the capability tag a request asks for and a driver offers.
type VehicleClass string

const (
	VehicleClassEconomy VehicleClass = "ECONOMY"
	VehicleClassComfort VehicleClass = "COMFORT"
	VehicleClassXL      VehicleClass = "XL"
	VehicleClassPremium VehicleClass = "PREMIUM"
)

// Valid reports whether the class is one of the known classes.
func (c VehicleClass) Valid() bool {
	switch c {
	case VehicleClassEconomy, VehicleClassComfort, VehicleClassXL, VehicleClassPremium:
		return true
	}
	return false
}

// Matches reports whether a driver of class c can serve a request for want.
// An empty want accepts any class.
func (c VehicleClass) Matches(want VehicleClass) bool {
	return want == "" || c == want
}
