package geo

import (
	"math"
	"testing"

	"ridedispatch/internal/domain"
)

func TestHaversine(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		a, b domain.Point
		want float64
		tol  float64
	}{
		{
			name: "same point",
			a:    domain.Point{Lat: 37.0, Lng: -122.0},
			b:    domain.Point{Lat: 37.0, Lng: -122.0},
			want: 0,
			tol:  0.001,
		},
		{
			name: "one degree of latitude",
			a:    domain.Point{Lat: 0, Lng: 0},
			b:    domain.Point{Lat: 1, Lng: 0},
			want: 111195,
			tol:  5,
		},
		{
			name: "san francisco to los angeles",
			a:    domain.Point{Lat: 37.7749, Lng: -122.4194},
			b:    domain.Point{Lat: 34.0522, Lng: -118.2437},
			want: 559120,
			tol:  1000,
		},
		{
			name: "across the antimeridian",
			a:    domain.Point{Lat: 0, Lng: 179.999},
			b:    domain.Point{Lat: 0, Lng: -179.999},
			want: 222.4,
			tol:  1,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Haversine(tc.a, tc.b)
			if math.Abs(got-tc.want) > tc.tol {
				t.Errorf("Haversine = %.1f, want %.1f ± %.1f", got, tc.want, tc.tol)
			}
		})
	}
}
