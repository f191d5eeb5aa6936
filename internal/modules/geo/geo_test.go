package geo

import (
	"math"
	"testing"

	"relay/internal/types"
)

func TestDistanceMeters_KnownDistances(t *testing.T) {
	tests := []struct {
		name      string
		a, b      types.Point
		want      float64
		tolerance float64
	}{
		{
			name:      "same point",
			a:         types.Point{Lat: 25.033, Lng: 121.565},
			b:         types.Point{Lat: 25.033, Lng: 121.565},
			want:      0,
			tolerance: 0.001,
		},
		{
			name:      "one degree of latitude (~111km)",
			a:         types.Point{Lat: 0, Lng: 0},
			b:         types.Point{Lat: 1, Lng: 0},
			want:      111195,
			tolerance: 100,
		},
		{
			name:      "Cairo to Alexandria (~180km)",
			a:         types.Point{Lat: 30.0444, Lng: 31.2357},
			b:         types.Point{Lat: 31.2001, Lng: 29.9187},
			want:      180000,
			tolerance: 10000,
		},
		{
			name:      "New York to Los Angeles (~3944km)",
			a:         types.Point{Lat: 40.7128, Lng: -74.0060},
			b:         types.Point{Lat: 34.0522, Lng: -118.2437},
			want:      3944000,
			tolerance: 50000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DistanceMeters(tt.a, tt.b)
			if math.Abs(got-tt.want) > tt.tolerance {
				t.Errorf("DistanceMeters() = %f, want %f (±%f)", got, tt.want, tt.tolerance)
			}
		})
	}
}

func TestDistanceMeters_Symmetry(t *testing.T) {
	a := types.Point{Lat: 25.0, Lng: 121.0}
	b := types.Point{Lat: 26.0, Lng: 122.0}
	d1 := DistanceMeters(a, b)
	d2 := DistanceMeters(b, a)
	if math.Abs(d1-d2) > 0.0001 {
		t.Errorf("distance is not symmetric: %f vs %f", d1, d2)
	}
}

func TestDistanceMeters_MonotoneWithSeparation(t *testing.T) {
	origin := types.Point{Lat: 0, Lng: 0}
	prev := 0.0
	for _, lat := range []float64{0.001, 0.01, 0.1, 1, 10} {
		d := DistanceMeters(origin, types.Point{Lat: lat, Lng: 0})
		if d <= prev {
			t.Fatalf("distance not monotone at lat=%f: %f <= %f", lat, d, prev)
		}
		prev = d
	}
}
