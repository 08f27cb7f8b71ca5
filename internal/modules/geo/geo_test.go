package geo

import (
	"math"
	"testing"

	"tripmatch/internal/types"
)

func TestDistanceKm_KnownDistances(t *testing.T) {
	tests := []struct {
		name      string
		a, b      types.Point
		wantKm    float64
		tolerance float64
	}{
		{
			name:      "same point",
			a:         types.Point{Lat: 12.9716, Lng: 77.5946},
			b:         types.Point{Lat: 12.9716, Lng: 77.5946},
			wantKm:    0,
			tolerance: 0.001,
		},
		{
			name:      "Bengaluru MG Road to Koramangala (~5km)",
			a:         types.Point{Lat: 12.9756, Lng: 77.6050},
			b:         types.Point{Lat: 12.9352, Lng: 77.6245},
			wantKm:    4.9,
			tolerance: 0.5,
		},
		{
			name:      "New York to Los Angeles (~3944km)",
			a:         types.Point{Lat: 40.7128, Lng: -74.0060},
			b:         types.Point{Lat: 34.0522, Lng: -118.2437},
			wantKm:    3944,
			tolerance: 50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DistanceKm(tt.a, tt.b)
			if math.Abs(got-tt.wantKm) > tt.tolerance {
				t.Errorf("DistanceKm() = %f, want %f (±%f)", got, tt.wantKm, tt.tolerance)
			}
		})
	}
}

func TestDistanceKm_Symmetry(t *testing.T) {
	a := types.Point{Lat: 25.0, Lng: 121.0}
	b := types.Point{Lat: 26.0, Lng: 122.0}
	if d1, d2 := DistanceKm(a, b), DistanceKm(b, a); math.Abs(d1-d2) > 0.0001 {
		t.Errorf("haversine is not symmetric: %f vs %f", d1, d2)
	}
}

func TestBoundingBox_ContainsCircle(t *testing.T) {
	center := types.Point{Lat: 12.9716, Lng: 77.5946}
	box := BoundingBox(center, 10)

	// Points 9.9km due north/east must be inside the box.
	north := types.Point{Lat: center.Lat + 9.9/111.2, Lng: center.Lng}
	east := types.Point{Lat: center.Lat, Lng: center.Lng + 9.9/(111.2*math.Cos(center.Lat*math.Pi/180))}
	for _, p := range []types.Point{center, north, east} {
		if !box.Contains(p) {
			t.Errorf("expected %+v inside %+v", p, box)
		}
		if !Within(center, p, 10) {
			t.Errorf("expected %+v within 10km", p)
		}
	}

	far := types.Point{Lat: center.Lat + 1, Lng: center.Lng}
	if box.Contains(far) {
		t.Errorf("expected %+v outside %+v", far, box)
	}
}

func TestBoundingBox_ClampsAtPole(t *testing.T) {
	box := BoundingBox(types.Point{Lat: 89.99, Lng: 0}, 50)
	if box.MaxLat != 90 || box.MinLng != -180 || box.MaxLng != 180 {
		t.Errorf("unexpected polar box %+v", box)
	}
}

func TestSortByDistance(t *testing.T) {
	type item struct {
		name string
		d    float64
	}
	items := []item{{"c", 3}, {"a", 1}, {"b", 2}, {"a2", 1}}
	SortByDistance(items, func(i item) float64 { return i.d })

	want := []string{"a", "a2", "b", "c"}
	for i, w := range want {
		if items[i].name != w {
			t.Fatalf("position %d: got %s, want %s", i, items[i].name, w)
		}
	}
}
