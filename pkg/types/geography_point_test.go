package types

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestGeographyPointValueScansBack(t *testing.T) {
	t.Parallel()

	point := GeographyPoint{Lat: 35.4676, Lng: -97.5164}
	raw, err := point.Value()
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if raw != "SRID=4326;POINT(-97.5164 35.4676)" {
		t.Fatalf("unexpected ewkt %q", raw)
	}

	var scanned GeographyPoint
	if err := scanned.Scan(raw); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if scanned != point {
		t.Fatalf("got %+v want %+v", scanned, point)
	}
}

func TestGeographyPointScanFormats(t *testing.T) {
	t.Parallel()

	wkb := make([]byte, 21)
	wkb[0] = 0
	binary.BigEndian.PutUint32(wkb[1:5], wkbPoint)
	binary.BigEndian.PutUint64(wkb[5:13], math.Float64bits(3))
	binary.BigEndian.PutUint64(wkb[13:21], math.Float64bits(4))

	cases := map[string]struct {
		src  any
		want GeographyPoint
	}{
		"wkt lowercase":  {src: "point(10.5 -20.25)", want: GeographyPoint{Lat: -20.25, Lng: 10.5}},
		"ewkt bytes":     {src: []byte("SRID=4326;POINT(1 2)"), want: GeographyPoint{Lat: 2, Lng: 1}},
		"hex ewkb":       {src: "0101000020E6100000000000000000F03F0000000000000040", want: GeographyPoint{Lat: 2, Lng: 1}},
		"raw big endian": {src: wkb, want: GeographyPoint{Lat: 4, Lng: 3}},
		"null resets":    {src: nil, want: GeographyPoint{}},
	}
	for name, tc := range cases {
		var got GeographyPoint
		if err := got.Scan(tc.src); err != nil {
			t.Fatalf("%s: scan: %v", name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %+v want %+v", name, got, tc.want)
		}
	}
}

func TestGeographyPointScanRejectsGarbage(t *testing.T) {
	t.Parallel()

	for name, src := range map[string]any{
		"line string":  "LINESTRING(0 0, 1 1)",
		"one coord":    "POINT(1)",
		"bad number":   "POINT(a b)",
		"short wkb":    []byte{1, 1, 0},
		"polygon ewkb": "0103000020E6100000",
		"unknown type": 42,
	} {
		var p GeographyPoint
		if err := p.Scan(src); err == nil {
			t.Fatalf("%s: expected error, got %+v", name, p)
		}
	}
}

func TestGeographyPointDistanceKm(t *testing.T) {
	t.Parallel()

	nyc := GeographyPoint{Lat: 40.7128, Lng: -74.0060}
	la := GeographyPoint{Lat: 34.0522, Lng: -118.2437}

	if d := nyc.DistanceKm(nyc); d != 0 {
		t.Fatalf("expected zero distance to self, got %v", d)
	}
	d := nyc.DistanceKm(la)
	if d < 3930 || d > 3950 {
		t.Fatalf("expected ~3936km between NYC and LA, got %v", d)
	}
	if back := la.DistanceKm(nyc); math.Abs(back-d) > 1e-9 {
		t.Fatalf("distance should be symmetric: %v vs %v", d, back)
	}
	// One degree of longitude on the equator.
	if d := (GeographyPoint{}).DistanceKm(GeographyPoint{Lng: 1}); math.Abs(d-111.19) > 0.01 {
		t.Fatalf("expected ~111.19km, got %v", d)
	}
}

func TestGeographyPointValid(t *testing.T) {
	t.Parallel()

	for _, p := range []GeographyPoint{{Lat: 91}, {Lng: -180.5}, {Lat: math.NaN()}, {Lng: math.Inf(1)}} {
		if p.Valid() {
			t.Fatalf("%+v should be invalid", p)
		}
	}
	if !(GeographyPoint{Lat: -90, Lng: 180}).Valid() {
		t.Fatalf("bounds are inclusive")
	}
}
