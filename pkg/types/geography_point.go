package types

import (
	"database/sql/driver"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

const (
	earthRadiusKm = 6371.0
	sridWGS84     = 4326

	wkbPoint    = 1
	ewkbSRIDBit = 0x20000000
)

// GeographyPoint is a WGS84 coordinate pair. Shop locations are stored as
// geography(Point,4326) on postgres and as EWKT text on sqlite.
type GeographyPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (GeographyPoint) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "geography(Point,4326)"
	}
	return "text"
}

// Valid reports whether both coordinates are finite and within WGS84 bounds.
func (g GeographyPoint) Valid() bool {
	if math.IsNaN(g.Lat) || math.IsNaN(g.Lng) {
		return false
	}
	return math.Abs(g.Lat) <= 90 && math.Abs(g.Lng) <= 180
}

// DistanceKm is the haversine great-circle distance to other.
func (g GeographyPoint) DistanceKm(other GeographyPoint) float64 {
	phi1, phi2 := radians(g.Lat), radians(other.Lat)
	dPhi := phi2 - phi1
	dLambda := radians(other.Lng - g.Lng)

	h := hav(dPhi) + math.Cos(phi1)*math.Cos(phi2)*hav(dLambda)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(math.Min(1, h)))
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

func hav(theta float64) float64 {
	s := math.Sin(theta / 2)
	return s * s
}

// Value writes EWKT, which postgis casts to geography and sqlite stores verbatim.
func (g GeographyPoint) Value() (driver.Value, error) {
	return "SRID=" + strconv.Itoa(sridWGS84) + ";POINT(" +
		strconv.FormatFloat(g.Lng, 'f', -1, 64) + " " +
		strconv.FormatFloat(g.Lat, 'f', -1, 64) + ")", nil
}

// Scan accepts EWKT/WKT text, hex-encoded EWKB (postgis' text output) and raw WKB.
func (g *GeographyPoint) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*g = GeographyPoint{}
		return nil
	case string:
		return g.decode([]byte(v))
	case []byte:
		return g.decode(v)
	default:
		return fmt.Errorf("geography: unsupported scan type %T", src)
	}
}

func (g *GeographyPoint) decode(raw []byte) error {
	text := strings.TrimSpace(string(raw))
	upper := strings.ToUpper(text)
	switch {
	case strings.HasPrefix(upper, "SRID=") || strings.HasPrefix(upper, "POINT"):
		return g.parseWKT(text)
	case len(text) > 0 && len(text)%2 == 0 && isHex(text):
		decoded, err := hex.DecodeString(text)
		if err != nil {
			return fmt.Errorf("geography: %w", err)
		}
		return g.parseWKB(decoded)
	default:
		return g.parseWKB(raw)
	}
}

func (g *GeographyPoint) parseWKT(text string) error {
	if _, rest, ok := strings.Cut(text, ";"); ok {
		text = rest
	}
	body, ok := strings.CutPrefix(strings.ToUpper(strings.TrimSpace(text)), "POINT")
	body = strings.TrimSpace(body)
	if !ok || !strings.HasPrefix(body, "(") || !strings.HasSuffix(body, ")") {
		return fmt.Errorf("geography: unsupported text %q", text)
	}
	coords := strings.Fields(body[1 : len(body)-1])
	if len(coords) != 2 {
		return fmt.Errorf("geography: want 2 coordinates, got %d", len(coords))
	}
	lng, err := strconv.ParseFloat(coords[0], 64)
	if err != nil {
		return fmt.Errorf("geography: longitude: %w", err)
	}
	lat, err := strconv.ParseFloat(coords[1], 64)
	if err != nil {
		return fmt.Errorf("geography: latitude: %w", err)
	}
	g.Lng, g.Lat = lng, lat
	return nil
}

func (g *GeographyPoint) parseWKB(raw []byte) error {
	if len(raw) < 5 {
		return fmt.Errorf("geography: wkb too short")
	}
	var order binary.ByteOrder
	switch raw[0] {
	case 0:
		order = binary.BigEndian
	case 1:
		order = binary.LittleEndian
	default:
		return fmt.Errorf("geography: invalid byte order %d", raw[0])
	}

	geomType := order.Uint32(raw[1:5])
	body := raw[5:]
	if geomType&ewkbSRIDBit != 0 {
		if len(body) < 4 {
			return fmt.Errorf("geography: ewkb missing srid")
		}
		body = body[4:]
	}
	if geomType&0xffff != wkbPoint {
		return fmt.Errorf("geography: unexpected geometry type %d", geomType&0xffff)
	}
	if len(body) < 16 {
		return fmt.Errorf("geography: point body too short")
	}
	g.Lng = math.Float64frombits(order.Uint64(body[0:8]))
	g.Lat = math.Float64frombits(order.Uint64(body[8:16]))
	return nil
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}
