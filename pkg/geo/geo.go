package geo

import "math"

// earthRadiusKm is the mean Earth radius used for great-circle distances.
const earthRadiusKm = 6371.0

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// HaversineKm returns the great-circle distance between two points in kilometres.
func HaversineKm(a, b Point) float64 {
	latA := degToRad(a.Lat)
	latB := degToRad(b.Lat)
	dLat := degToRad(b.Lat - a.Lat)
	dLng := degToRad(b.Lng - a.Lng)

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)

	h := sinLat*sinLat + math.Cos(latA)*math.Cos(latB)*sinLng*sinLng
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// BoundingBox is a latitude/longitude rectangle used as a cheap SQL prefilter
// before the exact haversine check.
type BoundingBox struct {
	MinLat float64
	MaxLat float64
	MinLng float64
	MaxLng float64
}

// BoxAround returns a bounding box that fully contains the circle of radiusKm
// around the centre. Longitude spans widen towards the poles; near the poles
// the box degenerates to the full longitude range.
func BoxAround(centre Point, radiusKm float64) BoundingBox {
	if radiusKm < 0 {
		radiusKm = 0
	}

	latDelta := radToDeg(radiusKm / earthRadiusKm)

	box := BoundingBox{
		MinLat: centre.Lat - latDelta,
		MaxLat: centre.Lat + latDelta,
	}

	cosLat := math.Cos(degToRad(centre.Lat))
	if cosLat < 1e-6 {
		box.MinLng = -180
		box.MaxLng = 180
	} else {
		lngDelta := radToDeg(radiusKm / (earthRadiusKm * cosLat))
		box.MinLng = centre.Lng - lngDelta
		box.MaxLng = centre.Lng + lngDelta
	}

	if box.MinLat < -90 {
		box.MinLat = -90
	}
	if box.MaxLat > 90 {
		box.MaxLat = 90
	}
	return box
}

// Valid reports whether the point is a plausible WGS84 coordinate.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

func degToRad(deg float64) float64 { return deg * math.Pi / 180 }

func radToDeg(rad float64) float64 { return rad * 180 / math.Pi }
