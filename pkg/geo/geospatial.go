// Package geo stores points on the globe in a quadb index and answers radius and bounding box
// searches with great-circle distances.
//
// Latitude is axis 0 and longitude axis 1 of a 2-dimensional index whose grid starts at
// (-90, -180) with a resolution of one micro-degree (about 11 cm). Two points that round to the
// same cell replace each other.
package geo

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/liliang-cn/quadb"
	"github.com/liliang-cn/quadb/pkg/geom"
)

const (
	// EarthRadiusKM is the Earth's radius in kilometers
	EarthRadiusKM = 6371.0
	// EarthRadiusMiles is the Earth's radius in miles
	EarthRadiusMiles = 3959.0

	// Resolution is the grid cell size in degrees.
	Resolution = 1e-6

	kmPerDegree = EarthRadiusKM * math.Pi / 180
)

// DistanceUnit represents the unit for distance calculations
type DistanceUnit string

const (
	Kilometers DistanceUnit = "km"
	Miles      DistanceUnit = "miles"
	Meters     DistanceUnit = "meters"
)

// Coordinate represents a geographic coordinate
type Coordinate struct {
	Lat float64 `json:"lat" cbor:"lat"`
	Lng float64 `json:"lng" cbor:"lng"`
}

// GeoPoint represents a point with ID and coordinates
type GeoPoint struct {
	ID         string            `json:"id" cbor:"id"`
	Coordinate Coordinate        `json:"coordinate" cbor:"coordinate"`
	Metadata   map[string]string `json:"metadata,omitempty" cbor:"metadata,omitempty"`
}

// GeoSearchResult represents a search result with distance
type GeoSearchResult struct {
	Point    GeoPoint `json:"point"`
	Distance float64  `json:"distance"`
}

// BoundingBox represents a rectangular geographic area. MinLng > MaxLng describes a box that
// crosses the antimeridian.
type BoundingBox struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLng float64 `json:"max_lng"`
}

// GeoIndex provides geo-spatial indexing and search on top of a persistent index. Searches
// refresh the index window, so a GeoIndex should not share its database table with other
// readers of the cache.
type GeoIndex struct {
	ix *quadb.Index[GeoPoint]
}

// Config returns cfg with the layout every geo index uses.
func Config(cfg quadb.Config) quadb.Config {
	cfg.Dimensions = 2
	cfg.BitsPerAxis = 32
	cfg.Origin = []float64{-90, -180}
	cfg.Resolution = Resolution
	return cfg
}

// Open opens a geo index in the database named by cfg.Path.
func Open(ctx context.Context, cfg quadb.Config) (*GeoIndex, error) {
	ix, err := quadb.Open[GeoPoint](ctx, Config(cfg))
	if err != nil {
		return nil, err
	}
	return &GeoIndex{ix: ix}, nil
}

// Close closes the underlying index.
func (g *GeoIndex) Close() error {
	return g.ix.Close()
}

// Insert adds a geo point to the index, replacing any point at the same coordinate.
func (g *GeoIndex) Insert(ctx context.Context, point GeoPoint) error {
	if point.ID == "" {
		return fmt.Errorf("point ID cannot be empty")
	}
	if !isValidCoordinate(point.Coordinate) {
		return fmt.Errorf("invalid coordinate: lat=%f, lng=%f", point.Coordinate.Lat, point.Coordinate.Lng)
	}
	return g.ix.Insert(ctx, position(point.Coordinate), point)
}

// Delete removes the point stored at coord.
func (g *GeoIndex) Delete(ctx context.Context, coord Coordinate) error {
	if !isValidCoordinate(coord) {
		return fmt.Errorf("invalid coordinate: lat=%f, lng=%f", coord.Lat, coord.Lng)
	}
	return g.ix.Remove(ctx, position(coord))
}

// Get returns the point stored at coord.
func (g *GeoIndex) Get(ctx context.Context, coord Coordinate) (GeoPoint, bool, error) {
	if !isValidCoordinate(coord) {
		return GeoPoint{}, false, fmt.Errorf("invalid coordinate: lat=%f, lng=%f", coord.Lat, coord.Lng)
	}
	return g.ix.Lookup(ctx, position(coord))
}

// Size returns the number of stored points.
func (g *GeoIndex) Size(ctx context.Context) (int64, error) {
	return g.ix.Len(ctx)
}

// SearchRadius finds all points within a given radius from a center point, nearest first.
func (g *GeoIndex) SearchRadius(ctx context.Context, center Coordinate, radius float64, unit DistanceUnit) ([]GeoSearchResult, error) {
	if !isValidCoordinate(center) {
		return nil, fmt.Errorf("invalid center coordinate")
	}
	if radius <= 0 {
		return nil, fmt.Errorf("radius must be positive")
	}

	radiusKM := convertToKM(radius, unit)
	candidates, err := g.SearchBoundingBox(ctx, boundingBoxAround(center, radiusKM))
	if err != nil {
		return nil, err
	}

	var results []GeoSearchResult
	for _, point := range candidates {
		dist := haversineDistance(center, point.Coordinate)
		if dist <= radiusKM {
			results = append(results, GeoSearchResult{
				Point:    point,
				Distance: convertFromKM(dist, unit),
			})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})
	return results, nil
}

// SearchBoundingBox finds all points within a bounding box.
func (g *GeoIndex) SearchBoundingBox(ctx context.Context, bbox BoundingBox) ([]GeoPoint, error) {
	if !isValidBoundingBox(bbox) {
		return nil, fmt.Errorf("invalid bounding box")
	}

	var results []GeoPoint
	for _, w := range bbox.windows() {
		if err := g.ix.StreamWindow(ctx, w); err != nil {
			return nil, err
		}
		for _, it := range g.ix.Cached() {
			results = append(results, it.Value)
		}
	}
	return results, nil
}

func position(c Coordinate) []float64 {
	return []float64{c.Lat, c.Lng}
}

// windows splits bbox at the antimeridian.
func (b BoundingBox) windows() []geom.Window {
	if b.MinLng <= b.MaxLng {
		return []geom.Window{mustWindow(b.MinLat, b.MinLng, b.MaxLat, b.MaxLng)}
	}
	return []geom.Window{
		mustWindow(b.MinLat, b.MinLng, b.MaxLat, 180),
		mustWindow(b.MinLat, -180, b.MaxLat, b.MaxLng),
	}
}

func mustWindow(minLat, minLng, maxLat, maxLng float64) geom.Window {
	w, err := geom.NewWindow([]float64{minLat, minLng}, []float64{maxLat, maxLng})
	if err != nil {
		// Callers pass validated, ordered corners.
		panic(err)
	}
	return w
}

// boundingBoxAround returns a box enclosing every point within radiusKM of center.
func boundingBoxAround(center Coordinate, radiusKM float64) BoundingBox {
	dLat := radiusKM / kmPerDegree
	bbox := BoundingBox{
		MinLat: math.Max(center.Lat-dLat, -90),
		MaxLat: math.Min(center.Lat+dLat, 90),
		MinLng: -180,
		MaxLng: 180,
	}
	// Near a pole every longitude is in reach.
	if bbox.MinLat == -90 || bbox.MaxLat == 90 {
		return bbox
	}

	// The widest longitude span is at the latitude farthest from the equator.
	maxAbsLat := math.Max(math.Abs(bbox.MinLat), math.Abs(bbox.MaxLat))
	dLng := dLat / math.Cos(maxAbsLat*math.Pi/180)
	if dLng >= 180 {
		return bbox
	}

	bbox.MinLng = center.Lng - dLng
	bbox.MaxLng = center.Lng + dLng
	if bbox.MinLng < -180 {
		bbox.MinLng += 360
	}
	if bbox.MaxLng > 180 {
		bbox.MaxLng -= 360
	}
	return bbox
}

// haversineDistance calculates the great-circle distance between two points in kilometers
func haversineDistance(p1, p2 Coordinate) float64 {
	lat1Rad := p1.Lat * math.Pi / 180
	lat2Rad := p2.Lat * math.Pi / 180
	deltaLat := (p2.Lat - p1.Lat) * math.Pi / 180
	deltaLng := (p2.Lng - p1.Lng) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLng/2)*math.Sin(deltaLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusKM * c
}

// isValidCoordinate checks if a coordinate is valid
func isValidCoordinate(coord Coordinate) bool {
	return coord.Lat >= -90 && coord.Lat <= 90 &&
		coord.Lng >= -180 && coord.Lng <= 180
}

// isValidBoundingBox checks if a bounding box is valid
func isValidBoundingBox(bbox BoundingBox) bool {
	return bbox.MinLat >= -90 && bbox.MaxLat <= 90 &&
		bbox.MinLng >= -180 && bbox.MaxLng <= 180 &&
		bbox.MinLat <= bbox.MaxLat
}

// convertToKM converts distance to kilometers
func convertToKM(distance float64, unit DistanceUnit) float64 {
	switch unit {
	case Miles:
		return distance * 1.60934
	case Meters:
		return distance / 1000.0
	default: // Kilometers
		return distance
	}
}

// convertFromKM converts distance from kilometers
func convertFromKM(distance float64, unit DistanceUnit) float64 {
	switch unit {
	case Miles:
		return distance / 1.60934
	case Meters:
		return distance * 1000.0
	default: // Kilometers
		return distance
	}
}
