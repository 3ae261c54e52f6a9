package geo

import (
	"math"

	"github.com/golang/geo/s2"

	"github.com/example/spot-finder/internal/models"
)

const (
	earthRadiusMeters = 6371000.0
	// kmPerDegree is the length of one degree of latitude.
	kmPerDegree = 111.0
	// cellLevel gives cells of roughly 150m on a side.
	cellLevel = 16
)

// Box is a latitude/longitude rectangle used as a cheap prefilter.
type Box struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// BoundingBox approximates the square of side 2*radiusKm around center.
// No correction is made near the poles or across the antimeridian.
func BoundingBox(center models.Location, radiusKm float64) Box {
	dLat := radiusKm / kmPerDegree
	dLon := radiusKm / (kmPerDegree * math.Cos(center.Latitude*math.Pi/180))
	return Box{
		MinLat: center.Latitude - dLat,
		MaxLat: center.Latitude + dLat,
		MinLon: center.Longitude - dLon,
		MaxLon: center.Longitude + dLon,
	}
}

func (b Box) ContainsLat(lat float64) bool { return lat >= b.MinLat && lat <= b.MaxLat }

func (b Box) ContainsLon(lon float64) bool { return lon >= b.MinLon && lon <= b.MaxLon }

// Center returns the midpoint of the box.
func (b Box) Center() models.Location {
	return models.Location{Latitude: (b.MinLat + b.MaxLat) / 2, Longitude: (b.MinLon + b.MaxLon) / 2}
}

// SizeKm returns the box width and height in kilometres.
func (b Box) SizeKm() (width, height float64) {
	height = (b.MaxLat - b.MinLat) * kmPerDegree
	width = (b.MaxLon - b.MinLon) * kmPerDegree * math.Cos(b.Center().Latitude*math.Pi/180)
	return width, height
}

// DistanceMeters is the great-circle distance between a and b.
func DistanceMeters(a, b models.Location) float64 {
	pa := s2.LatLngFromDegrees(a.Latitude, a.Longitude)
	pb := s2.LatLngFromDegrees(b.Latitude, b.Longitude)
	return pa.Distance(pb).Radians() * earthRadiusMeters
}

// CellToken returns the s2 cell token of the location at a street-level resolution.
func CellToken(l models.Location) string {
	return s2.CellIDFromLatLng(s2.LatLngFromDegrees(l.Latitude, l.Longitude)).Parent(cellLevel).ToToken()
}
