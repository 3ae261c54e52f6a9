package geo

import (
	geojson "github.com/paulmach/go.geojson"
)

// FeatureCollection renders matches as GeoJSON points for map widgets.
func FeatureCollection(matches []Match) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, m := range matches {
		s := m.Spot
		f := geojson.NewPointFeature([]float64{s.Location.Longitude, s.Location.Latitude})
		f.ID = s.ID
		f.SetProperty("type", string(s.Type))
		f.SetProperty("status", string(s.Status))
		f.SetProperty("verified", s.Verified)
		f.SetProperty("distanceMeters", m.DistanceMeters)
		if s.Cost.Valid {
			f.SetProperty("cost", s.Cost.Decimal.StringFixed(2))
		}
		if s.Location.Address != "" {
			f.SetProperty("address", s.Location.Address)
		}
		if m.ETASeconds != nil {
			f.SetProperty("etaSeconds", *m.ETASeconds)
		}
		fc.AddFeature(f)
	}
	return fc
}
