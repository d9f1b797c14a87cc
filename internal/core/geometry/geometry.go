// Package geometry normalizes user supplied geometries (WKT or GeoJSON) to WKT.
package geometry

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"
)

var ErrInvalidGeometry = errors.New("the geometry is not a valid WKT or GeoJSON")

const wktNumber = `[-+]?(?:\d+\.?\d*|\.\d+)(?:[eE][-+]?\d+)?`

var (
	dimensionTag   = regexp.MustCompile(`(?i)\b(POINT|LINESTRING|POLYGON|MULTIPOINT|MULTILINESTRING|MULTIPOLYGON|GEOMETRYCOLLECTION)\s*(?:ZM|Z|M)\s*(\(|EMPTY)`)
	extraOrdinates = regexp.MustCompile(`(` + wktNumber + `)\s+(` + wktNumber + `)(?:\s+` + wktNumber + `){1,2}`)
)

// parseWKT parses 2D WKT with orb, falling back to a 2D projection of
// Z, M and ZM input.
func parseWKT(s string) (orb.Geometry, error) {
	g, err := wkt.Unmarshal(s)
	if err == nil {
		return g, nil
	}
	flat := dimensionTag.ReplaceAllString(s, "${1} ${2}")
	flat = extraOrdinates.ReplaceAllString(flat, "${1} ${2}")
	if flat == s {
		return nil, err
	}
	if g, ferr := wkt.Unmarshal(flat); ferr == nil {
		return g, nil
	}
	return nil, err
}

// Normalize returns WKT input unchanged and converts GeoJSON input to WKT
func Normalize(text string) (string, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return "", fmt.Errorf("%w: empty input", ErrInvalidGeometry)
	}

	_, wktErr := parseWKT(s)
	if wktErr == nil {
		return text, nil
	}

	g, jsonErr := GeoJSONToOrb(s)
	if jsonErr != nil {
		return "", fmt.Errorf("%w: wkt: %v; geojson: %v", ErrInvalidGeometry, wktErr, jsonErr)
	}
	return wkt.MarshalString(g), nil
}

// GeoJSONToOrb parses a GeoJSON geometry or Feature
func GeoJSONToOrb(s string) (orb.Geometry, error) {
	var hdr struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(s), &hdr); err != nil {
		return nil, fmt.Errorf("parse geojson: %w", err)
	}

	switch strings.TrimSpace(hdr.Type) {
	case "":
		return nil, errors.New(`missing required member "type"`)
	case "Feature":
		f, err := geojson.UnmarshalFeature([]byte(s))
		if err != nil {
			return nil, fmt.Errorf("parse feature: %w", err)
		}
		if f.Geometry == nil {
			return nil, errors.New("feature has no geometry")
		}
		return f.Geometry, nil
	case "FeatureCollection":
		return nil, errors.New("feature collections are not supported; send a single geometry")
	default:
		g, err := geojson.UnmarshalGeometry([]byte(s))
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", hdr.Type, err)
		}
		geom := g.Geometry()
		if isEmpty(geom) {
			return nil, fmt.Errorf("%s has no coordinates", hdr.Type)
		}
		return geom, nil
	}
}

func isEmpty(g orb.Geometry) bool {
	switch v := g.(type) {
	case nil:
		return true
	case orb.Polygon:
		return len(v) == 0 || len(v[0]) == 0
	case orb.MultiPolygon:
		return len(v) == 0
	case orb.LineString:
		return len(v) == 0
	case orb.MultiLineString:
		return len(v) == 0
	case orb.MultiPoint:
		return len(v) == 0
	case orb.Collection:
		return len(v) == 0
	}
	return false
}

// Polygonal parses canonical WKT and returns it only if it is a polygon or multipolygon
func Polygonal(text string) (orb.Geometry, error) {
	g, err := parseWKT(strings.TrimSpace(text))
	if err != nil {
		return nil, fmt.Errorf("parse wkt: %w", err)
	}
	switch g.(type) {
	case orb.Polygon, orb.MultiPolygon:
		return g, nil
	default:
		return nil, fmt.Errorf("unsupported geometry type %s (want Polygon or MultiPolygon)", g.GeoJSONType())
	}
}
