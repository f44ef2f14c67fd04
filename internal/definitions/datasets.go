package definitions

import "encoding/json"

// Country maps an ICAO prefix to a country and its radar facility naming.
type Country struct {
	Name         string `csv:"name" json:"name"`
	Code         string `csv:"code" json:"code"`
	FacilityName string `csv:"facility_name,omitempty" json:"facility_name,omitempty"`
}

// Airport is one aerodrome entry of the registry.
type Airport struct {
	ICAO      string  `csv:"icao" json:"icao"`
	Name      string  `csv:"name" json:"name"`
	Latitude  float64 `csv:"latitude" json:"latitude"`
	Longitude float64 `csv:"longitude" json:"longitude"`
	IATA      string  `csv:"iata,omitempty" json:"iata,omitempty"`
	FIR       string  `csv:"fir,omitempty" json:"fir,omitempty"`
	Pseudo    bool    `csv:"pseudo,omitempty" json:"pseudo"`
}

// FIR is a flight information region and the boundary id it is drawn with.
type FIR struct {
	ICAO           string `csv:"icao" json:"icao"`
	Name           string `csv:"name" json:"name"`
	CallsignPrefix string `csv:"callsign_prefix,omitempty" json:"callsign_prefix,omitempty"`
	Boundary       string `csv:"boundary,omitempty" json:"boundary,omitempty"`
}

// UIR groups several FIRs under one upper information region.
type UIR struct {
	ICAO string   `json:"icao"`
	Name string   `json:"name"`
	FIRs []string `json:"firs"`
}

// IDLPoint is one vertex of the international date line polyline.
type IDLPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// MainRegistry is the parsed station/airport registry dataset.
type MainRegistry struct {
	Countries []Country  `json:"countries"`
	Airports  []Airport  `json:"airports"`
	FIRs      []FIR      `json:"firs"`
	UIRs      []UIR      `json:"uirs"`
	IDL       []IDLPoint `json:"idl,omitempty"`
}

// Kind implements Dataset.
func (*MainRegistry) Kind() Kind { return KindMain }

// Geometry is a GeoJSON geometry. Coordinates are kept raw since their
// nesting depth depends on the geometry type.
type Geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// Feature is a GeoJSON feature. Approach geometry nests feature collections,
// which decode into Features with no Geometry.
type Feature struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
	Geometry   *Geometry      `json:"geometry,omitempty"`
	Features   []Feature      `json:"features,omitempty"`
}

// ID returns the "id" property of the feature, if any.
func (f Feature) ID() string {
	if f.Properties == nil {
		return ""
	}
	identifier, _ := f.Properties["id"].(string)
	return identifier
}

// BoundaryGeometry is the airspace boundary feature collection.
type BoundaryGeometry struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// Kind implements Dataset.
func (*BoundaryGeometry) Kind() Kind { return KindBoundary }

// ApproachGeometry is the approach-control boundary feature collection.
type ApproachGeometry struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// Kind implements Dataset.
func (*ApproachGeometry) Kind() Kind { return KindApproach }
