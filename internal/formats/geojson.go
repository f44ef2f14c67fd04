package formats

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/MarcoPoloResearchLab/vatdefs/internal/definitions"
)

const boundarySchemaDocument = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["type", "features"],
  "properties": {
    "type": {"const": "FeatureCollection"},
    "features": {"type": "array", "items": {"$ref": "#/$defs/feature"}}
  },
  "$defs": {
    "feature": {
      "type": "object",
      "required": ["type", "properties", "geometry"],
      "properties": {
        "type": {"const": "Feature"},
        "properties": {
          "type": "object",
          "required": ["id"],
          "properties": {"id": {"type": "string", "minLength": 1}}
        },
        "geometry": {"$ref": "#/$defs/geometry"}
      }
    },
    "geometry": {
      "type": "object",
      "required": ["type", "coordinates"],
      "properties": {
        "type": {"enum": ["Polygon", "MultiPolygon"]},
        "coordinates": {"type": "array"}
      }
    }
  }
}`

const approachSchemaDocument = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["type", "features"],
  "properties": {
    "type": {"const": "FeatureCollection"},
    "features": {"type": "array", "items": {"$ref": "#/$defs/member"}}
  },
  "$defs": {
    "member": {
      "type": "object",
      "required": ["type"],
      "if": {"properties": {"type": {"const": "FeatureCollection"}}},
      "then": {"$ref": "#"},
      "else": {"$ref": "#/$defs/feature"}
    },
    "feature": {
      "type": "object",
      "required": ["type", "properties", "geometry"],
      "properties": {
        "type": {"const": "Feature"},
        "properties": {
          "type": "object",
          "required": ["id", "prefix"],
          "properties": {
            "id": {"type": "string", "minLength": 1},
            "prefix": {"type": "array", "items": {"type": "string"}}
          }
        },
        "geometry": {"$ref": "#/$defs/geometry"}
      }
    },
    "geometry": {
      "type": "object",
      "required": ["type", "coordinates"],
      "properties": {
        "type": {"enum": ["Polygon", "MultiPolygon"]},
        "coordinates": {"type": "array"}
      }
    }
  }
}`

var (
	boundarySchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
		return compileSchema("boundary.schema.json", boundarySchemaDocument)
	})
	approachSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
		return compileSchema("approach.schema.json", approachSchemaDocument)
	})
)

func compileSchema(location, document string) (*jsonschema.Schema, error) {
	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(document))
	if err != nil {
		return nil, fmt.Errorf("formats: parse %s: %w", location, err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(location, parsed); err != nil {
		return nil, fmt.Errorf("formats: add %s: %w", location, err)
	}
	schema, err := compiler.Compile(location)
	if err != nil {
		return nil, fmt.Errorf("formats: compile %s: %w", location, err)
	}
	return schema, nil
}

// BoundaryCodec handles the airspace boundary GeoJSON (Boundaries.geojson).
type BoundaryCodec struct{}

// Kind implements definitions.Codec.
func (BoundaryCodec) Kind() definitions.Kind {
	return definitions.KindBoundary
}

// Parse decodes the feature collection.
func (BoundaryCodec) Parse(raw []byte) (definitions.Dataset, error) {
	geometry := &definitions.BoundaryGeometry{}
	if err := decodeGeoJSON(definitions.KindBoundary, raw, geometry); err != nil {
		return nil, err
	}
	return geometry, nil
}

// Validate checks the collection against the boundary schema.
func (BoundaryCodec) Validate(dataset definitions.Dataset) error {
	geometry, ok := dataset.(*definitions.BoundaryGeometry)
	if !ok || geometry == nil {
		return schemaError(definitions.KindBoundary, "", fmt.Sprintf("unexpected dataset type %T", dataset))
	}
	return validateGeoJSON(definitions.KindBoundary, boundarySchema, geometry)
}

// ApproachCodec handles the approach-control GeoJSON (TRACONBoundaries.geojson).
// Features may be grouped into nested feature collections.
type ApproachCodec struct{}

// Kind implements definitions.Codec.
func (ApproachCodec) Kind() definitions.Kind {
	return definitions.KindApproach
}

// Parse decodes the feature collection.
func (ApproachCodec) Parse(raw []byte) (definitions.Dataset, error) {
	geometry := &definitions.ApproachGeometry{}
	if err := decodeGeoJSON(definitions.KindApproach, raw, geometry); err != nil {
		return nil, err
	}
	return geometry, nil
}

// Validate checks the collection against the approach schema.
func (ApproachCodec) Validate(dataset definitions.Dataset) error {
	geometry, ok := dataset.(*definitions.ApproachGeometry)
	if !ok || geometry == nil {
		return schemaError(definitions.KindApproach, "", fmt.Sprintf("unexpected dataset type %T", dataset))
	}
	return validateGeoJSON(definitions.KindApproach, approachSchema, geometry)
}

func decodeGeoJSON(kind definitions.Kind, raw []byte, target any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return &ParseError{Kind: kind, Err: errors.New("empty document")}
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return &ParseError{Kind: kind, Err: err}
	}
	return nil
}

func validateGeoJSON(kind definitions.Kind, schemaSource func() (*jsonschema.Schema, error), dataset definitions.Dataset) error {
	schema, err := schemaSource()
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(dataset)
	if err != nil {
		return schemaError(kind, "", err.Error())
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(encoded))
	if err != nil {
		return schemaError(kind, "", err.Error())
	}

	err = schema.Validate(instance)
	if err == nil {
		return nil
	}
	var validationErr *jsonschema.ValidationError
	if !errors.As(err, &validationErr) {
		return schemaError(kind, "", err.Error())
	}
	leaf := firstViolation(validationErr)
	return schemaError(kind, "/"+strings.Join(leaf.InstanceLocation, "/"), violationReason(leaf))
}

// firstViolation follows the first cause down to the most specific failure.
func firstViolation(validationErr *jsonschema.ValidationError) *jsonschema.ValidationError {
	current := validationErr
	for len(current.Causes) > 0 {
		current = current.Causes[0]
	}
	return current
}

func violationReason(leaf *jsonschema.ValidationError) string {
	lines := strings.Split(strings.TrimSpace(leaf.Error()), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if strings.HasPrefix(last, "- at ") {
		if index := strings.Index(last, "': "); index >= 0 {
			return last[index+3:]
		}
	}
	return last
}

// Codecs returns the codec of every dataset kind.
func Codecs() map[definitions.Kind]definitions.Codec {
	return map[definitions.Kind]definitions.Codec{
		definitions.KindMain:     RegistryCodec{},
		definitions.KindBoundary: BoundaryCodec{},
		definitions.KindApproach: ApproachCodec{},
	}
}
