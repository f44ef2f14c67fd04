package formats

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jszwec/csvutil"

	"github.com/MarcoPoloResearchLab/vatdefs/internal/definitions"
)

const registryFieldSeparator = "|"

var (
	countryHeader = []string{"name", "code", "facility_name"}
	airportHeader = []string{"icao", "name", "latitude", "longitude", "iata", "fir", "pseudo"}
	firHeader     = []string{"icao", "name", "callsign_prefix", "boundary"}
	uirHeader     = []string{"icao", "name", "firs"}
)

// ParseError reports raw content that could not be decoded.
type ParseError struct {
	Kind    definitions.Kind
	Section string
	Line    int
	Err     error
}

func (e *ParseError) Error() string {
	switch {
	case e.Section != "" && e.Line > 0:
		return fmt.Sprintf("formats: %s [%s] line %d: %v", e.Kind, e.Section, e.Line, e.Err)
	case e.Section != "":
		return fmt.Sprintf("formats: %s [%s]: %v", e.Kind, e.Section, e.Err)
	default:
		return fmt.Sprintf("formats: %s: %v", e.Kind, e.Err)
	}
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

type uirRow struct {
	ICAO string `csv:"icao"`
	Name string `csv:"name"`
	FIRs string `csv:"firs"`
}

type registryLine struct {
	number int
	fields []string
}

// rowReader feeds pre-split registry lines to csvutil, padding or trimming
// each row to the header width since trailing columns are often omitted.
type rowReader struct {
	lines []registryLine
	width int
	next  int
}

func (r *rowReader) Read() ([]string, error) {
	if r.next >= len(r.lines) {
		return nil, io.EOF
	}
	fields := r.lines[r.next].fields
	r.next++
	row := make([]string, r.width)
	copy(row, fields)
	for index := range row {
		row[index] = strings.TrimSpace(row[index])
	}
	return row, nil
}

func (r *rowReader) line() int {
	if r.next == 0 {
		return 0
	}
	return r.lines[r.next-1].number
}

// RegistryCodec handles the pipe-separated station/airport registry (VATSpy.dat).
type RegistryCodec struct{}

// Kind implements definitions.Codec.
func (RegistryCodec) Kind() definitions.Kind {
	return definitions.KindMain
}

// Parse decodes the sectioned registry file.
func (RegistryCodec) Parse(raw []byte) (definitions.Dataset, error) {
	sections, err := splitSections(raw)
	if err != nil {
		return nil, err
	}

	registry := &definitions.MainRegistry{}
	if err := decodeSection(sections, "Countries", countryHeader, &registry.Countries); err != nil {
		return nil, err
	}
	if err := decodeSection(sections, "Airports", airportHeader, &registry.Airports); err != nil {
		return nil, err
	}
	if err := decodeSection(sections, "FIRs", firHeader, &registry.FIRs); err != nil {
		return nil, err
	}

	var uirs []uirRow
	if err := decodeSection(sections, "UIRs", uirHeader, &uirs); err != nil {
		return nil, err
	}
	registry.UIRs = make([]definitions.UIR, 0, len(uirs))
	for _, row := range uirs {
		registry.UIRs = append(registry.UIRs, definitions.UIR{
			ICAO: row.ICAO,
			Name: row.Name,
			FIRs: splitList(row.FIRs),
		})
	}

	idl, err := parseIDL(sections["IDL"])
	if err != nil {
		return nil, err
	}
	registry.IDL = idl
	return registry, nil
}

// Validate checks identifiers and coordinate ranges of the registry.
func (RegistryCodec) Validate(dataset definitions.Dataset) error {
	registry, ok := dataset.(*definitions.MainRegistry)
	if !ok || registry == nil {
		return schemaError(definitions.KindMain, "", fmt.Sprintf("unexpected dataset type %T", dataset))
	}
	if len(registry.Airports) == 0 {
		return schemaError(definitions.KindMain, "airports", "at least one airport is required")
	}
	for index, country := range registry.Countries {
		if country.Code == "" {
			return schemaError(definitions.KindMain, fmt.Sprintf("countries[%d].code", index), "must not be empty")
		}
	}
	for index, airport := range registry.Airports {
		switch {
		case airport.ICAO == "":
			return schemaError(definitions.KindMain, fmt.Sprintf("airports[%d].icao", index), "must not be empty")
		case airport.Latitude < -90 || airport.Latitude > 90:
			return schemaError(definitions.KindMain, fmt.Sprintf("airports[%d].latitude", index), "must be within [-90, 90]")
		case airport.Longitude < -180 || airport.Longitude > 180:
			return schemaError(definitions.KindMain, fmt.Sprintf("airports[%d].longitude", index), "must be within [-180, 180]")
		}
	}
	for index, fir := range registry.FIRs {
		if fir.ICAO == "" {
			return schemaError(definitions.KindMain, fmt.Sprintf("firs[%d].icao", index), "must not be empty")
		}
	}
	for index, uir := range registry.UIRs {
		if uir.ICAO == "" {
			return schemaError(definitions.KindMain, fmt.Sprintf("uirs[%d].icao", index), "must not be empty")
		}
	}
	return nil
}

func splitSections(raw []byte) (map[string][]registryLine, error) {
	sections := map[string][]registryLine{}
	current := ""
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			current = strings.TrimSpace(line[1 : len(line)-1])
			continue
		}
		if current == "" {
			return nil, &ParseError{Kind: definitions.KindMain, Line: lineNumber, Err: errors.New("row outside of any section")}
		}
		sections[current] = append(sections[current], registryLine{
			number: lineNumber,
			fields: strings.Split(line, registryFieldSeparator),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, &ParseError{Kind: definitions.KindMain, Err: err}
	}
	if len(sections) == 0 {
		return nil, &ParseError{Kind: definitions.KindMain, Err: errors.New("no sections found")}
	}
	return sections, nil
}

func decodeSection[T any](sections map[string][]registryLine, name string, header []string, target *[]T) error {
	lines := sections[name]
	if len(lines) == 0 {
		*target = []T{}
		return nil
	}
	reader := &rowReader{lines: lines, width: len(header)}
	decoder, err := csvutil.NewDecoder(reader, header...)
	if err != nil {
		return &ParseError{Kind: definitions.KindMain, Section: name, Err: err}
	}
	rows := make([]T, 0, len(lines))
	for {
		var row T
		if err := decoder.Decode(&row); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return &ParseError{Kind: definitions.KindMain, Section: name, Line: reader.line(), Err: err}
		}
		rows = append(rows, row)
	}
	*target = rows
	return nil
}

// parseIDL reads date line vertices; each row holds one or more lat|lon pairs.
func parseIDL(lines []registryLine) ([]definitions.IDLPoint, error) {
	points := make([]definitions.IDLPoint, 0, len(lines)*2)
	for _, line := range lines {
		if len(line.fields)%2 != 0 {
			return nil, &ParseError{Kind: definitions.KindMain, Section: "IDL", Line: line.number, Err: errors.New("odd number of coordinates")}
		}
		for index := 0; index < len(line.fields); index += 2 {
			latitude, err := strconv.ParseFloat(strings.TrimSpace(line.fields[index]), 64)
			if err != nil {
				return nil, &ParseError{Kind: definitions.KindMain, Section: "IDL", Line: line.number, Err: err}
			}
			longitude, err := strconv.ParseFloat(strings.TrimSpace(line.fields[index+1]), 64)
			if err != nil {
				return nil, &ParseError{Kind: definitions.KindMain, Section: "IDL", Line: line.number, Err: err}
			}
			points = append(points, definitions.IDLPoint{Latitude: latitude, Longitude: longitude})
		}
	}
	return points, nil
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}

func schemaError(kind definitions.Kind, path, reason string) error {
	return &definitions.SchemaError{Kind: kind, Path: path, Reason: reason}
}
