package artifact

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Schema versions of the persisted metadata record.
const (
	// SchemaBareSamples is the legacy shape: a JSON array of samples.
	SchemaBareSamples = 1
	// SchemaWithGeometry is the current shape: {"samples", "geometryContext"}.
	SchemaWithGeometry = 2
)

// ErrMalformedMetadata is returned when the metadata payload is neither of
// the accepted shapes.
var ErrMalformedMetadata = errors.New("artifact: malformed metadata")

// wireV2 mirrors the current object shape. "events"/"viewport" are the field
// names emitted by older agents for the same object; both spellings decode.
type wireV2 struct {
	Samples         []Sample  `json:"samples"`
	Events          []Sample  `json:"events"`
	GeometryContext *Geometry `json:"geometryContext"`
	Viewport        *Geometry `json:"viewport"`
}

// DetectSchema inspects the first JSON token of data.
func DetectSchema(data []byte) (int, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return 0, ErrMalformedMetadata
	}
	switch trimmed[0] {
	case '[':
		return SchemaBareSamples, nil
	case '{':
		return SchemaWithGeometry, nil
	case 'n':
		if bytes.Equal(trimmed, []byte("null")) {
			return SchemaBareSamples, nil
		}
	}
	return 0, ErrMalformedMetadata
}

// Decode normalizes either metadata shape. A missing or null payload yields
// empty metadata with no geometry, which the synthesizer treats as viewport
// mode with no cursor.
func Decode(data []byte) (Metadata, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Metadata{}, nil
	}
	version, err := DetectSchema(data)
	if err != nil {
		return Metadata{}, err
	}

	switch version {
	case SchemaBareSamples:
		var samples []Sample
		if err := json.Unmarshal(data, &samples); err != nil {
			return Metadata{}, fmt.Errorf("%w: %v", ErrMalformedMetadata, err)
		}
		return Metadata{Samples: samples}, nil

	case SchemaWithGeometry:
		var w wireV2
		if err := json.Unmarshal(data, &w); err != nil {
			return Metadata{}, fmt.Errorf("%w: %v", ErrMalformedMetadata, err)
		}
		md := Metadata{Samples: w.Samples, Geometry: w.GeometryContext}
		if md.Samples == nil {
			md.Samples = w.Events
		}
		if md.Geometry == nil {
			md.Geometry = w.Viewport
		}
		return md, nil
	}
	return Metadata{}, ErrMalformedMetadata
}

// Encode always writes the current object shape.
func Encode(md Metadata) ([]byte, error) {
	if md.Samples == nil {
		md.Samples = []Sample{}
	}
	return json.Marshal(md)
}
