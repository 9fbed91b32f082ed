package artifact

import (
	"errors"
	"testing"
)

func TestDecode_BareArray(t *testing.T) {
	md, err := Decode([]byte(`[{"timestamp":10,"x":1,"y":2,"type":"move"},{"timestamp":5,"x":3,"y":4,"type":"click"}]`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if md.Geometry != nil {
		t.Fatalf("legacy shape must have no geometry, got %+v", md.Geometry)
	}
	if len(md.Samples) != 2 {
		t.Fatalf("samples: got %d, want 2", len(md.Samples))
	}
	if md.Samples[1].Kind != KindClick {
		t.Errorf("kind: got %q", md.Samples[1].Kind)
	}
}

func TestDecode_ObjectShape(t *testing.T) {
	md, err := Decode([]byte(`{"samples":[{"timestamp":0,"x":1,"y":1,"screenX":10,"screenY":20,"type":"move"}],
		"geometryContext":{"width":1000,"height":800,"dpr":2,"windowX":50,"windowY":60}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if md.Geometry == nil || md.Geometry.Width != 1000 || md.Geometry.PixelRatio() != 2 {
		t.Fatalf("geometry: got %+v", md.Geometry)
	}
	x, y := md.Geometry.Origin()
	if x != 50 || y != 60 {
		t.Errorf("origin: got (%v,%v)", x, y)
	}
	if !md.Samples[0].HasScreen() || *md.Samples[0].ScreenX != 10 {
		t.Errorf("screen coords lost: %+v", md.Samples[0])
	}
}

func TestDecode_EventsViewportSpelling(t *testing.T) {
	md, err := Decode([]byte(`{"events":[{"timestamp":1,"x":1,"y":1,"type":"move"}],"viewport":{"width":640,"height":480,"dpr":1}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(md.Samples) != 1 || md.Geometry == nil || md.Geometry.Height != 480 {
		t.Fatalf("got %+v", md)
	}
}

func TestDecode_EmptyAndNull(t *testing.T) {
	for _, in := range []string{"", "  ", "null"} {
		md, err := Decode([]byte(in))
		if err != nil {
			t.Fatalf("Decode(%q): %v", in, err)
		}
		if len(md.Samples) != 0 || md.Geometry != nil {
			t.Errorf("Decode(%q): got %+v", in, md)
		}
	}
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode([]byte(`"nope"`))
	if !errors.Is(err, ErrMalformedMetadata) {
		t.Fatalf("got %v, want ErrMalformedMetadata", err)
	}
}

func TestEncode_WritesObjectShape(t *testing.T) {
	data, err := Encode(Metadata{})
	if err != nil {
		t.Fatal(err)
	}
	v, err := DetectSchema(data)
	if err != nil || v != SchemaWithGeometry {
		t.Fatalf("schema: got %d, %v", v, err)
	}
	if string(data) != `{"samples":[],"geometryContext":null}` {
		t.Errorf("encoded: %s", data)
	}
}

func TestSortSamples_StableAndCopy(t *testing.T) {
	in := []Sample{
		{TimestampMs: 30, Kind: KindMove},
		{TimestampMs: 10, Kind: KindMove},
		{TimestampMs: 10, Kind: KindClick},
	}
	out := SortSamples(in)
	if out[0].Kind != KindMove || out[1].Kind != KindClick || out[2].TimestampMs != 30 {
		t.Fatalf("sorted: %+v", out)
	}
	if in[0].TimestampMs != 30 {
		t.Error("input mutated")
	}
}
