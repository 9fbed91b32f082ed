package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/hazyhaar/malu/artifact"
)

// Kind is the string discriminator carried by every message on the wire.
type Kind string

const (
	KindProbe         Kind = "probe"
	KindStatus        Kind = "status"
	KindStartPointer  Kind = "start_pointer"
	KindStopPointer   Kind = "stop_pointer"
	KindPointerTrace  Kind = "pointer_trace"
	KindStartEncoding Kind = "start_encoding"
	KindStopEncoding  Kind = "stop_encoding"
	KindHello         Kind = "hello"
	KindLogLine       Kind = "log_line"
	KindSaved         Kind = "saved"
	KindAck           Kind = "ack"
)

// Message is the closed set of commands, replies and signals exchanged
// between execution contexts. Only types in this package implement it.
type Message interface {
	Kind() Kind
	sealed()
}

// Probe asks an agent whether it is armed and what its surface looks like.
type Probe struct{}

// Status answers Probe.
type Status struct {
	Armed    bool               `json:"armed"`
	Geometry *artifact.Geometry `json:"geometry,omitempty"`
}

// StartPointer arms the pointer recorder inside the target surface.
type StartPointer struct {
	SurfaceID string             `json:"surfaceId,omitempty"`
	Hints     *artifact.Geometry `json:"hints,omitempty"`
}

// StopPointer disarms the recorder; the reply is a PointerTrace.
type StopPointer struct {
	SurfaceID string `json:"surfaceId,omitempty"`
}

// PointerTrace carries the recorded samples and the geometry probed at stop.
type PointerTrace struct {
	Samples  []artifact.Sample  `json:"samples"`
	Geometry *artifact.Geometry `json:"geometryContext,omitempty"`
}

// StartEncoding asks the encoder context to begin encoding a stream.
type StartEncoding struct {
	StreamID string `json:"streamId"`
}

// StopEncoding asks the encoder context to flush and finish. Completion is
// reported asynchronously with a Saved signal.
type StopEncoding struct {
	StreamID string `json:"streamId,omitempty"`
}

// Hello is posted by a context once it is ready to receive commands.
type Hello struct {
	Origin string `json:"origin"`
}

// LogLine forwards a log line emitted inside another context.
type LogLine struct {
	Origin string `json:"origin"`
	Level  string `json:"level"`
	Text   string `json:"text"`
}

// Saved is the save-confirmation signal from the encoder context. It is sent
// even when encoding failed; Err is then non-empty.
type Saved struct {
	StreamID string `json:"streamId,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Video    []byte `json:"video,omitempty"`
	Err      string `json:"error,omitempty"`
}

// Ack is the generic reply to a command with no payload.
type Ack struct {
	OK  bool   `json:"ok"`
	Err string `json:"error,omitempty"`
}

func (Probe) Kind() Kind         { return KindProbe }
func (Status) Kind() Kind        { return KindStatus }
func (StartPointer) Kind() Kind  { return KindStartPointer }
func (StopPointer) Kind() Kind   { return KindStopPointer }
func (PointerTrace) Kind() Kind  { return KindPointerTrace }
func (StartEncoding) Kind() Kind { return KindStartEncoding }
func (StopEncoding) Kind() Kind  { return KindStopEncoding }
func (Hello) Kind() Kind         { return KindHello }
func (LogLine) Kind() Kind       { return KindLogLine }
func (Saved) Kind() Kind         { return KindSaved }
func (Ack) Kind() Kind           { return KindAck }

func (Probe) sealed()         {}
func (Status) sealed()        {}
func (StartPointer) sealed()  {}
func (StopPointer) sealed()   {}
func (PointerTrace) sealed()  {}
func (StartEncoding) sealed() {}
func (StopEncoding) sealed()  {}
func (Hello) sealed()         {}
func (LogLine) sealed()       {}
func (Saved) sealed()         {}
func (Ack) sealed()           {}

type envelope struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode serializes a message into its tagged envelope.
func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("bridge: encode: nil message")
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("bridge: encode %s: %w", m.Kind(), err)
	}
	return json.Marshal(envelope{Type: m.Kind(), Payload: payload})
}

// Decode parses a tagged envelope. Unknown discriminators are rejected.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("bridge: decode envelope: %w", err)
	}

	var m Message
	switch env.Type {
	case KindProbe:
		m = &Probe{}
	case KindStatus:
		m = &Status{}
	case KindStartPointer:
		m = &StartPointer{}
	case KindStopPointer:
		m = &StopPointer{}
	case KindPointerTrace:
		m = &PointerTrace{}
	case KindStartEncoding:
		m = &StartEncoding{}
	case KindStopEncoding:
		m = &StopEncoding{}
	case KindHello:
		m = &Hello{}
	case KindLogLine:
		m = &LogLine{}
	case KindSaved:
		m = &Saved{}
	case KindAck:
		m = &Ack{}
	default:
		return nil, fmt.Errorf("bridge: decode: unknown message type %q", env.Type)
	}

	if len(env.Payload) > 0 && string(env.Payload) != "null" {
		if err := json.Unmarshal(env.Payload, m); err != nil {
			return nil, fmt.Errorf("bridge: decode %s: %w", env.Type, err)
		}
	}
	return deref(m), nil
}

// deref turns the decode target back into a value so callers can type-switch
// on value types only.
func deref(m Message) Message {
	switch v := m.(type) {
	case *Probe:
		return *v
	case *Status:
		return *v
	case *StartPointer:
		return *v
	case *StopPointer:
		return *v
	case *PointerTrace:
		return *v
	case *StartEncoding:
		return *v
	case *StopEncoding:
		return *v
	case *Hello:
		return *v
	case *LogLine:
		return *v
	case *Saved:
		return *v
	case *Ack:
		return *v
	}
	return m
}
