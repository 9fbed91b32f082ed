package media

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedCodec is returned when neither a preferred codec nor the
// platform default can encode.
var ErrUnsupportedCodec = errors.New("media: no supported codec")

// Codec describes one encoding profile.
type Codec struct {
	// MimeType is recorded alongside the artifact.
	MimeType string
	// Format is the ffmpeg muxer name.
	Format string
	// Encoder is the ffmpeg encoder name. Empty lets ffmpeg pick the default
	// encoder for Format.
	Encoder string
}

func (c Codec) String() string {
	if c.Encoder == "" {
		return c.MimeType + " (default encoder)"
	}
	return c.MimeType + " (" + c.Encoder + ")"
}

var (
	VP9         = Codec{MimeType: "video/webm;codecs=vp9", Format: "webm", Encoder: "libvpx-vp9"}
	VP8         = Codec{MimeType: "video/webm", Format: "webm", Encoder: "libvpx"}
	PlatformDef = Codec{MimeType: "video/webm", Format: "webm"}
)

// Preferred is the default preference order.
var Preferred = []Codec{VP9, VP8}

// Choose returns the first preferred codec supported, else fallback when
// supported. ErrUnsupportedCodec is returned only after every option failed.
func Choose(prefs []Codec, fallback Codec, supported func(Codec) bool) (Codec, error) {
	tried := make([]string, 0, len(prefs)+1)
	for _, c := range prefs {
		if supported(c) {
			return c, nil
		}
		tried = append(tried, c.String())
	}
	if supported(fallback) {
		return fallback, nil
	}
	tried = append(tried, fallback.String())
	return Codec{}, fmt.Errorf("%w: tried %s", ErrUnsupportedCodec, strings.Join(tried, ", "))
}

// CodecByName resolves a configuration name (vp9, vp8, default).
func CodecByName(name string) (Codec, bool) {
	switch strings.ToLower(name) {
	case "vp9":
		return VP9, true
	case "vp8", "webm":
		return VP8, true
	case "default", "":
		return PlatformDef, true
	}
	return Codec{}, false
}
