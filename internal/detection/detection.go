// Package detection turns raw recognition-engine results into canonical
// Detections and gates immediate repeats.
package detection

import "time"

// EngineKind identifies which recognition engine produced a raw result.
type EngineKind string

const (
	// Engine2D decodes matrix codes and reports a native format name or ordinal.
	Engine2D EngineKind = "2d"
	// Engine1D decodes linear barcodes and reports the name of the reader that matched.
	Engine1D EngineKind = "1d"
)

// MetadataFormatKey is the metadata entry consulted when the engine reports no usable format.
const MetadataFormatKey = "format"

// RawResult is one frame-level success as emitted by a recognition engine.
type RawResult struct {
	Engine EngineKind
	Text   string
	// Format is the engine-native format accessor: a format name or ordinal
	// for the 2D engine, the reader name for the 1D engine.
	Format   string
	Metadata map[string]string
	At       time.Time
}

// Detection is one recognized code event, independent of the producing engine.
type Detection struct {
	Text       string    `json:"text"`
	Format     Format    `json:"format"`
	CapturedAt time.Time `json:"captured_at"`
}

// Normalize converts a raw engine result into a Detection. It returns false
// when the result carries no decodable text.
//
// The format is resolved from the engine-native accessor first, then from the
// metadata format key, and is UNKNOWN otherwise.
func Normalize(raw RawResult) (Detection, bool) {
	if raw.Text == "" {
		return Detection{}, false
	}

	capturedAt := raw.At
	if capturedAt.IsZero() {
		capturedAt = time.Now()
	}

	return Detection{
		Text:       raw.Text,
		Format:     resolveFormat(raw),
		CapturedAt: capturedAt,
	}, true
}

func resolveFormat(raw RawResult) Format {
	if raw.Format != "" {
		var (
			f  Format
			ok bool
		)
		if raw.Engine == Engine1D {
			f, ok = ReaderFormat(raw.Format)
		} else {
			f, ok = ParseFormat(raw.Format)
		}
		if ok {
			return f
		}
	}

	if v, present := raw.Metadata[MetadataFormatKey]; present {
		if f, ok := ParseFormat(v); ok {
			return f
		}
	}

	return FormatUnknown
}
