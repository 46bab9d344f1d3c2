package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Metadata is the structured payload attached to broadcast notifications.
type Metadata struct {
	Images []string `json:"images,omitempty"`
	Videos []string `json:"videos,omitempty"`
}

// Clone returns a deep copy of m.
func (m Metadata) Clone() Metadata {
	return Metadata{
		Images: append([]string(nil), m.Images...),
		Videos: append([]string(nil), m.Videos...),
	}
}

// Empty reports whether m carries no media at all.
func (m Metadata) Empty() bool {
	return len(m.Images) == 0 && len(m.Videos) == 0
}

// maxMetadataUnwrap bounds how many times a string-encoded payload is
// unwrapped. The backend stores metadata as a JSON string column and some
// rows were encoded twice by older scripts.
const maxMetadataUnwrap = 2

// DecodeMetadata normalizes the metadata field of a notification as it
// arrives from REST or the push channel. It accepts an absent or null
// value, a JSON object, or a JSON string that itself encodes an object.
// On malformed input it returns nil together with the decode error; the
// record itself stays usable.
func DecodeMetadata(raw json.RawMessage) (*Metadata, error) {
	raw = bytes.TrimSpace(raw)

	for i := 0; i <= maxMetadataUnwrap; i++ {
		if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
			return nil, nil
		}

		switch raw[0] {
		case '{':
			var md Metadata
			if err := json.Unmarshal(raw, &md); err != nil {
				return nil, fmt.Errorf("decoding metadata object: %w", err)
			}
			return &md, nil

		case '"':
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return nil, fmt.Errorf("decoding metadata string: %w", err)
			}
			raw = bytes.TrimSpace([]byte(s))

		default:
			return nil, fmt.Errorf("unexpected metadata value %.20q", raw)
		}
	}

	return nil, fmt.Errorf("metadata nested deeper than %d encodings", maxMetadataUnwrap)
}
