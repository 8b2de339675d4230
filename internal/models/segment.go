package models

import (
	"encoding/json"
	"maps"
)

// Segment is one timed piece of recognized text. Start, End and Text are
// typed; any other keys produced by the recognition model are carried in
// Extra and written back unchanged. Core values keep their original
// encoding (1.50 stays 1.50) until they are changed.
type Segment struct {
	Start float64
	End   float64
	Text  string
	Extra map[string]json.RawMessage

	// core holds the decoded encodings of start, end and text.
	core rawFields
}

var segmentCoreKeys = []string{"start", "end", "text"}

// MarshalJSON writes the core fields merged with Extra.
func (s Segment) MarshalJSON() ([]byte, error) {
	out := make(rawFields, len(s.Extra)+3)
	for k, v := range s.Extra {
		out[k] = v
	}
	var err error
	if out["start"], err = encodeCore(s.core["start"], s.Start); err != nil {
		return nil, err
	}
	if out["end"], err = encodeCore(s.core["end"], s.End); err != nil {
		return nil, err
	}
	if out["text"], err = encodeCore(s.core["text"], s.Text); err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

// encodeCore reuses raw while it still decodes to v.
func encodeCore[T comparable](raw json.RawMessage, v T) (json.RawMessage, error) {
	if raw != nil {
		var prev T
		if json.Unmarshal(raw, &prev) == nil && prev == v {
			return raw, nil
		}
	}
	return json.Marshal(v)
}

// UnmarshalJSON reads the core fields and keeps every other key in Extra.
func (s *Segment) UnmarshalJSON(data []byte) error {
	var raw rawFields
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var seg Segment
	if v, ok := raw["start"]; ok {
		if err := json.Unmarshal(v, &seg.Start); err != nil {
			return err
		}
	}
	if v, ok := raw["end"]; ok {
		if err := json.Unmarshal(v, &seg.End); err != nil {
			return err
		}
	}
	if v, ok := raw["text"]; ok {
		if err := json.Unmarshal(v, &seg.Text); err != nil {
			return err
		}
	}
	for _, k := range segmentCoreKeys {
		if v, ok := raw[k]; ok {
			if seg.core == nil {
				seg.core = make(rawFields, len(segmentCoreKeys))
			}
			seg.core[k] = v
			delete(raw, k)
		}
	}
	if len(raw) > 0 {
		seg.Extra = raw
	}
	*s = seg
	return nil
}

// Clone returns a deep copy of s.
func (s Segment) Clone() Segment {
	c := s
	if s.Extra != nil {
		c.Extra = make(map[string]json.RawMessage, len(s.Extra))
		for k, v := range s.Extra {
			c.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	if s.core != nil {
		c.core = make(rawFields, len(s.core))
		for k, v := range s.core {
			c.core[k] = append(json.RawMessage(nil), v...)
		}
	}
	return c
}

// CloneSegments deep-copies a segment list, preserving order. A nil input
// yields an empty, non-nil list so records always serialise as [].
func CloneSegments(in []Segment) []Segment {
	out := make([]Segment, len(in))
	for i, s := range in {
		out[i] = s.Clone()
	}
	return out
}

// Equal reports whether two segments carry the same values.
func (s Segment) Equal(o Segment) bool {
	if s.Start != o.Start || s.End != o.End || s.Text != o.Text {
		return false
	}
	return maps.EqualFunc(s.Extra, o.Extra, func(a, b json.RawMessage) bool {
		return string(a) == string(b)
	})
}
