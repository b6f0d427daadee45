package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Payload is a raw JSON object returned by a collaborator.
type Payload map[string]any

// DecodePayload parses a JSON object keeping numbers as json.Number so that
// 64-bit identifiers survive intact.
func DecodePayload(b []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var p Payload
	if err := dec.Decode(&p); err != nil {
		return nil, err
	}
	return p, nil
}

// Lookup walks nested objects along path.
func (p Payload) Lookup(path ...string) (any, bool) {
	var cur any = map[string]any(p)
	for _, k := range path {
		var m map[string]any
		switch v := cur.(type) {
		case map[string]any:
			m = v
		case Payload:
			m = v
		default:
			return nil, false
		}
		next, ok := m[k]
		if !ok || next == nil {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// Has reports whether path resolves to a non-null value.
func (p Payload) Has(path ...string) bool {
	_, ok := p.Lookup(path...)
	return ok
}

func (p Payload) String(path ...string) (string, bool) {
	v, ok := p.Lookup(path...)
	if !ok {
		return "", false
	}
	switch s := v.(type) {
	case string:
		return s, true
	case json.Number:
		return s.String(), true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case int:
		return strconv.Itoa(s), true
	case int64:
		return strconv.FormatInt(s, 10), true
	}
	return "", false
}

func (p Payload) Int(path ...string) (int64, bool) {
	v, ok := p.Lookup(path...)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil {
			return int64(f), true
		}
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	case string:
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}

func (p Payload) Float(path ...string) (float64, bool) {
	v, ok := p.Lookup(path...)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f, true
		}
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func (p Payload) Bool(path ...string) (bool, bool) {
	v, ok := p.Lookup(path...)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

func (p Payload) Slice(path ...string) ([]any, bool) {
	v, ok := p.Lookup(path...)
	if !ok {
		return nil, false
	}
	s, ok := v.([]any)
	return s, ok
}

func (p Payload) Object(path ...string) (Payload, bool) {
	v, ok := p.Lookup(path...)
	if !ok {
		return nil, false
	}
	switch m := v.(type) {
	case map[string]any:
		return Payload(m), true
	case Payload:
		return m, true
	}
	return nil, false
}

// ID returns the identifier stored under key, preferring the "<key>_str"
// variant the API emits for 64-bit values.
func (p Payload) ID(key string) (string, bool) {
	if s, ok := p.String(key + "_str"); ok && s != "" {
		return s, true
	}
	if s, ok := p.String(key); ok && s != "" {
		return s, true
	}
	return "", false
}

// Time parses a timestamp in the REST format (Mon Jan 02 15:04:05 -0700 2006)
// or RFC 3339.
func (p Payload) Time(path ...string) (time.Time, bool) {
	s, ok := p.String(path...)
	if !ok {
		return time.Time{}, false
	}
	t, err := ParseTime(s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ParseTime accepts the timestamp layouts the collaborators emit.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RubyDate, time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// Marshal encodes the payload deterministically (object keys sorted).
func (p Payload) Marshal() ([]byte, error) {
	if p == nil {
		return []byte("null"), nil
	}
	return json.Marshal(map[string]any(p))
}
