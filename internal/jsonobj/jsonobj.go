// Package jsonobj encodes and decodes JSON objects whose key order matters.
//
// encoding/json sorts map keys on output and forgets them on input; the
// cache file and batch results both use object key order to carry meaning.
package jsonobj

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Member is one key/value pair of an ordered object.
type Member struct {
	Key   string
	Value json.RawMessage
}

// Encode writes members as a JSON object in slice order. Values must
// already be valid JSON. When indent is non-empty each member goes on its
// own line.
func Encode(members []Member, indent string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, m := range members {
		if i > 0 {
			buf.WriteByte(',')
		}
		if indent != "" {
			buf.WriteByte('\n')
			buf.WriteString(indent)
		}
		key, err := json.Marshal(m.Key)
		if err != nil {
			return nil, fmt.Errorf("encode key %q: %w", m.Key, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		if indent != "" {
			buf.WriteByte(' ')
		}
		if !json.Valid(m.Value) {
			return nil, fmt.Errorf("encode key %q: invalid JSON value", m.Key)
		}
		if err := json.Compact(&buf, m.Value); err != nil {
			return nil, fmt.Errorf("encode key %q: %w", m.Key, err)
		}
	}
	if indent != "" && len(members) > 0 {
		buf.WriteByte('\n')
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Decode parses a JSON object and returns its members in document order.
// A repeated key keeps its last value at the position of its last
// occurrence.
func Decode(data []byte) ([]Member, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("decode object: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.New("decode object: not a JSON object")
	}

	var members []Member
	seen := make(map[string]int)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode object: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("decode object: unexpected token %v", tok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("decode object value %q: %w", key, err)
		}
		if idx, dup := seen[key]; dup {
			members = append(members[:idx], members[idx+1:]...)
			for k, i := range seen {
				if i > idx {
					seen[k] = i - 1
				}
			}
		}
		seen[key] = len(members)
		members = append(members, Member{Key: key, Value: value})
	}

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("decode object: %w", err)
	}
	if dec.More() {
		return nil, errors.New("decode object: trailing data")
	}
	return members, nil
}
