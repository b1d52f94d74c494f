package irc

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

var errTagsNotObject = errors.New("irc: tags must be a JSON object")

// Tag is a single entry of a message's tag block. A Bare tag has no '='
// and carries no value.
type Tag struct {
	Key   string
	Value string
	Bare  bool
}

// Tags preserves the order in which tags appeared on the wire.
type Tags []Tag

// Get returns the value of the first tag with the given key.
func (t Tags) Get(key string) (string, bool) {
	for _, tag := range t {
		if tag.Key == key {
			return tag.Value, true
		}
	}
	return "", false
}

func (t Tags) Has(key string) bool {
	_, ok := t.Get(key)
	return ok
}

// Encode re-escapes the tags into wire form, without the leading '@'.
func (t Tags) Encode() string {
	var b strings.Builder
	for i, tag := range t {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(tag.Key)
		if tag.Bare {
			continue
		}
		b.WriteByte('=')
		b.WriteString(EscapeTagValue(tag.Value))
	}
	return b.String()
}

// MarshalJSON encodes the tags as an object in wire order. Bare tags
// encode as true.
func (t Tags) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, tag := range t {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(tag.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if tag.Bare {
			buf.WriteString("true")
			continue
		}
		val, err := json.Marshal(tag.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts the object form produced by MarshalJSON. Key order
// follows the input document.
func (t *Tags) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*t = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errTagsNotObject
	}

	var out Tags
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			out = append(out, Tag{Key: key, Value: s})
			continue
		}
		out = append(out, Tag{Key: key, Bare: true})
	}
	*t = out
	return nil
}

// Message is one parsed protocol line. Empty strings mean the part was
// absent on the wire.
type Message struct {
	Raw      string `json:"raw"`
	Tags     Tags   `json:"tags,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
	Command  string `json:"command"`
	Channel  string `json:"channel,omitempty"`
	Trailing string `json:"trailing,omitempty"`
	Username string `json:"username,omitempty"`
}

// Tag returns the value of a tag, or "" when missing.
func (m *Message) Tag(key string) string {
	v, _ := m.Tags.Get(key)
	return v
}

// ID returns the message id tag used for deduplication.
func (m *Message) ID() string {
	return m.Tag("id")
}
