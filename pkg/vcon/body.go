package vcon

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// BodyKind tags the shape of an inline body.
type BodyKind uint8

const (
	BodyAbsent     BodyKind = iota // no body, or JSON null
	BodyText                       // a raw string
	BodyStructured                 // a JSON object or array
	BodyScalar                     // a JSON number or boolean
)

func (k BodyKind) String() string {
	switch k {
	case BodyText:
		return "text"
	case BodyStructured:
		return "structured"
	case BodyScalar:
		return "scalar"
	}
	return "absent"
}

// Body is the inline payload of an analysis or attachment. Structured and
// scalar values are held in their JSON-decoded form (map[string]any, []any,
// float64, bool) so that an encode/decode cycle reproduces them exactly.
type Body struct {
	kind  BodyKind
	text  string
	value any
}

// TextBody returns a body holding raw text.
func TextBody(s string) Body {
	return Body{kind: BodyText, text: s}
}

// NewBody classifies v and normalizes it to its JSON-decoded form.
func NewBody(v any) (Body, error) {
	switch x := v.(type) {
	case nil:
		return Body{}, nil
	case string:
		return TextBody(x), nil
	case Body:
		return x, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return Body{}, fmt.Errorf("body is not JSON-compatible: %w", err)
	}
	var b Body
	if err := b.UnmarshalJSON(raw); err != nil {
		return Body{}, err
	}
	return b, nil
}

// MustBody is NewBody for values known to be JSON-compatible.
func MustBody(v any) Body {
	b, err := NewBody(v)
	if err != nil {
		panic(err)
	}
	return b
}

// Kind returns the body's shape.
func (b Body) Kind() BodyKind { return b.kind }

// IsZero reports whether the body is absent.
func (b Body) IsZero() bool { return b.kind == BodyAbsent }

// Text returns the raw text when the body is text.
func (b Body) Text() (string, bool) {
	return b.text, b.kind == BodyText
}

// Map returns the body as an object when it is one. The returned map is the
// body's own storage.
func (b Body) Map() (map[string]any, bool) {
	m, ok := b.value.(map[string]any)
	return m, ok && b.kind == BodyStructured
}

// Value returns the body as a plain Go value.
func (b Body) Value() any {
	if b.kind == BodyText {
		return b.text
	}
	return b.value
}

func (b Body) MarshalJSON() ([]byte, error) {
	switch b.kind {
	case BodyText:
		return json.Marshal(b.text)
	case BodyStructured, BodyScalar:
		return json.Marshal(b.value)
	}
	return []byte("null"), nil
}

func (b *Body) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(bytes.TrimSpace(data), &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case nil:
		*b = Body{}
	case string:
		*b = TextBody(x)
	case map[string]any, []any:
		*b = Body{kind: BodyStructured, value: x}
	default:
		*b = Body{kind: BodyScalar, value: x}
	}
	return nil
}
