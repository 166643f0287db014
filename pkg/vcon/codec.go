package vcon

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ToJSON returns the canonical encoding: absent fields omitted at every
// level, timestamps in UTC RFC 3339 form, present-but-empty sequences kept.
func (v *Vcon) ToJSON() ([]byte, error) {
	return json.Marshal(v)
}

// ToMap returns the canonical encoding as a JSON-decoded tree.
func (v *Vcon) ToMap() (map[string]any, error) {
	raw, err := v.ToJSON()
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// BuildFromJSON decodes a document and re-runs every entity's local checks
// and the container rules. Violations are reported together in a single
// *SchemaViolation. Cross-entity references are left to IsValid.
//
// A document without uuid or created_at still decodes; IsValid reports
// the missing fields. An absent vcon tag decodes as VersionCurrent and any
// other tag is rejected.
func BuildFromJSON(data []byte) (*Vcon, error) {
	v := new(Vcon)
	if err := json.Unmarshal(data, v); err != nil {
		return nil, decodeError(err)
	}
	return v, nil
}

// FromMap is BuildFromJSON for an already decoded tree.
func FromMap(m map[string]any) (*Vcon, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, violation("vcon", fmt.Sprintf("document is not JSON-compatible: %v", err))
	}
	return BuildFromJSON(raw)
}

// UnmarshalJSON decodes with the same checks as BuildFromJSON.
func (v *Vcon) UnmarshalJSON(data []byte) error {
	type plain Vcon
	var p plain
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return violation("vcon", "document must be an object")
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return decodeError(err)
	}
	decoded := Vcon(p)
	if decoded.Vcon == "" {
		decoded.Vcon = VersionCurrent
	}
	if decoded.Parties == nil {
		decoded.Parties = []Party{}
	}
	if err := decoded.checkStructure(); err != nil {
		return err
	}
	*v = decoded
	return nil
}

// checkStructure runs each owned entity's Validate and the container rules.
func (v *Vcon) checkStructure() error {
	c := newChecker("vcon")
	for i, p := range v.Parties {
		c.check(fmt.Sprintf("parties[%d]", i), p.Validate())
	}
	for i, d := range v.Dialog {
		c.check(fmt.Sprintf("dialog[%d]", i), d.Validate())
	}
	for i, a := range v.Analysis {
		c.check(fmt.Sprintf("analysis[%d]", i), a.Validate())
	}
	for i, a := range v.Attachments {
		c.check(fmt.Sprintf("attachments[%d]", i), a.Validate())
	}
	for i, g := range v.Group {
		c.check(fmt.Sprintf("group[%d]", i), g.Validate())
	}
	if r, ok := v.Redacted.Get(); ok {
		c.check("redacted", r.Validate())
	}
	if a, ok := v.Appended.Get(); ok {
		c.check("appended", a.Validate())
	}
	c.when(!v.Vcon.Valid(), fmt.Sprintf("unsupported vcon version %q, expected %q", v.Vcon, VersionCurrent))
	v.checkLinks(c)
	return c.err()
}

// decodeError turns a decoder failure into a *SchemaViolation.
func decodeError(err error) error {
	var sv *SchemaViolation
	if errors.As(err, &sv) {
		return sv
	}
	var (
		typeErr   *json.UnmarshalTypeError
		syntaxErr *json.SyntaxError
	)
	switch {
	case errors.As(err, &typeErr):
		return &SchemaViolation{Entity: "vcon", Violations: []Violation{{
			Kind:    StructuralViolation,
			Path:    typeErr.Field,
			Message: fmt.Sprintf("cannot decode JSON %s as %s", typeErr.Value, typeErr.Type),
		}}}
	case errors.As(err, &syntaxErr):
		return violation("vcon", fmt.Sprintf("malformed JSON at offset %d: %v", syntaxErr.Offset, syntaxErr))
	}
	return violation("vcon", err.Error())
}
