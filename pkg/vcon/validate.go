package vcon

import "fmt"

// IsValid runs the whole-document checks and returns every violation found,
// in order: required fields, created_at representation, the parties
// sequence, dialog party references and analysis dialog references. It
// never mutates v.
func (v *Vcon) IsValid() (bool, []Violation) {
	var out []Violation
	structural := func(msg string) {
		out = append(out, Violation{Kind: StructuralViolation, Message: msg})
	}

	if v.UUID == "" {
		structural("Missing required field: uuid")
	}
	if v.Vcon == "" {
		structural("Missing required field: vcon")
	} else if !v.Vcon.Valid() {
		structural(fmt.Sprintf("Unsupported vcon version: %s", v.Vcon))
	}
	if v.CreatedAt.IsZero() {
		structural("Missing required field: created_at")
	} else if !v.CreatedAt.Canonical() {
		structural("Invalid created_at format. Must be ISO 8601 datetime string")
	}
	if v.Parties == nil {
		structural("parties must be a list")
	}

	partyCount := len(v.Parties)
	for i, d := range v.Dialog {
		for _, idx := range d.Parties.Indices() {
			if idx < 0 || idx >= partyCount {
				out = append(out, Violation{
					Kind:    ReferenceViolation,
					Path:    fmt.Sprintf("dialog[%d]", i),
					Message: fmt.Sprintf("Dialog at index %d references invalid party index: %d", i, idx),
				})
			}
		}
	}

	dialogCount := len(v.Dialog)
	for i, a := range v.Analysis {
		for _, idx := range a.Dialog.Indices() {
			if idx < 0 || idx >= dialogCount {
				out = append(out, Violation{
					Kind:    ReferenceViolation,
					Path:    fmt.Sprintf("analysis[%d]", i),
					Message: fmt.Sprintf("Analysis at index %d references invalid dialog index: %d", i, idx),
				})
			}
		}
	}

	return len(out) == 0, out
}
