package vcon

import (
	"errors"
	"fmt"
	"strings"
)

// ErrStructural is matched by every *SchemaViolation.
var ErrStructural = errors.New("vcon: structural violation")

// ViolationKind separates entities that cannot be constructed from documents
// whose cross-entity references are inconsistent.
type ViolationKind uint8

const (
	StructuralViolation ViolationKind = iota + 1
	ReferenceViolation
)

func (k ViolationKind) String() string {
	switch k {
	case StructuralViolation:
		return "structural"
	case ReferenceViolation:
		return "reference"
	}
	return "unknown"
}

func (k ViolationKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *ViolationKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "structural":
		*k = StructuralViolation
	case "reference":
		*k = ReferenceViolation
	default:
		return fmt.Errorf("vcon: unknown violation kind %q", b)
	}
	return nil
}

// Violation is one broken rule. Path locates the offending entity inside a
// container (for example "dialog[2]"); it is empty for standalone entities.
type Violation struct {
	Kind    ViolationKind `json:"kind"`
	Path    string        `json:"path,omitempty"`
	Message string        `json:"message"`
}

func (v Violation) String() string {
	if v.Path == "" {
		return v.Message
	}
	return v.Path + ": " + v.Message
}

// SchemaViolation reports why an entity or container could not be
// constructed or decoded.
type SchemaViolation struct {
	Entity     string
	Violations []Violation
}

func (e *SchemaViolation) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.String())
	}
	return "invalid " + e.Entity + ": " + strings.Join(parts, "; ")
}

func (e *SchemaViolation) Is(target error) bool { return target == ErrStructural }

// Messages returns the bare violation messages in order.
func (e *SchemaViolation) Messages() []string {
	out := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		out = append(out, v.Message)
	}
	return out
}

// checker accumulates structural violations for one entity.
type checker struct {
	entity string
	issues []Violation
}

func newChecker(entity string) *checker { return &checker{entity: entity} }

func (c *checker) add(msg string) {
	c.issues = append(c.issues, Violation{Kind: StructuralViolation, Message: msg})
}

func (c *checker) when(cond bool, msg string) {
	if cond {
		c.add(msg)
	}
}

func (c *checker) merge(vs []Violation) {
	c.issues = append(c.issues, vs...)
}

// check validates one member of a sequence and records its violations
// under path.
func (c *checker) check(path string, err error) {
	if err != nil {
		c.merge(prefixed(path, err))
	}
}

func (c *checker) err() error {
	if len(c.issues) == 0 {
		return nil
	}
	return &SchemaViolation{Entity: c.entity, Violations: c.issues}
}

// prefixed re-roots the violations of err under path. Non-violation errors
// become a single violation carrying their text.
func prefixed(path string, err error) []Violation {
	var sv *SchemaViolation
	if !errors.As(err, &sv) {
		return []Violation{{Kind: StructuralViolation, Path: path, Message: err.Error()}}
	}
	out := make([]Violation, 0, len(sv.Violations))
	for _, v := range sv.Violations {
		if v.Path != "" {
			v.Path = path + "." + v.Path
		} else {
			v.Path = path
		}
		out = append(out, v)
	}
	return out
}

// violation builds a single-message *SchemaViolation.
func violation(entity, msg string) error {
	return &SchemaViolation{Entity: entity, Violations: []Violation{{Kind: StructuralViolation, Message: msg}}}
}
