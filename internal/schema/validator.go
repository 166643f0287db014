// Package schema is the wire-shape gate in front of the vCon decoder.
// It rejects documents whose JSON types are wrong (an object where a list
// belongs, a number where a string belongs) with JSON Schema diagnostics,
// leaving the semantic rules to the engine.
package schema

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/RegistryAccord/registryaccord-vcon-go/pkg/vcon"
	"github.com/xeipuuv/gojsonschema"
)

// Version is the vCon syntax version the schema describes.
const Version = string(vcon.VersionCurrent)

// vconSchema describes the JSON shape of a vCon document. Unknown members
// are allowed everywhere.
const vconSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "vCon",
  "type": "object",
  "definitions": {
    "index": {"type": "integer", "minimum": 0},
    "hash": {"oneOf": [{"type": "string"}, {"type": "array", "items": {"type": "string"}}]},
    "encoding": {"type": "string"},
    "body": {},
    "party": {
      "type": "object",
      "properties": {
        "tel": {"type": "string"}, "stir": {"type": "string"}, "mailto": {"type": "string"},
        "name": {"type": "string"}, "validation": {"type": "string"}, "gmlpos": {"type": "string"},
        "civicaddress": {"type": "object"}, "uuid": {"type": "string"}, "role": {"type": "string"},
        "contact_list": {"type": "string"}, "meta": {"type": "object"}
      }
    },
    "dialog": {
      "type": "object",
      "properties": {
        "type": {"type": "string"},
        "start": {"type": "string"},
        "duration": {"type": "number", "minimum": 0},
        "parties": {
          "oneOf": [
            {"$ref": "#/definitions/index"},
            {"type": "array", "items": {"oneOf": [
              {"$ref": "#/definitions/index"},
              {"type": "array", "items": {"$ref": "#/definitions/index"}}
            ]}}
          ]
        },
        "originator": {"$ref": "#/definitions/index"},
        "mediatype": {"type": "string"}, "filename": {"type": "string"},
        "encoding": {"$ref": "#/definitions/encoding"},
        "url": {"type": "string"}, "content_hash": {"$ref": "#/definitions/hash"},
        "disposition": {"type": "string"},
        "party_history": {"type": "array", "items": {
          "type": "object",
          "properties": {
            "party": {"$ref": "#/definitions/index"},
            "event": {"type": "string"},
            "time": {"type": "string"}
          }
        }},
        "transferee": {"$ref": "#/definitions/index"},
        "transferor": {"$ref": "#/definitions/index"},
        "transfer_target": {"$ref": "#/definitions/index"},
        "original": {"$ref": "#/definitions/index"},
        "consultation": {"$ref": "#/definitions/index"},
        "target_dialog": {"$ref": "#/definitions/index"},
        "campaign": {"type": "string"}, "interaction_type": {"type": "string"}, "interaction_id": {"type": "string"},
        "skill": {"type": "string"},
        "application": {"type": "string"}, "message_id": {"type": "string"},
        "meta": {"type": "object"}
      }
    },
    "analysis": {
      "type": "object",
      "properties": {
        "type": {"type": "string"},
        "dialog": {"oneOf": [{"$ref": "#/definitions/index"}, {"type": "array", "items": {"$ref": "#/definitions/index"}}]},
        "mediatype": {"type": "string"}, "filename": {"type": "string"},
        "vendor": {"type": "string"}, "product": {"type": "string"}, "schema": {"type": "string"},
        "encoding": {"$ref": "#/definitions/encoding"},
        "url": {"type": "string"}, "content_hash": {"$ref": "#/definitions/hash"}
      }
    },
    "attachment": {
      "type": "object",
      "properties": {
        "type": {"type": "string"}, "start": {"type": "string"},
        "party": {"$ref": "#/definitions/index"}, "dialog": {"$ref": "#/definitions/index"},
        "mediatype": {"type": "string"}, "filename": {"type": "string"},
        "encoding": {"$ref": "#/definitions/encoding"},
        "url": {"type": "string"}, "content_hash": {"$ref": "#/definitions/hash"}
      }
    },
    "reference": {
      "type": "object",
      "properties": {
        "uuid": {"type": "string"}, "type": {"type": "string"}, "body": {"type": "string"},
        "encoding": {"$ref": "#/definitions/encoding"},
        "url": {"type": "string"}, "content_hash": {"$ref": "#/definitions/hash"}
      }
    }
  },
  "properties": {
    "vcon": {"type": "string", "enum": ["0.0.2"]},
    "uuid": {"type": "string"},
    "created_at": {"type": "string"},
    "updated_at": {"type": "string"},
    "subject": {"type": "string"},
    "redacted": {"$ref": "#/definitions/reference"},
    "appended": {"$ref": "#/definitions/reference"},
    "group": {"type": "array", "items": {"$ref": "#/definitions/reference"}},
    "parties": {"type": "array", "items": {"$ref": "#/definitions/party"}},
    "dialog": {"type": "array", "items": {"$ref": "#/definitions/dialog"}},
    "analysis": {"type": "array", "items": {"$ref": "#/definitions/analysis"}},
    "attachments": {"type": "array", "items": {"$ref": "#/definitions/attachment"}},
    "meta": {"type": "object"}
  }
}`

// Validator checks documents against the compiled vCon schema.
// It is safe for concurrent use.
type Validator struct {
	schema *gojsonschema.Schema
}

// NewValidator compiles the vCon schema.
func NewValidator() (*Validator, error) {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(vconSchema))
	if err != nil {
		return nil, fmt.Errorf("invalid vcon schema: %w", err)
	}
	return &Validator{schema: s}, nil
}

// Validate checks doc, a JSON document. It returns the schema violations
// found, or an error when doc is not JSON at all.
func (v *Validator) Validate(doc []byte) ([]vcon.Violation, error) {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}

	out := make([]vcon.Violation, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		out = append(out, vcon.Violation{
			Kind:    vcon.StructuralViolation,
			Path:    fieldPath(desc.Field()),
			Message: desc.Description(),
		})
	}
	return out, nil
}

// fieldPath turns a gojsonschema field ("dialog.0.parties") into the
// path notation the engine uses ("dialog[0].parties").
func fieldPath(field string) string {
	if field == gojsonschema.STRING_CONTEXT_ROOT {
		return ""
	}
	var b strings.Builder
	for i, part := range strings.Split(field, ".") {
		if _, err := strconv.Atoi(part); err == nil && i > 0 {
			b.WriteString("[" + part + "]")
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(part)
	}
	return b.String()
}
