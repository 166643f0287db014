package schema

import (
	"testing"

	"github.com/RegistryAccord/registryaccord-vcon-go/pkg/vcon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paths(vs []vcon.Violation) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.Path)
	}
	return out
}

func TestValidateAcceptsWellShapedDocuments(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	doc := []byte(`{
		"vcon": "0.0.2",
		"uuid": "018e1b3c-0000-8000-8000-000000000001",
		"created_at": "2024-03-01T10:00:00Z",
		"parties": [{"tel": "+15551230001"}, {"mailto": "agent@example.com", "x-custom": 1}],
		"dialog": [
			{"type": "recording", "start": "2024-03-01T10:00:00Z", "parties": [0, [1]], "duration": 12.5,
			 "mediatype": "audio/wav", "url": "https://example.com/a.wav", "content_hash": "sha512-abc"},
			{"type": "text", "start": "2024-03-01T10:01:00Z", "parties": 1, "body": "hi", "encoding": "none"}
		],
		"analysis": [{"type": "summary", "dialog": [0, 1], "vendor": "acme", "body": {"text": "ok"}, "encoding": "json"}],
		"attachments": [{"type": "tags", "body": {"a": "b"}, "encoding": "json"}]
	}`)
	vs, err := v.Validate(doc)
	require.NoError(t, err)
	assert.Empty(t, vs)
}

func TestValidateReportsShapeErrors(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	tests := []struct {
		name string
		doc  string
		path string
	}{
		{"parties object", `{"uuid":"u","parties":{"tel":"1"}}`, "parties"},
		{"party not object", `{"uuid":"u","parties":["+1555"]}`, "parties[0]"},
		{"uuid number", `{"uuid":7,"parties":[]}`, "uuid"},
		{"dialog parties string", `{"uuid":"u","parties":[],"dialog":[{"type":"text","parties":"0"}]}`, "dialog[0].parties"},
		{"negative duration", `{"uuid":"u","parties":[],"dialog":[{"type":"recording","duration":-1}]}`, "dialog[0].duration"},
		{"analysis dialog string", `{"uuid":"u","parties":[],"analysis":[{"type":"summary","dialog":"0"}]}`, "analysis[0].dialog"},
		{"meta not object", `{"uuid":"u","parties":[],"meta":[]}`, "meta"},
		{"unknown version", `{"vcon":"9.9.9","uuid":"u","parties":[]}`, "vcon"},
		{"interaction type number", `{"uuid":"u","parties":[],"dialog":[{"type":"text","interaction_type":3}]}`, "dialog[0].interaction_type"},
		{"interaction id object", `{"uuid":"u","parties":[],"dialog":[{"type":"text","interaction_id":{}}]}`, "dialog[0].interaction_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vs, err := v.Validate([]byte(tt.doc))
			require.NoError(t, err)
			require.NotEmpty(t, vs)
			assert.Contains(t, paths(vs), tt.path)
			for _, vi := range vs {
				assert.Equal(t, vcon.StructuralViolation, vi.Kind)
				assert.NotEmpty(t, vi.Message)
			}
		})
	}
}

func TestValidateRootType(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	vs, err := v.Validate([]byte(`[1, 2]`))
	require.NoError(t, err)
	require.Len(t, vs, 1)
	assert.Equal(t, "", vs[0].Path)
}

func TestValidateRejectsNonJSON(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	_, err = v.Validate([]byte(`{"uuid":`))
	assert.Error(t, err)
}

func TestFieldPath(t *testing.T) {
	assert.Equal(t, "", fieldPath("(root)"))
	assert.Equal(t, "uuid", fieldPath("uuid"))
	assert.Equal(t, "dialog[0].parties[1]", fieldPath("dialog.0.parties.1"))
	assert.Equal(t, "dialog[0].parties[1][0]", fieldPath("dialog.0.parties.1.0"))
}
