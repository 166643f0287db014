package vcon

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fullVcon(t *testing.T) *Vcon {
	t.Helper()
	v := BuildNew()
	v.CreatedAt = MustParseTimestamp("2024-03-01T09:59:00.123456Z")
	v.Subject = Some("Refund request")
	v.Meta = map[string]any{"source": "pbx-7", "score": 0.5}

	require.NoError(t, v.AddParty(Party{
		Tel:          Some("+15551230000"),
		Name:         Some("Alice"),
		Role:         Some("customer"),
		CivicAddress: Some(CivicAddress{Country: Some("US"), A3: Some("Springfield"), PC: Some("12345")}),
		Meta:         map[string]any{"vip": true},
	}))
	require.NoError(t, v.AddParty(Party{Mailto: Some("agent@example.com"), Role: Some("agent")}))
	require.NoError(t, v.AddParty(Party{}))

	require.NoError(t, v.AddDialog(Dialog{
		Type:        DialogRecording,
		Start:       testStart,
		Duration:    Some(42.5),
		Parties:     NestedParties(Slot(0), SlotGroup(1, 2)),
		Originator:  Some(0),
		Mediatype:   Some("audio/x-wav"),
		URL:         Some("https://example.com/call.wav"),
		ContentHash: Hashes("sha512-abc"),
		PartyHistory: []PartyHistory{
			{Party: 0, Event: PartyJoin, Time: testStart},
			{Party: 2, Event: PartyHold, Time: MustParseTimestamp("2024-03-01T10:00:30Z")},
		},
		Campaign: Some("spring"),
		Skill:    Some("billing"),
	}))
	require.NoError(t, v.AddDialog(Dialog{
		Type:           DialogTransfer,
		Start:          MustParseTimestamp("2024-03-01T10:01:00Z"),
		Parties:        PartyList(0, 1, 2),
		Transferee:     Some(0),
		Transferor:     Some(1),
		TransferTarget: Some(2),
		Original:       Some(0),
		Consultation:   Some(0),
		TargetDialog:   Some(0),
	}))
	require.NoError(t, v.AddDialog(Dialog{
		Type:        DialogIncomplete,
		Start:       MustParseTimestamp("2024-03-01T10:02:00Z"),
		Parties:     PartyIndex(2),
		Disposition: Some(DispositionVoicemailNoMessage),
	}))

	require.NoError(t, v.AddAnalysis(Analysis{
		Type:     "transcript",
		Vendor:   "acme",
		Product:  Some("asr-2"),
		Dialog:   DialogList(0),
		Body:     MustBody(map[string]any{"segments": []any{"hi", "hello"}, "confidence": 0.93}),
		Encoding: Some(EncodingJSON),
	}))
	require.NoError(t, v.AddAnalysis(Analysis{
		Type:   "sentiment",
		Vendor: "acme",
		Dialog: DialogIndex(0),
		Body:   MustBody(0.7),
	}))

	require.NoError(t, v.AddAttachment(Attachment{
		Type:     Some("invoice"),
		Start:    testStart,
		Party:    Some(0),
		Dialog:   Some(0),
		Body:     TextBody("SW52b2ljZQ"),
		Encoding: Some(EncodingBase64URL),
	}))
	v.AddTag("category", "support")
	require.NoError(t, v.AddGroupItem(GroupItem{UUID: Some("0190c5b4-7e4c-7c3e-9a8e-3f6f1a2b3c4d")}))
	return v
}

func TestRoundTrip(t *testing.T) {
	t.Run("full document", func(t *testing.T) {
		v := fullVcon(t)
		raw, err := v.ToJSON()
		require.NoError(t, err)

		decoded, err := BuildFromJSON(raw)
		require.NoError(t, err)
		assert.Equal(t, v, decoded)

		again, err := decoded.ToJSON()
		require.NoError(t, err)
		assert.JSONEq(t, string(raw), string(again))
	})

	t.Run("fresh container", func(t *testing.T) {
		v := BuildNew()
		raw, err := v.ToJSON()
		require.NoError(t, err)
		decoded, err := BuildFromJSON(raw)
		require.NoError(t, err)
		assert.Equal(t, v, decoded)
		assert.NotNil(t, decoded.Dialog)
	})

	t.Run("nested parties without groups", func(t *testing.T) {
		v := BuildNew()
		require.NoError(t, v.AddParty(Party{Name: Some("Alice")}))
		require.NoError(t, v.AddDialog(Dialog{
			Type:     DialogText,
			Start:    testStart,
			Parties:  NestedParties(Slot(0)),
			Body:     Some("hi"),
			Encoding: Some(EncodingNone),
		}))
		assert.Equal(t, PartiesList, v.Dialog[0].Parties.Kind())

		raw, err := v.ToJSON()
		require.NoError(t, err)
		decoded, err := BuildFromJSON(raw)
		require.NoError(t, err)
		assert.Equal(t, v, decoded)
	})

	t.Run("map form", func(t *testing.T) {
		v := fullVcon(t)
		m, err := v.ToMap()
		require.NoError(t, err)
		decoded, err := FromMap(m)
		require.NoError(t, err)
		assert.Equal(t, v, decoded)
	})
}

func TestToJSONShape(t *testing.T) {
	v := BuildNew()
	v.CreatedAt = MustParseTimestamp("2024-03-01T12:00:00+02:00")
	raw, err := v.ToJSON()
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, "2024-03-01T10:00:00Z", m["created_at"])
	assert.Equal(t, []any{}, m["parties"])
	assert.Equal(t, []any{}, m["dialog"])
	for _, absent := range []string{"updated_at", "subject", "redacted", "appended", "group", "meta"} {
		assert.NotContains(t, m, absent)
	}

	require.NoError(t, v.AddParty(Party{Name: Some("Alice")}))
	m, err = v.ToMap()
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"name": "Alice"}}, m["parties"])
}

func TestBuildFromJSONDefaults(t *testing.T) {
	v, err := BuildFromJSON([]byte(`{"uuid":"0190c5b4-7e4c-7c3e-9a8e-3f6f1a2b3c4d","created_at":"2024-03-01 10:00:00"}`))
	require.NoError(t, err)
	assert.Equal(t, VersionCurrent, v.Vcon)
	assert.NotNil(t, v.Parties)
	assert.Nil(t, v.Dialog)
	assert.True(t, v.CreatedAt.Equal(testStart))

	ok, violations := v.IsValid()
	assert.True(t, ok)
	assert.Empty(t, violations)
}

func TestBuildFromJSONLeavesMissingIdentityToIsValid(t *testing.T) {
	v, err := BuildFromJSON([]byte(`{"parties":[]}`))
	require.NoError(t, err)

	ok, violations := v.IsValid()
	assert.False(t, ok)
	var msgs []string
	for _, vi := range violations {
		msgs = append(msgs, vi.Message)
	}
	assert.Equal(t, []string{
		"Missing required field: uuid",
		"Missing required field: created_at",
	}, msgs)
}

func TestBuildFromJSONRejectsUnknownVersion(t *testing.T) {
	_, err := BuildFromJSON([]byte(`{"vcon":"9.9.9","uuid":"x","created_at":"2024-03-01T10:00:00Z"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStructural)
	assert.Contains(t, err.Error(), `unsupported vcon version "9.9.9"`)

	_, err = FromMap(map[string]any{"vcon": "0.0.1", "uuid": "x", "created_at": "2024-03-01T10:00:00Z"})
	assert.ErrorIs(t, err, ErrStructural)
}

func TestBuildFromJSONViolations(t *testing.T) {
	doc := `{
		"uuid": "0190c5b4-7e4c-7c3e-9a8e-3f6f1a2b3c4d",
		"created_at": "2024-03-01T10:00:00Z",
		"parties": [{"name": "Alice"}],
		"dialog": [
			{"type": "text", "start": "2024-03-01T10:00:00Z", "parties": 0, "body": "hi", "encoding": "none"},
			{"type": "transfer", "start": "2024-03-01T10:00:00Z", "parties": [0],
			 "transferee": 0, "transferor": 0, "original": 0, "target_dialog": 0}
		],
		"analysis": [{"type": "summary", "vendor": "acme", "encoding": "json", "body": "flat"}]
	}`
	_, err := BuildFromJSON([]byte(doc))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStructural)

	var sv *SchemaViolation
	require.ErrorAs(t, err, &sv)
	require.Len(t, sv.Violations, 2)
	assert.Equal(t, "dialog[1]", sv.Violations[0].Path)
	assert.Equal(t, "transfer_target required for transfer dialogs", sv.Violations[0].Message)
	assert.Equal(t, "analysis[0]", sv.Violations[1].Path)
	assert.Equal(t, "JSON body must be a structured value", sv.Violations[1].Message)
}

func TestBuildFromJSONMalformed(t *testing.T) {
	cases := map[string]string{
		"syntax":          `{"uuid":`,
		"not an object":   `[1, 2]`,
		"null":            `null`,
		"bad timestamp":   `{"uuid":"x","created_at":"yesterday"}`,
		"bad parties":     `{"uuid":"x","created_at":"2024-03-01T10:00:00Z","dialog":[{"type":"text","start":"2024-03-01T10:00:00Z","parties":"all","url":"u","content_hash":"h"}]}`,
		"exclusive links": `{"uuid":"x","created_at":"2024-03-01T10:00:00Z","redacted":{"uuid":"a"},"group":[{"uuid":"b"}]}`,
		"wrong type":      `{"uuid":7}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := BuildFromJSON([]byte(doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrStructural)
		})
	}
}

func TestBuildFromJSONKeepsReferenceErrorsForIsValid(t *testing.T) {
	v, err := BuildFromJSON([]byte(`{
		"uuid": "x", "created_at": "2024-03-01T10:00:00Z", "parties": [{}],
		"dialog": [{"type": "incomplete", "start": "2024-03-01T10:00:00Z", "parties": 999, "disposition": "busy"}]
	}`))
	require.NoError(t, err)
	ok, violations := v.IsValid()
	assert.False(t, ok)
	require.Len(t, violations, 1)
	assert.True(t, strings.Contains(violations[0].Message, "999"))
}

func TestStringMatchesToJSON(t *testing.T) {
	v := fullVcon(t)
	raw, err := v.ToJSON()
	require.NoError(t, err)
	assert.Equal(t, string(raw), v.String())
}

func TestVariantDecoding(t *testing.T) {
	t.Run("parties", func(t *testing.T) {
		var p Parties
		require.NoError(t, json.Unmarshal([]byte(`3`), &p))
		assert.Equal(t, PartiesIndex, p.Kind())
		assert.Equal(t, []int{3}, p.Indices())

		require.NoError(t, json.Unmarshal([]byte(`[0, 1]`), &p))
		assert.Equal(t, PartiesList, p.Kind())

		require.NoError(t, json.Unmarshal([]byte(`[0, [1, 2]]`), &p))
		assert.Equal(t, PartiesNested, p.Kind())
		assert.Equal(t, []int{0, 1, 2}, p.Indices())

		assert.Error(t, json.Unmarshal([]byte(`{"a":1}`), &p))
	})

	t.Run("body", func(t *testing.T) {
		var b Body
		require.NoError(t, json.Unmarshal([]byte(`"text"`), &b))
		assert.Equal(t, BodyText, b.Kind())
		require.NoError(t, json.Unmarshal([]byte(`{"k":"v"}`), &b))
		assert.Equal(t, BodyStructured, b.Kind())
		require.NoError(t, json.Unmarshal([]byte(`true`), &b))
		assert.Equal(t, BodyScalar, b.Kind())
		require.NoError(t, json.Unmarshal([]byte(`null`), &b))
		assert.True(t, b.IsZero())
	})

	t.Run("content hash", func(t *testing.T) {
		var c ContentHash
		require.NoError(t, json.Unmarshal([]byte(`["a","b"]`), &c))
		out, err := json.Marshal(c)
		require.NoError(t, err)
		assert.JSONEq(t, `["a","b"]`, string(out))
	})

	t.Run("timestamps", func(t *testing.T) {
		for _, s := range []string{
			"2024-03-01T10:00:00Z",
			"2024-03-01T12:00:00+02:00",
			"2024-03-01T10:00:00",
			"2024-03-01 10:00:00",
			"2024-03-01T10:00:00.000Z",
		} {
			ts, err := ParseTimestamp(s)
			require.NoError(t, err, s)
			assert.True(t, ts.Equal(testStart), s)
		}
		_, err := ParseTimestamp("01/03/2024")
		assert.Error(t, err)
	})
}
