package vcon

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoPartyVcon(t *testing.T) *Vcon {
	t.Helper()
	v := BuildNew()
	require.NoError(t, v.AddParty(Party{Tel: Some("+15551230000"), Name: Some("Alice")}))
	require.NoError(t, v.AddParty(Party{Mailto: Some("bob@example.com"), Name: Some("Bob")}))
	return v
}

func TestBuildNew(t *testing.T) {
	v := BuildNew()

	_, err := uuid.Parse(v.UUID)
	require.NoError(t, err)
	assert.Equal(t, VersionCurrent, v.Vcon)
	assert.False(t, v.CreatedAt.IsZero())
	assert.WithinDuration(t, time.Now(), v.CreatedAt.Time(), time.Minute)
	assert.NotNil(t, v.Parties)
	assert.Empty(t, v.Parties)
	assert.NotNil(t, v.Dialog)
	assert.Empty(t, v.Dialog)
	assert.NotNil(t, v.Analysis)
	assert.Empty(t, v.Analysis)
	assert.NotNil(t, v.Attachments)
	assert.Empty(t, v.Attachments)

	assert.NotEqual(t, v.UUID, BuildNew().UUID)

	ok, violations := v.IsValid()
	assert.True(t, ok)
	assert.Empty(t, violations)
}

func TestAddRejectsInvalidEntity(t *testing.T) {
	v := twoPartyVcon(t)
	require.NoError(t, v.AddDialog(recording()))

	err := v.AddDialog(Dialog{Type: DialogIncomplete, Start: testStart, Parties: PartyIndex(0)})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStructural)
	assert.Len(t, v.Dialog, 1)

	err = v.AddAnalysis(Analysis{Type: "summary", Vendor: "acme", Body: TextBody("x"), Encoding: Some(EncodingJSON)})
	require.Error(t, err)
	assert.Empty(t, v.Analysis)
}

func TestAddMaterializesSequences(t *testing.T) {
	v := &Vcon{}
	require.NoError(t, v.AddParty(Party{Name: Some("Alice")}))
	require.NoError(t, v.AddAttachment(Attachment{Body: TextBody("n"), Encoding: Some(EncodingNone)}))
	assert.Len(t, v.Parties, 1)
	assert.Len(t, v.Attachments, 1)
}

func TestIsValidPartyReference(t *testing.T) {
	v := BuildNew()
	require.NoError(t, v.AddParty(Party{Name: Some("Alice")}))
	d := recording()
	d.Parties = PartyIndex(999)
	require.NoError(t, v.AddDialog(d))

	ok, violations := v.IsValid()
	assert.False(t, ok)
	require.Len(t, violations, 1)
	assert.Equal(t, ReferenceViolation, violations[0].Kind)
	assert.Equal(t, "dialog[0]", violations[0].Path)
	assert.Equal(t, "Dialog at index 0 references invalid party index: 999", violations[0].Message)
}

func TestIsValidNestedPartyReference(t *testing.T) {
	v := twoPartyVcon(t)
	d := recording()
	d.Parties = NestedParties(Slot(0), SlotGroup(1, 5), Slot(-1))
	require.NoError(t, v.AddDialog(recording()))
	require.NoError(t, v.AddDialog(d))

	ok, violations := v.IsValid()
	assert.False(t, ok)
	require.Len(t, violations, 2)
	assert.Equal(t, "Dialog at index 1 references invalid party index: 5", violations[0].Message)
	assert.Equal(t, "Dialog at index 1 references invalid party index: -1", violations[1].Message)
}

func TestIsValidAnalysisReference(t *testing.T) {
	v := twoPartyVcon(t)
	require.NoError(t, v.AddDialog(recording()))
	require.NoError(t, v.AddAnalysis(Analysis{
		Type:     "transcript",
		Vendor:   "acme",
		Dialog:   DialogList(0, 3),
		Body:     TextBody("hello"),
		Encoding: Some(EncodingNone),
	}))

	ok, violations := v.IsValid()
	assert.False(t, ok)
	require.Len(t, violations, 1)
	assert.Equal(t, ReferenceViolation, violations[0].Kind)
	assert.Equal(t, "Analysis at index 0 references invalid dialog index: 3", violations[0].Message)

	_, again := v.IsValid()
	assert.Equal(t, violations, again)
}

func TestIsValidTransfer(t *testing.T) {
	v := twoPartyVcon(t)
	require.NoError(t, v.AddParty(Party{Name: Some("Carol")}))
	require.NoError(t, v.AddDialog(recording()))
	require.NoError(t, v.AddDialog(recording()))
	require.NoError(t, v.AddDialog(Dialog{
		Type:           DialogTransfer,
		Start:          testStart,
		Parties:        PartyList(0, 1),
		Transferee:     Some(0),
		Transferor:     Some(1),
		TransferTarget: Some(2),
		Original:       Some(0),
		TargetDialog:   Some(1),
	}))

	ok, violations := v.IsValid()
	assert.True(t, ok)
	assert.Empty(t, violations)
}

func TestIsValidTopLevel(t *testing.T) {
	ok, violations := (&Vcon{}).IsValid()
	assert.False(t, ok)
	var msgs []string
	for _, v := range violations {
		assert.Equal(t, StructuralViolation, v.Kind)
		msgs = append(msgs, v.Message)
	}
	assert.Equal(t, []string{
		"Missing required field: uuid",
		"Missing required field: vcon",
		"Missing required field: created_at",
		"parties must be a list",
	}, msgs)

	v := BuildNew()
	v.CreatedAt = NewTimestamp(time.Date(10000, 1, 1, 0, 0, 0, 0, time.UTC))
	_, violations = v.IsValid()
	require.Len(t, violations, 1)
	assert.Equal(t, "Invalid created_at format. Must be ISO 8601 datetime string", violations[0].Message)

	v = BuildNew()
	v.Vcon = "9.9.9"
	ok, violations = v.IsValid()
	assert.False(t, ok)
	require.Len(t, violations, 1)
	assert.Equal(t, "Unsupported vcon version: 9.9.9", violations[0].Message)
}

func TestFindOnEmpty(t *testing.T) {
	for _, v := range []*Vcon{{}, BuildNew()} {
		_, ok := v.FindDialog("type", "recording")
		assert.False(t, ok)
		_, ok = v.FindAnalysisByType("summary")
		assert.False(t, ok)
		_, ok = v.FindAttachmentByType("tags")
		assert.False(t, ok)
		idx, ok := v.FindPartyIndex("tel", "+15551230000")
		assert.False(t, ok)
		assert.Equal(t, -1, idx)
	}
}

func TestFind(t *testing.T) {
	v := twoPartyVcon(t)
	idx, ok := v.FindPartyIndex("mailto", "bob@example.com")
	require.True(t, ok)
	assert.Equal(t, 1, idx)

	_, ok = v.FindPartyIndex("unknown", "bob@example.com")
	assert.False(t, ok)

	text := Dialog{Type: DialogText, Start: testStart, Parties: PartyIndex(1), Body: Some("hi"), Encoding: Some(EncodingNone)}
	require.NoError(t, v.AddDialog(recording()))
	require.NoError(t, v.AddDialog(text))
	d, ok := v.FindDialog("type", "text")
	require.True(t, ok)
	assert.Equal(t, "hi", d.Body.OrElse(""))

	require.NoError(t, v.AddAnalysis(Analysis{Type: "summary", Vendor: "a", Body: TextBody("first"), Encoding: Some(EncodingNone)}))
	require.NoError(t, v.AddAnalysis(Analysis{Type: "summary", Vendor: "b", Body: TextBody("second"), Encoding: Some(EncodingNone)}))
	a, ok := v.FindAnalysisByType("summary")
	require.True(t, ok)
	assert.Equal(t, "a", a.Vendor)
}

func TestTags(t *testing.T) {
	v := BuildNew()
	_, ok := v.GetTag("category")
	assert.False(t, ok)
	assert.False(t, v.UpdatedAt.IsSet())

	v.AddTag("category", "support")
	v.AddTag("priority", "high")

	got, ok := v.GetTag("category")
	require.True(t, ok)
	assert.Equal(t, "support", got)
	_, ok = v.GetTag("missing")
	assert.False(t, ok)
	assert.True(t, v.UpdatedAt.IsSet())

	require.Len(t, v.Attachments, 1)
	att, ok := v.FindAttachmentByType("tags")
	require.True(t, ok)
	assert.Equal(t, EncodingJSON, att.Encoding.OrElse(""))
	assert.Equal(t, map[string]string{"category": "support", "priority": "high"}, v.Tags())
}

func TestProvenanceLinksAreExclusive(t *testing.T) {
	v := BuildNew()
	require.NoError(t, v.SetRedacted(Redacted{UUID: uuid.NewString()}))

	err := v.AddGroupItem(GroupItem{UUID: Some(uuid.NewString())})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Only one of redacted, appended, or group can be provided")
	assert.Empty(t, v.Group)

	err = v.SetAppended(Appended{UUID: Some(uuid.NewString())})
	require.Error(t, err)
	assert.False(t, v.Appended.IsSet())
}
