package vcon

import "github.com/google/uuid"

// Vcon is the container: identity, timestamps, the owned entity sequences
// and at most one provenance link (redacted, appended or group).
//
// A Vcon is not safe for concurrent mutation.
type Vcon struct {
	Vcon      Version             `json:"vcon,omitempty"`
	UUID      string              `json:"uuid,omitempty"`
	CreatedAt Timestamp           `json:"created_at,omitzero"`
	UpdatedAt Optional[Timestamp] `json:"updated_at,omitzero"`
	Subject   Optional[string]    `json:"subject,omitzero"`
	Redacted  Optional[Redacted]  `json:"redacted,omitzero"`
	Appended  Optional[Appended]  `json:"appended,omitzero"`
	Group     []GroupItem         `json:"group,omitzero"`

	Parties     []Party      `json:"parties,omitzero"`
	Dialog      []Dialog     `json:"dialog,omitzero"`
	Analysis    []Analysis   `json:"analysis,omitzero"`
	Attachments []Attachment `json:"attachments,omitzero"`

	Meta map[string]any `json:"meta,omitzero"`
}

// BuildNew returns an empty container with a fresh uuid and the current
// time as created_at.
func BuildNew() *Vcon {
	return &Vcon{
		Vcon:        VersionCurrent,
		UUID:        uuid.NewString(),
		CreatedAt:   Now(),
		Parties:     []Party{},
		Dialog:      []Dialog{},
		Analysis:    []Analysis{},
		Attachments: []Attachment{},
	}
}

// AddParty validates p and appends it.
func (v *Vcon) AddParty(p Party) error {
	p, err := NewParty(p)
	if err != nil {
		return err
	}
	v.Parties = append(v.Parties, p)
	return nil
}

// AddDialog validates d and appends it. Party indices are checked by IsValid,
// not here.
func (v *Vcon) AddDialog(d Dialog) error {
	d, err := NewDialog(d)
	if err != nil {
		return err
	}
	v.Dialog = append(v.Dialog, d)
	return nil
}

// AddAnalysis validates a and appends it.
func (v *Vcon) AddAnalysis(a Analysis) error {
	a, err := NewAnalysis(a)
	if err != nil {
		return err
	}
	v.Analysis = append(v.Analysis, a)
	return nil
}

// AddAttachment validates a and appends it.
func (v *Vcon) AddAttachment(a Attachment) error {
	a, err := NewAttachment(a)
	if err != nil {
		return err
	}
	v.Attachments = append(v.Attachments, a)
	return nil
}

// AddGroupItem validates g and appends it to the group. It fails when the
// container already carries a redacted or appended link.
func (v *Vcon) AddGroupItem(g GroupItem) error {
	g, err := NewGroupItem(g)
	if err != nil {
		return err
	}
	if v.Redacted.IsSet() || v.Appended.IsSet() {
		return violation("vcon", msgExclusiveLinks)
	}
	v.Group = append(v.Group, g)
	return nil
}

// SetRedacted records the less redacted source of this vCon.
func (v *Vcon) SetRedacted(r Redacted) error {
	r, err := NewRedacted(r)
	if err != nil {
		return err
	}
	if v.Appended.IsSet() || len(v.Group) > 0 {
		return violation("vcon", msgExclusiveLinks)
	}
	v.Redacted = Some(r)
	return nil
}

// SetAppended records the prior version this vCon extends.
func (v *Vcon) SetAppended(a Appended) error {
	a, err := NewAppended(a)
	if err != nil {
		return err
	}
	if v.Redacted.IsSet() || len(v.Group) > 0 {
		return violation("vcon", msgExclusiveLinks)
	}
	v.Appended = Some(a)
	return nil
}

// FindPartyIndex returns the position of the first party whose attribute
// field (a wire name such as "tel" or "mailto") equals value.
func (v *Vcon) FindPartyIndex(field, value string) (int, bool) {
	for i, p := range v.Parties {
		if got, ok := p.field(field).Get(); ok && got == value {
			return i, true
		}
	}
	return -1, false
}

// FindDialog returns the first dialog whose attribute field equals value.
func (v *Vcon) FindDialog(field, value string) (*Dialog, bool) {
	for i := range v.Dialog {
		if got, ok := v.Dialog[i].field(field).Get(); ok && got == value {
			return &v.Dialog[i], true
		}
	}
	return nil, false
}

// FindAnalysisByType returns the first analysis of type t.
func (v *Vcon) FindAnalysisByType(t string) (*Analysis, bool) {
	for i := range v.Analysis {
		if v.Analysis[i].Type == t {
			return &v.Analysis[i], true
		}
	}
	return nil, false
}

// FindAttachmentByType returns the first attachment of type t.
func (v *Vcon) FindAttachmentByType(t string) (*Attachment, bool) {
	for i := range v.Attachments {
		if v.Attachments[i].isType(t) {
			return &v.Attachments[i], true
		}
	}
	return nil, false
}

const tagsAttachment = "tags"

// AddTag sets name to value in the tags attachment, creating the attachment
// on first use, and touches updated_at.
func (v *Vcon) AddTag(name, value string) {
	att, ok := v.FindAttachmentByType(tagsAttachment)
	if !ok {
		v.Attachments = append(v.Attachments, Attachment{
			Type:     Some(tagsAttachment),
			Body:     Body{kind: BodyStructured, value: map[string]any{}},
			Encoding: Some(EncodingJSON),
		})
		att = &v.Attachments[len(v.Attachments)-1]
	}
	if m, ok := att.Body.Map(); ok {
		m[name] = value
	} else {
		att.Body = Body{kind: BodyStructured, value: map[string]any{name: value}}
	}
	v.UpdatedAt = Some(Now())
}

// GetTag returns the value of tag name.
func (v *Vcon) GetTag(name string) (string, bool) {
	att, ok := v.FindAttachmentByType(tagsAttachment)
	if !ok {
		return "", false
	}
	m, ok := att.Body.Map()
	if !ok {
		return "", false
	}
	s, ok := m[name].(string)
	return s, ok
}

// Tags returns a copy of every string tag.
func (v *Vcon) Tags() map[string]string {
	out := map[string]string{}
	att, ok := v.FindAttachmentByType(tagsAttachment)
	if !ok {
		return out
	}
	m, _ := att.Body.Map()
	for k, val := range m {
		if s, ok := val.(string); ok {
			out[k] = s
		}
	}
	return out
}

// String returns the canonical JSON encoding, or the encoding error text.
func (v *Vcon) String() string {
	b, err := v.ToJSON()
	if err != nil {
		return "vcon: " + err.Error()
	}
	return string(b)
}

const msgExclusiveLinks = "Only one of redacted, appended, or group can be provided"

// checkLinks enforces the mutual exclusivity of the provenance links.
func (v *Vcon) checkLinks(c *checker) {
	n := 0
	for _, set := range []bool{v.Redacted.IsSet(), v.Appended.IsSet(), len(v.Group) > 0} {
		if set {
			n++
		}
	}
	c.when(n > 1, msgExclusiveLinks)
}
