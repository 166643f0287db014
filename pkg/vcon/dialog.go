package vcon

import "fmt"

// Dialog is one segment of the conversation: a recording, a text message, a
// transfer between parties, or a call attempt that never connected.
type Dialog struct {
	Type       DialogType        `json:"type"`
	Start      Timestamp         `json:"start,omitzero"`
	Duration   Optional[float64] `json:"duration,omitzero"`
	Parties    Parties           `json:"parties,omitzero"`
	Originator Optional[int]     `json:"originator,omitzero"`
	Mediatype  Optional[string]  `json:"mediatype,omitzero"`
	Filename   Optional[string]  `json:"filename,omitzero"`

	// Inline content.
	Body     Optional[string]   `json:"body,omitzero"`
	Encoding Optional[Encoding] `json:"encoding,omitzero"`

	// External content.
	URL         Optional[string] `json:"url,omitzero"`
	ContentHash ContentHash      `json:"content_hash,omitzero"`

	Disposition  Optional[Disposition] `json:"disposition,omitzero"`
	PartyHistory []PartyHistory        `json:"party_history,omitzero"`

	// Transfer roles; only meaningful when Type is DialogTransfer.
	Transferee     Optional[int] `json:"transferee,omitzero"`
	Transferor     Optional[int] `json:"transferor,omitzero"`
	TransferTarget Optional[int] `json:"transfer_target,omitzero"`
	Original       Optional[int] `json:"original,omitzero"`
	Consultation   Optional[int] `json:"consultation,omitzero"`
	TargetDialog   Optional[int] `json:"target_dialog,omitzero"`

	Campaign        Optional[string] `json:"campaign,omitzero"`
	InteractionType Optional[string] `json:"interaction_type,omitzero"`
	InteractionID   Optional[string] `json:"interaction_id,omitzero"`
	Skill           Optional[string] `json:"skill,omitzero"`
	Application     Optional[string] `json:"application,omitzero"`
	MessageID       Optional[string] `json:"message_id,omitzero"`
	Meta            map[string]any   `json:"meta,omitzero"`
}

// NewDialog validates f and returns a normalized copy.
func NewDialog(f Dialog) (Dialog, error) {
	if err := f.Validate(); err != nil {
		return Dialog{}, err
	}
	meta, err := normalizeMeta(f.Meta)
	if err != nil {
		return Dialog{}, violation("dialog", err.Error())
	}
	f.Meta = meta
	if f.PartyHistory != nil {
		f.PartyHistory = append([]PartyHistory{}, f.PartyHistory...)
	}
	return f, nil
}

// transferField pairs a transfer role with its wire name.
type transferField struct {
	name     string
	value    Optional[int]
	required bool
}

func (d Dialog) transferFields() []transferField {
	return []transferField{
		{"transferee", d.Transferee, true},
		{"transferor", d.Transferor, true},
		{"transfer_target", d.TransferTarget, true},
		{"original", d.Original, true},
		{"consultation", d.Consultation, false},
		{"target_dialog", d.TargetDialog, true},
	}
}

func (d Dialog) hasInline() bool   { return d.Body.IsSet() && d.Encoding.IsSet() }
func (d Dialog) hasExternal() bool { return d.URL.IsSet() && !d.ContentHash.IsZero() }

// Validate checks the required fields and the content rules that depend on
// the dialog type.
func (d Dialog) Validate() error {
	c := newChecker("dialog")

	if d.Type == "" {
		c.add("type required")
	} else if !d.Type.Valid() {
		c.add(fmt.Sprintf("invalid dialog type: %q", d.Type))
	}
	c.when(d.Start.IsZero(), "start required")
	c.when(d.Parties.IsZero(), "parties required")

	if enc, ok := d.Encoding.Get(); ok && !enc.Valid() {
		c.add(fmt.Sprintf("invalid encoding: %q", enc))
	}
	if disp, ok := d.Disposition.Get(); ok && !disp.Valid() {
		c.add(fmt.Sprintf("invalid disposition: %q", disp))
	}
	for i, h := range d.PartyHistory {
		c.check(fmt.Sprintf("party_history[%d]", i), h.Validate())
	}

	switch d.Type {
	case DialogIncomplete:
		c.when(!d.Disposition.IsSet(), "disposition required for incomplete dialogs")
		c.when(d.Body.IsSet() || d.Encoding.IsSet() || d.URL.IsSet() || !d.ContentHash.IsZero(),
			"body or url should not be present for incomplete dialogs")
	case DialogRecording, DialogText:
		c.when(d.Disposition.IsSet(), "disposition should not be present for non-incomplete dialogs")
		c.when(!d.hasInline() && !d.hasExternal(),
			"Dialog must have either inline (body + encoding) or external (url + content_hash) content")
	case DialogTransfer:
		c.when(d.Disposition.IsSet(), "disposition should not be present for non-incomplete dialogs")
	}

	for _, tf := range d.transferFields() {
		switch {
		case d.Type == DialogTransfer && tf.required && !tf.value.IsSet():
			c.add(tf.name + " required for transfer dialogs")
		case d.Type != DialogTransfer && tf.value.IsSet():
			c.add(tf.name + " should not be present for non-transfer dialogs")
		}
	}

	return c.err()
}

// field returns the named text attribute using its wire name.
func (d Dialog) field(name string) Optional[string] {
	switch name {
	case "type":
		return Some(string(d.Type))
	case "mediatype":
		return d.Mediatype
	case "filename":
		return d.Filename
	case "body":
		return d.Body
	case "url":
		return d.URL
	case "campaign":
		return d.Campaign
	case "interaction_type":
		return d.InteractionType
	case "interaction_id":
		return d.InteractionID
	case "skill":
		return d.Skill
	case "application":
		return d.Application
	case "message_id":
		return d.MessageID
	case "start":
		if d.Start.IsZero() {
			return None[string]()
		}
		return Some(d.Start.String())
	case "disposition":
		if disp, ok := d.Disposition.Get(); ok {
			return Some(string(disp))
		}
	case "encoding":
		if enc, ok := d.Encoding.Get(); ok {
			return Some(string(enc))
		}
	}
	return None[string]()
}
