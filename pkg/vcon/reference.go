package vcon

import "fmt"

// GroupItem references another vCon aggregated into this one.
type GroupItem struct {
	UUID        Optional[string]   `json:"uuid,omitzero"`
	Body        Optional[string]   `json:"body,omitzero"`
	Encoding    Optional[Encoding] `json:"encoding,omitzero"`
	URL         Optional[string]   `json:"url,omitzero"`
	ContentHash ContentHash        `json:"content_hash,omitzero"`
}

// NewGroupItem validates f.
func NewGroupItem(f GroupItem) (GroupItem, error) {
	if err := f.Validate(); err != nil {
		return GroupItem{}, err
	}
	return f, nil
}

// Validate requires a uuid, inline or external content. Inline group
// members are always JSON-encoded vCons.
func (g GroupItem) Validate() error {
	c := newChecker("group item")
	if enc, ok := g.Encoding.Get(); ok && enc != EncodingJSON {
		c.add(fmt.Sprintf("group item encoding must be json, got %q", enc))
	}
	c.when(!hasReference(g.UUID, g.Body, g.Encoding, g.URL, g.ContentHash),
		"GroupItem must have either uuid, inline (body + encoding), or external (url + content_hash) content")
	return c.err()
}

// Redacted references the less redacted vCon this one was derived from.
type Redacted struct {
	UUID        string             `json:"uuid"`
	Type        Optional[string]   `json:"type,omitzero"`
	Body        Optional[string]   `json:"body,omitzero"`
	Encoding    Optional[Encoding] `json:"encoding,omitzero"`
	URL         Optional[string]   `json:"url,omitzero"`
	ContentHash ContentHash        `json:"content_hash,omitzero"`
}

// NewRedacted validates f.
func NewRedacted(f Redacted) (Redacted, error) {
	if err := f.Validate(); err != nil {
		return Redacted{}, err
	}
	return f, nil
}

func (r Redacted) Validate() error {
	c := newChecker("redacted")
	c.when(r.UUID == "", "uuid required for redacted references")
	if enc, ok := r.Encoding.Get(); ok && !enc.Valid() {
		c.add(fmt.Sprintf("invalid encoding: %q", enc))
	}
	return c.err()
}

// Appended references the prior version this vCon extends.
type Appended struct {
	UUID        Optional[string]   `json:"uuid,omitzero"`
	Body        Optional[string]   `json:"body,omitzero"`
	Encoding    Optional[Encoding] `json:"encoding,omitzero"`
	URL         Optional[string]   `json:"url,omitzero"`
	ContentHash ContentHash        `json:"content_hash,omitzero"`
}

// NewAppended validates f.
func NewAppended(f Appended) (Appended, error) {
	if err := f.Validate(); err != nil {
		return Appended{}, err
	}
	return f, nil
}

func (a Appended) Validate() error {
	c := newChecker("appended")
	if enc, ok := a.Encoding.Get(); ok && !enc.Valid() {
		c.add(fmt.Sprintf("invalid encoding: %q", enc))
	}
	c.when(!hasReference(a.UUID, a.Body, a.Encoding, a.URL, a.ContentHash),
		"Appended must have either uuid, inline (body + encoding), or external (url + content_hash) content")
	return c.err()
}

func hasReference(uuid, body Optional[string], enc Optional[Encoding], url Optional[string], hash ContentHash) bool {
	return uuid.IsSet() || (body.IsSet() && enc.IsSet()) || (url.IsSet() && !hash.IsZero())
}
