package vcon

import "fmt"

// Attachment is any document exchanged in or relevant to the conversation.
// The tags of a vCon are kept in an attachment of type "tags".
type Attachment struct {
	Type      Optional[string] `json:"type,omitzero"`
	Start     Timestamp        `json:"start,omitzero"`
	Party     Optional[int]    `json:"party,omitzero"`
	Dialog    Optional[int]    `json:"dialog,omitzero"`
	Mediatype Optional[string] `json:"mediatype,omitzero"`
	Filename  Optional[string] `json:"filename,omitzero"`

	Body     Body               `json:"body,omitzero"`
	Encoding Optional[Encoding] `json:"encoding,omitzero"`

	URL         Optional[string] `json:"url,omitzero"`
	ContentHash ContentHash      `json:"content_hash,omitzero"`
}

// NewAttachment validates f.
func NewAttachment(f Attachment) (Attachment, error) {
	if err := f.Validate(); err != nil {
		return Attachment{}, err
	}
	return f, nil
}

func (a Attachment) Validate() error {
	c := newChecker("attachment")
	if enc, ok := a.Encoding.Get(); ok && !enc.Valid() {
		c.add(fmt.Sprintf("invalid encoding: %q", enc))
	}
	c.when(a.Body.Kind() == BodyScalar, "Attachment body must be text or a structured value")

	inline := !a.Body.IsZero() && a.Encoding.IsSet()
	external := a.URL.IsSet() && !a.ContentHash.IsZero()
	c.when(!inline && !external,
		"Attachment must have either inline (body + encoding) or external (url + content_hash) content")
	return c.err()
}

func (a Attachment) isType(t string) bool {
	v, ok := a.Type.Get()
	return ok && v == t
}
