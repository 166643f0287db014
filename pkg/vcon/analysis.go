package vcon

import "fmt"

// Analysis is data derived from one or more dialogs, such as a transcript,
// a summary or a sentiment score.
type Analysis struct {
	Type      string           `json:"type"`
	Dialog    DialogRefs       `json:"dialog,omitzero"`
	Mediatype Optional[string] `json:"mediatype,omitzero"`
	Filename  Optional[string] `json:"filename,omitzero"`
	Vendor    string           `json:"vendor"`
	Product   Optional[string] `json:"product,omitzero"`
	Schema    Optional[string] `json:"schema,omitzero"`

	Body     Body               `json:"body,omitzero"`
	Encoding Optional[Encoding] `json:"encoding,omitzero"`

	URL         Optional[string] `json:"url,omitzero"`
	ContentHash ContentHash      `json:"content_hash,omitzero"`
}

// NewAnalysis validates f.
func NewAnalysis(f Analysis) (Analysis, error) {
	if err := f.Validate(); err != nil {
		return Analysis{}, err
	}
	return f, nil
}

// Validate checks the required fields, the content presence rule and the
// shape of a JSON-encoded inline body.
func (a Analysis) Validate() error {
	c := newChecker("analysis")
	c.when(a.Type == "", "type required")
	c.when(a.Vendor == "", "vendor required")

	enc, hasEnc := a.Encoding.Get()
	if hasEnc && !enc.Valid() {
		c.add(fmt.Sprintf("invalid encoding: %q", enc))
	}

	inline := !a.Body.IsZero()
	external := a.URL.IsSet() && !a.ContentHash.IsZero()
	if !inline && !external {
		c.add("Analysis must have either inline (body) or external (url + content_hash) content")
	}
	if inline && hasEnc && enc == EncodingJSON && a.Body.Kind() != BodyStructured {
		c.add("JSON body must be a structured value")
	}
	return c.err()
}
