package vcon

import (
	"encoding/json"
	"fmt"
)

// CivicAddress is a postal/geographic location of a party (RFC 5139 fields).
type CivicAddress struct {
	Country Optional[string] `json:"country,omitzero"`
	A1      Optional[string] `json:"a1,omitzero"` // national subdivision
	A2      Optional[string] `json:"a2,omitzero"` // county, parish
	A3      Optional[string] `json:"a3,omitzero"` // city, township
	A4      Optional[string] `json:"a4,omitzero"` // neighborhood, block
	A5      Optional[string] `json:"a5,omitzero"`
	A6      Optional[string] `json:"a6,omitzero"`
	PRD     Optional[string] `json:"prd,omitzero"` // leading street direction
	POD     Optional[string] `json:"pod,omitzero"` // trailing street suffix
	STS     Optional[string] `json:"sts,omitzero"` // street suffix
	HNO     Optional[string] `json:"hno,omitzero"` // house number
	HNS     Optional[string] `json:"hns,omitzero"` // house number suffix
	LMK     Optional[string] `json:"lmk,omitzero"` // landmark
	LOC     Optional[string] `json:"loc,omitzero"`
	FLR     Optional[string] `json:"flr,omitzero"` // floor
	NAM     Optional[string] `json:"nam,omitzero"` // residence or business name
	PC      Optional[string] `json:"pc,omitzero"`  // postal code
}

// NewCivicAddress returns a copy of f. Every field is optional.
func NewCivicAddress(f CivicAddress) (CivicAddress, error) {
	return f, nil
}

// PartyHistory records a participation change of one party during a dialog.
type PartyHistory struct {
	Party int        `json:"party"`
	Event PartyEvent `json:"event"`
	Time  Timestamp  `json:"time,omitzero"`
}

// NewPartyHistory validates f.
func NewPartyHistory(f PartyHistory) (PartyHistory, error) {
	if err := f.Validate(); err != nil {
		return PartyHistory{}, err
	}
	return f, nil
}

// Validate checks the event code and time.
func (h PartyHistory) Validate() error {
	c := newChecker("party history")
	c.when(!h.Event.Valid(), fmt.Sprintf("invalid party event: %q", h.Event))
	c.when(h.Time.IsZero(), "time required")
	return c.err()
}

// normalizeMeta re-decodes a free-form map through JSON so it holds the same
// Go types a decoder would produce.
func normalizeMeta(m map[string]any) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("meta is not JSON-compatible: %w", err)
	}
	out := make(map[string]any, len(m))
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
