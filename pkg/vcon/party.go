package vcon

// Party is a conversation participant. Every identifying attribute is
// optional; a party may carry none of them.
type Party struct {
	Tel          Optional[string]       `json:"tel,omitzero"`
	STIR         Optional[string]       `json:"stir,omitzero"`
	Mailto       Optional[string]       `json:"mailto,omitzero"`
	Name         Optional[string]       `json:"name,omitzero"`
	Validation   Optional[string]       `json:"validation,omitzero"`
	GMLPos       Optional[string]       `json:"gmlpos,omitzero"`
	CivicAddress Optional[CivicAddress] `json:"civicaddress,omitzero"`
	UUID         Optional[string]       `json:"uuid,omitzero"`
	Role         Optional[string]       `json:"role,omitzero"`
	ContactList  Optional[string]       `json:"contact_list,omitzero"`
	Meta         map[string]any         `json:"meta,omitzero"`
}

// NewParty returns a normalized copy of f.
func NewParty(f Party) (Party, error) {
	if err := f.Validate(); err != nil {
		return Party{}, err
	}
	meta, err := normalizeMeta(f.Meta)
	if err != nil {
		return Party{}, violation("party", err.Error())
	}
	f.Meta = meta
	return f, nil
}

// Validate always succeeds: a party has no content invariant.
func (p Party) Validate() error { return nil }

// field returns the named text attribute using its wire name.
func (p Party) field(name string) Optional[string] {
	switch name {
	case "tel":
		return p.Tel
	case "stir":
		return p.STIR
	case "mailto":
		return p.Mailto
	case "name":
		return p.Name
	case "validation":
		return p.Validation
	case "gmlpos":
		return p.GMLPos
	case "uuid":
		return p.UUID
	case "role":
		return p.Role
	case "contact_list":
		return p.ContactList
	}
	return None[string]()
}
