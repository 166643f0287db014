package vcon

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ContentHash is the integrity hash of external content: a single string or
// a list of strings.
type ContentHash struct {
	values []string
	list   bool
}

// Hash returns a single-valued content hash.
func Hash(h string) ContentHash {
	return ContentHash{values: []string{h}}
}

// Hashes returns a list-valued content hash.
func Hashes(hs ...string) ContentHash {
	return ContentHash{values: append([]string{}, hs...), list: true}
}

// IsZero reports whether no hash is present.
func (c ContentHash) IsZero() bool { return !c.list && len(c.values) == 0 }

// Values returns the hash strings in order.
func (c ContentHash) Values() []string { return append([]string(nil), c.values...) }

func (c ContentHash) MarshalJSON() ([]byte, error) {
	switch {
	case c.IsZero():
		return []byte("null"), nil
	case c.list:
		return json.Marshal(c.values)
	default:
		return json.Marshal(c.values[0])
	}
}

func (c *ContentHash) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*c = ContentHash{}
		return nil
	case len(data) > 0 && data[0] == '[':
		var hs []string
		if err := json.Unmarshal(data, &hs); err != nil {
			return fmt.Errorf("content_hash must be a string or a list of strings: %w", err)
		}
		*c = Hashes(hs...)
		return nil
	default:
		var h string
		if err := json.Unmarshal(data, &h); err != nil {
			return fmt.Errorf("content_hash must be a string or a list of strings: %w", err)
		}
		*c = Hash(h)
		return nil
	}
}

// PartiesKind tags the shape of a dialog's party reference.
type PartiesKind uint8

const (
	PartiesNone   PartiesKind = iota // not set
	PartiesIndex                     // a single party index
	PartiesList                      // a flat list of party indices
	PartiesNested                    // a list mixing indices and index groups
)

// PartySlot is one entry of a nested party list: either an index or a group
// of simultaneous participants.
type PartySlot struct {
	index int
	group []int
	isGrp bool
}

// Slot returns a slot holding a single party index.
func Slot(index int) PartySlot { return PartySlot{index: index} }

// SlotGroup returns a slot holding a group of party indices.
func SlotGroup(indices ...int) PartySlot {
	return PartySlot{group: append([]int{}, indices...), isGrp: true}
}

// IsGroup reports whether the slot is a group.
func (s PartySlot) IsGroup() bool { return s.isGrp }

// Indices returns the indices referenced by the slot.
func (s PartySlot) Indices() []int {
	if s.isGrp {
		return append([]int(nil), s.group...)
	}
	return []int{s.index}
}

// Parties references the participants of a dialog by index into the
// container's party list.
type Parties struct {
	kind  PartiesKind
	index int
	slots []PartySlot
}

// PartyIndex references a single party.
func PartyIndex(i int) Parties { return Parties{kind: PartiesIndex, index: i} }

// PartyList references a flat list of parties.
func PartyList(indices ...int) Parties {
	slots := make([]PartySlot, 0, len(indices))
	for _, i := range indices {
		slots = append(slots, Slot(i))
	}
	return Parties{kind: PartiesList, slots: slots}
}

// NestedParties references a list whose entries are indices or groups.
// Without any group entry the result is a plain PartiesList.
func NestedParties(slots ...PartySlot) Parties {
	kind := PartiesList
	for _, s := range slots {
		if s.isGrp {
			kind = PartiesNested
			break
		}
	}
	return Parties{kind: kind, slots: append([]PartySlot{}, slots...)}
}

// Kind returns the shape of the reference.
func (p Parties) Kind() PartiesKind { return p.kind }

// IsZero reports whether the reference is unset.
func (p Parties) IsZero() bool { return p.kind == PartiesNone }

// Slots returns the list entries; nil for PartiesIndex.
func (p Parties) Slots() []PartySlot { return append([]PartySlot(nil), p.slots...) }

// Indices flattens every referenced party index, in order.
func (p Parties) Indices() []int {
	switch p.kind {
	case PartiesIndex:
		return []int{p.index}
	case PartiesList, PartiesNested:
		var out []int
		for _, s := range p.slots {
			out = append(out, s.Indices()...)
		}
		return out
	}
	return nil
}

func (p Parties) MarshalJSON() ([]byte, error) {
	switch p.kind {
	case PartiesIndex:
		return json.Marshal(p.index)
	case PartiesList, PartiesNested:
		items := make([]any, 0, len(p.slots))
		for _, s := range p.slots {
			if s.isGrp {
				items = append(items, s.group)
			} else {
				items = append(items, s.index)
			}
		}
		return json.Marshal(items)
	}
	return []byte("null"), nil
}

var errPartiesShape = errors.New("parties must be an index, a list of indices, or a list mixing indices and index lists")

func (p *Parties) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*p = Parties{}
		return nil
	}
	if len(data) == 0 || data[0] != '[' {
		var i int
		if err := json.Unmarshal(data, &i); err != nil {
			return errPartiesShape
		}
		*p = PartyIndex(i)
		return nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return errPartiesShape
	}
	kind := PartiesList
	slots := make([]PartySlot, 0, len(raw))
	for _, item := range raw {
		item = bytes.TrimSpace(item)
		if len(item) > 0 && item[0] == '[' {
			var group []int
			if err := json.Unmarshal(item, &group); err != nil {
				return errPartiesShape
			}
			slots = append(slots, SlotGroup(group...))
			kind = PartiesNested
			continue
		}
		var i int
		if err := json.Unmarshal(item, &i); err != nil {
			return errPartiesShape
		}
		slots = append(slots, Slot(i))
	}
	*p = Parties{kind: kind, slots: slots}
	return nil
}

// DialogRefs references one or more dialogs by index.
type DialogRefs struct {
	indices []int
	list    bool
}

// DialogIndex references a single dialog.
func DialogIndex(i int) DialogRefs { return DialogRefs{indices: []int{i}} }

// DialogList references a list of dialogs.
func DialogList(indices ...int) DialogRefs {
	return DialogRefs{indices: append([]int{}, indices...), list: true}
}

// IsZero reports whether no dialog is referenced.
func (d DialogRefs) IsZero() bool { return !d.list && len(d.indices) == 0 }

// IsList reports whether the reference was given in list form.
func (d DialogRefs) IsList() bool { return d.list }

// Indices returns the referenced dialog indices.
func (d DialogRefs) Indices() []int { return append([]int(nil), d.indices...) }

func (d DialogRefs) MarshalJSON() ([]byte, error) {
	switch {
	case d.IsZero():
		return []byte("null"), nil
	case d.list:
		return json.Marshal(d.indices)
	default:
		return json.Marshal(d.indices[0])
	}
}

func (d *DialogRefs) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*d = DialogRefs{}
	case len(data) > 0 && data[0] == '[':
		var is []int
		if err := json.Unmarshal(data, &is); err != nil {
			return errors.New("dialog must be an index or a list of indices")
		}
		*d = DialogList(is...)
	default:
		var i int
		if err := json.Unmarshal(data, &i); err != nil {
			return errors.New("dialog must be an index or a list of indices")
		}
		*d = DialogIndex(i)
	}
	return nil
}
