package labware

import (
	"fmt"
	"slices"
)

// Sample is a piece of biological material held in a slot.
type Sample struct {
	ID           int
	ExternalName string
}

// Slot is the fundamental discrete addressable unit of a piece of labware.
// A slot is filled when it holds at least one sample.
type Slot struct {
	Address Address
	Samples []Sample
}

func (s Slot) Filled() bool {
	return len(s.Samples) > 0
}

// Geometry describes the grid of a labware type. Excluded lists positions
// of the Rows x Columns rectangle that do not exist on the labware.
type Geometry struct {
	Rows     int
	Columns  int
	Excluded []Address
}

// Valid reports whether address names a position that exists in the grid.
func (g Geometry) Valid(address Address) bool {
	row, col, err := address.Parse()
	if err != nil {
		return false
	}
	if row < 0 || col < 0 || row >= g.Rows || col >= g.Columns {
		return false
	}
	return !slices.Contains(g.Excluded, address)
}

func (g Geometry) check() {
	if g.Rows <= 0 || g.Columns <= 0 {
		panic(fmt.Sprintf("labware: malformed geometry %dx%d", g.Rows, g.Columns))
	}
	for i, a := range g.Excluded {
		row, col, err := a.Parse()
		if err != nil || row < 0 || col < 0 || row >= g.Rows || col >= g.Columns {
			panic(fmt.Sprintf("labware: excluded address %q is outside the %dx%d grid", a, g.Rows, g.Columns))
		}
		if slices.Contains(g.Excluded[:i], a) {
			panic(fmt.Sprintf("labware: address %q excluded twice", a))
		}
	}
}

// LabwareType is an immutable descriptor shared by all labware of one kind.
// This can be a well plate, a slide, a tube, etc.
type LabwareType struct {
	Name string
	Geometry
	Layout *Layout
}

func NewLabwareType(name string, rows, columns int, excluded ...Address) *LabwareType {
	t := &LabwareType{
		Name: name,
		Geometry: Geometry{
			Rows:     rows,
			Columns:  columns,
			Excluded: excluded,
		},
	}
	t.check()
	return t
}

// WithLayout returns a copy of t carrying the given physical layout.
func (t *LabwareType) WithLayout(l *Layout) *LabwareType {
	ret := *t
	ret.Layout = l
	return &ret
}

// NumSlots is the number of valid addresses. NewLabwareType guarantees
// Excluded holds distinct in-grid addresses.
func (t *LabwareType) NumSlots() int {
	return t.Rows*t.Columns - len(t.Excluded)
}

// Labware is one physical item. ID and Barcode are stable for a session.
type Labware struct {
	ID      int
	Barcode string
	Type    *LabwareType
	Slots   []Slot
}

// NewLabware creates labware with one empty slot per valid address, in
// RightDown order.
func NewLabware(id int, barcode string, t *LabwareType) *Labware {
	addrs := EnumerateAddresses(t, RightDown)
	lw := &Labware{
		ID:      id,
		Barcode: barcode,
		Type:    t,
		Slots:   make([]Slot, len(addrs)),
	}
	for i, a := range addrs {
		lw.Slots[i] = Slot{Address: a}
	}
	return lw
}

// Slot returns the slot at address, or nil if there is none.
func (l *Labware) Slot(address Address) *Slot {
	for i := range l.Slots {
		if l.Slots[i].Address == address {
			return &l.Slots[i]
		}
	}
	return nil
}

// Fill places samples into the slot at address.
func (l *Labware) Fill(address Address, samples ...Sample) error {
	slot := l.Slot(address)
	if slot == nil {
		return fmt.Errorf("labware %s has no slot %s", l.Barcode, address)
	}
	slot.Samples = append(slot.Samples, samples...)
	return nil
}

// FilledAddresses lists the addresses of filled slots in the order of d.
func (l *Labware) FilledAddresses(d Direction) []Address {
	var ret []Address
	for _, s := range l.Slots {
		if s.Filled() {
			ret = append(ret, s.Address)
		}
	}
	return SortByDirection(ret, d)
}

// Clone returns a deep copy. The labware type is shared since it is immutable.
func (l *Labware) Clone() *Labware {
	if l == nil {
		return nil
	}
	ret := &Labware{
		ID:      l.ID,
		Barcode: l.Barcode,
		Type:    l.Type,
		Slots:   make([]Slot, len(l.Slots)),
	}
	for i, s := range l.Slots {
		ret.Slots[i] = Slot{
			Address: s.Address,
			Samples: slices.Clone(s.Samples),
		}
	}
	return ret
}
