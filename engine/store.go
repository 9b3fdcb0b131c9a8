package engine

import (
	"slices"

	"slotmap/color"
	"slotmap/labware"
)

// SlotCopyContent is one directed mapping from a source slot to a slot of
// the destination labware it is listed under.
type SlotCopyContent struct {
	SourceBarcode      string          `json:"sourceBarcode"`
	SourceAddress      labware.Address `json:"sourceAddress"`
	DestinationAddress labware.Address `json:"destinationAddress"`
}

// OutputSlotCopyData is a destination labware and the mappings into it.
type OutputSlotCopyData struct {
	Labware         *labware.Labware
	SlotCopyContent []SlotCopyContent
}

func (o *OutputSlotCopyData) occupied(address labware.Address) bool {
	return slices.ContainsFunc(o.SlotCopyContent, func(scc SlotCopyContent) bool {
		return scc.DestinationAddress == address
	})
}

func (o *OutputSlotCopyData) removeWhere(drop func(SlotCopyContent) bool) {
	o.SlotCopyContent = slices.DeleteFunc(o.SlotCopyContent, drop)
}

// FailedSlot is a slot that failed the last prior QC operation.
type FailedSlot struct {
	Address labware.Address
	Comment string
}

// Store is the state of a mapping session. The engine owns the live store;
// everything handed out is a copy.
type Store struct {
	InputLabware     []*labware.Labware
	OutputSlotCopies []OutputSlotCopyData
	ColorByBarcode   map[string]color.ID
	// FailedSlots holds advisory annotations from the QC lookup.
	FailedSlots map[string]map[FailedSlot]struct{}
	// Errors holds QC lookup failures, keyed by the barcode looked up.
	Errors                  map[string]error
	FailedSlotsCheckEnabled bool
}

func newStore() *Store {
	return &Store{
		ColorByBarcode: make(map[string]color.ID),
		FailedSlots:    make(map[string]map[FailedSlot]struct{}),
		Errors:         make(map[string]error),
	}
}

// Clone returns a deep copy of s.
func (s *Store) Clone() *Store {
	ret := &Store{
		InputLabware:            make([]*labware.Labware, len(s.InputLabware)),
		OutputSlotCopies:        make([]OutputSlotCopyData, len(s.OutputSlotCopies)),
		ColorByBarcode:          make(map[string]color.ID, len(s.ColorByBarcode)),
		FailedSlots:             make(map[string]map[FailedSlot]struct{}, len(s.FailedSlots)),
		Errors:                  make(map[string]error, len(s.Errors)),
		FailedSlotsCheckEnabled: s.FailedSlotsCheckEnabled,
	}
	for i, lw := range s.InputLabware {
		ret.InputLabware[i] = lw.Clone()
	}
	for i, o := range s.OutputSlotCopies {
		ret.OutputSlotCopies[i] = OutputSlotCopyData{
			Labware:         o.Labware.Clone(),
			SlotCopyContent: slices.Clone(o.SlotCopyContent),
		}
	}
	for k, v := range s.ColorByBarcode {
		ret.ColorByBarcode[k] = v
	}
	for k, set := range s.FailedSlots {
		cp := make(map[FailedSlot]struct{}, len(set))
		for fs := range set {
			cp[fs] = struct{}{}
		}
		ret.FailedSlots[k] = cp
	}
	for k, v := range s.Errors {
		ret.Errors[k] = v
	}
	return ret
}

func (s *Store) Input(id int) *labware.Labware {
	for _, lw := range s.InputLabware {
		if lw.ID == id {
			return lw
		}
	}
	return nil
}

func (s *Store) InputByBarcode(barcode string) *labware.Labware {
	for _, lw := range s.InputLabware {
		if lw.Barcode == barcode {
			return lw
		}
	}
	return nil
}

func (s *Store) Output(id int) *OutputSlotCopyData {
	for i := range s.OutputSlotCopies {
		if s.OutputSlotCopies[i].Labware.ID == id {
			return &s.OutputSlotCopies[i]
		}
	}
	return nil
}

func (s *Store) Color(barcode string) (color.ID, bool) {
	c, ok := s.ColorByBarcode[barcode]
	return c, ok
}

// FailedSlotsOf lists the failed slots of barcode in RightDown order.
func (s *Store) FailedSlotsOf(barcode string) []FailedSlot {
	set := s.FailedSlots[barcode]
	ret := make([]FailedSlot, 0, len(set))
	for fs := range set {
		ret = append(ret, fs)
	}
	slices.SortFunc(ret, func(a, b FailedSlot) int {
		return labware.Compare(a.Address, b.Address, labware.RightDown)
	})
	return ret
}

// Destination is a slot on an output labware.
type Destination struct {
	OutputLabwareID int
	Address         labware.Address
}

// DestinationsOf lists every slot the given source slot is mapped to.
func (s *Store) DestinationsOf(barcode string, address labware.Address) []Destination {
	var ret []Destination
	for _, o := range s.OutputSlotCopies {
		for _, scc := range o.SlotCopyContent {
			if scc.SourceBarcode == barcode && scc.SourceAddress == address {
				ret = append(ret, Destination{OutputLabwareID: o.Labware.ID, Address: scc.DestinationAddress})
			}
		}
	}
	return ret
}

// SourcesOf lists the mappings into one slot of an output labware.
func (s *Store) SourcesOf(outputID int, address labware.Address) []SlotCopyContent {
	o := s.Output(outputID)
	if o == nil {
		return nil
	}
	var ret []SlotCopyContent
	for _, scc := range o.SlotCopyContent {
		if scc.DestinationAddress == address {
			ret = append(ret, scc)
		}
	}
	return ret
}

// Transfer is a mapping qualified with its destination labware.
type Transfer struct {
	DestinationBarcode string `json:"destinationBarcode"`
	SlotCopyContent
}

// Transfers flattens all mappings, in output order then recorded order.
func (s *Store) Transfers() []Transfer {
	var ret []Transfer
	for _, o := range s.OutputSlotCopies {
		for _, scc := range o.SlotCopyContent {
			ret = append(ret, Transfer{DestinationBarcode: o.Labware.Barcode, SlotCopyContent: scc})
		}
	}
	return ret
}
