package engine

import (
	"slotmap/labware"
	"slotmap/qc"
)

// Kind names an event type.
type Kind string

const (
	KindUpdateInputLabware   Kind = "update_input_labware"
	KindUpdateOutputLabware  Kind = "update_output_labware"
	KindCopyOneToOne         Kind = "copy_one_to_one"
	KindCopyManyToOne        Kind = "copy_many_to_one"
	KindCopyOneToMany        Kind = "copy_one_to_many"
	KindClearSlots           Kind = "clear_slots"
	KindClearMappingsBetween Kind = "clear_mappings_between"
	KindLock                 Kind = "lock"
	KindUnlock               Kind = "unlock"
	KindSetFailedSlotsCheck  Kind = "set_failed_slots_check"
	KindPriorResultResolved  Kind = "prior_result_resolved"
	KindPriorResultFailed    Kind = "prior_result_failed"
)

// Event is the closed set of inputs the engine accepts. Only the types in
// this file implement it.
type Event interface {
	Kind() Kind
	sealed()
}

// UpdateInputLabware replaces the source labware list.
type UpdateInputLabware struct {
	Labware []*labware.Labware
}

// UpdateOutputLabware replaces the destination list. An entry with nil
// SlotCopyContent keeps the content already recorded for that labware id;
// a non-nil slice, even an empty one, replaces it.
type UpdateOutputLabware struct {
	Outputs []OutputSlotCopyData
}

// CopyOneToOne maps the selected source slots, in direction order, onto
// consecutive destination slots starting at OutputAddress.
type CopyOneToOne struct {
	InputLabwareID  int
	InputAddresses  []labware.Address
	OutputLabwareID int
	OutputAddress   labware.Address
}

// CopyManyToOne pools every selected source slot into OutputAddress.
type CopyManyToOne struct {
	InputLabwareID  int
	InputAddresses  []labware.Address
	OutputLabwareID int
	OutputAddress   labware.Address
}

// CopyOneToMany adds one more destination for a single source slot.
type CopyOneToMany struct {
	InputLabwareID  int
	InputAddress    labware.Address
	OutputLabwareID int
	OutputAddress   labware.Address
}

type ClearSlots struct {
	OutputLabwareID int
	OutputAddresses []labware.Address
}

type ClearMappingsBetween struct {
	OutputLabwareID int
	InputBarcode    string
}

type Lock struct{}

type Unlock struct{}

type SetFailedSlotsCheck struct {
	Enabled bool
}

type priorResultResolved struct {
	barcode string
	result  *qc.PriorResult
}

type priorResultFailed struct {
	barcode string
	err     error
}

func (UpdateInputLabware) Kind() Kind   { return KindUpdateInputLabware }
func (UpdateOutputLabware) Kind() Kind  { return KindUpdateOutputLabware }
func (CopyOneToOne) Kind() Kind         { return KindCopyOneToOne }
func (CopyManyToOne) Kind() Kind        { return KindCopyManyToOne }
func (CopyOneToMany) Kind() Kind        { return KindCopyOneToMany }
func (ClearSlots) Kind() Kind           { return KindClearSlots }
func (ClearMappingsBetween) Kind() Kind { return KindClearMappingsBetween }
func (Lock) Kind() Kind                 { return KindLock }
func (Unlock) Kind() Kind               { return KindUnlock }
func (SetFailedSlotsCheck) Kind() Kind  { return KindSetFailedSlotsCheck }
func (priorResultResolved) Kind() Kind  { return KindPriorResultResolved }
func (priorResultFailed) Kind() Kind    { return KindPriorResultFailed }

func (UpdateInputLabware) sealed()   {}
func (UpdateOutputLabware) sealed()  {}
func (CopyOneToOne) sealed()         {}
func (CopyManyToOne) sealed()        {}
func (CopyOneToMany) sealed()        {}
func (ClearSlots) sealed()           {}
func (ClearMappingsBetween) sealed() {}
func (Lock) sealed()                 {}
func (Unlock) sealed()               {}
func (SetFailedSlotsCheck) sealed()  {}
func (priorResultResolved) sealed()  {}
func (priorResultFailed) sealed()    {}
