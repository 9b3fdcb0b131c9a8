package engine

import (
	"errors"
	"fmt"
	"slices"

	"slotmap/labware"
)

// Reasons a copy or clear request is refused. The engine never surfaces
// these; adapters that want to explain a refusal call the Plan methods on a
// snapshot before sending the event.
var (
	ErrUnknownLabware      = errors.New("unknown labware")
	ErrInvalidAddress      = errors.New("address not on labware")
	ErrEmptySelection      = errors.New("no source slots selected")
	ErrDuplicateAddress    = errors.New("source slot selected twice")
	ErrOverflow            = errors.New("mapping overflows destination labware")
	ErrDestinationOccupied = errors.New("destination slot already mapped")
	ErrDuplicateLabware    = errors.New("labware listed twice")
)

func (s *Store) resolve(inputID, outputID int) (*labware.Labware, *OutputSlotCopyData, error) {
	in := s.Input(inputID)
	if in == nil {
		return nil, nil, fmt.Errorf("%w: input %d", ErrUnknownLabware, inputID)
	}
	out := s.Output(outputID)
	if out == nil {
		return nil, nil, fmt.Errorf("%w: output %d", ErrUnknownLabware, outputID)
	}
	return in, out, nil
}

func checkAddress(lw *labware.Labware, a labware.Address) error {
	if !lw.Type.Valid(a) {
		return fmt.Errorf("%w: %s on %s", ErrInvalidAddress, a, lw.Barcode)
	}
	return nil
}

func checkSelection(lw *labware.Labware, addrs []labware.Address) error {
	if len(addrs) == 0 {
		return ErrEmptySelection
	}
	seen := make(map[labware.Address]struct{}, len(addrs))
	for _, a := range addrs {
		if err := checkAddress(lw, a); err != nil {
			return err
		}
		if _, dup := seen[a]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateAddress, a)
		}
		seen[a] = struct{}{}
	}
	return nil
}

func checkFree(out *OutputSlotCopyData, addrs ...labware.Address) error {
	for _, a := range addrs {
		if out.occupied(a) {
			return fmt.Errorf("%w: %s on %s", ErrDestinationOccupied, a, out.Labware.Barcode)
		}
	}
	return nil
}

// PlanOneToOne returns the mappings CopyOneToOne would add, or the reason
// it would be refused.
func (s *Store) PlanOneToOne(ev CopyOneToOne, d labware.Direction) ([]SlotCopyContent, error) {
	in, out, err := s.resolve(ev.InputLabwareID, ev.OutputLabwareID)
	if err != nil {
		return nil, err
	}
	if err := checkSelection(in, ev.InputAddresses); err != nil {
		return nil, err
	}
	outputAddresses := labware.EnumerateAddresses(out.Labware.Type, d)
	start := slices.Index(outputAddresses, ev.OutputAddress)
	if start < 0 {
		return nil, fmt.Errorf("%w: %s on %s", ErrInvalidAddress, ev.OutputAddress, out.Labware.Barcode)
	}
	sorted := labware.SortByDirection(ev.InputAddresses, d)
	if start+len(sorted) > len(outputAddresses) {
		return nil, fmt.Errorf("%w: %d slots from %s, %d available",
			ErrOverflow, len(sorted), ev.OutputAddress, len(outputAddresses)-start)
	}
	ret := make([]SlotCopyContent, len(sorted))
	for i, a := range sorted {
		ret[i] = SlotCopyContent{
			SourceBarcode:      in.Barcode,
			SourceAddress:      a,
			DestinationAddress: outputAddresses[start+i],
		}
		if err := checkFree(out, ret[i].DestinationAddress); err != nil {
			return nil, err
		}
	}
	return ret, nil
}

// PlanManyToOne returns the mappings CopyManyToOne would add, or the reason
// it would be refused.
func (s *Store) PlanManyToOne(ev CopyManyToOne, d labware.Direction) ([]SlotCopyContent, error) {
	in, out, err := s.resolve(ev.InputLabwareID, ev.OutputLabwareID)
	if err != nil {
		return nil, err
	}
	if err := checkSelection(in, ev.InputAddresses); err != nil {
		return nil, err
	}
	if err := checkAddress(out.Labware, ev.OutputAddress); err != nil {
		return nil, err
	}
	if err := checkFree(out, ev.OutputAddress); err != nil {
		return nil, err
	}
	sorted := labware.SortByDirection(ev.InputAddresses, d)
	ret := make([]SlotCopyContent, len(sorted))
	for i, a := range sorted {
		ret[i] = SlotCopyContent{
			SourceBarcode:      in.Barcode,
			SourceAddress:      a,
			DestinationAddress: ev.OutputAddress,
		}
	}
	return ret, nil
}

// PlanOneToMany returns the mapping CopyOneToMany would add, or the reason
// it would be refused.
func (s *Store) PlanOneToMany(ev CopyOneToMany) (SlotCopyContent, error) {
	in, out, err := s.resolve(ev.InputLabwareID, ev.OutputLabwareID)
	if err != nil {
		return SlotCopyContent{}, err
	}
	if err := checkAddress(in, ev.InputAddress); err != nil {
		return SlotCopyContent{}, err
	}
	if err := checkAddress(out.Labware, ev.OutputAddress); err != nil {
		return SlotCopyContent{}, err
	}
	if err := checkFree(out, ev.OutputAddress); err != nil {
		return SlotCopyContent{}, err
	}
	return SlotCopyContent{
		SourceBarcode:      in.Barcode,
		SourceAddress:      ev.InputAddress,
		DestinationAddress: ev.OutputAddress,
	}, nil
}

// CheckLabwareList reports why lws cannot be used as an input or output
// list: a missing labware or type, or a repeated id or barcode.
func CheckLabwareList(lws []*labware.Labware) error {
	ids := make(map[int]struct{}, len(lws))
	barcodes := make(map[string]struct{}, len(lws))
	for _, lw := range lws {
		if lw == nil || lw.Type == nil {
			return fmt.Errorf("%w: missing labware or labware type", ErrUnknownLabware)
		}
		if _, dup := ids[lw.ID]; dup {
			return fmt.Errorf("%w: id %d", ErrDuplicateLabware, lw.ID)
		}
		if _, dup := barcodes[lw.Barcode]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateLabware, lw.Barcode)
		}
		ids[lw.ID] = struct{}{}
		barcodes[lw.Barcode] = struct{}{}
	}
	return nil
}
