package engine_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slotmap/engine"
	"slotmap/labware"
	"slotmap/qc"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func plate(id int, barcode string, rows, cols int, filled ...string) *labware.Labware {
	lt := labware.NewLabwareType(fmt.Sprintf("%dx%d", rows, cols), rows, cols)
	lw := labware.NewLabware(id, barcode, lt)
	for i, a := range filled {
		if err := lw.Fill(labware.Address(a), labware.Sample{ID: id*100 + i}); err != nil {
			panic(err)
		}
	}
	return lw
}

func output(lw *labware.Labware) engine.OutputSlotCopyData {
	return engine.OutputSlotCopyData{Labware: lw}
}

func scc(barcode, from, to string) engine.SlotCopyContent {
	return engine.SlotCopyContent{
		SourceBarcode:      barcode,
		SourceAddress:      labware.Address(from),
		DestinationAddress: labware.Address(to),
	}
}

func addrs(ss ...string) []labware.Address {
	return labware.Addresses(ss...)
}

func newEngine(t *testing.T, lookup qc.Lookup, opts ...engine.Option) *engine.Engine {
	t.Helper()
	opts = append([]engine.Option{engine.WithLogger(quiet)}, opts...)
	e, err := engine.New(context.Background(), lookup, opts...)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func content(e *engine.Engine, outputID int) []engine.SlotCopyContent {
	out := e.Snapshot().Output(outputID)
	if out == nil {
		return nil
	}
	return out.SlotCopyContent
}

// gatedLookup blocks every call until the test releases it.
type gatedLookup struct {
	mu     sync.Mutex
	calls  []string
	gate   chan struct{}
	result func(barcode string) (*qc.PriorResult, error)
}

func newGatedLookup() *gatedLookup {
	return &gatedLookup{gate: make(chan struct{})}
}

func (g *gatedLookup) FindPriorResult(ctx context.Context, barcode, _ string) (*qc.PriorResult, error) {
	g.mu.Lock()
	g.calls = append(g.calls, barcode)
	g.mu.Unlock()
	select {
	case <-g.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if g.result != nil {
		return g.result(barcode)
	}
	return &qc.PriorResult{Barcode: barcode}, nil
}

func (g *gatedLookup) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

func (g *gatedLookup) release(t *testing.T) {
	t.Helper()
	select {
	case g.gate <- struct{}{}:
	case <-time.After(5 * time.Second):
		t.Fatal("no lookup waiting to be released")
	}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 5*time.Second, 5*time.Millisecond, msg)
}

func TestOneToOneDownRightOnto96WellPlate(t *testing.T) {
	src := plate(1, "STAN-SRC", 8, 12, "A1", "B1")
	dst := plate(2, "STAN-DST", 8, 12)
	e := newEngine(t, nil,
		engine.WithDirection(labware.DownRight),
		engine.WithInputLabware(src),
		engine.WithOutputSlotCopies(output(dst)))

	e.Send(engine.CopyOneToOne{InputLabwareID: 1, InputAddresses: addrs("B1", "A1"), OutputLabwareID: 2, OutputAddress: "A1"})

	// Down-right walks column 1 first, so B1 lands on B1; see the 96-well
	// scenario decision in DESIGN.md.
	assert.Equal(t, []engine.SlotCopyContent{
		scc("STAN-SRC", "A1", "A1"),
		scc("STAN-SRC", "B1", "B1"),
	}, content(e, 2))

	e = newEngine(t, nil,
		engine.WithDirection(labware.RightDown),
		engine.WithInputLabware(src),
		engine.WithOutputSlotCopies(output(dst)))
	e.Send(engine.CopyOneToOne{InputLabwareID: 1, InputAddresses: addrs("B1", "A1"), OutputLabwareID: 2, OutputAddress: "A1"})
	assert.Equal(t, []engine.SlotCopyContent{
		scc("STAN-SRC", "A1", "A1"),
		scc("STAN-SRC", "B1", "A2"),
	}, content(e, 2))
}

func TestOneToOneRightDown(t *testing.T) {
	e := newEngine(t, nil,
		engine.WithDirection(labware.RightDown),
		engine.WithInputLabware(plate(1, "SRC", 2, 2)),
		engine.WithOutputSlotCopies(output(plate(2, "DST", 2, 3))))

	e.Send(engine.CopyOneToOne{InputLabwareID: 1, InputAddresses: addrs("B1", "A1", "A2"), OutputLabwareID: 2, OutputAddress: "A2"})

	assert.Equal(t, []engine.SlotCopyContent{
		scc("SRC", "A1", "A2"),
		scc("SRC", "A2", "A3"),
		scc("SRC", "B1", "B1"),
	}, content(e, 2))
}

func TestOneToOneDoesNotOverwrite(t *testing.T) {
	e := newEngine(t, nil,
		engine.WithInputLabware(plate(1, "SRC", 4, 1), plate(3, "OTHER", 4, 1)),
		engine.WithOutputSlotCopies(output(plate(2, "DST", 4, 1))))

	e.Send(engine.CopyOneToOne{InputLabwareID: 3, InputAddresses: addrs("A1"), OutputLabwareID: 2, OutputAddress: "B1"})
	before := e.Snapshot()
	require.Len(t, before.Output(2).SlotCopyContent, 1)

	e.Send(engine.CopyOneToOne{InputLabwareID: 1, InputAddresses: addrs("A1", "B1"), OutputLabwareID: 2, OutputAddress: "A1"})
	assert.Equal(t, before, e.Snapshot())
}

func TestOneToOneRejectsOverflow(t *testing.T) {
	e := newEngine(t, nil,
		engine.WithInputLabware(plate(1, "SRC", 8, 1)),
		engine.WithOutputSlotCopies(output(plate(2, "DST", 2, 2))))
	before := e.Snapshot()

	e.Send(engine.CopyOneToOne{InputLabwareID: 1, InputAddresses: addrs("A1", "B1", "C1", "D1", "E1"), OutputLabwareID: 2, OutputAddress: "B2"})
	assert.Equal(t, before, e.Snapshot())

	e.Send(engine.CopyOneToOne{InputLabwareID: 1, InputAddresses: addrs("A1", "B1"), OutputLabwareID: 2, OutputAddress: "B2"})
	assert.Equal(t, before, e.Snapshot(), "two slots starting at the last address still overflow")

	e.Send(engine.CopyOneToOne{InputLabwareID: 1, InputAddresses: addrs("A1"), OutputLabwareID: 2, OutputAddress: "B2"})
	assert.Equal(t, []engine.SlotCopyContent{scc("SRC", "A1", "B2")}, content(e, 2))
}

func TestOneToOneRemapsSourceSlot(t *testing.T) {
	e := newEngine(t, nil,
		engine.WithInputLabware(plate(1, "SRC", 4, 1)),
		engine.WithOutputSlotCopies(output(plate(2, "DST", 4, 1))))

	e.Send(engine.CopyOneToOne{InputLabwareID: 1, InputAddresses: addrs("A1", "B1"), OutputLabwareID: 2, OutputAddress: "A1"})
	e.Send(engine.CopyOneToOne{InputLabwareID: 1, InputAddresses: addrs("A1"), OutputLabwareID: 2, OutputAddress: "D1"})

	assert.Equal(t, []engine.SlotCopyContent{
		scc("SRC", "B1", "B1"),
		scc("SRC", "A1", "D1"),
	}, content(e, 2))
}

func TestOneToOneRejectsBadRequests(t *testing.T) {
	e := newEngine(t, nil,
		engine.WithInputLabware(plate(1, "SRC", 2, 2)),
		engine.WithOutputSlotCopies(output(plate(2, "DST", 2, 2))))
	before := e.Snapshot()

	for _, ev := range []engine.CopyOneToOne{
		{InputLabwareID: 9, InputAddresses: addrs("A1"), OutputLabwareID: 2, OutputAddress: "A1"},
		{InputLabwareID: 1, InputAddresses: addrs("A1"), OutputLabwareID: 9, OutputAddress: "A1"},
		{InputLabwareID: 1, InputAddresses: addrs("A1"), OutputLabwareID: 2, OutputAddress: "Z9"},
		{InputLabwareID: 1, InputAddresses: addrs("C1"), OutputLabwareID: 2, OutputAddress: "A1"},
		{InputLabwareID: 1, InputAddresses: addrs("A1", "A1"), OutputLabwareID: 2, OutputAddress: "A1"},
		{InputLabwareID: 1, OutputLabwareID: 2, OutputAddress: "A1"},
	} {
		e.Send(ev)
		assert.Equal(t, before, e.Snapshot(), "%+v", ev)
	}
}

func TestOverlongRowLabelIsRejected(t *testing.T) {
	e := newEngine(t, nil,
		engine.WithInputLabware(plate(1, "SRC", 8, 12, "A1")),
		engine.WithOutputSlotCopies(output(plate(2, "DST", 8, 12))))

	e.Send(engine.CopyOneToMany{InputLabwareID: 1, InputAddress: "A1", OutputLabwareID: 2, OutputAddress: "ZZZZZZZZZZZZZZ1"})
	e.Send(engine.CopyManyToOne{InputLabwareID: 1, InputAddresses: addrs("A1"), OutputLabwareID: 2, OutputAddress: "ZZZZZZZZZZZZZZ1"})
	e.Send(engine.CopyOneToOne{InputLabwareID: 1, InputAddresses: addrs("ZZZZZZZZZZZZZZ1"), OutputLabwareID: 2, OutputAddress: "A1"})
	assert.Empty(t, content(e, 2))
}

func TestManyToOneFansIn(t *testing.T) {
	e := newEngine(t, nil,
		engine.WithInputLabware(plate(1, "X", 2, 2), plate(3, "Y", 2, 2)),
		engine.WithOutputSlotCopies(output(plate(2, "DST", 3, 3))))

	e.Send(engine.CopyManyToOne{InputLabwareID: 1, InputAddresses: addrs("A2", "A1"), OutputLabwareID: 2, OutputAddress: "C1"})
	want := []engine.SlotCopyContent{scc("X", "A1", "C1"), scc("X", "A2", "C1")}
	assert.Equal(t, want, content(e, 2))

	e.Send(engine.CopyManyToOne{InputLabwareID: 3, InputAddresses: addrs("B1"), OutputLabwareID: 2, OutputAddress: "C1"})
	assert.Equal(t, want, content(e, 2), "fan-in only into an empty destination")

	e.Send(engine.CopyOneToMany{InputLabwareID: 3, InputAddress: "B1", OutputLabwareID: 2, OutputAddress: "C1"})
	assert.Equal(t, want, content(e, 2))

	snap := e.Snapshot()
	assert.Len(t, snap.SourcesOf(2, "C1"), 2)
}

func TestOneToManyFansOut(t *testing.T) {
	e := newEngine(t, nil,
		engine.WithInputLabware(plate(1, "X", 2, 2)),
		engine.WithOutputSlotCopies(output(plate(2, "DST", 3, 3))))

	e.Send(engine.CopyOneToMany{InputLabwareID: 1, InputAddress: "A1", OutputLabwareID: 2, OutputAddress: "B1"})
	e.Send(engine.CopyOneToMany{InputLabwareID: 1, InputAddress: "A1", OutputLabwareID: 2, OutputAddress: "B2"})
	e.Send(engine.CopyOneToMany{InputLabwareID: 1, InputAddress: "A2", OutputLabwareID: 2, OutputAddress: "B2"})

	assert.Equal(t, []engine.SlotCopyContent{scc("X", "A1", "B1"), scc("X", "A1", "B2")}, content(e, 2))
	assert.Equal(t, []engine.Destination{{OutputLabwareID: 2, Address: "B1"}, {OutputLabwareID: 2, Address: "B2"}},
		e.Snapshot().DestinationsOf("X", "A1"))
}

func TestClearSlotsAndMappingsBetween(t *testing.T) {
	e := newEngine(t, nil,
		engine.WithInputLabware(plate(1, "X", 2, 2), plate(3, "Y", 2, 2)),
		engine.WithOutputSlotCopies(output(plate(2, "DST", 3, 3))))

	e.Send(engine.CopyOneToOne{InputLabwareID: 1, InputAddresses: addrs("A1", "B1"), OutputLabwareID: 2, OutputAddress: "A1"})
	e.Send(engine.CopyOneToOne{InputLabwareID: 3, InputAddresses: addrs("A1", "B1"), OutputLabwareID: 2, OutputAddress: "A2"})
	e.Send(engine.CopyManyToOne{InputLabwareID: 3, InputAddresses: addrs("A2", "B2"), OutputLabwareID: 2, OutputAddress: "C3"})
	require.Len(t, content(e, 2), 6)

	e.Send(engine.ClearSlots{OutputLabwareID: 2, OutputAddresses: addrs("B1", "C3")})
	assert.Equal(t, []engine.SlotCopyContent{
		scc("X", "A1", "A1"),
		scc("Y", "A1", "A2"),
		scc("Y", "B1", "B2"),
	}, content(e, 2))

	e.Send(engine.ClearMappingsBetween{OutputLabwareID: 2, InputBarcode: "Y"})
	assert.Equal(t, []engine.SlotCopyContent{scc("X", "A1", "A1")}, content(e, 2))

	e.Send(engine.ClearSlots{OutputLabwareID: 9, OutputAddresses: addrs("A1")})
	assert.Len(t, content(e, 2), 1)
}

func TestLockGatesEdits(t *testing.T) {
	e := newEngine(t, nil,
		engine.WithInputLabware(plate(1, "X", 2, 2)),
		engine.WithOutputSlotCopies(output(plate(2, "DST", 2, 2))))
	copyEv := engine.CopyOneToOne{InputLabwareID: 1, InputAddresses: addrs("A1"), OutputLabwareID: 2, OutputAddress: "A1"}

	e.Send(engine.Lock{})
	assert.Equal(t, engine.StateLocked, e.State())
	before := e.Snapshot()
	e.Send(copyEv)
	e.Send(engine.UpdateInputLabware{})
	e.Send(engine.ClearSlots{OutputLabwareID: 2, OutputAddresses: addrs("A1")})
	assert.Equal(t, before, e.Snapshot())

	e.Send(engine.Unlock{})
	assert.Equal(t, engine.StateReady, e.State())
	e.Send(copyEv)
	assert.Equal(t, []engine.SlotCopyContent{scc("X", "A1", "A1")}, content(e, 2))
}

func TestColorsAreStable(t *testing.T) {
	x, y, z := plate(1, "X", 1, 1), plate(2, "Y", 1, 1), plate(3, "Z", 1, 1)
	e := newEngine(t, nil, engine.WithPalette("red", "green", "blue"))

	e.Send(engine.UpdateInputLabware{Labware: []*labware.Labware{x, y}})
	snap := e.Snapshot()
	assert.Equal(t, map[string]string{"X": "red", "Y": "green"}, colors(snap))

	e.Send(engine.UpdateInputLabware{Labware: []*labware.Labware{y}})
	e.Send(engine.UpdateInputLabware{Labware: []*labware.Labware{y, x}})
	e.Send(engine.UpdateInputLabware{Labware: []*labware.Labware{y, x, z}})
	assert.Equal(t, map[string]string{"X": "red", "Y": "green", "Z": "blue"}, colors(e.Snapshot()))
}

func colors(s *engine.Store) map[string]string {
	ret := make(map[string]string)
	for k, v := range s.ColorByBarcode {
		ret[k] = string(v)
	}
	return ret
}

func TestRemovingInputPurgesEverythingReferencingIt(t *testing.T) {
	x, y, z := plate(1, "X", 2, 2), plate(3, "Y", 2, 2), plate(4, "Z", 2, 2)
	lookup := qc.NewStaticLookup()
	lookup.Add(engine.DefaultOperationType, &qc.PriorResult{Barcode: "X", Operations: []qc.Operation{{
		SlotOutcomes: []qc.SlotOutcome{{Address: "A1", Outcome: qc.Fail, Comment: "torn"}},
	}}})
	lookup.Add(engine.DefaultOperationType, &qc.PriorResult{Barcode: "Y", Operations: []qc.Operation{{
		SlotOutcomes: []qc.SlotOutcome{{Address: "B2", Outcome: qc.Fail}},
	}}})
	lookup.Fail("Z", engine.DefaultOperationType, errors.New("timeout"))
	e := newEngine(t, lookup,
		engine.WithFailedSlotsCheck(true),
		engine.WithOutputSlotCopies(output(plate(2, "DST", 3, 3))))

	for _, lws := range [][]*labware.Labware{{x}, {x, y}, {x, y, z}} {
		e.Send(engine.UpdateInputLabware{Labware: lws})
		e.Wait()
	}
	e.Send(engine.CopyOneToOne{InputLabwareID: 1, InputAddresses: addrs("A1", "B1"), OutputLabwareID: 2, OutputAddress: "A1"})
	e.Send(engine.CopyManyToOne{InputLabwareID: 3, InputAddresses: addrs("A1", "B1"), OutputLabwareID: 2, OutputAddress: "C3"})
	e.Send(engine.CopyOneToMany{InputLabwareID: 4, InputAddress: "A1", OutputLabwareID: 2, OutputAddress: "A3"})

	snap := e.Snapshot()
	require.Contains(t, snap.FailedSlots, "X")
	require.Contains(t, snap.FailedSlots, "Y")
	require.Contains(t, snap.Errors, "Z")
	require.Len(t, snap.Output(2).SlotCopyContent, 5)

	e.Send(engine.UpdateInputLabware{Labware: []*labware.Labware{y}})
	e.Wait()
	snap = e.Snapshot()
	assert.Equal(t, []engine.SlotCopyContent{scc("Y", "A1", "C3"), scc("Y", "B1", "C3")}, snap.Output(2).SlotCopyContent)
	assert.NotContains(t, snap.FailedSlots, "X")
	assert.Empty(t, snap.Errors)
	assert.Equal(t, []engine.FailedSlot{{Address: "B2"}}, snap.FailedSlotsOf("Y"))
	assert.Contains(t, snap.ColorByBarcode, "X", "colors are kept")
}

func TestPriorResultUsesLatestOperation(t *testing.T) {
	lookup := qc.NewStaticLookup()
	lookup.Add("Stain QC", &qc.PriorResult{Barcode: "X", Operations: []qc.Operation{
		{ID: 2, PerformedAt: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), SlotOutcomes: []qc.SlotOutcome{
			{Address: "A1", Outcome: qc.Pass},
			{Address: "B1", Outcome: qc.Fail, Comment: "bubbles"},
			{Address: "Q9", Outcome: qc.Fail, Comment: "not on this slide"},
		}},
		{ID: 1, PerformedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), SlotOutcomes: []qc.SlotOutcome{
			{Address: "A1", Outcome: qc.Fail, Comment: "old"},
		}},
	}})
	e := newEngine(t, lookup, engine.WithFailedSlotsCheck(true), engine.WithOperationType("Stain QC"))

	e.Send(engine.UpdateInputLabware{Labware: []*labware.Labware{plate(1, "X", 4, 1)}})
	e.Wait()

	assert.Equal(t, engine.StateReady, e.State())
	assert.Equal(t, []engine.FailedSlot{{Address: "B1", Comment: "bubbles"}}, e.Snapshot().FailedSlotsOf("X"))
}

func TestPriorResultFailureIsRecorded(t *testing.T) {
	lookup := qc.NewStaticLookup()
	lookup.Fail("X", engine.DefaultOperationType, errors.New("service unavailable"))
	e := newEngine(t, lookup,
		engine.WithFailedSlotsCheck(true),
		engine.WithOutputSlotCopies(output(plate(2, "DST", 2, 2))))

	e.Send(engine.UpdateInputLabware{Labware: []*labware.Labware{plate(1, "X", 2, 2)}})
	e.Wait()

	snap := e.Snapshot()
	require.Contains(t, snap.Errors, "X")
	assert.ErrorContains(t, snap.Errors["X"], "service unavailable")
	assert.Empty(t, snap.FailedSlots)

	e.Send(engine.CopyOneToOne{InputLabwareID: 1, InputAddresses: addrs("A1"), OutputLabwareID: 2, OutputAddress: "A1"})
	assert.Len(t, content(e, 2), 1, "a failed lookup never blocks mapping")
}

func TestLookupOnlyForNewlyAddedLast(t *testing.T) {
	lookup := newGatedLookup()
	e := newEngine(t, lookup, engine.WithFailedSlotsCheck(true))
	x, y := plate(1, "X", 1, 1), plate(2, "Y", 1, 1)

	e.Send(engine.UpdateInputLabware{Labware: []*labware.Labware{x, y}})
	assert.Equal(t, engine.StateCheckingPriorResult, e.State())
	lookup.release(t)
	eventually(t, func() bool { return e.State() == engine.StateReady }, "lookup resolves")

	e.Send(engine.UpdateInputLabware{Labware: []*labware.Labware{y, x}})
	assert.Equal(t, engine.StateReady, e.State())
	assert.Equal(t, []string{"Y"}, lookup.Calls())
}

func TestLookupDoesNotBlockMapping(t *testing.T) {
	lookup := newGatedLookup()
	lookup.result = func(barcode string) (*qc.PriorResult, error) {
		return &qc.PriorResult{Barcode: barcode, Operations: []qc.Operation{{
			SlotOutcomes: []qc.SlotOutcome{{Address: "A1", Outcome: qc.Fail}},
		}}}, nil
	}
	e := newEngine(t, lookup,
		engine.WithFailedSlotsCheck(true),
		engine.WithOutputSlotCopies(output(plate(9, "DST", 2, 2))))
	x, y := plate(1, "X", 2, 2), plate(2, "Y", 2, 2)

	e.Send(engine.UpdateInputLabware{Labware: []*labware.Labware{x}})
	require.Equal(t, engine.StateCheckingPriorResult, e.State())

	e.Send(engine.CopyOneToOne{InputLabwareID: 1, InputAddresses: addrs("A1"), OutputLabwareID: 9, OutputAddress: "A1"})
	assert.Len(t, content(e, 9), 1)

	e.Send(engine.UpdateInputLabware{Labware: []*labware.Labware{x, y}})
	assert.Equal(t, []string{"X"}, lookup.Calls(), "one lookup at a time")

	lookup.release(t)
	eventually(t, func() bool { return len(lookup.Calls()) == 2 }, "queued lookup starts")
	assert.Equal(t, []string{"X", "Y"}, lookup.Calls())
	assert.Equal(t, engine.StateCheckingPriorResult, e.State())
	assert.Len(t, e.Snapshot().FailedSlotsOf("X"), 1)

	lookup.release(t)
	eventually(t, func() bool { return e.State() == engine.StateReady }, "second lookup resolves")
	assert.Len(t, e.Snapshot().FailedSlotsOf("Y"), 1)
}

func TestStaleLookupResultIsDiscarded(t *testing.T) {
	lookup := newGatedLookup()
	lookup.result = func(barcode string) (*qc.PriorResult, error) {
		return &qc.PriorResult{Barcode: barcode, Operations: []qc.Operation{{
			SlotOutcomes: []qc.SlotOutcome{{Address: "A1", Outcome: qc.Fail}},
		}}}, nil
	}
	e := newEngine(t, lookup, engine.WithFailedSlotsCheck(true))

	e.Send(engine.UpdateInputLabware{Labware: []*labware.Labware{plate(1, "X", 1, 1)}})
	e.Send(engine.UpdateInputLabware{Labware: []*labware.Labware{plate(2, "Y", 1, 1)}})

	lookup.release(t)
	eventually(t, func() bool { return len(lookup.Calls()) == 2 }, "queued lookup starts")
	assert.NotContains(t, e.Snapshot().FailedSlots, "X")

	lookup.release(t)
	eventually(t, func() bool { return e.State() == engine.StateReady }, "lookup resolves")
	snap := e.Snapshot()
	assert.NotContains(t, snap.FailedSlots, "X")
	assert.Contains(t, snap.FailedSlots, "Y")
}

func TestLookupResolvesWhileLocked(t *testing.T) {
	lookup := newGatedLookup()
	lookup.result = func(barcode string) (*qc.PriorResult, error) {
		return nil, &qc.LookupError{Barcode: barcode, Code: qc.CodeNotFound, Err: errors.New("unknown barcode")}
	}
	e := newEngine(t, lookup, engine.WithFailedSlotsCheck(true))

	e.Send(engine.UpdateInputLabware{Labware: []*labware.Labware{plate(1, "X", 1, 1)}})
	e.Send(engine.Lock{})
	assert.Equal(t, engine.StateLocked, e.State())

	lookup.release(t)
	eventually(t, func() bool { return len(e.Snapshot().Errors) == 1 }, "failure recorded while locked")
	assert.Equal(t, engine.StateLocked, e.State())
	assert.Equal(t, qc.CodeNotFound, qc.CodeOf(e.Snapshot().Errors["X"]))

	e.Send(engine.Unlock{})
	assert.Equal(t, engine.StateReady, e.State())
}

func TestDisabledCheckDoesNotLookUp(t *testing.T) {
	lookup := newGatedLookup()
	e := newEngine(t, lookup)

	e.Send(engine.UpdateInputLabware{Labware: []*labware.Labware{plate(1, "X", 1, 1)}})
	assert.Equal(t, engine.StateReady, e.State())
	assert.Empty(t, lookup.Calls())

	e.Send(engine.SetFailedSlotsCheck{Enabled: true})
	e.Send(engine.UpdateInputLabware{Labware: []*labware.Labware{plate(1, "X", 1, 1), plate(2, "Y", 1, 1)}})
	assert.Equal(t, engine.StateCheckingPriorResult, e.State())
	assert.True(t, e.Snapshot().FailedSlotsCheckEnabled)
	lookup.release(t)
	eventually(t, func() bool { return e.State() == engine.StateReady }, "lookup resolves")
}

func TestCloseCancelsOutstandingLookup(t *testing.T) {
	lookup := newGatedLookup()
	e, err := engine.New(context.Background(), lookup, engine.WithLogger(quiet), engine.WithFailedSlotsCheck(true))
	require.NoError(t, err)

	e.Send(engine.UpdateInputLabware{Labware: []*labware.Labware{plate(1, "X", 1, 1)}})
	e.Close()
	assert.Equal(t, engine.StateReady, e.State())
	assert.Empty(t, e.Snapshot().Errors)
}

func TestUpdateOutputLabware(t *testing.T) {
	x := plate(1, "X", 2, 2)
	small, big := plate(2, "DST", 2, 2), plate(3, "BIG", 3, 3)
	e := newEngine(t, nil, engine.WithInputLabware(x), engine.WithOutputSlotCopies(output(small)))
	e.Send(engine.CopyOneToOne{InputLabwareID: 1, InputAddresses: addrs("A1", "B1"), OutputLabwareID: 2, OutputAddress: "A1"})
	kept := content(e, 2)
	require.Len(t, kept, 2)

	e.Send(engine.UpdateOutputLabware{Outputs: []engine.OutputSlotCopyData{output(small), output(big)}})
	assert.Equal(t, kept, content(e, 2), "nil content keeps what was mapped")
	assert.Empty(t, content(e, 3))

	e.Send(engine.UpdateOutputLabware{Outputs: []engine.OutputSlotCopyData{
		output(big),
		{Labware: small, SlotCopyContent: []engine.SlotCopyContent{}},
	}})
	assert.Empty(t, content(e, 2), "empty content clears")
	assert.Equal(t, big.ID, e.Snapshot().OutputSlotCopies[0].Labware.ID)

	e.Send(engine.UpdateOutputLabware{Outputs: []engine.OutputSlotCopyData{{
		Labware: small,
		SlotCopyContent: []engine.SlotCopyContent{
			scc("X", "A2", "B2"),
			scc("GONE", "A1", "A1"),
			scc("X", "A1", "C3"),
		},
	}}})
	assert.Equal(t, []engine.SlotCopyContent{scc("X", "A2", "B2")}, content(e, 2))
	assert.Nil(t, e.Snapshot().Output(3))

	before := e.Snapshot()
	e.Send(engine.UpdateOutputLabware{Outputs: []engine.OutputSlotCopyData{output(small), output(small)}})
	assert.Equal(t, before, e.Snapshot(), "duplicate outputs are refused")
}

func TestSnapshotIsACopy(t *testing.T) {
	e := newEngine(t, nil,
		engine.WithInputLabware(plate(1, "X", 2, 2, "A1")),
		engine.WithOutputSlotCopies(output(plate(2, "DST", 2, 2))))
	e.Send(engine.CopyOneToOne{InputLabwareID: 1, InputAddresses: addrs("A1"), OutputLabwareID: 2, OutputAddress: "A1"})

	snap := e.Snapshot()
	snap.Output(2).SlotCopyContent[0].DestinationAddress = "B2"
	snap.InputLabware[0].Slots[0].Samples = nil
	snap.ColorByBarcode["X"] = "black"

	fresh := e.Snapshot()
	assert.Equal(t, labware.Address("A1"), fresh.Output(2).SlotCopyContent[0].DestinationAddress)
	assert.True(t, fresh.InputLabware[0].Slot("A1").Filled())
	assert.NotEqual(t, "black", string(fresh.ColorByBarcode["X"]))
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := engine.New(context.Background(), nil, engine.WithFailedSlotsCheck(true))
	assert.Error(t, err)

	_, err = engine.New(context.Background(), nil, engine.WithDirection("Sideways"))
	assert.Error(t, err)

	_, err = engine.New(context.Background(), nil, engine.WithInputLabware(plate(1, "X", 1, 1), plate(2, "X", 1, 1)))
	assert.ErrorIs(t, err, engine.ErrDuplicateLabware)

	e := newEngine(t, nil)
	e.Send(engine.SetFailedSlotsCheck{Enabled: true})
	assert.False(t, e.Snapshot().FailedSlotsCheckEnabled)
}

func TestWaitWhileSending(t *testing.T) {
	e := newEngine(t, qc.NewStaticLookup(), engine.WithFailedSlotsCheck(true))

	done := make(chan struct{})
	go func() {
		defer close(done)
		var lws []*labware.Labware
		for i := 1; i <= 20; i++ {
			lws = append(lws, plate(i, fmt.Sprintf("IN-%d", i), 1, 1))
			e.Send(engine.UpdateInputLabware{Labware: append([]*labware.Labware(nil), lws...)})
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
					e.Wait()
				}
			}
		}()
	}
	wg.Wait()
	e.Wait()

	assert.Equal(t, engine.StateReady, e.State())
	assert.Len(t, e.Snapshot().InputLabware, 20)
}

type recorder struct {
	events  []string
	started int
	errs    []error
}

func (r *recorder) EventHandled(kind engine.Kind, result engine.Result) {
	r.events = append(r.events, string(kind)+":"+string(result))
}
func (r *recorder) LookupStarted()           { r.started++ }
func (r *recorder) LookupFinished(err error) { r.errs = append(r.errs, err) }

func TestObserverSeesEveryEvent(t *testing.T) {
	rec := &recorder{}
	e := newEngine(t, qc.NewStaticLookup(),
		engine.WithObserver(rec),
		engine.WithFailedSlotsCheck(true),
		engine.WithInputLabware(plate(1, "X", 1, 1)),
		engine.WithOutputSlotCopies(output(plate(2, "DST", 1, 1))))

	e.Send(engine.CopyOneToMany{InputLabwareID: 1, InputAddress: "A1", OutputLabwareID: 2, OutputAddress: "A1"})
	e.Send(engine.CopyOneToMany{InputLabwareID: 1, InputAddress: "A1", OutputLabwareID: 2, OutputAddress: "A1"})
	e.Send(engine.Unlock{})
	e.Send(engine.UpdateInputLabware{Labware: []*labware.Labware{plate(1, "X", 1, 1), plate(3, "Y", 1, 1)}})
	e.Wait()

	assert.Equal(t, []string{
		"copy_one_to_many:accepted",
		"copy_one_to_many:rejected",
		"unlock:ignored",
		"update_input_labware:accepted",
		"prior_result_resolved:accepted",
	}, rec.events)
	assert.Equal(t, 1, rec.started)
	assert.Equal(t, []error{nil}, rec.errs)
}
