// Package engine maps slots of source labware onto slots of destination
// labware. An Engine owns the mapping store of one session and changes it
// only in response to events; a rejected event leaves the store untouched.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"slotmap/color"
	"slotmap/labware"
	"slotmap/qc"
)

type State string

const (
	StateReady               State = "ready"
	StateCheckingPriorResult State = "checkingPriorResult"
	StateLocked              State = "locked"
)

func kinds(ks ...Kind) map[Kind]struct{} {
	ret := make(map[Kind]struct{}, len(ks))
	for _, k := range ks {
		ret[k] = struct{}{}
	}
	return ret
}

// transitions lists the events each state handles. Anything else is
// ignored, which is how a locked engine refuses edits.
var transitions = map[State]map[Kind]struct{}{
	StateReady: kinds(
		KindUpdateInputLabware, KindUpdateOutputLabware,
		KindCopyOneToOne, KindCopyManyToOne, KindCopyOneToMany,
		KindClearSlots, KindClearMappingsBetween,
		KindLock, KindSetFailedSlotsCheck,
	),
	StateCheckingPriorResult: kinds(
		KindUpdateInputLabware, KindUpdateOutputLabware,
		KindCopyOneToOne, KindCopyManyToOne, KindCopyOneToMany,
		KindClearSlots, KindClearMappingsBetween,
		KindLock, KindSetFailedSlotsCheck,
		KindPriorResultResolved, KindPriorResultFailed,
	),
	StateLocked: kinds(
		KindUnlock,
		KindPriorResultResolved, KindPriorResultFailed,
	),
}

// ErrNoLookup refuses enabling the failed slots check without a lookup.
var ErrNoLookup = errors.New("no QC lookup service configured")

// Engine is safe for concurrent use; events are applied one at a time.
type Engine struct {
	id            string
	logger        *slog.Logger
	observer      Observer
	lookup        qc.Lookup
	direction     labware.Direction
	operationType string

	mu     sync.Mutex
	store  *Store
	colors *color.Cycle
	locked bool
	// inFlight is the barcode of the one outstanding lookup; pending the
	// barcode to look up once it resolves.
	inFlight string
	pending  string

	// lookups counts running lookup goroutines; idle is broadcast when it
	// drops to zero.
	lookups int
	idle    *sync.Cond

	ctx    context.Context
	cancel context.CancelFunc
}

// New starts a mapping session. lookup may be nil when the failed slots
// check is never enabled.
func New(ctx context.Context, lookup qc.Lookup, opts ...Option) (*Engine, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if !o.direction.Valid() {
		return nil, fmt.Errorf("invalid direction %q", o.direction)
	}
	if o.failedSlotsCheck && lookup == nil {
		return nil, ErrNoLookup
	}
	id := uuid.NewString()
	e := &Engine{
		id:            id,
		logger:        o.logger.With("session", id),
		observer:      o.observer,
		lookup:        lookup,
		direction:     o.direction,
		operationType: o.operationType,
		store:         newStore(),
		colors:        color.NewCycle(o.palette...),
	}
	e.idle = sync.NewCond(&e.mu)
	e.store.FailedSlotsCheckEnabled = o.failedSlotsCheck
	if err := e.setInputLabware(o.inputs); err != nil {
		return nil, err
	}
	if err := e.updateOutputLabware(o.outputs); err != nil {
		return nil, err
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	return e, nil
}

func (e *Engine) ID() string {
	return e.id
}

func (e *Engine) Direction() labware.Direction {
	return e.direction
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state()
}

func (e *Engine) state() State {
	switch {
	case e.locked:
		return StateLocked
	case e.inFlight != "":
		return StateCheckingPriorResult
	}
	return StateReady
}

// Snapshot returns a copy of the store that the caller may keep.
func (e *Engine) Snapshot() *Store {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Clone()
}

// Wait blocks until no lookup is outstanding. It may be called while other
// goroutines are sending events.
func (e *Engine) Wait() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for e.lookups > 0 {
		e.idle.Wait()
	}
}

// Close ends the session, cancelling any outstanding lookup.
func (e *Engine) Close() {
	e.cancel()
	e.Wait()
}

func (e *Engine) lookupDone() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lookups--
	if e.lookups == 0 {
		e.idle.Broadcast()
	}
}

// Send applies ev to the store.
func (e *Engine) Send(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	kind := ev.Kind()
	from := e.state()
	if _, ok := transitions[from][kind]; !ok {
		e.logger.Debug("event ignored", "event", kind, "state", from)
		e.observer.EventHandled(kind, Ignored)
		return
	}
	if err := e.handle(ev); err != nil {
		e.logger.Debug("event rejected", "event", kind, "reason", err)
		e.observer.EventHandled(kind, Rejected)
		return
	}
	e.observer.EventHandled(kind, Accepted)
	if to := e.state(); to != from {
		e.logger.Debug("state changed", "event", kind, "from", from, "to", to)
	}
}

func (e *Engine) handle(ev Event) error {
	switch ev := ev.(type) {
	case UpdateInputLabware:
		return e.updateInputLabware(ev.Labware)
	case UpdateOutputLabware:
		return e.updateOutputLabware(ev.Outputs)
	case CopyOneToOne:
		return e.copyOneToOne(ev)
	case CopyManyToOne:
		return e.copyManyToOne(ev)
	case CopyOneToMany:
		return e.copyOneToMany(ev)
	case ClearSlots:
		return e.clearSlots(ev)
	case ClearMappingsBetween:
		return e.clearMappingsBetween(ev)
	case Lock:
		e.locked = true
		return nil
	case Unlock:
		e.locked = false
		return nil
	case SetFailedSlotsCheck:
		if ev.Enabled && e.lookup == nil {
			return ErrNoLookup
		}
		e.store.FailedSlotsCheckEnabled = ev.Enabled
		if !ev.Enabled {
			e.pending = ""
		}
		return nil
	case priorResultResolved:
		e.finishLookup(ev.barcode, ev.result, nil)
		return nil
	case priorResultFailed:
		e.finishLookup(ev.barcode, nil, ev.err)
		return nil
	default:
		panic(fmt.Sprintf("engine: unhandled event %T", ev))
	}
}

func (e *Engine) inputBarcodes() map[string]struct{} {
	ret := make(map[string]struct{}, len(e.store.InputLabware))
	for _, lw := range e.store.InputLabware {
		ret[lw.Barcode] = struct{}{}
	}
	return ret
}

// setInputLabware replaces the inputs, drops everything that refers to a
// barcode no longer present and colors new barcodes.
func (e *Engine) setInputLabware(lws []*labware.Labware) error {
	if err := CheckLabwareList(lws); err != nil {
		return err
	}
	e.store.InputLabware = make([]*labware.Labware, len(lws))
	for i, lw := range lws {
		e.store.InputLabware[i] = lw.Clone()
	}
	present := e.inputBarcodes()
	for i := range e.store.OutputSlotCopies {
		e.store.OutputSlotCopies[i].removeWhere(func(scc SlotCopyContent) bool {
			_, ok := present[scc.SourceBarcode]
			return !ok
		})
	}
	for barcode := range e.store.FailedSlots {
		if _, ok := present[barcode]; !ok {
			delete(e.store.FailedSlots, barcode)
		}
	}
	for barcode := range e.store.Errors {
		if _, ok := present[barcode]; !ok {
			delete(e.store.Errors, barcode)
		}
	}
	for _, lw := range e.store.InputLabware {
		if _, ok := e.store.ColorByBarcode[lw.Barcode]; !ok {
			e.store.ColorByBarcode[lw.Barcode] = e.colors.Next()
		}
	}
	return nil
}

func (e *Engine) updateInputLabware(lws []*labware.Labware) error {
	previous := e.inputBarcodes()
	if err := e.setInputLabware(lws); err != nil {
		return err
	}
	if e.pending != "" && e.store.InputByBarcode(e.pending) == nil {
		e.pending = ""
	}
	if !e.store.FailedSlotsCheckEnabled || len(lws) == 0 {
		return nil
	}
	last := lws[len(lws)-1].Barcode
	if _, seen := previous[last]; !seen {
		e.requestPriorResult(last)
	}
	return nil
}

func (e *Engine) updateOutputLabware(outputs []OutputSlotCopyData) error {
	lws := make([]*labware.Labware, len(outputs))
	for i, o := range outputs {
		lws[i] = o.Labware
	}
	if err := CheckLabwareList(lws); err != nil {
		return err
	}
	next := make([]OutputSlotCopyData, len(outputs))
	for i, o := range outputs {
		content := o.SlotCopyContent
		if content == nil {
			if prev := e.store.Output(o.Labware.ID); prev != nil {
				content = prev.SlotCopyContent
			}
		}
		kept := make([]SlotCopyContent, 0, len(content))
		for _, scc := range content {
			src := e.store.InputByBarcode(scc.SourceBarcode)
			if src == nil || !src.Type.Valid(scc.SourceAddress) || !o.Labware.Type.Valid(scc.DestinationAddress) {
				e.logger.Debug("dropping mapping", "output", o.Labware.Barcode,
					"source", scc.SourceBarcode, "from", scc.SourceAddress, "to", scc.DestinationAddress)
				continue
			}
			kept = append(kept, scc)
		}
		next[i] = OutputSlotCopyData{
			Labware:         o.Labware.Clone(),
			SlotCopyContent: kept,
		}
	}
	e.store.OutputSlotCopies = next
	return nil
}

func (e *Engine) copyOneToOne(ev CopyOneToOne) error {
	adds, err := e.store.PlanOneToOne(ev, e.direction)
	if err != nil {
		return err
	}
	out := e.store.Output(ev.OutputLabwareID)
	barcode := adds[0].SourceBarcode
	out.removeWhere(func(scc SlotCopyContent) bool {
		return scc.SourceBarcode == barcode && slices.Contains(ev.InputAddresses, scc.SourceAddress)
	})
	out.SlotCopyContent = append(out.SlotCopyContent, adds...)
	return nil
}

func (e *Engine) copyManyToOne(ev CopyManyToOne) error {
	adds, err := e.store.PlanManyToOne(ev, e.direction)
	if err != nil {
		return err
	}
	out := e.store.Output(ev.OutputLabwareID)
	out.SlotCopyContent = append(out.SlotCopyContent, adds...)
	return nil
}

func (e *Engine) copyOneToMany(ev CopyOneToMany) error {
	add, err := e.store.PlanOneToMany(ev)
	if err != nil {
		return err
	}
	out := e.store.Output(ev.OutputLabwareID)
	out.SlotCopyContent = append(out.SlotCopyContent, add)
	return nil
}

func (e *Engine) clearSlots(ev ClearSlots) error {
	out := e.store.Output(ev.OutputLabwareID)
	if out == nil {
		return fmt.Errorf("%w: output %d", ErrUnknownLabware, ev.OutputLabwareID)
	}
	out.removeWhere(func(scc SlotCopyContent) bool {
		return slices.Contains(ev.OutputAddresses, scc.DestinationAddress)
	})
	return nil
}

func (e *Engine) clearMappingsBetween(ev ClearMappingsBetween) error {
	out := e.store.Output(ev.OutputLabwareID)
	if out == nil {
		return fmt.Errorf("%w: output %d", ErrUnknownLabware, ev.OutputLabwareID)
	}
	out.removeWhere(func(scc SlotCopyContent) bool {
		return scc.SourceBarcode == ev.InputBarcode
	})
	return nil
}

// requestPriorResult starts a lookup for barcode, or queues it behind the
// outstanding one. Only the most recently queued barcode is kept.
func (e *Engine) requestPriorResult(barcode string) {
	if e.inFlight != "" {
		e.logger.Debug("prior QC lookup queued", "barcode", barcode, "outstanding", e.inFlight)
		e.pending = barcode
		return
	}
	e.inFlight = barcode
	e.observer.LookupStarted()
	e.logger.Info("looking up prior QC result", "barcode", barcode, "operation_type", e.operationType)

	e.lookups++
	go func() {
		defer e.lookupDone()
		r, err := e.lookup.FindPriorResult(e.ctx, barcode, e.operationType)
		if err != nil {
			e.Send(priorResultFailed{barcode: barcode, err: err})
			return
		}
		e.Send(priorResultResolved{barcode: barcode, result: r})
	}()
}

// finishLookup records the outcome of the outstanding lookup. Results for
// barcodes that have since been removed are discarded.
func (e *Engine) finishLookup(barcode string, r *qc.PriorResult, err error) {
	e.inFlight = ""
	e.observer.LookupFinished(err)
	defer e.startPending()

	if e.ctx.Err() != nil {
		e.logger.Debug("session closed, dropping prior QC result", "barcode", barcode)
		return
	}
	lw := e.store.InputByBarcode(barcode)
	if lw == nil {
		e.logger.Info("discarding prior QC result for removed labware", "barcode", barcode)
		return
	}
	if err != nil {
		e.logger.Warn("prior QC lookup failed", "barcode", barcode, "error", err)
		e.store.Errors[barcode] = err
		return
	}
	delete(e.store.Errors, barcode)

	failed := make(map[FailedSlot]struct{})
	for _, so := range r.Latest().Failed() {
		if !lw.Type.Valid(so.Address) {
			e.logger.Warn("ignoring QC outcome for unknown slot", "barcode", barcode, "address", so.Address)
			continue
		}
		failed[FailedSlot{Address: so.Address, Comment: so.Comment}] = struct{}{}
	}
	if len(failed) == 0 {
		delete(e.store.FailedSlots, barcode)
		return
	}
	e.logger.Info("labware has failed slots", "barcode", barcode, "count", len(failed))
	e.store.FailedSlots[barcode] = failed
}

func (e *Engine) startPending() {
	barcode := e.pending
	e.pending = ""
	if barcode == "" || e.ctx.Err() != nil || !e.store.FailedSlotsCheckEnabled {
		return
	}
	if e.store.InputByBarcode(barcode) == nil {
		return
	}
	e.requestPriorResult(barcode)
}
