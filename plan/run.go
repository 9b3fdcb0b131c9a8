package plan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"slotmap/color"
	"slotmap/engine"
	"slotmap/labware"
	"slotmap/qc"
)

// Runner replays plans. The zero value uses the default catalog and no QC
// service.
type Runner struct {
	Catalog *labware.Catalog
	// Lookup serves prior QC results for plans without canned ones.
	Lookup   qc.Lookup
	Observer engine.Observer
	Logger   *slog.Logger
	// Options are applied before the plan's own settings.
	Options []engine.Option
}

type StepReport struct {
	Step   int           `json:"step"`
	Event  engine.Kind   `json:"event"`
	Result engine.Result `json:"result"`
	Reason string        `json:"reason,omitempty"`
}

// Report is the outcome of a replayed plan.
type Report struct {
	SessionID   string                         `json:"sessionId"`
	Direction   labware.Direction              `json:"direction"`
	State       engine.State                   `json:"state"`
	Steps       []StepReport                   `json:"steps"`
	Transfers   []engine.Transfer              `json:"transfers"`
	Colors      map[string]color.ID            `json:"colors"`
	FailedSlots map[string][]engine.FailedSlot `json:"failedSlots,omitempty"`
	Errors      map[string]string              `json:"errors,omitempty"`
}

// operationType is the QC operation canned results are recorded against.
func (p *Plan) operationType() string {
	if p.OperationType != "" {
		return p.OperationType
	}
	return engine.DefaultOperationType
}

// StaticLookup serves the plan's canned QC results.
func (p *Plan) StaticLookup() *qc.StaticLookup {
	op := p.operationType()
	ret := qc.NewStaticLookup()
	for _, r := range p.QC {
		if r.Error != "" {
			var err error = errors.New(r.Error)
			if r.Code != "" {
				err = &qc.LookupError{Barcode: r.Barcode, OperationType: op, Code: qc.ErrorCode(r.Code), Err: err}
			}
			ret.Fail(r.Barcode, op, err)
			continue
		}
		pr := &qc.PriorResult{Barcode: r.Barcode}
		for _, o := range r.Operations {
			qop := qc.Operation{ID: o.ID, PerformedAt: o.Performed}
			for _, a := range o.Passed {
				qop.SlotOutcomes = append(qop.SlotOutcomes, qc.SlotOutcome{Address: labware.Address(a), Outcome: qc.Pass})
			}
			for _, f := range o.Failed {
				qop.SlotOutcomes = append(qop.SlotOutcomes, qc.SlotOutcome{Address: labware.Address(f.Address), Outcome: qc.Fail, Comment: f.Comment})
			}
			pr.Operations = append(pr.Operations, qop)
		}
		ret.Add(op, pr)
	}
	return ret
}

func (p *Plan) engineOptions() ([]engine.Option, error) {
	var opts []engine.Option
	if p.Direction != "" {
		d, err := labware.ParseDirection(p.Direction)
		if err != nil {
			return nil, err
		}
		opts = append(opts, engine.WithDirection(d))
	}
	if p.OperationType != "" || len(p.QC) > 0 {
		opts = append(opts, engine.WithOperationType(p.operationType()))
	}
	if p.FailedSlotsCheck != nil {
		opts = append(opts, engine.WithFailedSlotsCheck(*p.FailedSlotsCheck))
	}
	if len(p.Palette) > 0 {
		palette := make([]color.ID, len(p.Palette))
		for i, c := range p.Palette {
			palette[i] = color.ID(c)
		}
		opts = append(opts, engine.WithPalette(palette...))
	}
	return opts, nil
}

// Run replays p through a new engine and reports the final store. Steps the
// engine refuses are reported, not returned as errors.
func (r *Runner) Run(ctx context.Context, p *Plan) (*Report, error) {
	catalog := r.Catalog
	if catalog == nil {
		catalog = labware.DefaultCatalog()
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	inputs, err := buildAll(catalog, p.Inputs)
	if err != nil {
		return nil, err
	}
	outputs, err := buildAll(catalog, p.Outputs)
	if err != nil {
		return nil, err
	}
	lookup := r.Lookup
	if len(p.QC) > 0 {
		lookup = p.StaticLookup()
	}
	planOpts, err := p.engineOptions()
	if err != nil {
		return nil, err
	}

	obs := &stepObserver{next: r.Observer}
	opts := []engine.Option{engine.WithLogger(logger)}
	opts = append(opts, r.Options...)
	opts = append(opts, planOpts...)
	opts = append(opts,
		engine.WithObserver(obs),
		engine.WithInputLabware(inputs...),
		engine.WithOutputSlotCopies(asOutputs(outputs)...),
	)
	e, err := engine.New(ctx, lookup, opts...)
	if err != nil {
		return nil, err
	}
	defer e.Close()
	logger.Info("replaying plan", "session", e.ID(), "steps", len(p.Steps), "direction", e.Direction())

	report := &Report{SessionID: e.ID(), Direction: e.Direction()}
	for i, s := range p.Steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ev, err := r.event(catalog, e.Snapshot(), s)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		from := e.State()
		reason := explain(e.Snapshot(), ev, e.Direction())
		e.Send(ev)
		e.Wait()

		sr := StepReport{Step: i + 1, Event: s.Kind(), Result: obs.result()}
		switch sr.Result {
		case engine.Rejected:
			sr.Reason = reason
		case engine.Ignored:
			sr.Reason = fmt.Sprintf("not handled while %s", from)
		}
		report.Steps = append(report.Steps, sr)
	}

	snap := e.Snapshot()
	report.State = e.State()
	report.Transfers = snap.Transfers()
	report.Colors = snap.ColorByBarcode
	for barcode := range snap.FailedSlots {
		if report.FailedSlots == nil {
			report.FailedSlots = make(map[string][]engine.FailedSlot)
		}
		report.FailedSlots[barcode] = snap.FailedSlotsOf(barcode)
	}
	for barcode, err := range snap.Errors {
		if report.Errors == nil {
			report.Errors = make(map[string]string)
		}
		report.Errors[barcode] = err.Error()
	}
	return report, nil
}

func buildAll(catalog *labware.Catalog, defs []LabwareDef) ([]*labware.Labware, error) {
	ret := make([]*labware.Labware, 0, len(defs))
	for _, s := range defs {
		lw, err := s.Build(catalog)
		if err != nil {
			return nil, err
		}
		ret = append(ret, lw)
	}
	return ret, nil
}

// asOutputs wraps labware without content, which keeps any mappings the
// engine already holds for it.
func asOutputs(lws []*labware.Labware) []engine.OutputSlotCopyData {
	ret := make([]engine.OutputSlotCopyData, len(lws))
	for i, lw := range lws {
		ret[i] = engine.OutputSlotCopyData{Labware: lw}
	}
	return ret
}

func outputLabware(s *engine.Store) []*labware.Labware {
	ret := make([]*labware.Labware, len(s.OutputSlotCopies))
	for i, o := range s.OutputSlotCopies {
		ret[i] = o.Labware
	}
	return ret
}

func (r *Runner) event(catalog *labware.Catalog, snap *engine.Store, s Step) (engine.Event, error) {
	switch s.Kind() {
	case engine.KindCopyOneToOne:
		return engine.CopyOneToOne{InputLabwareID: s.Input, InputAddresses: labware.Addresses(s.From...),
			OutputLabwareID: s.Output, OutputAddress: labware.Address(s.To)}, nil
	case engine.KindCopyManyToOne:
		return engine.CopyManyToOne{InputLabwareID: s.Input, InputAddresses: labware.Addresses(s.From...),
			OutputLabwareID: s.Output, OutputAddress: labware.Address(s.To)}, nil
	case engine.KindCopyOneToMany:
		if len(s.From) != 1 {
			return nil, fmt.Errorf("%s takes exactly one source address, got %d", s.Event, len(s.From))
		}
		return engine.CopyOneToMany{InputLabwareID: s.Input, InputAddress: labware.Address(s.From[0]),
			OutputLabwareID: s.Output, OutputAddress: labware.Address(s.To)}, nil
	case engine.KindClearSlots:
		return engine.ClearSlots{OutputLabwareID: s.Output, OutputAddresses: labware.Addresses(s.Addresses...)}, nil
	case engine.KindClearMappingsBetween:
		return engine.ClearMappingsBetween{OutputLabwareID: s.Output, InputBarcode: s.Barcode}, nil
	case engine.KindLock:
		return engine.Lock{}, nil
	case engine.KindUnlock:
		return engine.Unlock{}, nil
	case engine.KindSetFailedSlotsCheck:
		return engine.SetFailedSlotsCheck{Enabled: s.Enabled}, nil
	case AddInput:
		lw, err := s.Labware.Build(catalog)
		if err != nil {
			return nil, err
		}
		return engine.UpdateInputLabware{Labware: append(snap.InputLabware, lw)}, nil
	case RemoveInput:
		return engine.UpdateInputLabware{Labware: slices.DeleteFunc(snap.InputLabware, func(lw *labware.Labware) bool {
			return lw.Barcode == s.Barcode
		})}, nil
	case AddOutput:
		lw, err := s.Labware.Build(catalog)
		if err != nil {
			return nil, err
		}
		return engine.UpdateOutputLabware{Outputs: asOutputs(append(outputLabware(snap), lw))}, nil
	case RemoveOutput:
		return engine.UpdateOutputLabware{Outputs: asOutputs(slices.DeleteFunc(outputLabware(snap), func(lw *labware.Labware) bool {
			return lw.Barcode == s.Barcode
		}))}, nil
	}
	return nil, fmt.Errorf("unknown event %q", s.Event)
}

// explain returns why the engine would refuse ev, if it can tell.
func explain(snap *engine.Store, ev engine.Event, d labware.Direction) string {
	var err error
	switch ev := ev.(type) {
	case engine.CopyOneToOne:
		_, err = snap.PlanOneToOne(ev, d)
	case engine.CopyManyToOne:
		_, err = snap.PlanManyToOne(ev, d)
	case engine.CopyOneToMany:
		_, err = snap.PlanOneToMany(ev)
	case engine.ClearSlots:
		if snap.Output(ev.OutputLabwareID) == nil {
			err = fmt.Errorf("%w: output %d", engine.ErrUnknownLabware, ev.OutputLabwareID)
		}
	case engine.ClearMappingsBetween:
		if snap.Output(ev.OutputLabwareID) == nil {
			err = fmt.Errorf("%w: output %d", engine.ErrUnknownLabware, ev.OutputLabwareID)
		}
	case engine.UpdateInputLabware:
		err = engine.CheckLabwareList(ev.Labware)
	case engine.UpdateOutputLabware:
		err = engine.CheckLabwareList(outputLabware(&engine.Store{OutputSlotCopies: ev.Outputs}))
	case engine.SetFailedSlotsCheck:
		if ev.Enabled {
			err = engine.ErrNoLookup
		}
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// stepObserver remembers the result of the last event a step sent and
// forwards everything to next.
type stepObserver struct {
	next engine.Observer

	mu   sync.Mutex
	last engine.Result
}

func (o *stepObserver) EventHandled(kind engine.Kind, result engine.Result) {
	if o.next != nil {
		o.next.EventHandled(kind, result)
	}
	if kind == engine.KindPriorResultResolved || kind == engine.KindPriorResultFailed {
		return
	}
	o.mu.Lock()
	o.last = result
	o.mu.Unlock()
}

func (o *stepObserver) result() engine.Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}

func (o *stepObserver) LookupStarted() {
	if o.next != nil {
		o.next.LookupStarted()
	}
}

func (o *stepObserver) LookupFinished(err error) {
	if o.next != nil {
		o.next.LookupFinished(err)
	}
}
