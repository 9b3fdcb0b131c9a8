package engine

import (
	"log/slog"

	"slotmap/color"
	"slotmap/labware"
)

// Option configures an Engine.
type Option func(*options)

type options struct {
	logger           *slog.Logger
	observer         Observer
	direction        labware.Direction
	operationType    string
	failedSlotsCheck bool
	palette          []color.ID
	inputs           []*labware.Labware
	outputs          []OutputSlotCopyData
}

const DefaultOperationType = "Stain QC"

func defaultOptions() *options {
	return &options{
		logger:        slog.Default(),
		observer:      nopObserver{},
		direction:     labware.DownRight,
		operationType: DefaultOperationType,
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithDirection sets the traversal order used for one-to-one mapping.
func WithDirection(d labware.Direction) Option {
	return func(o *options) {
		o.direction = d
	}
}

// WithOperationType names the QC operation whose prior outcome is looked up.
func WithOperationType(op string) Option {
	return func(o *options) {
		o.operationType = op
	}
}

// WithFailedSlotsCheck enables the prior QC lookup for newly added input
// labware.
func WithFailedSlotsCheck(enabled bool) Option {
	return func(o *options) {
		o.failedSlotsCheck = enabled
	}
}

func WithPalette(palette ...color.ID) Option {
	return func(o *options) {
		o.palette = palette
	}
}

// WithInputLabware sets the source labware the session starts with.
func WithInputLabware(lws ...*labware.Labware) Option {
	return func(o *options) {
		o.inputs = lws
	}
}

// WithOutputSlotCopies sets the destinations the session starts with.
func WithOutputSlotCopies(outputs ...OutputSlotCopyData) Option {
	return func(o *options) {
		o.outputs = outputs
	}
}
