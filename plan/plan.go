// Package plan reads mapping sessions written down as YAML and replays them
// through an engine. A plan names its labware, optional canned QC results
// and the ordered steps a user took.
package plan

import (
	"fmt"
	"os"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/iancoleman/strcase"
	"gopkg.in/yaml.v3"

	"slotmap/engine"
	"slotmap/labware"
)

// FormatVersion is the plan file format this package writes and reads.
// Files declaring any 1.x version are accepted.
const FormatVersion = "1.0.0"

type Plan struct {
	Version          string       `yaml:"version"`
	Direction        string       `yaml:"direction,omitempty"`
	OperationType    string       `yaml:"operationType,omitempty"`
	FailedSlotsCheck *bool        `yaml:"failedSlotsCheck,omitempty"`
	Palette          []string     `yaml:"palette,omitempty"`
	Inputs           []LabwareDef `yaml:"inputs"`
	Outputs          []LabwareDef `yaml:"outputs"`
	QC               []QCResult   `yaml:"qc,omitempty"`
	Steps            []Step       `yaml:"steps"`
}

// LabwareDef describes a piece of labware by catalog type name.
type LabwareDef struct {
	ID      int      `yaml:"id"`
	Barcode string   `yaml:"barcode"`
	Type    string   `yaml:"type"`
	Filled  []string `yaml:"filled,omitempty"`
}

// QCResult is a canned prior QC result, used instead of a QC service.
// When Error is set the lookup for Barcode fails with it.
type QCResult struct {
	Barcode    string        `yaml:"barcode"`
	Error      string        `yaml:"error,omitempty"`
	Code       string        `yaml:"code,omitempty"`
	Operations []QCOperation `yaml:"operations,omitempty"`
}

type QCOperation struct {
	ID        int          `yaml:"id"`
	Performed time.Time    `yaml:"performed"`
	Failed    []FailedSlot `yaml:"failed,omitempty"`
	Passed    []string     `yaml:"passed,omitempty"`
}

type FailedSlot struct {
	Address string `yaml:"address"`
	Comment string `yaml:"comment,omitempty"`
}

// Step is one user action. Which fields apply depends on Event.
type Step struct {
	Event     string      `yaml:"event"`
	Input     int         `yaml:"input,omitempty"`
	From      []string    `yaml:"from,omitempty"`
	Output    int         `yaml:"output,omitempty"`
	To        string      `yaml:"to,omitempty"`
	Addresses []string    `yaml:"addresses,omitempty"`
	Barcode   string      `yaml:"barcode,omitempty"`
	Labware   *LabwareDef `yaml:"labware,omitempty"`
	Enabled   bool        `yaml:"enabled,omitempty"`
}

// Step events beyond the engine's own, which edit the labware lists.
const (
	AddInput     engine.Kind = "add_input"
	RemoveInput  engine.Kind = "remove_input"
	AddOutput    engine.Kind = "add_output"
	RemoveOutput engine.Kind = "remove_output"
)

// Kind normalizes the step's event name, so "copyOneToOne" and
// "copy-one-to-one" both name engine.KindCopyOneToOne.
func (s Step) Kind() engine.Kind {
	return engine.Kind(strcase.ToSnake(s.Event))
}

// LoadFile loads and parses a plan from the given path.
func LoadFile(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses and validates YAML plan data.
func Parse(data []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse plan YAML: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Marshal serializes a plan to YAML.
func Marshal(p *Plan) ([]byte, error) {
	return yaml.Marshal(p)
}

// IsCompatible reports whether version can be read by this package.
func IsCompatible(version string) (bool, error) {
	constraint, err := semver.NewConstraint("^" + FormatVersion)
	if err != nil {
		return false, fmt.Errorf("invalid format version: %w", err)
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return false, fmt.Errorf("invalid plan version %q: %w", version, err)
	}
	return constraint.Check(v), nil
}

// Validate checks what can be checked without a catalog: the version, the
// direction and that every step names a known event.
func (p *Plan) Validate() error {
	ok, err := IsCompatible(p.Version)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("plan version %s is not supported, want ^%s", p.Version, FormatVersion)
	}
	if p.Direction != "" {
		if _, err := labware.ParseDirection(p.Direction); err != nil {
			return err
		}
	}
	for i, s := range p.Steps {
		if _, ok := stepKinds[s.Kind()]; !ok {
			return fmt.Errorf("step %d: unknown event %q", i+1, s.Event)
		}
		if (s.Kind() == AddInput || s.Kind() == AddOutput) && s.Labware == nil {
			return fmt.Errorf("step %d: %s needs labware", i+1, s.Event)
		}
	}
	return nil
}

var stepKinds = map[engine.Kind]struct{}{
	engine.KindCopyOneToOne:         {},
	engine.KindCopyManyToOne:        {},
	engine.KindCopyOneToMany:        {},
	engine.KindClearSlots:           {},
	engine.KindClearMappingsBetween: {},
	engine.KindLock:                 {},
	engine.KindUnlock:               {},
	engine.KindSetFailedSlotsCheck:  {},
	AddInput:                        {},
	RemoveInput:                     {},
	AddOutput:                       {},
	RemoveOutput:                    {},
}

// Build creates the labware a definition describes, filling the listed slots.
func (s LabwareDef) Build(catalog *labware.Catalog) (*labware.Labware, error) {
	t, err := catalog.Lookup(s.Type)
	if err != nil {
		return nil, fmt.Errorf("labware %s: %w", s.Barcode, err)
	}
	lw := labware.NewLabware(s.ID, s.Barcode, t)
	for _, a := range s.Filled {
		if err := lw.Fill(labware.Address(a), labware.Sample{ExternalName: s.Barcode + "/" + a}); err != nil {
			return nil, fmt.Errorf("labware %s: %w", s.Barcode, err)
		}
	}
	return lw, nil
}
