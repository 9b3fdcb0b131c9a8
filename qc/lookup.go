// Package qc finds the outcome of earlier QC operations recorded against a
// piece of labware. Results are advisory: a failed slot is annotated, never
// refused.
package qc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/text/cases"

	"slotmap/labware"
)

// Lookup is the QC lookup service consumed by the mapping engine.
type Lookup interface {
	FindPriorResult(ctx context.Context, barcode, operationType string) (*PriorResult, error)
}

type Outcome string

const (
	Pass Outcome = "Pass"
	Fail Outcome = "Fail"
)

// ParseOutcome accepts any casing of "pass" or "fail".
func ParseOutcome(s string) (Outcome, error) {
	switch cases.Fold().String(s) {
	case "pass":
		return Pass, nil
	case "fail":
		return Fail, nil
	}
	return "", fmt.Errorf("unknown outcome %q", s)
}

type SlotOutcome struct {
	Address labware.Address
	Outcome Outcome
	Comment string
}

// Operation is one recorded QC operation and the outcome it gave each slot.
type Operation struct {
	ID           int
	PerformedAt  time.Time
	SlotOutcomes []SlotOutcome
}

type PriorResult struct {
	Barcode    string
	Operations []Operation
}

// Latest returns the chronologically last operation, or nil when there is
// none. Operations performed at the same time keep their recorded order.
func (r *PriorResult) Latest() *Operation {
	if r == nil || len(r.Operations) == 0 {
		return nil
	}
	ops := make([]Operation, len(r.Operations))
	copy(ops, r.Operations)
	sort.SliceStable(ops, func(i, j int) bool {
		return ops[i].PerformedAt.Before(ops[j].PerformedAt)
	})
	return &ops[len(ops)-1]
}

// Failed lists the slots of op marked Fail.
func (op *Operation) Failed() []SlotOutcome {
	if op == nil {
		return nil
	}
	var ret []SlotOutcome
	for _, so := range op.SlotOutcomes {
		if so.Outcome == Fail {
			ret = append(ret, so)
		}
	}
	return ret
}

// ErrorCode classifies lookup failures.
type ErrorCode string

const (
	CodeNotFound     ErrorCode = "NOT_FOUND"
	CodeInvalidInput ErrorCode = "INVALID_INPUT"
	CodeNetwork      ErrorCode = "NETWORK_ERROR"
	CodeInternal     ErrorCode = "INTERNAL_ERROR"
)

// LookupError is returned by Lookup implementations when the prior result
// could not be determined.
type LookupError struct {
	Barcode       string
	OperationType string
	Code          ErrorCode
	Err           error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("%s lookup for %s failed (%s): %v", e.OperationType, e.Barcode, e.Code, e.Err)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the LookupError in err's chain, or
// CodeInternal for any other error.
func CodeOf(err error) ErrorCode {
	var le *LookupError
	if errors.As(err, &le) {
		return le.Code
	}
	return CodeInternal
}

// StaticLookup serves canned results from memory.
type StaticLookup struct {
	mu      sync.Mutex
	results map[string]*PriorResult
	errs    map[string]error
}

var _ Lookup = (*StaticLookup)(nil)

func NewStaticLookup() *StaticLookup {
	return &StaticLookup{
		results: make(map[string]*PriorResult),
		errs:    make(map[string]error),
	}
}

func staticKey(barcode, operationType string) string {
	return operationType + "\x00" + barcode
}

func (s *StaticLookup) Add(operationType string, r *PriorResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[staticKey(r.Barcode, operationType)] = r
}

func (s *StaticLookup) Fail(barcode, operationType string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[staticKey(barcode, operationType)] = err
}

func (s *StaticLookup) FindPriorResult(ctx context.Context, barcode, operationType string) (*PriorResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := staticKey(barcode, operationType)
	if err, ok := s.errs[k]; ok {
		var le *LookupError
		if errors.As(err, &le) {
			return nil, err
		}
		return nil, &LookupError{Barcode: barcode, OperationType: operationType, Code: CodeOf(err), Err: err}
	}
	if r, ok := s.results[k]; ok {
		return r, nil
	}
	return &PriorResult{Barcode: barcode}, nil
}
