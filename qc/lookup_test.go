package qc_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slotmap/qc"
)

func TestParseOutcome(t *testing.T) {
	for in, want := range map[string]qc.Outcome{"pass": qc.Pass, "PASS": qc.Pass, "Fail": qc.Fail, "fAiL": qc.Fail} {
		got, err := qc.ParseOutcome(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := qc.ParseOutcome("unsure")
	assert.Error(t, err)
}

func TestLatestPicksLastPerformed(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2024, 3, d, 9, 0, 0, 0, time.UTC) }
	r := &qc.PriorResult{Operations: []qc.Operation{
		{ID: 1, PerformedAt: day(3)},
		{ID: 2, PerformedAt: day(1)},
		{ID: 3, PerformedAt: day(3)},
		{ID: 4, PerformedAt: day(2)},
	}}
	assert.Equal(t, 3, r.Latest().ID, "ties keep recorded order")
	assert.Equal(t, 1, r.Operations[0].ID, "operations must not be reordered")

	assert.Nil(t, (&qc.PriorResult{}).Latest())
	assert.Nil(t, (*qc.PriorResult)(nil).Latest())
	assert.Nil(t, (*qc.Operation)(nil).Failed())
}

func TestStaticLookup(t *testing.T) {
	s := qc.NewStaticLookup()
	s.Add("Stain QC", &qc.PriorResult{Barcode: "STAN-1", Operations: []qc.Operation{{ID: 1}}})
	s.Fail("STAN-2", "Stain QC", &qc.LookupError{Code: qc.CodeNotFound, Err: errors.New("no such labware")})

	r, err := s.FindPriorResult(context.Background(), "STAN-1", "Stain QC")
	require.NoError(t, err)
	assert.Len(t, r.Operations, 1)

	r, err = s.FindPriorResult(context.Background(), "STAN-1", "Other QC")
	require.NoError(t, err)
	assert.Empty(t, r.Operations)

	_, err = s.FindPriorResult(context.Background(), "STAN-2", "Stain QC")
	assert.Equal(t, qc.CodeNotFound, qc.CodeOf(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.FindPriorResult(ctx, "STAN-1", "Stain QC")
	assert.ErrorIs(t, err, context.Canceled)
}
