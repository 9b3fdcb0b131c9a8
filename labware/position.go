package labware

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Position is a point on the labware footprint, in millimetres from its
// top left corner.
type Position struct {
	X decimal.Decimal
	Y decimal.Decimal
}

func (p Position) String() string {
	return fmt.Sprintf("(%s, %s)", p.X.StringFixed(2), p.Y.StringFixed(2))
}

// Layout places the grid on the footprint: Home is the centre of A1, and
// RowSpace/ColSpace the pitch between neighbouring slots.
type Layout struct {
	Home     Position
	RowSpace decimal.Decimal
	ColSpace decimal.Decimal
}

func NewLayout(homeX, homeY, rowSpace, colSpace string) *Layout {
	return &Layout{
		Home: Position{
			X: decimal.RequireFromString(homeX),
			Y: decimal.RequireFromString(homeY),
		},
		RowSpace: decimal.RequireFromString(rowSpace),
		ColSpace: decimal.RequireFromString(colSpace),
	}
}

// SlotPosition returns the centre of the slot at address. It reports false
// when the type has no layout or the address is not part of the grid.
func (t *LabwareType) SlotPosition(address Address) (Position, bool) {
	if t.Layout == nil || !t.Valid(address) {
		return Position{}, false
	}
	row, col, _ := address.Parse()
	l := t.Layout
	return Position{
		X: l.Home.X.Add(l.ColSpace.Mul(decimal.NewFromInt(int64(col)))),
		Y: l.Home.Y.Add(l.RowSpace.Mul(decimal.NewFromInt(int64(row)))),
	}, true
}
