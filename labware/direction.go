package labware

import (
	"fmt"

	"github.com/iancoleman/strcase"
)

// Direction linearizes a grid. The first word is the movement between
// consecutive slots, the second the progression once a row or column is
// exhausted: DownRight walks A1, B1, ..., H1, A2, B2, ...
type Direction string

const (
	RightDown Direction = "RightDown"
	DownRight Direction = "DownRight"
	LeftUp    Direction = "LeftUp"
	UpLeft    Direction = "UpLeft"
	RightUp   Direction = "RightUp"
	UpRight   Direction = "UpRight"
	LeftDown  Direction = "LeftDown"
	DownLeft  Direction = "DownLeft"
)

var Directions = []Direction{
	RightDown, DownRight, LeftUp, UpLeft, RightUp, UpRight, LeftDown, DownLeft,
}

func (d Direction) String() string {
	return string(d)
}

func (d Direction) Valid() bool {
	_, ok := sortKeys[d]
	return ok
}

// ParseDirection accepts any casing of a direction name, such as
// "down-right", "down_right" or "DownRight".
func ParseDirection(s string) (Direction, error) {
	d := Direction(strcase.ToCamel(s))
	if !d.Valid() {
		return "", fmt.Errorf("unknown direction %q", s)
	}
	return d, nil
}

// sortKey maps a zero-based grid position to (outer, inner) so that
// lexicographic order of keys is the traversal order.
type sortKey func(row, col int) (int, int)

var sortKeys = map[Direction]sortKey{
	RightDown: func(r, c int) (int, int) { return r, c },
	DownRight: func(r, c int) (int, int) { return c, r },
	LeftUp:    func(r, c int) (int, int) { return -r, -c },
	UpLeft:    func(r, c int) (int, int) { return -c, -r },
	RightUp:   func(r, c int) (int, int) { return -r, c },
	UpRight:   func(r, c int) (int, int) { return c, -r },
	LeftDown:  func(r, c int) (int, int) { return r, -c },
	DownLeft:  func(r, c int) (int, int) { return -c, r },
}

func (d Direction) key() sortKey {
	k, ok := sortKeys[d]
	if !ok {
		panic(fmt.Sprintf("labware: invalid direction %q", string(d)))
	}
	return k
}
