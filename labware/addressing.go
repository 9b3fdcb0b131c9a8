package labware

import (
	"cmp"
	"fmt"
	"slices"
)

// EnumerateAddresses lists every valid address of t in the order of d.
// It panics on an invalid direction or a malformed geometry.
func EnumerateAddresses(t *LabwareType, d Direction) []Address {
	t.check()
	key := d.key()
	ret := make([]Address, 0, t.Rows*t.Columns)
	for row := 0; row < t.Rows; row++ {
		for col := 0; col < t.Columns; col++ {
			a := MakeAddress(row, col)
			if slices.Contains(t.Excluded, a) {
				continue
			}
			ret = append(ret, a)
		}
	}
	slices.SortStableFunc(ret, func(a, b Address) int {
		return compareParsed(key, a, b)
	})
	return ret
}

// SortByDirection returns addrs stably sorted into the order that
// EnumerateAddresses uses for d. Duplicates are kept. It panics on an
// invalid direction or a malformed address.
func SortByDirection(addrs []Address, d Direction) []Address {
	key := d.key()
	ret := slices.Clone(addrs)
	slices.SortStableFunc(ret, func(a, b Address) int {
		return compareParsed(key, a, b)
	})
	return ret
}

// Compare orders two addresses under d, returning -1, 0 or +1.
func Compare(a, b Address, d Direction) int {
	return compareParsed(d.key(), a, b)
}

func compareParsed(key sortKey, a, b Address) int {
	ao, ai := key(mustParse(a))
	bo, bi := key(mustParse(b))
	if c := cmp.Compare(ao, bo); c != 0 {
		return c
	}
	return cmp.Compare(ai, bi)
}

func mustParse(a Address) (int, int) {
	row, col, err := a.Parse()
	if err != nil {
		panic(fmt.Sprintf("labware: %v", err))
	}
	return row, col
}
