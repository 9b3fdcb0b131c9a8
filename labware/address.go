package labware

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Address identifies one grid position, a row label followed by a 1-based
// column number, e.g. "A1" or "H12". Rows past Z continue as AA, AB, ...
type Address string

// MakeAddress builds the address of the zero-based row and column.
func MakeAddress(row, col int) Address {
	if row < 0 || col < 0 {
		panic(fmt.Sprintf("labware: negative grid position (%d, %d)", row, col))
	}
	var label []byte
	for n := row + 1; n > 0; n = (n - 1) / 26 {
		label = append([]byte{byte('A' + (n-1)%26)}, label...)
	}
	return Address(string(label) + strconv.Itoa(col+1))
}

// Parse splits the address into its zero-based row and column.
func (a Address) Parse() (row, col int, err error) {
	s := string(a)
	i := strings.IndexFunc(s, func(r rune) bool { return r < 'A' || r > 'Z' })
	if i <= 0 {
		return 0, 0, fmt.Errorf("malformed address %q", s)
	}
	for _, r := range s[:i] {
		if row > (math.MaxInt-26)/26 {
			return 0, 0, fmt.Errorf("malformed address %q: row out of range", s)
		}
		row = row*26 + int(r-'A') + 1
	}
	digits := s[i:]
	if digits == "" || digits[0] == '0' || strings.TrimLeft(digits, "0123456789") != "" {
		return 0, 0, fmt.Errorf("malformed address %q", s)
	}
	col, err = strconv.Atoi(digits)
	if err != nil || col < 1 {
		return 0, 0, fmt.Errorf("malformed address %q", s)
	}
	return row - 1, col - 1, nil
}

func (a Address) String() string {
	return string(a)
}

// Addresses converts plain strings into addresses.
func Addresses(ss ...string) []Address {
	ret := make([]Address, len(ss))
	for i, s := range ss {
		ret[i] = Address(s)
	}
	return ret
}
