// Package color hands out palette colors so that every source labware in a
// mapping session gets a stable visual identity.
package color

// ID names a palette color the way the grid view understands it.
type ID string

var DefaultPalette = []ID{
	"red", "green", "indigo", "pink", "blue", "purple", "orange", "teal",
}

// Cycle yields palette colors round robin, forever. A Cycle is owned by a
// single mapping session and is not safe for concurrent use.
type Cycle struct {
	palette []ID
	next    int
}

// NewCycle returns a cycle over palette, or over DefaultPalette when
// palette is empty.
func NewCycle(palette ...ID) *Cycle {
	if len(palette) == 0 {
		palette = DefaultPalette
	}
	p := make([]ID, len(palette))
	copy(p, palette)
	return &Cycle{palette: p}
}

func (c *Cycle) Next() ID {
	id := c.palette[c.next]
	c.next = (c.next + 1) % len(c.palette)
	return id
}

func (c *Cycle) Len() int {
	return len(c.palette)
}
