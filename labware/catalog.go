package labware

import (
	"fmt"
	"sort"

	"github.com/iancoleman/strcase"
)

// Catalog holds the labware types known to a session, keyed by their
// kebab-cased name so that "96 Well Plate" and "96-well-plate" agree.
type Catalog struct {
	types map[string]*LabwareType
}

func NewCatalog(types ...*LabwareType) *Catalog {
	c := &Catalog{types: make(map[string]*LabwareType, len(types))}
	for _, t := range types {
		c.Add(t)
	}
	return c
}

func catalogKey(name string) string {
	return strcase.ToKebab(name)
}

// Add registers t, replacing any type of the same name.
func (c *Catalog) Add(t *LabwareType) {
	t.check()
	c.types[catalogKey(t.Name)] = t
}

func (c *Catalog) Lookup(name string) (*LabwareType, error) {
	t, ok := c.types[catalogKey(name)]
	if !ok {
		return nil, fmt.Errorf("unknown labware type %q", name)
	}
	return t, nil
}

// Names lists the catalog keys in sorted order.
func (c *Catalog) Names() []string {
	ret := make([]string, 0, len(c.types))
	for k := range c.types {
		ret = append(ret, k)
	}
	sort.Strings(ret)
	return ret
}

func DefaultCatalog() *Catalog {
	return NewCatalog(
		NewLabwareType("Tube", 1, 1),
		NewLabwareType("Proviasette", 1, 1),
		NewLabwareType("Slide", 3, 1),
		NewLabwareType("Visium LP", 4, 1),
		NewLabwareType("Visium ADH", 4, 2, "B1", "C1", "B2", "C2"),
		NewLabwareType("96 Well Plate", 8, 12).
			WithLayout(NewLayout("14.38", "11.24", "9", "9")),
		NewLabwareType("384 Well Plate", 16, 24).
			WithLayout(NewLayout("12.13", "8.99", "4.5", "4.5")),
	)
}
