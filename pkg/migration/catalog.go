package migration

import (
	"context"
	"sort"
)

// Catalog is the ordered, range-filtered list of definitions for one run.
type Catalog struct {
	defs       []Definition
	selection  *Range
	duplicates map[int64][]string
}

// BuildCatalog turns raw entries into definitions sorted by sequence number
// (ties broken by name) and keeps only those inside rng. Entries whose names
// carry no sequence number are dropped. A nil rng selects everything.
func BuildCatalog(entries []Entry, rng *Range) *Catalog {
	defs := make([]Definition, 0, len(entries))
	for _, e := range entries {
		def, ok := NewDefinition(e.Name, e.Body)
		if !ok || !rng.Contains(def.Sequence) {
			continue
		}
		defs = append(defs, def)
	}

	sort.SliceStable(defs, func(i, j int) bool {
		if defs[i].Sequence != defs[j].Sequence {
			return defs[i].Sequence < defs[j].Sequence
		}
		return defs[i].Name < defs[j].Name
	})

	c := &Catalog{defs: defs, selection: rng}
	for i := 1; i < len(defs); i++ {
		if defs[i].Sequence != defs[i-1].Sequence {
			continue
		}
		if c.duplicates == nil {
			c.duplicates = make(map[int64][]string)
		}
		seq := defs[i].Sequence
		if len(c.duplicates[seq]) == 0 {
			c.duplicates[seq] = append(c.duplicates[seq], defs[i-1].Name)
		}
		c.duplicates[seq] = append(c.duplicates[seq], defs[i].Name)
	}
	return c
}

// Definitions returns the ordered definitions. The slice is a copy.
func (c *Catalog) Definitions() []Definition {
	out := make([]Definition, len(c.defs))
	copy(out, c.defs)
	return out
}

// Len returns the number of selected definitions.
func (c *Catalog) Len() int {
	return len(c.defs)
}

// Selection returns the range the catalog was filtered with, nil for all.
func (c *Catalog) Selection() *Range {
	return c.selection
}

// Duplicates maps each sequence number shared by more than one definition to
// the names sharing it, in application order. Nil when all are distinct.
func (c *Catalog) Duplicates() map[int64][]string {
	return c.duplicates
}

// LoadCatalog reads src and builds the catalog for rng in one step.
func LoadCatalog(ctx context.Context, src *Source, rng *Range) (*Catalog, error) {
	entries, err := src.Entries(ctx)
	if err != nil {
		return nil, err
	}
	return BuildCatalog(entries, rng), nil
}
