package cohort

import (
	"fmt"

	"github.com/cohort/cohort/internal/platform/sqlset"
)

// SubPanel compiles sp as the UNION ALL of its items, each projecting
// PersonId only.
func (c *Compiler) SubPanel(p *Panel, sp *SubPanel) (*sqlset.Compound, error) {
	return c.union(subPanelAlias(c.aliases, p.Index, sp.Index), p, sp, c.items(personProjection, false))
}

// SequentialSubPanel compiles sp as one step of a sequence: the UNION ALL of
// its items projecting PersonId, EncounterId and Date (and EventId when
// withEvent is set), without grouping.
func (c *Compiler) SequentialSubPanel(p *Panel, sp *SubPanel, withEvent bool) (*sqlset.Compound, error) {
	return c.union(sequenceAlias(c.aliases, p.Index, sp.Index), p, sp, c.items(eventProjection, withEvent))
}

func (c *Compiler) union(alias string, p *Panel, sp *SubPanel, ic *itemCompiler) (*sqlset.Compound, error) {
	if len(sp.PanelItems) == 0 {
		return nil, fmt.Errorf("%w: panel %d subpanel %d", ErrEmptySubPanel, p.Index, sp.Index)
	}
	scope := scopeOf(p, sp)
	u := sqlset.NewCompound(alias)
	for i := range sp.PanelItems {
		pi := &sp.PanelItems[i]
		s, err := ic.compile(itemAlias(c.aliases, p.Index, sp.Index, pi.Index), pi, scope)
		if err != nil {
			return nil, fmt.Errorf("panel %d subpanel %d item %d: %w", p.Index, sp.Index, pi.Index, err)
		}
		u.Add(sqlset.UnionAll, s)
	}
	return u, nil
}
