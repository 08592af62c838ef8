package cohort

import (
	"fmt"

	"github.com/cohort/cohort/internal/platform/sqlset"
)

// Panel compiles p to a statement yielding the PersonIds it admits.
func (c *Compiler) Panel(p *Panel) (sqlset.Node, error) {
	switch p.Type {
	case PanelSequence:
		return c.Sequence(p)
	case PanelSimple, "":
		return c.simple(p)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownPanelType, p.Type)
}

// simple intersects the inclusion subpanels of p and subtracts the exclusion
// subpanels. A single inclusion subpanel is returned as is.
func (c *Compiler) simple(p *Panel) (sqlset.Node, error) {
	if len(p.SubPanels) == 0 {
		return nil, fmt.Errorf("%w: panel %d", ErrEmptyPanel, p.Index)
	}

	var include, exclude []sqlset.Node
	for i := range p.SubPanels {
		sp := &p.SubPanels[i]
		n, err := c.SubPanel(p, sp)
		if err != nil {
			return nil, err
		}
		if sp.IncludeSubPanel {
			include = append(include, n)
		} else {
			exclude = append(exclude, n)
		}
	}
	if len(include) == 0 {
		return nil, fmt.Errorf("%w: panel %d", ErrNoInclusionSubPanel, p.Index)
	}
	if len(include) == 1 && len(exclude) == 0 {
		return include[0], nil
	}
	return setDifference(panelAlias(c.aliases, p.Index), include, exclude), nil
}

// setDifference is (include[0] INTERSECT include[1] ...) EXCEPT exclude[0] ...
func setDifference(alias string, include, exclude []sqlset.Node) *sqlset.Compound {
	out := sqlset.NewCompound(alias)
	for _, n := range include {
		out.Add(sqlset.Intersect, n)
	}
	for _, n := range exclude {
		out.Add(sqlset.Except, n)
	}
	return out
}
