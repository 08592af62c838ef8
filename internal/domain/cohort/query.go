package cohort

import (
	"fmt"

	"github.com/cohort/cohort/internal/platform/dialect"
	"github.com/cohort/cohort/internal/platform/sqlset"
)

// Cohort compiles q to the set of PersonIds admitted by every inclusion panel
// and no exclusion panel.
func (c *Compiler) Cohort(q *Query) (*sqlset.Compound, error) {
	if len(q.Panels) == 0 {
		return nil, ErrEmptyQuery
	}
	var include, exclude []sqlset.Node
	for i := range q.Panels {
		p := &q.Panels[i]
		n, err := c.Panel(p)
		if err != nil {
			return nil, fmt.Errorf("panel %d: %w", p.Index, err)
		}
		if p.IncludePanel {
			include = append(include, n)
		} else {
			exclude = append(exclude, n)
		}
	}
	if len(include) == 0 {
		return nil, ErrNoInclusionPanel
	}
	return setDifference(c.aliases.Query, include, exclude), nil
}

// CohortStatement wraps the cohort in a distinct PersonId projection. The
// PersonId is cast to text so any warehouse key type fits app.cohort.
func (c *Compiler) CohortStatement(q *Query) (*sqlset.Select, error) {
	set, err := c.Cohort(q)
	if err != nil {
		return nil, err
	}
	person := sqlset.Ref{Node: set, Column: ColPersonID}
	return sqlset.NewSelect(sqlset.KindDerived, c.aliases.Query+"C").
		WithSelect(sqlset.Col(sqlset.Convert{Type: dialect.String, Expr: person}, ColPersonID)).
		WithFrom(sqlset.Derived{Node: set}).
		WithGroupBy(person), nil
}

// CountStatement counts the distinct PersonIds of the cohort.
func (c *Compiler) CountStatement(q *Query) (*sqlset.Select, error) {
	set, err := c.Cohort(q)
	if err != nil {
		return nil, err
	}
	return sqlset.NewSelect(sqlset.KindDerived, c.aliases.Query+"N").
		WithSelect(sqlset.Col(sqlset.Count{Distinct: true, Expr: sqlset.Ref{Node: set, Column: ColPersonID}}, ColCount)).
		WithFrom(sqlset.Derived{Node: set}), nil
}

// CohortSQL renders CohortStatement.
func (c *Compiler) CohortSQL(q *Query) (string, error) {
	s, err := c.CohortStatement(q)
	if err != nil {
		return "", err
	}
	return c.Render(s)
}

// CountSQL renders CountStatement.
func (c *Compiler) CountSQL(q *Query) (string, error) {
	s, err := c.CountStatement(q)
	if err != nil {
		return "", err
	}
	return c.Render(s)
}
