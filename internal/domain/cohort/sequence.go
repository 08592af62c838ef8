package cohort

import (
	"fmt"

	"github.com/cohort/cohort/internal/platform/sqlset"
)

// sequenceState is the accumulator of the fold over a sequence's subpanels.
type sequenceState struct {
	first  sqlset.Node
	anchor sqlset.Node
	chain  *sqlset.JoinChain
	having []sqlset.Expr
}

// Sequence compiles a sequence panel into a join of its subpanels. Each
// subpanel after the first is joined to the current anchor under its
// JoinSequence. Inclusion steps are inner joins and become the new anchor;
// exclusion steps are left joins whose absence is asserted in HAVING and
// leave the anchor where it was.
func (c *Compiler) Sequence(p *Panel) (*sqlset.Select, error) {
	if len(p.SubPanels) == 0 {
		return nil, fmt.Errorf("%w: panel %d", ErrEmptyPanel, p.Index)
	}
	head := &p.SubPanels[0]
	if !head.IncludeSubPanel {
		return nil, fmt.Errorf("%w: panel %d", ErrExcludedAnchor, p.Index)
	}

	withEvent := p.MatchesEvents()

	j0, err := c.SequentialSubPanel(p, head, withEvent)
	if err != nil {
		return nil, err
	}
	st := &sequenceState{first: j0, anchor: j0, chain: &sqlset.JoinChain{First: j0}}
	if head.CountFilter != nil {
		st.having = append(st.having, atLeast(j0, head.CountFilter.MinimumCount))
	}

	for i := 1; i < len(p.SubPanels); i++ {
		sp := &p.SubPanels[i]
		if err := c.step(st, p, sp, withEvent); err != nil {
			return nil, err
		}
	}

	person := sqlset.Ref{Node: st.first, Column: ColPersonID}
	return sqlset.NewSelect(sqlset.KindJoin, panelAlias(c.aliases, p.Index)).
		WithSelect(sqlset.Col(person, ColPersonID)).
		WithFrom(st.chain).
		WithGroupBy(person).
		WithHaving(st.having...), nil
}

func (c *Compiler) step(st *sequenceState, p *Panel, sp *SubPanel, withEvent bool) error {
	if sp.JoinSequence == nil {
		return fmt.Errorf("%w: panel %d subpanel %d", ErrMissingJoinSequence, p.Index, sp.Index)
	}
	curr, err := c.SequentialSubPanel(p, sp, withEvent)
	if err != nil {
		return err
	}
	on, err := joinPredicates(st.anchor, curr, sp.JoinSequence)
	if err != nil {
		return fmt.Errorf("panel %d subpanel %d: %w", p.Index, sp.Index, err)
	}

	if sp.IncludeSubPanel {
		st.chain.Join(sqlset.InnerJoin, curr, on...)
		if sp.CountFilter != nil {
			st.having = append(st.having, atLeast(curr, sp.CountFilter.MinimumCount))
		}
		st.anchor = curr
		return nil
	}

	st.chain.Join(sqlset.LeftJoin, curr, on...)
	if sp.CountFilter != nil {
		st.having = append(st.having, countDates(curr, sqlset.Lt, sp.CountFilter.MinimumCount))
	} else {
		st.having = append(st.having, countDates(curr, sqlset.Eq, 0))
	}
	return nil
}

func countDates(n sqlset.Node, op string, v int) sqlset.Expr {
	return sqlset.Compare{
		Left:  sqlset.Count{Distinct: true, Expr: sqlset.Ref{Node: n, Column: ColDate}},
		Op:    op,
		Right: sqlset.Int(v),
	}
}

func atLeast(n sqlset.Node, v int) sqlset.Expr { return countDates(n, sqlset.Gte, v) }

// joinPredicates relates curr to anchor under js.
func joinPredicates(anchor, curr sqlset.Node, js *JoinSequence) ([]sqlset.Expr, error) {
	ref := func(n sqlset.Node, col string) sqlset.Ref { return sqlset.Ref{Node: n, Column: col} }
	samePerson := sqlset.Compare{Left: ref(anchor, ColPersonID), Op: sqlset.Eq, Right: ref(curr, ColPersonID)}
	anchorDate, currDate := ref(anchor, ColDate), ref(curr, ColDate)

	switch js.SequenceType {
	case SequenceEncounter:
		return []sqlset.Expr{
			sqlset.Compare{Left: ref(anchor, ColEncounterID), Op: sqlset.Eq, Right: ref(curr, ColEncounterID)},
		}, nil
	case SequenceEvent:
		return []sqlset.Expr{
			samePerson,
			sqlset.Compare{Left: ref(anchor, ColEventID), Op: sqlset.Eq, Right: ref(curr, ColEventID)},
		}, nil
	case SequencePlusMinus, SequenceWithinFollowing:
		unit, ok := unitOf(js.DateIncrementType)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownDateIncrement, js.DateIncrementType)
		}
		if js.Increment <= 0 {
			return nil, fmt.Errorf("%w: %d", ErrInvalidIncrement, js.Increment)
		}
		low := sqlset.Expr(anchorDate)
		if js.SequenceType == SequencePlusMinus {
			low = sqlset.DateAdd{Unit: unit, Amount: -js.Increment, Expr: anchorDate}
		}
		return []sqlset.Expr{
			samePerson,
			sqlset.Between{
				Expr: currDate,
				Low:  low,
				High: sqlset.DateAdd{Unit: unit, Amount: js.Increment, Expr: anchorDate},
			},
		}, nil
	case SequenceAnytimeFollowing:
		return []sqlset.Expr{
			samePerson,
			sqlset.Compare{Left: currDate, Op: sqlset.Gt, Right: anchorDate},
		}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSequenceType, js.SequenceType)
}
