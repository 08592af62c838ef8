package cohort

import (
	"fmt"

	"github.com/cohort/cohort/internal/platform/dialect"
	"github.com/cohort/cohort/internal/platform/sqlset"
)

// projection selects the column set of a compiled panel item.
type projection int

const (
	// personProjection emits PersonId only and groups encounter-based
	// concepts, so items of a subpanel union collapse to one row per person.
	personProjection projection = iota
	// eventProjection emits PersonId, EncounterId and Date, plus EventId when
	// the enclosing sequence matches on events. No grouping is applied.
	eventProjection
	// rowProjection emits every available column of the concept for dataset
	// extraction. No grouping is applied.
	rowProjection
)

// itemCompiler turns one panel item into a leaf Select over its concept.
type itemCompiler struct {
	opts    Options
	aliases dialect.AliasPrefixes
	proj    projection
	// withEvent projects EventId under eventProjection.
	withEvent bool
}

// itemScope is the panel context an item is compiled in.
type itemScope struct {
	window      *DateFilter
	lookback    bool
	countFilter *CountFilter
}

func scopeOf(p *Panel, sp *SubPanel) itemScope {
	s := itemScope{countFilter: sp.CountFilter}
	if p.DateFilter != nil {
		s.window = p.DateFilter
		s.lookback = p.IsSequence() && len(p.SubPanels) > 0 && sp.Index != p.SubPanels[0].Index
	}
	return s
}

func (c *itemCompiler) fragment(text string) sqlset.Fragment {
	return sqlset.ParseFragment(text, c.opts.AliasPlaceholder)
}

func (c *itemCompiler) compile(alias string, pi *PanelItem, scope itemScope) (*sqlset.Select, error) {
	concept := &pi.Concept
	if c.fragment(concept.SQLSetFrom).IsEmpty() {
		return nil, fmt.Errorf("%w: concept %s has no sql_set_from", ErrMissingConceptField, concept.ID)
	}
	if concept.IsEncounterBased && c.fragment(concept.SQLFieldDate).IsEmpty() {
		return nil, fmt.Errorf("%w: encounter-based concept %s has no sql_field_date", ErrMissingConceptField, concept.ID)
	}

	s := sqlset.NewSelect(sqlset.KindLeaf, alias).
		WithFrom(sqlset.Table{Text: c.fragment(concept.SQLSetFrom)})

	if err := c.columns(s, concept); err != nil {
		return nil, err
	}
	if err := c.predicates(s, pi, scope); err != nil {
		return nil, err
	}
	if c.proj == personProjection {
		if err := c.grouping(s, concept, scope.countFilter); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (c *itemCompiler) columns(s *sqlset.Select, concept *Concept) error {
	s.WithSelect(sqlset.Col(sqlset.Qualified{Column: c.opts.FieldPersonID}, ColPersonID))

	switch c.proj {
	case personProjection:
		return nil
	case eventProjection:
		if !concept.IsEncounterBased {
			return fmt.Errorf("%w: concept %s", ErrSequenceNeedsEncounter, concept.ID)
		}
		s.WithSelect(
			sqlset.Col(sqlset.Qualified{Column: c.opts.FieldEncounterID}, ColEncounterID),
			sqlset.Col(c.fragment(concept.SQLFieldDate), ColDate),
		)
		if c.withEvent {
			if !concept.IsEventBased || c.fragment(concept.SQLFieldEvent).IsEmpty() {
				return fmt.Errorf("%w: concept %s", ErrEventFieldRequired, concept.ID)
			}
			s.WithSelect(sqlset.Col(c.fragment(concept.SQLFieldEvent), ColEventID))
		}
	case rowProjection:
		if concept.IsEncounterBased {
			s.WithSelect(
				sqlset.Col(sqlset.Qualified{Column: c.opts.FieldEncounterID}, ColEncounterID),
				sqlset.Col(c.fragment(concept.SQLFieldDate), ColDate),
			)
		}
		if concept.IsEventBased && !c.fragment(concept.SQLFieldEvent).IsEmpty() {
			s.WithSelect(sqlset.Col(c.fragment(concept.SQLFieldEvent), ColEventID))
		}
		if concept.IsNumeric && !c.fragment(concept.SQLFieldNumeric).IsEmpty() {
			s.WithSelect(sqlset.Col(c.fragment(concept.SQLFieldNumeric), ColNumeric))
		}
	}
	return nil
}

// predicates appends the concept where clause, the date window, the
// specializations and the numeric filter, in that order.
func (c *itemCompiler) predicates(s *sqlset.Select, pi *PanelItem, scope itemScope) error {
	concept := &pi.Concept

	if where := c.fragment(concept.SQLSetWhere); !where.IsEmpty() {
		s.WithWhere(where)
	}

	if scope.window != nil && concept.IsEncounterBased {
		pred, err := dateWindow(c.fragment(concept.SQLFieldDate), scope.window, scope.lookback)
		if err != nil {
			return err
		}
		s.WithWhere(pred)
	}

	for _, spec := range pi.Specializations {
		if f := c.fragment(spec.SQLSetWhere); !f.IsEmpty() {
			s.WithWhere(f)
		}
	}

	if pi.NumericFilter != nil {
		pred, err := c.numeric(concept, pi.NumericFilter)
		if err != nil {
			return err
		}
		s.WithWhere(pred)
	}
	return nil
}

func (c *itemCompiler) numeric(concept *Concept, nf *NumericFilter) (sqlset.Expr, error) {
	if !concept.IsNumeric {
		return nil, fmt.Errorf("%w: concept %s is not numeric", ErrInvalidNumericFilter, concept.ID)
	}
	field := c.fragment(concept.SQLFieldNumeric)
	if field.IsEmpty() {
		return nil, fmt.Errorf("%w: concept %s has no sql_field_numeric", ErrMissingConceptField, concept.ID)
	}

	want := 1
	if nf.Op == NumericBetween {
		want = 2
	}
	if len(nf.Values) != want {
		return nil, fmt.Errorf("%w: %s takes %d value(s), got %d", ErrInvalidNumericFilter, nf.Op, want, len(nf.Values))
	}

	var op string
	switch nf.Op {
	case NumericGT:
		op = sqlset.Gt
	case NumericGTE:
		op = sqlset.Gte
	case NumericLT:
		op = sqlset.Lt
	case NumericLTE:
		op = sqlset.Lte
	case NumericEQ:
		op = sqlset.Eq
	case NumericBetween:
		return sqlset.Between{
			Expr: field,
			Low:  sqlset.Number(nf.Values[0]),
			High: sqlset.Number(nf.Values[1]),
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown operator %q", ErrInvalidNumericFilter, nf.Op)
	}
	return sqlset.Compare{Left: field, Op: op, Right: sqlset.Number(nf.Values[0])}, nil
}

func (c *itemCompiler) grouping(s *sqlset.Select, concept *Concept, cf *CountFilter) error {
	if cf != nil && !concept.IsEncounterBased {
		return fmt.Errorf("%w: concept %s", ErrCountFilterNeedsDate, concept.ID)
	}
	if !concept.IsEncounterBased {
		return nil
	}
	s.WithGroupBy(sqlset.Qualified{Column: c.opts.FieldPersonID})
	if cf != nil {
		s.WithHaving(sqlset.Compare{
			Left:  sqlset.Count{Distinct: true, Expr: c.fragment(concept.SQLFieldDate)},
			Op:    sqlset.Gte,
			Right: sqlset.Int(cf.MinimumCount),
		})
	}
	return nil
}
