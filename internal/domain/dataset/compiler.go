package dataset

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/cohort/cohort/internal/domain/cohort"
	"github.com/cohort/cohort/internal/platform/dialect"
	"github.com/cohort/cohort/internal/platform/sqlset"
)

var (
	ErrInvalidRequest = errors.New("invalid dataset request")
	ErrInvalidColumn  = errors.New("invalid dataset column")
)

var columnName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Compiler joins dataset statements to a cached cohort.
type Compiler struct {
	cohort    *cohort.Compiler
	validator *cohort.Validator
	aliases   dialect.AliasPrefixes
}

func NewCompiler(c *cohort.Compiler) *Compiler {
	return &Compiler{cohort: c, validator: cohort.NewValidator(), aliases: c.Dialect().Aliases()}
}

// CachedCohort selects the exported members of the saved query bound to
// cohort.QueryIDParam.
func (c *Compiler) CachedCohort() *sqlset.Select {
	opts := c.cohort.Options()
	return sqlset.NewSelect(sqlset.KindCachedCohort, c.aliases.Cohort).
		WithSelect(
			sqlset.Col(sqlset.Qualified{Column: cohort.ColPersonID}, ""),
			sqlset.Col(sqlset.Qualified{Column: cohort.ColSalt}, ""),
		).
		WithFrom(sqlset.Table{Text: sqlset.Raw(opts.CohortTableName())}).
		WithWhere(
			sqlset.Compare{Left: sqlset.Qualified{Column: cohort.ColQueryID}, Op: sqlset.Eq, Right: sqlset.Param{Name: cohort.QueryIDParam}},
			sqlset.Compare{Left: sqlset.Qualified{Column: cohort.ColExported}, Op: sqlset.Eq, Right: sqlset.Bool(true)},
		)
}

// Concept selects the rows of pi's concept for the cohort members.
func (c *Compiler) Concept(pi *cohort.PanelItem, window *cohort.DateFilter) (*sqlset.Select, error) {
	if err := c.validator.ValidateItem(pi); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	data, err := c.cohort.ConceptRows(c.aliases.Dataset, pi, window)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	cols := make([]string, len(data.Columns))
	for i, col := range data.Columns {
		cols[i] = col.As
	}
	return c.join(data, cols), nil
}

// Shaped wraps administrator dataset SQL as a derived table and selects its
// rows for the cohort members.
func (c *Compiler) Shaped(q *Query, window *cohort.DateFilter) (*sqlset.Select, error) {
	if err := c.validateShaped(q); err != nil {
		return nil, err
	}
	placeholder := c.cohort.Options().AliasPlaceholder

	data := sqlset.NewSelect(sqlset.KindDerived, c.aliases.Dataset).
		WithFrom(sqlset.RawQuery{Text: sqlset.ParseFragment(q.SQLStatement, placeholder)})
	cols := []string{cohort.ColPersonID}
	data.WithSelect(sqlset.Col(sqlset.Qualified{Column: cohort.ColPersonID}, cohort.ColPersonID))
	for _, col := range q.Columns {
		if col == cohort.ColPersonID {
			continue
		}
		data.WithSelect(sqlset.Col(sqlset.Qualified{Column: col}, col))
		cols = append(cols, col)
	}

	if window != nil && q.IsEncounterBased {
		pred, err := cohort.DateWindow(sqlset.ParseFragment(q.SQLFieldDate, placeholder), window)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		data.WithWhere(pred)
	}
	return c.join(data, cols), nil
}

func (c *Compiler) validateShaped(q *Query) error {
	var errs []error
	if q.SQLStatement == "" {
		errs = append(errs, fmt.Errorf("%w: sql_statement", cohort.ErrMissingConceptField))
	}
	if q.IsEncounterBased && q.SQLFieldDate == "" {
		errs = append(errs, fmt.Errorf("%w: sql_field_date", cohort.ErrMissingConceptField))
	}
	for _, text := range []string{q.SQLStatement, q.SQLFieldDate} {
		if err := cohort.ValidateConceptSQL(text); err != nil {
			errs = append(errs, err)
		}
	}
	for _, col := range q.Columns {
		if !columnName.MatchString(col) {
			errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidColumn, col))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return nil
}

// join puts the cached cohort first in the From chain and projects cols of
// data, with identifiers converted to text and the member salt appended.
func (c *Compiler) join(data *sqlset.Select, cols []string) *sqlset.Select {
	cached := c.CachedCohort()
	chain := (&sqlset.JoinChain{First: cached}).Join(sqlset.InnerJoin, data,
		sqlset.Compare{
			Left:  sqlset.Ref{Node: cached, Column: cohort.ColPersonID},
			Op:    sqlset.Eq,
			Right: sqlset.Convert{Type: dialect.String, Expr: sqlset.Ref{Node: data, Column: cohort.ColPersonID}},
		})

	out := sqlset.NewSelect(sqlset.KindJoin, c.aliases.Dataset+"S").WithFrom(chain)
	for _, col := range cols {
		var e sqlset.Expr = sqlset.Ref{Node: data, Column: col}
		if col == cohort.ColPersonID || col == cohort.ColEncounterID {
			e = sqlset.Convert{Type: dialect.String, Expr: e}
		}
		out.WithSelect(sqlset.Col(e, col))
	}
	out.WithSelect(sqlset.Col(sqlset.Ref{Node: cached, Column: cohort.ColSalt}, cohort.ColSalt))
	return out
}

// Compile renders the statement selected by req.
func (c *Compiler) Compile(req *Request) (*Statement, error) {
	var (
		s   *sqlset.Select
		err error
	)
	switch {
	case req.Concept != nil && req.Dataset != nil:
		return nil, fmt.Errorf("%w: concept and dataset are mutually exclusive", ErrInvalidRequest)
	case req.Concept != nil:
		s, err = c.Concept(req.Concept, req.Window)
	case req.Dataset != nil:
		s, err = c.Shaped(req.Dataset, req.Window)
	default:
		return nil, fmt.Errorf("%w: one of concept or dataset is required", ErrInvalidRequest)
	}
	if err != nil {
		return nil, err
	}
	sql, err := c.cohort.Render(s)
	if err != nil {
		return nil, err
	}
	cols := make([]string, len(s.Columns))
	for i, col := range s.Columns {
		cols[i] = col.As
	}
	return &Statement{SQL: sql, Columns: cols}, nil
}
