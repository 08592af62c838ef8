// Package sqlset models SELECT statements as a tree of nodes and renders the
// tree to dialect-specific SQL text.
//
// A tree is built with symbolic references (alias slots in raw fragments, Ref
// expressions pointing at other nodes, named Params) and rendered in one pass:
// Render first resolves every node alias, rejecting collisions, then writes the
// text with the dialect's keywords, expressions and placeholders. Nothing is
// substituted by searching rendered text.
package sqlset

import "github.com/cohort/cohort/internal/platform/dialect"

// Node is a renderable statement: a *Select or a *Compound.
type Node interface {
	Alias() string
	Render(d dialect.Dialect) (string, error)
	node()
}

// Kind tags the shape of a Select.
type Kind int

const (
	// KindLeaf selects from a raw table fragment.
	KindLeaf Kind = iota
	// KindDerived selects from a nested statement.
	KindDerived
	// KindJoin selects from a chain of joined statements.
	KindJoin
	// KindCachedCohort selects from a persisted cohort table.
	KindCachedCohort
)

func (k Kind) String() string {
	switch k {
	case KindLeaf:
		return "leaf"
	case KindDerived:
		return "derived"
	case KindJoin:
		return "join"
	case KindCachedCohort:
		return "cached-cohort"
	}
	return "unknown"
}

// Column is one entry of a select list.
type Column struct {
	Expr Expr
	As   string
}

// Col is shorthand for an aliased select-list entry.
func Col(e Expr, as string) Column { return Column{Expr: e, As: as} }

// Select is a single SELECT statement.
type Select struct {
	Kind     Kind
	Distinct bool
	Columns  []Column
	From     Source
	Where    []Expr
	GroupBy  []Expr
	Having   []Expr

	alias string
}

// NewSelect returns an empty statement of the given kind and alias.
func NewSelect(kind Kind, alias string) *Select {
	return &Select{Kind: kind, alias: alias}
}

func (s *Select) Alias() string { return s.alias }
func (s *Select) node()         {}

func (s *Select) Render(d dialect.Dialect) (string, error) { return Render(s, d) }

// WithSelect appends select-list entries.
func (s *Select) WithSelect(cols ...Column) *Select {
	s.Columns = append(s.Columns[:len(s.Columns):len(s.Columns)], cols...)
	return s
}

// WithFrom sets the source.
func (s *Select) WithFrom(src Source) *Select {
	s.From = src
	return s
}

// WithWhere appends predicates; all predicates are AND-ed.
func (s *Select) WithWhere(preds ...Expr) *Select {
	s.Where = append(s.Where[:len(s.Where):len(s.Where)], preds...)
	return s
}

// WithGroupBy appends grouping expressions.
func (s *Select) WithGroupBy(exprs ...Expr) *Select {
	s.GroupBy = append(s.GroupBy[:len(s.GroupBy):len(s.GroupBy)], exprs...)
	return s
}

// WithHaving appends aggregate predicates; all are AND-ed.
func (s *Select) WithHaving(preds ...Expr) *Select {
	s.Having = append(s.Having[:len(s.Having):len(s.Having)], preds...)
	return s
}

// SetOp combines a compound member with the members before it.
type SetOp int

const (
	UnionAll SetOp = iota
	Intersect
	Except
)

func (op SetOp) keyword() dialect.Keyword {
	switch op {
	case Intersect:
		return dialect.KwIntersect
	case Except:
		return dialect.KwExcept
	default:
		return dialect.KwUnionAll
	}
}

// Member is one operand of a Compound. Op is ignored for the first member.
type Member struct {
	Op   SetOp
	Node Node
}

// Compound is a chain of statements joined by set operators.
type Compound struct {
	Members []Member

	alias string
}

// NewCompound returns an empty compound with the given alias.
func NewCompound(alias string) *Compound {
	return &Compound{alias: alias}
}

func (c *Compound) Alias() string { return c.alias }
func (c *Compound) node()         {}

func (c *Compound) Render(d dialect.Dialect) (string, error) { return Render(c, d) }

// Add appends a member joined by op.
func (c *Compound) Add(op SetOp, n Node) *Compound {
	c.Members = append(c.Members, Member{Op: op, Node: n})
	return c
}

// Source is what a Select reads from.
type Source interface{ source() }

// Table is a raw FROM fragment, aliased by the owning Select.
type Table struct {
	Text Fragment
}

// Derived nests a statement as a subquery aliased by the nested node.
type Derived struct {
	Node Node
}

// RawQuery nests raw statement text as a subquery aliased by the owning Select.
type RawQuery struct {
	Text Fragment
}

// JoinType selects the join keyword of a JoinStep.
type JoinType int

const (
	InnerJoin JoinType = iota
	LeftJoin
)

func (t JoinType) String() string {
	if t == LeftJoin {
		return "LEFT"
	}
	return "INNER"
}

// JoinStep joins Node to the chain on the AND of On.
type JoinStep struct {
	Type JoinType
	Node Node
	On   []Expr
}

// JoinChain is a first statement followed by joined statements.
type JoinChain struct {
	First Node
	Steps []JoinStep
}

// Join appends a step.
func (j *JoinChain) Join(t JoinType, n Node, on ...Expr) *JoinChain {
	j.Steps = append(j.Steps, JoinStep{Type: t, Node: n, On: on})
	return j
}

func (Table) source()      {}
func (Derived) source()    {}
func (RawQuery) source()   {}
func (*JoinChain) source() {}
