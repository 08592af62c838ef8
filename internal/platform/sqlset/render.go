package sqlset

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cohort/cohort/internal/platform/dialect"
)

var (
	// ErrAliasCollision means two nodes of one tree share an alias.
	ErrAliasCollision = errors.New("sqlset: alias collision")
	// ErrMissingAlias means a node has an empty alias.
	ErrMissingAlias = errors.New("sqlset: node has no alias")
	// ErrSharedNode means a node appears twice in one tree.
	ErrSharedNode = errors.New("sqlset: node is shared between parents")
	// ErrMissingKeyword means the dialect has no spelling for a keyword.
	ErrMissingKeyword = errors.New("sqlset: dialect is missing keyword")
	// ErrUnknownNode means an expression references a node outside the tree.
	ErrUnknownNode = errors.New("sqlset: reference to node outside the tree")
	// ErrEmptySelect means a Select has no columns.
	ErrEmptySelect = errors.New("sqlset: select has no columns")
	// ErrEmptyCompound means a Compound has no members.
	ErrEmptyCompound = errors.New("sqlset: compound has no members")

	errSlotOutsideScope = errors.New("sqlset: alias slot rendered outside a statement")
)

// Render writes the tree rooted at n as a single line of SQL.
//
// A Select without a source is a programmer error and panics.
func Render(n Node, d dialect.Dialect) (string, error) {
	aliases, err := resolve(n)
	if err != nil {
		return "", err
	}
	r := &renderer{d: d, aliases: aliases, b: &strings.Builder{}}
	r.node(n)
	if r.err != nil {
		return "", r.err
	}
	return r.b.String(), nil
}

// Aliases returns every node alias of the tree in depth-first order, failing
// on the same conditions as Render.
func Aliases(n Node) ([]string, error) {
	var out []string
	seen := make(map[Node]string)
	owner := make(map[string]Node)
	err := walk(n, func(x Node) error {
		if err := claim(x, seen, owner); err != nil {
			return err
		}
		out = append(out, x.Alias())
		return nil
	})
	return out, err
}

func resolve(n Node) (map[Node]string, error) {
	seen := make(map[Node]string)
	owner := make(map[string]Node)
	err := walk(n, func(x Node) error {
		return claim(x, seen, owner)
	})
	return seen, err
}

func claim(x Node, seen map[Node]string, owner map[string]Node) error {
	a := x.Alias()
	if a == "" {
		return ErrMissingAlias
	}
	if _, dup := seen[x]; dup {
		return fmt.Errorf("%w: %s", ErrSharedNode, a)
	}
	if other, taken := owner[a]; taken && other != x {
		return fmt.Errorf("%w: %s", ErrAliasCollision, a)
	}
	seen[x] = a
	owner[a] = x
	return nil
}

func walk(n Node, visit func(Node) error) error {
	if err := visit(n); err != nil {
		return err
	}
	switch x := n.(type) {
	case *Select:
		switch src := x.From.(type) {
		case Derived:
			return walk(src.Node, visit)
		case *JoinChain:
			if err := walk(src.First, visit); err != nil {
				return err
			}
			for _, st := range src.Steps {
				if err := walk(st.Node, visit); err != nil {
					return err
				}
			}
		}
	case *Compound:
		for _, m := range x.Members {
			if err := walk(m.Node, visit); err != nil {
				return err
			}
		}
	}
	return nil
}

type renderer struct {
	d       dialect.Dialect
	aliases map[Node]string
	b       *strings.Builder
	scope   Node
	err     error
}

func (r *renderer) write(parts ...string) {
	for _, p := range parts {
		r.b.WriteString(p)
	}
}

func (r *renderer) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *renderer) kw(k dialect.Keyword) string {
	s, ok := r.d.Keyword(k)
	if !ok {
		r.fail(fmt.Errorf("%w: %s (%s)", ErrMissingKeyword, k, r.d.Name()))
		return ""
	}
	return s
}

func (r *renderer) aliasOf(n Node) string {
	a, ok := r.aliases[n]
	if !ok {
		r.fail(fmt.Errorf("%w: %s", ErrUnknownNode, n.Alias()))
		return ""
	}
	return a
}

// sub renders e into its own string, for dialect functions that wrap text.
func (r *renderer) sub(e Expr) string {
	saved := r.b
	r.b = &strings.Builder{}
	e.writeTo(r)
	out := r.b.String()
	r.b = saved
	return out
}

func (r *renderer) node(n Node) {
	switch x := n.(type) {
	case *Select:
		r.selectStmt(x)
	case *Compound:
		r.compound(x)
	}
}

func (r *renderer) selectStmt(s *Select) {
	if s.From == nil {
		panic(fmt.Sprintf("sqlset: select %q has no source", s.alias))
	}
	if len(s.Columns) == 0 {
		r.fail(fmt.Errorf("%w: %s", ErrEmptySelect, s.alias))
		return
	}

	outer := r.scope
	r.scope = s
	defer func() { r.scope = outer }()

	r.write(r.kw(dialect.KwSelect), " ")
	if s.Distinct {
		r.write(r.kw(dialect.KwDistinct), " ")
	}
	for i, c := range s.Columns {
		if i > 0 {
			r.write(", ")
		}
		c.Expr.writeTo(r)
		if c.As != "" {
			r.write(" ", r.kw(dialect.KwAs), " ", c.As)
		}
	}

	r.write(" ", r.kw(dialect.KwFrom), " ")
	r.source(s)

	if len(s.Where) > 0 {
		r.write(" ", r.kw(dialect.KwWhere), " ")
		r.conjunction(s.Where)
	}
	if len(s.GroupBy) > 0 {
		r.write(" ", r.kw(dialect.KwGroupBy), " ")
		for i, g := range s.GroupBy {
			if i > 0 {
				r.write(", ")
			}
			g.writeTo(r)
		}
	}
	if len(s.Having) > 0 {
		r.write(" ", r.kw(dialect.KwHaving), " ")
		r.conjunction(s.Having)
	}
}

func (r *renderer) source(s *Select) {
	switch src := s.From.(type) {
	case Table:
		src.Text.writeTo(r)
		r.write(" ", r.kw(dialect.KwAs), " ", r.aliasOf(s))
	case RawQuery:
		r.write("(")
		src.Text.writeTo(r)
		r.write(") ", r.kw(dialect.KwAs), " ", r.aliasOf(s))
	case Derived:
		r.derived(src.Node)
	case *JoinChain:
		r.derived(src.First)
		for _, st := range src.Steps {
			jk := dialect.KwInnerJoin
			if st.Type == LeftJoin {
				jk = dialect.KwLeftJoin
			}
			r.write(" ", r.kw(jk), " ")
			r.derived(st.Node)
			if len(st.On) > 0 {
				r.write(" ", r.kw(dialect.KwOn), " ")
				r.conjunction(st.On)
			}
		}
	}
}

func (r *renderer) derived(n Node) {
	r.write("(")
	r.node(n)
	r.write(") ", r.kw(dialect.KwAs), " ", r.aliasOf(n))
}

func (r *renderer) compound(c *Compound) {
	if len(c.Members) == 0 {
		r.fail(fmt.Errorf("%w: %s", ErrEmptyCompound, c.alias))
		return
	}
	for i, m := range c.Members {
		if i > 0 {
			r.write(" ", r.kw(m.Op.keyword()), " ")
		}
		// Multi-member operands keep their own grouping.
		if inner, nested := m.Node.(*Compound); nested && len(c.Members) > 1 && len(inner.Members) > 1 {
			r.write("(")
			r.node(m.Node)
			r.write(")")
			continue
		}
		r.node(m.Node)
	}
}

// conjunction writes preds joined by AND. Raw fragments are parenthesised so
// an OR inside administrator SQL cannot escape its predicate.
func (r *renderer) conjunction(preds []Expr) {
	for i, p := range preds {
		if i > 0 {
			r.write(" ", r.kw(dialect.KwAnd), " ")
		}
		if f, ok := p.(Fragment); ok {
			r.write("(")
			f.writeTo(r)
			r.write(")")
			continue
		}
		p.writeTo(r)
	}
}
