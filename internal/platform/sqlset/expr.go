package sqlset

import (
	"strconv"
	"time"

	"github.com/cohort/cohort/internal/platform/dialect"
)

// Expr is a scalar or boolean SQL expression.
type Expr interface {
	writeTo(r *renderer)
}

// Qualified is a column of the statement currently being rendered.
type Qualified struct {
	Column string
}

// Ref is a column of another node in the same tree.
type Ref struct {
	Node   Node
	Column string
}

// Param is a named bound parameter.
type Param struct {
	Name string
}

// Number is a numeric literal formatted by the compiler.
type Number float64

// Int is an integer literal.
type Int int

// Bool is a boolean literal in the dialect's spelling.
type Bool bool

// Timestamp is a timestamp literal in the dialect's spelling.
type Timestamp struct {
	Time time.Time
}

// Now is the dialect's current-time expression.
type Now struct{}

// Null is the NULL literal.
type Null struct{}

// DateAdd shifts Expr by Amount units.
type DateAdd struct {
	Unit   dialect.DateUnit
	Amount int
	Expr   Expr
}

// Convert casts Expr to Type.
type Convert struct {
	Type dialect.DataType
	Expr Expr
}

// Comparison operators.
const (
	Eq  = "="
	Gt  = ">"
	Gte = ">="
	Lt  = "<"
	Lte = "<="
)

// Compare is a binary comparison.
type Compare struct {
	Left  Expr
	Op    string
	Right Expr
}

// Between is Expr BETWEEN Low AND High.
type Between struct {
	Expr Expr
	Low  Expr
	High Expr
}

// Count is COUNT(*), COUNT(x) or COUNT(DISTINCT x).
type Count struct {
	Distinct bool
	Expr     Expr
}

// And is a parenthesised conjunction.
type And []Expr

func (f Fragment) writeTo(r *renderer) {
	for _, s := range f.segs {
		if !s.slot {
			r.write(s.text)
			continue
		}
		if r.scope == nil {
			r.fail(errSlotOutsideScope)
			return
		}
		r.write(r.aliasOf(r.scope))
	}
}

func (q Qualified) writeTo(r *renderer) {
	if r.scope == nil {
		r.fail(errSlotOutsideScope)
		return
	}
	r.write(r.aliasOf(r.scope), ".", q.Column)
}

func (ref Ref) writeTo(r *renderer) {
	r.write(r.aliasOf(ref.Node), ".", ref.Column)
}

func (p Param) writeTo(r *renderer) { r.write(r.d.Param(p.Name)) }

func (n Number) writeTo(r *renderer) {
	r.write(strconv.FormatFloat(float64(n), 'f', -1, 64))
}

func (n Int) writeTo(r *renderer) { r.write(strconv.Itoa(int(n))) }

func (b Bool) writeTo(r *renderer) { r.write(r.d.Bool(bool(b))) }

func (t Timestamp) writeTo(r *renderer) { r.write(r.d.Timestamp(t.Time)) }

func (Now) writeTo(r *renderer) { r.write(r.d.Now()) }

func (Null) writeTo(r *renderer) { r.write(r.kw(dialect.KwNull)) }

func (e DateAdd) writeTo(r *renderer) {
	r.write(r.d.DateAdd(e.Unit, e.Amount, r.sub(e.Expr)))
}

func (e Convert) writeTo(r *renderer) {
	r.write(r.d.Convert(e.Type, r.sub(e.Expr)))
}

func (c Compare) writeTo(r *renderer) {
	c.Left.writeTo(r)
	r.write(" ", c.Op, " ")
	c.Right.writeTo(r)
}

func (b Between) writeTo(r *renderer) {
	b.Expr.writeTo(r)
	r.write(" ", r.kw(dialect.KwBetween), " ")
	b.Low.writeTo(r)
	r.write(" ", r.kw(dialect.KwAnd), " ")
	b.High.writeTo(r)
}

func (c Count) writeTo(r *renderer) {
	r.write(r.kw(dialect.KwCount), "(")
	switch {
	case c.Expr == nil:
		r.write("*")
	case c.Distinct:
		r.write(r.kw(dialect.KwDistinct), " ")
		c.Expr.writeTo(r)
	default:
		c.Expr.writeTo(r)
	}
	r.write(")")
}

func (a And) writeTo(r *renderer) {
	r.write("(")
	r.conjunction(a)
	r.write(")")
}
