package sqlset

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cohort/cohort/internal/platform/dialect"
)

func leaf(alias, table string) *Select {
	return NewSelect(KindLeaf, alias).
		WithSelect(Col(Qualified{Column: "id"}, "PersonId")).
		WithFrom(Table{Text: Raw(table)})
}

func TestRender_LeafWithFragments(t *testing.T) {
	s := NewSelect(KindLeaf, "_S0").
		WithSelect(
			Col(Qualified{Column: "person_id"}, "PersonId"),
			Col(ParseFragment("@.dx_date", "@"), "Date"),
		).
		WithFrom(Table{Text: Raw("dbo.diagnosis")}).
		WithWhere(
			ParseFragment("@.code = 'E11' OR @.code = 'E10'", "@"),
			Compare{Left: Qualified{Column: "age"}, Op: Gte, Right: Int(18)},
		)

	sql, err := Render(s, dialect.NewPostgres())
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT _S0.person_id AS PersonId, _S0.dx_date AS Date FROM dbo.diagnosis AS _S0 "+
			"WHERE (_S0.code = 'E11' OR _S0.code = 'E10') AND _S0.age >= 18",
		sql)
}

func TestRender_Idempotent(t *testing.T) {
	s := leaf("_S0", "t").WithWhere(Between{
		Expr: Qualified{Column: "d"},
		Low:  DateAdd{Unit: dialect.Month, Amount: -6, Expr: Now{}},
		High: Timestamp{Time: time.Date(2020, 1, 1, 23, 59, 59, 0, time.UTC)},
	})
	d := dialect.NewSQLServer()

	first, err := s.Render(d)
	require.NoError(t, err)
	second, err := s.Render(d)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Contains(t, first, "_S0.d BETWEEN DATEADD(MONTH, -6, GETDATE()) AND '2020-01-01 23:59:59'")
}

func TestRender_JoinChain(t *testing.T) {
	a := leaf("_A", "t1")
	b := leaf("_B", "t2")
	j := NewSelect(KindJoin, "_P").
		WithSelect(Col(Ref{Node: a, Column: "PersonId"}, "")).
		WithFrom((&JoinChain{First: a}).Join(LeftJoin, b,
			Compare{Left: Ref{Node: a, Column: "PersonId"}, Op: Eq, Right: Ref{Node: b, Column: "PersonId"}}))

	sql, err := Render(j, dialect.NewPostgres())
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT _A.PersonId FROM (SELECT _A.id AS PersonId FROM t1 AS _A) AS _A "+
			"LEFT JOIN (SELECT _B.id AS PersonId FROM t2 AS _B) AS _B ON _A.PersonId = _B.PersonId",
		sql)
}

func TestRender_CompoundNesting(t *testing.T) {
	u := NewCompound("_U").Add(UnionAll, leaf("_A", "t1")).Add(UnionAll, leaf("_B", "t2"))
	q := NewCompound("_Q").Add(Intersect, u).Add(Except, leaf("_C", "t3"))

	sql, err := Render(q, dialect.NewPostgres())
	require.NoError(t, err)
	assert.Equal(t,
		"(SELECT _A.id AS PersonId FROM t1 AS _A UNION ALL SELECT _B.id AS PersonId FROM t2 AS _B) "+
			"EXCEPT SELECT _C.id AS PersonId FROM t3 AS _C",
		sql)
}

func TestRender_AliasCollision(t *testing.T) {
	u := NewCompound("_U").Add(UnionAll, leaf("_S1", "t1")).Add(UnionAll, leaf("_S1", "t2"))
	_, err := Render(u, dialect.NewPostgres())
	assert.ErrorIs(t, err, ErrAliasCollision)
}

func TestRender_SharedNode(t *testing.T) {
	a := leaf("_A", "t1")
	u := NewCompound("_U").Add(UnionAll, a).Add(UnionAll, a)
	_, err := Render(u, dialect.NewPostgres())
	assert.ErrorIs(t, err, ErrSharedNode)
}

func TestRender_MissingAlias(t *testing.T) {
	_, err := Render(leaf("", "t"), dialect.NewPostgres())
	assert.ErrorIs(t, err, ErrMissingAlias)
}

func TestRender_RefOutsideTree(t *testing.T) {
	stray := leaf("_X", "t9")
	s := leaf("_A", "t1").WithWhere(Compare{Left: Qualified{Column: "id"}, Op: Eq, Right: Ref{Node: stray, Column: "id"}})
	_, err := Render(s, dialect.NewPostgres())
	assert.ErrorIs(t, err, ErrUnknownNode)
}

type stripped struct {
	dialect.Dialect
	missing dialect.Keyword
}

func (s stripped) Keyword(k dialect.Keyword) (string, bool) {
	if k == s.missing {
		return "", false
	}
	return s.Dialect.Keyword(k)
}

func TestRender_MissingKeyword(t *testing.T) {
	d := stripped{Dialect: dialect.NewPostgres(), missing: dialect.KwHaving}
	s := leaf("_A", "t").
		WithGroupBy(Qualified{Column: "id"}).
		WithHaving(Compare{Left: Count{Distinct: true, Expr: Qualified{Column: "d"}}, Op: Gte, Right: Int(2)})

	_, err := Render(s, d)
	assert.ErrorIs(t, err, ErrMissingKeyword)
}

func TestRender_NilSourcePanics(t *testing.T) {
	s := NewSelect(KindLeaf, "_A").WithSelect(Col(Qualified{Column: "id"}, ""))
	assert.Panics(t, func() { _, _ = Render(s, dialect.NewPostgres()) })
}

func TestRender_EmptySelect(t *testing.T) {
	s := NewSelect(KindLeaf, "_A").WithFrom(Table{Text: Raw("t")})
	_, err := Render(s, dialect.NewPostgres())
	assert.ErrorIs(t, err, ErrEmptySelect)
}

func TestRender_ExpressionsAndParams(t *testing.T) {
	s := NewSelect(KindCachedCohort, "_C").
		WithSelect(
			Col(Convert{Type: dialect.String, Expr: Qualified{Column: "PersonId"}}, "PersonId"),
			Col(Count{}, "Cnt"),
		).
		WithFrom(Table{Text: Raw("app.cohort")}).
		WithWhere(
			Compare{Left: Qualified{Column: "QueryId"}, Op: Eq, Right: Param{Name: "queryid"}},
			Compare{Left: Qualified{Column: "Exported"}, Op: Eq, Right: Bool(true)},
			And{Compare{Left: Qualified{Column: "v"}, Op: Gt, Right: Number(1.5)}, Compare{Left: Qualified{Column: "v"}, Op: Lt, Right: Null{}}},
		)

	sql, err := Render(s, dialect.NewSQLServer())
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT CONVERT(NVARCHAR(100), _C.PersonId) AS PersonId, COUNT(*) AS Cnt FROM app.cohort AS _C "+
			"WHERE _C.QueryId = @queryid AND _C.Exported = 1 AND (_C.v > 1.5 AND _C.v < NULL)",
		sql)
}

func TestBuilders_DoNotShareSlices(t *testing.T) {
	preds := make([]Expr, 1, 4)
	preds[0] = Raw("1 = 1")

	a := leaf("_A", "t1").WithWhere(preds...)
	b := leaf("_B", "t2").WithWhere(preds...)
	a.WithWhere(Raw("2 = 2"))
	b.WithWhere(Raw("3 = 3"))

	require.Len(t, a.Where, 2)
	require.Len(t, b.Where, 2)
	assert.Equal(t, "2 = 2", a.Where[1].(Fragment).String())
	assert.Equal(t, "3 = 3", b.Where[1].(Fragment).String())
}

func TestAliases_DepthFirst(t *testing.T) {
	a := leaf("_A", "t1")
	b := leaf("_B", "t2")
	j := NewSelect(KindJoin, "_P").
		WithSelect(Col(Ref{Node: a, Column: "PersonId"}, "")).
		WithFrom((&JoinChain{First: a}).Join(InnerJoin, b))

	got, err := Aliases(j)
	require.NoError(t, err)
	assert.Equal(t, []string{"_P", "_A", "_B"}, got)
}

func TestRender_SingleMemberCompoundsAreFlat(t *testing.T) {
	inner := NewCompound("_U").Add(UnionAll, leaf("_A", "t1"))
	outer := NewCompound("_Q").Add(Intersect, inner)
	s := NewSelect(KindDerived, "_QC").
		WithSelect(Col(Ref{Node: outer, Column: "PersonId"}, "")).
		WithFrom(Derived{Node: outer})

	sql, err := Render(s, dialect.NewPostgres())
	require.NoError(t, err)
	assert.Equal(t, "SELECT _Q.PersonId FROM (SELECT _A.id AS PersonId FROM t1 AS _A) AS _Q", sql)
}
