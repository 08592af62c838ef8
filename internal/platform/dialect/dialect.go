// Package dialect supplies target-database syntax to the SQL renderer:
// keyword spellings, date arithmetic, type conversion, literals, bound
// parameter placeholders and the alias prefixes used when naming nodes.
package dialect

import (
	"fmt"
	"strings"
	"time"
)

// Keyword identifies a piece of SQL syntax whose spelling is owned by the dialect.
type Keyword int

const (
	KwSelect Keyword = iota
	KwFrom
	KwWhere
	KwGroupBy
	KwHaving
	KwAnd
	KwAs
	KwBetween
	KwUnionAll
	KwIntersect
	KwExcept
	KwInnerJoin
	KwLeftJoin
	KwOn
	KwCount
	KwDistinct
	KwNull
)

var keywordNames = map[Keyword]string{
	KwSelect:    "select",
	KwFrom:      "from",
	KwWhere:     "where",
	KwGroupBy:   "group by",
	KwHaving:    "having",
	KwAnd:       "and",
	KwAs:        "as",
	KwBetween:   "between",
	KwUnionAll:  "union all",
	KwIntersect: "intersect",
	KwExcept:    "except",
	KwInnerJoin: "inner join",
	KwLeftJoin:  "left join",
	KwOn:        "on",
	KwCount:     "count",
	KwDistinct:  "distinct",
	KwNull:      "null",
}

func (k Keyword) String() string {
	if n, ok := keywordNames[k]; ok {
		return n
	}
	return fmt.Sprintf("keyword(%d)", int(k))
}

// DateUnit is the unit of a date-arithmetic expression.
type DateUnit int

const (
	Minute DateUnit = iota
	Hour
	Day
	Week
	Month
	Year
)

func (u DateUnit) String() string {
	switch u {
	case Minute:
		return "MINUTE"
	case Hour:
		return "HOUR"
	case Day:
		return "DAY"
	case Week:
		return "WEEK"
	case Month:
		return "MONTH"
	case Year:
		return "YEAR"
	}
	return fmt.Sprintf("UNIT(%d)", int(u))
}

// DataType is a target type for Convert.
type DataType int

const (
	String DataType = iota
	Integer
)

// AliasPrefixes are the prefixes the compiler derives node aliases from.
type AliasPrefixes struct {
	Person   string // concept-item leaf nodes
	Sequence string // sequence join steps
	SubPanel string // subpanel unions nested as derived tables
	Panel    string // panel-level statements
	Query    string // query-level wrapper
	Cohort   string // cached cohort
	Dataset  string // dataset derived table
}

// DefaultAliases is shared by the bundled dialects.
var DefaultAliases = AliasPrefixes{
	Person:   "_S",
	Sequence: "_J",
	SubPanel: "_U",
	Panel:    "_P",
	Query:    "_Q",
	Cohort:   "_C",
	Dataset:  "_D",
}

// Dialect is the syntax capability consumed by sqlset.Render.
type Dialect interface {
	Name() string
	// Keyword returns the spelling of k, or false if the dialect has none.
	Keyword(k Keyword) (string, bool)
	Convert(t DataType, expr string) string
	DateAdd(unit DateUnit, amount int, expr string) string
	Now() string
	Timestamp(t time.Time) string
	Bool(v bool) string
	// Param renders the placeholder for a named bound parameter.
	Param(name string) string
	Aliases() AliasPrefixes
}

// ansiKeywords are the upper-case spellings both bundled dialects share.
func ansiKeywords() map[Keyword]string {
	kw := make(map[Keyword]string, len(keywordNames))
	for k, n := range keywordNames {
		kw[k] = strings.ToUpper(n)
	}
	return kw
}

// ForName returns the dialect registered under name.
func ForName(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sqlserver", "mssql", "tsql":
		return NewSQLServer(), nil
	case "postgres", "postgresql", "pg":
		return NewPostgres(), nil
	default:
		return nil, fmt.Errorf("unknown sql dialect %q", name)
	}
}

const timestampLayout = "2006-01-02 15:04:05"
