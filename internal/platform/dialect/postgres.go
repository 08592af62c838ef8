package dialect

import (
	"fmt"
	"strings"
	"time"
)

// Postgres renders PostgreSQL. Parameters use the @name form understood by
// pgx.NamedArgs.
type Postgres struct {
	keywords map[Keyword]string
}

func NewPostgres() *Postgres {
	return &Postgres{keywords: ansiKeywords()}
}

func (d *Postgres) Name() string { return "postgres" }

func (d *Postgres) Keyword(k Keyword) (string, bool) {
	s, ok := d.keywords[k]
	return s, ok
}

func (d *Postgres) Convert(t DataType, expr string) string {
	switch t {
	case Integer:
		return fmt.Sprintf("CAST(%s AS BIGINT)", expr)
	default:
		return fmt.Sprintf("CAST(%s AS VARCHAR(100))", expr)
	}
}

func (d *Postgres) DateAdd(unit DateUnit, amount int, expr string) string {
	return fmt.Sprintf("(%s + INTERVAL '%d %s')", expr, amount, strings.ToLower(unit.String()))
}

func (d *Postgres) Now() string { return "NOW()" }

func (d *Postgres) Timestamp(t time.Time) string {
	return "TIMESTAMP '" + t.Format(timestampLayout) + "'"
}

func (d *Postgres) Bool(v bool) string {
	if v {
		return "TRUE"
	}
	return "FALSE"
}

func (d *Postgres) Param(name string) string { return "@" + name }

func (d *Postgres) Aliases() AliasPrefixes { return DefaultAliases }
