package dialect

import (
	"fmt"
	"time"
)

// SQLServer renders T-SQL.
type SQLServer struct {
	keywords map[Keyword]string
}

func NewSQLServer() *SQLServer {
	return &SQLServer{keywords: ansiKeywords()}
}

func (d *SQLServer) Name() string { return "sqlserver" }

func (d *SQLServer) Keyword(k Keyword) (string, bool) {
	s, ok := d.keywords[k]
	return s, ok
}

func (d *SQLServer) Convert(t DataType, expr string) string {
	switch t {
	case Integer:
		return fmt.Sprintf("CONVERT(BIGINT, %s)", expr)
	default:
		return fmt.Sprintf("CONVERT(NVARCHAR(100), %s)", expr)
	}
}

func (d *SQLServer) DateAdd(unit DateUnit, amount int, expr string) string {
	return fmt.Sprintf("DATEADD(%s, %d, %s)", unit, amount, expr)
}

func (d *SQLServer) Now() string { return "GETDATE()" }

func (d *SQLServer) Timestamp(t time.Time) string {
	return "'" + t.Format(timestampLayout) + "'"
}

func (d *SQLServer) Bool(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func (d *SQLServer) Param(name string) string { return "@" + name }

func (d *SQLServer) Aliases() AliasPrefixes { return DefaultAliases }
