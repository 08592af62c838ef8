// Package hipaa keeps the access trail required for research use of
// patient data.
package hipaa

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/cohort/cohort/internal/platform/middleware"
)

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

type execer interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// AuditLogger writes audit entries to app.audit_log. It implements
// middleware.AuditRecorder.
type AuditLogger struct {
	db    execer
	table string
}

func NewAuditLogger(db execer) *AuditLogger {
	return &AuditLogger{db: db, table: "app.audit_log"}
}

func (a *AuditLogger) RecordAccess(ctx context.Context, e middleware.AuditEntry) error {
	sql, args, err := a.insert(e)
	if err != nil {
		return fmt.Errorf("hipaa audit: build insert: %w", err)
	}
	if _, err := a.db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("hipaa audit: insert: %w", err)
	}
	return nil
}

func (a *AuditLogger) insert(e middleware.AuditEntry) (string, []interface{}, error) {
	roles := e.UserRoles
	if roles == nil {
		roles = []string{}
	}
	return psql.Insert(a.table).
		Columns("id", "user_id", "user_roles", "resource", "operation", "query_id",
			"method", "path", "ip_address", "user_agent", "request_id", "status_code", "recorded_at").
		Values(uuid.New(), e.UserID, roles, e.Resource, e.Operation, queryID(e.QueryID),
			e.Method, e.Path, e.IPAddress, e.UserAgent, e.RequestID, e.StatusCode, e.Timestamp).
		ToSql()
}

// queryID stores ids that are not UUIDs, such as a malformed path
// parameter, as NULL.
func queryID(s string) *uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		return nil
	}
	return &id
}
