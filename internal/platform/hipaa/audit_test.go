package hipaa

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cohort/cohort/internal/platform/middleware"
)

type fakeExec struct {
	sql  string
	args []interface{}
	err  error
}

func (f *fakeExec) Exec(_ context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	f.sql, f.args = sql, args
	return pgconn.NewCommandTag("INSERT 0 1"), f.err
}

func entry() middleware.AuditEntry {
	return middleware.AuditEntry{
		UserID:     "alice",
		UserRoles:  []string{"researcher"},
		Resource:   "cohort",
		Operation:  "count",
		Method:     "POST",
		Path:       "/api/v1/cohort/count",
		RequestID:  "req-1",
		StatusCode: 201,
		Timestamp:  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestRecordAccess(t *testing.T) {
	db := &fakeExec{}
	e := entry()
	e.QueryID = uuid.New().String()

	require.NoError(t, NewAuditLogger(db).RecordAccess(context.Background(), e))
	assert.Contains(t, db.sql, "INSERT INTO app.audit_log")
	assert.Contains(t, db.sql, "$13")
	require.Len(t, db.args, 13)
	assert.Equal(t, "alice", db.args[1])
	assert.Equal(t, []string{"researcher"}, db.args[2])
	qid, ok := db.args[5].(*uuid.UUID)
	require.True(t, ok)
	assert.Equal(t, e.QueryID, qid.String())
	assert.Equal(t, 201, db.args[11])
}

func TestRecordAccess_NonUUIDQueryIsNull(t *testing.T) {
	db := &fakeExec{}
	e := entry()
	e.QueryID = "not-a-uuid"
	e.UserRoles = nil

	require.NoError(t, NewAuditLogger(db).RecordAccess(context.Background(), e))
	assert.Nil(t, db.args[5])
	assert.Equal(t, []string{}, db.args[2])
}

func TestRecordAccess_ExecError(t *testing.T) {
	db := &fakeExec{err: errors.New("connection refused")}
	err := NewAuditLogger(db).RecordAccess(context.Background(), entry())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hipaa audit")
}

func TestAuditLogger_IsRecorder(t *testing.T) {
	var _ middleware.AuditRecorder = NewAuditLogger(&fakeExec{})
}
