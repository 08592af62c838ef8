package middleware

import (
	"context"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/cohort/cohort/internal/platform/auth"
)

// AuditQueryIDKey is the echo context key handlers use to report the saved
// query a request touched when it is not in the path, such as the query a
// count just created.
const AuditQueryIDKey = "audit_query_id"

// AuditEntry records one access to cohort data: who ran which operation
// against which saved query, and with what outcome.
type AuditEntry struct {
	UserID     string
	UserRoles  []string
	Resource   string
	Operation  string
	QueryID    string
	Method     string
	Path       string
	IPAddress  string
	UserAgent  string
	RequestID  string
	StatusCode int
	Timestamp  time.Time
}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	RecordAccess(ctx context.Context, entry AuditEntry) error
}

type AuditRecorderFunc func(ctx context.Context, entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(ctx context.Context, entry AuditEntry) error {
	return f(ctx, entry)
}

// Audit logs every /api/v1 request after it completes and hands the entry
// to recorder when one is given. A recorder failure is logged and does not
// change the response.
func Audit(logger zerolog.Logger, recorder AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !strings.HasPrefix(req.URL.Path, "/api/v1/") {
				return next(c)
			}

			err := next(c)

			ctx := req.Context()
			entry := AuditEntry{
				UserID:     auth.UserIDFromContext(ctx),
				UserRoles:  auth.RolesFromContext(ctx),
				Method:     req.Method,
				Path:       req.URL.Path,
				IPAddress:  c.RealIP(),
				UserAgent:  req.UserAgent(),
				RequestID:  requestID(c),
				StatusCode: responseStatus(c, err),
				Timestamp:  time.Now().UTC(),
			}
			entry.Resource, entry.Operation = classify(req.Method, req.URL.Path, c.Param("id") != "")
			entry.QueryID = c.Param("id")
			if id, ok := c.Get(AuditQueryIDKey).(string); ok && id != "" {
				entry.QueryID = id
			}

			if recorder != nil {
				// The request context may already be cancelled by a timeout.
				recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				if recErr := recorder.RecordAccess(recCtx, entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
				cancel()
			}

			logger.Info().
				Str("type", "cohort_audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("resource", entry.Resource).
				Str("operation", entry.Operation).
				Str("query_id", entry.QueryID).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("data_access")

			return err
		}
	}
}

func responseStatus(c echo.Context, err error) int {
	if he, ok := err.(*echo.HTTPError); ok {
		return he.Code
	}
	if err != nil && !c.Response().Committed {
		return http.StatusInternalServerError
	}
	return c.Response().Status
}

// classify maps an /api/v1 path to its resource and operation:
//
//	POST   /api/v1/cohort/count        -> cohort, count
//	GET    /api/v1/cohort/queries      -> cohort, list
//	GET    /api/v1/cohort/queries/{id} -> cohort, read
//	DELETE /api/v1/cohort/queries/{id} -> cohort, delete
func classify(method, p string, hasID bool) (resource, operation string) {
	segments := strings.Split(strings.Trim(strings.TrimPrefix(p, "/api/v1/"), "/"), "/")
	resource = segments[0]
	if resource == "" {
		resource = "unknown"
	}

	switch method {
	case http.MethodPost:
		operation = path.Base(p)
	case http.MethodDelete:
		operation = "delete"
	default:
		if hasID {
			operation = "read"
		} else {
			operation = "list"
		}
	}
	return resource, operation
}
