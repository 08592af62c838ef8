package db

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func runHealth(t *testing.T, checks ...HealthCheck) (int, map[string]interface{}) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := HealthHandler(checks...)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	return rec.Code, body
}

func TestHealthHandler_AllHealthy(t *testing.T) {
	code, body := runHealth(t,
		HealthCheck{Name: "app", Pool: stubPinger{}},
		HealthCheck{Name: "clinical", Pool: stubPinger{}},
	)
	if code != http.StatusOK {
		t.Errorf("expected 200, got %d", code)
	}
	if body["status"] != "healthy" {
		t.Errorf("expected healthy, got %v", body["status"])
	}
	dbs, _ := body["databases"].(map[string]interface{})
	if len(dbs) != 2 {
		t.Errorf("expected 2 databases, got %d", len(dbs))
	}
}

func TestHealthHandler_OneDown(t *testing.T) {
	code, body := runHealth(t,
		HealthCheck{Name: "app", Pool: stubPinger{}},
		HealthCheck{Name: "clinical", Pool: stubPinger{err: errors.New("connection refused")}},
	)
	if code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", code)
	}
	if body["status"] != "unhealthy" {
		t.Errorf("expected unhealthy, got %v", body["status"])
	}
	clinical := body["databases"].(map[string]interface{})["clinical"].(map[string]interface{})
	if clinical["error"] != "connection refused" {
		t.Errorf("expected error to be reported, got %v", clinical["error"])
	}
	if clinical["healthy"] != false {
		t.Errorf("expected healthy=false, got %v", clinical["healthy"])
	}
}

func TestTxFromContext_Empty(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Error("expected nil transaction for bare context")
	}
}
