package cohort

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cohort/cohort/internal/platform/auth"
	"github.com/cohort/cohort/pkg/pagination"
)

func newTestHandler(t *testing.T, wh Warehouse) (*Handler, *echo.Echo, *mockConceptRepo) {
	t.Helper()
	svc, _, concepts := newTestService(t, wh)
	return NewHandler(svc), echo.New(), concepts
}

// routed mounts h under /api/v1 with every request authenticated as user.
func routed(h *Handler, user string, roles ...string) *echo.Echo {
	e := echo.New()
	api := e.Group("/api/v1", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			c.SetRequest(req.WithContext(auth.WithUser(req.Context(), user, roles)))
			return next(c)
		}
	})
	h.RegisterRoutes(api)
	return e
}

func serve(t *testing.T, e *echo.Echo, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var payload string
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		payload = string(b)
	}
	req := httptest.NewRequest(method, path, strings.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func jsonRequest(t *testing.T, e *echo.Echo, method string, body interface{}, user string, roles ...string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	var payload string
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		payload = string(b)
	}
	req := httptest.NewRequest(method, "/api/v1/cohort", strings.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(auth.WithUser(req.Context(), user, roles))
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func httpCode(t *testing.T, err error) int {
	t.Helper()
	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	return he.Code
}

func TestHandler_Compile(t *testing.T) {
	h, e, concepts := newTestHandler(t, nil)
	c, rec := jsonRequest(t, e, http.MethodPost, concepts.refs(t, diabetesQuery()), "alice", "researcher")
	require.NoError(t, h.Compile(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var res CompileResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, strings.HasPrefix(res.SQL, "SELECT CAST(_Q.PersonId AS VARCHAR(100)) AS PersonId FROM ("))
}

func TestHandler_ResearcherInlineSQLForbidden(t *testing.T) {
	h, _, _ := newTestHandler(t, &mockWarehouse{ids: []string{"1"}})
	e := routed(h, "mallory", "researcher")

	forged := female(0)
	forged.Concept.SQLSetFrom = "(SELECT rolname AS person_id FROM pg_authid)"
	forged.Concept.SQLSetWhere = ""
	q := &Query{Panels: []Panel{simplePanel(0, include(0, forged))}}

	for _, path := range []string{"/api/v1/cohort/compile", "/api/v1/cohort/preview", "/api/v1/cohort/count"} {
		rec := serve(t, e, http.MethodPost, path, q)
		assert.Equal(t, http.StatusForbidden, rec.Code, path)
	}

	admin := routed(h, "root", "admin")
	rec := serve(t, admin, http.MethodPost, "/api/v1/cohort/compile", diabetesQuery())
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_Concepts(t *testing.T) {
	h, _, _ := newTestHandler(t, nil)
	admin := routed(h, "root", "admin")
	researcher := routed(h, "alice", "researcher")

	c := diagnosis(0, "E11").Concept
	rec := serve(t, researcher, http.MethodPost, "/api/v1/cohort/concepts", c)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(t, admin, http.MethodPost, "/api/v1/cohort/concepts", c)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = serve(t, researcher, http.MethodGet, "/api/v1/cohort/concepts/"+c.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got Concept
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, c.UIDisplayName, got.UIDisplayName)
	assert.Empty(t, got.SQLSetFrom, "researchers never see concept SQL")

	rec = serve(t, researcher, http.MethodGet, "/api/v1/cohort/concepts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "condition_occurrence")

	rec = serve(t, admin, http.MethodGet, "/api/v1/cohort/concepts", nil)
	assert.Contains(t, rec.Body.String(), "condition_occurrence")

	q := &Query{Panels: []Panel{simplePanel(0, include(0, PanelItem{Concept: Concept{ID: c.ID}}))}}
	rec = serve(t, researcher, http.MethodPost, "/api/v1/cohort/compile", q)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, researcher, http.MethodDelete, "/api/v1/cohort/concepts/"+c.ID.String(), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = serve(t, admin, http.MethodDelete, "/api/v1/cohort/concepts/"+c.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = serve(t, researcher, http.MethodGet, "/api/v1/cohort/concepts/"+c.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_Compile_BadQuery(t *testing.T) {
	h, e, _ := newTestHandler(t, nil)
	c, _ := jsonRequest(t, e, http.MethodPost, &Query{}, "alice", "researcher")
	assert.Equal(t, http.StatusBadRequest, httpCode(t, h.Compile(c)))
}

func TestHandler_Compile_MalformedBody(t *testing.T) {
	h, e, _ := newTestHandler(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"panels":`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())
	assert.Equal(t, http.StatusBadRequest, httpCode(t, h.Compile(c)))
}

func TestHandler_Count(t *testing.T) {
	h, e, concepts := newTestHandler(t, &mockWarehouse{ids: []string{"7", "8"}})
	c, rec := jsonRequest(t, e, http.MethodPost, concepts.refs(t, diabetesQuery()), "alice", "researcher")
	require.NoError(t, h.Count(c))
	assert.Equal(t, http.StatusCreated, rec.Code)

	var res CountResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.EqualValues(t, 2, res.Count)
	assert.NotEqual(t, uuid.Nil, res.QueryID)
}

func TestHandler_Count_Disabled(t *testing.T) {
	h, e, concepts := newTestHandler(t, nil)
	c, _ := jsonRequest(t, e, http.MethodPost, concepts.refs(t, diabetesQuery()), "alice", "researcher")
	assert.Equal(t, http.StatusNotImplemented, httpCode(t, h.Count(c)))
}

func TestHandler_Preview(t *testing.T) {
	h, e, concepts := newTestHandler(t, &mockWarehouse{ids: []string{"7"}})
	c, rec := jsonRequest(t, e, http.MethodPost, concepts.refs(t, diabetesQuery()), "alice", "researcher")
	require.NoError(t, h.Preview(c))
	assert.JSONEq(t, `{"count":1}`, rec.Body.String())
}

func TestHandler_QueryOwnership(t *testing.T) {
	h, e, concepts := newTestHandler(t, &mockWarehouse{ids: []string{"1"}})
	c, rec := jsonRequest(t, e, http.MethodPost, concepts.refs(t, diabetesQuery()), "alice", "researcher")
	require.NoError(t, h.Count(c))
	var res CountResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))

	get := func(user string, roles ...string) (*httptest.ResponseRecorder, error) {
		c, rec := jsonRequest(t, e, http.MethodGet, nil, user, roles...)
		c.SetParamNames("id")
		c.SetParamValues(res.QueryID.String())
		return rec, h.GetQuery(c)
	}

	rec, err := get("alice", "researcher")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)

	_, err = get("bob", "researcher")
	assert.Equal(t, http.StatusNotFound, httpCode(t, err))

	_, err = get("carol", "admin")
	assert.NoError(t, err)
}

func TestHandler_GetQuery_InvalidID(t *testing.T) {
	h, e, _ := newTestHandler(t, nil)
	c, _ := jsonRequest(t, e, http.MethodGet, nil, "alice", "researcher")
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, httpCode(t, h.GetQuery(c)))
}

func TestHandler_ListQueries(t *testing.T) {
	h, e, concepts := newTestHandler(t, &mockWarehouse{ids: []string{"1"}})
	for _, user := range []string{"alice", "alice", "bob"} {
		c, _ := jsonRequest(t, e, http.MethodPost, concepts.refs(t, diabetesQuery()), user, "researcher")
		require.NoError(t, h.Count(c))
	}

	c, rec := jsonRequest(t, e, http.MethodGet, nil, "alice", "researcher")
	require.NoError(t, h.ListQueries(c))
	var page pagination.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 2, page.Total)
	assert.Contains(t, page.Links, "self")

	c, rec = jsonRequest(t, e, http.MethodGet, nil, "root", "admin")
	require.NoError(t, h.ListQueries(c))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 3, page.Total)
}

func TestHandler_DeleteQuery(t *testing.T) {
	h, e, concepts := newTestHandler(t, &mockWarehouse{ids: []string{"1"}})
	c, rec := jsonRequest(t, e, http.MethodPost, concepts.refs(t, diabetesQuery()), "alice", "researcher")
	require.NoError(t, h.Count(c))
	var res CountResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))

	c, _ = jsonRequest(t, e, http.MethodDelete, nil, "bob", "researcher")
	c.SetParamNames("id")
	c.SetParamValues(res.QueryID.String())
	assert.Equal(t, http.StatusNotFound, httpCode(t, h.DeleteQuery(c)))

	c, rec = jsonRequest(t, e, http.MethodDelete, nil, "alice", "researcher")
	c.SetParamNames("id")
	c.SetParamValues(res.QueryID.String())
	require.NoError(t, h.DeleteQuery(c))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
