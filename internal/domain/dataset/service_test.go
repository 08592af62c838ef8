package dataset

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cohort/cohort/internal/domain/cohort"
	"github.com/cohort/cohort/internal/platform/auth"
	"github.com/cohort/cohort/internal/platform/dialect"
)

type stubQueries struct {
	data map[uuid.UUID]*cohort.SavedQuery
}

func (s *stubQueries) Create(_ context.Context, q *cohort.SavedQuery, _ []cohort.Member) error {
	s.data[q.ID] = q
	return nil
}

func (s *stubQueries) GetByID(_ context.Context, id uuid.UUID) (*cohort.SavedQuery, error) {
	if q, ok := s.data[id]; ok {
		return q, nil
	}
	return nil, cohort.ErrQueryNotFound
}

func (s *stubQueries) List(context.Context, string, int, int) ([]*cohort.SavedQuery, int, error) {
	return nil, 0, nil
}

func (s *stubQueries) Delete(context.Context, uuid.UUID) error { return nil }

type stubDatasets struct {
	data map[uuid.UUID]*Query
}

func (s *stubDatasets) Create(_ context.Context, q *Query) error {
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	cp := *q
	s.data[q.ID] = &cp
	return nil
}

func (s *stubDatasets) GetByID(_ context.Context, id uuid.UUID) (*Query, error) {
	if q, ok := s.data[id]; ok {
		cp := *q
		return &cp, nil
	}
	return nil, ErrDatasetNotFound
}

func (s *stubDatasets) List(context.Context, int, int) ([]*Query, int, error) {
	var out []*Query
	for _, q := range s.data {
		out = append(out, q)
	}
	return out, len(out), nil
}

func (s *stubDatasets) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := s.data[id]; !ok {
		return ErrDatasetNotFound
	}
	delete(s.data, id)
	return nil
}

type stubConcepts struct {
	data map[uuid.UUID]*cohort.Concept
}

func (s *stubConcepts) Create(_ context.Context, c *cohort.Concept) error {
	cp := *c
	s.data[c.ID] = &cp
	return nil
}

func (s *stubConcepts) GetByID(_ context.Context, id uuid.UUID) (*cohort.Concept, error) {
	if c, ok := s.data[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, cohort.ErrConceptNotFound
}

func (s *stubConcepts) GetMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*cohort.Concept, error) {
	found := map[uuid.UUID]*cohort.Concept{}
	for _, id := range ids {
		if c, err := s.GetByID(ctx, id); err == nil {
			found[id] = c
		}
	}
	return found, nil
}

func (s *stubConcepts) List(context.Context, int, int) ([]*cohort.Concept, int, error) {
	return nil, 0, nil
}

func (s *stubConcepts) Delete(context.Context, uuid.UUID) error { return nil }

// testCatalog holds the catalog a researcher compiles against.
type testCatalog struct {
	datasets     *stubDatasets
	concepts     *stubConcepts
	demographics uuid.UUID
}

// ref stores the concept of pi and returns an item naming it by id only.
func (c *testCatalog) ref(t *testing.T, pi *cohort.PanelItem) *cohort.PanelItem {
	t.Helper()
	require.NoError(t, c.concepts.Create(context.Background(), &pi.Concept))
	return &cohort.PanelItem{Concept: cohort.Concept{ID: pi.Concept.ID}, NumericFilter: pi.NumericFilter}
}

type stubExtractor struct {
	sql     string
	queryID uuid.UUID
}

func (x *stubExtractor) Extract(_ context.Context, sql string, queryID uuid.UUID) ([]string, []map[string]interface{}, error) {
	x.sql, x.queryID = sql, queryID
	return []string{"PersonId", "Salt"}, []map[string]interface{}{
		{"PersonId": "1", "Salt": "a"},
		{"PersonId": "2", "Salt": "b"},
	}, nil
}

func newTestService(t *testing.T, x Extractor) (*Service, *testCatalog, uuid.UUID) {
	t.Helper()
	queries := &stubQueries{data: map[uuid.UUID]*cohort.SavedQuery{}}
	id := uuid.New()
	queries.data[id] = &cohort.SavedQuery{ID: id, Owner: "alice"}

	cat := &testCatalog{
		datasets: &stubDatasets{data: map[uuid.UUID]*Query{}},
		concepts: &stubConcepts{data: map[uuid.UUID]*cohort.Concept{}},
	}
	demo := demographics()
	require.NoError(t, cat.datasets.Create(context.Background(), demo))
	cat.demographics = demo.ID

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	svc := NewService(newTestCompiler(t, dialect.NewPostgres(), cohort.Options{}), queries, cat.datasets,
		cohort.NewResolver(cat.concepts), x, time.Minute, logger)
	return svc, cat, id
}

func asUser(user string, roles ...string) context.Context {
	return auth.WithUser(context.Background(), user, roles)
}

func TestService_Extract(t *testing.T) {
	x := &stubExtractor{}
	svc, cat, id := newTestService(t, x)

	res, err := svc.Extract(asUser("alice", "researcher"), &Request{QueryID: id, DatasetID: cat.demographics})
	require.NoError(t, err)
	assert.Equal(t, id, res.QueryID)
	assert.Equal(t, id, x.queryID)
	assert.Contains(t, x.sql, "@queryid")
	assert.Contains(t, x.sql, "dbo.person")
	assert.Len(t, res.Rows, 2)
}

func TestService_Extract_OtherOwner(t *testing.T) {
	svc, cat, id := newTestService(t, &stubExtractor{})
	_, err := svc.Extract(asUser("bob", "researcher"), &Request{QueryID: id, DatasetID: cat.demographics})
	assert.ErrorIs(t, err, cohort.ErrQueryNotFound)

	_, err = svc.Extract(asUser("root", "admin"), &Request{QueryID: id, DatasetID: cat.demographics})
	assert.NoError(t, err)
}

func TestService_Extract_UnknownQuery(t *testing.T) {
	svc, cat, _ := newTestService(t, &stubExtractor{})
	_, err := svc.Extract(asUser("alice", "researcher"), &Request{QueryID: uuid.New(), DatasetID: cat.demographics})
	assert.ErrorIs(t, err, cohort.ErrQueryNotFound)
}

func TestService_Extract_Disabled(t *testing.T) {
	svc, cat, id := newTestService(t, nil)
	_, err := svc.Extract(asUser("alice", "researcher"), &Request{QueryID: id, DatasetID: cat.demographics})
	assert.ErrorIs(t, err, cohort.ErrExecutionDisabled)
}

func TestService_ResearcherInlineSQLRejected(t *testing.T) {
	x := &stubExtractor{}
	svc, cat, id := newTestService(t, x)
	ctx := asUser("alice", "researcher")

	secrets := &Query{
		SQLStatement: "SELECT rolname AS PersonId, rolpassword AS Secret FROM pg_authid",
		Columns:      []string{"PersonId", "Secret"},
	}
	_, err := svc.Compile(ctx, &Request{QueryID: id, Dataset: secrets})
	assert.ErrorIs(t, err, cohort.ErrInlineSQL)
	_, err = svc.Extract(ctx, &Request{QueryID: id, Dataset: secrets})
	assert.ErrorIs(t, err, cohort.ErrInlineSQL)

	forged := diabetes()
	forged.Concept.SQLSetFrom = "pg_authid"
	_, err = svc.Extract(ctx, &Request{QueryID: id, Concept: forged})
	assert.ErrorIs(t, err, cohort.ErrInlineSQL)
	assert.Empty(t, x.sql, "nothing may reach the warehouse")

	_, err = svc.Compile(ctx, &Request{QueryID: id, DatasetID: cat.demographics, Dataset: demographics()})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = svc.Compile(asUser("root", "admin"), &Request{QueryID: id, Dataset: demographics()})
	assert.NoError(t, err)
}

func TestService_Compile_CatalogReferences(t *testing.T) {
	svc, cat, id := newTestService(t, nil)
	ctx := asUser("alice", "researcher")

	stmt, err := svc.Compile(ctx, &Request{QueryID: id, Concept: cat.ref(t, hba1c()), Window: year2019()})
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, "dbo.measurement")
	assert.Contains(t, stmt.Columns, cohort.ColNumeric)

	_, err = svc.Compile(ctx, &Request{QueryID: id, Concept: &cohort.PanelItem{Concept: cohort.Concept{ID: uuid.New()}}})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.ErrorIs(t, err, cohort.ErrConceptNotFound)

	_, err = svc.Compile(ctx, &Request{QueryID: id, DatasetID: uuid.New()})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.ErrorIs(t, err, ErrDatasetNotFound)
}

func TestService_DatasetCatalog(t *testing.T) {
	svc, cat, _ := newTestService(t, nil)
	ctx := asUser("root", "admin")

	bad := demographics()
	bad.Columns = []string{"PersonId", "Gender; --"}
	assert.ErrorIs(t, svc.CreateDataset(ctx, bad), ErrInvalidColumn)

	q := demographics()
	require.NoError(t, svc.CreateDataset(ctx, q))
	assert.NotEqual(t, uuid.Nil, q.ID)

	got, err := svc.GetDataset(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, q.SQLStatement, got.SQLStatement)

	_, total, err := svc.ListDatasets(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	require.NoError(t, svc.DeleteDataset(ctx, q.ID))
	assert.ErrorIs(t, svc.DeleteDataset(ctx, q.ID), ErrDatasetNotFound)
	_, err = svc.GetDataset(ctx, cat.demographics)
	assert.NoError(t, err)
}

func TestHandler_Compile(t *testing.T) {
	svc, cat, id := newTestService(t, nil)
	h := NewHandler(svc)
	e := echo.New()

	body, err := json.Marshal(Request{QueryID: id, Concept: cat.ref(t, diabetes())})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(string(body)))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(auth.WithUser(req.Context(), "alice", []string{"researcher"}))
	rec := httptest.NewRecorder()
	require.NoError(t, h.Compile(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusOK, rec.Code)

	var stmt Statement
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stmt))
	assert.Contains(t, stmt.SQL, "INNER JOIN")
	assert.Contains(t, stmt.SQL, "condition_occurrence")
}

func TestHandler_Extract_Errors(t *testing.T) {
	svc, cat, id := newTestService(t, &stubExtractor{})
	h := NewHandler(svc)
	e := echo.New()

	tests := []struct {
		name string
		user string
		body string
		code int
	}{
		{"invalid request", "alice", `{"query_id":"` + id.String() + `"}`, http.StatusBadRequest},
		{"not owner", "bob", `{"query_id":"` + id.String() + `","dataset_id":"` + cat.demographics.String() + `"}`, http.StatusNotFound},
		{"unknown dataset", "alice", `{"query_id":"` + id.String() + `","dataset_id":"` + uuid.NewString() + `"}`, http.StatusBadRequest},
		{"inline dataset", "alice", `{"query_id":"` + id.String() + `","dataset":{"sql_statement":"SELECT rolname AS PersonId, rolpassword AS Secret FROM pg_authid","columns":["PersonId","Secret"]}}`, http.StatusForbidden},
		{"malformed", "alice", `{"query_id":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			req = req.WithContext(auth.WithUser(req.Context(), tt.user, []string{"researcher"}))
			err := h.Extract(e.NewContext(req, httptest.NewRecorder()))
			var he *echo.HTTPError
			require.ErrorAs(t, err, &he)
			assert.Equal(t, tt.code, he.Code)
		})
	}
}

func TestHandler_Extract(t *testing.T) {
	svc, cat, id := newTestService(t, &stubExtractor{})
	h := NewHandler(svc)
	e := echo.New()

	body := `{"query_id":"` + id.String() + `","dataset_id":"` + cat.demographics.String() + `"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(auth.WithUser(req.Context(), "alice", []string{"researcher"}))
	rec := httptest.NewRecorder()
	require.NoError(t, h.Extract(e.NewContext(req, rec)))

	var res Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, []string{"PersonId", "Salt"}, res.Columns)
	assert.Len(t, res.Rows, 2)
}

func TestHandler_Definitions(t *testing.T) {
	svc, cat, _ := newTestService(t, nil)
	h := NewHandler(svc)
	e := echo.New()

	get := func(roles ...string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(auth.WithUser(req.Context(), "alice", roles))
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("id")
		c.SetParamValues(cat.demographics.String())
		require.NoError(t, h.GetDataset(c))
		return rec
	}

	rec := get("researcher")
	assert.Contains(t, rec.Body.String(), "Basic demographics")
	assert.NotContains(t, rec.Body.String(), "dbo.person")

	rec = get("admin")
	assert.Contains(t, rec.Body.String(), "dbo.person")
}
