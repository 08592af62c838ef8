package cohort

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/cohort/cohort/internal/platform/auth"
	"github.com/cohort/cohort/internal/platform/middleware"
	"github.com/cohort/cohort/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/cohort", auth.RequireRole("researcher", "admin"))
	g.POST("/compile", h.Compile)
	g.POST("/preview", h.Preview)
	g.POST("/count", h.Count)
	g.GET("/queries", h.ListQueries)
	g.GET("/queries/:id", h.GetQuery)
	g.DELETE("/queries/:id", h.DeleteQuery)

	g.GET("/concepts", h.ListConcepts)
	g.GET("/concepts/:id", h.GetConcept)
	g.POST("/concepts", h.CreateConcept, auth.RequireRole("admin"))
	g.DELETE("/concepts/:id", h.DeleteConcept, auth.RequireRole("admin"))
}

// httpError maps service errors onto status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidQuery):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInlineSQL):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrQueryNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "query not found")
	case errors.Is(err, ErrConceptNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "concept not found")
	case errors.Is(err, ErrExecutionDisabled), errors.Is(err, ErrNoCatalog):
		return echo.NewHTTPError(http.StatusNotImplemented, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func bindQuery(c echo.Context) (*Query, error) {
	var q Query
	if err := c.Bind(&q); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return &q, nil
}

func (h *Handler) Compile(c echo.Context) error {
	q, err := bindQuery(c)
	if err != nil {
		return err
	}
	res, err := h.svc.Compile(c.Request().Context(), q)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Preview(c echo.Context) error {
	q, err := bindQuery(c)
	if err != nil {
		return err
	}
	n, err := h.svc.Preview(c.Request().Context(), q)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]int64{"count": n})
}

func (h *Handler) Count(c echo.Context) error {
	q, err := bindQuery(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	res, err := h.svc.Count(ctx, auth.UserIDFromContext(ctx), q)
	if err != nil {
		return httpError(err)
	}
	c.Set(middleware.AuditQueryIDKey, res.QueryID.String())
	return c.JSON(http.StatusCreated, res)
}

// ListQueries lists the caller's queries; admins see every owner's.
func (h *Handler) ListQueries(c echo.Context) error {
	ctx := c.Request().Context()
	owner := auth.UserIDFromContext(ctx)
	if auth.HasRole(ctx, "admin") {
		owner = c.QueryParam("owner")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListQueries(ctx, owner, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pg.Respond(items, total))
}

func (h *Handler) GetQuery(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	q, err := h.svc.GetQuery(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if !CanAccess(c.Request().Context(), q) {
		return echo.NewHTTPError(http.StatusNotFound, "query not found")
	}
	return c.JSON(http.StatusOK, q)
}

func (h *Handler) DeleteQuery(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	q, err := h.svc.GetQuery(ctx, id)
	if err != nil {
		return httpError(err)
	}
	if !CanAccess(ctx, q) {
		return echo.NewHTTPError(http.StatusNotFound, "query not found")
	}
	if err := h.svc.DeleteQuery(ctx, id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ListConcepts lists the catalog. Only admins see the SQL behind each concept.
func (h *Handler) ListConcepts(c echo.Context) error {
	ctx := c.Request().Context()
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListConcepts(ctx, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	if !auth.HasRole(ctx, "admin") {
		for i, item := range items {
			pub := item.Public()
			items[i] = &pub
		}
	}
	return c.JSON(http.StatusOK, pg.Respond(items, total))
}

func (h *Handler) GetConcept(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	concept, err := h.svc.GetConcept(ctx, id)
	if err != nil {
		return httpError(err)
	}
	if !auth.HasRole(ctx, "admin") {
		pub := concept.Public()
		concept = &pub
	}
	return c.JSON(http.StatusOK, concept)
}

func (h *Handler) CreateConcept(c echo.Context) error {
	var concept Concept
	if err := c.Bind(&concept); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateConcept(c.Request().Context(), &concept); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, concept)
}

func (h *Handler) DeleteConcept(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteConcept(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// CanAccess reports whether the caller in ctx owns q or is an admin.
func CanAccess(ctx context.Context, q *SavedQuery) bool {
	return auth.HasRole(ctx, "admin") || q.Owner == auth.UserIDFromContext(ctx)
}
