package dataset

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/cohort/cohort/internal/domain/cohort"
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
	g := api.Group("/datasets", auth.RequireRole("researcher", "admin"))
	g.POST("/compile", h.Compile)
	g.POST("/extract", h.Extract)

	g.GET("/definitions", h.ListDatasets)
	g.GET("/definitions/:id", h.GetDataset)
	g.POST("/definitions", h.CreateDataset, auth.RequireRole("admin"))
	g.DELETE("/definitions/:id", h.DeleteDataset, auth.RequireRole("admin"))
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, cohort.ErrInlineSQL):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, cohort.ErrQueryNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "query not found")
	case errors.Is(err, ErrDatasetNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "dataset not found")
	case errors.Is(err, cohort.ErrExecutionDisabled), errors.Is(err, cohort.ErrNoCatalog):
		return echo.NewHTTPError(http.StatusNotImplemented, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) Compile(c echo.Context) error {
	var req Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	stmt, err := h.svc.Compile(c.Request().Context(), &req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, stmt)
}

// Extract runs a dataset and returns its rows as JSON, or as a csv or xlsx
// attachment when ?format= asks for one.
func (h *Handler) Extract(c echo.Context) error {
	format := c.QueryParam("format")
	if format == "" {
		format = FormatJSON
	}
	if ContentType(format) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unsupported format %q", format))
	}

	var req Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	c.Set(middleware.AuditQueryIDKey, req.QueryID.String())
	res, err := h.svc.Extract(c.Request().Context(), &req)
	if err != nil {
		return httpError(err)
	}

	var write func(io.Writer, *Result) error
	switch format {
	case FormatCSV:
		write = WriteCSV
	case FormatXLSX:
		write = WriteXLSX
	default:
		return c.JSON(http.StatusOK, res)
	}

	var buf bytes.Buffer
	if err := write(&buf, res); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf("attachment; filename=%q", "dataset-"+res.QueryID.String()+"."+format))
	return c.Blob(http.StatusOK, ContentType(format), buf.Bytes())
}

// ListDatasets lists the catalog. Only admins see the SQL behind each entry.
func (h *Handler) ListDatasets(c echo.Context) error {
	ctx := c.Request().Context()
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListDatasets(ctx, pg.Limit, pg.Offset)
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

func (h *Handler) GetDataset(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	q, err := h.svc.GetDataset(ctx, id)
	if err != nil {
		return httpError(err)
	}
	if !auth.HasRole(ctx, "admin") {
		pub := q.Public()
		q = &pub
	}
	return c.JSON(http.StatusOK, q)
}

func (h *Handler) CreateDataset(c echo.Context) error {
	var q Query
	if err := c.Bind(&q); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateDataset(c.Request().Context(), &q); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, q)
}

func (h *Handler) DeleteDataset(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteDataset(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
