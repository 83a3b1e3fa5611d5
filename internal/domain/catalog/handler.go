package catalog

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicore/practice/internal/platform/apierr"
	"github.com/clinicore/practice/internal/platform/auth"
	"github.com/clinicore/practice/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("/catalog", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse, auth.RoleReceptionist, auth.RolePatient))
	read.GET("/services", h.List)
	read.GET("/services/:id", h.Get)

	write := api.Group("/catalog", auth.RequireRole(auth.RoleAdmin))
	write.POST("/services", h.Create)
	write.PUT("/services/:id", h.Update)
	write.DELETE("/services/:id", h.Delete)
}

func (h *Handler) Create(c echo.Context) error {
	var cs ClinicService
	if err := c.Bind(&cs); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cs.ID = uuid.Nil
	if err := h.svc.Create(c.Request().Context(), &cs); err != nil {
		return apierr.From(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusCreated, cs)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	cs, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apierr.From(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, cs)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := ListFilter{
		Category:   c.QueryParam("category"),
		ActiveOnly: c.QueryParam("active") == "true",
		Limit:      pg.Limit,
		Offset:     pg.Offset,
	}
	page, err := h.svc.List(c.Request().Context(), f)
	if err != nil {
		return apierr.From(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(page.Items, page.Total, pg))
}

func (h *Handler) Update(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var cs ClinicService
	if err := c.Bind(&cs); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cs.ID = id
	if err := h.svc.Update(c.Request().Context(), &cs); err != nil {
		return apierr.From(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, cs)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return apierr.From(err, http.StatusInternalServerError)
	}
	return c.NoContent(http.StatusNoContent)
}
