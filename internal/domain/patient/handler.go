package patient

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
	staff := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse, auth.RoleReceptionist))
	staff.GET("/patients", h.List)
	staff.GET("/patients/:id", h.Get)
	staff.POST("/patients", h.Create)
	staff.PUT("/patients/:id", h.Update)
	staff.DELETE("/patients/:id", h.Delete)

	me := api.Group("/me", auth.RequireRole(auth.RolePatient, auth.RoleDoctor, auth.RoleNurse, auth.RoleReceptionist))
	me.GET("/tenants", h.MyTenants)
}

func (h *Handler) Create(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.ID = uuid.Nil
	if err := h.svc.Create(c.Request().Context(), &p); err != nil {
		return apierr.From(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apierr.From(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := ListFilter{
		LastName:   c.QueryParam("last_name"),
		DocumentID: c.QueryParam("document_id"),
	}
	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apierr.From(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) Update(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.ID = id
	if err := h.svc.Update(c.Request().Context(), &p); err != nil {
		return apierr.From(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, p)
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

func (h *Handler) MyTenants(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"tenants": h.svc.MyTenants(c.Request().Context()),
	})
}
