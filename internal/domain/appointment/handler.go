package appointment

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicore/practice/internal/platform/apierr"
	"github.com/clinicore/practice/internal/platform/auth"
	"github.com/clinicore/practice/internal/platform/reqctx"
	"github.com/clinicore/practice/pkg/pagination"
)

type Handler struct {
	svc        *Service
	reconciler *Reconciler
}

func NewHandler(svc *Service, reconciler *Reconciler) *Handler {
	return &Handler{svc: svc, reconciler: reconciler}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	staff := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse, auth.RoleReceptionist))
	staff.GET("/appointments", h.List)
	staff.GET("/appointments/stats", h.Stats)
	staff.GET("/appointments/:id", h.Get)
	staff.POST("/appointments", h.Create)
	staff.PUT("/appointments/:id", h.Reschedule)
	staff.PATCH("/appointments/:id/status", h.UpdateStatus)
	staff.DELETE("/appointments/:id", h.Delete)

	admin := api.Group("/admin", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/appointments/reconcile", h.Reconcile)
}

func (h *Handler) Create(c echo.Context) error {
	var a Appointment
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a.ID = uuid.Nil
	if err := h.svc.Create(c.Request().Context(), &a); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	var f ListFilter
	if pid := c.QueryParam("patient_id"); pid != "" {
		id, err := uuid.Parse(pid)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = id
	}
	f.Status = Status(c.QueryParam("status"))
	var err error
	if f.From, err = parseTime(c.QueryParam("from")); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid from")
	}
	if f.To, err = parseTime(c.QueryParam("to")); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid to")
	}
	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) Reschedule(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var a Appointment
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a.ID = id
	if err := h.svc.Reschedule(c.Request().Context(), &a); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, a)
}

type statusRequest struct {
	Status Status `json:"status"`
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.UpdateStatus(c.Request().Context(), id, req.Status)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Stats counts appointments by status. Admins may name any tenant or ask
// for all_tenants=true; everyone else is pinned to the tenant of the request.
func (h *Handler) Stats(c echo.Context) error {
	ctx := c.Request().Context()
	var f StatsFilter
	var err error
	if f.From, err = parseTime(c.QueryParam("from")); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid from")
	}
	if f.To, err = parseTime(c.QueryParam("to")); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid to")
	}
	current, _ := reqctx.TenantID(ctx)
	isAdmin := auth.HasRole(ctx, auth.RoleAdmin)
	f.TenantID = current
	if requested := c.QueryParam("tenant_id"); requested != "" && requested != current {
		if !isAdmin {
			return echo.NewHTTPError(http.StatusForbidden, "cannot read statistics of another tenant")
		}
		f.TenantID = requested
	}
	allTenants := c.QueryParam("all_tenants") == "true"
	if allTenants {
		if !isAdmin {
			return echo.NewHTTPError(http.StatusForbidden, "cannot read statistics of all tenants")
		}
		f.TenantID = ""
	}
	if f.TenantID == "" && !allTenants {
		return echo.NewHTTPError(http.StatusForbidden, "no tenant in request")
	}
	st, err := h.reconciler.Stats(ctx, f)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, st)
}

// Reconcile runs the reconciliation job on demand and returns its result.
func (h *Handler) Reconcile(c echo.Context) error {
	res := h.reconciler.Run(c.Request().Context())
	status := http.StatusOK
	if res.Skipped {
		status = http.StatusConflict
	}
	return c.JSON(status, res)
}

func mapError(err error) error {
	if errors.Is(err, ErrInvalidTransition) {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return apierr.From(err, http.StatusInternalServerError)
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}
