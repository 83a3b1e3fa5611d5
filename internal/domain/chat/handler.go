package chat

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/clinicore/practice/internal/platform/apierr"
	"github.com/clinicore/practice/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/chat", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse, auth.RoleReceptionist, auth.RolePatient))
	g.GET("/conversations/:id/messages", h.ListMessages)
	g.POST("/conversations/:id/messages", h.PostMessage)

	admin := api.Group("/chat", auth.RequireRole(auth.RoleAdmin))
	admin.DELETE("/conversations/:id", h.DeleteConversation)
}

func (h *Handler) PostMessage(c echo.Context) error {
	var req struct {
		Body string `json:"body"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	m, err := h.svc.Post(c.Request().Context(), c.Param("id"), req.Body)
	if err != nil {
		return apierr.From(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) ListMessages(c echo.Context) error {
	var before time.Time
	if v := c.QueryParam("before"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid before")
		}
		before = t
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	page, err := h.svc.Messages(c.Request().Context(), c.Param("id"), before, limit)
	if err != nil {
		return apierr.From(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, page)
}

func (h *Handler) DeleteConversation(c echo.Context) error {
	if err := h.svc.DeleteConversation(c.Request().Context(), c.Param("id")); err != nil {
		return apierr.From(err, http.StatusInternalServerError)
	}
	return c.NoContent(http.StatusNoContent)
}
