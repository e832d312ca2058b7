package tariff

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/schemehealth/claims/internal/platform/apperr"
	"github.com/schemehealth/claims/internal/platform/auth"
	"github.com/schemehealth/claims/pkg/response"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.ReadRoles...))
	read.GET("/bundles", h.ListBundles)
	read.GET("/bundles/match", h.MatchBundle)
	read.GET("/bundles/:id", h.GetBundle)
}

func (h *Handler) ListBundles(c echo.Context) error {
	activeOnly := c.QueryParam("include_inactive") != "true"
	items, err := h.svc.ListBundles(c.Request().Context(), activeOnly)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*ServiceBundle{}
	}
	return response.OK(c, items)
}

func (h *Handler) GetBundle(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return apperr.Field("id", "must be a numeric bundle id")
	}
	b, err := h.svc.GetBundle(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return response.OK(c, b)
}

func (h *Handler) MatchBundle(c echo.Context) error {
	dx := c.QueryParam("diagnosis")
	if dx == "" {
		return apperr.Field("diagnosis", "is required")
	}
	b, err := h.svc.MatchDiagnosis(c.Request().Context(), dx)
	if err != nil {
		return err
	}
	if b == nil {
		return apperr.NotFound("matching bundle")
	}
	return response.OK(c, b)
}
