package preauth

import (
	"github.com/labstack/echo/v4"

	"github.com/schemehealth/claims/internal/platform/apperr"
	"github.com/schemehealth/claims/internal/platform/auth"
	"github.com/schemehealth/claims/internal/platform/validation"
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
	read.GET("/pa-codes", h.ListByReferral)
	read.GET("/pa-codes/:id", h.Get)
}

func (h *Handler) ListByReferral(c echo.Context) error {
	referralID, err := validation.QueryUUID(c, "referral_id")
	if err != nil {
		return err
	}
	if referralID == nil {
		return apperr.Field("referral_id", "is required")
	}
	items, err := h.svc.ListByReferral(c.Request().Context(), *referralID)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*PACode{}
	}
	return response.OK(c, items)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := validation.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	p, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return response.OK(c, p)
}
