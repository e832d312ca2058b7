package referral

import (
	"github.com/labstack/echo/v4"

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
	read.GET("/referrals/:id", h.Get)
	read.GET("/referrals/:id/utn-validation", h.ValidateUTN)

	review := api.Group("", auth.RequireRole(auth.RoleReviewer))
	review.POST("/referrals/:id/confirm-utn", h.ConfirmUTN)
	review.POST("/referrals/:id/approve", h.Approve)
	review.POST("/referrals/:id/deny", h.Deny)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := validation.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	r, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return response.OK(c, r)
}

func (h *Handler) ValidateUTN(c echo.Context) error {
	id, err := validation.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	v, err := h.svc.ValidateUTN(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return response.OK(c, v)
}

func (h *Handler) ConfirmUTN(c echo.Context) error {
	id, err := validation.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	var in ConfirmUTNInput
	if err := validation.Bind(c, &in); err != nil {
		return err
	}
	r, err := h.svc.ConfirmUTN(c.Request().Context(), id, auth.Actor(c), in.UTN)
	if err != nil {
		return err
	}
	return response.Message(c, "UTN confirmed", r)
}

func (h *Handler) Approve(c echo.Context) error {
	id, err := validation.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	var in ApproveInput
	if err := validation.Bind(c, &in); err != nil {
		return err
	}
	res, err := h.svc.Approve(c.Request().Context(), id, auth.Actor(c), in)
	if err != nil {
		return err
	}
	return response.Message(c, "referral approved", res)
}

func (h *Handler) Deny(c echo.Context) error {
	id, err := validation.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	var in DenyInput
	if err := validation.Bind(c, &in); err != nil {
		return err
	}
	r, err := h.svc.Deny(c.Request().Context(), id, auth.Actor(c), in.Reason)
	if err != nil {
		return err
	}
	return response.Message(c, "referral denied", r)
}
