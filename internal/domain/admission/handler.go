package admission

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/schemehealth/claims/internal/platform/apperr"
	"github.com/schemehealth/claims/internal/platform/auth"
	"github.com/schemehealth/claims/internal/platform/validation"
	"github.com/schemehealth/claims/pkg/pagination"
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
	read.GET("/admissions", h.List)
	read.GET("/admissions/:id", h.Get)
	read.GET("/enrollees/:id/active-admission", h.GetActive)

	write := api.Group("", auth.RequireRole(auth.RoleFacility))
	write.POST("/admissions", h.Create)
	write.POST("/admissions/:id/discharge", h.Discharge)
}

func (h *Handler) Create(c echo.Context) error {
	var in CreateInput
	if err := validation.Bind(c, &in); err != nil {
		return err
	}
	if in.FacilityID == nil {
		if fid, err := uuid.Parse(auth.FacilityFromContext(c.Request().Context())); err == nil {
			in.FacilityID = &fid
		}
	}
	a, err := h.svc.CreateAdmission(c.Request().Context(), in.ReferralID, auth.Actor(c), in)
	if err != nil {
		return err
	}
	return response.Created(c, a)
}

func (h *Handler) Discharge(c echo.Context) error {
	id, err := validation.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	var in DischargeInput
	if err := validation.Bind(c, &in); err != nil {
		return err
	}
	a, err := h.svc.DischargePatient(c.Request().Context(), id, auth.Actor(c), in)
	if err != nil {
		return err
	}
	return response.Message(c, "patient discharged", a)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := validation.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	a, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return response.OK(c, a)
}

func (h *Handler) GetActive(c echo.Context) error {
	enrolleeID, err := validation.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	a, err := h.svc.GetActiveAdmission(c.Request().Context(), enrolleeID)
	if err != nil {
		return err
	}
	return response.OK(c, a)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := ListFilter{Limit: pg.Limit, Offset: pg.Offset}

	var err error
	if f.EnrolleeID, err = validation.QueryUUID(c, "enrollee_id"); err != nil {
		return err
	}
	if f.FacilityID, err = validation.QueryUUID(c, "facility_id"); err != nil {
		return err
	}
	switch st := Status(c.QueryParam("status")); st {
	case "", StatusActive, StatusDischarged:
		f.Status = st
	default:
		return apperr.Field("status", "must be one of: active discharged")
	}

	items, total, err := h.svc.List(c.Request().Context(), f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
