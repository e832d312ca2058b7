package claims

import (
	"net/http"

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
	read.GET("/claims", h.List)
	read.GET("/claims/:id", h.Get)
	read.GET("/claims/:id/summary", h.Summary)
	read.GET("/claims/:id/treatments", h.Treatments)
	read.GET("/claims/:id/history", h.History)

	facility := api.Group("", auth.RequireRole(auth.RoleFacility))
	facility.POST("/claims", h.Create)
	facility.POST("/claims/:id/bundle-treatments", h.AddBundleTreatment)
	facility.POST("/claims/:id/ffs-treatments", h.AddFFSTreatment)

	review := api.Group("", auth.RequireRole(auth.RoleReviewer))
	review.POST("/claims/:id/submit", h.Submit)
	review.POST("/claims/:id/validate", h.Validate)
	review.POST("/claims/:id/approve", h.Approve)
	review.POST("/claims/:id/reject", h.Reject)
	review.POST("/claims/:id/lines/:line_id/review", h.ReviewLine)
	review.POST("/claims/:id/alerts/:alert_id/apply", h.ApplyAlert)
}

func (h *Handler) Create(c echo.Context) error {
	var in CreateClaimInput
	if err := validation.Bind(c, &in); err != nil {
		return err
	}
	claim, err := h.svc.CreateClaim(c.Request().Context(), auth.Actor(c), in)
	if err != nil {
		return err
	}
	return response.Created(c, claim)
}

func (h *Handler) AddBundleTreatment(c echo.Context) error {
	id, err := validation.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	var in BundleTreatmentInput
	if err := validation.Bind(c, &in); err != nil {
		return err
	}
	claim, err := h.svc.AddBundleTreatment(c.Request().Context(), id, auth.Actor(c), in.PACodeID, in)
	if err != nil {
		return err
	}
	return response.Created(c, claim)
}

func (h *Handler) AddFFSTreatment(c echo.Context) error {
	id, err := validation.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	var in FFSTreatmentInput
	if err := validation.Bind(c, &in); err != nil {
		return err
	}
	claim, err := h.svc.AddFFSTreatment(c.Request().Context(), id, auth.Actor(c), in.PACodeID, in)
	if err != nil {
		return err
	}
	return response.Created(c, claim)
}

func (h *Handler) Submit(c echo.Context) error {
	id, err := validation.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	claim, err := h.svc.SubmitClaim(c.Request().Context(), id, auth.Actor(c))
	if err != nil {
		return err
	}
	return response.Message(c, "claim is now "+string(claim.Status), claim)
}

func (h *Handler) Validate(c echo.Context) error {
	id, err := validation.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	alerts, err := h.svc.ValidateClaim(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return response.OK(c, alerts)
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
	claim, err := h.svc.ApproveClaim(c.Request().Context(), id, auth.Actor(c), in)
	if err != nil {
		return err
	}
	return response.Message(c, "claim approved", claim)
}

func (h *Handler) Reject(c echo.Context) error {
	id, err := validation.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	var in RejectInput
	if err := validation.Bind(c, &in); err != nil {
		return err
	}
	claim, err := h.svc.RejectClaim(c.Request().Context(), id, auth.Actor(c), in.RejectionReason)
	if err != nil {
		return err
	}
	return response.Message(c, "claim rejected", claim)
}

func (h *Handler) ReviewLine(c echo.Context) error {
	id, err := validation.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	lineID, err := validation.ParamUUID(c, "line_id")
	if err != nil {
		return err
	}
	var in LineReviewInput
	if err := validation.Bind(c, &in); err != nil {
		return err
	}
	line, err := h.svc.ReviewLine(c.Request().Context(), id, lineID, auth.Actor(c), in)
	if err != nil {
		return err
	}
	return response.OK(c, line)
}

func (h *Handler) ApplyAlert(c echo.Context) error {
	id, err := validation.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	alertID, err := validation.ParamUUID(c, "alert_id")
	if err != nil {
		return err
	}
	var in ApplyAlertInput
	if err := validation.Bind(c, &in); err != nil {
		return err
	}
	a, err := h.svc.ApplyAlertAction(c.Request().Context(), id, alertID, auth.Actor(c), in.Note)
	if err != nil {
		return err
	}
	return response.Message(c, "alert resolved", a)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := validation.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	claim, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return response.OK(c, claim)
}

func (h *Handler) Summary(c echo.Context) error {
	id, err := validation.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	sum, err := h.svc.GetClaimSummary(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return response.OK(c, sum)
}

func (h *Handler) Treatments(c echo.Context) error {
	id, err := validation.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	split, err := h.svc.Treatments(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return response.OK(c, split)
}

func (h *Handler) History(c echo.Context) error {
	id, err := validation.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	items, err := h.svc.History(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return response.OK(c, items)
}

var (
	validStatuses        = []ClaimStatus{StatusDraft, StatusSubmitted, StatusReviewing, StatusApproved, StatusRejected}
	validPaymentStatuses = []PaymentStatus{PaymentNotProcessed, PaymentProcessed, PaymentPaid}
)

func oneOf[T ~string](v T, allowed []T) bool {
	for _, a := range allowed {
		if a == v {
			return true
		}
	}
	return false
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := ListFilter{Limit: pg.Limit, Offset: pg.Offset}

	if st := ClaimStatus(c.QueryParam("status")); st != "" {
		if !oneOf(st, validStatuses) {
			return apperr.Field("status", "must be one of: draft submitted reviewing approved rejected")
		}
		f.Status = st
	}
	if ps := PaymentStatus(c.QueryParam("payment_status")); ps != "" {
		if !oneOf(ps, validPaymentStatuses) {
			return apperr.Field("payment_status", "must be one of: not_processed processed paid")
		}
		f.PaymentStatus = ps
	}
	var err error
	if f.FacilityID, err = validation.QueryUUID(c, "facility_id"); err != nil {
		return err
	}
	if f.ReferralID, err = validation.QueryUUID(c, "referral_id"); err != nil {
		return err
	}
	if f.PaymentBatchID, err = validation.QueryUUID(c, "payment_batch_id"); err != nil {
		return err
	}

	items, total, err := h.svc.List(c.Request().Context(), f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
