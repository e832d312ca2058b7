package payment

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
	read.GET("/payment-batches", h.List)
	read.GET("/payment-batches/:id", h.Get)
	read.GET("/payment-batches/:id/claims", h.Claims)

	write := api.Group("", auth.RequireRole(auth.RoleFinance))
	write.POST("/payment-batches", h.Create)
	write.POST("/payment-batches/:id/process", h.Process)
	write.POST("/payment-batches/:id/mark-paid", h.MarkPaid)
	write.POST("/payment-batches/:id/mark-failed", h.MarkFailed)
}

func (h *Handler) Create(c echo.Context) error {
	var in CreateBatchInput
	if err := validation.Bind(c, &in); err != nil {
		return err
	}
	b, err := h.svc.CreateBatch(c.Request().Context(), auth.Actor(c), in)
	if err != nil {
		return err
	}
	return response.Created(c, b)
}

func (h *Handler) Process(c echo.Context) error {
	id, err := validation.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	var in ProcessInput
	if err := validation.Bind(c, &in); err != nil {
		return err
	}
	b, err := h.svc.Process(c.Request().Context(), id, auth.Actor(c), in)
	if err != nil {
		return err
	}
	return response.Message(c, "payment batch is processing", b)
}

func (h *Handler) MarkPaid(c echo.Context) error {
	id, err := validation.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	var in MarkPaidInput
	if err := validation.Bind(c, &in); err != nil {
		return err
	}
	b, err := h.svc.MarkPaid(c.Request().Context(), id, auth.Actor(c), in)
	if err != nil {
		return err
	}
	return response.Message(c, "payment batch paid", b)
}

func (h *Handler) MarkFailed(c echo.Context) error {
	id, err := validation.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	var in MarkFailedInput
	if err := validation.Bind(c, &in); err != nil {
		return err
	}
	b, err := h.svc.MarkFailed(c.Request().Context(), id, auth.Actor(c), in.Reason)
	if err != nil {
		return err
	}
	return response.Message(c, "payment batch marked failed", b)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := validation.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	b, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return response.OK(c, b)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := ListFilter{Limit: pg.Limit, Offset: pg.Offset}

	switch st := BatchStatus(c.QueryParam("status")); st {
	case "", StatusPending, StatusProcessing, StatusPaid, StatusFailed:
		f.Status = st
	default:
		return apperr.Field("status", "must be one of: pending processing paid failed")
	}
	if month := c.QueryParam("batch_month"); month != "" {
		if _, _, err := validation.MonthRange(month); err != nil {
			return err
		}
		f.BatchMonth = month
	}
	var err error
	if f.FacilityID, err = validation.QueryUUID(c, "facility_id"); err != nil {
		return err
	}

	items, total, err := h.svc.List(c.Request().Context(), f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Claims(c echo.Context) error {
	id, err := validation.ParamUUID(c, "id")
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.Claims(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
