package payment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v4"

	"github.com/schemehealth/claims/internal/domain/claims"
	"github.com/schemehealth/claims/internal/platform/apperr"
	"github.com/schemehealth/claims/internal/platform/validation"
)

func newTestHandler() (*Handler, *testEnv, *echo.Echo) {
	env := newTestEnv()
	e := echo.New()
	e.Validator = validation.New()
	return NewHandler(env.svc), env, e
}

func jsonRequest(method, target, body string) (*http.Request, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req, httptest.NewRecorder()
}

func TestHandler_Create(t *testing.T) {
	h, env, e := newTestHandler()
	env.addClaim(facilityA, claims.StatusApproved, september, "130000", "3000", "")
	env.addClaim(facilityA, claims.StatusApproved, september, "90000", "0", "85000")

	req, rec := jsonRequest(http.MethodPost, "/", `{"batch_month":"2026-09"}`)
	if err := h.Create(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var resp struct {
		Data struct {
			BatchNumber string `json:"batch_number"`
			Status      string `json:"status"`
			ClaimsCount int    `json:"claims_count"`
			TotalAmount string `json:"total_amount"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Data.Status != "pending" || resp.Data.ClaimsCount != 2 || resp.Data.TotalAmount != "218000" {
		t.Errorf("unexpected response %s", rec.Body.String())
	}
	if !strings.HasPrefix(resp.Data.BatchNumber, "PB-202609-") {
		t.Errorf("batch number %q", resp.Data.BatchNumber)
	}
}

func TestHandler_Create_BadMonth(t *testing.T) {
	h, _, e := newTestHandler()
	req, rec := jsonRequest(http.MethodPost, "/", `{"batch_month":"09-2026"}`)

	err := h.Create(e.NewContext(req, rec))
	ae, ok := apperr.As(err)
	if !ok || ae.Fields["batch_month"] == "" {
		t.Fatalf("expected a batch_month error, got %v", err)
	}
}

func TestHandler_Process_RequiresKnownMethod(t *testing.T) {
	h, env, e := newTestHandler()
	env.addClaim(facilityA, claims.StatusApproved, september, "1000", "0", "")
	b, err := env.svc.CreateBatch(context.Background(), "f", CreateBatchInput{BatchMonth: "2026-09"})
	if err != nil {
		t.Fatal(err)
	}

	req, rec := jsonRequest(http.MethodPost, "/", `{"payment_method":"cash"}`)
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(b.ID.String())
	err = h.Process(c)
	ae, ok := apperr.As(err)
	if !ok || ae.Fields["payment_method"] == "" {
		t.Fatalf("expected a payment_method error, got %v", err)
	}
	if env.repo.batches[b.ID].Status != StatusPending {
		t.Error("batch must stay pending")
	}
}

func TestHandler_MarkPaid_WrongState(t *testing.T) {
	h, env, e := newTestHandler()
	env.addClaim(facilityA, claims.StatusApproved, september, "1000", "0", "")
	b, err := env.svc.CreateBatch(context.Background(), "f", CreateBatchInput{BatchMonth: "2026-09"})
	if err != nil {
		t.Fatal(err)
	}

	req, rec := jsonRequest(http.MethodPost, "/", `{"payment_reference":"TRX-1"}`)
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(b.ID.String())
	err = h.MarkPaid(c)
	if apperr.CodeOf(err) != apperr.CodeInvalidBatchState {
		t.Fatalf("expected INVALID_BATCH_STATE, got %v", err)
	}
	if ae, _ := apperr.As(err); ae.Status() != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", ae.Status())
	}
}

func TestHandler_Get_NotFound(t *testing.T) {
	h, _, e := newTestHandler()
	req, rec := jsonRequest(http.MethodGet, "/", "")
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("9b2f8a47-4e7c-4f51-b7a9-1f0d6c2e9a10")

	if err := h.Get(c); !apperr.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestHandler_List(t *testing.T) {
	h, env, e := newTestHandler()
	env.addClaim(facilityA, claims.StatusApproved, september, "1000", "0", "")
	if _, err := env.svc.CreateBatch(context.Background(), "f", CreateBatchInput{BatchMonth: "2026-09"}); err != nil {
		t.Fatal(err)
	}

	req, rec := jsonRequest(http.MethodGet, "/?status=pending&batch_month=2026-09", "")
	if err := h.List(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Total   int  `json:"total"`
		HasMore bool `json:"has_more"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 1 || resp.HasMore {
		t.Errorf("unexpected response %s", rec.Body.String())
	}

	req, rec = jsonRequest(http.MethodGet, "/?status=settled", "")
	if err := h.List(e.NewContext(req, rec)); apperr.CodeOf(err) != apperr.CodeValidation {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestHandler_Claims(t *testing.T) {
	h, env, e := newTestHandler()
	env.addClaim(facilityA, claims.StatusApproved, september, "1000", "0", "")
	env.addClaim(facilityB, claims.StatusApproved, september, "2000", "0", "")
	b, err := env.svc.CreateBatch(context.Background(), "f", CreateBatchInput{BatchMonth: "2026-09"})
	if err != nil {
		t.Fatal(err)
	}

	req, rec := jsonRequest(http.MethodGet, "/", "")
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(b.ID.String())
	if err := h.Claims(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Data []struct {
			PaymentBatchID string `json:"payment_batch_id"`
		} `json:"data"`
		Total int `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 2 || len(resp.Data) != 2 || resp.Data[0].PaymentBatchID != b.ID.String() {
		t.Errorf("unexpected response %s", rec.Body.String())
	}
}
