package referral

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v4"

	"github.com/schemehealth/claims/internal/platform/apperr"
	"github.com/schemehealth/claims/internal/platform/validation"
)

func newTestHandler() (*Handler, *testEnv, *echo.Echo) {
	env := newTestEnv()
	e := echo.New()
	e.Validator = validation.New()
	return NewHandler(env.svc), env, e
}

func TestHandler_ValidateUTN(t *testing.T) {
	h, env, e := newTestHandler()
	r := env.validated(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(r.ID.String())

	if err := h.ValidateUTN(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Data UTNValidation `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Data.Valid {
		t.Errorf("expected valid, got %+v", body.Data)
	}
}

func TestHandler_Approve(t *testing.T) {
	h, env, e := newTestHandler()
	r := env.pending(t)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"service_bundle_id":1}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(r.ID.String())

	if err := h.Approve(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if env.repo.items[r.ID].Status != StatusApproved {
		t.Error("expected referral approved")
	}
}

func TestHandler_Deny_RequiresReason(t *testing.T) {
	h, env, e := newTestHandler()
	r := env.pending(t)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(r.ID.String())

	err := h.Deny(c)
	ae, ok := apperr.As(err)
	if !ok || ae.Fields["reason"] != "is required" {
		t.Errorf("expected reason field error, got %v", err)
	}
}

func TestHandler_Get_BadID(t *testing.T) {
	h, _, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("nope")

	if err := h.Get(c); apperr.CodeOf(err) != apperr.CodeValidation {
		t.Errorf("expected validation error, got %v", err)
	}
}
