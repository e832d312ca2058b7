package admission

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
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

func TestHandler_Create(t *testing.T) {
	h, env, e := newTestHandler()
	r := env.validReferral()

	body := `{"referral_id":"` + r.ID.String() + `","principal_diagnosis":"O82","ward_type":"maternity"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	if err := h.Create(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
}

func TestHandler_Create_ValidationFailure(t *testing.T) {
	h, _, e := newTestHandler()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"principal_diagnosis":""}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	err := h.Create(e.NewContext(req, rec))
	ae, ok := apperr.As(err)
	if !ok || ae.Kind != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if ae.Fields["referral_id"] == "" || ae.Fields["principal_diagnosis"] == "" {
		t.Errorf("expected referral_id and principal_diagnosis errors, got %v", ae.Fields)
	}
}

func TestHandler_Discharge(t *testing.T) {
	h, env, e := newTestHandler()
	r := env.validReferral()
	a, err := env.svc.CreateAdmission(context.Background(), r.ID, "clerk", CreateInput{ReferralID: r.ID, PrincipalDiagnosis: "O80"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"ward_days":5,"discharge_summary":"stable"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())

	if err := h.Discharge(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if env.repo.items[a.ID].Status != StatusDischarged {
		t.Error("expected discharged")
	}
}

func TestHandler_GetActive_None(t *testing.T) {
	h, _, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	if err := h.GetActive(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v, ok := body["data"]; !ok || v != nil {
		t.Errorf("expected data:null, got %v", body)
	}
}

func TestHandler_List(t *testing.T) {
	h, env, e := newTestHandler()
	r := env.validReferral()
	env.svc.CreateAdmission(context.Background(), r.ID, "clerk", CreateInput{ReferralID: r.ID, PrincipalDiagnosis: "O80"})

	req := httptest.NewRequest(http.MethodGet, "/admissions?status=active", nil)
	rec := httptest.NewRecorder()
	if err := h.List(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Total int          `json:"total"`
		Data  []*Admission `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Total != 1 || len(body.Data) != 1 {
		t.Errorf("expected one admission, got %+v", body)
	}

	req = httptest.NewRequest(http.MethodGet, "/admissions?status=bogus", nil)
	rec = httptest.NewRecorder()
	if err := h.List(e.NewContext(req, rec)); apperr.CodeOf(err) != apperr.CodeValidation {
		t.Errorf("expected validation error for bad status, got %v", err)
	}
}
