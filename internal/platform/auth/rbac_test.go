package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func contextWithRoles(roles ...string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), UserRolesKey, roles))
	return e.NewContext(req, httptest.NewRecorder())
}

func okHandler(c echo.Context) error { return c.NoContent(http.StatusOK) }

func TestRequireRole_Allowed(t *testing.T) {
	if err := RequireRole(RoleFinance)(okHandler)(contextWithRoles(RoleFinance)); err != nil {
		t.Errorf("expected finance to pass, got %v", err)
	}
}

func TestRequireRole_Denied(t *testing.T) {
	err := RequireRole(RoleReviewer)(okHandler)(contextWithRoles(RoleFacility))
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}
}

func TestRequireRole_AdminBypass(t *testing.T) {
	if err := RequireRole(RoleFinance)(okHandler)(contextWithRoles(RoleAdmin)); err != nil {
		t.Errorf("expected admin to pass, got %v", err)
	}
}

func TestRequireRole_NoRoles(t *testing.T) {
	if err := RequireRole(ReadRoles...)(okHandler)(contextWithRoles()); err == nil {
		t.Error("expected request without roles to be denied")
	}
}

func TestHasAnyRole(t *testing.T) {
	tests := []struct {
		user []string
		req  []string
		want bool
	}{
		{[]string{RoleReviewer}, ReadRoles, true},
		{[]string{RoleFacility}, []string{RoleFinance}, false},
		{[]string{RoleAdmin}, []string{RoleFinance}, true},
		{nil, ReadRoles, false},
	}
	for _, tt := range tests {
		if got := HasAnyRole(tt.user, tt.req...); got != tt.want {
			t.Errorf("HasAnyRole(%v, %v) = %v, want %v", tt.user, tt.req, got, tt.want)
		}
	}
}
