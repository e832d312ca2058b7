package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey     contextKey = "user_id"
	UserRolesKey  contextKey = "user_roles"
	FacilityIDKey contextKey = "facility_id"
)

// Claims issued by the scheme's identity provider.
type Claims struct {
	jwt.RegisteredClaims
	SchemeID   string   `json:"scheme_id"`
	Roles      []string `json:"roles"`
	FacilityID string   `json:"facility_id,omitempty"`
}

type JWTConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string
	// SigningKey enables HS256 verification for development and tests.
	SigningKey []byte
}

func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"RS256", "HS256"})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	var keyFunc jwt.Keyfunc
	if len(cfg.SigningKey) > 0 {
		keyFunc = func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrTokenSignatureInvalid
			}
			return cfg.SigningKey, nil
		}
	} else {
		keyFunc = NewJWKSCache(cfg.JWKSURL, defaultJWKSCacheTTL).keyFunc
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			scheme, tokenStr, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || tokenStr == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenStr, claims, keyFunc, opts...)
			if err != nil || !token.Valid || claims.Subject == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			setIdentity(c, claims.Subject, claims.Roles, claims.FacilityID, claims.SchemeID)
			return next(c)
		}
	}
}

// DevAuthMiddleware trusts X-Dev-User / X-Dev-Roles headers and defaults to
// an admin identity. Never enabled in production.
func DevAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user := c.Request().Header.Get("X-Dev-User")
			if user == "" {
				user = "dev-user"
			}
			roles := []string{RoleAdmin}
			if h := c.Request().Header.Get("X-Dev-Roles"); h != "" {
				roles = strings.Split(h, ",")
				for i := range roles {
					roles[i] = strings.TrimSpace(roles[i])
				}
			}
			setIdentity(c, user, roles, c.Request().Header.Get("X-Dev-Facility"), "")
			return next(c)
		}
	}
}

func setIdentity(c echo.Context, userID string, roles []string, facilityID, schemeID string) {
	if schemeID != "" {
		c.Set("jwt_scheme_id", schemeID)
	}
	c.Set("user_id", userID)

	ctx := c.Request().Context()
	ctx = context.WithValue(ctx, UserIDKey, userID)
	ctx = context.WithValue(ctx, UserRolesKey, roles)
	ctx = context.WithValue(ctx, FacilityIDKey, facilityID)
	c.SetRequest(c.Request().WithContext(ctx))
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}

func FacilityFromContext(ctx context.Context) string {
	fid, _ := ctx.Value(FacilityIDKey).(string)
	return fid
}

// Actor returns the authenticated user id for the request, the value every
// mutating service call records as its actor.
func Actor(c echo.Context) string {
	return UserIDFromContext(c.Request().Context())
}
