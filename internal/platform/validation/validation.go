// Package validation binds request bodies and checks them with
// go-playground/validator, reporting failures by JSON field name.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/schemehealth/claims/internal/platform/apperr"
)

var batchMonthPattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

// Validator implements echo.Validator.
type Validator struct {
	v *validator.Validate
}

func New() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	// Decimals validate as floats so gt/gte/lte tags work on amounts.
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	_ = v.RegisterValidation("batch_month", func(fl validator.FieldLevel) bool {
		return batchMonthPattern.MatchString(fl.Field().String())
	})
	return &Validator{v: v}
}

func (cv *Validator) Validate(i interface{}) error {
	err := cv.v.Struct(i)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Internal(err)
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fieldPath(fe)] = message(fe)
	}
	return apperr.Validation(fields)
}

// fieldPath drops the root struct name: "CreateClaimInput.line_items[0].quantity"
// becomes "line_items[0].quantity".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return fe.Field()
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "batch_month":
		return "must be a month in YYYY-MM format"
	case "required_without":
		return fmt.Sprintf("is required when %s is absent", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

// Bind decodes the request body into v and validates it.
func Bind(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return apperr.Field("body", fmt.Sprintf("malformed request body: %v", he.Message))
		}
		return apperr.Field("body", "malformed request body")
	}
	return c.Validate(v)
}

// MonthRange returns [start, end) for a YYYY-MM month in UTC.
func MonthRange(month string) (time.Time, time.Time, error) {
	if !batchMonthPattern.MatchString(month) {
		return time.Time{}, time.Time{}, apperr.Field("batch_month", "must be a month in YYYY-MM format")
	}
	start, err := time.Parse("2006-01", month)
	if err != nil {
		return time.Time{}, time.Time{}, apperr.Field("batch_month", "must be a month in YYYY-MM format")
	}
	return start, start.AddDate(0, 1, 0), nil
}

// ParamUUID parses the named path parameter as a UUID.
func ParamUUID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperr.Field(name, "must be a valid UUID")
	}
	return id, nil
}

// QueryUUID parses an optional UUID query parameter. An absent parameter
// yields nil.
func QueryUUID(c echo.Context, name string) (*uuid.UUID, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, apperr.Field(name, "must be a valid UUID")
	}
	return &id, nil
}
