package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/schemehealth/claims/internal/platform/apperr"
	"github.com/schemehealth/claims/pkg/response"
)

// ErrorHandler renders every error as the failure envelope. Internal error
// details are only exposed when exposeInternal is set (development).
func ErrorHandler(logger zerolog.Logger, exposeInternal bool) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		rid, _ := c.Get("request_id").(string)
		status, body := render(err, exposeInternal)
		body.RequestID = rid

		if status >= http.StatusInternalServerError {
			logger.Error().Err(err).Str("request_id", rid).Str("path", c.Request().URL.Path).Msg("request failed")
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = response.Fail(c, status, body)
		}
		if err != nil {
			logger.Error().Err(err).Str("request_id", rid).Msg("write error response")
		}
	}
}

func render(err error, exposeInternal bool) (int, response.Failure) {
	if appErr, ok := apperr.As(err); ok {
		f := response.Failure{
			Message: appErr.Message,
			Code:    string(appErr.Code),
			Errors:  appErr.Fields,
			Details: appErr.Details,
		}
		if appErr.Kind == apperr.KindInternal && exposeInternal && appErr.Err != nil {
			f.Message = appErr.Error()
		}
		return appErr.Status(), f
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if m, ok := he.Message.(string); ok {
			msg = m
		} else if he.Message != nil {
			msg = fmt.Sprint(he.Message)
		}
		return he.Code, response.Failure{Message: msg}
	}

	f := response.Failure{Message: "internal server error", Code: string(apperr.CodeInternal)}
	if exposeInternal {
		f.Message = err.Error()
	}
	return http.StatusInternalServerError, f
}
