// Package response writes the JSON envelope every endpoint answers with.
package response

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type Envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data"`
}

// Failure is the error envelope rendered by the HTTP error handler.
type Failure struct {
	Success   bool                   `json:"success"`
	Message   string                 `json:"message"`
	Code      string                 `json:"code,omitempty"`
	Errors    map[string]string      `json:"errors,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

func OK(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, Envelope{Success: true, Data: data})
}

func Created(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusCreated, Envelope{Success: true, Data: data})
}

// Message answers 200 with a message and optional data.
func Message(c echo.Context, msg string, data interface{}) error {
	return c.JSON(http.StatusOK, Envelope{Success: true, Message: msg, Data: data})
}

// Fail writes a failure envelope with the given status.
func Fail(c echo.Context, status int, f Failure) error {
	f.Success = false
	return c.JSON(status, f)
}
