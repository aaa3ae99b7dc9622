package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/commerceops/driftwatch/pkg/services"
	"github.com/commerceops/driftwatch/pkg/store"
)

// mapServiceError maps service-layer errors to HTTP error responses.
func mapServiceError(err error) *echo.HTTPError {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		return echo.NewHTTPError(http.StatusBadRequest, validErr.Error())
	}
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}
	if errors.Is(err, services.ErrAlreadyResolved) {
		return echo.NewHTTPError(http.StatusConflict, "approval is already resolved")
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}

// httpErrorHandler renders every error as the {error_code, error_message}
// body contract, including echo's own routing errors.
func httpErrorHandler(c *echo.Context, err error) {
	if resp, _ := echo.UnwrapResponse(c.Response()); resp != nil && resp.Committed {
		return
	}

	var he *echo.HTTPError
	if !errors.As(err, &he) {
		var sc echo.HTTPStatusCoder
		if errors.As(err, &sc) && sc.StatusCode() != 0 {
			he = echo.NewHTTPError(sc.StatusCode(), err.Error())
		} else {
			slog.Error("Unhandled request error", "path", c.Request().URL.Path, "error", err)
			he = echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
		}
	}

	resp := &ErrorResponse{
		ErrorCode:    errorCode(he.Code),
		ErrorMessage: fmt.Sprintf("%v", he.Message),
	}
	if err := c.JSON(he.Code, resp); err != nil {
		slog.Error("Failed to write error response", "error", err)
	}
}

// errorCode names an HTTP status for the error body.
func errorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusConflict:
		return "conflict"
	case http.StatusRequestEntityTooLarge:
		return "payload_too_large"
	case http.StatusServiceUnavailable:
		return "service_unavailable"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return fmt.Sprintf("http_%d", status)
	}
}
