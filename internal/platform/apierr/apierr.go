// Package apierr maps domain errors to HTTP errors at the handler edge.
package apierr

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/clinicore/practice/internal/platform/datastore"
	"github.com/clinicore/practice/internal/platform/tenancy"
)

// ErrInvalid marks caller input errors. Wrap it to get a 400.
var ErrInvalid = errors.New("invalid request")

// From converts err into an *echo.HTTPError. Tenant scope violations become
// 403, missing rows 404, invalid input 400; anything else gets fallback.
// Scope violation details are not echoed to the client. A nil err yields a
// nil error.
func From(err error, fallback int) error {
	var he *echo.HTTPError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &he):
		return he
	case tenancy.IsScopeViolation(err):
		return echo.NewHTTPError(http.StatusForbidden, "tenant scope violation")
	case errors.Is(err, datastore.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.Is(err, ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if fallback == http.StatusInternalServerError {
		return echo.NewHTTPError(fallback, "internal server error").SetInternal(err)
	}
	return echo.NewHTTPError(fallback, err.Error())
}
