package middleware

import (
	"github.com/labstack/echo/v4"
)

// VersionHeader stamps every response with the running build so webhook
// deliveries in the provider dashboards can be matched to a deploy.
func VersionHeader(version string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Response().Header().Set("X-Service-Version", version)
			return next(c)
		}
	}
}
