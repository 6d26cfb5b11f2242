package api

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// ValidateContentType middleware ensures that requests with a body are JSON
// or form encoded. Recording patches carry a plain text command.
func ValidateContentType(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		method := c.Request().Method

		// Only check POST, PUT, PATCH requests
		if method == "POST" || method == "PUT" || method == "PATCH" {
			contentType := c.Request().Header.Get("Content-Type")

			// Allow empty body for some requests
			if c.Request().ContentLength == 0 {
				return next(c)
			}

			switch {
			case strings.HasPrefix(contentType, echo.MIMEApplicationJSON),
				strings.HasPrefix(contentType, echo.MIMEApplicationForm),
				strings.HasPrefix(contentType, echo.MIMEMultipartForm),
				method == "PATCH" && strings.HasPrefix(contentType, echo.MIMETextPlain):
			default:
				return BadRequestError(
					"Invalid Content-Type",
					"Content-Type must be 'application/json' or a form encoding. Got: "+contentType,
				)
			}
		}

		return next(c)
	}
}

// ValidateAcceptHeader middleware ensures that clients can accept JSON responses
func ValidateAcceptHeader(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		accept := c.Request().Header.Get("Accept")

		// If no Accept header, assume */*
		if accept == "" {
			return next(c)
		}

		if !strings.Contains(accept, "application/json") &&
			!strings.Contains(accept, "*/*") &&
			!strings.Contains(accept, "application/*") &&
			!strings.Contains(accept, "text/plain") {
			return BadRequestError(
				"Invalid Accept header",
				"API returns JSON. Accept header must include 'application/json' or '*/*'. Got: "+accept,
			)
		}

		return next(c)
	}
}

// ValidateCredentialID middleware requires a positive numeric :id.
func ValidateCredentialID(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || id <= 0 {
			return BadRequestError(
				"Invalid ID format",
				"credential id must be a positive integer. Got: "+c.Param("id"),
			)
		}
		c.Set("credentialID", id)
		return next(c)
	}
}

// ValidateQueryParams middleware validates common query parameters
func ValidateQueryParams(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		for _, name := range []string{"limit", "offset"} {
			if v := c.QueryParam(name); v != "" {
				if n, err := strconv.Atoi(v); err != nil || n < 0 {
					return BadRequestError(
						"Invalid "+name+" parameter",
						name+" must be a non-negative integer. Got: "+v,
					)
				}
			}
		}

		for _, name := range []string{"clean", "mergeRealms"} {
			if v := c.QueryParam(name); v != "" {
				if _, err := strconv.ParseBool(v); err != nil {
					return BadRequestError(
						"Invalid "+name+" parameter",
						name+" must be true or false. Got: "+v,
					)
				}
			}
		}

		return next(c)
	}
}

// SecurityHeaders middleware adds security headers to responses
func SecurityHeaders(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Set("X-Content-Type-Options", "nosniff")
		c.Response().Header().Set("X-Frame-Options", "DENY")
		c.Response().Header().Set("X-XSS-Protection", "1; mode=block")
		c.Response().Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		return next(c)
	}
}

// queryBool reads a boolean query parameter, already checked by
// ValidateQueryParams.
func queryBool(c echo.Context, name string) bool {
	v, _ := strconv.ParseBool(c.QueryParam(name))
	return v
}
