package api

import (
	"fmt"
	"net/url"

	"github.com/labstack/echo/v4"

	"evalgo.org/flightdeck/models"
)

// pathParam returns a path parameter with percent-encoding removed. Connect
// URLs travel escaped in paths.
func pathParam(c echo.Context, name string) string {
	raw := c.Param(name)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

// targetParam resolves :targetId, either a connect URL or a jvmId, to a
// live target.
func (s *Server) targetParam(c echo.Context) (models.Target, error) {
	id := pathParam(c, "targetId")
	if id == "" {
		return models.Target{}, fmt.Errorf("%w: target id is required", models.ErrInvalid)
	}
	for _, t := range s.deps.Tree.Targets() {
		if t.ConnectURL == id || t.JvmID == id {
			return t, nil
		}
	}
	return models.Target{}, fmt.Errorf("%w: target %q", models.ErrNotFound, id)
}

// bindAndValidate binds the request body into req and validates it.
func bindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return BadRequestError("Invalid request body", err.Error())
	}
	return c.Validate(req)
}
