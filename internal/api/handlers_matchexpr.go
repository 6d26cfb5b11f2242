package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"evalgo.org/flightdeck/models"
)

// testMatchExpression evaluates an expression against the posted targets,
// or against every live target when none are posted.
func (s *Server) testMatchExpression(c echo.Context) error {
	var req MatchExpressionRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	targets := req.Targets
	if len(targets) == 0 {
		targets = s.deps.Tree.Targets()
	}
	matched, err := s.deps.Evaluator.Filter(req.MatchExpression, targets)
	if err != nil {
		return err
	}
	if matched == nil {
		matched = []models.Target{}
	}
	return c.JSON(http.StatusOK, v2(http.StatusOK, MatchExpressionResult{
		MatchExpression: req.MatchExpression,
		Targets:         matched,
	}))
}
