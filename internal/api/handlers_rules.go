package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// listRules returns every rule.
// @Summary List rules
// @Tags Rules
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} V2Response "Rules"
// @Failure 401 {object} APIError "Unauthorized"
// @Router /v2/rules [get]
func (s *Server) listRules(c echo.Context) error {
	limit, offset := parsePagination(c)
	return c.JSON(http.StatusOK, v2(http.StatusOK, paginate(s.deps.Rules.List(), limit, offset)))
}

// createRule creates a rule and, when enabled, activates it on every
// matching target. Activation failures are reported as notifications.
// @Summary Create a rule
// @Description Accepts JSON or form data. Spaces in the name become underscores.
// @Tags Rules
// @Accept json,x-www-form-urlencoded
// @Produce json
// @Security ApiKeyAuth
// @Param rule body RuleRequest true "Rule definition"
// @Success 201 {object} V2Response "Normalized rule name"
// @Failure 400 {object} APIError "Invalid rule"
// @Failure 409 {object} APIError "Rule already exists"
// @Router /v2/rules [post]
func (s *Server) createRule(c echo.Context) error {
	var req RuleRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	rule, err := s.deps.Rules.Create(req.Rule())
	if err != nil {
		return err
	}
	s.logger.Debug("rule created via API", zap.String("rule", rule.Name))
	c.Response().Header().Set(echo.HeaderLocation, "/api/v2/rules/"+rule.Name)
	return c.JSON(http.StatusCreated, v2(http.StatusCreated, rule.Name))
}

// getRule returns one rule.
// @Summary Get a rule
// @Tags Rules
// @Produce json
// @Security ApiKeyAuth
// @Param name path string true "Rule name"
// @Success 200 {object} V2Response "Rule"
// @Failure 404 {object} APIError "Rule not found"
// @Router /v2/rules/{name} [get]
func (s *Server) getRule(c echo.Context) error {
	rule, err := s.deps.Rules.Get(pathParam(c, "name"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v2(http.StatusOK, rule))
}

// patchRule enables or disables a rule. ?clean=true stops the rule's
// recordings when disabling.
// @Summary Enable or disable a rule
// @Tags Rules
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param name path string true "Rule name"
// @Param clean query bool false "Stop the rule's recordings when disabling"
// @Param patch body RulePatch true "New state"
// @Success 200 {object} V2Response "Updated rule"
// @Failure 404 {object} APIError "Rule not found"
// @Router /v2/rules/{name} [patch]
func (s *Server) patchRule(c echo.Context) error {
	var req RulePatch
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	rule, err := s.deps.Rules.SetEnabled(c.Request().Context(), pathParam(c, "name"), *req.Enabled, queryBool(c, "clean"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v2(http.StatusOK, rule))
}

// deleteRule deletes a rule. ?clean=true stops the rule's recordings.
// @Summary Delete a rule
// @Tags Rules
// @Security ApiKeyAuth
// @Param name path string true "Rule name"
// @Param clean query bool false "Stop the rule's recordings"
// @Success 200 {object} V2Response
// @Failure 404 {object} APIError "Rule not found"
// @Router /v2/rules/{name} [delete]
func (s *Server) deleteRule(c echo.Context) error {
	if err := s.deps.Rules.Delete(c.Request().Context(), pathParam(c, "name"), queryBool(c, "clean")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v2(http.StatusOK, nil))
}
