package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// listCredentials returns stored credentials with their match counts.
// Passwords are never returned.
// @Summary List stored credentials
// @Tags Credentials
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} V2Response "Credentials without passwords"
// @Router /v2.2/credentials [get]
func (s *Server) listCredentials(c echo.Context) error {
	limit, offset := parsePagination(c)
	return c.JSON(http.StatusOK, v2(http.StatusOK, paginate(s.deps.Credentials.List(), limit, offset)))
}

// createCredential stores a credential.
// @Summary Store a credential
// @Tags Credentials
// @Accept json,x-www-form-urlencoded
// @Produce json
// @Security ApiKeyAuth
// @Param credential body CredentialRequest true "Match expression, username and password"
// @Success 201 {object} V2Response "Stored credential"
// @Failure 400 {object} APIError "Invalid match expression"
// @Router /v2.2/credentials [post]
func (s *Server) createCredential(c echo.Context) error {
	var req CredentialRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	stored, err := s.deps.Credentials.Store(req.MatchExpression, req.Username, req.Password)
	if err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderLocation, "/api/v2.2/credentials/"+strconv.FormatInt(stored.ID, 10))
	return c.JSON(http.StatusCreated, v2(http.StatusCreated, stored))
}

// getCredential returns a credential's expression and matching targets.
// @Summary Get a credential and its matching targets
// @Tags Credentials
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "Credential ID"
// @Success 200 {object} V2Response "Credential"
// @Failure 404 {object} APIError "Credential not found"
// @Router /v2.2/credentials/{id} [get]
func (s *Server) getCredential(c echo.Context) error {
	matched, err := s.deps.Credentials.Get(c.Get("credentialID").(int64))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v2(http.StatusOK, matched))
}

// deleteCredential removes a credential.
// @Summary Delete a credential
// @Tags Credentials
// @Security ApiKeyAuth
// @Param id path int true "Credential ID"
// @Success 200 {object} V2Response
// @Failure 404 {object} APIError "Credential not found"
// @Router /v2.2/credentials/{id} [delete]
func (s *Server) deleteCredential(c echo.Context) error {
	if err := s.deps.Credentials.Delete(c.Get("credentialID").(int64)); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v2(http.StatusOK, nil))
}
