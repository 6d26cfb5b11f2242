package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"evalgo.org/flightdeck/internal/version"
)

// handleNotifications upgrades the connection and streams notifications.
func (s *Server) handleNotifications(c echo.Context) error {
	if err := s.deps.Hub.ServeWS(c.Response(), c.Request()); err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return err
	}
	return nil
}

// healthCheck reports liveness and a summary of the service's state.
func (s *Server) healthCheck(c echo.Context) error {
	resp := HealthResponse{
		Status:  "healthy",
		Service: "flightdeck",
		Version: version.Version,
		Targets: len(s.deps.Tree.Targets()),
		Realms:  len(s.deps.Tree.Realms()),
	}
	if s.deps.Plugins != nil {
		resp.Plugins = len(s.deps.Plugins.List())
	}
	if s.deps.Rules != nil {
		resp.Rules = len(s.deps.Rules.List())
	}
	if s.deps.Hub != nil {
		resp.Notifications = s.deps.Hub.ClientCount()
	}
	return c.JSON(http.StatusOK, resp)
}
