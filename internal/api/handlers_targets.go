package api

import (
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"evalgo.org/flightdeck/models"
)

// listTargets returns every live target across all realms.
func (s *Server) listTargets(c echo.Context) error {
	limit, offset := parsePagination(c)
	return c.JSON(http.StatusOK, paginate(s.deps.Tree.Targets(), limit, offset))
}

// createTarget adds a target to the "Custom Targets" realm.
func (s *Server) createTarget(c echo.Context) error {
	var req TargetRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	target := models.Target{
		ConnectURL: req.ConnectURL,
		Alias:      req.Alias,
		Labels:     req.Labels,
		Annotations: models.Annotations{
			Platform: req.Annotations,
		},
	}
	node, err := s.deps.Tree.AddTarget(models.RealmCustomTargets, target)
	if err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderLocation, "/api/v2/targets/"+url.PathEscape(node.Target.ConnectURL))
	return c.JSON(http.StatusCreated, v2(http.StatusCreated, node.Target))
}

// deleteTarget removes a custom target.
func (s *Server) deleteTarget(c echo.Context) error {
	if err := s.deps.Tree.RemoveTarget(models.RealmCustomTargets, pathParam(c, "targetId")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v2(http.StatusOK, nil))
}
