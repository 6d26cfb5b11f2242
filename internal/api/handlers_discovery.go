package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"evalgo.org/flightdeck/internal/discovery"
	"evalgo.org/flightdeck/models"
)

// registerPlugin registers a discovery plugin or refreshes its token.
// A refresh with a missing or stale token is a bad request rather than an
// authentication failure, so plugins fall back to registering afresh.
// @Summary Register or refresh a discovery plugin
// @Tags Discovery
// @Accept json
// @Produce json
// @Param registration body models.RegistrationRequest true "Realm and callback, plus id and token to refresh"
// @Success 201 {object} V2Response "Plugin id and token"
// @Failure 400 {object} APIError "Invalid request or stale refresh"
// @Failure 409 {object} APIError "Realm already exists"
// @Router /v2.2/discovery [post]
func (s *Server) registerPlugin(c echo.Context) error {
	var req models.RegistrationRequest
	if err := c.Bind(&req); err != nil {
		return BadRequestError("Invalid request body", err.Error())
	}
	resp, err := s.deps.Plugins.Register(req)
	if err != nil {
		if errors.Is(err, models.ErrUnauthorized) {
			return BadRequestError("Invalid plugin token", err.Error())
		}
		return err
	}
	c.Response().Header().Set(echo.HeaderLocation, "/api/v2.2/discovery/plugins/"+resp.ID)
	return c.JSON(http.StatusCreated, v2(http.StatusCreated, resp))
}

// publishPlugin replaces the plugin's realm subtree with the posted array
// of nodes.
// @Summary Publish a plugin's realm subtree
// @Tags Discovery
// @Accept json
// @Produce json
// @Param id path string true "Plugin ID"
// @Param token query string false "Plugin token (or bearer Authorization)"
// @Param nodes body []models.DiscoveryNode true "Subtree"
// @Success 200 {object} V2Response
// @Failure 400 {object} APIError "Body is not an array of nodes"
// @Failure 401 {object} APIError "Invalid plugin token"
// @Failure 404 {object} APIError "Plugin not found"
// @Router /v2.2/discovery/{id} [post]
func (s *Server) publishPlugin(c echo.Context) error {
	body := c.Request().Body
	if body == nil {
		return BadRequestError("Invalid request body", "expected a JSON array of nodes")
	}
	var nodes []*models.DiscoveryNode
	dec := json.NewDecoder(body)
	if err := dec.Decode(&nodes); err != nil {
		return BadRequestError("Invalid request body", fmt.Sprintf("expected a JSON array of nodes: %v", err))
	}
	if nodes == nil {
		return BadRequestError("Invalid request body", "expected a JSON array of nodes")
	}

	id := c.Param("id")
	if err := s.deps.Plugins.Push(id, pluginToken(c), nodes); err != nil {
		return err
	}
	s.logger.Debug("plugin subtree published", zap.String("plugin", id), zap.Int("nodes", len(nodes)))
	return c.JSON(http.StatusOK, v2(http.StatusOK, nil))
}

// deregisterPlugin removes a plugin and its realm.
// @Summary Deregister a plugin
// @Tags Discovery
// @Param id path string true "Plugin ID"
// @Param token query string false "Plugin token (or bearer Authorization)"
// @Success 200 {object} V2Response
// @Failure 401 {object} APIError "Invalid plugin token"
// @Failure 404 {object} APIError "Plugin not found"
// @Router /v2.2/discovery/{id} [delete]
func (s *Server) deregisterPlugin(c echo.Context) error {
	if err := s.deps.Plugins.Deregister(c.Param("id"), pluginToken(c)); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v2(http.StatusOK, nil))
}

// pluginToken reads the token from ?token= or a bearer Authorization header.
func pluginToken(c echo.Context) string {
	if token := c.QueryParam("token"); token != "" {
		return token
	}
	if v, ok := strings.CutPrefix(c.Request().Header.Get(echo.HeaderAuthorization), "Bearer "); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// listPlugins returns every registered plugin with its realm subtree.
// @Summary List discovery plugins
// @Tags Discovery
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} V2Response "Plugins"
// @Router /v2.2/discovery/plugins [get]
func (s *Server) listPlugins(c echo.Context) error {
	regs := s.deps.Plugins.List()
	out := make([]DiscoveryPlugin, 0, len(regs))
	for _, reg := range regs {
		node, err := s.deps.Tree.RealmNode(reg.Realm)
		if err != nil {
			// deregistered between the two reads
			continue
		}
		out = append(out, DiscoveryPlugin{ID: reg.ID, Realm: node, Callback: reg.Callback})
	}
	return c.JSON(http.StatusOK, v2(http.StatusOK, out))
}

// getPlugin returns one plugin with its realm subtree.
func (s *Server) getPlugin(c echo.Context) error {
	reg, err := s.deps.Plugins.Get(c.Param("id"))
	if err != nil {
		return err
	}
	node, err := s.deps.Tree.RealmNode(reg.Realm)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v2(http.StatusOK, DiscoveryPlugin{ID: reg.ID, Realm: node, Callback: reg.Callback}))
}

// getDiscoveryTree returns the whole tree. ?mergeRealms=true lifts every
// realm's children directly under the universe.
// @Summary Get the discovery tree
// @Tags Discovery
// @Produce json
// @Security ApiKeyAuth
// @Param mergeRealms query bool false "Lift realm children under the root"
// @Success 200 {object} V2Response "Root node"
// @Router /v2.1/discovery [get]
func (s *Server) getDiscoveryTree(c echo.Context) error {
	root := s.deps.Tree.Snapshot()
	if queryBool(c, "mergeRealms") {
		merged := make([]*models.DiscoveryNode, 0)
		for _, realm := range root.Children {
			merged = append(merged, realm.Children...)
		}
		root.Children = merged
	}
	return c.JSON(http.StatusOK, v2(http.StatusOK, root))
}

// queryDiscovery returns the nodes passing a filter.
func (s *Server) queryDiscovery(c echo.Context) error {
	var filter discovery.Filter
	if err := c.Bind(&filter); err != nil {
		return BadRequestError("Invalid request body", err.Error())
	}
	nodes, err := s.deps.Tree.Query(filter)
	if err != nil {
		return err
	}
	if nodes == nil {
		nodes = []*models.DiscoveryNode{}
	}
	return c.JSON(http.StatusOK, v2(http.StatusOK, nodes))
}
