package client

import (
	"context"
	"net/http"

	"evalgo.org/flightdeck/models"
)

const discoveryPath = "/api/v2.2/discovery"

// Register registers a discovery plugin owning realm. The server pings
// callback periodically and evicts the plugin when it stops answering.
func (c *Client) Register(ctx context.Context, realm, callback string) (models.RegistrationResponse, error) {
	return c.register(ctx, models.RegistrationRequest{Realm: realm, Callback: callback})
}

// Refresh exchanges a plugin's current token for a new one. A 400 means the
// registration is gone or the token is stale and the plugin should
// register again.
func (c *Client) Refresh(ctx context.Context, id, token, realm, callback string) (models.RegistrationResponse, error) {
	return c.register(ctx, models.RegistrationRequest{Realm: realm, Callback: callback, ID: id, Token: token})
}

func (c *Client) register(ctx context.Context, req models.RegistrationRequest) (models.RegistrationResponse, error) {
	body, err := jsonBody(req)
	if err != nil {
		return models.RegistrationResponse{}, err
	}
	var resp models.RegistrationResponse
	err = c.doV2(ctx, request{method: http.MethodPost, path: discoveryPath, body: body}, &resp)
	return resp, err
}

// Publish replaces the plugin's realm subtree with nodes.
func (c *Client) Publish(ctx context.Context, id, token string, nodes []*models.DiscoveryNode) error {
	if nodes == nil {
		nodes = []*models.DiscoveryNode{}
	}
	body, err := jsonBody(nodes)
	if err != nil {
		return err
	}
	return c.doV2(ctx, request{method: http.MethodPost, path: discoveryPath + "/" + escape(id), body: body, bearer: token}, nil)
}

// Deregister removes the plugin and its realm.
func (c *Client) Deregister(ctx context.Context, id, token string) error {
	return c.doV2(ctx, request{method: http.MethodDelete, path: discoveryPath + "/" + escape(id), bearer: token}, nil)
}

// Plugins lists registered discovery plugins with their realm subtrees.
func (c *Client) Plugins(ctx context.Context) ([]Plugin, error) {
	var plugins []Plugin
	err := c.doV2(ctx, request{method: http.MethodGet, path: discoveryPath + "/plugins"}, &plugins)
	return plugins, err
}

// Plugin is a registered discovery plugin.
type Plugin struct {
	ID       string                `json:"id"`
	Realm    *models.DiscoveryNode `json:"realm"`
	Callback string                `json:"callback"`
}
