package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"evalgo.org/flightdeck/models"
)

// ListRules returns every rule.
func (c *Client) ListRules(ctx context.Context) ([]models.Rule, error) {
	var rules []models.Rule
	err := c.doV2(ctx, request{method: http.MethodGet, path: "/api/v2/rules"}, &rules)
	return rules, err
}

// GetRule returns one rule.
func (c *Client) GetRule(ctx context.Context, name string) (models.Rule, error) {
	var rule models.Rule
	err := c.doV2(ctx, request{method: http.MethodGet, path: "/api/v2/rules/" + escape(name)}, &rule)
	return rule, err
}

// CreateRule creates a rule and returns its normalized name.
func (c *Client) CreateRule(ctx context.Context, rule models.Rule) (string, error) {
	payload := map[string]interface{}{
		"name":                  rule.Name,
		"description":           rule.Description,
		"matchExpression":       rule.MatchExpression,
		"eventSpecifier":        rule.EventSpecifier,
		"enabled":               rule.Enabled,
		"initialDelaySeconds":   rule.InitialDelaySeconds,
		"archivalPeriodSeconds": rule.ArchivalPeriodSeconds,
		"preservedArchives":     rule.PreservedArchives,
		"maxAgeSeconds":         rule.MaxAgeSeconds,
		"maxSizeBytes":          rule.MaxSizeBytes,
	}
	body, err := jsonBody(payload)
	if err != nil {
		return "", err
	}
	var name string
	err = c.doV2(ctx, request{method: http.MethodPost, path: "/api/v2/rules", body: body}, &name)
	return name, err
}

// SetRuleEnabled enables or disables a rule. With clean, disabling also
// stops the rule's recordings.
func (c *Client) SetRuleEnabled(ctx context.Context, name string, enabled, clean bool) (models.Rule, error) {
	body, err := jsonBody(map[string]bool{"enabled": enabled})
	if err != nil {
		return models.Rule{}, err
	}
	var rule models.Rule
	err = c.doV2(ctx, request{
		method: http.MethodPatch,
		path:   "/api/v2/rules/" + escape(name),
		query:  boolQuery("clean", clean),
		body:   body,
	}, &rule)
	return rule, err
}

// DeleteRule deletes a rule. With clean, its recordings are stopped.
func (c *Client) DeleteRule(ctx context.Context, name string, clean bool) error {
	return c.doV2(ctx, request{method: http.MethodDelete, path: "/api/v2/rules/" + escape(name), query: boolQuery("clean", clean)}, nil)
}

// ListCredentials returns stored credentials without passwords.
func (c *Client) ListCredentials(ctx context.Context) ([]models.StoredCredential, error) {
	var creds []models.StoredCredential
	err := c.doV2(ctx, request{method: http.MethodGet, path: "/api/v2.2/credentials"}, &creds)
	return creds, err
}

// CreateCredential stores a credential for the targets matchExpression selects.
func (c *Client) CreateCredential(ctx context.Context, matchExpression, username, password string) (models.StoredCredential, error) {
	body, err := jsonBody(map[string]string{
		"matchExpression": matchExpression,
		"username":        username,
		"password":        password,
	})
	if err != nil {
		return models.StoredCredential{}, err
	}
	var stored models.StoredCredential
	err = c.doV2(ctx, request{method: http.MethodPost, path: "/api/v2.2/credentials", body: body}, &stored)
	return stored, err
}

// GetCredential returns a credential with the targets it currently matches.
func (c *Client) GetCredential(ctx context.Context, id int64) (models.MatchedCredential, error) {
	var matched models.MatchedCredential
	err := c.doV2(ctx, request{method: http.MethodGet, path: "/api/v2.2/credentials/" + strconv.FormatInt(id, 10)}, &matched)
	return matched, err
}

// DeleteCredential removes a credential.
func (c *Client) DeleteCredential(ctx context.Context, id int64) error {
	return c.doV2(ctx, request{method: http.MethodDelete, path: "/api/v2.2/credentials/" + strconv.FormatInt(id, 10)}, nil)
}

// ListTargets returns every live target.
func (c *Client) ListTargets(ctx context.Context) ([]models.Target, error) {
	var targets []models.Target
	err := c.do(ctx, request{method: http.MethodGet, path: "/api/v1/targets"}, &targets)
	return targets, err
}

// CreateTarget adds a custom target.
func (c *Client) CreateTarget(ctx context.Context, target models.Target) (models.Target, error) {
	body, err := jsonBody(map[string]interface{}{
		"connectUrl":  target.ConnectURL,
		"alias":       target.Alias,
		"labels":      target.Labels,
		"annotations": target.Annotations.Platform,
	})
	if err != nil {
		return models.Target{}, err
	}
	var created models.Target
	err = c.doV2(ctx, request{method: http.MethodPost, path: "/api/v2/targets", body: body}, &created)
	return created, err
}

// DeleteTarget removes a custom target.
func (c *Client) DeleteTarget(ctx context.Context, connectURL string) error {
	return c.doV2(ctx, request{method: http.MethodDelete, path: "/api/v2/targets/" + escape(connectURL)}, nil)
}

// DiscoveryTree returns the discovery tree. With mergeRealms, realm nodes
// are dropped and their children hang off the universe.
func (c *Client) DiscoveryTree(ctx context.Context, mergeRealms bool) (*models.DiscoveryNode, error) {
	var root models.DiscoveryNode
	if err := c.doV2(ctx, request{method: http.MethodGet, path: "/api/v2.1/discovery", query: boolQuery("mergeRealms", mergeRealms)}, &root); err != nil {
		return nil, err
	}
	return &root, nil
}

// TestMatchExpression returns the targets expression selects among targets,
// or among every live target when targets is empty.
func (c *Client) TestMatchExpression(ctx context.Context, expression string, targets []models.Target) ([]models.Target, error) {
	body, err := jsonBody(map[string]interface{}{"matchExpression": expression, "targets": targets})
	if err != nil {
		return nil, err
	}
	var res struct {
		Targets []models.Target `json:"targets"`
	}
	err = c.doV2(ctx, request{method: http.MethodPost, path: "/api/beta/matchExpressions", body: body}, &res)
	return res.Targets, err
}

// RecordingRequest starts a recording.
type RecordingRequest struct {
	Name          string            `json:"recordingName"`
	Events        string            `json:"events"`
	Duration      int64             `json:"duration,omitempty"`
	ToDisk        *bool             `json:"toDisk,omitempty"`
	MaxAge        int64             `json:"maxAge,omitempty"`
	MaxSize       int64             `json:"maxSize,omitempty"`
	ArchiveOnStop bool              `json:"archiveOnStop,omitempty"`
	Replace       string            `json:"replace,omitempty"`
	Labels        map[string]string `json:"labels,omitempty"`
}

func recordingsPath(target string) string {
	return "/api/v1/targets/" + escape(target) + "/recordings"
}

// ListRecordings returns the recordings of a target, addressed by connect
// URL or jvmId.
func (c *Client) ListRecordings(ctx context.Context, target string) ([]models.ActiveRecording, error) {
	var recs []models.ActiveRecording
	err := c.do(ctx, request{method: http.MethodGet, path: recordingsPath(target)}, &recs)
	return recs, err
}

// StartRecording starts a recording on a target.
func (c *Client) StartRecording(ctx context.Context, target string, req RecordingRequest) (models.ActiveRecording, error) {
	body, err := jsonBody(req)
	if err != nil {
		return models.ActiveRecording{}, err
	}
	var rec models.ActiveRecording
	err = c.do(ctx, request{method: http.MethodPost, path: recordingsPath(target), body: body}, &rec)
	return rec, err
}

// StopRecording stops a running recording.
func (c *Client) StopRecording(ctx context.Context, target, name string) (models.ActiveRecording, error) {
	var rec models.ActiveRecording
	err := c.do(ctx, request{
		method:      http.MethodPatch,
		path:        recordingsPath(target) + "/" + escape(name),
		body:        strings.NewReader("STOP"),
		contentType: "text/plain",
	}, &rec)
	return rec, err
}

// SaveRecording archives a recording and returns the archive name.
func (c *Client) SaveRecording(ctx context.Context, target, name string) (string, error) {
	resp, err := c.send(ctx, request{
		method:      http.MethodPatch,
		path:        recordingsPath(target) + "/" + escape(name),
		body:        strings.NewReader("SAVE"),
		contentType: "text/plain",
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var sb strings.Builder
	if _, err := io.Copy(&sb, resp.Body); err != nil {
		return "", err
	}
	return strings.TrimSpace(sb.String()), nil
}

// DeleteRecording deletes a recording from a target.
func (c *Client) DeleteRecording(ctx context.Context, target, name string) error {
	return c.do(ctx, request{method: http.MethodDelete, path: recordingsPath(target) + "/" + escape(name)}, nil)
}

// Snapshot snapshots a target's running recordings. kept is false when
// nothing was running and the server discarded the snapshot.
func (c *Client) Snapshot(ctx context.Context, target string) (rec models.ActiveRecording, kept bool, err error) {
	resp, err := c.send(ctx, request{method: http.MethodPost, path: "/api/v1/targets/" + escape(target) + "/snapshot"})
	if err != nil {
		return rec, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusAccepted {
		return rec, false, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return rec, false, fmt.Errorf("failed to decode response: %w", err)
	}
	return rec, true, nil
}

// ListArchives returns archived recordings.
func (c *Client) ListArchives(ctx context.Context) ([]models.ArchivedRecording, error) {
	var archives []models.ArchivedRecording
	err := c.do(ctx, request{method: http.MethodGet, path: "/api/v1/archives"}, &archives)
	return archives, err
}

// DeleteArchive removes an archived recording.
func (c *Client) DeleteArchive(ctx context.Context, name string) error {
	return c.do(ctx, request{method: http.MethodDelete, path: "/api/v1/archives/" + escape(name)}, nil)
}
