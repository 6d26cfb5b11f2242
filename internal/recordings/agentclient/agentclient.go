// Package agentclient controls recordings on targets that expose an HTTP
// agent (connect URLs with an http or https scheme).
//
// Agent API:
//
//	GET    /recordings/           list
//	POST   /recordings/           start (JSON body)
//	PATCH  /recordings/{id}       body "STOP"
//	DELETE /recordings/{id}
//	GET    /recordings/{id}       stream recording data
//	POST   /recordings/snapshot   create a snapshot
package agentclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"evalgo.org/flightdeck/internal/recordings"
	"evalgo.org/flightdeck/internal/version"
	"evalgo.org/flightdeck/models"
)

const defaultTimeout = 30 * time.Second

// Config configures the connector.
type Config struct {
	// Timeout bounds every request
	Timeout time.Duration
	// TLSInsecure skips agent certificate verification
	TLSInsecure bool
	// Credentials supplies basic auth for targets that require it
	Credentials recordings.CredentialLookup
	Logger      *zap.Logger
}

// Connector opens agent clients.
type Connector struct {
	client *http.Client
	creds  recordings.CredentialLookup
	logger *zap.Logger
}

// New creates a connector.
func New(cfg Config) *Connector {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: cfg.TLSInsecure} //nolint:gosec // opt-in via recordings.tls_insecure
	return &Connector{
		client: &http.Client{Transport: transport, Timeout: cfg.Timeout},
		creds:  cfg.Credentials,
		logger: cfg.Logger.Named("agentclient"),
	}
}

// Connect implements recordings.Connector.
func (c *Connector) Connect(_ context.Context, target models.Target) (recordings.Client, error) {
	u, err := url.Parse(target.ConnectURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("%w: %s is not an agent URL", recordings.ErrTargetUnreachable, target.ConnectURL)
	}
	cl := &client{http: c.client, base: strings.TrimSuffix(u.String(), "/"), target: target}
	if c.creds != nil {
		if cred, ok := c.creds.CredentialFor(target); ok {
			cl.cred = &cred
		}
	}
	return cl, nil
}

type client struct {
	http   *http.Client
	base   string
	target models.Target
	cred   *models.Credential
}

// startRequest is the agent's start body.
type startRequest struct {
	Name         string            `json:"name"`
	Template     string            `json:"template"`
	TemplateType string            `json:"templateType"`
	Duration     int64             `json:"duration"`
	MaxSize      int64             `json:"maxSize"`
	MaxAge       int64             `json:"maxAge"`
	ToDisk       bool              `json:"toDisk"`
	Labels       map[string]string `json:"labels,omitempty"`
}

func (c *client) List(ctx context.Context) ([]models.ActiveRecording, error) {
	var out []models.ActiveRecording
	err := c.do(ctx, http.MethodGet, "/recordings/", nil, &out)
	return out, err
}

func (c *client) Start(ctx context.Context, opts models.RecordingOptions) (models.ActiveRecording, error) {
	body, err := json.Marshal(startRequest{
		Name:         opts.Name,
		Template:     opts.Template.Name,
		TemplateType: opts.Template.Type,
		Duration:     opts.Duration,
		MaxSize:      opts.MaxSize,
		MaxAge:       opts.MaxAge,
		ToDisk:       opts.ToDisk,
		Labels:       opts.Labels,
	})
	if err != nil {
		return models.ActiveRecording{}, err
	}
	var rec models.ActiveRecording
	err = c.do(ctx, http.MethodPost, "/recordings/", bytes.NewReader(body), &rec)
	return rec, err
}

func (c *client) Stop(ctx context.Context, id int64) (models.ActiveRecording, error) {
	var rec models.ActiveRecording
	if err := c.do(ctx, http.MethodPatch, "/recordings/"+strconv.FormatInt(id, 10), strings.NewReader("STOP"), nil); err != nil {
		return rec, err
	}
	recs, err := c.List(ctx)
	if err != nil {
		return rec, err
	}
	for _, r := range recs {
		if r.ID == id {
			return r, nil
		}
	}
	return rec, fmt.Errorf("%w: recording %d", models.ErrNotFound, id)
}

func (c *client) Delete(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, "/recordings/"+strconv.FormatInt(id, 10), nil, nil)
}

func (c *client) Snapshot(ctx context.Context) (models.ActiveRecording, error) {
	var rec models.ActiveRecording
	err := c.do(ctx, http.MethodPost, "/recordings/snapshot", nil, &rec)
	return rec, err
}

func (c *client) Download(ctx context.Context, id int64) (io.ReadCloser, error) {
	resp, err := c.send(ctx, http.MethodGet, "/recordings/"+strconv.FormatInt(id, 10), nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode agent response: %w", err)
	}
	return nil
}

// send performs a request and maps failure statuses onto error kinds. The
// caller owns the body of a successful response.
func (c *client) send(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		if method == http.MethodPatch {
			req.Header.Set("Content-Type", "text/plain")
		} else {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	req.Header.Set("User-Agent", version.UserAgent())
	if c.cred != nil {
		req.SetBasicAuth(c.cred.Username, c.cred.Password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", recordings.ErrTargetUnreachable, c.target.ConnectURL, err)
	}
	if resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	detail := strings.TrimSpace(string(msg))

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s", recordings.ErrAuthRequired, c.target.ConnectURL)
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s %s", models.ErrNotFound, method, path)
	case http.StatusConflict:
		return nil, fmt.Errorf("%w: %s", models.ErrConflict, detail)
	case http.StatusBadRequest:
		if strings.Contains(strings.ToLower(detail), "template") {
			return nil, fmt.Errorf("%w: %s", recordings.ErrBadTemplate, detail)
		}
		return nil, fmt.Errorf("%w: %s", models.ErrInvalid, detail)
	}
	return nil, fmt.Errorf("%w: agent returned %d: %s", recordings.ErrTargetUnreachable, resp.StatusCode, detail)
}
