package agentclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/flightdeck/internal/recordings"
	"evalgo.org/flightdeck/models"
)

type staticCreds map[string]models.Credential

func (s staticCreds) CredentialFor(t models.Target) (models.Credential, bool) {
	c, ok := s[t.ConnectURL]
	return c, ok
}

// fakeAgent is a minimal agent that requires basic auth user/pass.
type fakeAgent struct {
	mu   sync.Mutex
	recs []models.ActiveRecording
}

func (a *fakeAgent) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if u, p, ok := r.BasicAuth(); !ok || u != "user" || p != "pass" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/recordings/":
		_ = json.NewEncoder(w).Encode(a.recs)
	case r.Method == http.MethodPost && r.URL.Path == "/recordings/":
		var req startRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Template == "Bogus" {
			http.Error(w, "unknown template Bogus", http.StatusBadRequest)
			return
		}
		for _, rec := range a.recs {
			if rec.Name == req.Name {
				http.Error(w, "exists", http.StatusConflict)
				return
			}
		}
		rec := models.ActiveRecording{ID: int64(len(a.recs) + 1), Name: req.Name, State: models.RecordingRunning}
		a.recs = append(a.recs, rec)
		_ = json.NewEncoder(w).Encode(rec)
	case r.Method == http.MethodPatch && r.URL.Path == "/recordings/1":
		body, _ := io.ReadAll(r.Body)
		if string(body) == "STOP" {
			a.recs[0].State = models.RecordingStopped
		}
	case r.Method == http.MethodGet && r.URL.Path == "/recordings/1":
		_, _ = io.WriteString(w, "jfr-bytes")
	case r.Method == http.MethodDelete && r.URL.Path == "/recordings/1" && len(a.recs) > 0:
		a.recs = a.recs[1:]
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func TestAgentClientLifecycle(t *testing.T) {
	srv := httptest.NewServer(&fakeAgent{})
	defer srv.Close()
	target := models.Target{ConnectURL: srv.URL}

	conn := New(Config{Credentials: staticCreds{srv.URL: {Username: "user", Password: "pass"}}})
	c, err := conn.Connect(context.Background(), target)
	require.NoError(t, err)
	ctx := context.Background()

	rec, err := c.Start(ctx, models.RecordingOptions{Name: "r", Template: models.EventTemplate{Name: "Continuous"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.ID)

	_, err = c.Start(ctx, models.RecordingOptions{Name: "r", Template: models.EventTemplate{Name: "Continuous"}})
	assert.ErrorIs(t, err, models.ErrConflict)

	_, err = c.Start(ctx, models.RecordingOptions{Name: "x", Template: models.EventTemplate{Name: "Bogus"}})
	assert.ErrorIs(t, err, recordings.ErrBadTemplate)

	stopped, err := c.Stop(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.RecordingStopped, stopped.State)

	rc, err := c.Download(ctx, 1)
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	assert.Equal(t, "jfr-bytes", string(data))

	require.NoError(t, c.Delete(ctx, 1))
	assert.ErrorIs(t, c.Delete(ctx, 1), models.ErrNotFound)
}

func TestAgentClientAuthRequired(t *testing.T) {
	srv := httptest.NewServer(&fakeAgent{})
	defer srv.Close()

	c, err := New(Config{}).Connect(context.Background(), models.Target{ConnectURL: srv.URL})
	require.NoError(t, err)
	_, err = c.List(context.Background())
	assert.ErrorIs(t, err, recordings.ErrAuthRequired)
}

func TestConnectRejectsJMXURLs(t *testing.T) {
	_, err := New(Config{}).Connect(context.Background(), models.Target{ConnectURL: "service:jmx:rmi:///jndi/rmi://app:9091/jmxrmi"})
	assert.ErrorIs(t, err, recordings.ErrTargetUnreachable)
}

func TestUnreachableAgent(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(Config{}).Connect(context.Background(), models.Target{ConnectURL: url})
	require.NoError(t, err)
	_, err = c.List(context.Background())
	assert.ErrorIs(t, err, recordings.ErrTargetUnreachable)
	assert.True(t, strings.Contains(err.Error(), url))
}
