package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"evalgo.org/flightdeck/internal/archive"
	"evalgo.org/flightdeck/internal/auth"
	"evalgo.org/flightdeck/internal/config"
	"evalgo.org/flightdeck/internal/credentials"
	"evalgo.org/flightdeck/internal/discovery"
	"evalgo.org/flightdeck/internal/notify"
	"evalgo.org/flightdeck/internal/plugins"
	"evalgo.org/flightdeck/internal/recordings"
	"evalgo.org/flightdeck/internal/recordings/recordingtest"
	"evalgo.org/flightdeck/internal/rules"
	"evalgo.org/flightdeck/internal/scheduler"
	"evalgo.org/flightdeck/internal/storage"
	"evalgo.org/flightdeck/models"
)

const testTarget = "service:jmx:rmi:///jndi/rmi://app:9091/jmxrmi"

type testAPI struct {
	server *Server
	tree   *discovery.Tree
	fake   *recordingtest.Fake
	sink   *notify.Recorder
}

func newTestAPI(t *testing.T, configure ...func(*config.Config)) *testAPI {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Backend = config.BackendMemory
	cfg.Security.RateLimit = 0
	cfg.Metrics.Enabled = false
	for _, fn := range configure {
		fn(cfg)
	}

	sealer, err := storage.NewSealer("")
	require.NoError(t, err)
	store := storage.NewMemory(sealer)
	archives, err := archive.New(t.TempDir())
	require.NoError(t, err)
	sched := scheduler.New(zap.NewNop())
	t.Cleanup(sched.Stop)

	sink := notify.NewRecorder()
	tree := discovery.NewTree(discovery.Options{EventBuffer: 64})
	fake := recordingtest.New()
	orch := recordings.New(recordings.Options{
		Connector: fake,
		Archives:  archives,
		Scheduler: sched,
		Sink:      sink,
	})
	engine := rules.New(rules.Options{
		Store:     store,
		Targets:   tree,
		Evaluator: tree.Evaluator(),
		Recorder:  orch,
		Scheduler: sched,
		Sink:      sink,
	})
	require.NoError(t, engine.Load())
	creds := credentials.New(credentials.Options{
		Store:     store,
		Targets:   tree,
		Evaluator: tree.Evaluator(),
		Sink:      sink,
	})
	require.NoError(t, creds.Load())
	registry := plugins.NewRegistry(plugins.Options{
		Tree:   tree,
		Tokens: auth.NewTokenService("test-secret", time.Hour),
		Sink:   sink,
	})

	server := New(cfg, Dependencies{
		Tree:        tree,
		Rules:       engine,
		Credentials: creds,
		Plugins:     registry,
		Recordings:  orch,
	})
	return &testAPI{server: server, tree: tree, fake: fake, sink: sink}
}

func (a *testAPI) do(t *testing.T, method, path, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	a.server.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) json(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	return a.do(t, method, path, "application/json", body)
}

func (a *testAPI) addTarget(t *testing.T, connectURL string) {
	t.Helper()
	_, err := a.tree.AddTarget(models.RealmCustomTargets, models.Target{ConnectURL: connectURL, Alias: "app"})
	require.NoError(t, err)
}

// result decodes the data.result of a v2 envelope into out.
func result(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	var env struct {
		Meta V2Meta `json:"meta"`
		Data struct {
			Result json.RawMessage `json:"result"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	assert.Equal(t, "application/json", env.Meta.Type)
	require.NoError(t, json.Unmarshal(env.Data.Result, out))
}

func targetPath(connectURL string) string {
	return "/api/v1/targets/" + url.PathEscape(connectURL)
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t)
	a.addTarget(t, testTarget)

	rec := a.do(t, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 1, health.Targets)
	assert.Equal(t, 2, health.Realms)
}

func TestRuleEndpoints(t *testing.T) {
	a := newTestAPI(t)

	body := `{"name":"my rule","matchExpression":"target.alias == \"nothing\"","eventSpecifier":"template=Continuous,type=TARGET"}`
	rec := a.json(t, http.MethodPost, "/api/v2/rules", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var name string
	result(t, rec, &name)
	assert.Equal(t, "my_rule", name)
	assert.Equal(t, "/api/v2/rules/my_rule", rec.Header().Get("Location"))
	assert.Equal(t, 1, a.sink.Count(notify.CategoryRuleCreated))

	rec = a.json(t, http.MethodPost, "/api/v2/rules", body)
	assert.Equal(t, http.StatusConflict, rec.Code)

	form := url.Values{
		"name":            {"from_form"},
		"matchExpression": {"true"},
		"eventSpecifier":  {"template=Profiling"},
	}
	rec = a.do(t, http.MethodPost, "/api/v2/rules", "application/x-www-form-urlencoded", form.Encode())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = a.do(t, http.MethodGet, "/api/v2/rules/my_rule", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var rule models.Rule
	result(t, rec, &rule)
	assert.True(t, rule.Enabled)
	assert.Equal(t, "template=Continuous,type=TARGET", rule.EventSpecifier)

	rec = a.json(t, http.MethodPatch, "/api/v2/rules/my_rule", `{"enabled":false}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result(t, rec, &rule)
	assert.False(t, rule.Enabled)

	rec = a.do(t, http.MethodGet, "/api/v2/rules", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []models.Rule
	result(t, rec, &list)
	assert.Len(t, list, 2)

	rec = a.do(t, http.MethodDelete, "/api/v2/rules/my_rule?clean=true", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = a.do(t, http.MethodGet, "/api/v2/rules/my_rule", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRuleValidation(t *testing.T) {
	a := newTestAPI(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing name", `{"matchExpression":"true","eventSpecifier":"template=Continuous"}`},
		{"bad name", `{"name":"no-dashes","matchExpression":"true","eventSpecifier":"template=Continuous"}`},
		{"bad specifier", `{"name":"r","matchExpression":"true","eventSpecifier":"Continuous"}`},
		{"bad expression", `{"name":"r","matchExpression":"target.alias ==","eventSpecifier":"template=Continuous"}`},
		{"negative delay", `{"name":"r","matchExpression":"true","eventSpecifier":"template=Continuous","initialDelaySeconds":-1}`},
		{"malformed json", `{"name":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.json(t, http.MethodPost, "/api/v2/rules", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}

	rec := a.json(t, http.MethodPatch, "/api/v2/rules/missing", `{"enabled":true}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = a.json(t, http.MethodPatch, "/api/v2/rules/missing", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCredentialEndpoints(t *testing.T) {
	a := newTestAPI(t)
	a.addTarget(t, testTarget)

	rec := a.json(t, http.MethodPost, "/api/v2.2/credentials",
		`{"matchExpression":"target.alias == \"app\"","username":"admin","password":"s3cret"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "s3cret")
	var stored models.StoredCredential
	result(t, rec, &stored)
	assert.Equal(t, 1, stored.NumMatchingTargets)
	assert.Equal(t, "/api/v2.2/credentials/1", rec.Header().Get("Location"))

	rec = a.do(t, http.MethodGet, "/api/v2.2/credentials", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "s3cret")

	rec = a.do(t, http.MethodGet, "/api/v2.2/credentials/1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), testTarget)

	rec = a.do(t, http.MethodGet, "/api/v2.2/credentials/abc", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.json(t, http.MethodPost, "/api/v2.2/credentials", `{"matchExpression":"true","username":"admin"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotContains(t, rec.Body.String(), "s3cret")

	rec = a.do(t, http.MethodDelete, "/api/v2.2/credentials/1", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = a.do(t, http.MethodGet, "/api/v2.2/credentials/1", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPluginProtocol(t *testing.T) {
	a := newTestAPI(t)

	rec := a.json(t, http.MethodPost, "/api/v2.2/discovery", `{"realm":"k8s","callback":"http://plugin:8080/cb"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var reg models.RegistrationResponse
	result(t, rec, &reg)
	require.NotEmpty(t, reg.ID)
	require.NotEmpty(t, reg.Token)

	rec = a.json(t, http.MethodPost, "/api/v2.2/discovery", `{"realm":"k8s","callback":"http://other:8080/cb"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	publish := "/api/v2.2/discovery/" + reg.ID + "?token=" + url.QueryEscape(reg.Token)
	nodes := `[{"name":"pod-1","nodeType":"Pod","children":[{"name":"jvm","nodeType":"JVM","target":{"connectUrl":"jmx://pod-1:9091","alias":"app"}}]}]`
	rec = a.json(t, http.MethodPost, publish, nodes)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	_, err := a.tree.FindTarget("jmx://pod-1:9091")
	assert.NoError(t, err)

	rec = a.json(t, http.MethodPost, publish, `{"name":"not an array"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = a.json(t, http.MethodPost, publish, `null`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.json(t, http.MethodPost, "/api/v2.2/discovery/"+reg.ID+"?token=forged", `[]`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.json(t, http.MethodPost, "/api/v2.2/discovery",
		`{"realm":"k8s","callback":"http://plugin:8080/cb","id":"`+reg.ID+`","token":"stale"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/v2.2/discovery/plugins/"+reg.ID, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var plugin DiscoveryPlugin
	result(t, rec, &plugin)
	assert.Equal(t, "k8s", plugin.Realm.Name)
	require.Len(t, plugin.Realm.Children, 1)

	req := httptest.NewRequest(http.MethodDelete, "/api/v2.2/discovery/"+reg.ID, nil)
	req.Header.Set("Authorization", "Bearer "+reg.Token)
	del := httptest.NewRecorder()
	a.server.ServeHTTP(del, req)
	assert.Equal(t, http.StatusOK, del.Code)

	_, err = a.tree.FindTarget("jmx://pod-1:9091")
	assert.ErrorIs(t, err, models.ErrNotFound)
	rec = a.do(t, http.MethodGet, "/api/v2.2/discovery/plugins", "", "")
	var plugins []DiscoveryPlugin
	result(t, rec, &plugins)
	assert.Empty(t, plugins)
}

func TestDiscoveryTree(t *testing.T) {
	a := newTestAPI(t)
	a.addTarget(t, testTarget)

	rec := a.do(t, http.MethodGet, "/api/v2.1/discovery", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var root models.DiscoveryNode
	result(t, rec, &root)
	assert.Equal(t, models.NodeTypeUniverse, root.NodeType)
	assert.Len(t, root.Children, 2)

	rec = a.do(t, http.MethodGet, "/api/v2.1/discovery?mergeRealms=true", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	result(t, rec, &root)
	require.Len(t, root.Children, 1)
	assert.Equal(t, models.NodeTypeJVM, root.Children[0].NodeType)

	rec = a.do(t, http.MethodGet, "/api/v2.1/discovery?mergeRealms=maybe", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.json(t, http.MethodPost, "/api/v2.1/discovery/query", `{"nodeTypes":["JVM"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var nodes []models.DiscoveryNode
	result(t, rec, &nodes)
	require.Len(t, nodes, 1)
	assert.Equal(t, testTarget, nodes[0].Target.ConnectURL)
}

func TestTargetEndpoints(t *testing.T) {
	a := newTestAPI(t)

	rec := a.json(t, http.MethodPost, "/api/v2/targets", `{"connectUrl":"jmx://custom:9091","alias":"custom","annotations":{"zone":"a"}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var target models.Target
	result(t, rec, &target)
	assert.Equal(t, models.RealmCustomTargets, target.Annotations.Cryostat[models.AnnotationRealm])
	assert.Equal(t, "a", target.Annotations.Platform["zone"])
	assert.NotEmpty(t, target.JvmID)

	rec = a.json(t, http.MethodPost, "/api/v2/targets", `{"connectUrl":"jmx://custom:9091"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = a.json(t, http.MethodPost, "/api/v2/targets", `{"alias":"no url"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/v1/targets", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var targets []models.Target
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &targets))
	require.Len(t, targets, 1)

	rec = a.do(t, http.MethodDelete, "/api/v2/targets/"+url.PathEscape("jmx://custom:9091"), "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = a.do(t, http.MethodDelete, "/api/v2/targets/"+url.PathEscape("jmx://custom:9091"), "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecordingEndpoints(t *testing.T) {
	a := newTestAPI(t)
	a.addTarget(t, testTarget)
	base := targetPath(testTarget)

	rec := a.do(t, http.MethodPost, base+"/snapshot", "", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	form := url.Values{"recordingName": {"profile"}, "events": {"template=Profiling,type=TARGET"}}
	rec = a.do(t, http.MethodPost, base+"/recordings", "application/x-www-form-urlencoded", form.Encode())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var started models.ActiveRecording
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	assert.Equal(t, "Profiling", started.Metadata.Labels[models.LabelTemplateName])
	assert.True(t, started.ToDisk)

	rec = a.do(t, http.MethodPost, base+"/recordings", "application/x-www-form-urlencoded", form.Encode())
	assert.Equal(t, http.StatusConflict, rec.Code)

	form.Set("replace", "ALWAYS")
	rec = a.do(t, http.MethodPost, base+"/recordings", "application/x-www-form-urlencoded", form.Encode())
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = a.do(t, http.MethodGet, base+"/recordings", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var recs []models.ActiveRecording
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &recs))
	require.Len(t, recs, 1)

	rec = a.do(t, http.MethodPost, base+"/snapshot", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var snapshot models.ActiveRecording
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	assert.True(t, strings.HasPrefix(snapshot.Name, "snapshot-"))

	rec = a.do(t, http.MethodPatch, base+"/recordings/profile", "text/plain", "SAVE")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	archived := rec.Body.String()
	assert.Contains(t, archived, "profile")

	rec = a.do(t, http.MethodGet, "/api/v1/archives", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var archives []models.ArchivedRecording
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &archives))
	require.Len(t, archives, 1)
	assert.Equal(t, archived, archives[0].Name)

	rec = a.do(t, http.MethodPatch, base+"/recordings/profile", "text/plain", "STOP")
	require.Equal(t, http.StatusOK, rec.Code)
	var stopped models.ActiveRecording
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stopped))
	assert.Equal(t, models.RecordingStopped, stopped.State)

	rec = a.do(t, http.MethodPatch, base+"/recordings/profile", "text/plain", "PAUSE")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodDelete, base+"/recordings/profile", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = a.do(t, http.MethodDelete, base+"/recordings/profile", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(t, http.MethodDelete, "/api/v1/archives/"+url.PathEscape(archived), "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecordingTargetErrors(t *testing.T) {
	a := newTestAPI(t)
	a.addTarget(t, testTarget)
	a.addTarget(t, "jmx://locked:9091")
	a.addTarget(t, "jmx://gone:9091")
	a.fake.RequireAuth("jmx://locked:9091")
	a.fake.SetUnreachable("jmx://gone:9091", true)

	tests := []struct {
		name   string
		target string
		want   int
	}{
		{"unknown target", "jmx://nowhere:1", http.StatusNotFound},
		{"needs credentials", "jmx://locked:9091", StatusAuthRequired},
		{"unreachable", "jmx://gone:9091", http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.do(t, http.MethodGet, targetPath(tt.target)+"/recordings", "", "")
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}

	rec := a.json(t, http.MethodPost, targetPath(testTarget)+"/recordings", `{"recordingName":"r","events":"template=x","replace":"SOMETIMES"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMatchExpressionEndpoint(t *testing.T) {
	a := newTestAPI(t)
	a.addTarget(t, testTarget)

	rec := a.json(t, http.MethodPost, "/api/beta/matchExpressions", `{"matchExpression":"target.alias == \"app\""}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res MatchExpressionResult
	result(t, rec, &res)
	require.Len(t, res.Targets, 1)
	assert.Equal(t, testTarget, res.Targets[0].ConnectURL)

	rec = a.json(t, http.MethodPost, "/api/beta/matchExpressions",
		`{"matchExpression":"target.alias == \"other\"","targets":[{"connectUrl":"jmx://x","alias":"other"},{"connectUrl":"jmx://y","alias":"app"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	result(t, rec, &res)
	require.Len(t, res.Targets, 1)
	assert.Equal(t, "jmx://x", res.Targets[0].ConnectURL)

	rec = a.json(t, http.MethodPost, "/api/beta/matchExpressions", `{"matchExpression":"target.alias =="}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPIKeyRequired(t *testing.T) {
	key, err := auth.GenerateAPIKey()
	require.NoError(t, err)
	hash, err := auth.HashAPIKey(key)
	require.NoError(t, err)

	a := newTestAPI(t, func(cfg *config.Config) {
		cfg.Security.AuthEnabled = true
		cfg.Security.APIKeyHashes = []string{hash}
	})

	rec := a.do(t, http.MethodGet, "/api/v2/rules", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v2/rules", nil)
	req.Header.Set(auth.HeaderAPIKey, key)
	ok := httptest.NewRecorder()
	a.server.ServeHTTP(ok, req)
	assert.Equal(t, http.StatusOK, ok.Code)

	// plugins carry their own tokens
	rec = a.json(t, http.MethodPost, "/api/v2.2/discovery", `{"realm":"k8s","callback":"http://plugin:8080/cb"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = a.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodGet, "/docs/doc.json", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Flightdeck API")
	assert.Contains(t, rec.Body.String(), "/v2.2/discovery/{id}")
}
