package rules

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"evalgo.org/flightdeck/internal/archive"
	"evalgo.org/flightdeck/internal/discovery"
	"evalgo.org/flightdeck/internal/notify"
	"evalgo.org/flightdeck/internal/recordings"
	"evalgo.org/flightdeck/internal/recordings/recordingtest"
	"evalgo.org/flightdeck/internal/scheduler"
	"evalgo.org/flightdeck/internal/storage"
	"evalgo.org/flightdeck/models"
)

type fixture struct {
	tree   *discovery.Tree
	fake   *recordingtest.Fake
	orch   *recordings.Orchestrator
	store  *storage.Memory
	sink   *notify.Recorder
	engine *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sealer, err := storage.NewSealer("")
	require.NoError(t, err)
	archives, err := archive.New(t.TempDir())
	require.NoError(t, err)

	sched := scheduler.New(zap.NewNop())
	t.Cleanup(sched.Stop)

	f := &fixture{
		tree:  discovery.NewTree(discovery.Options{Logger: zap.NewNop(), EventBuffer: 64}),
		fake:  recordingtest.New(),
		store: storage.NewMemory(sealer),
		sink:  notify.NewRecorder(),
	}
	f.orch = recordings.New(recordings.Options{
		Connector: f.fake,
		Archives:  archives,
		Scheduler: sched,
		Sink:      f.sink,
		Logger:    zap.NewNop(),
	})
	f.engine = New(Options{
		Store:          f.store,
		Targets:        f.tree,
		Evaluator:      f.tree.Evaluator(),
		Recorder:       f.orch,
		Scheduler:      sched,
		Sink:           f.sink,
		Logger:         zap.NewNop(),
		CommandTimeout: time.Second,
	})
	require.NoError(t, f.engine.Load())
	return f
}

func (f *fixture) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go f.engine.Run(ctx)
}

func (f *fixture) addTarget(t *testing.T, url, alias string) models.Target {
	t.Helper()
	node, err := f.tree.AddTarget(models.RealmCustomTargets, models.Target{ConnectURL: url, Alias: alias})
	require.NoError(t, err)
	return *node.Target
}

func (f *fixture) recording(url, name string) (models.ActiveRecording, bool) {
	for _, r := range f.fake.Recordings(url) {
		if r.Name == name {
			return r, true
		}
	}
	return models.ActiveRecording{}, false
}

func (f *fixture) hasRunning(url, name string) bool {
	r, ok := f.recording(url, name)
	return ok && r.State == models.RecordingRunning
}

func newRule(name, expr string, enabled bool) models.Rule {
	return models.Rule{
		Name:            name,
		MatchExpression: expr,
		EventSpecifier:  "template=Continuous,type=TARGET",
		Enabled:         enabled,
	}
}

func TestNormalize(t *testing.T) {
	ev := discovery.NewTree(discovery.Options{}).Evaluator()

	tests := []struct {
		name    string
		rule    models.Rule
		wantErr bool
		check   func(t *testing.T, r models.Rule)
	}{
		{
			name: "spaces become underscores",
			rule: models.Rule{Name: "my rule", MatchExpression: "true", EventSpecifier: "template=Continuous"},
			check: func(t *testing.T, r models.Rule) {
				assert.Equal(t, "my_rule", r.Name)
				assert.Equal(t, 0, r.MaxAgeSeconds)
				assert.Equal(t, int64(0), r.MaxSizeBytes)
			},
		},
		{
			name: "archival defaults",
			rule: models.Rule{Name: "r", MatchExpression: "true", EventSpecifier: "template=Continuous",
				ArchivalPeriodSeconds: 60, PreservedArchives: 3},
			check: func(t *testing.T, r models.Rule) {
				assert.Equal(t, 60, r.MaxAgeSeconds)
				assert.Equal(t, int64(-1), r.MaxSizeBytes)
			},
		},
		{
			name: "explicit limits kept",
			rule: models.Rule{Name: "r", MatchExpression: "true", EventSpecifier: "template=Continuous",
				ArchivalPeriodSeconds: 60, PreservedArchives: 3, MaxAgeSeconds: 10, MaxSizeBytes: 1024},
			check: func(t *testing.T, r models.Rule) {
				assert.Equal(t, 10, r.MaxAgeSeconds)
				assert.Equal(t, int64(1024), r.MaxSizeBytes)
			},
		},
		{name: "blank name", rule: models.Rule{Name: " ", MatchExpression: "true", EventSpecifier: "template=x"}, wantErr: true},
		{name: "bad characters", rule: models.Rule{Name: "a-b", MatchExpression: "true", EventSpecifier: "template=x"}, wantErr: true},
		{name: "missing expression", rule: models.Rule{Name: "r", EventSpecifier: "template=x"}, wantErr: true},
		{name: "arbitrary invocation", rule: models.Rule{Name: "r", MatchExpression: "System.exit(1)", EventSpecifier: "template=x"}, wantErr: true},
		{name: "missing specifier", rule: models.Rule{Name: "r", MatchExpression: "true"}, wantErr: true},
		{name: "bad template type", rule: models.Rule{Name: "r", MatchExpression: "true", EventSpecifier: "template=x,type=OTHER"}, wantErr: true},
		{name: "negative archival", rule: models.Rule{Name: "r", MatchExpression: "true", EventSpecifier: "template=x", ArchivalPeriodSeconds: -1}, wantErr: true},
		{name: "negative preserved", rule: models.Rule{Name: "r", MatchExpression: "true", EventSpecifier: "template=x", PreservedArchives: -1}, wantErr: true},
		{name: "archival without preserved", rule: models.Rule{Name: "r", MatchExpression: "true", EventSpecifier: "template=x", ArchivalPeriodSeconds: 30}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tt.rule
			err := Normalize(&r, ev)
			if tt.wantErr {
				assert.ErrorIs(t, err, models.ErrInvalid)
				return
			}
			require.NoError(t, err)
			if tt.check != nil {
				tt.check(t, r)
			}
		})
	}
}

func TestCreateDuplicateConflict(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Create(newRule("dup", "true", false))
	require.NoError(t, err)
	_, err = f.engine.Create(newRule("dup", "true", false))
	assert.ErrorIs(t, err, models.ErrConflict)
	assert.Len(t, f.engine.List(), 1)
}

func TestCreateInvalidLeavesNoRule(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Create(newRule("bad", "java.lang.System.exit(1)", true))
	assert.ErrorIs(t, err, models.ErrInvalid)
	assert.Empty(t, f.engine.List())
	_, err = f.store.GetRule("bad")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCreateEnabledStartsOnMatchingTargets(t *testing.T) {
	f := newFixture(t)
	a := f.addTarget(t, "http://a:8080", "shop")
	b := f.addTarget(t, "http://b:8080", "shop")
	c := f.addTarget(t, "http://c:8080", "other")

	_, err := f.engine.Create(newRule("shop_rule", `target.alias == "shop"`, true))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return f.hasRunning(a.ConnectURL, "auto_shop_rule") && f.hasRunning(b.ConnectURL, "auto_shop_rule")
	}, 2*time.Second, 10*time.Millisecond)
	_, onOther := f.recording(c.ConnectURL, "auto_shop_rule")
	assert.False(t, onOther)

	rec, _ := f.recording(a.ConnectURL, "auto_shop_rule")
	assert.True(t, rec.Continuous)
	assert.True(t, rec.ToDisk)
	assert.False(t, rec.ArchiveOnStop)
	assert.Equal(t, "Continuous", rec.Metadata.Labels[models.LabelTemplateName])
	assert.Equal(t, "TARGET", rec.Metadata.Labels[models.LabelTemplateType])

	assert.Equal(t, []string{a.ConnectURL, b.ConnectURL}, f.engine.Active("shop_rule"))
	assert.Equal(t, 1, f.sink.Count(notify.CategoryRuleCreated))
}

func TestDisabledRuleDoesNothing(t *testing.T) {
	f := newFixture(t)
	f.run(t)
	f.addTarget(t, "http://a:8080", "a")
	_, err := f.engine.Create(newRule("off", "true", false))
	require.NoError(t, err)
	f.addTarget(t, "http://b:8080", "b")

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, f.fake.CountCalls("start"))
}

func TestFoundTargetTriggersRule(t *testing.T) {
	f := newFixture(t)
	f.run(t)
	_, err := f.engine.Create(newRule("all", "true", true))
	require.NoError(t, err)

	f.addTarget(t, "http://late:8080", "late")
	assert.Eventually(t, func() bool { return f.hasRunning("http://late:8080", "auto_all") }, 2*time.Second, 10*time.Millisecond)
}

func TestEnableReevaluatesAndCleanDisableStops(t *testing.T) {
	f := newFixture(t)
	f.run(t)
	a := f.addTarget(t, "http://a:8080", "a")
	b := f.addTarget(t, "http://b:8080", "b")

	// A recording not created by the rule must survive cleanup
	_, err := f.orch.Start(context.Background(), a, models.RecordingOptions{
		Name:     "manual",
		Template: models.EventTemplate{Name: "Profiling", Type: models.TemplateTypeTarget},
	})
	require.NoError(t, err)

	_, err = f.engine.Create(newRule("toggle", "true", false))
	require.NoError(t, err)

	rule, err := f.engine.SetEnabled(context.Background(), "toggle", true, false)
	require.NoError(t, err)
	assert.True(t, rule.Enabled)
	assert.Eventually(t, func() bool {
		return f.hasRunning(a.ConnectURL, "auto_toggle") && f.hasRunning(b.ConnectURL, "auto_toggle")
	}, 2*time.Second, 10*time.Millisecond)

	rule, err = f.engine.SetEnabled(context.Background(), "toggle", false, true)
	require.NoError(t, err)
	assert.False(t, rule.Enabled)

	for _, url := range []string{a.ConnectURL, b.ConnectURL} {
		rec, ok := f.recording(url, "auto_toggle")
		require.True(t, ok)
		assert.Equal(t, models.RecordingStopped, rec.State)
	}
	assert.True(t, f.hasRunning(a.ConnectURL, "manual"))
	assert.Empty(t, f.engine.Active("toggle"))

	stored, err := f.store.GetRule("toggle")
	require.NoError(t, err)
	assert.False(t, stored.Enabled)
}

func TestDisableWithoutCleanLeavesRecordings(t *testing.T) {
	f := newFixture(t)
	f.run(t)
	a := f.addTarget(t, "http://a:8080", "a")

	_, err := f.engine.Create(newRule("keep", "true", true))
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return f.hasRunning(a.ConnectURL, "auto_keep") }, 2*time.Second, 10*time.Millisecond)

	_, err = f.engine.SetEnabled(context.Background(), "keep", false, false)
	require.NoError(t, err)
	assert.True(t, f.hasRunning(a.ConnectURL, "auto_keep"))

	// Suppressed while disabled
	f.addTarget(t, "http://b:8080", "b")
	time.Sleep(100 * time.Millisecond)
	_, ok := f.recording("http://b:8080", "auto_keep")
	assert.False(t, ok)
}

func TestDeleteRule(t *testing.T) {
	f := newFixture(t)
	a := f.addTarget(t, "http://a:8080", "a")

	_, err := f.engine.Create(newRule("gone", "true", true))
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return f.hasRunning(a.ConnectURL, "auto_gone") }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, f.engine.Delete(context.Background(), "gone", true))
	rec, ok := f.recording(a.ConnectURL, "auto_gone")
	require.True(t, ok)
	assert.Equal(t, models.RecordingStopped, rec.State)

	_, err = f.engine.Get("gone")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, f.engine.Delete(context.Background(), "gone", false), models.ErrNotFound)
	_, err = f.engine.SetEnabled(context.Background(), "gone", true, false)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Equal(t, 1, f.sink.Count(notify.CategoryRuleDeleted))
}

func TestInitialDelayIsCancelledByDisable(t *testing.T) {
	f := newFixture(t)
	a := f.addTarget(t, "http://a:8080", "a")

	r := newRule("delayed", "true", true)
	r.InitialDelaySeconds = 1
	_, err := f.engine.Create(r)
	require.NoError(t, err)

	_, err = f.engine.SetEnabled(context.Background(), "delayed", false, false)
	require.NoError(t, err)

	time.Sleep(1500 * time.Millisecond)
	_, ok := f.recording(a.ConnectURL, "auto_delayed")
	assert.False(t, ok)
	assert.Zero(t, f.fake.CountCalls("start"))
}

func TestPeriodicArchivalAndRetention(t *testing.T) {
	f := newFixture(t)
	a := f.addTarget(t, "http://a:8080", "a")

	r := newRule("archiver", "true", true)
	r.ArchivalPeriodSeconds = 1
	r.PreservedArchives = 2
	_, err := f.engine.Create(r)
	require.NoError(t, err)

	key := RetentionKey("archiver", a.ConnectURL)
	assert.Eventually(t, func() bool {
		return f.sink.Count(notify.CategoryArchivedRecordingCreated) >= 3 &&
			f.sink.Count(notify.CategoryArchivedRecordingDeleted) >= 1
	}, 5*time.Second, 50*time.Millisecond)
	assert.LessOrEqual(t, len(f.orch.Retained(key)), 2)
}

func TestLostTargetCancelsArchival(t *testing.T) {
	f := newFixture(t)
	f.run(t)
	a := f.addTarget(t, "http://a:8080", "a")

	r := newRule("lost", "true", true)
	r.ArchivalPeriodSeconds = 1
	r.PreservedArchives = 5
	_, err := f.engine.Create(r)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return f.hasRunning(a.ConnectURL, "auto_lost") }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, f.tree.RemoveTarget(models.RealmCustomTargets, a.ConnectURL))
	assert.Eventually(t, func() bool { return len(f.engine.Active("lost")) == 0 }, 2*time.Second, 10*time.Millisecond)

	before := f.fake.CountCalls("download")
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, before, f.fake.CountCalls("download"))
}

func TestLostInOneRealmKeepsArchival(t *testing.T) {
	f := newFixture(t)
	f.run(t)
	const url = "http://u:8080"
	for _, realm := range []string{models.RealmJDP, models.RealmCustomTargets} {
		_, err := f.tree.AddTarget(realm, models.Target{ConnectURL: url, Alias: "a"})
		require.NoError(t, err)
	}

	r := newRule("shared", `target.alias == "a"`, true)
	r.ArchivalPeriodSeconds = 1
	r.PreservedArchives = 5
	_, err := f.engine.Create(r)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return f.hasRunning(url, "auto_shared") }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, f.tree.RemoveTarget(models.RealmJDP, url))
	// A later sighting in the same realm orders after the LOST event
	_, err = f.tree.AddTarget(models.RealmJDP, models.Target{ConnectURL: "http://v:8080", Alias: "a"})
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{url, "http://v:8080"}, f.engine.Active("shared"))
	}, 2*time.Second, 10*time.Millisecond)

	key := RetentionKey("shared", url)
	before := len(f.orch.Retained(key))
	assert.Eventually(t, func() bool { return len(f.orch.Retained(key)) > before }, 3*time.Second, 50*time.Millisecond)
}

func TestCleanDisableWaitsForStartInFlight(t *testing.T) {
	f := newFixture(t)
	a := f.addTarget(t, "http://a:8080", "a")
	f.fake.SetDelay(200 * time.Millisecond)

	_, err := f.engine.Create(newRule("racy", "true", true))
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return f.fake.CountCalls("list") > 0 }, time.Second, 5*time.Millisecond)

	_, err = f.engine.SetEnabled(context.Background(), "racy", false, true)
	require.NoError(t, err)

	rec, ok := f.recording(a.ConnectURL, "auto_racy")
	require.True(t, ok)
	assert.Equal(t, models.RecordingStopped, rec.State)
}

func TestDeleteForgetsRetention(t *testing.T) {
	f := newFixture(t)
	a := f.addTarget(t, "http://a:8080", "a")

	r := newRule("kept", "true", true)
	r.ArchivalPeriodSeconds = 1
	r.PreservedArchives = 3
	_, err := f.engine.Create(r)
	require.NoError(t, err)

	key := RetentionKey("kept", a.ConnectURL)
	assert.Eventually(t, func() bool { return len(f.orch.Retained(key)) > 0 }, 3*time.Second, 50*time.Millisecond)

	require.NoError(t, f.engine.Delete(context.Background(), "kept", false))
	assert.Empty(t, f.orch.Retained(key))
}

func TestUnreachableTargetDoesNotBlockOthers(t *testing.T) {
	f := newFixture(t)
	bad := f.addTarget(t, "http://bad:8080", "bad")
	good := f.addTarget(t, "http://good:8080", "good")
	f.fake.SetUnreachable(bad.ConnectURL, true)

	_, err := f.engine.Create(newRule("mixed", "true", true))
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return f.hasRunning(good.ConnectURL, "auto_mixed") }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return f.sink.Count(notify.CategoryRuleFailed) == 1 }, 2*time.Second, 10*time.Millisecond)

	failure := f.sink.ByCategory(notify.CategoryRuleFailed)[0].Message.(FailureEvent)
	assert.Equal(t, bad.ConnectURL, failure.Target)
	assert.Equal(t, "start", failure.Action)
}

func TestLoadAppliesStoredRules(t *testing.T) {
	f := newFixture(t)
	a := f.addTarget(t, "http://a:8080", "a")
	require.NoError(t, f.store.CreateRule(&models.Rule{
		Name: "persisted", MatchExpression: "true", EventSpecifier: "template=Continuous", Enabled: true,
	}))

	require.NoError(t, f.engine.Load())
	f.run(t)
	assert.Eventually(t, func() bool { return f.hasRunning(a.ConnectURL, "auto_persisted") }, 2*time.Second, 10*time.Millisecond)
}

func TestParseRules(t *testing.T) {
	yamlDoc := `
- name: first rule
  matchExpression: target.alias == "a"
  eventSpecifier: template=Continuous
- name: second
  matchExpression: "true"
  eventSpecifier: template=Profiling,type=TARGET
  enabled: true
---
name: third
matchExpression: "false"
eventSpecifier: template=Continuous
`
	rules, err := ParseRules([]byte(yamlDoc))
	require.NoError(t, err)
	require.Len(t, rules, 3)
	assert.Equal(t, "first rule", rules[0].Name)
	assert.True(t, rules[1].Enabled)
	assert.Equal(t, "third", rules[2].Name)

	jsonDoc := `{"name":"json_rule","matchExpression":"true","eventSpecifier":"template=Continuous","archivalPeriodSeconds":30,"preservedArchives":2}`
	rules, err = ParseRules([]byte(jsonDoc))
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, 30, rules[0].ArchivalPeriodSeconds)

	_, err = ParseRules([]byte(`"just a string"`))
	assert.ErrorIs(t, err, models.ErrInvalid)
}

func TestLoadDir(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"),
		[]byte("name: from_yaml\nmatchExpression: \"true\"\neventSpecifier: template=Continuous\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.json"),
		[]byte(`[{"name":"from_json","matchExpression":"true","eventSpecifier":"template=Continuous"},{"name":"invalid","matchExpression":"x(","eventSpecifier":"template=Continuous"}]`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	_, err := f.engine.Create(newRule("from_yaml", "false", false))
	require.NoError(t, err)

	created, err := f.engine.LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	names := []string{}
	for _, r := range f.engine.List() {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"from_json", "from_yaml"}, names)

	existing, _ := f.engine.Get("from_yaml")
	assert.Equal(t, "false", existing.MatchExpression)

	_, err = f.engine.LoadDir(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
