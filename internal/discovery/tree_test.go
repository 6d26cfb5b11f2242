package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"evalgo.org/flightdeck/internal/notify"
	"evalgo.org/flightdeck/models"
)

func newTestTree() *Tree {
	return NewTree(Options{Logger: zap.NewNop(), EventBuffer: 64})
}

func jvm(url string) models.Target {
	return models.Target{
		ConnectURL: url,
		Annotations: models.Annotations{
			Cryostat: map[string]string{models.AnnotationJavaMain: "com.example.Main"},
		},
	}
}

func nextEvent(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev := <-sub.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestNewTreeHasBuiltinRealms(t *testing.T) {
	tree := newTestTree()
	root := tree.Snapshot()

	assert.Equal(t, models.NodeTypeUniverse, root.NodeType)
	require.Len(t, root.Children, 2)
	assert.Equal(t, models.RealmCustomTargets, root.Children[0].Name)
	assert.Equal(t, models.RealmJDP, root.Children[1].Name)
	for _, r := range root.Children {
		assert.Equal(t, models.NodeTypeRealm, r.NodeType)
		assert.NotNil(t, r.Children)
	}

	assert.ErrorIs(t, tree.RemoveRealm(models.RealmJDP), ErrBuiltinRealm)
}

func TestAddAndRemoveTarget(t *testing.T) {
	tree := newTestTree()
	sub := tree.Subscribe()
	defer sub.Close()

	node, err := tree.AddTarget(models.RealmCustomTargets, jvm("service:jmx:rmi:///jndi/rmi://a:9091/jmxrmi"))
	require.NoError(t, err)
	assert.Equal(t, models.NodeTypeJVM, node.NodeType)
	assert.Nil(t, node.Children)
	require.NotNil(t, node.Target)
	assert.Equal(t, "com.example.Main", node.Target.Alias)
	assert.NotEmpty(t, node.Target.JvmID)
	assert.Equal(t, models.RealmCustomTargets, node.Target.Annotations.Cryostat[models.AnnotationRealm])

	ev := nextEvent(t, sub)
	assert.Equal(t, EventFound, ev.Kind)
	assert.Equal(t, node.Target.ConnectURL, ev.Target.ConnectURL)

	_, err = tree.AddTarget(models.RealmCustomTargets, jvm("service:jmx:rmi:///jndi/rmi://a:9091/jmxrmi"))
	assert.ErrorIs(t, err, models.ErrConflict)

	_, err = tree.AddTarget(models.RealmCustomTargets, jvm(" "))
	assert.ErrorIs(t, err, models.ErrInvalid)

	_, err = tree.AddTarget("nope", jvm("x"))
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, tree.RemoveTarget(models.RealmCustomTargets, node.Target.ConnectURL))
	ev = nextEvent(t, sub)
	assert.Equal(t, EventLost, ev.Kind)
	assert.Empty(t, tree.Targets())

	assert.ErrorIs(t, tree.RemoveTarget(models.RealmCustomTargets, node.Target.ConnectURL), models.ErrNotFound)
}

func TestSameURLInDifferentRealms(t *testing.T) {
	tree := newTestTree()
	_, err := tree.AddTarget(models.RealmCustomTargets, jvm("url"))
	require.NoError(t, err)
	_, err = tree.AddTarget(models.RealmJDP, jvm("url"))
	require.NoError(t, err)
	assert.Len(t, tree.Targets(), 2)
}

func TestNodeIDsAreNeverReused(t *testing.T) {
	tree := newTestTree()
	seen := map[int64]bool{}
	for i := 0; i < 5; i++ {
		n, err := tree.AddTarget(models.RealmCustomTargets, jvm("url"))
		require.NoError(t, err)
		assert.False(t, seen[n.ID], "id %d reused", n.ID)
		seen[n.ID] = true
		require.NoError(t, tree.RemoveTarget(models.RealmCustomTargets, "url"))
	}
}

func TestRealmLifecycle(t *testing.T) {
	tree := newTestTree()
	sub := tree.Subscribe()
	defer sub.Close()

	realmNode, err := tree.RegisterRealm("k8s")
	require.NoError(t, err)
	assert.Equal(t, models.NodeTypeRealm, realmNode.NodeType)
	assert.Equal(t, EventRealmAdded, nextEvent(t, sub).Kind)

	_, err = tree.RegisterRealm("k8s")
	assert.ErrorIs(t, err, models.ErrConflict)

	require.NoError(t, tree.SetRealmTargets("k8s", []models.Target{jvm("a"), jvm("b")}))
	assert.Equal(t, EventFound, nextEvent(t, sub).Kind)
	assert.Equal(t, EventFound, nextEvent(t, sub).Kind)

	require.NoError(t, tree.RemoveRealm("k8s"))
	lost := map[string]bool{}
	lost[nextEvent(t, sub).Target.ConnectURL] = true
	lost[nextEvent(t, sub).Target.ConnectURL] = true
	assert.Equal(t, map[string]bool{"a": true, "b": true}, lost)
	assert.Equal(t, EventRealmRemoved, nextEvent(t, sub).Kind)

	assert.NotContains(t, tree.Realms(), "k8s")
	assert.ErrorIs(t, tree.RemoveRealm("k8s"), models.ErrNotFound)
	assert.ErrorIs(t, tree.SetRealmTargets("k8s", nil), models.ErrNotFound)
}

func TestReplaceRealmChildrenDiffs(t *testing.T) {
	tree := newTestTree()
	_, err := tree.RegisterRealm("plugin")
	require.NoError(t, err)

	pod := func(urls ...string) []*models.DiscoveryNode {
		var leaves []*models.DiscoveryNode
		for _, u := range urls {
			target := jvm(u)
			leaves = append(leaves, &models.DiscoveryNode{Name: u, NodeType: models.NodeTypeJVM, Target: &target})
		}
		return []*models.DiscoveryNode{{Name: "ns", NodeType: "Namespace", Children: leaves}}
	}

	require.NoError(t, tree.ReplaceRealmChildren("plugin", pod("a", "b")))
	before, err := tree.RealmNode("plugin")
	require.NoError(t, err)
	require.Len(t, before.Children, 1)
	nsID := before.Children[0].ID

	sub := tree.Subscribe()
	defer sub.Close()

	require.NoError(t, tree.ReplaceRealmChildren("plugin", pod("b", "c")))
	lost := nextEvent(t, sub)
	found := nextEvent(t, sub)
	assert.Equal(t, EventLost, lost.Kind)
	assert.Equal(t, "a", lost.Target.ConnectURL)
	assert.Equal(t, EventFound, found.Kind)
	assert.Equal(t, "c", found.Target.ConnectURL)

	after, err := tree.RealmNode("plugin")
	require.NoError(t, err)
	assert.Equal(t, nsID, after.Children[0].ID, "namespace node id should survive the push")
}

func TestReplaceRealmChildrenValidation(t *testing.T) {
	tree := newTestTree()
	_, err := tree.RegisterRealm("plugin")
	require.NoError(t, err)
	target := jvm("a")

	tests := []struct {
		name  string
		nodes []*models.DiscoveryNode
	}{
		{"nil node", []*models.DiscoveryNode{nil}},
		{"no name", []*models.DiscoveryNode{{NodeType: models.NodeTypeJVM, Target: &target}}},
		{"no type", []*models.DiscoveryNode{{Name: "x"}}},
		{"realm type", []*models.DiscoveryNode{{Name: "x", NodeType: models.NodeTypeRealm}}},
		{"jvm without target", []*models.DiscoveryNode{{Name: "x", NodeType: models.NodeTypeJVM}}},
		{"duplicate url", []*models.DiscoveryNode{
			{Name: "x", NodeType: models.NodeTypeJVM, Target: &target},
			{Name: "y", NodeType: models.NodeTypeJVM, Target: &target},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tree.ReplaceRealmChildren("plugin", tt.nodes), models.ErrInvalid)
		})
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	tree := newTestTree()
	_, err := tree.AddTarget(models.RealmCustomTargets, jvm("a"))
	require.NoError(t, err)

	snap := tree.Snapshot()
	snap.Children[0].Children[0].Target.Labels["mutated"] = "yes"
	snap.Children[0].Children = nil

	again := tree.Snapshot()
	require.Len(t, again.Children[0].Children, 1)
	assert.NotContains(t, again.Children[0].Children[0].Target.Labels, "mutated")
}

func TestQuery(t *testing.T) {
	tree := newTestTree()
	a := jvm("a")
	a.Labels = map[string]string{"env": "prod"}
	_, err := tree.AddTarget(models.RealmCustomTargets, a)
	require.NoError(t, err)
	_, err = tree.AddTarget(models.RealmJDP, jvm("b"))
	require.NoError(t, err)

	nodes, err := tree.Query(Filter{NodeTypes: []string{"jvm"}})
	require.NoError(t, err)
	assert.Len(t, nodes, 2)

	nodes, err = tree.Query(Filter{Name: models.RealmJDP})
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, models.NodeTypeRealm, nodes[0].NodeType)

	nodes, err = tree.Query(Filter{Names: []string{"a", "b", "zzz"}})
	require.NoError(t, err)
	assert.Len(t, nodes, 2)

	nodes, err = tree.Query(Filter{TargetExpression: "target.labels.env == 'prod'"})
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "a", nodes[0].Target.ConnectURL)

	nodes, err = tree.Query(Filter{TargetExpression: "target.annotations.cryostat.REALM == 'JDP'", NodeTypes: []string{"JVM"}})
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "b", nodes[0].Target.ConnectURL)

	_, err = tree.Query(Filter{TargetExpression: "System.exit(1)"})
	assert.ErrorIs(t, err, models.ErrInvalid)
}

func TestFindTarget(t *testing.T) {
	tree := newTestTree()
	_, err := tree.AddTarget(models.RealmCustomTargets, jvm("a"))
	require.NoError(t, err)

	got, err := tree.FindTarget("a")
	require.NoError(t, err)
	assert.Equal(t, "a", got.ConnectURL)

	_, err = tree.FindTarget("zzz")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestConcurrentMutationsKeepUniqueness(t *testing.T) {
	tree := newTestTree()
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := tree.AddTarget(models.RealmCustomTargets, jvm("same")); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
			_ = tree.Snapshot()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, succeeded)
	assert.Len(t, tree.Targets(), 1)
}

func TestEventsPerRealmAreOrdered(t *testing.T) {
	tree := newTestTree()
	sub := tree.Subscribe()
	defer sub.Close()

	for i := 0; i < 10; i++ {
		url := fmt.Sprintf("t%d", i)
		_, err := tree.AddTarget(models.RealmCustomTargets, jvm(url))
		require.NoError(t, err)
		require.NoError(t, tree.RemoveTarget(models.RealmCustomTargets, url))
	}
	for i := 0; i < 10; i++ {
		url := fmt.Sprintf("t%d", i)
		found := nextEvent(t, sub)
		lost := nextEvent(t, sub)
		assert.Equal(t, EventFound, found.Kind)
		assert.Equal(t, url, found.Target.ConnectURL)
		assert.Equal(t, EventLost, lost.Kind)
		assert.Equal(t, url, lost.Target.ConnectURL)
	}
}

func TestClosedSubscriptionDoesNotBlockPublishers(t *testing.T) {
	tree := NewTree(Options{Logger: zap.NewNop(), EventBuffer: 1})
	sub := tree.Subscribe()
	sub.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			_, _ = tree.AddTarget(models.RealmCustomTargets, jvm(fmt.Sprintf("t%d", i)))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on a closed subscription")
	}
}

func TestForwardNotifications(t *testing.T) {
	tree := newTestTree()
	rec := notify.NewRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	go func() {
		close(started)
		ForwardNotifications(ctx, tree, rec)
	}()
	<-started
	require.Eventually(t, func() bool {
		tree.bus.mu.RLock()
		defer tree.bus.mu.RUnlock()
		return len(tree.bus.subs) == 1
	}, time.Second, time.Millisecond)

	_, err := tree.AddTarget(models.RealmCustomTargets, jvm("a"))
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return rec.Count(notify.CategoryTargetJvmDiscovery) == 1
	}, time.Second, 5*time.Millisecond)
}
