// Package discovery maintains the tree of discovered JVMs:
//
//	Universe
//	├── Realm "Custom Targets"
//	├── Realm "JDP"
//	└── Realm <plugin> ── ... ── JVM
//
// Writers are serialized per realm and every change is published, in order,
// to subscribers.
package discovery

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"evalgo.org/flightdeck/internal/matchexpr"
	"evalgo.org/flightdeck/internal/metrics"
	"evalgo.org/flightdeck/models"
)

// ErrBuiltinRealm is returned when removing a realm that always exists.
var ErrBuiltinRealm = fmt.Errorf("%w: built-in realms cannot be removed", models.ErrInvalid)

// realm owns one subtree under the universe.
type realm struct {
	// writeMu serializes mutations and their event publication, so events
	// of one realm reach subscribers in mutation order.
	writeMu sync.Mutex
	// mu guards node against concurrent readers.
	mu      sync.RWMutex
	node    *models.DiscoveryNode
	builtin bool
	removed bool
}

// Options configure a Tree.
type Options struct {
	// EventBuffer bounds each subscriber channel
	EventBuffer int
	// Evaluator is shared with the rule engine and credential resolver
	Evaluator *matchexpr.Evaluator
	Logger    *zap.Logger
}

// Tree is the discovery tree.
type Tree struct {
	mu     sync.RWMutex
	realms map[string]*realm
	order  []string

	rootID int64
	nextID atomic.Int64
	bus    *bus
	eval   *matchexpr.Evaluator
	logger *zap.Logger
}

// NewTree creates a tree with the built-in "Custom Targets" and "JDP" realms.
func NewTree(opts Options) *Tree {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Evaluator == nil {
		opts.Evaluator = matchexpr.NewEvaluator()
	}
	t := &Tree{
		realms: make(map[string]*realm),
		bus:    newBus(opts.EventBuffer),
		eval:   opts.Evaluator,
		logger: opts.Logger.Named("discovery"),
	}
	t.rootID = t.allocID()
	for _, name := range []string{models.RealmCustomTargets, models.RealmJDP} {
		_, _ = t.addRealm(name, true)
	}
	return t
}

func (t *Tree) allocID() int64 {
	return t.nextID.Add(1)
}

// Subscribe returns a subscription to all future tree events.
func (t *Tree) Subscribe() *Subscription {
	return t.bus.subscribe()
}

// Evaluator returns the match expression evaluator used by queries.
func (t *Tree) Evaluator() *matchexpr.Evaluator {
	return t.eval
}

// RegisterRealm adds a realm node under the universe. It fails with
// models.ErrConflict when the name is taken.
func (t *Tree) RegisterRealm(name string) (*models.DiscoveryNode, error) {
	return t.addRealm(name, false)
}

// RegisterBuiltinRealm adds a realm that cannot be removed, or returns the
// existing one.
func (t *Tree) RegisterBuiltinRealm(name string) (*models.DiscoveryNode, error) {
	n, err := t.addRealm(name, true)
	if errors.Is(err, models.ErrConflict) {
		return t.RealmNode(name)
	}
	return n, err
}

func (t *Tree) addRealm(name string, builtin bool) (*models.DiscoveryNode, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: realm name is blank", models.ErrInvalid)
	}
	r := &realm{
		builtin: builtin,
		node: &models.DiscoveryNode{
			ID:       t.allocID(),
			Name:     name,
			NodeType: models.NodeTypeRealm,
			Labels:   map[string]string{},
			Children: []*models.DiscoveryNode{},
		},
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	t.mu.Lock()
	if _, exists := t.realms[name]; exists {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: realm %q already exists", models.ErrConflict, name)
	}
	t.realms[name] = r
	t.order = append(t.order, name)
	t.mu.Unlock()

	t.logger.Info("realm added", zap.String("realm", name), zap.Bool("builtin", builtin))
	t.emit(Event{Kind: EventRealmAdded, Realm: name})
	return r.node.Clone(), nil
}

// RemoveRealm removes a realm and all of its descendants, publishing LOST
// for every target it held.
func (t *Tree) RemoveRealm(name string) error {
	t.mu.Lock()
	r, ok := t.realms[name]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: realm %q", models.ErrNotFound, name)
	}
	if r.builtin {
		t.mu.Unlock()
		return ErrBuiltinRealm
	}
	delete(t.realms, name)
	for i, n := range t.order {
		if n == name {
			t.order = append(t.order[:i:i], t.order[i+1:]...)
			break
		}
	}
	t.mu.Unlock()

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	r.mu.Lock()
	r.removed = true
	lost := r.node.Targets()
	r.node.Children = []*models.DiscoveryNode{}
	r.mu.Unlock()

	events := make([]Event, 0, len(lost)+1)
	for _, target := range lost {
		events = append(events, Event{Kind: EventLost, Realm: name, Target: target})
	}
	events = append(events, Event{Kind: EventRealmRemoved, Realm: name})
	t.logger.Info("realm removed", zap.String("realm", name), zap.Int("targets", len(lost)))
	metrics.LiveTargets.DeleteLabelValues(name)
	t.emit(events...)
	return nil
}

// lockRealm acquires the writer lock of a live realm.
func (t *Tree) lockRealm(name string) (*realm, error) {
	t.mu.RLock()
	r, ok := t.realms[name]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: realm %q", models.ErrNotFound, name)
	}
	r.writeMu.Lock()
	if r.removed {
		r.writeMu.Unlock()
		return nil, fmt.Errorf("%w: realm %q", models.ErrNotFound, name)
	}
	return r, nil
}

// AddTarget adds a JVM leaf directly under the realm. It fails with
// models.ErrConflict if the realm already holds the connect URL.
func (t *Tree) AddTarget(realmName string, target models.Target) (*models.DiscoveryNode, error) {
	if strings.TrimSpace(target.ConnectURL) == "" {
		return nil, fmt.Errorf("%w: connectUrl is required", models.ErrInvalid)
	}
	r, err := t.lockRealm(realmName)
	if err != nil {
		return nil, err
	}
	defer r.writeMu.Unlock()

	prepareTarget(realmName, &target)
	if leaf, _ := findLeaf(r.node, target.ConnectURL); leaf != nil {
		return nil, fmt.Errorf("%w: target %q already exists in realm %q", models.ErrConflict, target.ConnectURL, realmName)
	}

	leaf := &models.DiscoveryNode{
		ID:       t.allocID(),
		Name:     target.ConnectURL,
		NodeType: models.NodeTypeJVM,
		Labels:   map[string]string{},
		Target:   &target,
	}
	r.mu.Lock()
	r.node.Children = append(r.node.Children, leaf)
	count := len(r.node.Targets())
	r.mu.Unlock()

	metrics.LiveTargets.WithLabelValues(realmName).Set(float64(count))
	t.emit(Event{Kind: EventFound, Realm: realmName, Target: target.Clone()})
	return leaf.Clone(), nil
}

// RemoveTarget removes the JVM leaf with the given connect URL from anywhere
// inside the realm.
func (t *Tree) RemoveTarget(realmName, connectURL string) error {
	r, err := t.lockRealm(realmName)
	if err != nil {
		return err
	}
	defer r.writeMu.Unlock()

	r.mu.Lock()
	leaf, parent := findLeaf(r.node, connectURL)
	if leaf == nil {
		r.mu.Unlock()
		return fmt.Errorf("%w: target %q in realm %q", models.ErrNotFound, connectURL, realmName)
	}
	for i, c := range parent.Children {
		if c == leaf {
			parent.Children = append(parent.Children[:i:i], parent.Children[i+1:]...)
			break
		}
	}
	count := len(r.node.Targets())
	r.mu.Unlock()

	metrics.LiveTargets.WithLabelValues(realmName).Set(float64(count))
	t.emit(Event{Kind: EventLost, Realm: realmName, Target: leaf.Target.Clone()})
	return nil
}

// ReplaceRealmChildren swaps the realm's whole subtree for nodes and
// publishes the difference: LOST for vanished targets, MODIFIED for changed
// ones and FOUND for new ones. Node ids survive for nodes at the same path.
func (t *Tree) ReplaceRealmChildren(realmName string, nodes []*models.DiscoveryNode) error {
	if err := validateNodes(nodes, map[string]bool{}); err != nil {
		return err
	}
	r, err := t.lockRealm(realmName)
	if err != nil {
		return err
	}
	defer r.writeMu.Unlock()

	r.mu.RLock()
	oldIDs := map[string]int64{}
	indexPaths(r.node.Children, "", oldIDs)
	oldTargets := targetsByURL(r.node)
	r.mu.RUnlock()

	children := make([]*models.DiscoveryNode, 0, len(nodes))
	for _, n := range nodes {
		children = append(children, t.adopt(realmName, n, "", oldIDs))
	}

	r.mu.Lock()
	r.node.Children = children
	newTargets := targetsByURL(r.node)
	r.mu.Unlock()

	events := diffTargets(realmName, oldTargets, newTargets)
	metrics.LiveTargets.WithLabelValues(realmName).Set(float64(len(newTargets)))
	t.emit(events...)
	return nil
}

// SetRealmTargets replaces the realm's contents with one leaf per target.
func (t *Tree) SetRealmTargets(realmName string, targets []models.Target) error {
	nodes := make([]*models.DiscoveryNode, 0, len(targets))
	for i := range targets {
		target := targets[i]
		nodes = append(nodes, &models.DiscoveryNode{
			Name:     target.ConnectURL,
			NodeType: models.NodeTypeJVM,
			Target:   &target,
		})
	}
	return t.ReplaceRealmChildren(realmName, nodes)
}

// adopt deep-copies a pushed node into the tree, assigning ids and
// completing target defaults.
func (t *Tree) adopt(realmName string, n *models.DiscoveryNode, parentPath string, oldIDs map[string]int64) *models.DiscoveryNode {
	path := nodePath(parentPath, n)
	out := &models.DiscoveryNode{
		Name:     n.Name,
		NodeType: n.NodeType,
		Labels:   map[string]string{},
	}
	for k, v := range n.Labels {
		out.Labels[k] = v
	}
	if id, ok := oldIDs[path]; ok {
		out.ID = id
	} else {
		out.ID = t.allocID()
	}
	if n.Target != nil {
		target := n.Target.Clone()
		prepareTarget(realmName, &target)
		out.Target = &target
		return out
	}
	out.Children = make([]*models.DiscoveryNode, 0, len(n.Children))
	for _, c := range n.Children {
		out.Children = append(out.Children, t.adopt(realmName, c, path, oldIDs))
	}
	return out
}

func (t *Tree) emit(events ...Event) {
	for _, ev := range events {
		metrics.DiscoveryEvents.WithLabelValues(string(ev.Kind)).Inc()
		if ev.IsTargetEvent() {
			t.logger.Debug("target event",
				zap.String("kind", string(ev.Kind)),
				zap.String("realm", ev.Realm),
				zap.String("connectUrl", ev.Target.ConnectURL))
		}
	}
	t.bus.publish(events...)
}

// prepareTarget fills in defaults for a target entering realmName.
func prepareTarget(realmName string, target *models.Target) {
	*target = target.Clone()
	target.ConnectURL = strings.TrimSpace(target.ConnectURL)
	if target.JvmID == "" {
		target.JvmID = models.DeriveJvmID(target.ConnectURL)
	}
	if target.Alias == "" {
		if main := target.Annotations.Cryostat[models.AnnotationJavaMain]; main != "" {
			target.Alias = main
		} else {
			target.Alias = target.ConnectURL
		}
	}
	target.Annotations.Cryostat[models.AnnotationRealm] = realmName
}

func findLeaf(n *models.DiscoveryNode, connectURL string) (leaf, parent *models.DiscoveryNode) {
	for _, c := range n.Children {
		if c.Target != nil && c.Target.ConnectURL == connectURL {
			return c, n
		}
		if l, p := findLeaf(c, connectURL); l != nil {
			return l, p
		}
	}
	return nil, nil
}

func nodePath(parent string, n *models.DiscoveryNode) string {
	if n.Target != nil {
		return parent + "/jvm:" + strings.TrimSpace(n.Target.ConnectURL)
	}
	return parent + "/" + string(n.NodeType) + ":" + n.Name
}

func indexPaths(nodes []*models.DiscoveryNode, parent string, out map[string]int64) {
	for _, n := range nodes {
		p := nodePath(parent, n)
		out[p] = n.ID
		indexPaths(n.Children, p, out)
	}
}

func targetsByURL(n *models.DiscoveryNode) map[string]models.Target {
	out := map[string]models.Target{}
	for _, target := range n.Targets() {
		out[target.ConnectURL] = target.Clone()
	}
	return out
}

func diffTargets(realmName string, before, after map[string]models.Target) []Event {
	var lost, modified, found []Event
	for url, old := range before {
		cur, ok := after[url]
		switch {
		case !ok:
			lost = append(lost, Event{Kind: EventLost, Realm: realmName, Target: old})
		case !reflect.DeepEqual(old, cur):
			modified = append(modified, Event{Kind: EventModified, Realm: realmName, Target: cur})
		}
	}
	for url, cur := range after {
		if _, ok := before[url]; !ok {
			found = append(found, Event{Kind: EventFound, Realm: realmName, Target: cur})
		}
	}
	for _, list := range [][]Event{lost, modified, found} {
		sort.Slice(list, func(i, j int) bool { return list[i].Target.ConnectURL < list[j].Target.ConnectURL })
	}
	out := append(lost, modified...)
	return append(out, found...)
}

// validateNodes checks the structure of a pushed subtree.
func validateNodes(nodes []*models.DiscoveryNode, seen map[string]bool) error {
	for _, n := range nodes {
		if n == nil {
			return fmt.Errorf("%w: null node", models.ErrInvalid)
		}
		if strings.TrimSpace(n.Name) == "" {
			return fmt.Errorf("%w: node name is required", models.ErrInvalid)
		}
		switch n.NodeType {
		case "":
			return fmt.Errorf("%w: node %q has no nodeType", models.ErrInvalid, n.Name)
		case models.NodeTypeUniverse, models.NodeTypeRealm:
			return fmt.Errorf("%w: node %q cannot have type %s", models.ErrInvalid, n.Name, n.NodeType)
		}
		if n.Target == nil {
			if n.NodeType == models.NodeTypeJVM {
				return fmt.Errorf("%w: JVM node %q has no target", models.ErrInvalid, n.Name)
			}
			if err := validateNodes(n.Children, seen); err != nil {
				return err
			}
			continue
		}
		if len(n.Children) > 0 {
			return fmt.Errorf("%w: target node %q cannot have children", models.ErrInvalid, n.Name)
		}
		url := strings.TrimSpace(n.Target.ConnectURL)
		if url == "" {
			return fmt.Errorf("%w: target node %q has no connectUrl", models.ErrInvalid, n.Name)
		}
		if seen[url] {
			return fmt.Errorf("%w: duplicate connectUrl %q", models.ErrInvalid, url)
		}
		seen[url] = true
	}
	return nil
}
