package discovery

import (
	"fmt"
	"slices"
	"strings"

	"evalgo.org/flightdeck/models"
)

// Snapshot returns a deep copy of the whole tree. Each realm is copied under
// its own lock, so no realm is ever observed half-updated.
func (t *Tree) Snapshot() *models.DiscoveryNode {
	t.mu.RLock()
	defer t.mu.RUnlock()

	root := &models.DiscoveryNode{
		ID:       t.rootID,
		Name:     string(models.NodeTypeUniverse),
		NodeType: models.NodeTypeUniverse,
		Labels:   map[string]string{},
		Children: make([]*models.DiscoveryNode, 0, len(t.order)),
	}
	for _, name := range t.order {
		r := t.realms[name]
		r.mu.RLock()
		root.Children = append(root.Children, r.node.Clone())
		r.mu.RUnlock()
	}
	return root
}

// RealmNode returns a copy of one realm's subtree.
func (t *Tree) RealmNode(name string) (*models.DiscoveryNode, error) {
	t.mu.RLock()
	r, ok := t.realms[name]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: realm %q", models.ErrNotFound, name)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.node.Clone(), nil
}

// Realms returns the realm names in creation order.
func (t *Tree) Realms() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.order)
}

// Targets returns every live target.
func (t *Tree) Targets() []models.Target {
	return t.Snapshot().Targets()
}

// FindTarget looks a target up by connect URL across all realms.
func (t *Tree) FindTarget(connectURL string) (models.Target, error) {
	for _, target := range t.Targets() {
		if target.ConnectURL == connectURL {
			return target, nil
		}
	}
	return models.Target{}, fmt.Errorf("%w: target %q", models.ErrNotFound, connectURL)
}

// Filter selects nodes. Set fields combine with AND; empty fields match
// everything.
type Filter struct {
	// ID matches the node id exactly
	ID int64 `json:"id,omitempty"`
	// Name matches the node name exactly
	Name string `json:"name,omitempty"`
	// Names matches any of the listed node names
	Names []string `json:"names,omitempty"`
	// NodeTypes matches any of the listed node types
	NodeTypes []string `json:"nodeTypes,omitempty"`
	// Labels are "key=value" or "key" selectors on node labels
	Labels []string `json:"labels,omitempty"`
	// TargetExpression is a match expression; only target nodes can match it
	TargetExpression string `json:"targetExpression,omitempty"`
}

// Query returns copies of the nodes that pass the filter, in depth-first
// order.
func (t *Tree) Query(f Filter) ([]*models.DiscoveryNode, error) {
	var expr interface {
		Matches(models.Target) bool
	}
	if f.TargetExpression != "" {
		compiled, err := t.eval.Compile(f.TargetExpression)
		if err != nil {
			return nil, err
		}
		expr = compiled
	}

	var out []*models.DiscoveryNode
	t.Snapshot().Walk(func(n *models.DiscoveryNode) bool {
		switch {
		case f.ID != 0 && n.ID != f.ID:
		case f.Name != "" && n.Name != f.Name:
		case len(f.Names) > 0 && !slices.Contains(f.Names, n.Name):
		case len(f.NodeTypes) > 0 && !containsFold(f.NodeTypes, string(n.NodeType)):
		case !matchLabels(f.Labels, n.Labels):
		case expr != nil && (n.Target == nil || !expr.Matches(*n.Target)):
		default:
			out = append(out, n)
		}
		return true
	})
	return out, nil
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func matchLabels(selectors []string, labels map[string]string) bool {
	for _, sel := range selectors {
		k, v, hasValue := strings.Cut(sel, "=")
		got, ok := labels[strings.TrimSpace(k)]
		if !ok || (hasValue && got != strings.TrimSpace(v)) {
			return false
		}
	}
	return true
}
