package models

// NodeType classifies a node of the discovery tree. Plugins may publish
// additional custom types (e.g. "Namespace", "Pod") for intermediate nodes.
type NodeType string

const (
	NodeTypeUniverse NodeType = "Universe"
	NodeTypeRealm    NodeType = "Realm"
	NodeTypeJVM      NodeType = "JVM"
)

// Names of the realms that always exist.
const (
	RealmCustomTargets = "Custom Targets"
	RealmJDP           = "JDP"
)

// DiscoveryNode is a node of the discovery tree (Universe -> Realm -> ... -> JVM).
//
// Children is nil for JVM leaves and an empty slice for childless inner nodes.
// Target is only present on JVM leaves.
type DiscoveryNode struct {
	ID       int64             `json:"id"`
	Name     string            `json:"name"`
	NodeType NodeType          `json:"nodeType"`
	Labels   map[string]string `json:"labels"`
	Children []*DiscoveryNode  `json:"children"`
	Target   *Target           `json:"target,omitempty"`
}

// IsLeaf reports whether the node carries a target.
func (n *DiscoveryNode) IsLeaf() bool {
	return n.Target != nil
}

// Clone returns a deep copy of the subtree rooted at n.
func (n *DiscoveryNode) Clone() *DiscoveryNode {
	if n == nil {
		return nil
	}
	out := &DiscoveryNode{
		ID:       n.ID,
		Name:     n.Name,
		NodeType: n.NodeType,
		Labels:   cloneMap(n.Labels),
	}
	if n.Target != nil {
		t := n.Target.Clone()
		out.Target = &t
	}
	if n.Children != nil {
		out.Children = make([]*DiscoveryNode, 0, len(n.Children))
		for _, c := range n.Children {
			out.Children = append(out.Children, c.Clone())
		}
	}
	return out
}

// Walk calls fn for n and every descendant, depth first. Returning false
// from fn skips the node's children.
func (n *DiscoveryNode) Walk(fn func(*DiscoveryNode) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// Targets returns the targets of every leaf below n.
func (n *DiscoveryNode) Targets() []Target {
	var out []Target
	n.Walk(func(node *DiscoveryNode) bool {
		if node.Target != nil {
			out = append(out, *node.Target)
		}
		return true
	})
	return out
}
