package apprun

import (
	"log/slog"
	"sort"

	"github.com/m1gwings/treedrawer/tree"
)

// DumpDependencyTree renders the resource registration graph as a
// human-readable tree, used by LogBootFailure on boot failure.
// Grounded on extensions/graph_debug.go's
// buildTree/addTreeAsChild/tryFormatHorizontalTree, generalized from the
// teacher's single reactive-executor dependency graph to this package's
// resource Register tree, and from executor identity to resource id.
func DumpDependencyTree(root *Resource) string {
	visited := map[string]bool{}
	t := buildResourceTree(root, visited)
	if t == nil {
		return "(empty)"
	}
	return t.String()
}

func buildResourceTree(r *Resource, visited map[string]bool) *tree.Tree {
	if visited[r.ID] {
		return nil
	}
	visited[r.ID] = true

	label := r.ID
	switch r.state {
	case resourceInitialized:
		label += " ✓"
	case resourceRegistered:
		label += " (uninitialized)"
	}

	node := tree.NewTree(tree.NodeString(label))

	children := append([]Registerable{}, r.effectiveRegister(r.DefaultConfig)...)
	sort.Slice(children, func(i, j int) bool {
		return registerableID(children[i]) < registerableID(children[j])
	})

	for _, child := range children {
		switch v := child.(type) {
		case *Resource:
			if childTree := buildResourceTree(v, visited); childTree != nil {
				addTreeAsChild(node, childTree)
			}
		case *ResourceWithConfig:
			if childTree := buildResourceTree(v.Resource, visited); childTree != nil {
				addTreeAsChild(node, childTree)
			}
		default:
			leaf := tree.NewTree(tree.NodeString(registerableID(child)))
			addTreeAsChild(node, leaf)
		}
	}
	return node
}

// addTreeAsChild recursively clones child under parent, matching the
// teacher's addTreeAsChild (the treedrawer API has no direct subtree
// attach).
func addTreeAsChild(parent, child *tree.Tree) {
	newChild := parent.AddChild(child.Val())
	for _, grandchild := range child.Children() {
		addTreeAsChild(newChild, grandchild)
	}
}

func registerableID(r Registerable) string {
	if n := r.registerableNode(); n != nil {
		return n.NodeID()
	}
	return "?"
}

// LogBootFailure logs a structured error plus the dependency tree on a
// failed Boot, mirroring the teacher's GraphDebugExtension.OnError.
func LogBootFailure(logger *slog.Logger, root *Resource, err error) {
	logger.Error("apprun: boot failed",
		"error", err.Error(),
		"dependency_tree", DumpDependencyTree(root),
	)
}
