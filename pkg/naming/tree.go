package naming

import (
	"github.com/marmos91/driftfs/pkg/dfs"
	"github.com/marmos91/driftfs/pkg/rpc"
)

// ServerStubs pairs the two stubs identifying one registered storage
// server: the client-facing data stub and the naming-facing command
// stub. Equality is structural over both members.
type ServerStubs struct {
	Storage rpc.StubRef
	Command rpc.StubRef
}

// Equal reports whether two pairs identify the same storage server.
func (s ServerStubs) Equal(other ServerStubs) bool {
	return s.Storage.Equal(other.Storage) && s.Command.Equal(other.Command)
}

// pathNode is one node of the in-memory naming tree. A node is either a
// directory, which may have children, or a file-leaf, which carries the
// stubs of the storage server hosting the file's bytes. Directories
// never carry an owner; file-leaves never have children.
type pathNode struct {
	name     string
	children map[string]*pathNode
	owner    *ServerStubs
}

func newDirectoryNode(name string) *pathNode {
	return &pathNode{name: name, children: make(map[string]*pathNode)}
}

func newFileNode(name string, owner ServerStubs) *pathNode {
	return &pathNode{name: name, owner: &owner}
}

func (n *pathNode) isFile() bool {
	return n.owner != nil
}

// find traverses the tree component by component, failing with not-found
// when a component is missing or an intermediate node is a file.
func (n *pathNode) find(path dfs.Path) (*pathNode, error) {
	current := n
	for _, component := range path.Components() {
		child, ok := current.children[component]
		if !ok {
			return nil, dfs.NewPathError(dfs.ErrNotFound, "path does not exist", path.String())
		}
		current = child
	}
	return current, nil
}

// collectFiles visits every file-leaf in the subtree rooted at n. prefix
// is the path of n itself.
func (n *pathNode) collectFiles(prefix dfs.Path, visit func(dfs.Path, ServerStubs)) {
	if n.isFile() {
		visit(prefix, *n.owner)
		return
	}
	for name, child := range n.children {
		childPath, err := prefix.Append(name)
		if err != nil {
			continue
		}
		child.collectFiles(childPath, visit)
	}
}
