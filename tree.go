package xtaf

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/dsoprea/go-logging"
	"github.com/hashicorp/go-multierror"
)

// NodeId identifies a node within its tree.
type NodeId int

const (
	// RootNodeId is always the id of the root.
	RootNodeId NodeId = 0

	noParent NodeId = -1

	// PathSeparator separates the parts of a tree path.
	PathSeparator = "/"
)

// TreeNode is one file or directory. The root is the only node without an
// entry.
type TreeNode struct {
	id     NodeId
	parent NodeId

	name string
	path string

	entry *DirectoryEntry

	chain    *ClusterChain
	expanded bool

	childrenFolders sort.StringSlice
	childrenFiles   sort.StringSlice

	childrenMap map[string]NodeId

	provenance *Provenance
	problems   []error
}

func newTreeNode(id, parent NodeId, name, path string, entry *DirectoryEntry) (tn *TreeNode) {
	tn = &TreeNode{
		id:     id,
		parent: parent,
		name:   name,
		path:   path,
		entry:  entry,

		childrenFolders: make(sort.StringSlice, 0),
		childrenFiles:   make(sort.StringSlice, 0),

		childrenMap: make(map[string]NodeId),

		problems: make([]error, 0),
	}

	return tn
}

// Id returns the node's id.
func (tn *TreeNode) Id() NodeId {
	return tn.id
}

// ParentId returns the parent's id. The root has no parent and returns false.
func (tn *TreeNode) ParentId() (id NodeId, found bool) {
	if tn.parent == noParent {
		return 0, false
	}

	return tn.parent, true
}

// Name is the key that the node is stored under in its parent. Deleted
// entries carry the "~" prefix.
func (tn *TreeNode) Name() string {
	return tn.name
}

// Path is the full path of the node ("/" for the root).
func (tn *TreeNode) Path() string {
	return tn.path
}

// Entry returns the decoded directory entry, or nil for the root.
func (tn *TreeNode) Entry() *DirectoryEntry {
	return tn.entry
}

func (tn *TreeNode) IsRoot() bool {
	return tn.entry == nil
}

func (tn *TreeNode) IsDirectory() bool {
	return tn.entry == nil || tn.entry.IsDirectory() == true
}

// IsAllocated is false for deleted entries.
func (tn *TreeNode) IsAllocated() bool {
	return tn.entry == nil || tn.entry.Allocated == true
}

// IsExpanded indicates that the children have been loaded.
func (tn *TreeNode) IsExpanded() bool {
	return tn.expanded
}

// ChildFolders returns the sorted names of the child directories. It's only
// populated once the node is expanded.
func (tn *TreeNode) ChildFolders() []string {
	return tn.childrenFolders
}

// ChildFiles returns the sorted names of the child files. It's only
// populated once the node is expanded.
func (tn *TreeNode) ChildFiles() []string {
	return tn.childrenFiles
}

// Problems returns everything that went wrong while reading this node.
func (tn *TreeNode) Problems() []error {
	return tn.problems
}

func (tn *TreeNode) addProblem(problem error) {
	tn.problems = append(tn.problems, problem)
}

// AddProblem records a problem found outside of the tree (e.g. while
// extracting) on the node, so that it's reported with the others.
func (tree *Tree) AddProblem(node *TreeNode, problem error) {
	if tree.threadSafe == true {
		tree.lock.Lock()
		defer tree.lock.Unlock()
	}

	node.addProblem(problem)
}

func (tn *TreeNode) addChildName(name string, isDirectory bool, id NodeId) {
	// The children arrive in slot order. Use insertion sort so that the order
	// is deterministic and sorted.

	var list sort.StringSlice
	if isDirectory == true {
		list = tn.childrenFolders
	} else {
		list = tn.childrenFiles
	}

	insertOrEqualAt := list.Search(name)

	if insertOrEqualAt >= len(list) {
		list = append(list, name)
	} else if list[insertOrEqualAt] != name {
		leftHalf := list[:insertOrEqualAt]
		rightHalf := list[insertOrEqualAt:]
		list = append(leftHalf, append([]string{name}, rightHalf...)...)
	}

	if isDirectory == true {
		tn.childrenFolders = list
	} else {
		tn.childrenFiles = list
	}

	tn.childrenMap[name] = id
}

func (tn *TreeNode) String() string {
	return fmt.Sprintf("TreeNode<ID=(%d) PATH=[%s] IS-DIRECTORY=[%v] IS-ALLOCATED=[%v] EXPANDED=[%v]>", tn.id, tn.path, tn.IsDirectory(), tn.IsAllocated(), tn.expanded)
}

// Tree is the lazily-built directory hierarchy of a volume. Nodes live in an
// arena and refer to their parents and children by id.
type Tree struct {
	xr *XtafReader

	nodes     []*TreeNode
	pathIndex map[string]NodeId

	threadSafe bool
	lock       sync.Mutex
}

// NewTree returns a tree with just the root. Nothing is read until a
// directory is expanded.
func NewTree(xr *XtafReader) *Tree {
	rootNode := newTreeNode(RootNodeId, noParent, "", PathSeparator, nil)

	tree := &Tree{
		xr:         xr,
		nodes:      []*TreeNode{rootNode},
		pathIndex:  map[string]NodeId{PathSeparator: RootNodeId},
		threadSafe: xr.options.ThreadSafe,
	}

	return tree
}

// Reader returns the underlying reader.
func (tree *Tree) Reader() *XtafReader {
	return tree.xr
}

// Root returns the root node.
func (tree *Tree) Root() *TreeNode {
	return tree.nodes[RootNodeId]
}

// Node returns the node with the given id, or nil.
func (tree *Tree) Node(id NodeId) *TreeNode {
	if tree.threadSafe == true {
		tree.lock.Lock()
		defer tree.lock.Unlock()
	}

	if id < 0 || int(id) >= len(tree.nodes) {
		return nil
	}

	return tree.nodes[id]
}

// Parent returns the parent of the node, or nil for the root.
func (tree *Tree) Parent(node *TreeNode) *TreeNode {
	if node.parent == noParent {
		return nil
	}

	return tree.Node(node.parent)
}

// NodeCount returns the number of nodes loaded so far.
func (tree *Tree) NodeCount() int {
	if tree.threadSafe == true {
		tree.lock.Lock()
		defer tree.lock.Unlock()
	}

	return len(tree.nodes)
}

// Chain returns the (lazily-resolved) cluster chain of the node.
func (tree *Tree) Chain(node *TreeNode) ClusterChain {
	if tree.threadSafe == true {
		tree.lock.Lock()
		defer tree.lock.Unlock()
	}

	return tree.chain(node)
}

func (tree *Tree) chain(node *TreeNode) ClusterChain {
	if node.chain != nil {
		return *node.chain
	}

	var chain ClusterChain
	if node.IsRoot() == true {
		chain = tree.xr.ResolveChain(RootDirectoryCluster)

		// Some volumes leave the root's own FAT entry empty. The root still
		// occupies its first cluster.
		if chain.Status == ChainAborted && chain.Len() == 1 {
			xtafLogger.Debugf(nil, "Root-directory FAT entry is empty. Using one cluster.")
			chain.Status = ChainComplete
		}
	} else {
		chain = tree.xr.ResolveChain(node.entry.StartingCluster())
	}

	if chainErr := chain.Err(); chainErr != nil {
		node.addProblem(chainErr)
	}

	node.chain = &chain

	return chain
}

// LogicalSize is the recorded size for files and the size of all of the
// clusters for directories (which don't record a size).
func (tree *Tree) LogicalSize(node *TreeNode) uint64 {
	if tree.threadSafe == true {
		tree.lock.Lock()
		defer tree.lock.Unlock()
	}

	return tree.logicalSize(node)
}

func (tree *Tree) logicalSize(node *TreeNode) uint64 {
	if node.IsDirectory() == false {
		return node.entry.FileSize()
	}

	chain := tree.chain(node)
	return tree.xr.ClusterSize() * uint64(chain.Len())
}

// Expand loads the children of a directory. It does nothing if the directory
// was already expanded.
func (tree *Tree) Expand(node *TreeNode) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			var ok bool
			if err, ok = errRaw.(error); ok == true {
				err = log.Wrap(err)
			} else {
				err = log.Errorf("Error not an error: [%s] [%v]", reflect.TypeOf(err).Name(), err)
			}
		}
	}()

	if tree.threadSafe == true {
		tree.lock.Lock()
		defer tree.lock.Unlock()
	}

	return tree.expand(node)
}

func (tree *Tree) expand(node *TreeNode) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			var ok bool
			if err, ok = errRaw.(error); ok == true {
				err = log.Wrap(err)
			} else {
				err = log.Errorf("Error not an error: [%s] [%v]", reflect.TypeOf(err).Name(), err)
			}
		}
	}()

	if node.IsDirectory() == false {
		return ErrNotDirectory
	}

	if node.expanded == true {
		return nil
	}

	if ancestor := tree.loopingAncestor(node); ancestor != nil {
		problem := fmt.Errorf("directory shares its starting cluster (%d) with ancestor [%s]; not expanding", node.entry.StartingCluster(), ancestor.path)

		xtafLogger.Warningf(nil, "Directory [%s]: %s", node.path, problem)
		node.addProblem(problem)
		node.expanded = true

		return nil
	}

	chain := tree.chain(node)

	xn := NewXtafNavigator(tree.xr, chain)

	index, _, err := xn.IndexDirectoryEntries()
	if errors.Is(err, ErrMalformedDirectoryRecord) == true {
		xtafLogger.Warningf(nil, "Directory [%s]: %s", node.path, err)
		node.addProblem(err)
	} else {
		log.PanicIf(err)
	}

	for i := range index {
		tree.addChild(node, index[i])
	}

	// Only now. A failure above leaves the directory to be retried.
	node.expanded = true

	return nil
}

// loopingAncestor returns the ancestor that starts at the same cluster as
// the given directory, if any.
func (tree *Tree) loopingAncestor(node *TreeNode) *TreeNode {
	if node.IsRoot() == true {
		return nil
	}

	startingCluster := node.entry.StartingCluster()

	for current := node.parent; current != noParent; current = tree.nodes[current].parent {
		ancestor := tree.nodes[current]

		ancestorCluster := RootDirectoryCluster
		if ancestor.IsRoot() == false {
			ancestorCluster = ancestor.entry.StartingCluster()
		}

		if ancestorCluster == startingCluster {
			return ancestor
		}
	}

	return nil
}

func (tree *Tree) addChild(parent *TreeNode, de DirectoryEntry) *TreeNode {
	name := de.TreeName()

	// Never lose an entry to a name collision (e.g. a live file and a deleted
	// file with the same name, or two deleted files).
	// A suffixed name can itself be taken by a sibling, so keep going until
	// it's unique.
	for {
		if _, found := parent.childrenMap[name]; found == false && name != "" && name != DeletedNamePrefix {
			break
		}

		name = name + "@" + strconv.Itoa(de.SlotIndex)
	}

	path := joinPath(parent.path, name)
	id := NodeId(len(tree.nodes))

	entry := de
	childNode := newTreeNode(id, parent.id, name, path, &entry)

	tree.nodes = append(tree.nodes, childNode)
	tree.pathIndex[path] = id

	parent.addChildName(name, de.IsDirectory(), id)

	return childNode
}

func joinPath(parentPath, name string) string {
	if parentPath == PathSeparator {
		return PathSeparator + name
	}

	return parentPath + PathSeparator + name
}

// SplitPath breaks a path into its parts. Empty parts are dropped, so "/",
// "" and "//" all describe the root.
func SplitPath(path string) (pathParts []string) {
	pathParts = make([]string, 0)

	for _, part := range strings.Split(path, PathSeparator) {
		if part != "" {
			pathParts = append(pathParts, part)
		}
	}

	return pathParts
}

// Children returns the child nodes of a directory, folders first, each group
// sorted by name.
func (tree *Tree) Children(node *TreeNode) (children []*TreeNode, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			var ok bool
			if err, ok = errRaw.(error); ok == true {
				err = log.Wrap(err)
			} else {
				err = log.Errorf("Error not an error: [%s] [%v]", reflect.TypeOf(err).Name(), err)
			}
		}
	}()

	if tree.threadSafe == true {
		tree.lock.Lock()
		defer tree.lock.Unlock()
	}

	err = tree.expand(node)
	if err == ErrNotDirectory {
		return nil, err
	}

	log.PanicIf(err)

	return tree.children(node), nil
}

func (tree *Tree) children(node *TreeNode) []*TreeNode {
	children := make([]*TreeNode, 0, len(node.childrenMap))

	for _, name := range node.childrenFolders {
		children = append(children, tree.nodes[node.childrenMap[name]])
	}

	for _, name := range node.childrenFiles {
		children = append(children, tree.nodes[node.childrenMap[name]])
	}

	return children
}

// Lookup descends from the root, expanding as needed. It returns nil if any
// part is missing.
func (tree *Tree) Lookup(pathParts []string) (node *TreeNode, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			var ok bool
			if err, ok = errRaw.(error); ok == true {
				err = log.Wrap(err)
			} else {
				err = log.Errorf("Error not an error: [%s] [%v]", reflect.TypeOf(err).Name(), err)
			}
		}
	}()

	if tree.threadSafe == true {
		tree.lock.Lock()
		defer tree.lock.Unlock()
	}

	node, err = tree.lookup(pathParts)
	log.PanicIf(err)

	return node, nil
}

func (tree *Tree) lookup(pathParts []string) (node *TreeNode, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			var ok bool
			if err, ok = errRaw.(error); ok == true {
				err = log.Wrap(err)
			} else {
				err = log.Errorf("Error not an error: [%s] [%v]", reflect.TypeOf(err).Name(), err)
			}
		}
	}()

	path := PathSeparator + strings.Join(pathParts, PathSeparator)
	if id, found := tree.pathIndex[path]; found == true {
		return tree.nodes[id], nil
	}

	node = tree.nodes[RootNodeId]
	for _, part := range pathParts {
		if node.IsDirectory() == false {
			// An intermediate part was a file.
			return nil, nil
		}

		err := tree.expand(node)
		log.PanicIf(err)

		id, found := node.childrenMap[part]
		if found == false {
			return nil, nil
		}

		node = tree.nodes[id]
	}

	return node, nil
}

// Get returns the node at the given path. Directories are expanded before
// they're returned. ErrNotFound is returned if the path doesn't exist.
func (tree *Tree) Get(path string) (node *TreeNode, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			var ok bool
			if err, ok = errRaw.(error); ok == true {
				err = log.Wrap(err)
			} else {
				err = log.Errorf("Error not an error: [%s] [%v]", reflect.TypeOf(err).Name(), err)
			}
		}
	}()

	if tree.threadSafe == true {
		tree.lock.Lock()
		defer tree.lock.Unlock()
	}

	node, err = tree.lookup(SplitPath(path))
	log.PanicIf(err)

	if node == nil {
		return nil, ErrNotFound
	}

	if node.IsDirectory() == true {
		err := tree.expand(node)
		log.PanicIf(err)
	}

	return node, nil
}

// TreeWalker visits every node under a starting node, breadth-first,
// expanding directories only as it reaches them. Stopping early costs
// nothing.
type TreeWalker struct {
	tree  *Tree
	start NodeId
	queue []NodeId
}

// Walk returns a walker rooted at the given path.
func (tree *Tree) Walk(rootPath string) (tw *TreeWalker, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			var ok bool
			if err, ok = errRaw.(error); ok == true {
				err = log.Wrap(err)
			} else {
				err = log.Errorf("Error not an error: [%s] [%v]", reflect.TypeOf(err).Name(), err)
			}
		}
	}()

	node, err := tree.Get(rootPath)
	if err == ErrNotFound {
		return nil, err
	}

	log.PanicIf(err)

	tw = &TreeWalker{
		tree:  tree,
		start: node.id,
	}

	tw.Reset()

	return tw, nil
}

// Reset restarts the walk.
func (tw *TreeWalker) Reset() {
	tw.queue = []NodeId{tw.start}
}

// Next returns the next node. `ok` is false once everything was visited.
func (tw *TreeWalker) Next() (node *TreeNode, ok bool, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			var ok bool
			if err, ok = errRaw.(error); ok == true {
				err = log.Wrap(err)
			} else {
				err = log.Errorf("Error not an error: [%s] [%v]", reflect.TypeOf(err).Name(), err)
			}
		}
	}()

	if len(tw.queue) == 0 {
		return nil, false, nil
	}

	tree := tw.tree

	if tree.threadSafe == true {
		tree.lock.Lock()
		defer tree.lock.Unlock()
	}

	id := tw.queue[0]
	tw.queue = tw.queue[1:]

	node = tree.nodes[id]

	if node.IsDirectory() == true {
		err := tree.expand(node)
		log.PanicIf(err)

		for _, child := range tree.children(node) {
			tw.queue = append(tw.queue, child.id)
		}
	}

	return node, true, nil
}

// TreeVisitorFunc is called for every node. The root has no path parts.
type TreeVisitorFunc func(pathParts []string, node *TreeNode) (err error)

// Visit visits every node, depth-first. Within a directory, subdirectories
// are visited before the files.
func (tree *Tree) Visit(cb TreeVisitorFunc) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			var ok bool
			if err, ok = errRaw.(error); ok == true {
				err = log.Wrap(err)
			} else {
				err = log.Errorf("Error not an error: [%s] [%v]", reflect.TypeOf(err).Name(), err)
			}
		}
	}()

	pathParts := make([]string, 0)

	err = tree.visit(pathParts, tree.Root(), cb)
	log.PanicIf(err)

	return nil
}

func (tree *Tree) visit(pathParts []string, node *TreeNode, cb TreeVisitorFunc) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			var ok bool
			if err, ok = errRaw.(error); ok == true {
				err = log.Wrap(err)
			} else {
				err = log.Errorf("Error not an error: [%s] [%v]", reflect.TypeOf(err).Name(), err)
			}
		}
	}()

	err = cb(pathParts, node)
	log.PanicIf(err)

	if node.IsDirectory() == false {
		return nil
	}

	children, err := tree.Children(node)
	log.PanicIf(err)

	files := make([]*TreeNode, 0)

	for _, childNode := range children {
		childPathParts := make([]string, len(pathParts)+1)
		copy(childPathParts, pathParts)
		childPathParts[len(childPathParts)-1] = childNode.name

		if childNode.IsDirectory() == true {
			err := tree.visit(childPathParts, childNode, cb)
			log.PanicIf(err)
		} else {
			files = append(files, childNode)
		}
	}

	// Do the files all at once, at the bottom.
	for _, childNode := range files {
		childPathParts := make([]string, len(pathParts)+1)
		copy(childPathParts, pathParts)
		childPathParts[len(childPathParts)-1] = childNode.name

		err := cb(childPathParts, childNode)
		log.PanicIf(err)
	}

	return nil
}

// List returns the paths of every node except the root, in visiting order.
func (tree *Tree) List() (files []string, nodes map[string]*TreeNode, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			var ok bool
			if err, ok = errRaw.(error); ok == true {
				err = log.Wrap(err)
			} else {
				err = log.Errorf("Error not an error: [%s] [%v]", reflect.TypeOf(err).Name(), err)
			}
		}
	}()

	files = make([]string, 0)
	nodes = make(map[string]*TreeNode)

	cb := func(pathParts []string, node *TreeNode) (err error) {
		if len(pathParts) == 0 {
			return nil
		}

		files = append(files, node.path)
		nodes[node.path] = node

		return nil
	}

	err = tree.Visit(cb)
	log.PanicIf(err)

	return files, nodes, nil
}

// Problems returns every problem recorded on any loaded node, or nil.
func (tree *Tree) Problems() error {
	if tree.threadSafe == true {
		tree.lock.Lock()
		defer tree.lock.Unlock()
	}

	var result *multierror.Error

	for _, node := range tree.nodes {
		for _, problem := range node.problems {
			result = multierror.Append(result, fmt.Errorf("%s: %w", node.path, problem))
		}
	}

	return result.ErrorOrNil()
}
