package xtaf

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"syscall"
	"time"

	"github.com/dsoprea/go-logging"
	"github.com/spf13/afero"
)

// XtafFs is a read-only afero.Fs over a volume's tree. Every write operation
// fails with EPERM.
type XtafFs struct {
	tree *Tree
}

// NewXtafFs returns a filesystem view of the tree.
func NewXtafFs(tree *Tree) *XtafFs {
	return &XtafFs{
		tree: tree,
	}
}

func (xf *XtafFs) getNode(op, name string) (node *TreeNode, err error) {
	node, err = xf.tree.Get(name)
	if err == ErrNotFound {
		return nil, &os.PathError{Op: op, Path: name, Err: os.ErrNotExist}
	} else if err != nil {
		return nil, &os.PathError{Op: op, Path: name, Err: err}
	}

	return node, nil
}

func (xf *XtafFs) Create(name string) (afero.File, error) {
	return nil, &os.PathError{Op: "create", Path: name, Err: syscall.EPERM}
}

func (xf *XtafFs) Mkdir(name string, perm os.FileMode) error {
	return &os.PathError{Op: "mkdir", Path: name, Err: syscall.EPERM}
}

func (xf *XtafFs) MkdirAll(path string, perm os.FileMode) error {
	return &os.PathError{Op: "mkdir", Path: path, Err: syscall.EPERM}
}

// Open returns a file for the node at the given path.
func (xf *XtafFs) Open(name string) (afero.File, error) {
	node, err := xf.getNode("open", name)
	if err != nil {
		return nil, err
	}

	return newXtafFile(xf.tree, node), nil
}

// OpenFile only allows read-only opens.
func (xf *XtafFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_APPEND|os.O_CREATE|os.O_TRUNC) != 0 {
		return nil, &os.PathError{Op: "open", Path: name, Err: syscall.EPERM}
	}

	return xf.Open(name)
}

func (xf *XtafFs) Remove(name string) error {
	return &os.PathError{Op: "remove", Path: name, Err: syscall.EPERM}
}

func (xf *XtafFs) RemoveAll(path string) error {
	return &os.PathError{Op: "removeall", Path: path, Err: syscall.EPERM}
}

func (xf *XtafFs) Rename(oldname, newname string) error {
	return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: syscall.EPERM}
}

// Stat describes the node at the given path.
func (xf *XtafFs) Stat(name string) (os.FileInfo, error) {
	node, err := xf.getNode("stat", name)
	if err != nil {
		return nil, err
	}

	return newNodeFileInfo(xf.tree, node), nil
}

func (xf *XtafFs) Name() string {
	return "XtafFs"
}

func (xf *XtafFs) Chmod(name string, mode os.FileMode) error {
	return &os.PathError{Op: "chmod", Path: name, Err: syscall.EPERM}
}

func (xf *XtafFs) Chown(name string, uid, gid int) error {
	return &os.PathError{Op: "chown", Path: name, Err: syscall.EPERM}
}

func (xf *XtafFs) Chtimes(name string, atime time.Time, mtime time.Time) error {
	return &os.PathError{Op: "chtimes", Path: name, Err: syscall.EPERM}
}

// nodeFileInfo is the os.FileInfo of a node. Sys() returns the
// DirectoryEntry (nil for the root).
type nodeFileInfo struct {
	name        string
	size        int64
	isDirectory bool
	modTime     time.Time
	entry       *DirectoryEntry
}

func newNodeFileInfo(tree *Tree, node *TreeNode) nodeFileInfo {
	nfi := nodeFileInfo{
		name:        node.Name(),
		size:        int64(tree.LogicalSize(node)),
		isDirectory: node.IsDirectory(),
		entry:       node.Entry(),
	}

	if node.IsRoot() == true {
		nfi.name = PathSeparator
	} else {
		nfi.modTime = node.entry.ModifiedTime()
	}

	return nfi
}

func (nfi nodeFileInfo) Name() string {
	return nfi.name
}

func (nfi nodeFileInfo) Size() int64 {
	return nfi.size
}

func (nfi nodeFileInfo) Mode() os.FileMode {
	if nfi.isDirectory == true {
		return os.ModeDir | 0555
	}

	return 0444
}

func (nfi nodeFileInfo) ModTime() time.Time {
	return nfi.modTime
}

func (nfi nodeFileInfo) IsDir() bool {
	return nfi.isDirectory
}

func (nfi nodeFileInfo) Sys() interface{} {
	return nfi.entry
}

// XtafFile is an open, read-only node.
type XtafFile struct {
	tree   *Tree
	node   *TreeNode
	reader *NodeReader

	dirOffset int
	closed    bool
}

func newXtafFile(tree *Tree, node *TreeNode) *XtafFile {
	return &XtafFile{
		tree:   tree,
		node:   node,
		reader: NewNodeReader(tree, node),
	}
}

func (xf *XtafFile) Close() error {
	if xf.closed == true {
		return os.ErrClosed
	}

	xf.closed = true

	return nil
}

func (xf *XtafFile) Read(p []byte) (n int, err error) {
	if xf.closed == true {
		return 0, os.ErrClosed
	}

	return xf.reader.Read(p)
}

func (xf *XtafFile) ReadAt(p []byte, off int64) (n int, err error) {
	if xf.closed == true {
		return 0, os.ErrClosed
	}

	return xf.reader.ReadAt(p, off)
}

func (xf *XtafFile) Seek(offset int64, whence int) (int64, error) {
	if xf.closed == true {
		return 0, os.ErrClosed
	}

	return xf.reader.Seek(offset, whence)
}

func (xf *XtafFile) Write(p []byte) (n int, err error) {
	return 0, &os.PathError{Op: "write", Path: xf.node.Path(), Err: syscall.EPERM}
}

func (xf *XtafFile) WriteAt(p []byte, off int64) (n int, err error) {
	return 0, &os.PathError{Op: "write", Path: xf.node.Path(), Err: syscall.EPERM}
}

func (xf *XtafFile) WriteString(s string) (ret int, err error) {
	return xf.Write([]byte(s))
}

func (xf *XtafFile) Name() string {
	return xf.node.Path()
}

// Readdir returns the next `count` children. If `count` is not positive, all
// remaining children are returned. May return ENOTDIR.
func (xf *XtafFile) Readdir(count int) ([]os.FileInfo, error) {
	if xf.node.IsDirectory() == false {
		return nil, &os.PathError{Op: "readdir", Path: xf.node.Path(), Err: syscall.ENOTDIR}
	}

	children, err := xf.tree.Children(xf.node)
	if err != nil {
		return nil, &os.PathError{Op: "readdir", Path: xf.node.Path(), Err: err}
	}

	remaining := children[xf.dirOffset:]

	if count > 0 {
		if len(remaining) == 0 {
			return []os.FileInfo{}, io.EOF
		}

		if count < len(remaining) {
			remaining = remaining[:count]
		}
	}

	xf.dirOffset += len(remaining)

	result := make([]os.FileInfo, len(remaining))
	for i, child := range remaining {
		result[i] = newNodeFileInfo(xf.tree, child)
	}

	return result, nil
}

func (xf *XtafFile) Readdirnames(count int) ([]string, error) {
	content, err := xf.Readdir(count)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(content))
	for i, fi := range content {
		names[i] = fi.Name()
	}

	return names, nil
}

func (xf *XtafFile) Stat() (os.FileInfo, error) {
	return newNodeFileInfo(xf.tree, xf.node), nil
}

func (xf *XtafFile) Sync() error {
	return nil
}

func (xf *XtafFile) Truncate(size int64) error {
	return &os.PathError{Op: "truncate", Path: xf.node.Path(), Err: syscall.EPERM}
}

// ExtractTree copies the subtree at `rootPath` into `destPath` on `dest`.
// Deleted entries (and everything below them) are skipped unless
// `includeDeleted` is true. The returned paths are the tree paths that were
// written.
func ExtractTree(tree *Tree, rootPath string, dest afero.Fs, destPath string, includeDeleted bool) (extracted []string, err error) {
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

	extracted = make([]string, 0)

	err = extractNode(tree, node, dest, destPath, includeDeleted, &extracted)
	log.PanicIf(err)

	return extracted, nil
}

func extractNode(tree *Tree, node *TreeNode, dest afero.Fs, destPath string, includeDeleted bool, extracted *[]string) (err error) {
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
		err := extractFile(tree, node, dest, destPath)
		log.PanicIf(err)

		*extracted = append(*extracted, node.Path())

		return nil
	}

	err = dest.MkdirAll(destPath, 0755)
	log.PanicIf(err)

	*extracted = append(*extracted, node.Path())

	children, err := tree.Children(node)
	log.PanicIf(err)

	for _, child := range children {
		if child.IsAllocated() == false && includeDeleted == false {
			continue
		}

		childName := extractionName(child.Name())
		if childName != child.Name() {
			tree.AddProblem(child, fmt.Errorf("name [%s] extracted as [%s]", child.Name(), childName))
		}

		childDestPath := filepath.Join(destPath, childName)

		if isBelow(destPath, childDestPath) == false {
			problem := fmt.Errorf("extraction path [%s] is not below [%s]; skipped", childDestPath, destPath)

			xtafLogger.Warningf(nil, "%s", problem)
			tree.AddProblem(child, problem)

			continue
		}

		err := extractNode(tree, child, dest, childDestPath, includeDeleted, extracted)
		log.PanicIf(err)
	}

	return nil
}

var (
	extractionNameReplacer = strings.NewReplacer(
		"%", "%25",
		"/", "%2f",
		"\\", "%5c",
		"\x00", "%00")
)

// extractionName makes a name from the image safe to use as a single path
// component on the destination. Separators and the dot names are
// percent-escaped ("%" too, so the mapping can be reversed).
func extractionName(name string) string {
	switch name {
	case ".":
		return "%2e"
	case "..":
		return "%2e%2e"
	}

	return extractionNameReplacer.Replace(name)
}

// isBelow indicates that `childPath` is strictly inside `parentPath`.
func isBelow(parentPath, childPath string) bool {
	relPath, err := filepath.Rel(parentPath, childPath)
	if err != nil {
		return false
	}

	return relPath != "." && relPath != ".." && strings.HasPrefix(relPath, ".."+string(filepath.Separator)) == false && filepath.IsAbs(relPath) == false
}

func extractFile(tree *Tree, node *TreeNode, dest afero.Fs, destPath string) (err error) {
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

	f, err := dest.Create(destPath)
	log.PanicIf(err)

	defer f.Close()

	nr := NewNodeReader(tree, node)

	n, err := io.Copy(f, nr)
	log.PanicIf(err)

	if n < nr.Size() {
		xtafLogger.Warningf(nil, "Only (%d) of (%d) bytes could be extracted for [%s].", n, nr.Size(), node.Path())
	}

	if mtime := node.Entry().ModifiedTime(); mtime.IsZero() == false {
		err := dest.Chtimes(destPath, node.Entry().AccessedTime(), mtime)
		if err != nil {
			xtafLogger.Warningf(nil, "Could not set times on [%s]: %s", destPath, err)
		}
	}

	return nil
}

func (xf *XtafFs) String() string {
	return fmt.Sprintf("XtafFs<%s>", xf.tree.Reader())
}
