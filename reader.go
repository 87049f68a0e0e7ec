package xtaf

import (
	"errors"
	"fmt"
	"io"
	"reflect"

	"github.com/dsoprea/go-logging"
)

// Read returns up to `length` bytes of the node's chain starting at `offset`.
// The read is not limited to the logical size. A read that runs off of the end
// of the chain is just short. ErrOutOfRange is returned only if `offset`
// starts past the end of the chain.
func (tree *Tree) Read(node *TreeNode, offset, length uint64) (data []byte, err error) {
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

	return tree.read(node, offset, length)
}

func (tree *Tree) read(node *TreeNode, offset, length uint64) (data []byte, err error) {
	chain := tree.chain(node)
	clusterSize := tree.xr.ClusterSize()

	startIndex := offset / clusterSize
	if startIndex > uint64(chain.Len()) {
		return nil, fmt.Errorf("%w: offset (%d) is past the (%d) clusters of [%s]", ErrOutOfRange, offset, chain.Len(), node.path)
	}

	intraOffset := offset % clusterSize

	// Never allocate for more than the chain can return.
	available := uint64(0)
	if startIndex < uint64(chain.Len()) {
		available = (uint64(chain.Len())-startIndex)*clusterSize - intraOffset
	}

	data = make([]byte, 0, minUint64(length, available))
	remaining := length

	for _, clusterNumber := range chain.Clusters[startIndex:] {
		if remaining == 0 {
			break
		}

		take := minUint64(clusterSize-intraOffset, remaining)

		clusterData := tree.xr.ReadCluster(clusterNumber, take, intraOffset)
		data = append(data, clusterData...)

		if uint64(len(clusterData)) < take {
			break
		}

		remaining -= take
		intraOffset = 0
	}

	return data, nil
}

// NodeReader exposes a node's content as a seekable stream, limited to its
// logical size. This is what container parsers are given.
type NodeReader struct {
	tree *Tree
	node *TreeNode
	size int64

	offset int64
}

// NewNodeReader returns a reader positioned at the start of the node's data.
func NewNodeReader(tree *Tree, node *TreeNode) *NodeReader {
	return &NodeReader{
		tree: tree,
		node: node,
		size: int64(tree.LogicalSize(node)),
	}
}

// Open returns a reader for the node at the given path.
func (tree *Tree) Open(path string) (nr *NodeReader, err error) {
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

	node, err := tree.Get(path)
	if err == ErrNotFound {
		return nil, err
	}

	log.PanicIf(err)

	return NewNodeReader(tree, node), nil
}

// Node returns the node being read.
func (nr *NodeReader) Node() *TreeNode {
	return nr.node
}

// Size returns the logical size.
func (nr *NodeReader) Size() int64 {
	return nr.size
}

func (nr *NodeReader) readAt(p []byte, offset int64) (n int, err error) {
	if offset >= nr.size {
		return 0, io.EOF
	}

	length := int64(len(p))
	if remaining := nr.size - offset; length > remaining {
		length = remaining
	}

	data, err := nr.tree.Read(nr.node, uint64(offset), uint64(length))
	if errors.Is(err, ErrOutOfRange) == true {
		return 0, io.EOF
	} else if err != nil {
		return 0, err
	}

	n = copy(p, data)

	// The chain ended before the logical size did.
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}

	return n, nil
}

// Read implements io.Reader.
func (nr *NodeReader) Read(p []byte) (n int, err error) {
	n, err = nr.readAt(p, nr.offset)
	nr.offset += int64(n)

	return n, err
}

// ReadAt implements io.ReaderAt.
func (nr *NodeReader) ReadAt(p []byte, offset int64) (n int, err error) {
	if offset < 0 {
		return 0, fmt.Errorf("negative offset: (%d)", offset)
	}

	for n < len(p) {
		m, err := nr.readAt(p[n:], offset+int64(n))
		n += m

		if err != nil {
			return n, err
		}
	}

	return n, nil
}

// Seek implements io.Seeker. The current position is `Seek(0, io.SeekCurrent)`.
func (nr *NodeReader) Seek(offset int64, whence int) (int64, error) {
	var next int64

	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = nr.offset + offset
	case io.SeekEnd:
		next = nr.size + offset
	default:
		return nr.offset, fmt.Errorf("whence not valid: (%d)", whence)
	}

	if next < 0 {
		return nr.offset, fmt.Errorf("seek to negative position: (%d)", next)
	}

	nr.offset = next

	return next, nil
}

func (nr *NodeReader) String() string {
	return fmt.Sprintf("NodeReader<PATH=[%s] SIZE=(%d) OFFSET=(%d)>", nr.node.path, nr.size, nr.offset)
}
