package xtaf

import (
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/dsoprea/go-logging"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTree_List(t *testing.T) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err := errRaw.(error)

			log.PrintError(err)
			t.Fatalf("Test failed.")
		}
	}()

	_, tree := newStandardTestImage().mount(t, nil)

	files, nodes, err := tree.List()
	log.PanicIf(err)

	expectedFiles := []string{
		"/sub",
		"/sub/file",
		"/big.bin",
		"/small.txt",
		"/~gone.txt",
	}

	if reflect.DeepEqual(files, expectedFiles) != true {
		for i, filepath := range files {
			fmt.Printf("ACTUAL: (%d) [%s]\n", i, filepath)
		}

		for i, filepath := range expectedFiles {
			fmt.Printf("EXPECTED: (%d) [%s]\n", i, filepath)
		}

		t.Fatalf("Files not correct.")
	}

	if nodes["/sub"].IsDirectory() != true {
		t.Fatalf("Expected directory.")
	} else if nodes["/~gone.txt"].IsAllocated() != false {
		t.Fatalf("Expected deleted file.")
	}
}

func TestTree_Visit(t *testing.T) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err := errRaw.(error)

			log.PrintError(err)
			t.Fatalf("Test failed.")
		}
	}()

	_, tree := newStandardTestImage().mount(t, nil)

	visited := make([]string, 0)

	cb := func(pathParts []string, node *TreeNode) (err error) {
		visited = append(visited, fmt.Sprintf("%v", pathParts))
		return nil
	}

	err := tree.Visit(cb)
	log.PanicIf(err)

	expected := []string{
		"[]",
		"[sub]",
		"[sub file]",
		"[big.bin]",
		"[small.txt]",
		"[~gone.txt]",
	}

	if reflect.DeepEqual(visited, expected) != true {
		t.Fatalf("Visited not correct: %v", visited)
	}
}

func TestTree_Get(t *testing.T) {
	_, tree := newStandardTestImage().mount(t, nil)

	node, err := tree.Get("/sub/file")
	require.NoError(t, err)

	assert.Equal(t, "/sub/file", node.Path())
	assert.Equal(t, "file", node.Name())
	assert.False(t, node.IsDirectory())
	assert.Equal(t, uint32(8), node.Entry().StartingCluster())

	parent := tree.Parent(node)
	require.NotNil(t, parent)
	assert.Equal(t, "/sub", parent.Path())

	// Trailing and doubled separators are tolerated.
	again, err := tree.Get("sub//file/")
	require.NoError(t, err)
	assert.Equal(t, node.Id(), again.Id())
}

func TestTree_Get_Root(t *testing.T) {
	_, tree := newStandardTestImage().mount(t, nil)

	root, err := tree.Get("/")
	require.NoError(t, err)

	assert.True(t, root.IsRoot())
	assert.True(t, root.IsDirectory())
	assert.True(t, root.IsExpanded())
	assert.Nil(t, root.Entry())
	assert.Nil(t, tree.Parent(root))

	_, hasParent := root.ParentId()
	assert.False(t, hasParent)

	assert.Equal(t, []string{"sub"}, root.ChildFolders())
	assert.Equal(t, []string{"big.bin", "small.txt", "~gone.txt"}, root.ChildFiles())
}

func TestTree_Get_NotFound(t *testing.T) {
	_, tree := newStandardTestImage().mount(t, nil)

	_, err := tree.Get("/sub/missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	// Descending through a file.
	_, err = tree.Get("/small.txt/x")
	assert.True(t, errors.Is(err, ErrNotFound))

	// A deleted entry is only reachable through its prefixed name.
	_, err = tree.Get("/gone.txt")
	assert.True(t, errors.Is(err, ErrNotFound))

	node, err := tree.Get("/~gone.txt")
	require.NoError(t, err)
	assert.False(t, node.IsAllocated())
}

func TestTree_Lookup(t *testing.T) {
	_, tree := newStandardTestImage().mount(t, nil)

	node, err := tree.Lookup([]string{"sub", "file"})
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.Equal(t, "/sub/file", node.Path())

	node, err = tree.Lookup([]string{"nope"})
	require.NoError(t, err)
	assert.Nil(t, node)

	node, err = tree.Lookup([]string{})
	require.NoError(t, err)
	assert.True(t, node.IsRoot())
}

func TestTree_IsLazy(t *testing.T) {
	_, tree := newStandardTestImage().mount(t, nil)

	assert.Equal(t, 1, tree.NodeCount())

	_, err := tree.Get("/")
	require.NoError(t, err)

	// The root's children but not the grandchildren.
	assert.Equal(t, 5, tree.NodeCount())

	sub, err := tree.Get("/sub")
	require.NoError(t, err)

	assert.True(t, sub.IsExpanded())
	assert.Equal(t, 6, tree.NodeCount())
}

func TestTree_Expand_NotDirectory(t *testing.T) {
	_, tree := newStandardTestImage().mount(t, nil)

	node, err := tree.Get("/small.txt")
	require.NoError(t, err)

	err = tree.Expand(node)
	assert.Equal(t, ErrNotDirectory, err)

	_, err = tree.Children(node)
	assert.Equal(t, ErrNotDirectory, err)
}

func TestTree_Walk(t *testing.T) {
	ti := newTestImage()

	ti.putRecord(RootDirectoryCluster, 0, newTestRecord("sub", directoryAttributes, 2, 0))
	ti.setChain(2)

	ti.putRecord(2, 0, newTestRecord("file", fileAttributes, 3, 4))
	ti.setChain(3)

	_, tree := ti.mount(t, nil)

	tw, err := tree.Walk("/")
	require.NoError(t, err)

	collect := func() []string {
		paths := make([]string, 0)

		for {
			node, ok, err := tw.Next()
			require.NoError(t, err)

			if ok == false {
				break
			}

			paths = append(paths, node.Path())
		}

		return paths
	}

	paths := collect()
	assert.Equal(t, []string{"/", "/sub", "/sub/file"}, paths)

	// Exhausted.
	_, ok, err := tw.Next()
	require.NoError(t, err)
	assert.False(t, ok)

	// Restartable.
	tw.Reset()

	assert.Equal(t, paths, collect())
}

func TestTree_Walk_BreadthFirst(t *testing.T) {
	_, tree := newStandardTestImage().mount(t, nil)

	tw, err := tree.Walk("/")
	require.NoError(t, err)

	paths := make([]string, 0)
	for {
		node, ok, err := tw.Next()
		require.NoError(t, err)

		if ok == false {
			break
		}

		paths = append(paths, node.Path())
	}

	assert.Equal(t, []string{"/", "/sub", "/big.bin", "/small.txt", "/~gone.txt", "/sub/file"}, paths)
}

func TestTree_Walk_Subtree(t *testing.T) {
	_, tree := newStandardTestImage().mount(t, nil)

	tw, err := tree.Walk("/sub")
	require.NoError(t, err)

	node, ok, err := tw.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "/sub", node.Path())

	node, ok, err = tw.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "/sub/file", node.Path())

	_, ok, err = tw.Next()
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = tree.Walk("/missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestTree_NameCollisions(t *testing.T) {
	ti := newTestImage()

	ti.putRecord(RootDirectoryCluster, 0, newTestRecord("a.txt", fileAttributes, 2, 1))
	ti.putRecord(RootDirectoryCluster, 1, newTestDeletedRecord("a.txt", fileAttributes, 3, 1))
	ti.putRecord(RootDirectoryCluster, 2, newTestDeletedRecord("a.txt", fileAttributes, 4, 1))
	ti.setChain(2)

	_, tree := ti.mount(t, nil)

	root, err := tree.Get("/")
	require.NoError(t, err)

	assert.Equal(t, []string{"a.txt", "~a.txt", "~a.txt@2"}, root.ChildFiles())

	node, err := tree.Get("/~a.txt@2")
	require.NoError(t, err)
	assert.Equal(t, uint32(4), node.Entry().StartingCluster())
}

func TestTree_NameCollisions_SuffixTaken(t *testing.T) {
	ti := newTestImage()

	ti.putRecord(RootDirectoryCluster, 0, newTestRecord("x@3", fileAttributes, 2, 1))
	ti.putRecord(RootDirectoryCluster, 1, newTestRecord("x", fileAttributes, 3, 1))
	ti.putRecord(RootDirectoryCluster, 3, newTestRecord("x", fileAttributes, 4, 1))

	_, tree := ti.mount(t, nil)

	children, err := tree.Children(tree.Root())
	require.NoError(t, err)

	require.Len(t, children, 3)
	assert.Equal(t, []string{"x", "x@3", "x@3@3"}, tree.Root().ChildFiles())

	clusters := make([]uint32, len(children))
	for i, child := range children {
		clusters[i] = child.Entry().StartingCluster()
	}

	assert.Equal(t, []uint32{3, 2, 4}, clusters)
}

func TestTree_Expand_RetryAfterFailure(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	backing := newStandardTestImage().source(t)

	failed := false

	source := NewMockByteSource(mockCtrl)
	source.EXPECT().Size().Return(backing.Size()).AnyTimes()
	source.EXPECT().
		ReadBytesAt(gomock.Any(), gomock.Any()).
		DoAndReturn(func(offset uint64, length int) ([]byte, error) {
			// The first read of the root directory blows up.
			if offset == testRootDirOffset && failed == false {
				failed = true
				log.Panicf("device reset")
			}

			return backing.ReadBytesAt(offset, length)
		}).
		AnyTimes()

	xr := NewXtafReader(source, nil)

	err := xr.Parse()
	require.NoError(t, err)

	tree := NewTree(xr)
	root := tree.Root()

	err = tree.Expand(root)
	require.Error(t, err)

	assert.False(t, root.IsExpanded())
	assert.Empty(t, root.ChildFiles())

	err = tree.Expand(root)
	require.NoError(t, err)

	assert.True(t, root.IsExpanded())
	assert.Equal(t, []string{"sub"}, root.ChildFolders())
	assert.Equal(t, []string{"big.bin", "small.txt", "~gone.txt"}, root.ChildFiles())
}

func TestTree_DirectoryLoop(t *testing.T) {
	ti := newTestImage()

	ti.putRecord(RootDirectoryCluster, 0, newTestRecord("loop", directoryAttributes, 2, 0))
	ti.setChain(2)

	ti.putRecord(2, 0, newTestRecord("back", directoryAttributes, 1, 0))
	ti.putRecord(2, 1, newTestRecord("self", directoryAttributes, 2, 0))

	_, tree := ti.mount(t, nil)

	files, _, err := tree.List()
	require.NoError(t, err)

	assert.Equal(t, []string{"/loop", "/loop/back", "/loop/self"}, files)

	back, err := tree.Get("/loop/back")
	require.NoError(t, err)

	assert.Len(t, back.ChildFolders(), 0)
	assert.Len(t, back.Problems(), 1)

	assert.Error(t, tree.Problems())
}

func TestTree_MalformedRecord(t *testing.T) {
	ti := newTestImage()

	malformed := newTestRecord("bad", fileAttributes, 3, 1)
	malformed.NameLength = 50

	ti.putRecord(RootDirectoryCluster, 0, newTestRecord("x", fileAttributes, 2, 1))
	ti.putRecord(RootDirectoryCluster, 1, malformed)
	ti.putRecord(RootDirectoryCluster, 2, newTestRecord("y", fileAttributes, 4, 1))
	ti.setChain(2)
	ti.setChain(4)

	_, tree := ti.mount(t, nil)

	root, err := tree.Get("/")
	require.NoError(t, err)

	assert.Equal(t, []string{"x"}, root.ChildFiles())

	require.Len(t, root.Problems(), 1)
	assert.True(t, errors.Is(root.Problems()[0], ErrMalformedDirectoryRecord))

	assert.Error(t, tree.Problems())
}

func TestTree_Problems_None(t *testing.T) {
	_, tree := newStandardTestImage().mount(t, nil)

	_, _, err := tree.List()
	require.NoError(t, err)

	// The deleted file's chain isn't resolved until it's needed.
	assert.NoError(t, tree.Problems())

	node, err := tree.Get("/~gone.txt")
	require.NoError(t, err)

	chain := tree.Chain(node)
	assert.Equal(t, ChainAborted, chain.Status)

	assert.Error(t, tree.Problems())
}

func TestTree_LogicalSize(t *testing.T) {
	_, tree := newStandardTestImage().mount(t, nil)

	node, err := tree.Get("/big.bin")
	require.NoError(t, err)
	assert.Equal(t, uint64(bigFileSize), tree.LogicalSize(node))

	sub, err := tree.Get("/sub")
	require.NoError(t, err)
	assert.Equal(t, uint64(testClusterSize), tree.LogicalSize(sub))
}

func TestTree_RootWithEmptyFatEntry(t *testing.T) {
	ti := newStandardTestImage()
	ti.setLink(RootDirectoryCluster, 0)

	_, tree := ti.mount(t, nil)

	chain := tree.Chain(tree.Root())
	assert.Equal(t, ChainComplete, chain.Status)
	assert.Equal(t, []uint32{1}, chain.Clusters)

	_, err := tree.Get("/sub/file")
	require.NoError(t, err)
}

func TestTree_ThreadSafe(t *testing.T) {
	options := DefaultMountOptions()
	options.ThreadSafe = true

	_, tree := newStandardTestImage().mount(t, options)

	done := make(chan error)

	for _, path := range []string{"/sub/file", "/big.bin", "/small.txt"} {
		go func(path string) {
			node, err := tree.Get(path)
			if err != nil {
				done <- err
				return
			}

			_, err = tree.Provenance(node)
			done <- err
		}(path)
	}

	for i := 0; i < 3; i++ {
		assert.NoError(t, <-done)
	}
}
