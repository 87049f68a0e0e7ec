package xtaf

import (
	"encoding/binary"
	"testing"

	"github.com/dsoprea/go-logging"
	"github.com/noxer/bytewriter"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

// The synthetic volumes have one sector per cluster and sixteen clusters, so
// the FAT region is exactly one 4K page and the root directory is at 0x2000.
const (
	testClusterSize   = 512
	testClusterCount  = 16
	testRootDirOffset = 0x2000
	testImageSize     = testRootDirOffset + testClusterCount*testClusterSize

	testVolumeId = 0x12345678

	fatTerminator = 0xffffffff
)

type testImage struct {
	raw []byte
}

func newTestImage() *testImage {
	ti := &testImage{
		raw: make([]byte, testImageSize),
	}

	sb := Superblock{
		VolumeId:          testVolumeId,
		SectorsPerCluster: 1,
		FatCount:          1,
	}

	copy(sb.Magic[:], requiredMagic)

	w := bytewriter.New(ti.raw[:superblockSize])

	err := binary.Write(w, binary.BigEndian, sb)
	log.PanicIf(err)

	ti.setLink(RootDirectoryCluster, fatTerminator)

	return ti
}

func (ti *testImage) setLink(clusterNumber, link uint32) {
	offset := fatRelativeOffset + clusterNumber*fatEntrySize
	binary.BigEndian.PutUint32(ti.raw[offset:], link)
}

// setChain links the clusters in order and terminates the last one.
func (ti *testImage) setChain(clusters ...uint32) {
	for i, clusterNumber := range clusters {
		if i == len(clusters)-1 {
			ti.setLink(clusterNumber, fatTerminator)
		} else {
			ti.setLink(clusterNumber, clusters[i+1])
		}
	}
}

func testClusterOffset(clusterNumber uint32) uint64 {
	return testRootDirOffset + uint64(clusterNumber-1)*testClusterSize
}

func (ti *testImage) putRecordAt(offset uint64, dr DirectoryRecord) {
	w := bytewriter.New(ti.raw[offset : offset+DirectoryRecordSize])

	err := binary.Write(w, binary.BigEndian, dr)
	log.PanicIf(err)
}

func (ti *testImage) putRecord(directoryCluster uint32, slot int, dr DirectoryRecord) {
	ti.putRecordAt(testClusterOffset(directoryCluster)+uint64(slot*DirectoryRecordSize), dr)
}

func (ti *testImage) putData(clusterNumber uint32, data []byte) {
	copy(ti.raw[testClusterOffset(clusterNumber):], data)
}

func newTestRecord(name string, attributes FileAttributes, clusterNumber, size uint32) DirectoryRecord {
	dr := DirectoryRecord{
		NameLength:      uint8(len(name)),
		Attributes:      attributes,
		StartingCluster: clusterNumber,
		FileSize:        size,

		// 2019-09-04 13:45:30
		UpdateDate: (39 << 9) | (9 << 5) | 4,
		UpdateTime: (13 << 11) | (45 << 5) | 15,
	}

	for i := range dr.RawName {
		dr.RawName[i] = 0xff
	}

	copy(dr.RawName[:], name)

	return dr
}

func newTestDeletedRecord(name string, attributes FileAttributes, clusterNumber, size uint32) DirectoryRecord {
	dr := newTestRecord(name, attributes, clusterNumber, size)
	dr.NameLength = NameLengthDeleted

	return dr
}

func repeatedBytes(c byte, count int) []byte {
	data := make([]byte, count)
	for i := range data {
		data[i] = c
	}

	return data
}

const (
	directoryAttributes = FileAttributes(0x10)
	fileAttributes      = FileAttributes(0x00)

	bigFileSize = testClusterSize*2 + 37
)

// newStandardTestImage returns:
//
//	/sub/           cluster 2
//	/sub/file       cluster 8, "0123456789"
//	/big.bin        clusters 3-5, 512 x 'a', 512 x 'b', 37 x 'c'
//	/~gone.txt      deleted, cluster 6 (unlinked)
//	/small.txt      cluster 7, "hello world"
func newStandardTestImage() *testImage {
	ti := newTestImage()

	ti.putRecord(RootDirectoryCluster, 0, newTestRecord("sub", directoryAttributes, 2, 0))
	ti.putRecord(RootDirectoryCluster, 1, newTestRecord("big.bin", fileAttributes, 3, bigFileSize))
	ti.putRecord(RootDirectoryCluster, 2, newTestDeletedRecord("gone.txt", fileAttributes, 6, 5))
	// Slot 3 is vacant.
	ti.putRecord(RootDirectoryCluster, 4, newTestRecord("small.txt", fileAttributes, 7, 11))

	ti.setChain(2)
	ti.setChain(3, 4, 5)
	ti.setChain(7)
	ti.setChain(8)

	ti.putRecord(2, 0, newTestRecord("file", fileAttributes, 8, 10))

	ti.putData(3, repeatedBytes('a', testClusterSize))
	ti.putData(4, repeatedBytes('b', testClusterSize))
	ti.putData(5, append(repeatedBytes('c', 37), repeatedBytes('z', testClusterSize-37)...))
	ti.putData(6, []byte("gone!"))
	ti.putData(7, []byte("hello world"))
	ti.putData(8, []byte("0123456789"))

	return ti
}

func bigFileContent() []byte {
	content := repeatedBytes('a', testClusterSize)
	content = append(content, repeatedBytes('b', testClusterSize)...)
	content = append(content, repeatedBytes('c', 37)...)

	return content
}

func (ti *testImage) source(t *testing.T) *SeekerByteSource {
	return ti.sourceWithLocking(t, false)
}

func (ti *testImage) sourceWithLocking(t *testing.T, threadSafe bool) *SeekerByteSource {
	sbs, err := NewSeekerByteSource(bytesextra.NewReadWriteSeeker(ti.raw), threadSafe)
	require.NoError(t, err)

	return sbs
}

func (ti *testImage) mount(t *testing.T, options *MountOptions) (xr *XtafReader, tree *Tree) {
	threadSafe := options != nil && options.ThreadSafe == true

	xr = NewXtafReader(ti.sourceWithLocking(t, threadSafe), options)

	err := xr.Parse()
	require.NoError(t, err)

	return xr, NewTree(xr)
}

// embed places the volume at `offset` within a larger, otherwise empty
// image.
func (ti *testImage) embed(offset int) *testImage {
	raw := make([]byte, offset+len(ti.raw))
	copy(raw[offset:], ti.raw)

	return &testImage{
		raw: raw,
	}
}
