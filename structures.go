// This package manages the low-level, on-disk storage structures.

package xtaf

import (
	"bytes"
	"fmt"
	"reflect"

	"encoding/binary"

	"github.com/dsoprea/go-logging"
	"github.com/dustin/go-humanize"
	"github.com/go-restruct/restruct"
)

const (
	superblockSize = 16

	// The FAT always starts this far into the volume.
	fatRelativeOffset = 0x1000

	// The FAT region is padded out to this boundary. The root directory
	// (cluster 1) immediately follows.
	fatRegionAlignment = 0x1000

	fatEntrySize = 4

	sectorSize = 512

	// RootDirectoryCluster is the first data cluster, and the root directory
	// always starts there.
	RootDirectoryCluster = uint32(1)

	// FatRegionFilename is the name of the pseudo-file describing the FAT.
	FatRegionFilename = "$FAT1"
)

var (
	defaultEncoding = binary.BigEndian

	requiredMagic = []byte("XTAF")
)

var (
	xtafLogger = log.NewLogger("xtaf")
)

// Superblock is the header at the start of every XTAF volume. Everything is
// big-endian.
type Superblock struct {
	Magic             [4]byte
	VolumeId          uint32
	SectorsPerCluster uint32
	FatCount          uint32
}

// ClusterSize returns the effective cluster-size.
func (sb Superblock) ClusterSize() uint64 {
	return uint64(sb.SectorsPerCluster) * sectorSize
}

// Strings return a description of the superblock.
func (sb Superblock) String() string {
	return fmt.Sprintf("Superblock<VOLUME-ID=(0x%08x) SECTORS-PER-CLUSTER=(%d) FAT-COUNT=(%d)>", sb.VolumeId, sb.SectorsPerCluster, sb.FatCount)
}

func parseSuperblock(raw []byte) (sb Superblock, err error) {
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

	if len(raw) < superblockSize {
		log.Panicf("superblock data too short: (%d)", len(raw))
	}

	err = restruct.Unpack(raw[:superblockSize], defaultEncoding, &sb)
	log.PanicIf(err)

	if bytes.Equal(sb.Magic[:], requiredMagic) != true {
		log.Panicf("magic not correct: %x", sb.Magic[:])
	}

	return sb, nil
}

func hasMagicAt(source ByteSource, offset uint64) (found bool, err error) {
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

	data, err := source.ReadBytesAt(offset, len(requiredMagic))
	log.PanicIf(err)

	return bytes.Equal(data, requiredMagic), nil
}

// FindVolumes returns every offset (zero, then each of the given candidates)
// where a superblock is present. Images of complete hard-drives carry several
// XTAF partitions at fixed locations.
func FindVolumes(source ByteSource, probeOffsets []uint64) (offsets []uint64, err error) {
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

	offsets = make([]uint64, 0)
	seen := make(map[uint64]struct{})

	candidates := append([]uint64{0}, probeOffsets...)
	for _, candidate := range candidates {
		if _, found := seen[candidate]; found == true {
			continue
		}

		seen[candidate] = struct{}{}

		found, err := hasMagicAt(source, candidate)
		log.PanicIf(err)

		if found == true {
			offsets = append(offsets, candidate)
		}
	}

	return offsets, nil
}

// XtafReader knows where to find all of the statically-located structures and
// how to parse them, and how to find clusters and chains of clusters.
type XtafReader struct {
	source  ByteSource
	options *MountOptions

	superblock Superblock

	// start is the offset of the superblock within the source.
	start uint64

	imageBase      uint64
	imageBaseKnown bool

	volumeSize uint64

	// These are relative to `start`.
	fatOffset     uint64
	fatRegionSize uint64
	rootDirOffset uint64

	fatEntryCount uint32
	fat           Fat
}

// NewXtafReader returns a new instance of XtafReader. `options` may be nil.
func NewXtafReader(source ByteSource, options *MountOptions) *XtafReader {
	if options == nil {
		options = DefaultMountOptions()
	}

	return &XtafReader{
		source:  source,
		options: options,
	}
}

func (xr *XtafReader) locateSuperblock() (start uint64, probed bool, err error) {
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

	if xr.options.StartOffset != nil {
		start = *xr.options.StartOffset

		found, err := hasMagicAt(xr.source, start)
		log.PanicIf(err)

		if found == false {
			return 0, false, ErrVolumeNotFound
		}

		return start, start != 0, nil
	}

	found, err := hasMagicAt(xr.source, 0)
	log.PanicIf(err)

	if found == true {
		return 0, false, nil
	}

	for _, candidate := range xr.options.ProbeOffsets {
		found, err := hasMagicAt(xr.source, candidate)
		log.PanicIf(err)

		if found == true {
			xtafLogger.Debugf(nil, "Found superblock at probed offset (0x%x).", candidate)
			return candidate, true, nil
		}
	}

	return 0, false, ErrVolumeNotFound
}

// Parse locates the volume, reads the superblock, computes the geometry, and
// loads the whole FAT into memory.
func (xr *XtafReader) Parse() (err error) {
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

	start, probed, err := xr.locateSuperblock()
	if err == ErrVolumeNotFound {
		return err
	}

	log.PanicIf(err)

	raw, err := xr.source.ReadBytesAt(start, superblockSize)
	log.PanicIf(err)

	sb, err := parseSuperblock(raw)
	log.PanicIf(err)

	if sb.FatCount > 1 {
		xtafLogger.Warningf(nil, "Volume reports more than one FAT (%d). Only the first is used.", sb.FatCount)
	}

	xr.superblock = sb
	xr.start = start

	if xr.options.ImageBase != nil {
		xr.imageBase = *xr.options.ImageBase
		xr.imageBaseKnown = true
	} else if probed == true {
		xr.imageBase = 0
		xr.imageBaseKnown = true
	}

	err = xr.computeGeometry()
	if err == ErrInvalidSuperblock {
		return err
	}

	log.PanicIf(err)

	err = xr.loadFat()
	log.PanicIf(err)

	return nil
}

func (xr *XtafReader) computeGeometry() (err error) {
	clusterSize := xr.superblock.ClusterSize()
	if clusterSize == 0 {
		xtafLogger.Errorf(nil, ErrInvalidSuperblock, "Sectors-per-cluster is zero.")
		return ErrInvalidSuperblock
	}

	xr.volumeSize = xr.source.Size() - xr.start
	xr.fatOffset = fatRelativeOffset

	clusterCount := xr.volumeSize / clusterSize
	xr.fatRegionSize = roundUp(clusterCount*fatEntrySize, fatRegionAlignment)
	xr.rootDirOffset = xr.fatOffset + xr.fatRegionSize

	if xr.fatRegionSize == 0 || xr.rootDirOffset >= xr.volumeSize {
		xtafLogger.Errorf(nil, ErrInvalidSuperblock, "Volume too small for its geometry: SIZE=(%d) ROOT-DIR=(%d)", xr.volumeSize, xr.rootDirOffset)
		return ErrInvalidSuperblock
	}

	xr.fatEntryCount = uint32((xr.volumeSize - xr.rootDirOffset) / clusterSize)

	return nil
}

func (xr *XtafReader) loadFat() (err error) {
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

	fatSize := uint64(xr.fatEntryCount) * fatEntrySize

	raw, err := xr.source.ReadBytesAt(xr.start+xr.fatOffset, int(fatSize))
	log.PanicIf(err)

	if uint64(len(raw)) < fatSize {
		xtafLogger.Warningf(nil, "FAT read was short: (%d) < (%d)", len(raw), fatSize)
	}

	xr.fat = parseFat(raw)

	return nil
}

// Superblock returns the parsed superblock.
func (xr *XtafReader) Superblock() Superblock {
	return xr.superblock
}

// Start is the offset of the superblock within the source.
func (xr *XtafReader) Start() uint64 {
	return xr.start
}

// ImageBase returns the absolute offset of the volume within the disk image,
// if it is known.
func (xr *XtafReader) ImageBase() (offset uint64, known bool) {
	if xr.imageBaseKnown == false {
		return 0, false
	}

	return xr.imageBase + xr.start, true
}

// VolumeId is the identifier recorded in the superblock.
func (xr *XtafReader) VolumeId() uint32 {
	return xr.superblock.VolumeId
}

// SectorsPerCluster is the sectors-per-cluster from the superblock.
func (xr *XtafReader) SectorsPerCluster() uint32 {
	return xr.superblock.SectorsPerCluster
}

// ClusterSize is the size of every cluster in bytes.
func (xr *XtafReader) ClusterSize() uint64 {
	return xr.superblock.ClusterSize()
}

// FatOffset is the offset of the FAT relative to the start of the volume.
func (xr *XtafReader) FatOffset() uint64 {
	return xr.fatOffset
}

// RootDirectoryOffset is the offset of the first data cluster relative to the
// start of the volume.
func (xr *XtafReader) RootDirectoryOffset() uint64 {
	return xr.rootDirOffset
}

// FatEntryCount is the number of entries loaded from the FAT.
func (xr *XtafReader) FatEntryCount() uint32 {
	return xr.fatEntryCount
}

// Fat returns the loaded FAT.
func (xr *XtafReader) Fat() Fat {
	return xr.fat
}

// ClusterFilesystemOffset returns the offset of the cluster relative to the
// start of the volume. Cluster (1) is the first data cluster.
func (xr *XtafReader) ClusterFilesystemOffset(clusterNumber uint32) uint64 {
	if clusterNumber < RootDirectoryCluster {
		log.Panicf("cluster (0) has no location")
	}

	return xr.rootDirOffset + uint64(clusterNumber-1)*xr.ClusterSize()
}

// imageOffset translates a filesystem offset into an image offset, if we know
// where the volume sits in the image.
func (xr *XtafReader) imageOffset(fsOffset uint64) (offset uint64, known bool) {
	base, known := xr.ImageBase()
	if known == false {
		return 0, false
	}

	return base + fsOffset, true
}

// newByteRun builds a run in every coordinate system that we know.
func (xr *XtafReader) newByteRun(fileOffset, fsOffset, length uint64) ByteRun {
	br := ByteRun{
		FileOffset: fileOffset,
		FsOffset:   fsOffset,
		Length:     length,
	}

	if imgOffset, known := xr.imageOffset(fsOffset); known == true {
		br.ImgOffset = imgOffset
		br.HasImgOffset = true
	}

	return br
}

// ReadCluster returns `length` bytes at `offset` within the given cluster. A
// request that doesn't fit inside one cluster returns nothing. I/O failures
// are logged and produce an empty (or short) result, so that one bad sector
// doesn't stop a scan.
func (xr *XtafReader) ReadCluster(clusterNumber uint32, length, offset uint64) []byte {
	clusterSize := xr.ClusterSize()

	if clusterNumber < RootDirectoryCluster {
		xtafLogger.Warningf(nil, "Refusing to read cluster (%d).", clusterNumber)
		return []byte{}
	} else if length+offset > clusterSize {
		xtafLogger.Warningf(nil, "Cluster read crosses cluster boundary: CLUSTER=(%d) OFFSET=(%d) LENGTH=(%d)", clusterNumber, offset, length)
		return []byte{}
	}

	sourceOffset := xr.start + xr.ClusterFilesystemOffset(clusterNumber) + offset

	data, err := xr.source.ReadBytesAt(sourceOffset, int(length))
	if err != nil {
		xtafLogger.Errorf(nil, err, "Could not read cluster (%d) at (0x%x).", clusterNumber, sourceOffset)
		return []byte{}
	}

	return data
}

// FatRegionDescriptor represents the FAT itself as an artifact, so that it
// can be reported like a file.
type FatRegionDescriptor struct {
	Filename string
	Size     uint64
	DataRuns ByteRuns
}

// FatRegion returns a pseudo-file describing the loaded FAT.
func (xr *XtafReader) FatRegion() FatRegionDescriptor {
	size := uint64(xr.fatEntryCount) * fatEntrySize

	br := xr.newByteRun(0, xr.fatOffset, size)

	return FatRegionDescriptor{
		Filename: FatRegionFilename,
		Size:     size,
		DataRuns: ByteRuns{
			Facet: FacetData,
			Runs:  []ByteRun{br},
		},
	}
}

// Dump prints the superblock along with the common calculated parameters.
func (xr *XtafReader) Dump() {
	fmt.Printf("XTAF Volume\n")
	fmt.Printf("===========\n")
	fmt.Printf("\n")

	fmt.Printf("Start: (0x%x)\n", xr.start)

	if imageOffset, known := xr.ImageBase(); known == true {
		fmt.Printf("Image offset: (0x%x)\n", imageOffset)
	} else {
		fmt.Printf("Image offset: (unknown)\n")
	}

	fmt.Printf("VolumeId: (0x%08x)\n", xr.superblock.VolumeId)
	fmt.Printf("SectorsPerCluster: (%d)\n", xr.superblock.SectorsPerCluster)
	fmt.Printf("-> Cluster-size: (%d)\n", xr.ClusterSize())
	fmt.Printf("FatCount: (%d)\n", xr.superblock.FatCount)
	fmt.Printf("Volume-size: (%d) [%s]\n", xr.volumeSize, humanize.Bytes(xr.volumeSize))
	fmt.Printf("FAT offset: (0x%x)\n", xr.fatOffset)
	fmt.Printf("FAT region size: (%d)\n", xr.fatRegionSize)
	fmt.Printf("FAT entries: (%d)\n", xr.fatEntryCount)
	fmt.Printf("Root-directory offset: (0x%x)\n", xr.rootDirOffset)

	fmt.Printf("\n")
}

func (xr *XtafReader) String() string {
	return fmt.Sprintf("XtafReader<START=(0x%x) %s>", xr.start, xr.superblock)
}
