package xtaf

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"reflect"

	"github.com/dsoprea/go-logging"
)

// Facet identifies which aspect of an artifact a set of byte-runs describes.
type Facet string

const (
	// FacetData is the content.
	FacetData Facet = "data"

	// FacetName is the directory record holding the name.
	FacetName Facet = "name"

	// FacetMetadata is the directory record holding the size, cluster and
	// timestamps.
	FacetMetadata Facet = "meta"
)

// ByteRun is one contiguous extent of an artifact. FsOffset is relative to
// the start of the volume. ImgOffset is only meaningful if HasImgOffset is
// true.
type ByteRun struct {
	FileOffset   uint64
	FsOffset     uint64
	ImgOffset    uint64
	HasImgOffset bool
	Length       uint64
}

func (br ByteRun) String() string {
	imgPhrase := "(unknown)"
	if br.HasImgOffset == true {
		imgPhrase = fmt.Sprintf("(0x%x)", br.ImgOffset)
	}

	return fmt.Sprintf("ByteRun<FILE-OFFSET=(0x%x) FS-OFFSET=(0x%x) IMG-OFFSET=%s LENGTH=(%d)>", br.FileOffset, br.FsOffset, imgPhrase, br.Length)
}

// ByteRuns is an ordered list of runs for one facet.
type ByteRuns struct {
	Facet Facet
	Runs  []ByteRun
}

// TotalLength is the sum of the lengths of all runs.
func (brs ByteRuns) TotalLength() (total uint64) {
	for _, br := range brs.Runs {
		total += br.Length
	}

	return total
}

func (brs ByteRuns) String() string {
	return fmt.Sprintf("ByteRuns<FACET=[%s] COUNT=(%d) LENGTH=(%d)>", brs.Facet, len(brs.Runs), brs.TotalLength())
}

// Provenance is where an artifact's data and directory record physically
// live, and the digests of its content.
type Provenance struct {
	DataRuns ByteRuns

	// NameRuns and MetaRuns are empty for the root.
	NameRuns ByteRuns
	MetaRuns ByteRuns

	// Md5 and Sha1 are lowercase hex. They are empty when HashesOmitted is
	// true.
	Md5           string
	Sha1          string
	HashesOmitted bool

	Problems []error
}

// Dump prints the provenance.
func (p *Provenance) Dump() {
	fmt.Printf("Provenance\n")
	fmt.Printf("==========\n")
	fmt.Printf("\n")

	for _, brs := range []ByteRuns{p.DataRuns, p.NameRuns, p.MetaRuns} {
		if len(brs.Runs) == 0 {
			continue
		}

		fmt.Printf("%s\n", brs)

		for _, br := range brs.Runs {
			fmt.Printf("  %s\n", br)
		}

		fmt.Printf("\n")
	}

	if p.HashesOmitted == true {
		fmt.Printf("Hashes: (omitted)\n")
	} else {
		fmt.Printf("MD5: [%s]\n", p.Md5)
		fmt.Printf("SHA1: [%s]\n", p.Sha1)
	}

	for _, problem := range p.Problems {
		fmt.Printf("Problem: %s\n", problem)
	}

	fmt.Printf("\n")
}

func (p *Provenance) String() string {
	return fmt.Sprintf("Provenance<DATA-RUNS=(%d) MD5=[%s] SHA1=[%s] HASHES-OMITTED=[%v] PROBLEMS=(%d)>", len(p.DataRuns.Runs), p.Md5, p.Sha1, p.HashesOmitted, len(p.Problems))
}

// Provenance computes (once) the byte-runs and digests for the node. Problems
// that are found are recorded on the provenance and on the node rather than
// failing the call.
func (tree *Tree) Provenance(node *TreeNode) (p *Provenance, err error) {
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

	return tree.provenance(node), nil
}

func (tree *Tree) provenance(node *TreeNode) *Provenance {
	if node.provenance != nil {
		return node.provenance
	}

	p := &Provenance{
		NameRuns: ByteRuns{Facet: FacetName},
		MetaRuns: ByteRuns{Facet: FacetMetadata},
		Problems: make([]error, 0),
	}

	chain := tree.chain(node)
	if chainErr := chain.Err(); chainErr != nil {
		p.Problems = append(p.Problems, chainErr)
		p.HashesOmitted = true
	}

	runs, md5Hash, sha1Hash, shortRead, remaining := tree.walkDataRuns(node, chain)
	p.DataRuns = ByteRuns{
		Facet: FacetData,
		Runs:  runs,
	}

	if shortRead != nil {
		p.Problems = append(p.Problems, shortRead)
		node.addProblem(shortRead)

		p.HashesOmitted = true
	}

	if remaining > 0 && chain.IsComplete() == true {
		problem := fmt.Errorf("(%d) bytes remaining after walking the chain", remaining)

		p.Problems = append(p.Problems, problem)
		node.addProblem(problem)
	}

	if p.HashesOmitted == false {
		p.Md5 = hex.EncodeToString(md5Hash.Sum(nil))
		p.Sha1 = hex.EncodeToString(sha1Hash.Sum(nil))
	}

	if node.IsRoot() == false {
		slotRun, problem := tree.slotRun(node)
		if problem != nil {
			p.Problems = append(p.Problems, problem)
			node.addProblem(problem)
		} else {
			p.NameRuns.Runs = []ByteRun{slotRun}
			p.MetaRuns.Runs = []ByteRun{slotRun}
		}
	}

	node.provenance = p

	return p
}

// walkDataRuns produces one run per cluster, the last one truncated to the
// logical size, and hashes exactly those bytes. `remaining` is whatever part
// of the logical size the chain couldn't cover.
func (tree *Tree) walkDataRuns(node *TreeNode, chain ClusterChain) (runs []ByteRun, md5Hash, sha1Hash hash.Hash, shortRead error, remaining uint64) {
	clusterSize := tree.xr.ClusterSize()

	md5Hash = md5.New()
	sha1Hash = sha1.New()

	w := io.MultiWriter(md5Hash, sha1Hash)

	remaining = tree.logicalSize(node)
	runs = make([]ByteRun, 0, chain.Len())

	fileOffset := uint64(0)
	for _, clusterNumber := range chain.Clusters {
		if remaining == 0 {
			break
		}

		length := minUint64(clusterSize, remaining)

		br := tree.xr.newByteRun(fileOffset, tree.xr.ClusterFilesystemOffset(clusterNumber), length)
		runs = append(runs, br)

		if shortRead == nil {
			data := tree.xr.ReadCluster(clusterNumber, length, 0)

			// Hash.Write never returns an error.
			w.Write(data)

			if uint64(len(data)) < length {
				shortRead = fmt.Errorf("read of cluster (%d) was short: (%d) < (%d)", clusterNumber, len(data), length)
			}
		}

		fileOffset += length
		remaining -= length
	}

	return runs, md5Hash, sha1Hash, shortRead, remaining
}

// slotRun locates the node's 64-byte directory record through its parent's
// cluster chain.
func (tree *Tree) slotRun(node *TreeNode) (br ByteRun, problem error) {
	parent := tree.nodes[node.parent]
	parentChain := tree.chain(parent)

	clusterSize := tree.xr.ClusterSize()
	slotOffset := node.entry.SlotOffset

	clusterIndex := int(slotOffset / clusterSize)
	if clusterIndex >= parentChain.Len() {
		return br, fmt.Errorf("directory record at (0x%x) is outside of the parent's (%d) clusters", slotOffset, parentChain.Len())
	}

	fsOffset := tree.xr.ClusterFilesystemOffset(parentChain.Clusters[clusterIndex]) + slotOffset%clusterSize

	return tree.xr.newByteRun(0, fsOffset, DirectoryRecordSize), nil
}
