package xtaf

import (
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/dsoprea/go-logging"
	"github.com/gocarina/gocsv"
)

// VolumeRecord describes the volume for reporting.
type VolumeRecord struct {
	Start               uint64 `csv:"start"`
	ImageOffset         string `csv:"image_offset"`
	VolumeId            string `csv:"volume_id"`
	SectorsPerCluster   uint32 `csv:"sectors_per_cluster"`
	ClusterSize         uint64 `csv:"cluster_size"`
	FatOffset           uint64 `csv:"fat_offset"`
	FatEntryCount       uint32 `csv:"fat_entry_count"`
	RootDirectoryOffset uint64 `csv:"root_directory_offset"`
}

// FileRecord describes one artifact for reporting. The run columns are
// rendered by FormatByteRuns.
type FileRecord struct {
	Id              int    `csv:"id"`
	Path            string `csv:"path"`
	NameType        string `csv:"name_type"`
	Allocated       bool   `csv:"allocated"`
	Size            uint64 `csv:"size"`
	StartingCluster uint32 `csv:"starting_cluster"`
	Attributes      string `csv:"attributes"`
	Created         string `csv:"created"`
	Accessed        string `csv:"accessed"`
	Modified        string `csv:"modified"`
	Md5             string `csv:"md5"`
	Sha1            string `csv:"sha1"`
	DataRuns        string `csv:"data_runs"`
	NameRuns        string `csv:"name_runs"`
	MetaRuns        string `csv:"meta_runs"`
	Problems        string `csv:"problems"`
}

// Reporter turns the tree into report records. It owns the running file id,
// so ids are unique and increasing for as long as the reporter lives.
type Reporter struct {
	tree              *Tree
	includeProvenance bool

	nextFileId int
}

// NewReporter returns a reporter. If `includeProvenance` is false, the
// byte-runs and digests are not computed (which avoids reading any content).
func NewReporter(tree *Tree, includeProvenance bool) *Reporter {
	return &Reporter{
		tree:              tree,
		includeProvenance: includeProvenance,
		nextFileId:        1,
	}
}

func (r *Reporter) allocateFileId() int {
	id := r.nextFileId
	r.nextFileId++

	return id
}

// VolumeRecord describes the volume.
func (r *Reporter) VolumeRecord() VolumeRecord {
	xr := r.tree.Reader()

	imageOffsetPhrase := ""
	if imageOffset, known := xr.ImageBase(); known == true {
		imageOffsetPhrase = fmt.Sprintf("%d", imageOffset)
	}

	return VolumeRecord{
		Start:               xr.Start(),
		ImageOffset:         imageOffsetPhrase,
		VolumeId:            fmt.Sprintf("%08x", xr.VolumeId()),
		SectorsPerCluster:   xr.SectorsPerCluster(),
		ClusterSize:         xr.ClusterSize(),
		FatOffset:           xr.FatOffset(),
		FatEntryCount:       xr.FatEntryCount(),
		RootDirectoryOffset: xr.RootDirectoryOffset(),
	}
}

// FatRecord describes the FAT as a pseudo-file.
func (r *Reporter) FatRecord() FileRecord {
	frd := r.tree.Reader().FatRegion()

	fr := FileRecord{
		Id:        r.allocateFileId(),
		Path:      PathSeparator + frd.Filename,
		NameType:  "r",
		Allocated: true,
		Size:      frd.Size,
	}

	if r.includeProvenance == true {
		fr.DataRuns = FormatByteRuns(frd.DataRuns)
	}

	return fr
}

// FileRecord describes a node and assigns it the next id.
func (r *Reporter) FileRecord(node *TreeNode) (fr FileRecord, err error) {
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

	fr = FileRecord{
		Id:        r.allocateFileId(),
		Path:      node.Path(),
		NameType:  "d",
		Allocated: node.IsAllocated(),
		Size:      r.tree.LogicalSize(node),
	}

	if de := node.Entry(); de != nil {
		fr.NameType = de.NameType()
		fr.StartingCluster = de.StartingCluster()
		fr.Attributes = fmt.Sprintf("%02x", uint8(de.Record.Attributes))
		fr.Created = formatTimestamp(de.CreatedTime())
		fr.Accessed = formatTimestamp(de.AccessedTime())
		fr.Modified = formatTimestamp(de.ModifiedTime())
	} else {
		fr.StartingCluster = RootDirectoryCluster
	}

	if r.includeProvenance == true {
		p, err := r.tree.Provenance(node)
		log.PanicIf(err)

		fr.Md5 = p.Md5
		fr.Sha1 = p.Sha1
		fr.DataRuns = FormatByteRuns(p.DataRuns)
		fr.NameRuns = FormatByteRuns(p.NameRuns)
		fr.MetaRuns = FormatByteRuns(p.MetaRuns)
	}

	problems := make([]string, len(node.Problems()))
	for i, problem := range node.Problems() {
		problems[i] = problem.Error()
	}

	fr.Problems = strings.Join(problems, "; ")

	return fr, nil
}

// Records returns the FAT pseudo-file followed by every node under
// `rootPath` (breadth-first, the starting node included unless it's the
// root).
func (r *Reporter) Records(rootPath string) (records []FileRecord, err error) {
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

	tw, err := r.tree.Walk(rootPath)
	if err == ErrNotFound {
		return nil, err
	}

	log.PanicIf(err)

	records = []FileRecord{r.FatRecord()}

	for {
		node, ok, err := tw.Next()
		log.PanicIf(err)

		if ok == false {
			break
		}

		if node.IsRoot() == true {
			continue
		}

		fr, err := r.FileRecord(node)
		log.PanicIf(err)

		records = append(records, fr)
	}

	return records, nil
}

// WriteCsv writes the records for everything under `rootPath` as CSV.
func (r *Reporter) WriteCsv(w io.Writer, rootPath string) (err error) {
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

	records, err := r.Records(rootPath)
	if err == ErrNotFound {
		return err
	}

	log.PanicIf(err)

	err = gocsv.Marshal(records, w)
	log.PanicIf(err)

	return nil
}

// WriteVolumeCsv writes the volume record as CSV.
func (r *Reporter) WriteVolumeCsv(w io.Writer) (err error) {
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

	records := []VolumeRecord{r.VolumeRecord()}

	err = gocsv.Marshal(records, w)
	log.PanicIf(err)

	return nil
}

// FormatByteRuns renders runs as space-separated
// "<file-offset>:<fs-offset>[:<img-offset>]+<length>" items.
func FormatByteRuns(brs ByteRuns) string {
	parts := make([]string, len(brs.Runs))

	for i, br := range brs.Runs {
		if br.HasImgOffset == true {
			parts[i] = fmt.Sprintf("%d:%d:%d+%d", br.FileOffset, br.FsOffset, br.ImgOffset, br.Length)
		} else {
			parts[i] = fmt.Sprintf("%d:%d+%d", br.FileOffset, br.FsOffset, br.Length)
		}
	}

	return strings.Join(parts, " ")
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() == true {
		return ""
	}

	return t.Format(time.RFC3339)
}
