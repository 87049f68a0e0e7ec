// This package supports enumerating/indexing the entries for a single
// directory.

package xtaf

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/dsoprea/go-logging"
)

// DecodeDirectoryEntries decodes every non-vacant 64-byte slot in `raw`.
// Deleted records are returned as unallocated entries. Decoding stops at the
// first record with an impossible name-length; the entries before it are
// returned along with an error wrapping ErrMalformedDirectoryRecord.
func DecodeDirectoryEntries(raw []byte) (entries []DirectoryEntry, err error) {
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

	entries = make([]DirectoryEntry, 0)

	for i := 0; (i+1)*DirectoryRecordSize <= len(raw); i++ {
		slotOffset := i * DirectoryRecordSize
		slot := raw[slotOffset : slotOffset+DirectoryRecordSize]

		if slot[0] == NameLengthVacant {
			continue
		}

		dr, err := parseDirectoryRecord(slot)
		log.PanicIf(err)

		if dr.IsMalformed() == true {
			xtafLogger.Debugf(nil, "Stopping directory decode at slot (%d) with name-length (%d).", i, dr.NameLength)

			return entries, fmt.Errorf("%w: slot (%d) has name-length (%d)", ErrMalformedDirectoryRecord, i, dr.NameLength)
		}

		de := DirectoryEntry{
			Record:     dr,
			Name:       dr.Name(),
			Allocated:  dr.IsDeleted() == false,
			SlotIndex:  i,
			SlotOffset: uint64(slotOffset),
		}

		entries = append(entries, de)
	}

	return entries, nil
}

// XtafNavigator knows how to get the entries of a single directory.
type XtafNavigator struct {
	xr    *XtafReader
	chain ClusterChain
}

// NewXtafNavigator returns a new XtafNavigator instance for the directory
// whose data is in the given chain.
func NewXtafNavigator(xr *XtafReader, chain ClusterChain) (xn *XtafNavigator) {
	return &XtafNavigator{
		xr:    xr,
		chain: chain,
	}
}

// ReadData returns the complete directory data: one full cluster for every
// cluster in the chain. A short cluster read is padded with zeros (which
// decode as vacant slots) so that slot offsets stay correct.
func (xn *XtafNavigator) ReadData() (data []byte) {
	clusterSize := xn.xr.ClusterSize()

	data = make([]byte, 0, clusterSize*uint64(xn.chain.Len()))

	for _, clusterNumber := range xn.chain.Clusters {
		clusterData := xn.xr.ReadCluster(clusterNumber, clusterSize, 0)

		if uint64(len(clusterData)) < clusterSize {
			xtafLogger.Warningf(nil, "Directory cluster (%d) read was short: (%d) < (%d)", clusterNumber, len(clusterData), clusterSize)

			padded := make([]byte, clusterSize)
			copy(padded, clusterData)
			clusterData = padded
		}

		data = append(data, clusterData...)
	}

	return data
}

// DirectoryEntryVisitorFunc is a function type used as a callback over each
// decoded directory entry.
type DirectoryEntryVisitorFunc func(de DirectoryEntry) (err error)

// EnumerateDirectoryEntries calls the callback for every live and deleted
// entry in the directory. If a malformed record stops the decode, the entries
// before it are still visited and an error wrapping
// ErrMalformedDirectoryRecord is returned.
func (xn *XtafNavigator) EnumerateDirectoryEntries(cb DirectoryEntryVisitorFunc) (visitedClusters []uint32, err error) {
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

	data := xn.ReadData()

	entries, decodeErr := DecodeDirectoryEntries(data)

	for _, de := range entries {
		err := cb(de)
		log.PanicIf(err)
	}

	visitedClusters = xn.chain.Clusters

	return visitedClusters, decodeErr
}

// DirectoryEntryIndex is the ordered collection of all entries in a specific
// directory.
type DirectoryEntryIndex []DirectoryEntry

// Dump prints every entry in the index.
func (dei DirectoryEntryIndex) Dump() {
	fmt.Printf("Directory Entry Index\n")
	fmt.Printf("=====================\n")
	fmt.Printf("\n")

	for i, de := range dei {
		fmt.Printf("# %d\n", i)
		fmt.Printf("\n")

		fmt.Printf("  %s\n", de)
		fmt.Printf("\n")

		fmt.Printf("  Attributes:\n")
		de.Record.Attributes.DumpBareIndented("    ")

		fmt.Printf("\n")
	}
}

// Filenames returns a map of all tree-names in the directory and whether they
// are directories or just files.
func (dei DirectoryEntryIndex) Filenames() (filenames map[string]bool) {
	filenames = make(map[string]bool, len(dei))
	for _, de := range dei {
		filenames[de.TreeName()] = de.IsDirectory()
	}

	return filenames
}

// FileCount returns the number of entries in the directory.
func (dei DirectoryEntryIndex) FileCount() (count int) {
	return len(dei)
}

// DeletedCount returns the number of deleted entries in the directory.
func (dei DirectoryEntryIndex) DeletedCount() (count int) {
	for _, de := range dei {
		if de.Allocated == false {
			count++
		}
	}

	return count
}

// FindEntry returns the first entry with the given tree-name.
func (dei DirectoryEntryIndex) FindEntry(treeName string) (de DirectoryEntry, found bool) {
	for _, de := range dei {
		if de.TreeName() == treeName {
			return de, true
		}
	}

	return de, false
}

func (dei DirectoryEntryIndex) String() string {
	names := make([]string, len(dei))
	for i, de := range dei {
		names[i] = de.TreeName()
	}

	return fmt.Sprintf("DirectoryEntryIndex<COUNT=(%d) NAMES=[%s]>", len(dei), strings.Join(names, ", "))
}

// IndexDirectoryEntries builds an index for the current directory. As with
// EnumerateDirectoryEntries, a malformed record still returns the index of
// what came before it.
func (xn *XtafNavigator) IndexDirectoryEntries() (index DirectoryEntryIndex, visitedClusters []uint32, err error) {
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

	index = make(DirectoryEntryIndex, 0)

	cb := func(de DirectoryEntry) (err error) {
		index = append(index, de)
		return nil
	}

	visitedClusters, err = xn.EnumerateDirectoryEntries(cb)
	return index, visitedClusters, err
}
