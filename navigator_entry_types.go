package xtaf

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/dsoprea/go-logging"
	"github.com/go-restruct/restruct"
)

const (
	// DirectoryRecordSize is the size of one directory slot.
	DirectoryRecordSize = 64

	// MaxNameLength is the largest name-length of a live record.
	MaxNameLength = 42

	// NameLengthVacant marks a slot that was never used.
	NameLengthVacant = 0x00

	// NameLengthDeleted marks a deleted record. The name itself is left
	// intact.
	NameLengthDeleted = 0xe5

	// DeletedNamePrefix is prepended to the names of deleted records in the
	// tree so that they never collide with live ones.
	DeletedNamePrefix = "~"
)

// FileAttributes is the attribute byte of a directory record.
type FileAttributes uint8

func (fa FileAttributes) IsReadOnly() bool {
	return fa&1 > 0
}

func (fa FileAttributes) IsHidden() bool {
	return fa&2 > 0
}

func (fa FileAttributes) IsSystem() bool {
	return fa&4 > 0
}

func (fa FileAttributes) IsDirectory() bool {
	return fa&16 > 0
}

func (fa FileAttributes) IsArchive() bool {
	return fa&32 > 0
}

// DumpBareIndented prints the attributes with the given prefix.
func (fa FileAttributes) DumpBareIndented(indent string) {
	fmt.Printf("%sRead-Only: [%v]\n", indent, fa.IsReadOnly())
	fmt.Printf("%sHidden: [%v]\n", indent, fa.IsHidden())
	fmt.Printf("%sSystem: [%v]\n", indent, fa.IsSystem())
	fmt.Printf("%sDirectory: [%v]\n", indent, fa.IsDirectory())
	fmt.Printf("%sArchive: [%v]\n", indent, fa.IsArchive())
}

func (fa FileAttributes) String() string {
	return fmt.Sprintf("FileAttributes<IS-READONLY=[%v] IS-HIDDEN=[%v] IS-SYSTEM=[%v] IS-DIRECTORY=[%v] IS-ARCHIVE=[%v]>",
		fa.IsReadOnly(), fa.IsHidden(), fa.IsSystem(), fa.IsDirectory(), fa.IsArchive())
}

// DirectoryRecord is the on-disk layout of a single 64-byte directory slot.
type DirectoryRecord struct {
	// NameLength is (0) for a vacant slot, (0xe5) for a deleted record, and
	// otherwise the number of significant name bytes.
	NameLength uint8

	Attributes FileAttributes

	// RawName is padded with 0xff or 0x00.
	RawName [MaxNameLength]byte

	StartingCluster uint32
	FileSize        uint32

	CreationDate uint16
	CreationTime uint16
	AccessDate   uint16
	AccessTime   uint16
	UpdateDate   uint16
	UpdateTime   uint16
}

// IsVacant indicates a slot that has never held a record.
func (dr DirectoryRecord) IsVacant() bool {
	return dr.NameLength == NameLengthVacant
}

// IsDeleted indicates a record that was deleted.
func (dr DirectoryRecord) IsDeleted() bool {
	return dr.NameLength == NameLengthDeleted
}

// IsMalformed indicates a record whose name-length can not be trusted.
func (dr DirectoryRecord) IsMalformed() bool {
	return dr.IsDeleted() == false && dr.NameLength > MaxNameLength
}

// Name decodes the record's name. Deleted records keep their full raw name
// since the length byte was overwritten.
func (dr DirectoryRecord) Name() string {
	if dr.IsDeleted() == true {
		return NameFromRaw(dr.RawName[:])
	}

	return NameFromRaw(dr.RawName[:dr.NameLength])
}

func (dr DirectoryRecord) CreationTimestamp() FatTimestamp {
	return FatTimestamp{Date: dr.CreationDate, Time: dr.CreationTime}
}

func (dr DirectoryRecord) AccessTimestamp() FatTimestamp {
	return FatTimestamp{Date: dr.AccessDate, Time: dr.AccessTime}
}

func (dr DirectoryRecord) UpdateTimestamp() FatTimestamp {
	return FatTimestamp{Date: dr.UpdateDate, Time: dr.UpdateTime}
}

func (dr DirectoryRecord) String() string {
	return fmt.Sprintf("DirectoryRecord<NAME-LENGTH=(0x%02x) ATTRIBUTES=(0x%02x) CLUSTER=(%d) SIZE=(%d)>", dr.NameLength, uint8(dr.Attributes), dr.StartingCluster, dr.FileSize)
}

func parseDirectoryRecord(raw []byte) (dr DirectoryRecord, err error) {
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

	if len(raw) < DirectoryRecordSize {
		log.Panicf("directory record too short: (%d)", len(raw))
	}

	err = restruct.Unpack(raw[:DirectoryRecordSize], defaultEncoding, &dr)
	log.PanicIf(err)

	return dr, nil
}

// DirectoryEntry is a decoded, non-vacant directory record along with where
// it was found.
type DirectoryEntry struct {
	Record DirectoryRecord

	// Name is the decoded name (without any deletion prefix).
	Name string

	// Allocated is false for deleted records.
	Allocated bool

	// SlotIndex is the position of the slot within the directory's data.
	SlotIndex int

	// SlotOffset is the byte offset of the slot within the directory's data.
	SlotOffset uint64
}

// IsDirectory indicates that the entry describes a directory.
func (de DirectoryEntry) IsDirectory() bool {
	return de.Record.Attributes.IsDirectory()
}

// NameType is "d" for directories and "r" for regular files.
func (de DirectoryEntry) NameType() string {
	if de.IsDirectory() == true {
		return "d"
	}

	return "r"
}

// TreeName is the name that the entry is keyed by in its parent.
func (de DirectoryEntry) TreeName() string {
	if de.Allocated == false {
		return DeletedNamePrefix + de.Name
	}

	return de.Name
}

func (de DirectoryEntry) StartingCluster() uint32 {
	return de.Record.StartingCluster
}

func (de DirectoryEntry) FileSize() uint64 {
	return uint64(de.Record.FileSize)
}

func (de DirectoryEntry) CreatedTime() time.Time {
	return de.Record.CreationTimestamp().Timestamp()
}

func (de DirectoryEntry) AccessedTime() time.Time {
	return de.Record.AccessTimestamp().Timestamp()
}

func (de DirectoryEntry) ModifiedTime() time.Time {
	return de.Record.UpdateTimestamp().Timestamp()
}

// Dump prints the entry.
func (de DirectoryEntry) Dump() {
	title := fmt.Sprintf("Directory Entry: [%s]", de.Name)

	fmt.Println(title)
	fmt.Println(strings.Repeat("=", len(title)))
	fmt.Printf("\n")

	fmt.Printf("Slot: (%d) @ (0x%x)\n", de.SlotIndex, de.SlotOffset)
	fmt.Printf("Allocated: [%v]\n", de.Allocated)
	fmt.Printf("Starting cluster: (%d)\n", de.Record.StartingCluster)
	fmt.Printf("Size: (%d)\n", de.Record.FileSize)
	fmt.Printf("Created: [%s]\n", de.Record.CreationTimestamp())
	fmt.Printf("Accessed: [%s]\n", de.Record.AccessTimestamp())
	fmt.Printf("Updated: [%s]\n", de.Record.UpdateTimestamp())
	fmt.Printf("\n")

	fmt.Printf("Attributes:\n")
	de.Record.Attributes.DumpBareIndented("  ")
	fmt.Printf("\n")
}

func (de DirectoryEntry) String() string {
	return fmt.Sprintf("DirectoryEntry<NAME=[%s] TYPE=[%s] ALLOCATED=[%v] SLOT=(%d) CLUSTER=(%d) SIZE=(%d)>", de.Name, de.NameType(), de.Allocated, de.SlotIndex, de.Record.StartingCluster, de.Record.FileSize)
}
