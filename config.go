package xtaf

import (
	"fmt"
	"io"
	"reflect"

	"github.com/dsoprea/go-logging"
	"gopkg.in/yaml.v3"
)

var (
	// DefaultProbeOffsets are the fixed partition locations tried when the
	// image does not start with a superblock. The first is the content
	// partition of a retail hard drive, which is the one usually wanted.
	DefaultProbeOffsets = []uint64{
		0x130eb0000, // Content
		0x120eb0000, // Xbox 1 compatibility
		0x118eb0000, // System extended (2)
		0x10c080000, // System extended
		0x80080000,  // Game cache
		0x80000,     // System cache
		0x7ff000,    // Memory-unit data
	}
)

// MountOptions controls how a volume is located and accessed.
type MountOptions struct {
	// ProbeOffsets are tried, in order, when there's no superblock at zero.
	ProbeOffsets []uint64 `yaml:"probe_offsets"`

	// StartOffset, if set, skips probing and requires the superblock to be
	// here.
	StartOffset *uint64 `yaml:"start_offset"`

	// ImageBase, if set, is the absolute offset of the source's first byte
	// within the original disk image (e.g. when the source is a partition
	// that was carved out of a larger image). It makes image offsets
	// available in the byte-runs.
	ImageBase *uint64 `yaml:"image_base"`

	// ThreadSafe puts the source reads and the tree state behind locks.
	ThreadSafe bool `yaml:"thread_safe"`
}

// DefaultMountOptions returns the options used when none are given.
func DefaultMountOptions() *MountOptions {
	offsets := make([]uint64, len(DefaultProbeOffsets))
	copy(offsets, DefaultProbeOffsets)

	return &MountOptions{
		ProbeOffsets: offsets,
	}
}

// LoadMountOptions reads options from YAML. Anything not mentioned keeps its
// default.
func LoadMountOptions(r io.Reader) (mo *MountOptions, err error) {
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

	mo = DefaultMountOptions()

	d := yaml.NewDecoder(r)
	d.KnownFields(true)

	err = d.Decode(mo)
	if err != io.EOF {
		log.PanicIf(err)
	}

	if len(mo.ProbeOffsets) == 0 {
		mo.ProbeOffsets = DefaultMountOptions().ProbeOffsets
	}

	return mo, nil
}

func (mo *MountOptions) String() string {
	startPhrase := "(probe)"
	if mo.StartOffset != nil {
		startPhrase = fmt.Sprintf("(0x%x)", *mo.StartOffset)
	}

	basePhrase := "(unknown)"
	if mo.ImageBase != nil {
		basePhrase = fmt.Sprintf("(0x%x)", *mo.ImageBase)
	}

	return fmt.Sprintf("MountOptions<START=%s IMAGE-BASE=%s PROBES=(%d) THREAD-SAFE=[%v]>", startPhrase, basePhrase, len(mo.ProbeOffsets), mo.ThreadSafe)
}
