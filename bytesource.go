package xtaf

import (
	"io"
	"reflect"
	"sync"

	"github.com/dsoprea/go-logging"
)

// ByteSource is random-access storage holding the image. Reads are bounded
// and positioned.
type ByteSource interface {
	// ReadBytesAt returns up to `length` bytes at `offset`. It may return
	// fewer bytes at the end of the image and returns an empty slice for
	// offsets past the end.
	ReadBytesAt(offset uint64, length int) (data []byte, err error)

	// Size returns the total size of the image.
	Size() uint64
}

// SeekerByteSource is a ByteSource over any io.ReadSeeker (an image file, a
// device, or an in-memory buffer). If constructed as thread-safe, every
// positioned read happens under one lock so that several goroutines can
// explore independent subtrees.
type SeekerByteSource struct {
	rs   io.ReadSeeker
	size uint64

	threadSafe bool
	lock       sync.Mutex
}

// NewSeekerByteSource returns a new SeekerByteSource. The size is determined
// once, here.
func NewSeekerByteSource(rs io.ReadSeeker, threadSafe bool) (sbs *SeekerByteSource, err error) {
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

	end, err := rs.Seek(0, io.SeekEnd)
	log.PanicIf(err)

	_, err = rs.Seek(0, io.SeekStart)
	log.PanicIf(err)

	sbs = &SeekerByteSource{
		rs:         rs,
		size:       uint64(end),
		threadSafe: threadSafe,
	}

	return sbs, nil
}

// Size returns the size of the underlying image.
func (sbs *SeekerByteSource) Size() uint64 {
	return sbs.size
}

// ReadBytesAt reads at an absolute offset. A short read at the end of the
// image is not an error.
func (sbs *SeekerByteSource) ReadBytesAt(offset uint64, length int) (data []byte, err error) {
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

	if length <= 0 || offset >= sbs.size {
		return []byte{}, nil
	}

	if remaining := sbs.size - offset; uint64(length) > remaining {
		length = int(remaining)
	}

	if sbs.threadSafe == true {
		sbs.lock.Lock()
		defer sbs.lock.Unlock()
	}

	_, err = sbs.rs.Seek(int64(offset), io.SeekStart)
	log.PanicIf(err)

	data = make([]byte, length)

	n, err := io.ReadFull(sbs.rs, data)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		return data[:n], nil
	}

	log.PanicIf(err)

	return data, nil
}
