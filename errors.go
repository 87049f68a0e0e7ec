package xtaf

import (
	"errors"
)

var (
	// ErrVolumeNotFound indicates that no XTAF superblock was found at offset
	// zero or at any of the probed offsets.
	ErrVolumeNotFound = errors.New("xtaf volume not found")

	// ErrInvalidSuperblock indicates that the superblock was found but
	// describes an impossible geometry.
	ErrInvalidSuperblock = errors.New("xtaf superblock not valid")

	// ErrMalformedDirectoryRecord indicates a directory record whose name-
	// length can not be trusted. Decoding of the containing block stops there.
	ErrMalformedDirectoryRecord = errors.New("malformed directory record")

	// ErrAbortedChain indicates a cluster chain that could not be followed to
	// its terminator.
	ErrAbortedChain = errors.New("cluster chain aborted")

	// ErrNotFound indicates a path that does not exist in the tree.
	ErrNotFound = errors.New("path not found")

	// ErrOutOfRange indicates a read that starts past the end of the chain.
	ErrOutOfRange = errors.New("offset out of range")

	// ErrNotDirectory indicates a directory operation on a file node.
	ErrNotDirectory = errors.New("not a directory")
)
