package xtaf

import (
	"golang.org/x/text/encoding/charmap"
)

// NameFromRaw returns a UTF-8 filename from the raw on-disk name bytes. The
// fill bytes are stripped from both ends. Names are stored as single-byte
// characters, which we read as Windows-1252 so that nothing is ever dropped.
func NameFromRaw(raw []byte) string {
	trimmed := trimNameFill(raw)

	decoded, err := charmap.Windows1252.NewDecoder().Bytes(trimmed)
	if err != nil {
		return string(trimmed)
	}

	return string(decoded)
}

// trimNameFill strips the 0xff/0x00 fill from both ends. This works on bytes
// rather than runes since the names are not UTF-8.
func trimNameFill(raw []byte) []byte {
	isFill := func(c byte) bool {
		return c == 0xff || c == 0x00
	}

	start := 0
	for start < len(raw) && isFill(raw[start]) == true {
		start++
	}

	end := len(raw)
	for end > start && isFill(raw[end-1]) == true {
		end--
	}

	return raw[start:end]
}

func roundUp(value, alignment uint64) uint64 {
	if alignment == 0 {
		return value
	}

	return (value + alignment - 1) / alignment * alignment
}

func minUint64(a, b uint64) uint64 {
	if a < b {
		return a
	}

	return b
}
