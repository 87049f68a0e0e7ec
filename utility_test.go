package xtaf

import (
	"testing"
)

func TestNameFromRaw(t *testing.T) {
	raw := make([]byte, 42)
	copy(raw, "Content")

	for i := 7; i < len(raw); i++ {
		raw[i] = 0xff
	}

	s := NameFromRaw(raw)
	if s != "Content" {
		t.Fatalf("Name not decoded correctly: [%s]", s)
	}
}

func TestNameFromRaw_NulPadding(t *testing.T) {
	raw := []byte{'a', 'b', 'c', 0, 0, 0}

	s := NameFromRaw(raw)
	if s != "abc" {
		t.Fatalf("Name not decoded correctly: [%s]", s)
	}
}

func TestNameFromRaw_HighBytes(t *testing.T) {
	raw := []byte{'c', 'a', 'f', 0xe9, 0xff}

	s := NameFromRaw(raw)
	if s != "café" {
		t.Fatalf("High byte not decoded: [%s]", s)
	}
}

func TestRoundUp(t *testing.T) {
	if roundUp(1, 4096) != 4096 {
		t.Fatalf("Round-up not correct (1).")
	} else if roundUp(4096, 4096) != 4096 {
		t.Fatalf("Round-up not correct (4096).")
	} else if roundUp(0, 4096) != 0 {
		t.Fatalf("Round-up not correct (0).")
	} else if roundUp(4097, 4096) != 8192 {
		t.Fatalf("Round-up not correct (4097).")
	}
}
