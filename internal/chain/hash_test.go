package chain

import "testing"

func TestHashContent(t *testing.T) {
	// Keccak-256 of the empty input is a well-known constant.
	if got := HashContent(nil); got != "0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470" {
		t.Fatalf("empty hash mismatch: %s", got)
	}
	a := HashContent([]byte("deed.pdf contents"))
	b := HashContent([]byte("deed.pdf contents"))
	if a != b {
		t.Fatal("hash must be deterministic")
	}
	if a == HashContent([]byte("tampered contents")) {
		t.Fatal("distinct content must hash differently")
	}
	if len(a) != 66 || a[:2] != "0x" {
		t.Fatalf("expected 0x-prefixed 32-byte hex, got %q", a)
	}
}
