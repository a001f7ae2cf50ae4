package main

import "testing"

func TestHexSuffix(t *testing.T) {
	got := hexSuffix([]byte{0xde, 0xad, 0xbe, 0xef})
	if got != "deadbeef" {
		t.Errorf("hexSuffix() = %q, want %q", got, "deadbeef")
	}
}
