package util

import (
	"strings"
	"testing"
)

func TestNewID(t *testing.T) {
	id := NewID("dec")
	if !strings.HasPrefix(id, "dec_") || len(id) != len("dec_")+32 {
		t.Fatalf("NewID() = %q", id)
	}
	if NewID("") == NewID("") {
		t.Fatal("NewID() returned duplicate ids")
	}
}
