package util

import (
	"testing"

	"github.com/google/uuid"
)

func TestNewIDIsOrderedUUID(t *testing.T) {
	prev := NewID()
	for i := 0; i < 100; i++ {
		id := NewID()
		parsed, err := uuid.Parse(id)
		if err != nil {
			t.Fatalf("parse %q: %v", id, err)
		}
		if parsed.Version() != 7 {
			t.Fatalf("version = %d, want 7", parsed.Version())
		}
		if id == prev {
			t.Fatalf("duplicate id %q", id)
		}
		if id < prev {
			t.Fatalf("id %q sorts before earlier id %q", id, prev)
		}
		prev = id
	}
}
