package logging

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestNewFallsBackToInfoOnBadLevel(t *testing.T) {
	log := New("not-a-level")
	if log.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("got level %v, want info", log.GetLevel())
	}
}

func TestNewHonorsValidLevel(t *testing.T) {
	log := New("debug")
	if log.GetLevel() != zerolog.DebugLevel {
		t.Fatalf("got level %v, want debug", log.GetLevel())
	}
}
