package engine

import (
	"strings"
	"testing"

	"github.com/lumina-panel/lumina/internal/eventhub"
)

func TestLineWriterSplitsLines(t *testing.T) {
	t.Parallel()

	hub := eventhub.New(eventhub.WithCapacity(16))
	w := newLineWriter(hub, eventhub.LevelInfo, "engine_a")

	w.Write([]byte("first line\r\nsecond "))
	w.Write([]byte("line\npartial"))
	w.Flush()

	events, _ := hub.Fetch(0, 10)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d: %+v", len(events), events)
	}
	if events[0].Message != "first line" {
		t.Errorf("first = %q", events[0].Message)
	}
	if events[1].Message != "second line" {
		t.Errorf("second = %q", events[1].Message)
	}
	if events[2].Message != "partial" {
		t.Errorf("flushed partial = %q", events[2].Message)
	}
}

func TestLineWriterStripsTerminalEscapes(t *testing.T) {
	t.Parallel()

	hub := eventhub.New(eventhub.WithCapacity(16))
	w := newLineWriter(hub, eventhub.LevelInfo, "engine_b")

	w.Write([]byte("\x1b[32mStatus update: Connected\x1b[0m\n"))

	events, _ := hub.Fetch(0, 10)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Message != "Status update: Connected" {
		t.Fatalf("escape sequences not stripped: %q", events[0].Message)
	}
}

func TestLineWriterSkipsBlankLines(t *testing.T) {
	t.Parallel()

	hub := eventhub.New(eventhub.WithCapacity(16))
	w := newLineWriter(hub, eventhub.LevelInfo, "engine_a")

	w.Write([]byte("\n\n  \nreal output\n\n"))

	events, _ := hub.Fetch(0, 10)
	if len(events) != 1 || events[0].Message != "real output" {
		t.Fatalf("expected only the non-blank line, got %+v", events)
	}
}

func TestLineWriterCapsLongLines(t *testing.T) {
	t.Parallel()

	hub := eventhub.New(eventhub.WithCapacity(16))
	w := newLineWriter(hub, eventhub.LevelWarning, "engine_a")

	w.Write([]byte(strings.Repeat("x", maxLogLineRunes*2) + "\n"))

	events, _ := hub.Fetch(0, 10)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if got := len(events[0].Message); got != maxLogLineRunes {
		t.Fatalf("expected message capped at %d runes, got %d", maxLogLineRunes, got)
	}
}

func TestLineWriterForcesFlushWithoutNewline(t *testing.T) {
	t.Parallel()

	hub := eventhub.New(eventhub.WithCapacity(16))
	w := newLineWriter(hub, eventhub.LevelInfo, "engine_a")

	// More than the internal buffer limit with no newline at all.
	w.Write([]byte(strings.Repeat("y", maxBufferedBytes+1)))

	events, _ := hub.Fetch(0, 10)
	if len(events) == 0 {
		t.Fatal("expected a forced flush event for a stream without newlines")
	}
}
