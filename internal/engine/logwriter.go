package engine

import (
	"bytes"
	"sync"

	"github.com/lumina-panel/lumina/internal/eventhub"
	"github.com/lumina-panel/lumina/internal/sanitize"
)

const (
	maxLogLineRunes  = 2048
	maxBufferedBytes = 16 * 1024
)

// lineWriter adapts an engine's raw output stream into log events on the
// hub, one event per line. Lines are capped so a misbehaving engine cannot
// flood subscribers, and a forced flush bounds memory when the stream never
// emits a newline.
type lineWriter struct {
	hub    *eventhub.Hub
	level  string
	source string

	mu  sync.Mutex
	buf bytes.Buffer
}

func newLineWriter(hub *eventhub.Hub, level, source string) *lineWriter {
	return &lineWriter{hub: hub, level: level, source: source}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		idx := bytes.IndexByte(w.buf.Bytes(), '\n')
		if idx < 0 {
			break
		}
		line := string(w.buf.Next(idx + 1))
		w.emit(line)
	}
	if w.buf.Len() > maxBufferedBytes {
		w.emit(w.buf.String())
		w.buf.Reset()
	}
	return len(p), nil
}

// Flush publishes any trailing partial line. Called after the process exits.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.emit(w.buf.String())
		w.buf.Reset()
	}
}

func (w *lineWriter) emit(line string) {
	// Engines write for a terminal; drop their escape sequences and cap the
	// line before it becomes a hub event.
	line = sanitize.TrimToRunes(sanitize.StripControlChars(line), maxLogLineRunes)
	if line == "" {
		return
	}
	w.hub.Log(w.level, w.source, line)
}
