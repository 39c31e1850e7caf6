package tlswarn

import (
	"bytes"
	"log"
	"strings"
	"sync"
	"testing"
)

// No t.Parallel(): the test mutates the package-level Once and the global
// log output.
func TestLogInsecureOnce(t *testing.T) {
	once = sync.Once{}

	var buf bytes.Buffer
	orig := log.Writer()
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(orig) })

	LogInsecure()
	LogInsecure()
	LogInsecure()

	output := buf.String()
	if count := strings.Count(output, "[Client] WARNING:"); count != 1 {
		t.Fatalf("expected exactly 1 warning, got %d; output:\n%s", count, output)
	}
	if !strings.Contains(output, "LUMINA_TLS_INSECURE") {
		t.Fatalf("warning does not name the triggering variable; output:\n%s", output)
	}
	if !strings.Contains(output, "verification is disabled") {
		t.Fatalf("warning missing expected text; output:\n%s", output)
	}
}
