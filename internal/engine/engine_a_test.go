package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/lumina-panel/lumina/internal/eventhub"
)

// TestMain doubles as a fake engine binary. When FAKE_ENGINE_MODE is set
// the test binary plays the role of the tunnel client instead of running
// the test suite.
func TestMain(m *testing.M) {
	mode := os.Getenv("FAKE_ENGINE_MODE")
	if mode == "" {
		os.Exit(m.Run())
	}
	fakeEngineMain(mode)
}

func fakeEngineMain(mode string) {
	args := os.Args[1:]
	if len(args) == 0 {
		os.Exit(2)
	}
	switch args[0] {
	case "register":
		if mode == "register-fail" {
			fmt.Fprintln(os.Stderr, "registration rejected")
			os.Exit(1)
		}
		cfg := flagValue(args, "--config")
		if cfg == "" {
			os.Exit(2)
		}
		if err := os.WriteFile(cfg, []byte(`{"device_id":"fake"}`), 0o600); err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	case "socks":
		if mode == "exit" {
			fmt.Fprintln(os.Stderr, "fatal: no usable endpoint")
			os.Exit(1)
		}
		port := flagValue(args, "--port")
		ln, err := net.Listen("tcp", "127.0.0.1:"+port)
		if err != nil {
			os.Exit(1)
		}
		fmt.Println("serving proxy on " + ln.Addr().String())
		// Block in Accept rather than select{}: an empty select with no
		// other live goroutines trips the runtime deadlock detector and
		// kills the fake engine.
		for {
			conn, err := ln.Accept()
			if err != nil {
				os.Exit(1)
			}
			conn.Close()
		}
	default:
		os.Exit(2)
	}
}

func flagValue(args []string, name string) string {
	for i, a := range args {
		if a == name && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func testBinary(t *testing.T) string {
	t.Helper()
	bin, err := os.Executable()
	if err != nil {
		t.Fatalf("resolve test binary: %v", err)
	}
	return bin
}

func newTestEngineA(t *testing.T, mode string) (*EngineA, int) {
	t.Helper()
	t.Setenv("FAKE_ENGINE_MODE", mode)
	port := freePort(t)
	bin := testBinary(t)
	a := NewEngineA(EngineAOptions{
		BinaryPath: func() (string, error) { return bin, nil },
		RunDir:     t.TempDir(),
		ProxyPort:  port,
		Hub:        eventhub.New(),
	})
	return a, port
}

func TestEngineAStartRegistersAndServes(t *testing.T) {
	a, port := newTestEngineA(t, "ok")
	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { a.Stop(ctx) })

	if _, err := os.Stat(a.configPath()); err != nil {
		t.Fatalf("registration config not written: %v", err)
	}
	if !probePort(port) {
		t.Fatal("bridge port not listening after Start")
	}

	st, err := a.Query(ctx)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !st.Running || !st.Ready {
		t.Fatalf("status = %+v, want running and ready", st)
	}
	if st.Protocol != "masque" {
		t.Fatalf("protocol = %q, want masque", st.Protocol)
	}

	if err := a.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if probePort(port) {
		t.Fatal("bridge port still bound after Stop")
	}
	if _, err := a.Query(ctx); !IsTransient(err) {
		t.Fatalf("Query after Stop = %v, want transient not-ready", err)
	}
}

func TestEngineAStartSkipsRegistrationWhenConfigured(t *testing.T) {
	a, _ := newTestEngineA(t, "ok")
	if err := os.MkdirAll(filepath.Dir(a.configPath()), 0o755); err != nil {
		t.Fatal(err)
	}
	seed := []byte(`{"device_id":"existing"}`)
	if err := os.WriteFile(a.configPath(), seed, 0o600); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { a.Stop(ctx) })

	got, err := os.ReadFile(a.configPath())
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(seed) {
		t.Fatal("existing registration was overwritten")
	}
}

func TestEngineAStartBinaryMissing(t *testing.T) {
	a := NewEngineA(EngineAOptions{
		BinaryPath: func() (string, error) { return "/nonexistent/engine", nil },
		RunDir:     t.TempDir(),
		ProxyPort:  freePort(t),
	})
	err := a.Start(context.Background())
	var se *StartupError
	if !errors.As(err, &se) {
		t.Fatalf("Start = %v, want StartupError", err)
	}
	if IsTransient(err) {
		t.Fatal("startup failure must not be transient")
	}
	if a.Available() {
		t.Fatal("Available = true for missing binary")
	}
}

func TestEngineARegistrationFailure(t *testing.T) {
	a, _ := newTestEngineA(t, "register-fail")
	err := a.Start(context.Background())
	var se *StartupError
	if !errors.As(err, &se) {
		t.Fatalf("Start = %v, want StartupError", err)
	}
	if se.Op != "register" {
		t.Fatalf("op = %q, want register", se.Op)
	}
}

func TestEngineAStartProcessExitsEarly(t *testing.T) {
	a, _ := newTestEngineA(t, "exit")
	// Pre-seed the registration so Start goes straight to the proxy run.
	if err := os.MkdirAll(filepath.Dir(a.configPath()), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(a.configPath(), []byte(`{}`), 0o600); err != nil {
		t.Fatal(err)
	}

	err := a.Start(context.Background())
	var se *StartupError
	if !errors.As(err, &se) {
		t.Fatalf("Start = %v, want StartupError", err)
	}
}

func TestEngineARotateResetsRegistration(t *testing.T) {
	a, _ := newTestEngineA(t, "ok")
	if err := os.MkdirAll(filepath.Dir(a.configPath()), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(a.configPath(), []byte(`{}`), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := a.Rotate(context.Background())
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if !out.RequiresReconnect {
		t.Fatal("RequiresReconnect = false, want true")
	}
	if _, err := os.Stat(a.configPath()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("registration still present after rotate: %v", err)
	}
}

func TestEngineAStopIdempotent(t *testing.T) {
	a, _ := newTestEngineA(t, "ok")
	ctx := context.Background()
	if err := a.Stop(ctx); err != nil {
		t.Fatalf("Stop on idle adapter: %v", err)
	}
	if err := a.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
