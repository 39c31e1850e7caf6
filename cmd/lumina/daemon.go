package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lumina-panel/lumina/internal/client"
	"github.com/lumina-panel/lumina/internal/config"
	"github.com/lumina-panel/lumina/internal/procutil"
)

func newDaemonCommand() *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:           "daemon",
		Short:         "Daemon management commands",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	daemonStatusCmd := &cobra.Command{
		Use:           "status",
		Short:         "Get daemon status",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          daemonStatus,
	}

	daemonStopCmd := &cobra.Command{
		Use:           "stop",
		Short:         "Stop the daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          daemonStop,
	}

	daemonCmd.AddCommand(daemonStatusCmd, daemonStopCmd)
	return daemonCmd
}

// daemonStatus gets the daemon status
func daemonStatus(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	c, err := newAuthedClient()
	if err != nil {
		return out.Error("Failed to connect to daemon", err)
	}

	ctx, cancel := commandContext()
	defer cancel()

	status, err := c.DaemonStatus(ctx)
	if err != nil {
		return out.Error("Failed to fetch daemon status", err)
	}

	if out.jsonMode {
		return out.Print(status)
	}

	fmt.Println("Daemon Status:")
	fmt.Printf("  Version: %s\n", status.Version)
	fmt.Printf("  Port: %d\n", status.Port)
	fmt.Printf("  Binding: %s\n", status.Binding)
	fmt.Printf("  WebSocket clients: %d\n", status.WSClients)
	if status.TLSEnabled {
		fmt.Println("  TLS: enabled")
	}
	if status.Uptime > 0 {
		fmt.Printf("  Uptime: %.0f seconds\n", status.Uptime)
	}
	return nil
}

// daemonStop asks the daemon to exit via the API, falling back to a
// termination signal when the API is unreachable.
func daemonStop(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	var (
		apiErr      error
		apiAttempt  bool
		apiFallback bool
	)

	if c, err := newAuthedClient(); err == nil {
		apiAttempt = true
		ctx, cancel := commandContext()
		defer cancel()
		if err := c.ShutdownDaemon(ctx); err == nil {
			return out.Success("Shutdown request sent to daemon", map[string]interface{}{
				"method": "api",
			})
		} else {
			apiErr = err
			if strings.Contains(strings.ToLower(err.Error()), "unauthorized") {
				return out.Error("Daemon shutdown requires a valid session", err)
			}
			if errors.Is(err, client.ErrShutdownUnavailable) {
				apiFallback = true
			}
		}
	} else {
		apiErr = err
	}

	paths := config.GetInstancePaths("")
	data, err := os.ReadFile(paths.Lock)
	if err != nil {
		if apiAttempt {
			return out.Error("Failed to stop daemon via API and local fallback", fmt.Errorf("%v; %w", apiErr, err))
		}
		return out.Error("Failed to read daemon PID", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return out.Error("Invalid daemon PID file", err)
	}

	if err := procutil.TerminateByPID(pid); err != nil {
		return out.Error("Failed to signal daemon", err)
	}

	return out.Success("Sent termination signal to daemon", map[string]interface{}{
		"pid":          pid,
		"method":       "signal",
		"api_fallback": apiFallback || apiErr != nil,
	})
}
