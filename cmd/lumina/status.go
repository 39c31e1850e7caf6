package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lumina-panel/lumina/internal/conn"
)

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "status",
		Short:         "Show the current connection status",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runStatus,
	}
}

func newConnectCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "connect",
		Short:         "Bring the tunnel up",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runConnect,
	}
}

func newDisconnectCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "disconnect",
		Short:         "Tear the tunnel down",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runDisconnect,
	}
}

func newRotateCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "rotate",
		Short:         "Request a fresh egress identity",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runRotate,
	}
}

func newResetCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "reset",
		Short:         "Clear a stuck error state",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runReset,
	}
}

func newBackendCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "backend <engine_a|engine_b>",
		Short:         "Switch the active tunnel engine",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runBackendSwitch,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	c, err := newAuthedClient()
	if err != nil {
		return out.Error("Failed to connect to daemon", err)
	}

	ctx, cancel := commandContext()
	defer cancel()

	status, err := c.Status(ctx)
	if err != nil {
		return out.Error("Failed to fetch status", err)
	}

	if out.jsonMode {
		return out.Print(status)
	}
	printStatus(status)
	return nil
}

func runConnect(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	c, err := newAuthedClient()
	if err != nil {
		return out.Error("Failed to connect to daemon", err)
	}

	// Connect blocks through the readiness poll, so allow the daemon's
	// full budget plus engine startup before giving up.
	ctx, cancel := longCommandContext()
	defer cancel()

	status, err := c.Connect(ctx)
	if err != nil {
		return out.Error("Failed to connect", err)
	}

	if out.jsonMode {
		return out.Print(status)
	}
	printStatus(status)
	return nil
}

func runDisconnect(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	c, err := newAuthedClient()
	if err != nil {
		return out.Error("Failed to connect to daemon", err)
	}

	ctx, cancel := commandContext()
	defer cancel()

	status, err := c.Disconnect(ctx)
	if err != nil {
		return out.Error("Failed to disconnect", err)
	}

	if out.jsonMode {
		return out.Print(status)
	}
	printStatus(status)
	return nil
}

func runRotate(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	c, err := newAuthedClient()
	if err != nil {
		return out.Error("Failed to connect to daemon", err)
	}

	ctx, cancel := longCommandContext()
	defer cancel()

	result, err := c.Rotate(ctx)
	if err != nil {
		return out.Error("Failed to rotate identity", err)
	}

	if out.jsonMode {
		return out.Print(result)
	}

	if result.Reconnected {
		fmt.Println("Identity rotated (connection was re-established)")
	} else {
		fmt.Println("Identity rotated in place")
	}
	if result.Detail != "" {
		fmt.Printf("  %s\n", result.Detail)
	}
	return nil
}

func runReset(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	c, err := newAuthedClient()
	if err != nil {
		return out.Error("Failed to connect to daemon", err)
	}

	ctx, cancel := commandContext()
	defer cancel()

	status, err := c.Reset(ctx)
	if err != nil {
		return out.Error("Failed to reset error state", err)
	}

	if out.jsonMode {
		return out.Print(status)
	}
	printStatus(status)
	return nil
}

func runBackendSwitch(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	c, err := newAuthedClient()
	if err != nil {
		return out.Error("Failed to connect to daemon", err)
	}

	ctx, cancel := longCommandContext()
	defer cancel()

	status, err := c.SwitchBackend(ctx, args[0])
	if err != nil {
		return out.Error("Failed to switch backend", err)
	}

	if out.jsonMode {
		return out.Print(status)
	}
	printStatus(status)
	return nil
}

func printStatus(status conn.Status) {
	fmt.Printf("State:    %s\n", status.State)
	fmt.Printf("Backend:  %s\n", status.Backend)
	if status.ProxyAddress != "" {
		fmt.Printf("Proxy:    %s\n", status.ProxyAddress)
	}
	if !status.Since.IsZero() {
		fmt.Printf("Since:    %s (%s ago)\n",
			status.Since.Format(time.RFC3339),
			time.Since(status.Since).Round(time.Second))
	}
	if status.ExitIP != nil {
		line := status.ExitIP.IP
		if status.ExitIP.Country != "" {
			line += " (" + status.ExitIP.Country
			if status.ExitIP.City != "" {
				line += ", " + status.ExitIP.City
			}
			line += ")"
		}
		fmt.Printf("Exit IP:  %s\n", line)
	}
	if status.LastError != "" {
		fmt.Printf("Error:    %s\n", status.LastError)
	}
	if len(status.AvailableBackends) > 0 {
		fmt.Println("Backends:")
		for _, b := range status.AvailableBackends {
			marker := " "
			if b.Active {
				marker = "*"
			}
			availability := "available"
			if !b.Available {
				availability = "unavailable"
			}
			fmt.Printf("  %s %s (%s)\n", marker, b.ID, availability)
		}
	}
}
