package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lumina-panel/lumina/internal/client"
	"github.com/lumina-panel/lumina/internal/version"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show client and daemon versions",
		RunE:  runVersion,
	}
}

func runVersion(cmd *cobra.Command, _ []string) error {
	out := newOutputFormatter(cmd)
	clientVersion := version.String()

	var daemonVersion string
	var daemonReachable bool
	var daemonErr error

	if c, err := client.New(); err == nil && c.Token() != "" {
		ctx, cancel := commandContext()
		defer cancel()
		if status, statusErr := c.DaemonStatus(ctx); statusErr == nil {
			daemonReachable = true
			daemonVersion = status.Version
		} else {
			daemonErr = statusErr
		}
	} else if err != nil {
		daemonErr = err
	}

	if out.jsonMode {
		data := map[string]interface{}{
			"client": clientVersion,
		}
		if daemonReachable {
			data["daemon"] = daemonVersion
			if w := version.CheckVersionMismatch(daemonVersion); w != "" {
				data["mismatch"] = true
				data["warning"] = w
			}
		} else if daemonErr != nil {
			data["daemon_error"] = daemonErr.Error()
		}
		return out.Print(data)
	}

	fmt.Printf("Client: %s\n", clientVersion)
	if daemonReachable {
		fmt.Printf("Daemon: %s\n", daemonVersion)
		if w := version.CheckVersionMismatch(daemonVersion); w != "" {
			fmt.Println(w)
		}
	} else {
		fmt.Println("Daemon: unreachable")
	}
	return nil
}
