package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lumina-panel/lumina/internal/client"
	"github.com/lumina-panel/lumina/internal/eventhub"
)

func newLogsCommand() *cobra.Command {
	logsCmd := &cobra.Command{
		Use:           "logs",
		Short:         "Show recent daemon events",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runLogs,
	}
	logsCmd.Flags().Uint64("since", 0, "Only show events newer than this id")
	logsCmd.Flags().Int("limit", 100, "Maximum number of events")
	logsCmd.Flags().BoolP("follow", "f", false, "Stream new events as they happen")
	return logsCmd
}

func runLogs(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	sinceID, _ := cmd.Flags().GetUint64("since")
	limit, _ := cmd.Flags().GetInt("limit")
	follow, _ := cmd.Flags().GetBool("follow")

	c, err := newAuthedClient()
	if err != nil {
		return out.Error("Failed to connect to daemon", err)
	}

	ctx, cancel := commandContext()
	defer cancel()

	page, err := c.Logs(ctx, sinceID, limit)
	if err != nil {
		return out.Error("Failed to fetch logs", err)
	}

	if out.jsonMode && !follow {
		return out.Print(page)
	}

	if page.Dropped {
		fmt.Fprintln(os.Stderr, "(older events were evicted from the buffer)")
	}
	for _, ev := range page.Events {
		printEvent(out, ev)
	}

	if !follow {
		return nil
	}
	return followLogs(out, c, page.LatestID)
}

// followLogs streams events over the WebSocket status channel until
// interrupted.
func followLogs(out *OutputFormatter, c *client.Client, sinceID uint64) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := c.WatchStatus(ctx, sinceID)
	if err != nil {
		return out.Error("Failed to open status stream", err)
	}
	defer stream.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		<-sigChan
		stream.Close()
	}()

	for {
		frame, err := stream.Next()
		if err != nil {
			// Closed by the interrupt handler or the daemon going away.
			return nil
		}
		if frame.Type != "log" {
			continue
		}
		var ev eventhub.Event
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			continue
		}
		printEvent(out, ev)
	}
}

func printEvent(out *OutputFormatter, ev eventhub.Event) {
	if out.jsonMode {
		out.Print(ev)
		return
	}
	fmt.Printf("%s  %-5s  [%s] %s\n",
		ev.Timestamp.Format("2006-01-02 15:04:05"),
		ev.Level, ev.Source, ev.Message)
}
