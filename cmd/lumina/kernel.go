package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newKernelCommand() *cobra.Command {
	kernelCmd := &cobra.Command{
		Use:           "kernel",
		Short:         "Manage versioned tunnel engine binaries",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	kernelListCmd := &cobra.Command{
		Use:           "list",
		Short:         "List installed engine versions",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          kernelList,
	}

	kernelCheckCmd := &cobra.Command{
		Use:           "check-update",
		Short:         "Check the release feed for a newer engine build",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          kernelCheckUpdate,
	}

	kernelUpdateCmd := &cobra.Command{
		Use:           "update",
		Short:         "Install and activate the latest engine build",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          kernelUpdate,
	}

	kernelActivateCmd := &cobra.Command{
		Use:           "activate <version>",
		Short:         "Install (if needed) and activate a specific version",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          kernelActivate,
	}

	kernelCmd.AddCommand(kernelListCmd, kernelCheckCmd, kernelUpdateCmd, kernelActivateCmd)
	return kernelCmd
}

func kernelList(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	c, err := newAuthedClient()
	if err != nil {
		return out.Error("Failed to connect to daemon", err)
	}

	ctx, cancel := commandContext()
	defer cancel()

	list, err := c.KernelVersions(ctx)
	if err != nil {
		return out.Error("Failed to list engine versions", err)
	}

	if out.jsonMode {
		return out.Print(list)
	}

	if len(list.Versions) == 0 {
		fmt.Println("No engine versions installed")
		return nil
	}

	fmt.Printf("Installed versions (%s):\n", list.Backend)
	for _, v := range list.Versions {
		marker := " "
		if v.Active {
			marker = "*"
		}
		fmt.Printf("  %s %s\n", marker, v.Version)
	}
	if list.Latest != "" {
		if list.UpdateAvailable {
			fmt.Printf("Latest release: %s (update available)\n", list.Latest)
		} else {
			fmt.Printf("Latest release: %s\n", list.Latest)
		}
	}
	return nil
}

func kernelCheckUpdate(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	c, err := newAuthedClient()
	if err != nil {
		return out.Error("Failed to connect to daemon", err)
	}

	ctx, cancel := commandContext()
	defer cancel()

	info, err := c.KernelCheckUpdate(ctx)
	if err != nil {
		return out.Error("Failed to check for updates", err)
	}

	if out.jsonMode {
		return out.Print(info)
	}

	if info.Latest == "" {
		fmt.Println("No release available for this platform")
		return nil
	}
	fmt.Printf("Latest release: %s\n", info.Latest)
	if info.Active != "" {
		fmt.Printf("Active version: %s\n", info.Active)
	}
	if info.UpdateAvailable {
		fmt.Println("An update is available; run 'lumina kernel update'")
	} else {
		fmt.Println("Already up to date")
	}
	return nil
}

func kernelUpdate(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	c, err := newAuthedClient()
	if err != nil {
		return out.Error("Failed to connect to daemon", err)
	}

	ctx, cancel := longCommandContext()
	defer cancel()

	result, err := c.KernelUpdate(ctx)
	if err != nil {
		return out.Error("Failed to update engine", err)
	}

	if out.jsonMode {
		return out.Print(result)
	}

	switch result.Status {
	case "up_to_date":
		fmt.Printf("Already up to date (%s)\n", result.Version)
	default:
		fmt.Printf("Updated to %s\n", result.Version)
	}
	return nil
}

func kernelActivate(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	c, err := newAuthedClient()
	if err != nil {
		return out.Error("Failed to connect to daemon", err)
	}

	ctx, cancel := longCommandContext()
	defer cancel()

	result, err := c.KernelActivate(ctx, args[0])
	if err != nil {
		return out.Error("Failed to activate version", err)
	}

	if out.jsonMode {
		return out.Print(result)
	}
	fmt.Printf("Activated %s\n", result.Version)
	return nil
}
