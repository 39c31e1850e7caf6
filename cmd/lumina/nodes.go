package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lumina-panel/lumina/internal/client"
	"github.com/lumina-panel/lumina/internal/nodes"
)

func newNodesCommand() *cobra.Command {
	nodesCmd := &cobra.Command{
		Use:           "nodes",
		Short:         "Manage federated Lumina instances",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	nodesListCmd := &cobra.Command{
		Use:           "list",
		Short:         "List registered nodes",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          nodesList,
	}

	nodesOverviewCmd := &cobra.Command{
		Use:           "overview",
		Short:         "Show every node with its live connection status",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          nodesOverview,
	}

	nodesAddCmd := &cobra.Command{
		Use:           "add",
		Short:         "Register a remote node",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          nodesAdd,
	}
	nodesAddCmd.Flags().String("name", "", "Display name for the node")
	nodesAddCmd.Flags().String("url", "", "Base URL of the remote daemon (e.g. https://host:7801)")
	nodesAddCmd.Flags().String("token", "", "API token for the remote daemon")

	nodesUpdateCmd := &cobra.Command{
		Use:           "update <node-id>",
		Short:         "Update a node's registration",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          nodesUpdate,
	}
	nodesUpdateCmd.Flags().String("name", "", "New display name")
	nodesUpdateCmd.Flags().String("url", "", "New base URL")
	nodesUpdateCmd.Flags().String("token", "", "New API token")
	nodesUpdateCmd.Flags().Bool("enabled", true, "Enable or disable the node")

	nodesRemoveCmd := &cobra.Command{
		Use:           "remove <node-id>",
		Short:         "Remove a node from the registry",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          nodesRemove,
	}

	nodesConnectCmd := &cobra.Command{
		Use:           "connect <node-id>",
		Short:         "Bring a node's tunnel up",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          makeNodeActionRunner("connect", nil),
	}

	nodesDisconnectCmd := &cobra.Command{
		Use:           "disconnect <node-id>",
		Short:         "Tear a node's tunnel down",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          makeNodeActionRunner("disconnect", nil),
	}

	nodesBackendCmd := &cobra.Command{
		Use:           "backend <node-id> <engine_a|engine_b>",
		Short:         "Switch a node's tunnel engine",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          nodesBackend,
	}

	nodesCmd.AddCommand(
		nodesListCmd, nodesOverviewCmd, nodesAddCmd, nodesUpdateCmd,
		nodesRemoveCmd, nodesConnectCmd, nodesDisconnectCmd, nodesBackendCmd,
	)
	return nodesCmd
}

func nodesList(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	c, err := newAuthedClient()
	if err != nil {
		return out.Error("Failed to connect to daemon", err)
	}

	ctx, cancel := commandContext()
	defer cancel()

	views, err := c.Nodes(ctx)
	if err != nil {
		return out.Error("Failed to list nodes", err)
	}

	if out.jsonMode {
		return out.Print(map[string]interface{}{"nodes": views})
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tURL\tENABLED\tTOKEN")
	for _, view := range views {
		url := view.BaseURL
		if view.IsLocal {
			url = "(local)"
		}
		token := "-"
		if view.TokenConfigured {
			token = "configured"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\n", view.ID, view.Name, url, view.Enabled, token)
	}
	return w.Flush()
}

func nodesOverview(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	c, err := newAuthedClient()
	if err != nil {
		return out.Error("Failed to connect to daemon", err)
	}

	ctx, cancel := commandContext()
	defer cancel()

	overview, err := c.NodesOverview(ctx)
	if err != nil {
		return out.Error("Failed to fetch nodes overview", err)
	}

	if out.jsonMode {
		return out.Print(map[string]interface{}{"nodes": overview})
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATE\tBACKEND\tERROR")
	for _, node := range overview {
		state, backend := summarizeNodeStatus(node)
		errText := node.Error
		if errText == "" {
			errText = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", node.ID, node.Name, state, backend, errText)
	}
	return w.Flush()
}

func summarizeNodeStatus(node nodes.NodeOverview) (state, backend string) {
	state, backend = "unknown", "-"
	if len(node.Status) == 0 {
		return state, backend
	}
	var status struct {
		State   string `json:"state"`
		Backend string `json:"backend"`
	}
	if err := json.Unmarshal(node.Status, &status); err != nil {
		return state, backend
	}
	if status.State != "" {
		state = status.State
	}
	if status.Backend != "" {
		backend = status.Backend
	}
	return state, backend
}

func nodesAdd(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	name, _ := cmd.Flags().GetString("name")
	url, _ := cmd.Flags().GetString("url")
	token, _ := cmd.Flags().GetString("token")
	if name == "" || url == "" {
		return out.Error("--name and --url are required", nil)
	}

	c, err := newAuthedClient()
	if err != nil {
		return out.Error("Failed to connect to daemon", err)
	}

	ctx, cancel := commandContext()
	defer cancel()

	view, err := c.AddNode(ctx, client.AddNodeRequest{
		Name:    name,
		BaseURL: url,
		Token:   token,
	})
	if err != nil {
		return out.Error("Failed to add node", err)
	}

	return out.Success(fmt.Sprintf("Node %s registered", view.Name), map[string]interface{}{
		"id": view.ID,
	})
}

func nodesUpdate(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	flags := cmd.Flags()

	c, err := newAuthedClient()
	if err != nil {
		return out.Error("Failed to connect to daemon", err)
	}

	var req client.UpdateNodeRequest
	if flags.Changed("name") {
		name, _ := flags.GetString("name")
		req.Name = &name
	}
	if flags.Changed("url") {
		url, _ := flags.GetString("url")
		req.BaseURL = &url
	}
	if flags.Changed("token") {
		token, _ := flags.GetString("token")
		req.Token = &token
	}
	if flags.Changed("enabled") {
		enabled, _ := flags.GetBool("enabled")
		req.Enabled = &enabled
	}

	ctx, cancel := commandContext()
	defer cancel()

	view, err := c.UpdateNode(ctx, args[0], req)
	if err != nil {
		return out.Error("Failed to update node", err)
	}

	return out.Success(fmt.Sprintf("Node %s updated", view.Name), map[string]interface{}{
		"id": view.ID,
	})
}

func nodesRemove(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	c, err := newAuthedClient()
	if err != nil {
		return out.Error("Failed to connect to daemon", err)
	}

	ctx, cancel := commandContext()
	defer cancel()

	if err := c.DeleteNode(ctx, args[0]); err != nil {
		return out.Error("Failed to remove node", err)
	}

	return out.Success(fmt.Sprintf("Node %s removed", args[0]), nil)
}

func makeNodeActionRunner(action string, body interface{}) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return runNodeAction(cmd, args[0], action, body)
	}
}

func nodesBackend(cmd *cobra.Command, args []string) error {
	return runNodeAction(cmd, args[0], "backend", map[string]string{"backend": args[1]})
}

func runNodeAction(cmd *cobra.Command, nodeID, action string, body interface{}) error {
	out := newOutputFormatter(cmd)

	c, err := newAuthedClient()
	if err != nil {
		return out.Error("Failed to connect to daemon", err)
	}

	ctx, cancel := longCommandContext()
	defer cancel()

	raw, err := c.NodeAction(ctx, nodeID, action, body)
	if err != nil {
		return out.Error(fmt.Sprintf("Failed to %s node %s", action, nodeID), err)
	}

	if out.jsonMode {
		return out.Print(raw)
	}

	var status struct {
		State   string `json:"state"`
		Backend string `json:"backend"`
	}
	if err := json.Unmarshal(raw, &status); err == nil && status.State != "" {
		fmt.Printf("Node %s: %s (%s)\n", nodeID, status.State, status.Backend)
		return nil
	}
	fmt.Printf("Node %s: %s requested\n", nodeID, action)
	return nil
}
