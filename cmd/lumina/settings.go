package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lumina-panel/lumina/internal/client"
)

func newSettingsCommand() *cobra.Command {
	settingsCmd := &cobra.Command{
		Use:           "settings",
		Short:         "Show or update daemon settings",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runSettings,
	}
	settingsCmd.Flags().Int("proxy-port", 0, "Set the local SOCKS proxy port")
	settingsCmd.Flags().Int("panel-port", 0, "Set the HTTP API port")
	settingsCmd.Flags().String("binding", "", "Set the API binding (loopback|lan|public)")
	settingsCmd.Flags().String("endpoint", "", "Set a custom tunnel endpoint (host:port, empty to clear)")
	settingsCmd.Flags().Bool("tls", false, "Enable or disable TLS for the API")
	settingsCmd.Flags().String("tls-cert", "", "Set the TLS certificate path")
	settingsCmd.Flags().String("tls-key", "", "Set the TLS key path")
	settingsCmd.Flags().String("allowed-origins", "", "Set allowed browser origins (comma separated)")
	return settingsCmd
}

func runSettings(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	flags := cmd.Flags()

	c, err := newAuthedClient()
	if err != nil {
		return out.Error("Failed to connect to daemon", err)
	}

	var update client.SettingsUpdate
	changed := false
	if flags.Changed("proxy-port") {
		port, _ := flags.GetInt("proxy-port")
		update.ProxyPort = &port
		changed = true
	}
	if flags.Changed("panel-port") {
		port, _ := flags.GetInt("panel-port")
		update.PanelPort = &port
		changed = true
	}
	if flags.Changed("binding") {
		binding, _ := flags.GetString("binding")
		update.PanelBinding = &binding
		changed = true
	}
	if flags.Changed("endpoint") {
		endpoint, _ := flags.GetString("endpoint")
		update.CustomEndpoint = &endpoint
		changed = true
	}
	if flags.Changed("tls") {
		enabled, _ := flags.GetBool("tls")
		update.TLSEnabled = &enabled
		changed = true
	}
	if flags.Changed("tls-cert") {
		path, _ := flags.GetString("tls-cert")
		update.TLSCertPath = &path
		changed = true
	}
	if flags.Changed("tls-key") {
		path, _ := flags.GetString("tls-key")
		update.TLSKeyPath = &path
		changed = true
	}
	if flags.Changed("allowed-origins") {
		origins, _ := flags.GetString("allowed-origins")
		update.AllowedOrigins = &origins
		changed = true
	}

	ctx, cancel := commandContext()
	defer cancel()

	if changed {
		result, err := c.UpdateSettings(ctx, update)
		if err != nil {
			return out.Error("Failed to update settings", err)
		}
		if out.jsonMode {
			return out.Print(result)
		}
		printSettings(result.Settings)
		if result.RestartRequired {
			fmt.Println("\nRestart the daemon for transport changes to take effect.")
		}
		if result.ReconnectRequired {
			fmt.Println("\nReconnect the tunnel for proxy/endpoint changes to take effect.")
		}
		return nil
	}

	settings, err := c.Settings(ctx)
	if err != nil {
		return out.Error("Failed to fetch settings", err)
	}

	if out.jsonMode {
		return out.Print(settings)
	}
	printSettings(settings)
	return nil
}

func printSettings(settings client.Settings) {
	fmt.Println("Daemon settings:")
	fmt.Printf("  Proxy port:      %d\n", settings.ProxyPort)
	fmt.Printf("  Panel port:      %d\n", settings.PanelPort)
	fmt.Printf("  Panel binding:   %s\n", settings.PanelBinding)
	if settings.CustomEndpoint != "" {
		fmt.Printf("  Custom endpoint: %s\n", settings.CustomEndpoint)
	}
	fmt.Printf("  TLS enabled:     %v\n", settings.TLSEnabled)
	if settings.TLSCertPath != "" {
		fmt.Printf("  TLS cert:        %s\n", settings.TLSCertPath)
	}
	if settings.TLSKeyPath != "" {
		fmt.Printf("  TLS key:         %s\n", settings.TLSKeyPath)
	}
	if settings.AllowedOrigins != "" {
		fmt.Printf("  Allowed origins: %s\n", settings.AllowedOrigins)
	}
}
