package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/lumina-panel/lumina/internal/client"
)

func newLoginCommand() *cobra.Command {
	loginCmd := &cobra.Command{
		Use:           "login",
		Short:         "Authenticate against the daemon and store a session token",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runLogin,
	}
	loginCmd.Flags().String("password", "", "Admin password (prompted when omitted)")
	return loginCmd
}

func newLogoutCommand() *cobra.Command {
	logoutCmd := &cobra.Command{
		Use:           "logout",
		Short:         "Revoke the stored session token",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runLogout,
	}
	logoutCmd.Flags().Bool("all", false, "Revoke every session, not just this one")
	logoutCmd.Flags().Bool("keep-current", false, "With --all, keep this session signed in")
	return logoutCmd
}

func newPasswordCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "password",
		Short:         "Change the admin password (revokes other sessions)",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runChangePassword,
	}
}

func runLogin(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	c, err := client.New()
	if err != nil {
		return out.Error("Failed to connect to daemon", err)
	}

	ctx, cancel := commandContext()
	defer cancel()

	initialized, err := c.AuthStatus(ctx)
	if err != nil {
		return out.Error("Failed to query auth status", err)
	}

	password, _ := cmd.Flags().GetString("password")
	if password == "" {
		prompt := "Password: "
		if !initialized {
			prompt = "Set admin password: "
		}
		password, err = promptPassword(prompt)
		if err != nil {
			return out.Error("Failed to read password", err)
		}
	}
	if strings.TrimSpace(password) == "" {
		return out.Error("Password must not be empty", nil)
	}

	var token string
	if initialized {
		token, err = c.Login(ctx, password)
	} else {
		token, err = c.Setup(ctx, password)
	}
	if err != nil {
		return out.Error("Authentication failed", err)
	}

	if err := client.SaveToken(token); err != nil {
		return out.Error("Failed to store session token", err)
	}

	message := "Logged in"
	if !initialized {
		message = "Admin password configured and session started"
	}
	return out.Success(message, map[string]interface{}{
		"initialized": true,
	})
}

func runLogout(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	all, _ := cmd.Flags().GetBool("all")
	keepCurrent, _ := cmd.Flags().GetBool("keep-current")
	if keepCurrent && !all {
		return out.Error("--keep-current requires --all", nil)
	}

	c, err := newAuthedClient()
	if err != nil {
		return out.Error("Failed to connect to daemon", err)
	}

	ctx, cancel := commandContext()
	defer cancel()

	if all {
		err = c.LogoutAll(ctx, keepCurrent)
	} else {
		err = c.Logout(ctx)
	}
	if err != nil {
		return out.Error("Failed to log out", err)
	}

	if all && keepCurrent {
		return out.Success("Other sessions revoked", nil)
	}

	if err := client.ClearToken(); err != nil {
		return out.Error("Session revoked but token file could not be removed", err)
	}

	message := "Logged out"
	if all {
		message = "All sessions revoked"
	}
	return out.Success(message, nil)
}

func runChangePassword(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	c, err := newAuthedClient()
	if err != nil {
		return out.Error("Failed to connect to daemon", err)
	}

	current, err := promptPassword("Current password: ")
	if err != nil {
		return out.Error("Failed to read password", err)
	}
	next, err := promptPassword("New password: ")
	if err != nil {
		return out.Error("Failed to read password", err)
	}
	confirm, err := promptPassword("Repeat new password: ")
	if err != nil {
		return out.Error("Failed to read password", err)
	}
	if next != confirm {
		return out.Error("New passwords do not match", nil)
	}

	ctx, cancel := commandContext()
	defer cancel()

	if err := c.ChangePassword(ctx, current, next); err != nil {
		return out.Error("Failed to change password", err)
	}

	return out.Success("Password changed; other sessions were revoked", nil)
}

func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("stdin is not a terminal")
	}
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
