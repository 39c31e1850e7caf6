package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lumina-panel/lumina/internal/constants"
)

// defaultSettings are seeded once at first open; existing values win.
var defaultSettings = map[string]string{
	constants.SettingProxyPort:      "40000",
	constants.SettingPanelPort:      "7801",
	constants.SettingPanelBinding:   "loopback",
	constants.SettingTLSEnabled:     "false",
	constants.SettingTLSCertPath:    "",
	constants.SettingTLSKeyPath:     "",
	constants.SettingActiveBackend:  constants.BackendEngineA,
	constants.SettingCustomEndpoint: "",
}

func seedDefaults(ctx context.Context, db *sql.DB, instanceName string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("config: begin seed transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO instances (name)
		VALUES (?)
		ON CONFLICT(name) DO UPDATE SET updated_at = CURRENT_TIMESTAMP
	`, instanceName); err != nil {
		tx.Rollback()
		return fmt.Errorf("config: seed instance: %w", err)
	}

	for key, value := range defaultSettings {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO settings (instance_name, key, value, updated_at)
			VALUES (?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(instance_name, key) DO NOTHING
		`, instanceName, key, value); err != nil {
			tx.Rollback()
			return fmt.Errorf("config: seed setting %s: %w", key, err)
		}
	}

	// The local node row anchors the federation overview. It is created once
	// and must never be deleted; updates may rename it only.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO nodes (id, instance_name, name, base_url, token, enabled, is_local, created_at, updated_at)
		VALUES (?, ?, 'Local', '', '', 1, 1, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO NOTHING
	`, constants.LocalNodeID, instanceName); err != nil {
		tx.Rollback()
		return fmt.Errorf("config: seed local node: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("config: commit seed transaction: %w", err)
	}

	return nil
}
