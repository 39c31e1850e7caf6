package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	storecrypto "github.com/lumina-panel/lumina/internal/config/store/crypto"
	"github.com/lumina-panel/lumina/internal/constants"
)

func TestSecuritySettingsRoundTrip(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveSecuritySettings(ctx, map[string]string{
		constants.SecurityPanelPassword: "$2a$10$fakehashvalue",
	}); err != nil {
		t.Fatalf("save security settings: %v", err)
	}

	loaded, err := s.LoadSecuritySettings(ctx, constants.SecurityPanelPassword)
	if err != nil {
		t.Fatalf("load security settings: %v", err)
	}
	if loaded[constants.SecurityPanelPassword] != "$2a$10$fakehashvalue" {
		t.Fatalf("round trip mismatch: %q", loaded[constants.SecurityPanelPassword])
	}
}

func TestSecuritySettingsEncryptedAtRest(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveSecuritySettings(ctx, map[string]string{
		constants.SecurityPanelPassword: "plain-secret",
	}); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Bypass the decrypting accessor and read the raw stored value.
	var raw string
	err := s.DB().QueryRowContext(ctx, `
        SELECT value FROM security_settings WHERE instance_name = ? AND key = ?
    `, s.InstanceName(), constants.SecurityPanelPassword).Scan(&raw)
	if err != nil {
		t.Fatalf("raw read: %v", err)
	}

	if !storecrypto.IsEncrypted(raw) {
		t.Fatalf("stored value is not encrypted: %q", raw)
	}
	if raw == "plain-secret" {
		t.Fatal("secret stored in plaintext")
	}
}

func TestDeleteSecuritySettingIdempotent(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveSecuritySettings(ctx, map[string]string{"temp.secret": "v"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.DeleteSecuritySetting(ctx, "temp.secret"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	// A second delete of a missing key is not an error.
	if err := s.DeleteSecuritySetting(ctx, "temp.secret"); err != nil {
		t.Fatalf("repeat delete: %v", err)
	}

	loaded, err := s.LoadSecuritySettings(ctx, "temp.secret")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("expected no entries after delete, got %v", loaded)
	}
}

func TestSecuritySettingsSurviveReopen(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "config.db")
	ctx := context.Background()

	s, err := Open(Options{DBPath: dbPath})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.SaveSecuritySettings(ctx, map[string]string{"durable": "secret-value"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	s.Close()

	// Reopen picks up the key file next to the DB and decrypts.
	reopened, err := Open(Options{DBPath: dbPath})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	loaded, err := reopened.LoadSecuritySettings(ctx, "durable")
	if err != nil {
		t.Fatalf("load after reopen: %v", err)
	}
	if loaded["durable"] != "secret-value" {
		t.Fatalf("expected secret to survive reopen, got %q", loaded["durable"])
	}
}

func TestOpenRefusesWhenKeyMissingAndEncryptedRowsExist(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "config.db")
	ctx := context.Background()

	s, err := Open(Options{DBPath: dbPath})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.SaveSecuritySettings(ctx, map[string]string{"k": "v"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	s.Close()

	// Simulate a lost key file: encrypted rows remain but the key is gone.
	keyPath := storecrypto.KeyPath(dbPath)
	if err := os.Remove(keyPath); err != nil {
		t.Fatalf("remove key: %v", err)
	}

	if _, err := Open(Options{DBPath: dbPath}); err == nil {
		t.Fatal("expected Open to fail when encrypted values exist without a key")
	}
}
