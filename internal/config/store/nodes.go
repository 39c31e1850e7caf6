package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	storecrypto "github.com/lumina-panel/lumina/internal/config/store/crypto"
)

// ListNodes returns all federation registry records, local row first,
// remotes ordered by creation time.
func (s *Store) ListNodes(ctx context.Context) ([]Node, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, name, base_url, token, enabled, is_local, created_at, updated_at
        FROM nodes
        WHERE instance_name = ?
        ORDER BY is_local DESC, created_at ASC
    `, s.instanceName)
	if err != nil {
		return nil, fmt.Errorf("config: list nodes: %w", err)
	}

	nodes, err := scanList(rows, s.scanNode, "config: scan node row", "config: iterate node rows")
	if err != nil {
		return nil, err
	}
	return nodes, nil
}

// GetNode returns one registry record by id.
func (s *Store) GetNode(ctx context.Context, id string) (Node, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, name, base_url, token, enabled, is_local, created_at, updated_at
        FROM nodes
        WHERE instance_name = ? AND id = ?
    `, s.instanceName, id)

	node, err := s.scanNode(row)
	if err == sql.ErrNoRows {
		return Node{}, NotFoundError{Entity: "node", Key: id}
	}
	if err != nil {
		return Node{}, fmt.Errorf("config: get node %s: %w", id, err)
	}
	return node, nil
}

// AddNode inserts a remote registry record. Inserting a second local record
// is rejected; the local row is seeded at open and owned by the store.
func (s *Store) AddNode(ctx context.Context, node Node) error {
	if s.readOnly {
		return fmt.Errorf("config: add node: store opened read-only")
	}
	if node.IsLocal {
		return fmt.Errorf("config: add node: the local record is seeded automatically")
	}

	token, err := s.sealToken(node.Token)
	if err != nil {
		return fmt.Errorf("config: add node %s: %w", node.ID, err)
	}

	if _, err := s.db.ExecContext(ctx, `
        INSERT INTO nodes (id, instance_name, name, base_url, token, enabled, is_local, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, 0, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
    `, node.ID, s.instanceName, node.Name, node.BaseURL, token, boolToInt(node.Enabled)); err != nil {
		return fmt.Errorf("config: insert node %s: %w", node.ID, err)
	}
	return nil
}

// NodeUpdate carries partial changes for UpdateNode; nil fields are left as-is.
type NodeUpdate struct {
	Name    *string
	BaseURL *string
	Token   *string
	Enabled *bool
}

// UpdateNode applies a partial update. For the local record only the name
// may change; base_url/token/enabled updates against it are rejected.
func (s *Store) UpdateNode(ctx context.Context, id string, upd NodeUpdate) error {
	if s.readOnly {
		return fmt.Errorf("config: update node: store opened read-only")
	}

	current, err := s.GetNode(ctx, id)
	if err != nil {
		return err
	}
	if current.IsLocal && (upd.BaseURL != nil || upd.Token != nil || upd.Enabled != nil) {
		return fmt.Errorf("config: update node %s: only the name of the local record may change", id)
	}

	assignments := []string{"updated_at = CURRENT_TIMESTAMP"}
	args := []any{}

	if upd.Name != nil {
		assignments = append(assignments, "name = ?")
		args = append(args, *upd.Name)
	}
	if upd.BaseURL != nil {
		assignments = append(assignments, "base_url = ?")
		args = append(args, *upd.BaseURL)
	}
	if upd.Token != nil {
		token, err := s.sealToken(*upd.Token)
		if err != nil {
			return fmt.Errorf("config: update node %s: %w", id, err)
		}
		assignments = append(assignments, "token = ?")
		args = append(args, token)
	}
	if upd.Enabled != nil {
		assignments = append(assignments, "enabled = ?")
		args = append(args, boolToInt(*upd.Enabled))
	}

	query := fmt.Sprintf(`UPDATE nodes SET %s WHERE instance_name = ? AND id = ?`,
		strings.Join(assignments, ", "))
	args = append(args, s.instanceName, id)

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("config: update node %s: %w", id, err)
	}
	return nil
}

// DeleteNode removes a remote registry record. The local record is never
// deletable.
func (s *Store) DeleteNode(ctx context.Context, id string) error {
	if s.readOnly {
		return fmt.Errorf("config: delete node: store opened read-only")
	}

	res, err := s.db.ExecContext(ctx, `
        DELETE FROM nodes WHERE instance_name = ? AND id = ? AND is_local = 0
    `, s.instanceName, id)
	if err != nil {
		return fmt.Errorf("config: delete node %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("config: delete node %s: %w", id, err)
	}
	if affected == 0 {
		node, getErr := s.GetNode(ctx, id)
		if getErr != nil {
			return getErr
		}
		if node.IsLocal {
			return fmt.Errorf("config: delete node %s: the local record cannot be deleted", id)
		}
		return NotFoundError{Entity: "node", Key: id}
	}
	return nil
}

// sealToken encrypts a node token for storage. Empty tokens pass through so
// "no token configured" stays distinguishable.
func (s *Store) sealToken(token string) (string, error) {
	if token == "" || s.encryptionKey == nil {
		return token, nil
	}
	return storecrypto.EncryptValue(s.encryptionKey, token)
}

// openToken decrypts a stored node token. Values without the encryption
// prefix predate at-rest encryption and are returned verbatim; they are
// re-encrypted on the next write.
func (s *Store) openToken(stored string) (string, error) {
	if !storecrypto.IsEncrypted(stored) {
		return stored, nil
	}
	if s.encryptionKey == nil {
		return "", fmt.Errorf("token is encrypted but no decryption key is available")
	}
	return storecrypto.DecryptValue(s.encryptionKey, stored)
}

func (s *Store) scanNode(scanner rowScanner) (Node, error) {
	var (
		node             Node
		enabled, isLocal int
	)
	if err := scanner.Scan(
		&node.ID,
		&node.Name,
		&node.BaseURL,
		&node.Token,
		&enabled,
		&isLocal,
		&node.CreatedAt,
		&node.UpdatedAt,
	); err != nil {
		return Node{}, err
	}
	node.Enabled = enabled != 0
	node.IsLocal = isLocal != 0

	token, err := s.openToken(node.Token)
	if err != nil {
		return Node{}, fmt.Errorf("node %s: %w", node.ID, err)
	}
	node.Token = token
	return node, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
