package store

import (
	"context"
	"strings"
	"testing"

	storecrypto "github.com/lumina-panel/lumina/internal/config/store/crypto"
	"github.com/lumina-panel/lumina/internal/constants"
)

func TestLocalNodeSeededAtOpen(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	local, err := s.GetNode(ctx, constants.LocalNodeID)
	if err != nil {
		t.Fatalf("get local node: %v", err)
	}
	if !local.IsLocal {
		t.Fatal("seeded node is not marked local")
	}
	if !local.Enabled {
		t.Fatal("seeded local node should be enabled")
	}
	if local.Name != "Local" {
		t.Fatalf("local node name = %q, want Local", local.Name)
	}
}

func TestAddAndGetNode(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	node := Node{
		ID:      "node-1",
		Name:    "Office",
		BaseURL: "https://office.example.com:7801",
		Token:   "write-only-secret",
		Enabled: true,
	}
	if err := s.AddNode(ctx, node); err != nil {
		t.Fatalf("add node: %v", err)
	}

	got, err := s.GetNode(ctx, "node-1")
	if err != nil {
		t.Fatalf("get node: %v", err)
	}
	if got.Name != "Office" || got.BaseURL != node.BaseURL {
		t.Fatalf("node mismatch: %+v", got)
	}
	if got.Token != "write-only-secret" {
		t.Fatalf("token round trip mismatch: %q", got.Token)
	}
	if got.IsLocal {
		t.Fatal("remote node marked local")
	}
}

func TestNodeTokenEncryptedAtRest(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	if err := s.AddNode(ctx, Node{ID: "n", Name: "N", Token: "topsecret", Enabled: true}); err != nil {
		t.Fatalf("add node: %v", err)
	}

	var raw string
	err := s.DB().QueryRowContext(ctx,
		`SELECT token FROM nodes WHERE id = ?`, "n").Scan(&raw)
	if err != nil {
		t.Fatalf("raw read: %v", err)
	}
	if !storecrypto.IsEncrypted(raw) {
		t.Fatalf("stored token is not encrypted: %q", raw)
	}
}

func TestAddNodeRejectsLocalFlag(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	if err := s.AddNode(context.Background(), Node{ID: "x", Name: "X", IsLocal: true}); err == nil {
		t.Fatal("expected AddNode to reject is_local records")
	}
}

func TestUpdateNodePartial(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	if err := s.AddNode(ctx, Node{ID: "n", Name: "Before", BaseURL: "https://a", Enabled: true}); err != nil {
		t.Fatalf("add node: %v", err)
	}

	name := "After"
	disabled := false
	if err := s.UpdateNode(ctx, "n", NodeUpdate{Name: &name, Enabled: &disabled}); err != nil {
		t.Fatalf("update node: %v", err)
	}

	got, err := s.GetNode(ctx, "n")
	if err != nil {
		t.Fatalf("get node: %v", err)
	}
	if got.Name != "After" {
		t.Errorf("name = %q, want After", got.Name)
	}
	if got.Enabled {
		t.Error("expected node to be disabled")
	}
	if got.BaseURL != "https://a" {
		t.Errorf("untouched base_url changed: %q", got.BaseURL)
	}
}

func TestLocalNodeOnlyNameUpdatable(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	name := "Headquarters"
	if err := s.UpdateNode(ctx, constants.LocalNodeID, NodeUpdate{Name: &name}); err != nil {
		t.Fatalf("rename local node: %v", err)
	}

	got, err := s.GetNode(ctx, constants.LocalNodeID)
	if err != nil {
		t.Fatalf("get local node: %v", err)
	}
	if got.Name != "Headquarters" {
		t.Fatalf("local rename did not stick: %q", got.Name)
	}

	url := "https://elsewhere"
	err = s.UpdateNode(ctx, constants.LocalNodeID, NodeUpdate{BaseURL: &url})
	if err == nil {
		t.Fatal("expected base_url update on local node to be rejected")
	}
	if !strings.Contains(err.Error(), "local") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDeleteNode(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	if err := s.AddNode(ctx, Node{ID: "gone", Name: "Gone", Enabled: true}); err != nil {
		t.Fatalf("add node: %v", err)
	}
	if err := s.DeleteNode(ctx, "gone"); err != nil {
		t.Fatalf("delete node: %v", err)
	}

	if _, err := s.GetNode(ctx, "gone"); !IsNotFound(err) {
		t.Fatalf("expected NotFoundError after delete, got %v", err)
	}
	if err := s.DeleteNode(ctx, "gone"); !IsNotFound(err) {
		t.Fatalf("expected NotFoundError for repeat delete, got %v", err)
	}
}

func TestLocalNodeUndeletable(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	if err := s.DeleteNode(ctx, constants.LocalNodeID); err == nil {
		t.Fatal("expected deleting the local node to fail")
	}
	if _, err := s.GetNode(ctx, constants.LocalNodeID); err != nil {
		t.Fatalf("local node should still exist: %v", err)
	}
}

func TestListNodesLocalFirst(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"b-node", "a-node"} {
		if err := s.AddNode(ctx, Node{ID: id, Name: id, Enabled: true}); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}

	nodes, err := s.ListNodes(ctx)
	if err != nil {
		t.Fatalf("list nodes: %v", err)
	}
	if len(nodes) != 3 {
		t.Fatalf("expected 3 nodes, got %d", len(nodes))
	}
	if !nodes[0].IsLocal {
		t.Fatalf("expected local node first, got %s", nodes[0].ID)
	}
}
