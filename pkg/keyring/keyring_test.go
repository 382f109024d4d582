package keyring

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileKeyringRoundTrip(t *testing.T) {
	fk := NewFileKeyring(filepath.Join(t.TempDir(), "keyring.json"), "test-password")

	if err := fk.Set("quilt-mcp/https://catalog.example.com", "alice", "s3cr3t"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := fk.Get("quilt-mcp/https://catalog.example.com", "alice")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "s3cr3t" {
		t.Errorf("Get = %q, want s3cr3t", got)
	}
}

func TestFileKeyringGetMissingEntry(t *testing.T) {
	fk := NewFileKeyring(filepath.Join(t.TempDir(), "keyring.json"), "test-password")
	if _, err := fk.Get("quilt-mcp/https://catalog.example.com", "bob"); err == nil {
		t.Errorf("expected an error for an entry that was never set")
	}
}

func TestFileKeyringEntriesAreEncryptedAtRest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyring.json")
	fk := NewFileKeyring(path, "test-password")
	if err := fk.Set("quilt-mcp/https://catalog.example.com", "alice", "s3cr3t"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading keyring file: %v", err)
	}
	if strings.Contains(string(raw), "s3cr3t") {
		t.Errorf("keyring file contains the plaintext secret: %s", raw)
	}
}

func TestKeyringManagerForFileDelegatesToFileKeyring(t *testing.T) {
	fk := NewFileKeyring(filepath.Join(t.TempDir(), "keyring.json"), "test-password")
	if err := fk.Set("svc", "user", "value"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	km := NewKeyringManagerForFile(fk)
	got, err := km.Get("svc", "user")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "value" {
		t.Errorf("Get = %q, want value", got)
	}
}
