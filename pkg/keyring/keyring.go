package keyring

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/zalando/go-keyring"
)

// FileKeyring is the encrypted-file fallback for localFileProbe's credential
// cache (spec §6 "persisted state") on hosts with no usable OS keyring —
// the common case for a headless/containerized quilt-mcp-server. It is
// read-only from the probe's perspective; Set exists so deployments that
// do have an OS keyring still get a consistent fallback path, and so a
// local/legacy deployment that previously cached a bundle this way keeps
// working across a keyring backend change.
type FileKeyring struct {
	keyringPath string
	masterKey   []byte
}

// keyringEntry is one AES-GCM-encrypted credential-cache row, keyed by
// service (catalog URL namespace) and user (JWT subject).
type keyringEntry struct {
	Service string `json:"service"`
	User    string `json:"user"`
	Data    string `json:"data"` // encrypted data
}

// KeyringManager resolves a credential cache against the OS keyring when
// one is reachable, or FileKeyring otherwise. CredentialExchanger's
// localFileProbe only ever calls Get on it; Set/Delete have no caller in
// this server (writing the cache is not this server's responsibility —
// see internal/auth.localFileProbe) and are intentionally not exposed
// here, unlike the teacher's keyring package.
type KeyringManager struct {
	fileKeyring *FileKeyring
	useFile     bool
}

// NewKeyringManager probes the OS keyring (5s timeout, since some
// headless environments hang rather than fail fast) and falls back to a
// FileKeyring rooted at keyringPath, encrypted with masterPassword.
func NewKeyringManager(keyringPath, masterPassword string) *KeyringManager {
	const probeService, probeKey, probeValue = "quilt-mcp-test", "test-key", "test-value"

	done := make(chan error, 1)
	go func() {
		err := keyring.Set(probeService, probeKey, probeValue)
		if err == nil {
			keyring.Delete(probeService, probeKey)
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err == nil {
			return &KeyringManager{useFile: false}
		}
	case <-time.After(5 * time.Second):
	}

	return &KeyringManager{fileKeyring: NewFileKeyring(keyringPath, masterPassword), useFile: true}
}

// NewKeyringManagerForFile wraps an already-constructed FileKeyring
// without probing the system keyring, for callers (tests, or a
// deployment explicitly configured to skip the system keyring) that
// already know file-based storage is wanted.
func NewKeyringManagerForFile(fk *FileKeyring) *KeyringManager {
	return &KeyringManager{fileKeyring: fk, useFile: true}
}

// NewFileKeyring creates a new file-based keyring
func NewFileKeyring(keyringPath, masterPassword string) *FileKeyring {
	// Create keyring directory if it doesn't exist
	os.MkdirAll(filepath.Dir(keyringPath), 0700)

	// Derive key from master password
	hash := sha256.Sum256([]byte(masterPassword))

	return &FileKeyring{
		keyringPath: keyringPath,
		masterKey:   hash[:],
	}
}

// Get reads a cached bundle, from the OS keyring if one is reachable,
// otherwise from the encrypted fallback file.
func (km *KeyringManager) Get(service, user string) (string, error) {
	if !km.useFile {
		return keyring.Get(service, user)
	}
	return km.fileKeyring.Get(service, user)
}

// encrypt encrypts plaintext using AES-GCM
func (fk *FileKeyring) encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(fk.masterKey)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decrypt decrypts ciphertext using AES-GCM
func (fk *FileKeyring) decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(fk.masterKey)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce := data[:nonceSize]
	ciphertextBytes := data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertextBytes, nil)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}

// Set writes an encrypted entry, keyed by service ("quilt-mcp/<catalog
// url>") and user (JWT subject). No production code calls it, and
// KeyringManager has no write path; tests seed fixtures through it. It
// stays on FileKeyring rather than KeyringManager so a cache written by
// one keyring manager stays consistent if the backend choice changes.
func (fk *FileKeyring) Set(service, user, password string) error {
	entries := make(map[string]keyringEntry)
	if data, err := os.ReadFile(fk.keyringPath); err == nil {
		json.Unmarshal(data, &entries)
	}

	encryptedPassword, err := fk.encrypt(password)
	if err != nil {
		return err
	}

	key := fmt.Sprintf("%s:%s", service, user)
	entries[key] = keyringEntry{Service: service, User: user, Data: encryptedPassword}

	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return os.WriteFile(fk.keyringPath, data, 0600)
}

// Get decrypts and returns the cached entry for (service, user).
func (fk *FileKeyring) Get(service, user string) (string, error) {
	entries := make(map[string]keyringEntry)

	data, err := os.ReadFile(fk.keyringPath)
	if err != nil {
		return "", fmt.Errorf("keyring file not found")
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return "", err
	}

	key := fmt.Sprintf("%s:%s", service, user)
	entry, exists := entries[key]
	if !exists {
		return "", fmt.Errorf("entry not found")
	}
	return fk.decrypt(entry.Data)
}

// GetMasterPasswordFromEnv gets the master password used to derive the
// local credential-cache encryption key from the environment.
func GetMasterPasswordFromEnv() string {
	if password := os.Getenv("QUILT_MCP_KEYRING_PASSWORD"); password != "" {
		return password
	}
	// Default password for development (change this in production!)
	return "default-master-password-change-me"
}

// GetDefaultKeyringPath returns the default path of the local, file-based
// credential cache consulted when the OS keyring is unavailable (the
// common case on headless/containerized deployments).
func GetDefaultKeyringPath() string {
	// Check for environment variable override first
	if path := os.Getenv("QUILT_MCP_KEYRING_PATH"); path != "" {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/quilt-mcp-keyring.json"
	}
	return filepath.Join(homeDir, ".local", "share", "quilt-mcp", "keyring.json")
}
