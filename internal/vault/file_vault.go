package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/pbkdf2"

	"github.com/copilfi/copil-sub001/internal/domain"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	// saltLen is the random salt length in bytes.
	saltLen = 16
	// aesKeyLen is the derived AES-256 key length.
	aesKeyLen = 32
	// fileVaultVersion is the encrypted-entry JSON schema version.
	fileVaultVersion = 1
)

// encryptedEntry is the on-disk format for one key id. Each entry carries
// its own salt, so a leaked file never shares derived keys with another.
type encryptedEntry struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`       // base64 standard encoding
	Nonce      string `json:"nonce"`      // base64 standard encoding
	Ciphertext string `json:"ciphertext"` // base64 standard encoding
}

// FileVault is a domain.Vault on the local filesystem: one
// PBKDF2 + AES-256-GCM encrypted file per key id. Suitable for development
// and single-node deployments without a secrets service.
type FileVault struct {
	dir      string
	password string
}

var _ domain.Vault = (*FileVault)(nil)

// NewFileVault opens (creating if needed) the vault directory.
func NewFileVault(dir, password string) (*FileVault, error) {
	if password == "" {
		return nil, errors.New("vault: password must not be empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("vault: create dir %s: %w", dir, err)
	}
	return &FileVault{dir: dir, password: password}, nil
}

// GetKey reads and decrypts the material stored under keyID.
func (v *FileVault) GetKey(ctx context.Context, keyID string) ([]byte, error) {
	if err := validateKeyID(keyID); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(v.entryPath(keyID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("vault: key %s: %w", keyID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("vault: read key %s: %w", keyID, err)
	}

	var stored encryptedEntry
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("vault: parse key %s: %w", keyID, err)
	}
	if stored.Version != fileVaultVersion {
		return nil, fmt.Errorf("vault: key %s has unsupported version %d", keyID, stored.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return nil, fmt.Errorf("vault: decode salt for %s: %w", keyID, err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return nil, fmt.Errorf("vault: decode nonce for %s: %w", keyID, err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("vault: decode ciphertext for %s: %w", keyID, err)
	}

	gcm, err := v.cipherFor(salt)
	if err != nil {
		return nil, err
	}

	material, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("vault: decrypt key %s (wrong password?): %w", keyID, err)
	}
	return material, nil
}

// PutKey encrypts and stores material under keyID. The write goes through a
// temp file and rename, so a crash never leaves a truncated entry behind.
func (v *FileVault) PutKey(ctx context.Context, keyID string, material []byte) error {
	if err := validateKeyID(keyID); err != nil {
		return err
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("vault: generate salt: %w", err)
	}

	gcm, err := v.cipherFor(salt)
	if err != nil {
		return err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("vault: generate nonce: %w", err)
	}

	entry := encryptedEntry{
		Version:    fileVaultVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, material, nil)),
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("vault: marshal key %s: %w", keyID, err)
	}

	tmp := v.entryPath(keyID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("vault: write key %s: %w", keyID, err)
	}
	if err := os.Rename(tmp, v.entryPath(keyID)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("vault: commit key %s: %w", keyID, err)
	}
	return nil
}

// DeleteKey removes the entry. Deleting an absent id succeeds.
func (v *FileVault) DeleteKey(ctx context.Context, keyID string) error {
	if err := validateKeyID(keyID); err != nil {
		return err
	}
	if err := os.Remove(v.entryPath(keyID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("vault: delete key %s: %w", keyID, err)
	}
	return nil
}

// Ping verifies the vault directory is still accessible.
func (v *FileVault) Ping(ctx context.Context) error {
	if _, err := os.Stat(v.dir); err != nil {
		return fmt.Errorf("vault: dir %s: %w", v.dir, err)
	}
	return nil
}

func (v *FileVault) entryPath(keyID string) string {
	return filepath.Join(v.dir, keyID+".json")
}

// cipherFor derives the AES-256 key for a salt and returns the GCM AEAD.
func (v *FileVault) cipherFor(salt []byte) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(v.password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("vault: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: create GCM: %w", err)
	}
	return gcm, nil
}
