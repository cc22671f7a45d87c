package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/crypto/scrypt"
)

// The secrets file holds API keys and the Ollama host, encrypted with a key
// derived from the user's password. Layout: [salt][nonce][ciphertext+tag].
const (
	secretsFileName = "secrets.json.enc"
	saltSize        = 16
	nonceSize       = 12
	gcmTagSize      = 16
	scryptN         = 1 << 15
	scryptR         = 8
	scryptP         = 1
	keySize         = 32 // AES-256
)

// ErrBadPassword is returned when the secrets file cannot be opened with the given password.
var ErrBadPassword = errors.New("wrong password or corrupted secrets file")

//nolint:gochecknoglobals // unlocked secrets live for the process
var (
	unlocked   map[string]string
	unlockedMu sync.RWMutex
)

// SetDecryptedSecrets installs the unlocked secrets. nil clears them.
func SetDecryptedSecrets(secrets map[string]string) {
	unlockedMu.Lock()
	defer unlockedMu.Unlock()
	unlocked = secrets
}

// GetSecret looks name up in the unlocked secrets, then in the environment.
func GetSecret(name string) (string, error) {
	unlockedMu.RLock()
	value := unlocked[name]
	unlockedMu.RUnlock()
	if value != "" {
		return value, nil
	}
	if value := os.Getenv(name); value != "" {
		return value, nil
	}
	return "", fmt.Errorf("secret %s not found in secrets file or environment", name)
}

// GetDecryptedSecretNames returns the sorted names of the unlocked secrets.
func GetDecryptedSecretNames() []string {
	unlockedMu.RLock()
	defer unlockedMu.RUnlock()

	names := make([]string, 0, len(unlocked))
	for name := range unlocked {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetSecret adds or replaces an unlocked secret. SaveSecretsToFile persists it.
func SetSecret(name, value string) error {
	if name == "" {
		return errors.New("secret name cannot be empty")
	}
	unlockedMu.Lock()
	defer unlockedMu.Unlock()
	if unlocked == nil {
		unlocked = make(map[string]string)
	}
	unlocked[name] = value
	return nil
}

// DeleteSecret removes an unlocked secret. It reports whether it existed.
func DeleteSecret(name string) bool {
	unlockedMu.Lock()
	defer unlockedMu.Unlock()
	_, ok := unlocked[name]
	delete(unlocked, name)
	return ok
}

// SaveSecretsToFile writes the unlocked secrets to dir, encrypted with password.
func SaveSecretsToFile(dir, password string) error {
	unlockedMu.RLock()
	snapshot := make(map[string]string, len(unlocked))
	for k, v := range unlocked {
		snapshot[k] = v
	}
	unlockedMu.RUnlock()

	return EncryptSecretsFile(dir, password, snapshot)
}

// SecretsPath returns the location of the secrets file in dir.
func SecretsPath(dir string) string {
	return filepath.Join(dir, secretsFileName)
}

// SecretsFileExists reports whether dir holds a secrets file.
func SecretsFileExists(dir string) bool {
	_, err := os.Stat(SecretsPath(dir))
	return err == nil
}

// EncryptSecretsFile writes secrets to dir with mode 0600, replacing any existing file.
func EncryptSecretsFile(dir, password string, secrets map[string]string) error {
	plaintext, err := json.Marshal(secrets)
	if err != nil {
		return fmt.Errorf("failed to marshal secrets: %w", err)
	}
	defer clear(plaintext)

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}
	aead, err := newAEAD(password, salt)
	if err != nil {
		return err
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	data := make([]byte, 0, saltSize+nonceSize+len(plaintext)+gcmTagSize)
	data = append(data, salt...)
	data = append(data, nonce...)
	data = aead.Seal(data, nonce, plaintext, nil)

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create secrets directory: %w", err)
	}
	if err := os.WriteFile(SecretsPath(dir), data, 0o600); err != nil {
		return fmt.Errorf("failed to write secrets file: %w", err)
	}
	return nil
}

// DecryptSecretsFile reads and decrypts the secrets file in dir. A file readable
// by others is tightened back to 0600 first.
func DecryptSecretsFile(dir, password string) (map[string]string, error) {
	path := SecretsPath(dir)

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat secrets file: %w", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		logger.Warn("secrets file has permissions %04o, resetting to 0600", perm)
		if err := os.Chmod(path, 0o600); err != nil {
			return nil, fmt.Errorf("failed to fix file permissions: %w", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secrets file: %w", err)
	}
	if len(data) < saltSize+nonceSize+gcmTagSize {
		return nil, ErrBadPassword
	}
	salt, nonce, sealed := data[:saltSize], data[saltSize:saltSize+nonceSize], data[saltSize+nonceSize:]

	aead, err := newAEAD(password, salt)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrBadPassword
	}
	defer clear(plaintext)

	var secrets map[string]string
	if err := json.Unmarshal(plaintext, &secrets); err != nil {
		return nil, fmt.Errorf("failed to parse secrets: %w", err)
	}
	return secrets, nil
}

// newAEAD derives the AES-GCM cipher for password and salt. The derived key is
// wiped once the cipher is built.
func newAEAD(password string, salt []byte) (cipher.AEAD, error) {
	pw := []byte(password)
	defer clear(pw)

	key, err := scrypt.Key(pw, salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	defer clear(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
