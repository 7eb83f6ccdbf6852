// Package keyring stores per-config OpenVPN credentials.
// It uses the system keyring when available, falling back to an
// encrypted file in the config directory when not.
package keyring

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/kingzvpn/client/common"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// serviceName is the identifier used in the system keyring.
	serviceName = "kingzvpn"

	keyInfo = "kingzvpn credentials v1"
)

var _ common.CredentialStore = (*Store)(nil)

// Store implements common.CredentialStore.
type Store struct {
	mu       sync.RWMutex
	useLocal bool
	local    map[string]common.Credentials
	file     string
	key      []byte
}

// Option configures a Store.
type Option func(*Store)

// WithLocalOnly skips the system keyring.
func WithLocalOnly() Option {
	return func(s *Store) { s.useLocal = true }
}

// New returns a Store whose fallback file lives in dir.
func New(dir string, opts ...Option) (*Store, error) {
	s := &Store{
		local: make(map[string]common.Credentials),
		file:  filepath.Join(dir, common.CredentialsFileName),
	}
	for _, opt := range opts {
		opt(s)
	}

	if !s.useLocal && !systemAvailable() {
		common.LogInfo("System keyring unavailable, using encrypted file")
		s.useLocal = true
	}

	key, err := deriveKey()
	if err != nil {
		return nil, common.WrapError(err, "failed to derive credentials key")
	}
	s.key = key

	if err := common.EnsureDir(dir); err != nil {
		return nil, common.WrapError(err, "failed to create credentials directory")
	}
	if err := s.load(); err != nil {
		common.LogWarn("Ignoring unreadable credentials file: %v", err)
	}
	return s, nil
}

func systemAvailable() bool {
	testKey := "kingzvpn-test-init"
	if err := keyring.Set(serviceName, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(serviceName, testKey)
	return true
}

// Local reports whether the encrypted file backend is in use.
func (s *Store) Local() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.useLocal
}

// Store saves credentials for a config.
func (s *Store) Store(configID string, creds common.Credentials) error {
	if configID == "" {
		return &common.ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if creds.Username == "" {
		return &common.ValidationError{Field: "username", Reason: "must not be empty"}
	}

	if !s.Local() {
		data, err := json.Marshal(creds)
		if err != nil {
			return fmt.Errorf("%w: %v", common.ErrCredentialStorage, err)
		}
		err = keyring.Set(serviceName, configID, string(data))
		if err == nil {
			return nil
		}
		common.LogWarn("System keyring write failed, using encrypted file: %v", err)
		s.mu.Lock()
		s.useLocal = true
		s.mu.Unlock()
	}

	s.mu.Lock()
	s.local[configID] = creds
	s.mu.Unlock()
	return s.save()
}

// Get retrieves credentials for a config.
func (s *Store) Get(configID string) (common.Credentials, error) {
	if configID == "" {
		return common.Credentials{}, common.ErrCredentialsNotFound
	}

	if !s.Local() {
		secret, err := keyring.Get(serviceName, configID)
		if err == nil {
			var creds common.Credentials
			if err := json.Unmarshal([]byte(secret), &creds); err != nil {
				return common.Credentials{}, fmt.Errorf("%w: %v", common.ErrCredentialStorage, err)
			}
			return creds, nil
		}
		if !errors.Is(err, keyring.ErrNotFound) {
			common.LogDebug("System keyring read failed: %v", err)
		}
	}

	s.mu.RLock()
	creds, ok := s.local[configID]
	s.mu.RUnlock()
	if !ok {
		return common.Credentials{}, common.ErrCredentialsNotFound
	}
	return creds, nil
}

// Delete removes credentials for a config from both backends.
func (s *Store) Delete(configID string) error {
	if configID == "" {
		return nil
	}
	if !s.Local() {
		if err := keyring.Delete(serviceName, configID); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			common.LogDebug("System keyring delete failed: %v", err)
		}
	}

	s.mu.Lock()
	_, ok := s.local[configID]
	delete(s.local, configID)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return s.save()
}

// Exists reports whether credentials are stored for a config.
func (s *Store) Exists(configID string) bool {
	_, err := s.Get(configID)
	return err == nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.file)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	plain, err := decrypt(s.key, data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.Unmarshal(plain, &s.local)
}

func (s *Store) save() error {
	s.mu.RLock()
	data, err := json.Marshal(s.local)
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrCredentialStorage, err)
	}

	sealed, err := encrypt(s.key, data)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrCredentialStorage, err)
	}

	tmp := s.file + ".tmp"
	if err := os.WriteFile(tmp, sealed, 0600); err != nil {
		return fmt.Errorf("%w: %v", common.ErrCredentialStorage, err)
	}
	if err := os.Rename(tmp, s.file); err != nil {
		return fmt.Errorf("%w: %v", common.ErrCredentialStorage, err)
	}
	return nil
}

// deriveKey binds the fallback file to this machine and user.
func deriveKey() ([]byte, error) {
	hostname, _ := os.Hostname()
	secret := fmt.Sprintf("%s|%s|%d", machineID(), hostname, os.Getuid())

	r := hkdf.New(sha256.New, []byte(secret), []byte(serviceName), []byte(keyInfo))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

func machineID() string {
	for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		if data, err := os.ReadFile(path); err == nil {
			return strings.TrimSpace(string(data))
		}
	}
	return "default-machine-id"
}

func encrypt(key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	return []byte(base64.StdEncoding.EncodeToString(sealed)), nil
}

func decrypt(key, data []byte) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	return aead.Open(nil, nonce, ciphertext, nil)
}
