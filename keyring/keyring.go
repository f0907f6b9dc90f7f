// Package keyring provides secure token storage.
// It uses the system keyring when available, falling back to
// encrypted local file storage when not.
package keyring

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/hkdf"

	"github.com/yllada/vpn-orchestrator/common"
)

const (
	// serviceName is the identifier used in the system keyring.
	serviceName = "vpn-orchestrator"
	probeKey    = "vpn-orchestrator-probe"
	keyInfo     = "vpn-orchestrator credential file v1"
)

// Common errors returned by keyring operations.
var (
	ErrNotFound = common.ErrCredentialsNotFound
	ErrEmptyKey = errors.New("server address cannot be empty")
)

// Store keeps engine tokens keyed by server address.
type Store struct {
	mu       sync.RWMutex
	useLocal bool
	local    map[string]string
	file     string
	key      []byte
}

var _ common.CredentialStore = (*Store)(nil)

// New returns a Store that prefers the system keyring and falls back to an
// encrypted file in dir when the keyring is unavailable.
func New(dir string) *Store {
	s := &Store{file: filepath.Join(dir, common.CredentialsFileName)}

	err := keyring.Set(serviceName, probeKey, "probe")
	if err == nil {
		keyring.Delete(serviceName, probeKey)
		return s
	}

	common.LogDebug("System keyring unavailable, using encrypted file: %v", err)
	s.initLocal()
	return s
}

// NewLocal returns a Store that only uses the encrypted file in dir.
func NewLocal(dir string) *Store {
	s := &Store{file: filepath.Join(dir, common.CredentialsFileName)}
	s.initLocal()
	return s
}

func (s *Store) initLocal() {
	s.useLocal = true
	s.key = deriveKey()
	s.local = make(map[string]string)
	s.loadLocal()
}

// deriveKey derives the file encryption key from machine-specific data.
func deriveKey() []byte {
	hostname, _ := os.Hostname()
	secret := fmt.Sprintf("%s-%s-%d", hostname, getMachineID(), os.Getuid())

	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(secret), []byte(serviceName), []byte(keyInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		// hkdf only fails past 255*HashLen bytes
		panic(err)
	}
	return key
}

func getMachineID() string {
	data, err := os.ReadFile("/etc/machine-id")
	if err == nil {
		return strings.TrimSpace(string(data))
	}
	return "default-machine-id"
}

func (s *Store) loadLocal() {
	data, err := os.ReadFile(s.file)
	if err != nil {
		return
	}

	decrypted, err := s.decrypt(data)
	if err != nil {
		common.LogWarn("Ignoring unreadable credential file %s: %v", s.file, err)
		return
	}

	json.Unmarshal(decrypted, &s.local)
}

func (s *Store) saveLocal() error {
	s.mu.RLock()
	data, err := json.Marshal(s.local)
	s.mu.RUnlock()
	if err != nil {
		return err
	}

	encrypted, err := s.encrypt(data)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrEncryption, err)
	}

	if err := os.MkdirAll(filepath.Dir(s.file), 0700); err != nil {
		return fmt.Errorf("%w: %v", common.ErrCredentialStorage, err)
	}
	return os.WriteFile(s.file, encrypted, 0600)
}

func (s *Store) encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return []byte(base64.StdEncoding.EncodeToString(ciphertext)), nil
}

func (s *Store) decrypt(data []byte) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecryption, err)
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("%w: ciphertext too short", common.ErrDecryption)
	}

	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecryption, err)
	}
	return plaintext, nil
}

// Store saves the token for a server address.
func (s *Store) Store(server, token string) error {
	server = strings.TrimSpace(server)
	if server == "" {
		return ErrEmptyKey
	}
	if token == "" {
		return errors.New("token cannot be empty")
	}

	s.mu.RLock()
	useLocal := s.useLocal
	s.mu.RUnlock()

	if !useLocal {
		err := keyring.Set(serviceName, server, token)
		if err == nil {
			return nil
		}
		common.LogWarn("System keyring write failed, falling back to file: %v", err)
		s.mu.Lock()
		s.initLocal()
		s.mu.Unlock()
	}

	s.mu.Lock()
	s.local[server] = token
	s.mu.Unlock()
	return s.saveLocal()
}

// Get retrieves the token for a server address.
func (s *Store) Get(server string) (string, error) {
	server = strings.TrimSpace(server)
	if server == "" {
		return "", ErrEmptyKey
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.useLocal {
		token, err := keyring.Get(serviceName, server)
		if err == nil {
			return token, nil
		}
		if !errors.Is(err, keyring.ErrNotFound) {
			common.LogDebug("System keyring read failed: %v", err)
		}
		return "", ErrNotFound
	}

	token, exists := s.local[server]
	if !exists {
		return "", ErrNotFound
	}
	return token, nil
}

// Delete removes the token for a server address. Deleting a missing entry
// is not an error.
func (s *Store) Delete(server string) error {
	server = strings.TrimSpace(server)
	if server == "" {
		return ErrEmptyKey
	}

	s.mu.RLock()
	useLocal := s.useLocal
	s.mu.RUnlock()

	if !useLocal {
		err := keyring.Delete(serviceName, server)
		if err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("%w: %v", common.ErrCredentialStorage, err)
		}
		return nil
	}

	s.mu.Lock()
	delete(s.local, server)
	s.mu.Unlock()
	return s.saveLocal()
}

// Exists checks if a token is stored for a server address.
func (s *Store) Exists(server string) bool {
	_, err := s.Get(server)
	return err == nil
}
