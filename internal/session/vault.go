package session

import (
	"crypto/rand"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/mdsync/mdsync/internal/store"
)

const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

// Credentials is the material needed to re-authenticate an environment.
type Credentials struct {
	LoginURL string `json:"loginUrl"`
	Username string `json:"username"`
	Secret   string `json:"secret"`
}

// Vault encrypts credentials at rest. Blobs are salt || nonce || ciphertext;
// the key is derived per-blob from the passphrase with Argon2id.
type Vault struct {
	Store      *store.Store
	Passphrase string
}

// Seal encrypts creds and stores them for env, replacing any prior blob.
func (v *Vault) Seal(env string, creds Credentials) error {
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}
	key := deriveKey(v.Passphrase, salt)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return fmt.Errorf("create cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	blob := append(salt, aead.Seal(nonce, nonce, plaintext, nil)...)
	if err := v.Store.PutCredentials(env, blob); err != nil {
		return fmt.Errorf("store credentials: %w", err)
	}
	return nil
}

// Open decrypts the stored credentials for env. Returns nil with no error
// when none are stored.
func (v *Vault) Open(env string) (*Credentials, error) {
	blob, err := v.Store.GetCredentials(env)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	if blob == nil {
		return nil, nil
	}
	if len(blob) < saltLen {
		return nil, fmt.Errorf("credential blob too short")
	}

	key := deriveKey(v.Passphrase, blob[:saltLen])
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	rest := blob[saltLen:]
	if len(rest) < aead.NonceSize() {
		return nil, fmt.Errorf("credential blob too short")
	}
	plaintext, err := aead.Open(nil, rest[:aead.NonceSize()], rest[aead.NonceSize():], nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt credentials: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, fmt.Errorf("decode credentials: %w", err)
	}
	return &creds, nil
}

// Forget removes any stored credentials for env.
func (v *Vault) Forget(env string) error {
	return v.Store.DeleteCredentials(env)
}

func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}
