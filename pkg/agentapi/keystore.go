// Package agentapi is the outbound boundary to AI agent HTTP endpoints: a
// pluggable per-provider request/response codec (OpenAI, Anthropic, Google,
// or a custom contract) selected by a key store's provider tag, and a
// reference encrypted-at-rest key store implementation.
package agentapi

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.etcd.io/bbolt"
)

// ErrKeyNotFound indicates no credential is registered for an agent ID.
var ErrKeyNotFound = errors.New("agentapi: no key registered for agent")

// Format selects which of the four wire codecs an agent speaks.
type Format string

const (
	FormatOpenAI    Format = "openai"
	FormatAnthropic Format = "anthropic"
	FormatGoogle    Format = "google"
	FormatCustom    Format = "custom"
)

// EndpointConfig is everything a codec needs to address and authenticate an
// agent endpoint, keyed by agent ID in the key store.
type EndpointConfig struct {
	BaseURL    string            `json:"baseUrl"`
	Path       string            `json:"path,omitempty"` // overrides the format's default path when set
	Model      string            `json:"model,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	AuthHeader string            `json:"authHeader,omitempty"` // defaults per format when empty
	Format     Format            `json:"format"`
}

// KeyStore resolves an agent ID to its API key and endpoint configuration.
// Deliberately out of scope per the system's boundary: production
// deployments may swap this for a vault- or KMS-backed implementation
// without the rest of the package noticing.
type KeyStore interface {
	Get(ctx context.Context, agentID string) (apiKey string, err error)
	EndpointConfig(ctx context.Context, agentID string) (EndpointConfig, error)
}

// credentialRecord is what's actually persisted per agent: the endpoint
// config in the clear (no secret material) plus the AES-GCM-sealed key.
type credentialRecord struct {
	Endpoint   EndpointConfig `json:"endpoint"`
	Nonce      []byte         `json:"nonce"`
	Ciphertext []byte         `json:"ciphertext"`
}

var credentialsBucket = []byte("agent_credentials")

// BoltKeyStore is the reference KeyStore: bbolt-backed, with every API key
// sealed under AES-256-GCM using a caller-supplied 32-byte master key before
// it touches disk.
type BoltKeyStore struct {
	db     *bbolt.DB
	aead   cipher.AEAD
	mu     sync.RWMutex
	cache  map[string]credentialRecord
}

// NewBoltKeyStore opens (creating if absent) a bbolt database at path and
// wraps it with AES-GCM sealing under masterKey, which must be exactly 32
// bytes (AES-256).
func NewBoltKeyStore(path string, masterKey []byte) (*BoltKeyStore, error) {
	if len(masterKey) != 32 {
		return nil, fmt.Errorf("agentapi: master key must be 32 bytes, got %d", len(masterKey))
	}
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, fmt.Errorf("agentapi: building AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("agentapi: building GCM: %w", err)
	}

	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("agentapi: opening key store: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(credentialsBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("agentapi: creating bucket: %w", err)
	}

	ks := &BoltKeyStore{db: db, aead: aead, cache: make(map[string]credentialRecord)}
	if err := ks.warmCache(); err != nil {
		db.Close()
		return nil, err
	}
	return ks, nil
}

func (ks *BoltKeyStore) warmCache() error {
	return ks.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(credentialsBucket)
		return b.ForEach(func(k, v []byte) error {
			var rec credentialRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decoding record for %q: %w", k, err)
			}
			ks.cache[string(k)] = rec
			return nil
		})
	})
}

// Put seals apiKey under the store's master key and persists it alongside
// endpoint for agentID, overwriting any existing registration.
func (ks *BoltKeyStore) Put(ctx context.Context, agentID, apiKey string, endpoint EndpointConfig) error {
	nonce := make([]byte, ks.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("agentapi: generating nonce: %w", err)
	}
	ciphertext := ks.aead.Seal(nil, nonce, []byte(apiKey), nil)

	rec := credentialRecord{Endpoint: endpoint, Nonce: nonce, Ciphertext: ciphertext}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("agentapi: encoding record: %w", err)
	}

	if err := ks.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(credentialsBucket).Put([]byte(agentID), data)
	}); err != nil {
		return fmt.Errorf("agentapi: persisting record: %w", err)
	}

	ks.mu.Lock()
	ks.cache[agentID] = rec
	ks.mu.Unlock()
	return nil
}

// Get returns agentID's decrypted API key.
func (ks *BoltKeyStore) Get(ctx context.Context, agentID string) (string, error) {
	rec, ok := ks.record(agentID)
	if !ok {
		return "", ErrKeyNotFound
	}
	plain, err := ks.aead.Open(nil, rec.Nonce, rec.Ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("agentapi: decrypting key for %s: %w", agentID, err)
	}
	return string(plain), nil
}

// EndpointConfig returns agentID's registered endpoint configuration.
func (ks *BoltKeyStore) EndpointConfig(ctx context.Context, agentID string) (EndpointConfig, error) {
	rec, ok := ks.record(agentID)
	if !ok {
		return EndpointConfig{}, ErrKeyNotFound
	}
	return rec.Endpoint, nil
}

func (ks *BoltKeyStore) record(agentID string) (credentialRecord, bool) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	rec, ok := ks.cache[agentID]
	return rec, ok
}

// Close releases the underlying bbolt database.
func (ks *BoltKeyStore) Close() error {
	return ks.db.Close()
}
