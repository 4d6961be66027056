// Package device owns the per-install signing keypair, the device identifier
// and the device-info capability. The secret key never leaves this package;
// other components only see the key id and public half.
package device

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"geocam/internal/store"
)

// KeypairSlot is the storage key holding the serialized keypair.
const KeypairSlot = "geocam_device_keypair"

// ErrKeypairNotFound is returned by Sign when EnsureKeypair was never called
// on this install.
var ErrKeypairNotFound = errors.New("device: keypair not found")

// KeypairInfo is the public half of the device keypair.
type KeypairInfo struct {
	KeyID     string
	PublicKey ed25519.PublicKey
}

// SignResult carries a detached signature and the id of the key that made it.
type SignResult struct {
	Signature []byte
	KeyID     string
}

type storedKeypair struct {
	KeyID      string `json:"key_id"`
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

// Manager provisions and uses the device keypair. With a seal key configured
// the persisted secret material is encrypted at rest.
type Manager struct {
	kv      store.KV
	sealKey []byte
	mu      sync.Mutex
}

// NewManager returns a manager persisting the keypair unencrypted.
func NewManager(kv store.KV) *Manager {
	return &Manager{kv: kv}
}

// NewSealedManager returns a manager that seals the keypair slot with an
// AES-GCM key derived from the device fingerprint.
func NewSealedManager(kv store.KV, deviceFingerprint string) (*Manager, error) {
	key, err := deriveSealKey(deviceFingerprint)
	if err != nil {
		return nil, err
	}
	return &Manager{kv: kv, sealKey: key}, nil
}

// EnsureKeypair returns the existing keypair's public half, generating and
// persisting a fresh Ed25519 keypair on first call. Idempotent per install.
func (m *Manager) EnsureKeypair() (KeypairInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kp, found, err := m.load()
	if err != nil {
		return KeypairInfo{}, err
	}
	if found {
		return m.info(kp)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeypairInfo{}, fmt.Errorf("device: generate keypair: %w", err)
	}
	kp = storedKeypair{
		KeyID:      newKeyID(),
		PublicKey:  base64.StdEncoding.EncodeToString(pub),
		PrivateKey: base64.StdEncoding.EncodeToString(priv),
	}
	if err := m.save(kp); err != nil {
		return KeypairInfo{}, err
	}
	return KeypairInfo{KeyID: kp.KeyID, PublicKey: pub}, nil
}

// Sign produces a detached Ed25519 signature over message with the persisted
// secret key. Fails with ErrKeypairNotFound if no keypair exists yet.
func (m *Manager) Sign(message []byte) (SignResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kp, found, err := m.load()
	if err != nil {
		return SignResult{}, err
	}
	if !found {
		return SignResult{}, ErrKeypairNotFound
	}
	priv, err := base64.StdEncoding.DecodeString(kp.PrivateKey)
	if err != nil || len(priv) != ed25519.PrivateKeySize {
		return SignResult{}, fmt.Errorf("device: corrupt private key in slot %s", KeypairSlot)
	}
	sig := ed25519.Sign(ed25519.PrivateKey(priv), message)
	return SignResult{Signature: sig, KeyID: kp.KeyID}, nil
}

// Verify checks a detached signature. It never returns an error: malformed
// keys or signatures simply verify as false.
func Verify(message, signature []byte, publicKey ed25519.PublicKey) bool {
	if len(publicKey) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(publicKey, message, signature)
}

func (m *Manager) info(kp storedKeypair) (KeypairInfo, error) {
	pub, err := base64.StdEncoding.DecodeString(kp.PublicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return KeypairInfo{}, fmt.Errorf("device: corrupt public key in slot %s", KeypairSlot)
	}
	return KeypairInfo{KeyID: kp.KeyID, PublicKey: pub}, nil
}

func (m *Manager) load() (storedKeypair, bool, error) {
	data, found, err := m.kv.Get(KeypairSlot)
	if err != nil {
		return storedKeypair{}, false, fmt.Errorf("device: load keypair: %w", err)
	}
	if !found {
		return storedKeypair{}, false, nil
	}
	if m.sealKey != nil {
		data, err = decryptGCM(m.sealKey, data)
		if err != nil {
			return storedKeypair{}, false, fmt.Errorf("device: unseal keypair: %w", err)
		}
	}
	var kp storedKeypair
	if err := json.Unmarshal(data, &kp); err != nil {
		return storedKeypair{}, false, fmt.Errorf("device: decode keypair: %w", err)
	}
	return kp, true, nil
}

func (m *Manager) save(kp storedKeypair) error {
	data, err := json.Marshal(kp)
	if err != nil {
		return fmt.Errorf("device: encode keypair: %w", err)
	}
	if m.sealKey != nil {
		data, err = encryptGCM(m.sealKey, data)
		if err != nil {
			return fmt.Errorf("device: seal keypair: %w", err)
		}
	}
	if err := m.kv.Set(KeypairSlot, data); err != nil {
		return fmt.Errorf("device: persist keypair: %w", err)
	}
	return nil
}

func newKeyID() string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return "KEY-" + raw[:12]
}
