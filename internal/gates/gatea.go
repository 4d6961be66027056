// Package gates builds the three independent trust signals submitted with
// every verify/register request: a fresh claim signature (A), a device
// identity payload (B) and a best-effort location reading (C). Gate payloads
// are minted per attempt and never reused; the orchestrator rebuilds them
// inside each request.
package gates

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"geocam/internal/device"
)

// ed25519SPKIPrefix is the DER SubjectPublicKeyInfo header for an Ed25519
// key. The server imports the public key through a stock crypto library, so
// the wire form is hex(prefix || raw 32-byte key).
var ed25519SPKIPrefix = []byte{
	0x30, 0x2a, 0x30, 0x05, 0x06, 0x03, 0x2b, 0x65, 0x70, 0x03, 0x21, 0x00,
}

// ASignature is the gate A payload. The signature covers the exact byte
// string nonce+claimID+timestamp with no separators; the server reproduces
// the same concatenation to verify.
type ASignature struct {
	Signature       string `json:"signature"`
	PublicKey       string `json:"public_key"`
	ClientTimestamp int64  `json:"client_timestamp"`
}

// A signs server-issued nonces with the device keypair.
type A struct {
	keys *device.Manager
	now  func() time.Time
}

// NewA returns the gate A builder.
func NewA(keys *device.Manager) *A {
	return &A{keys: keys, now: time.Now}
}

// Sign mints a fresh timestamp and signs nonce+claimID+timestamp. Signatures
// are never cached; every attempt gets a new one.
func (a *A) Sign(nonce, claimID string) (ASignature, error) {
	info, err := a.keys.EnsureKeypair()
	if err != nil {
		return ASignature{}, fmt.Errorf("gates: ensure keypair: %w", err)
	}

	ts := a.now().UnixMilli()
	message := nonce + claimID + strconv.FormatInt(ts, 10)

	res, err := a.keys.Sign([]byte(message))
	if err != nil {
		return ASignature{}, fmt.Errorf("gates: sign claim: %w", err)
	}

	wrapped := append(append([]byte{}, ed25519SPKIPrefix...), info.PublicKey...)
	return ASignature{
		Signature:       hex.EncodeToString(res.Signature),
		PublicKey:       hex.EncodeToString(wrapped),
		ClientTimestamp: ts,
	}, nil
}
