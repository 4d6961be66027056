// Package ledger persists evidence records as an append-only hash-linked
// chain in device-local storage. Records are never mutated or removed after
// append; corruption is detected by ValidateChain, never repaired.
package ledger

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"geocam/internal/canonical"
	"geocam/internal/store"
)

// ChainSlot is the storage key holding the full record sequence.
const ChainSlot = "geocam_evidence_chain"

// Record is one link of the evidence chain.
//
// RecordHash = SHA256(prevRecordHash_or_"null" + "." + packHash + "." + signature).
// PrevRecordHash of record N must equal RecordHash of record N-1, and is null
// for record 0.
type Record struct {
	RecordID       string  `json:"recordId"`
	CreatedAt      string  `json:"createdAt"`
	PackCanonical  string  `json:"packCanonical"`
	PackHash       string  `json:"packHash"`
	SignatureB64   string  `json:"signatureBase64"`
	KeyID          string  `json:"keyId"`
	PrevRecordHash *string `json:"prevRecordHash"`
	RecordHash     string  `json:"recordHash"`
}

// ValidateResult reports chain integrity. BrokenAt names the first record
// whose link or hash fails to recompute.
type ValidateResult struct {
	OK       bool
	BrokenAt string
}

// Ledger is the append-only chain over an injected KV store. The mutex
// serializes tail-read-then-append so multi-flight callers cannot observe a
// stale tail; storage failures propagate to the caller.
type Ledger struct {
	kv  store.KV
	mu  sync.Mutex
	now func() time.Time
}

// New returns a ledger over kv.
func New(kv store.KV) *Ledger {
	return &Ledger{kv: kv, now: time.Now}
}

// Append links a new record onto the chain tail and persists it, returning
// the fresh record id.
func (l *Ledger) Append(packCanonical, packHash, signatureB64, keyID string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	chain, err := l.load()
	if err != nil {
		return "", err
	}

	var prev *string
	if len(chain) > 0 {
		tail := chain[len(chain)-1].RecordHash
		prev = &tail
	}

	rec := Record{
		RecordID:       uuid.NewString(),
		CreatedAt:      l.now().UTC().Format(time.RFC3339Nano),
		PackCanonical:  packCanonical,
		PackHash:       packHash,
		SignatureB64:   signatureB64,
		KeyID:          keyID,
		PrevRecordHash: prev,
		RecordHash:     linkHash(prev, packHash, signatureB64),
	}

	chain = append(chain, rec)
	if err := l.save(chain); err != nil {
		return "", err
	}
	return rec.RecordID, nil
}

// ValidateChain walks the full persisted chain recomputing every link. The
// first record whose prev pointer or hash fails to recompute is reported; an
// empty chain is consistent.
func (l *Ledger) ValidateChain() (ValidateResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	chain, err := l.load()
	if err != nil {
		return ValidateResult{}, err
	}

	for i, rec := range chain {
		var expectedPrev *string
		if i > 0 {
			expectedPrev = &chain[i-1].RecordHash
		}
		if !prevEqual(rec.PrevRecordHash, expectedPrev) {
			return ValidateResult{OK: false, BrokenAt: rec.RecordID}, nil
		}
		if rec.RecordHash != linkHash(rec.PrevRecordHash, rec.PackHash, rec.SignatureB64) {
			return ValidateResult{OK: false, BrokenAt: rec.RecordID}, nil
		}
	}
	return ValidateResult{OK: true}, nil
}

// GetAll returns the persisted chain in append order.
func (l *Ledger) GetAll() ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load()
}

// Length returns the number of records in the chain.
func (l *Ledger) Length() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	chain, err := l.load()
	if err != nil {
		return 0, err
	}
	return len(chain), nil
}

func (l *Ledger) load() ([]Record, error) {
	data, found, err := l.kv.Get(ChainSlot)
	if err != nil {
		return nil, fmt.Errorf("ledger: load chain: %w", err)
	}
	if !found || len(data) == 0 {
		return nil, nil
	}
	var chain []Record
	if err := json.Unmarshal(data, &chain); err != nil {
		return nil, fmt.Errorf("ledger: decode chain: %w", err)
	}
	return chain, nil
}

func (l *Ledger) save(chain []Record) error {
	data, err := json.Marshal(chain)
	if err != nil {
		return fmt.Errorf("ledger: encode chain: %w", err)
	}
	if err := l.kv.Set(ChainSlot, data); err != nil {
		return fmt.Errorf("ledger: persist chain: %w", err)
	}
	return nil
}

// linkHash computes the chain hash for one record. The "null" literal for an
// empty prev pointer is part of the persisted format and must not change.
func linkHash(prev *string, packHash, signatureB64 string) string {
	p := "null"
	if prev != nil {
		p = *prev
	}
	return canonical.Hash(p + "." + packHash + "." + signatureB64)
}

func prevEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
