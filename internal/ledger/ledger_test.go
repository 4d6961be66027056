package ledger

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"geocam/internal/canonical"
	"geocam/internal/store"
)

func appendN(t *testing.T, l *Ledger, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id, err := l.Append(
			fmt.Sprintf(`{"n":%d}`, i),
			fmt.Sprintf("hash-%d", i),
			fmt.Sprintf("sig-%d", i),
			"KEY-TEST",
		)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func TestAppendLinksChain(t *testing.T) {
	kv := store.NewMemStore()
	l := New(kv)
	appendN(t, l, 3)

	chain, err := l.GetAll()
	require.NoError(t, err)
	require.Len(t, chain, 3)

	require.Nil(t, chain[0].PrevRecordHash)
	for i := 1; i < len(chain); i++ {
		require.NotNil(t, chain[i].PrevRecordHash)
		require.Equal(t, chain[i-1].RecordHash, *chain[i].PrevRecordHash)
	}
}

func TestValidateChainOK(t *testing.T) {
	l := New(store.NewMemStore())
	appendN(t, l, 5)

	res, err := l.ValidateChain()
	require.NoError(t, err)
	require.True(t, res.OK)
	require.Empty(t, res.BrokenAt)

	n, err := l.Length()
	require.NoError(t, err)
	require.Equal(t, 5, n)
}

func TestValidateEmptyChain(t *testing.T) {
	res, err := New(store.NewMemStore()).ValidateChain()
	require.NoError(t, err)
	require.True(t, res.OK)
}

func TestValidateDetectsPayloadTamper(t *testing.T) {
	kv := store.NewMemStore()
	l := New(kv)
	appendN(t, l, 4)

	tamper(t, kv, func(chain []Record) {
		chain[1].PackHash = "forged"
	})

	res, err := l.ValidateChain()
	require.NoError(t, err)
	require.False(t, res.OK)

	chain, err := l.GetAll()
	require.NoError(t, err)
	require.Equal(t, chain[1].RecordID, res.BrokenAt)
}

func TestValidateDetectsRelink(t *testing.T) {
	kv := store.NewMemStore()
	l := New(kv)
	appendN(t, l, 4)

	// Recompute record 1's hash over a forged payload. The forgery is locally
	// consistent, so record 2's prev pointer exposes it instead.
	tamper(t, kv, func(chain []Record) {
		chain[1].PackHash = "forged"
		chain[1].RecordHash = linkHash(chain[1].PrevRecordHash, "forged", chain[1].SignatureB64)
	})

	res, err := l.ValidateChain()
	require.NoError(t, err)
	require.False(t, res.OK)

	chain, err := l.GetAll()
	require.NoError(t, err)
	require.Equal(t, chain[2].RecordID, res.BrokenAt)
}

func TestValidateDetectsDroppedRecord(t *testing.T) {
	kv := store.NewMemStore()
	l := New(kv)
	appendN(t, l, 4)

	// Drop the middle record; the successor's prev pointer no longer matches.
	data, found, err := kv.Get(ChainSlot)
	require.NoError(t, err)
	require.True(t, found)
	var chain []Record
	require.NoError(t, json.Unmarshal(data, &chain))
	chain = append(chain[:1], chain[2:]...)
	data, err = json.Marshal(chain)
	require.NoError(t, err)
	require.NoError(t, kv.Set(ChainSlot, data))

	res, err := l.ValidateChain()
	require.NoError(t, err)
	require.False(t, res.OK)
}

func TestGenesisLinkUsesNullLiteral(t *testing.T) {
	l := New(store.NewMemStore())
	appendN(t, l, 1)

	chain, err := l.GetAll()
	require.NoError(t, err)
	require.Equal(t, linkHash(nil, "hash-0", "sig-0"), chain[0].RecordHash)
	// The literal is part of the persisted format.
	require.Equal(t, canonical.Hash("null.hash-0.sig-0"), chain[0].RecordHash)
}

func tamper(t *testing.T, kv store.KV, mutate func([]Record)) {
	t.Helper()
	data, found, err := kv.Get(ChainSlot)
	require.NoError(t, err)
	require.True(t, found)
	var chain []Record
	require.NoError(t, json.Unmarshal(data, &chain))
	mutate(chain)
	data, err = json.Marshal(chain)
	require.NoError(t, err)
	require.NoError(t, kv.Set(ChainSlot, data))
}
