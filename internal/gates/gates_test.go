package gates

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"geocam/internal/device"
	"geocam/internal/store"
)

func TestGateASignatureVerifies(t *testing.T) {
	keys := device.NewManager(store.NewMemStore())
	a := NewA(keys)

	sig, err := a.Sign("nonce-123", "DINA-LJH001A7X9K2M")
	require.NoError(t, err)
	require.NotZero(t, sig.ClientTimestamp)

	rawSig, err := hex.DecodeString(sig.Signature)
	require.NoError(t, err)
	spki, err := hex.DecodeString(sig.PublicKey)
	require.NoError(t, err)
	require.Len(t, spki, 12+ed25519.PublicKeySize)
	require.Equal(t, ed25519SPKIPrefix, spki[:12])

	message := "nonce-123" + "DINA-LJH001A7X9K2M" + strconv.FormatInt(sig.ClientTimestamp, 10)
	require.True(t, device.Verify([]byte(message), rawSig, spki[12:]))
}

func TestGateASignaturesAreFresh(t *testing.T) {
	keys := device.NewManager(store.NewMemStore())
	a := NewA(keys)
	a.now = func() time.Time { return time.UnixMilli(1000) }

	first, err := a.Sign("n", "c")
	require.NoError(t, err)

	a.now = func() time.Time { return time.UnixMilli(2000) }
	second, err := a.Sign("n", "c")
	require.NoError(t, err)

	require.NotEqual(t, first.ClientTimestamp, second.ClientTimestamp)
	require.NotEqual(t, first.Signature, second.Signature)
	require.Equal(t, first.PublicKey, second.PublicKey)
}

func TestGateAProvisionsKeypair(t *testing.T) {
	kv := store.NewMemStore()
	a := NewA(device.NewManager(kv))

	_, err := a.Sign("n", "c")
	require.NoError(t, err)

	_, found, err := kv.Get(device.KeypairSlot)
	require.NoError(t, err)
	require.True(t, found)
}

type countingProvider struct {
	calls int
	info  device.Info
	err   error
}

func (p *countingProvider) Info() (device.Info, error) {
	p.calls++
	return p.info, p.err
}

func TestGateBAttestationFormat(t *testing.T) {
	kv := store.NewMemStore()
	provider := &countingProvider{info: device.Info{Platform: "android", Model: "Pixel 9", NativeID: "native-1"}}
	b := NewB(kv, provider, "2.0.0")

	payload, err := b.Build()
	require.NoError(t, err)
	require.Equal(t, "Pixel 9", payload.DeviceInfo.Model)
	require.Len(t, payload.Attestation, 64)
	_, err = hex.DecodeString(payload.Attestation)
	require.NoError(t, err)
}

func TestGateBCachesDeviceInfo(t *testing.T) {
	provider := &countingProvider{info: device.Info{Platform: "ios", Model: "iPhone"}}
	b := NewB(store.NewMemStore(), provider, "2.0.0")

	_, err := b.Build()
	require.NoError(t, err)
	_, err = b.Build()
	require.NoError(t, err)
	require.Equal(t, 1, provider.calls)
}

func TestGateBAttestationIsFresh(t *testing.T) {
	provider := &countingProvider{info: device.Info{Platform: "ios", Model: "iPhone"}}
	b := NewB(store.NewMemStore(), provider, "2.0.0")
	b.now = func() time.Time { return time.UnixMilli(1000) }

	first, err := b.Build()
	require.NoError(t, err)

	b.now = func() time.Time { return time.UnixMilli(2000) }
	second, err := b.Build()
	require.NoError(t, err)
	require.NotEqual(t, first.Attestation, second.Attestation)
}

func TestGateBFallsBackOnInfoError(t *testing.T) {
	provider := &countingProvider{err: errors.New("no bridge")}
	b := NewB(store.NewMemStore(), provider, "2.0.0")

	payload, err := b.Build()
	require.NoError(t, err)
	require.Equal(t, device.FallbackInfo().Platform, payload.DeviceInfo.Platform)
	require.Len(t, payload.Attestation, 64)
}

type staticLocator struct {
	pos Position
	err error
}

func (l staticLocator) Position(context.Context) (Position, error) { return l.pos, l.err }

type blockingLocator struct{}

func (blockingLocator) Position(ctx context.Context) (Position, error) {
	<-ctx.Done()
	return Position{}, ctx.Err()
}

func TestGateCBuildsPayload(t *testing.T) {
	acc := 12.5
	c := NewC(staticLocator{pos: Position{Latitude: 48.85, Longitude: 2.35, Accuracy: &acc, Timestamp: 42}}, 0)

	payload := c.Build(context.Background())
	require.NotNil(t, payload)
	require.Equal(t, 48.85, payload.GPS.Latitude)
	require.Equal(t, 2.35, payload.GPS.Longitude)
	require.Equal(t, &acc, payload.GPS.Accuracy)
	require.Equal(t, int64(42), payload.ClientTimestamp)
}

func TestGateCNilLocator(t *testing.T) {
	require.Nil(t, NewC(nil, 0).Build(context.Background()))
}

func TestGateCDegradesOnError(t *testing.T) {
	c := NewC(staticLocator{err: errors.New("permission denied")}, 0)
	require.Nil(t, c.Build(context.Background()))
}

func TestGateCTimesOut(t *testing.T) {
	c := NewC(blockingLocator{}, 20*time.Millisecond)
	start := time.Now()
	require.Nil(t, c.Build(context.Background()))
	require.Less(t, time.Since(start), 5*time.Second)
}
