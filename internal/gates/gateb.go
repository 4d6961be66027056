package gates

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"geocam/internal/canonical"
	"geocam/internal/device"
	"geocam/internal/store"
)

// BPayload is the gate B device-identity payload. AppAttestation is a
// placeholder digest scheme, not a platform attestation; servers must not
// treat it as cryptographically strong.
// TODO: replace the digest scheme with Play Integrity / App Attest verdicts
// once the server accepts them.
type BPayload struct {
	DeviceInfo  device.Info `json:"device_info"`
	Attestation string      `json:"app_attestation"`
}

// B builds device-identity payloads. Device-info lookups are cached for the
// process lifetime; the attestation digest is recomputed with a fresh
// timestamp on every build.
type B struct {
	kv         store.KV
	info       device.InfoProvider
	appVersion string
	now        func() time.Time

	mu     sync.Mutex
	cached *device.Info
}

// NewB returns the gate B builder.
func NewB(kv store.KV, info device.InfoProvider, appVersion string) *B {
	return &B{kv: kv, info: info, appVersion: appVersion, now: time.Now}
}

// Build assembles the payload. An unavailable device-info capability degrades
// to the generic fallback descriptor rather than failing.
func (b *B) Build() (BPayload, error) {
	info := b.deviceInfo()

	deviceID, err := device.EnsureDeviceID(b.kv)
	if err != nil {
		return BPayload{}, fmt.Errorf("gates: device id: %w", err)
	}

	nativeID := info.NativeID
	if nativeID == "" {
		nativeID = "web"
	}

	input := strings.Join([]string{
		deviceID,
		nativeID,
		b.appVersion,
		info.Platform,
		info.Model,
		strconv.FormatInt(b.now().UnixMilli(), 10),
	}, ":")

	return BPayload{DeviceInfo: info, Attestation: canonical.Hash(input)}, nil
}

func (b *B) deviceInfo() device.Info {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cached != nil {
		return *b.cached
	}
	info, err := b.info.Info()
	if err != nil {
		info = device.FallbackInfo()
	}
	b.cached = &info
	return info
}
