package device

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"geocam/internal/store"
)

// IDSlot is the storage key holding the minted device identifier.
const IDSlot = "geocam_device_id"

// EnsureDeviceID returns the install's device identifier, minting and
// persisting one on first call. The id is shared by gate B and the session
// handshake so the server sees a single identity per install.
func EnsureDeviceID(kv store.KV) (string, error) {
	data, found, err := kv.Get(IDSlot)
	if err != nil {
		return "", fmt.Errorf("device: load id: %w", err)
	}
	if found && len(data) > 0 {
		return string(data), nil
	}
	raw := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	id := "DEV-" + raw[:12]
	if err := kv.Set(IDSlot, []byte(id)); err != nil {
		return "", fmt.Errorf("device: persist id: %w", err)
	}
	return id, nil
}
