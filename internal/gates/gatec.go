package gates

import (
	"context"
	"time"
)

// DefaultLocationTimeout bounds how long gate C waits for a fix.
const DefaultLocationTimeout = 10 * time.Second

// Position is one geolocation reading. Accuracy is nil when the provider
// reports none.
type Position struct {
	Latitude  float64
	Longitude float64
	Accuracy  *float64
	Timestamp int64
}

// Geolocator is the location capability. Implementations may block until the
// context expires and may fail on permission denial or missing hardware.
type Geolocator interface {
	Position(ctx context.Context) (Position, error)
}

// GPS is the coordinate part of the gate C payload.
type GPS struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
}

// CPayload is the gate C payload.
type CPayload struct {
	GPS             GPS   `json:"gps"`
	ClientTimestamp int64 `json:"client_timestamp"`
}

// C collects best-effort location readings. Location is advisory: every
// failure mode degrades to a nil payload, never an error.
type C struct {
	geo     Geolocator
	timeout time.Duration
}

// NewC returns the gate C builder. A nil geolocator means the platform has
// no location capability; Build then always returns nil.
func NewC(geo Geolocator, timeout time.Duration) *C {
	if timeout <= 0 {
		timeout = DefaultLocationTimeout
	}
	return &C{geo: geo, timeout: timeout}
}

// Build queries the locator under a bounded timeout. Permission denial,
// timeout and unsupported platforms all yield nil.
func (c *C) Build(ctx context.Context) *CPayload {
	if c.geo == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	pos, err := c.geo.Position(ctx)
	if err != nil {
		return nil
	}
	ts := pos.Timestamp
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	return &CPayload{
		GPS: GPS{
			Latitude:  pos.Latitude,
			Longitude: pos.Longitude,
			Accuracy:  pos.Accuracy,
		},
		ClientTimestamp: ts,
	}
}
