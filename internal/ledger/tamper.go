package ledger

import "time"

// Advisory tamper signals derived around the chain. These annotate evidence
// packs; they are never a verification verdict on their own.

// DriftFlag classifies the gap between the client and server clocks.
type DriftFlag string

const (
	DriftNormal  DriftFlag = "NORMAL"
	DriftMinor   DriftFlag = "MINOR_DRIFT"
	DriftMajor   DriftFlag = "MAJOR_DRIFT"
	DriftUnknown DriftFlag = "UNKNOWN"
)

// TimeDrift is the measured local/server clock gap.
type TimeDrift struct {
	DiffMillis int64     `json:"local_server_diff_ms"`
	Flag       DriftFlag `json:"drift_flag"`
}

// CalculateTimeDrift classifies the absolute gap between a local and a server
// timestamp: under 5s is normal, under 60s minor, anything above major. A
// zero server time yields UNKNOWN.
func CalculateTimeDrift(local, server time.Time) TimeDrift {
	if server.IsZero() {
		return TimeDrift{DiffMillis: -1, Flag: DriftUnknown}
	}
	diff := local.Sub(server)
	if diff < 0 {
		diff = -diff
	}
	ms := diff.Milliseconds()
	flag := DriftMajor
	switch {
	case ms < 5000:
		flag = DriftNormal
	case ms < 60000:
		flag = DriftMinor
	}
	return TimeDrift{DiffMillis: ms, Flag: flag}
}

// GeoHistory summarizes recent geo-bucket movement for one device.
type GeoHistory struct {
	PreviousBuckets     []string `json:"previous_buckets"`
	BucketChangeCount   int      `json:"bucket_change_count"`
	RapidChangeDetected bool     `json:"rapid_change_detected"`
}

// AnalyzeGeoHistory appends the current bucket (when present) to the history
// and reports how often the bucket changed. Rapid change means at least four
// distinct buckets among the last five observations. Only the last ten
// buckets are retained.
func AnalyzeGeoHistory(currentBucket string, previousBuckets []string) GeoHistory {
	buckets := previousBuckets
	if currentBucket != "" {
		buckets = append(append([]string{}, previousBuckets...), currentBucket)
	}

	changes := 0
	for i := 1; i < len(buckets); i++ {
		if buckets[i] != buckets[i-1] {
			changes++
		}
	}

	recent := buckets
	if len(recent) > 5 {
		recent = recent[len(recent)-5:]
	}
	unique := make(map[string]struct{}, len(recent))
	for _, b := range recent {
		unique[b] = struct{}{}
	}
	rapid := len(recent) >= 4 && len(unique) >= 4

	kept := previousBuckets
	if len(kept) > 10 {
		kept = kept[len(kept)-10:]
	}

	return GeoHistory{
		PreviousBuckets:     kept,
		BucketChangeCount:   changes,
		RapidChangeDetected: rapid,
	}
}
