package assess

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// NoImageSentinel is the image reference passed by capture surfaces that
// scanned a code without taking a photo.
const NoImageSentinel = "scan-mode-no-image"

const (
	stubModelName    = "geocode-sim"
	stubModelVersion = "1.0.0-sim"

	// DetectionThreshold is the confidence above which the stub reports a
	// detection. Provisional policy constant, not a security guarantee.
	DetectionThreshold = 0.5
)

// StubAssessor simulates geocode inference with a deterministic confidence
// derived from the image reference. It stands in for the ONNX runtime the
// mobile builds ship with.
type StubAssessor struct{}

func (StubAssessor) Assess(_ context.Context, imageRef string) (Assessment, error) {
	if imageRef == "" || imageRef == NoImageSentinel {
		return Assessment{
			Verdict:      NotDetected,
			Mode:         ModeStub,
			Status:       RunSuccess,
			ModelName:    stubModelName,
			ModelVersion: stubModelVersion,
			Reason:       "NO_IMAGE",
		}, nil
	}

	conf := simulateConfidence(imageRef)
	a := Assessment{
		Verdict:      NotDetected,
		Confidence:   &conf,
		Mode:         ModeStub,
		Status:       RunSuccess,
		ModelName:    stubModelName,
		ModelVersion: stubModelVersion,
	}
	if conf >= DetectionThreshold {
		a.Verdict = Detected
		a.DetectedID = newGeocodeID()
	}
	return a, nil
}

// simulateConfidence maps the image reference to a confidence in [0.3, 0.8)
// using a 32-bit string hash, so repeated assessments of the same image agree.
func simulateConfidence(imageRef string) float64 {
	var h int32
	n := len(imageRef)
	if n > 1000 {
		n = 1000
	}
	for i := 0; i < n; i++ {
		h = (h << 5) - h + int32(imageRef[i])
	}
	m := int64(h) % 1000
	if m < 0 {
		m = -m
	}
	return 0.3 + float64(m)/1000*0.5
}

func newGeocodeID() string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return "GEO-" + raw[:12]
}
