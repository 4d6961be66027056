// Package assess defines the AI assessment capability consumed by the
// evidence pipeline and a deterministic stub runner used until an on-device
// inference runtime is wired in.
package assess

import "context"

// Verdict is the detection outcome for one image.
type Verdict string

const (
	Detected    Verdict = "DETECTED"
	NotDetected Verdict = "NOT_DETECTED"
	Skipped     Verdict = "SKIPPED"
	Errored     Verdict = "ERROR"
)

// Mode says whether a real model produced the result.
type Mode string

const (
	ModeReal Mode = "real"
	ModeStub Mode = "stub"
)

// RunStatus describes how the inference attempt itself went.
type RunStatus string

const (
	RunSuccess     RunStatus = "success"
	RunSkipped     RunStatus = "skipped"
	RunUnavailable RunStatus = "unavailable"
)

// Assessment is the full AI signal recorded in an evidence pack. Confidence
// is nil when the model produced no score.
type Assessment struct {
	Verdict      Verdict
	DetectedID   string
	Confidence   *float64
	Mode         Mode
	Status       RunStatus
	ModelName    string
	ModelVersion string
	Reason       string
}

// Assessor is the AI capability: given an image reference, return a verdict
// with an optional confidence, or an error. Callers must not let an error
// abort the pipeline; wrap with WithRetry to degrade instead.
type Assessor interface {
	Assess(ctx context.Context, imageRef string) (Assessment, error)
}

// Degraded returns the in-band assessment recorded when the capability is
// unavailable after retry.
func Degraded(name, version, reason string) Assessment {
	return Assessment{
		Verdict:      Skipped,
		Mode:         ModeStub,
		Status:       RunUnavailable,
		ModelName:    name,
		ModelVersion: version,
		Reason:       reason,
	}
}

type retrying struct {
	inner Assessor
}

// WithRetry wraps an assessor with the uniform try-once-more-then-degrade
// policy: a second failure converts the error into a SKIPPED assessment so
// the pipeline continues with an in-band marker.
func WithRetry(inner Assessor) Assessor {
	return retrying{inner: inner}
}

func (r retrying) Assess(ctx context.Context, imageRef string) (Assessment, error) {
	a, err := r.inner.Assess(ctx, imageRef)
	if err == nil {
		return a, nil
	}
	if ctx.Err() != nil {
		return Degraded("", "", ctx.Err().Error()), nil
	}
	a, err = r.inner.Assess(ctx, imageRef)
	if err == nil {
		return a, nil
	}
	return Degraded("", "", err.Error()), nil
}
