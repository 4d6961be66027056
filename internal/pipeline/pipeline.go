// Package pipeline orchestrates one evidence capture end to end: parse the
// scanned code, assess the image, optionally negotiate with the verification
// server, then canonicalize, sign and append the evidence pack to the local
// ledger. One Run per user capture; the host must not run two concurrently
// against the same storage slot.
package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"geocam/internal/api"
	"geocam/internal/assess"
	"geocam/internal/canonical"
	"geocam/internal/device"
	"geocam/internal/gates"
	"geocam/internal/ledger"
	"geocam/internal/logutil"
	"geocam/internal/qr"
	"geocam/internal/store"
)

// PackVersion is the evidence pack schema version.
const PackVersion = "2.0"

// VerifyStatus is the client-facing verdict for one attempt.
type VerifyStatus string

const (
	StatusValid   VerifyStatus = "VALID"
	StatusSuspect VerifyStatus = "SUSPECT"
	StatusInvalid VerifyStatus = "INVALID"
	StatusUnknown VerifyStatus = "UNKNOWN"
)

// Client-local error codes. Server-signaled codes pass through verbatim.
const (
	CodeCancelled     = "CANCELLED"
	CodeCanonicalize  = "CANONICALIZE_FAILED"
	CodeSigningFailed = "SIGNING_FAILED"
	CodeLedgerAppend  = "LEDGER_APPEND_FAILED"
	CodeNetworkError  = "NETWORK_ERROR"
)

// GateSet selects which trust gates are attached to server requests.
type GateSet struct {
	A, B, C bool
}

// AllGates enables every gate.
func AllGates() GateSet { return GateSet{A: true, B: true, C: true} }

// Config selects the pipeline variant. One orchestrator serves the offline,
// server-integrated and gate-augmented flows; there are no parallel
// implementations.
type Config struct {
	UseServerVerification bool
	EnabledGates          GateSet

	// ValidThreshold is the local-fallback confidence at or above which a
	// detection maps to VALID. Provisional policy constant.
	ValidThreshold float64

	AppVersion      string
	LocationTimeout time.Duration
}

// DefaultConfig returns the offline defaults with all gates enabled.
func DefaultConfig() Config {
	return Config{
		EnabledGates:   AllGates(),
		ValidThreshold: 0.8,
		AppVersion:     "2.0.0",
	}
}

// Input is one capture event handed in by the UI layer.
type Input struct {
	CodeRaw           string
	ImageRef          string
	GeoBucket         string
	DeviceFingerprint string
}

// Output reports what happened to one capture attempt.
type Output struct {
	OK           bool
	RecordID     string
	PackHash     string
	CodeStatus   qr.Status
	VerifyStatus VerifyStatus
	ErrorCode    string
	Confidence   *float64
}

// RegisterOutcome reports a register attempt.
type RegisterOutcome struct {
	Success     bool
	Status      api.RegisterStatus
	ActivatedAt string
	ErrorCode   string
}

// Deps are the injected collaborators. API may be nil for offline installs;
// Geo may be nil on platforms without location hardware.
type Deps struct {
	Store    store.KV
	Keys     *device.Manager
	Ledger   *ledger.Ledger
	Assessor assess.Assessor
	Info     device.InfoProvider
	Geo      gates.Geolocator
	API      *api.Client
	Log      *logutil.Logger
}

// Pipeline is the orchestrator. It owns gate construction: gates are built
// fresh inside each request and never accepted pre-built from a prior step.
type Pipeline struct {
	cfg   Config
	deps  Deps
	gateA *gates.A
	gateB *gates.B
	gateC *gates.C
	now   func() time.Time
}

// New wires a pipeline from its configuration and collaborators.
func New(cfg Config, deps Deps) *Pipeline {
	if cfg.ValidThreshold == 0 {
		cfg.ValidThreshold = 0.8
	}
	if deps.Log == nil {
		deps.Log = logutil.Discard()
	}
	return &Pipeline{
		cfg:   cfg,
		deps:  deps,
		gateA: gates.NewA(deps.Keys),
		gateB: gates.NewB(deps.Store, deps.Info, cfg.AppVersion),
		gateC: gates.NewC(deps.Geo, cfg.LocationTimeout),
		now:   time.Now,
	}
}

// Run executes the full evidence pipeline for one capture. Every run with a
// non-invalid code is hashed, signed and appended to the ledger regardless of
// the verify outcome, so failed and uncertain attempts leave an audit trail
// too.
func (p *Pipeline) Run(ctx context.Context, in Input) Output {
	parsed := qr.Parse(in.CodeRaw)
	out := Output{CodeStatus: parsed.Status}

	if parsed.Status == qr.StatusInvalid {
		out.VerifyStatus = StatusInvalid
		out.ErrorCode = string(parsed.ErrorKind)
		return out
	}
	p.deps.Log.Info("pipeline: code status %s", parsed.Status)

	assessment, _ := assess.WithRetry(p.deps.Assessor).Assess(ctx, in.ImageRef)
	out.Confidence = assessment.Confidence

	verdict, srvRecord, fatalCode := p.verify(ctx, parsed, in, assessment)
	out.VerifyStatus = verdict
	out.ErrorCode = fatalCode

	// A cancel during verification stops the run before anything is signed.
	// Once signing happens below, the append always follows.
	if err := ctx.Err(); err != nil {
		out.VerifyStatus = StatusUnknown
		out.ErrorCode = CodeCancelled
		return out
	}

	pack := p.buildPack(parsed, in, assessment, srvRecord)
	packCanonical, err := canonical.Canonicalize(pack)
	if err != nil {
		p.deps.Log.Error("pipeline: canonicalize: %v", err)
		out.OK = false
		out.ErrorCode = CodeCanonicalize
		return out
	}
	packHash := canonical.Hash(packCanonical)

	if _, err := p.deps.Keys.EnsureKeypair(); err != nil {
		p.deps.Log.Error("pipeline: ensure keypair: %v", err)
		out.ErrorCode = CodeSigningFailed
		return out
	}
	signed, err := p.deps.Keys.Sign([]byte(packCanonical))
	if err != nil {
		// Never append an unsigned pack.
		p.deps.Log.Error("pipeline: sign: %v", err)
		out.ErrorCode = CodeSigningFailed
		return out
	}

	recordID, err := p.deps.Ledger.Append(
		packCanonical,
		packHash,
		base64.StdEncoding.EncodeToString(signed.Signature),
		signed.KeyID,
	)
	if err != nil {
		p.deps.Log.Error("pipeline: ledger append: %v", err)
		out.ErrorCode = CodeLedgerAppend
		return out
	}

	out.RecordID = recordID
	out.PackHash = packHash
	out.OK = fatalCode == "" && (verdict == StatusValid || verdict == StatusSuspect)
	return out
}

// verify resolves the verdict for this attempt: the server's when a round
// trip is configured and possible, the local fallback mapping otherwise.
// fatalCode is non-empty when the server rejected the attempt with an
// application error; those pass through verbatim and bypass the fallback.
func (p *Pipeline) verify(ctx context.Context, parsed qr.ParsedCode, in Input, a assess.Assessment) (VerifyStatus, map[string]any, string) {
	if !p.cfg.UseServerVerification || p.deps.API == nil || !parsed.Found() {
		return localVerdict(a, p.cfg.ValidThreshold), nil, ""
	}

	deviceID, err := device.EnsureDeviceID(p.deps.Store)
	if err != nil {
		p.deps.Log.Error("pipeline: device id: %v", err)
		return localVerdict(a, p.cfg.ValidThreshold), serverRecord("error", "", nil), ""
	}

	start, err := p.deps.API.ScanStart(ctx, api.ScanStartRequest{
		QRPayload:  parsed.Code,
		DeviceID:   deviceID,
		AppVersion: p.cfg.AppVersion,
	})
	if err != nil {
		if code, fatal := fatalServerCode(err); fatal {
			return StatusUnknown, serverRecord("error", code, nil), code
		}
		p.deps.Log.Warn("pipeline: scan start failed, using local verdict: %v", err)
		return localVerdict(a, p.cfg.ValidThreshold), serverRecord("unreachable", "", nil), ""
	}

	req, err := p.buildVerifyRequest(ctx, start, parsed.Code, in, a)
	if err != nil {
		p.deps.Log.Error("pipeline: build gates: %v", err)
		return StatusUnknown, serverRecord("error", "", nil), ""
	}

	resp, err := p.deps.API.Verify(ctx, req)
	if err != nil {
		if code, fatal := fatalServerCode(err); fatal {
			return StatusUnknown, serverRecord("error", code, nil), code
		}
		p.deps.Log.Warn("pipeline: verify unreachable: %v", err)
		return StatusUnknown, serverRecord("unreachable", "", nil), ""
	}

	return mapServerResult(resp.Result), serverRecord("success", "", resp), ""
}

// buildVerifyRequest assembles the request, minting all enabled gates fresh.
// The independent builders run concurrently; none may fail the attempt except
// gate A, whose signature the server requires to be present and fresh.
func (p *Pipeline) buildVerifyRequest(ctx context.Context, start *api.ScanStartResponse, claimID string, in Input, a assess.Assessment) (api.VerifyRequest, error) {
	req := api.VerifyRequest{
		SessionToken:     start.SessionToken,
		Nonce:            start.Nonce,
		ImageData:        in.ImageRef,
		ClientConfidence: a.Confidence,
		DeviceInfo:       api.DeviceInfo{Platform: "unknown", Model: "Unknown", OSVersion: "Unknown"},
	}

	g, _ := errgroup.WithContext(ctx)

	if p.cfg.EnabledGates.A {
		g.Go(func() error {
			sig, err := p.gateA.Sign(start.Nonce, claimID)
			if err != nil {
				return err
			}
			req.Signature = sig.Signature
			req.PublicKey = sig.PublicKey
			req.ClientTimestamp = sig.ClientTimestamp
			return nil
		})
	}
	if p.cfg.EnabledGates.B {
		g.Go(func() error {
			payload, err := p.gateB.Build()
			if err != nil {
				p.deps.Log.Warn("pipeline: gate B degraded: %v", err)
				return nil
			}
			req.AppAttestation = payload.Attestation
			req.DeviceInfo = api.DeviceInfo{
				Platform:  payload.DeviceInfo.Platform,
				Model:     payload.DeviceInfo.Model,
				OSVersion: payload.DeviceInfo.OSVersion,
			}
			return nil
		})
	}
	if p.cfg.EnabledGates.C {
		g.Go(func() error {
			if payload := p.gateC.Build(ctx); payload != nil {
				req.GPS = &payload.GPS
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return api.VerifyRequest{}, err
	}
	return req, nil
}

// Register claims the item after verification. Gates are rebuilt from
// scratch; payloads from the verify step are never reused.
func (p *Pipeline) Register(ctx context.Context, sessionToken, claimID, nonce string, verificationConfidence float64) RegisterOutcome {
	if p.deps.API == nil {
		return RegisterOutcome{Status: api.RegisterFailed, ErrorCode: CodeNetworkError}
	}

	req := api.RegisterRequest{
		SessionToken:           sessionToken,
		Nonce:                  nonce,
		DinaID:                 claimID,
		VerificationConfidence: verificationConfidence,
	}

	g, _ := errgroup.WithContext(ctx)
	if p.cfg.EnabledGates.A {
		g.Go(func() error {
			sig, err := p.gateA.Sign(nonce, claimID)
			if err != nil {
				return err
			}
			req.Signature = sig.Signature
			req.PublicKey = sig.PublicKey
			req.ClientTimestamp = sig.ClientTimestamp
			return nil
		})
	}
	if p.cfg.EnabledGates.B {
		g.Go(func() error {
			payload, err := p.gateB.Build()
			if err != nil {
				p.deps.Log.Warn("pipeline: gate B degraded: %v", err)
				return nil
			}
			req.AppAttestation = payload.Attestation
			req.DeviceInfo = &api.DeviceInfo{
				Platform:  payload.DeviceInfo.Platform,
				Model:     payload.DeviceInfo.Model,
				OSVersion: payload.DeviceInfo.OSVersion,
			}
			return nil
		})
	}
	if p.cfg.EnabledGates.C {
		g.Go(func() error {
			if payload := p.gateC.Build(ctx); payload != nil {
				req.GPS = &payload.GPS
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		p.deps.Log.Error("pipeline: register gates: %v", err)
		return RegisterOutcome{Status: api.RegisterFailed, ErrorCode: CodeSigningFailed}
	}

	resp, err := p.deps.API.Register(ctx, req)
	if err != nil {
		if code, fatal := fatalServerCode(err); fatal {
			return RegisterOutcome{Status: api.RegisterFailed, ErrorCode: code}
		}
		if errors.Is(err, api.ErrNetwork) {
			return RegisterOutcome{Status: api.RegisterFailed, ErrorCode: CodeNetworkError}
		}
		if apiErr, ok := api.AsError(err); ok {
			return RegisterOutcome{Status: api.RegisterFailed, ErrorCode: apiErr.Code}
		}
		return RegisterOutcome{Status: api.RegisterFailed, ErrorCode: CodeNetworkError}
	}

	return RegisterOutcome{
		Success:     resp.Success,
		Status:      resp.Status,
		ActivatedAt: resp.ActivatedAt,
	}
}

// buildPack assembles the evidence record. Meaningful absences (no code
// presented, no geo bucket) are explicit nulls; semantically absent fields
// (no OTP, no confidence, no server consult) are omitted entirely so the
// canonical form stays injective on content.
func (p *Pipeline) buildPack(parsed qr.ParsedCode, in Input, a assess.Assessment, srv map[string]any) map[string]any {
	var code any
	if parsed.Found() {
		code = parsed.Code
	}
	var otp any = canonical.Absent
	if parsed.OTP != "" {
		otp = parsed.OTP
	}
	var geoBucket any
	if in.GeoBucket != "" {
		geoBucket = in.GeoBucket
	}

	var confidence any = canonical.Absent
	if a.Confidence != nil {
		confidence = *a.Confidence
	}
	var detectedID any = canonical.Absent
	if a.DetectedID != "" {
		detectedID = a.DetectedID
	}

	pack := map[string]any{
		"version":                 PackVersion,
		"qr_status":               string(parsed.Status),
		"dina_code":               code,
		"otp":                     otp,
		"image_uri":               in.ImageRef,
		"geo_bucket":              geoBucket,
		"device_fingerprint_hash": in.DeviceFingerprint,
		"geocode": map[string]any{
			"status":        string(a.Verdict),
			"geocode_id":    detectedID,
			"confidence":    confidence,
			"ai_mode":       string(a.Mode),
			"ai_status":     string(a.Status),
			"model_name":    a.ModelName,
			"model_version": a.ModelVersion,
		},
		"timestamp": p.now().UTC().Format(time.RFC3339Nano),
	}
	if srv != nil {
		pack["server"] = srv
	} else {
		pack["server"] = canonical.Absent
	}
	return pack
}

// localVerdict is the fallback mapping used without a server verdict: a
// detection at or above the threshold is VALID, any weaker detection is
// SUSPECT, no detection is INVALID, and a skipped or failed assessment is
// UNKNOWN.
func localVerdict(a assess.Assessment, validThreshold float64) VerifyStatus {
	switch a.Verdict {
	case assess.Detected:
		if a.Confidence != nil && *a.Confidence >= validThreshold {
			return StatusValid
		}
		return StatusSuspect
	case assess.NotDetected:
		return StatusInvalid
	default:
		return StatusUnknown
	}
}

func mapServerResult(r api.VerifyResult) VerifyStatus {
	switch r {
	case api.ResultValid:
		return StatusValid
	case api.ResultUncertain:
		return StatusSuspect
	case api.ResultInvalid:
		return StatusInvalid
	default:
		return StatusUnknown
	}
}

// fatalServerCode reports whether err carries a server application code the
// client must surface verbatim without retrying or falling back.
func fatalServerCode(err error) (string, bool) {
	apiErr, ok := api.AsError(err)
	if !ok {
		return "", false
	}
	switch apiErr.Code {
	case api.CodeRateLimitExceeded, api.CodeBatchNotShipped, api.CodeBatchTemporarilyLocked:
		return apiErr.Code, true
	}
	return "", false
}

func serverRecord(status, errorCode string, resp *api.VerifyResponse) map[string]any {
	rec := map[string]any{"status": status}
	if errorCode != "" {
		rec["error_code"] = errorCode
	}
	if resp != nil {
		rec["result"] = string(resp.Result)
		rec["confidence"] = resp.Confidence
		if resp.TrustLevel != "" {
			rec["trust_level"] = resp.TrustLevel
		}
	}
	return rec
}
