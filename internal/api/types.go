// Package api is the HTTP client for the remote verification server. Wire
// shapes mirror the GeoStudio backend contract.
package api

import "geocam/internal/gates"

// AssetStatus is the server-side lifecycle state of a claimed item.
type AssetStatus string

const (
	AssetShipped   AssetStatus = "SHIPPED"
	AssetActivated AssetStatus = "ACTIVATED"
	AssetUnknown   AssetStatus = "UNKNOWN"
)

// VerifyResult is the server verdict for one verify attempt.
type VerifyResult string

const (
	ResultValid     VerifyResult = "VALID"
	ResultUncertain VerifyResult = "UNCERTAIN"
	ResultInvalid   VerifyResult = "INVALID"
)

// RegisterStatus is the outcome of a register attempt.
type RegisterStatus string

const (
	RegisterActivated        RegisterStatus = "ACTIVATED"
	RegisterAlreadyActivated RegisterStatus = "ALREADY_ACTIVATED"
	RegisterFailed           RegisterStatus = "FAILED"
)

// Server-signaled application error codes surfaced verbatim to the caller.
const (
	CodeRateLimitExceeded      = "RATE_LIMIT_EXCEEDED"
	CodeBatchNotShipped        = "BATCH_NOT_SHIPPED"
	CodeBatchTemporarilyLocked = "BATCH_TEMPORARILY_LOCKED"
)

type ScanStartRequest struct {
	QRPayload  string `json:"qr_payload"`
	DeviceID   string `json:"device_id"`
	AppVersion string `json:"app_version"`
}

type AssetInfo struct {
	DinaID     string `json:"dina_id"`
	SeriesName string `json:"series_name"`
	BatchID    string `json:"batch_id"`
	CreatedAt  string `json:"created_at"`
}

type ScanStartResponse struct {
	Success      bool        `json:"success"`
	SessionToken string      `json:"session_token"`
	Nonce        string      `json:"nonce"`
	TTLSeconds   int         `json:"ttl_seconds"`
	AssetStatus  AssetStatus `json:"asset_status"`
	AssetInfo    *AssetInfo  `json:"asset_info,omitempty"`
	Error        string      `json:"error,omitempty"`
}

type VerifyRequest struct {
	SessionToken     string     `json:"session_token"`
	Nonce            string     `json:"nonce"`
	ImageData        string     `json:"image_data"`
	ClientConfidence *float64   `json:"client_confidence,omitempty"`
	DeviceInfo       DeviceInfo `json:"device_info"`
	Signature        string     `json:"signature,omitempty"`
	PublicKey        string     `json:"public_key,omitempty"`
	ClientTimestamp  int64      `json:"client_timestamp,omitempty"`
	AppAttestation   string     `json:"app_attestation,omitempty"`
	GPS              *gates.GPS `json:"gps,omitempty"`
}

type DeviceInfo struct {
	Platform  string `json:"platform"`
	Model     string `json:"model"`
	OSVersion string `json:"os_version"`
}

type GateResult struct {
	Gate   string `json:"gate"`
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Reason string `json:"reason,omitempty"`
}

type VerifyResponse struct {
	Success           bool         `json:"success"`
	Result            VerifyResult `json:"result"`
	Confidence        float64      `json:"confidence"`
	MatchedDinaID     string       `json:"matched_dina_id,omitempty"`
	TrustLevel        string       `json:"trust_level,omitempty"`
	GateResults       []GateResult `json:"gate_results,omitempty"`
	DuplicateSuspect  bool         `json:"duplicate_suspect,omitempty"`
	Issues            []string     `json:"issues,omitempty"`
	RetryAllowed      bool         `json:"retry_allowed"`
	RemainingAttempts int          `json:"remaining_attempts"`
	Error             string       `json:"error,omitempty"`
}

type RegisterRequest struct {
	SessionToken           string      `json:"session_token"`
	Nonce                  string      `json:"nonce"`
	DinaID                 string      `json:"dina_id"`
	VerificationConfidence float64     `json:"verification_confidence"`
	DeviceInfo             *DeviceInfo `json:"device_info,omitempty"`
	GPS                    *gates.GPS  `json:"gps,omitempty"`
	Signature              string      `json:"signature,omitempty"`
	PublicKey              string      `json:"public_key,omitempty"`
	ClientTimestamp        int64       `json:"client_timestamp,omitempty"`
	AppAttestation         string      `json:"app_attestation,omitempty"`
}

type RegisterResponse struct {
	Success     bool           `json:"success"`
	Status      RegisterStatus `json:"status"`
	ActivatedAt string         `json:"activated_at,omitempty"`
	Error       string         `json:"error,omitempty"`
}

type StatusResponse struct {
	DinaID      string      `json:"dina_id"`
	Status      AssetStatus `json:"status"`
	SeriesName  string      `json:"series_name,omitempty"`
	ActivatedAt string      `json:"activated_at,omitempty"`
	IsAuthentic bool        `json:"is_authentic"`
}
