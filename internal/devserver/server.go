// Package devserver implements the verification server's wire contract for
// local development and tests. Its decision policy is intentionally simple;
// the production backend owns the real one.
package devserver

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"geocam/internal/api"
	"geocam/internal/qr"
)

// Config tunes the dev server's policy knobs.
type Config struct {
	ValidThreshold   float64 // verify confidence at or above this is VALID
	SuspectThreshold float64 // at or above this is UNCERTAIN, below INVALID
	MaxAttempts      int     // verify attempts per session
	ScanRateLimit    int     // scan/start calls per device before 429
	NonceTTL         time.Duration
}

// DefaultConfig matches the production defaults the client is tuned against.
func DefaultConfig() Config {
	return Config{
		ValidThreshold:   0.8,
		SuspectThreshold: 0.5,
		MaxAttempts:      3,
		ScanRateLimit:    10,
		NonceTTL:         5 * time.Minute,
	}
}

// Batch seeds one known item into the server.
type Batch struct {
	DinaID     string `json:"dina_id"`
	SeriesName string `json:"series_name"`
	BatchID    string `json:"batch_id"`
	Shipped    bool   `json:"shipped"`
	Locked     bool   `json:"locked"`
}

type asset struct {
	Batch
	Activated   bool
	ActivatedAt string
	CreatedAt   string
}

type session struct {
	Token     string
	Nonce     string
	DinaID    string
	DeviceID  string
	ExpiresAt time.Time
	Attempts  int
}

// Server holds the in-memory state behind the dev endpoints.
type Server struct {
	cfg Config

	mu        sync.Mutex
	assets    map[string]*asset
	sessions  map[string]*session
	scanCount map[string]int
}

// New returns a server seeded with the given batches.
func New(cfg Config, batches []Batch) *Server {
	s := &Server{
		cfg:       cfg,
		assets:    make(map[string]*asset),
		sessions:  make(map[string]*session),
		scanCount: make(map[string]int),
	}
	now := time.Now().UTC().Format(time.RFC3339)
	for _, b := range batches {
		s.assets[b.DinaID] = &asset{Batch: b, CreatedAt: now}
	}
	return s
}

// Router wires the wire-contract endpoints.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/geocam/scan/start", s.handleScanStart).Methods("POST")
	r.HandleFunc("/geocam/verify", s.handleVerify).Methods("POST")
	r.HandleFunc("/geocam/register", s.handleRegister).Methods("POST")
	r.HandleFunc("/geocam/status/{id}", s.handleStatus).Methods("GET")
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	}).Methods("GET")
	return r
}

func (s *Server) handleScanStart(w http.ResponseWriter, r *http.Request) {
	var req api.ScanStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST")
		return
	}

	parsed := qr.Parse(req.QRPayload)
	if parsed.Status == qr.StatusInvalid {
		writeError(w, http.StatusBadRequest, "DINA_NOT_FOUND")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.scanCount[req.DeviceID]++
	if s.cfg.ScanRateLimit > 0 && s.scanCount[req.DeviceID] > s.cfg.ScanRateLimit {
		writeError(w, http.StatusTooManyRequests, api.CodeRateLimitExceeded)
		return
	}

	resp := api.ScanStartResponse{Success: true, AssetStatus: api.AssetUnknown}
	if a, ok := s.assets[parsed.Code]; ok {
		if a.Locked {
			writeError(w, http.StatusConflict, api.CodeBatchTemporarilyLocked)
			return
		}
		if !a.Shipped {
			writeError(w, http.StatusConflict, api.CodeBatchNotShipped)
			return
		}
		resp.AssetStatus = api.AssetShipped
		if a.Activated {
			resp.AssetStatus = api.AssetActivated
		}
		resp.AssetInfo = &api.AssetInfo{
			DinaID:     a.DinaID,
			SeriesName: a.SeriesName,
			BatchID:    a.BatchID,
			CreatedAt:  a.CreatedAt,
		}
	}

	sess := &session{
		Token:     "SES-" + uuid.NewString(),
		Nonce:     hex.EncodeToString([]byte(uuid.NewString()))[:32],
		DinaID:    parsed.Code,
		DeviceID:  req.DeviceID,
		ExpiresAt: time.Now().Add(s.cfg.NonceTTL),
	}
	s.sessions[sess.Token] = sess

	resp.SessionToken = sess.Token
	resp.Nonce = sess.Nonce
	resp.TTLSeconds = int(s.cfg.NonceTTL.Seconds())
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req api.VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[req.SessionToken]
	if !ok || sess.Nonce != req.Nonce || time.Now().After(sess.ExpiresAt) {
		writeError(w, http.StatusUnauthorized, "SESSION_INVALID")
		return
	}

	sess.Attempts++
	remaining := s.cfg.MaxAttempts - sess.Attempts
	if remaining < 0 {
		writeError(w, http.StatusTooManyRequests, api.CodeRateLimitExceeded)
		return
	}

	gateResults := []api.GateResult{
		s.checkGateA(sess, req),
		checkGateB(req),
		checkGateC(req),
	}
	allPassed := true
	for _, g := range gateResults {
		if !g.Passed {
			allPassed = false
		}
	}

	confidence := 0.0
	if req.ClientConfidence != nil {
		confidence = *req.ClientConfidence
	}

	result := api.ResultInvalid
	switch {
	case confidence >= s.cfg.ValidThreshold:
		result = api.ResultValid
	case confidence >= s.cfg.SuspectThreshold:
		result = api.ResultUncertain
	}

	trust := "L1_OBSERVATION"
	if result == api.ResultValid && allPassed {
		trust = "L2_VERIFIED"
	}

	writeJSON(w, http.StatusOK, api.VerifyResponse{
		Success:           true,
		Result:            result,
		Confidence:        confidence,
		MatchedDinaID:     sess.DinaID,
		TrustLevel:        trust,
		GateResults:       gateResults,
		RetryAllowed:      remaining > 0,
		RemainingAttempts: remaining,
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[req.SessionToken]
	if !ok || sess.Nonce != req.Nonce {
		writeError(w, http.StatusUnauthorized, "SESSION_INVALID")
		return
	}

	a, ok := s.assets[req.DinaID]
	if !ok || !a.Shipped {
		writeError(w, http.StatusConflict, api.CodeBatchNotShipped)
		return
	}
	if a.Activated {
		writeJSON(w, http.StatusOK, api.RegisterResponse{
			Success:     true,
			Status:      api.RegisterAlreadyActivated,
			ActivatedAt: a.ActivatedAt,
		})
		return
	}

	a.Activated = true
	a.ActivatedAt = time.Now().UTC().Format(time.RFC3339)
	writeJSON(w, http.StatusOK, api.RegisterResponse{
		Success:     true,
		Status:      api.RegisterActivated,
		ActivatedAt: a.ActivatedAt,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assets[id]
	if !ok {
		writeJSON(w, http.StatusOK, api.StatusResponse{DinaID: id, Status: api.AssetUnknown})
		return
	}
	status := api.AssetShipped
	if a.Activated {
		status = api.AssetActivated
	}
	writeJSON(w, http.StatusOK, api.StatusResponse{
		DinaID:      a.DinaID,
		Status:      status,
		SeriesName:  a.SeriesName,
		ActivatedAt: a.ActivatedAt,
		IsAuthentic: true,
	})
}

// checkGateA verifies the claim signature over nonce+dina+timestamp with the
// submitted SPKI-wrapped public key.
func (s *Server) checkGateA(sess *session, req api.VerifyRequest) api.GateResult {
	res := api.GateResult{Gate: "A", Name: "claim signature"}
	if req.Signature == "" || req.PublicKey == "" {
		res.Reason = "missing signature"
		return res
	}
	sig, err := hex.DecodeString(req.Signature)
	if err != nil {
		res.Reason = "malformed signature"
		return res
	}
	spki, err := hex.DecodeString(req.PublicKey)
	if err != nil || len(spki) != 12+ed25519.PublicKeySize {
		res.Reason = "malformed public key"
		return res
	}
	pub := ed25519.PublicKey(spki[12:])
	message := sess.Nonce + sess.DinaID + strconv.FormatInt(req.ClientTimestamp, 10)
	if len(sig) != ed25519.SignatureSize || !ed25519.Verify(pub, []byte(message), sig) {
		res.Reason = "signature mismatch"
		return res
	}
	res.Passed = true
	return res
}

func checkGateB(req api.VerifyRequest) api.GateResult {
	res := api.GateResult{Gate: "B", Name: "device attestation"}
	if len(req.AppAttestation) < 32 {
		res.Reason = "attestation too short"
		return res
	}
	res.Passed = true
	return res
}

func checkGateC(req api.VerifyRequest) api.GateResult {
	res := api.GateResult{Gate: "C", Name: "location"}
	if req.GPS == nil {
		res.Reason = "no location"
		return res
	}
	res.Passed = true
	return res
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]any{"success": false, "error": code})
}
