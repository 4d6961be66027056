package devserver

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"geocam/internal/api"
	"geocam/internal/device"
	"geocam/internal/gates"
	"geocam/internal/store"
)

const testDina = "DINA-LJH001A7X9K2M"

func newTestServer(t *testing.T, batches ...Batch) (*httptest.Server, *api.Client) {
	t.Helper()
	if batches == nil {
		batches = []Batch{{DinaID: testDina, SeriesName: "Atelier", BatchID: "B1", Shipped: true}}
	}
	ts := httptest.NewServer(New(DefaultConfig(), batches).Router())
	t.Cleanup(ts.Close)
	return ts, api.NewClient(ts.URL, time.Second)
}

func startSession(t *testing.T, c *api.Client) *api.ScanStartResponse {
	t.Helper()
	resp, err := c.ScanStart(context.Background(), api.ScanStartRequest{
		QRPayload: testDina,
		DeviceID:  "DEV-TEST",
	})
	require.NoError(t, err)
	return resp
}

func TestScanStartIssuesSession(t *testing.T) {
	_, c := newTestServer(t)

	resp := startSession(t, c)
	require.True(t, resp.Success)
	require.NotEmpty(t, resp.SessionToken)
	require.Len(t, resp.Nonce, 32)
	require.Equal(t, api.AssetShipped, resp.AssetStatus)
	require.NotNil(t, resp.AssetInfo)
	require.Equal(t, "Atelier", resp.AssetInfo.SeriesName)
}

func TestScanStartRejectsInvalidPayload(t *testing.T) {
	_, c := newTestServer(t)

	_, err := c.ScanStart(context.Background(), api.ScanStartRequest{QRPayload: "garbage"})
	apiErr, ok := api.AsError(err)
	require.True(t, ok)
	require.Equal(t, 400, apiErr.Status)
}

func TestScanStartLockedBatch(t *testing.T) {
	_, c := newTestServer(t, Batch{DinaID: testDina, Shipped: true, Locked: true})

	_, err := c.ScanStart(context.Background(), api.ScanStartRequest{QRPayload: testDina})
	apiErr, ok := api.AsError(err)
	require.True(t, ok)
	require.Equal(t, api.CodeBatchTemporarilyLocked, apiErr.Code)
}

func TestScanStartUnshippedBatch(t *testing.T) {
	_, c := newTestServer(t, Batch{DinaID: testDina, Shipped: false})

	_, err := c.ScanStart(context.Background(), api.ScanStartRequest{QRPayload: testDina})
	apiErr, ok := api.AsError(err)
	require.True(t, ok)
	require.Equal(t, api.CodeBatchNotShipped, apiErr.Code)
}

func TestScanStartRateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ScanRateLimit = 2
	ts := httptest.NewServer(New(cfg, []Batch{{DinaID: testDina, Shipped: true}}).Router())
	t.Cleanup(ts.Close)
	c := api.NewClient(ts.URL, time.Second)

	for i := 0; i < 2; i++ {
		_, err := c.ScanStart(context.Background(), api.ScanStartRequest{QRPayload: testDina, DeviceID: "d"})
		require.NoError(t, err)
	}
	_, err := c.ScanStart(context.Background(), api.ScanStartRequest{QRPayload: testDina, DeviceID: "d"})
	apiErr, ok := api.AsError(err)
	require.True(t, ok)
	require.Equal(t, api.CodeRateLimitExceeded, apiErr.Code)
}

func TestVerifyAcceptsSignedGates(t *testing.T) {
	_, c := newTestServer(t)
	sess := startSession(t, c)

	kv := store.NewMemStore()
	sig, err := gates.NewA(device.NewManager(kv)).Sign(sess.Nonce, testDina)
	require.NoError(t, err)
	bPayload, err := gates.NewB(kv, device.StaticInfoProvider{Value: device.FallbackInfo()}, "2.0.0").Build()
	require.NoError(t, err)

	conf := 0.92
	resp, err := c.Verify(context.Background(), api.VerifyRequest{
		SessionToken:     sess.SessionToken,
		Nonce:            sess.Nonce,
		ImageData:        "img",
		ClientConfidence: &conf,
		Signature:        sig.Signature,
		PublicKey:        sig.PublicKey,
		ClientTimestamp:  sig.ClientTimestamp,
		AppAttestation:   bPayload.Attestation,
		GPS:              &gates.GPS{Latitude: 48.85, Longitude: 2.35},
	})
	require.NoError(t, err)
	require.Equal(t, api.ResultValid, resp.Result)
	require.Equal(t, "L2_VERIFIED", resp.TrustLevel)
	for _, g := range resp.GateResults {
		require.True(t, g.Passed, "gate %s: %s", g.Gate, g.Reason)
	}
}

func TestVerifyFlagsBadSignature(t *testing.T) {
	_, c := newTestServer(t)
	sess := startSession(t, c)

	kv := store.NewMemStore()
	sig, err := gates.NewA(device.NewManager(kv)).Sign("wrong-nonce", testDina)
	require.NoError(t, err)

	conf := 0.92
	resp, err := c.Verify(context.Background(), api.VerifyRequest{
		SessionToken:     sess.SessionToken,
		Nonce:            sess.Nonce,
		ClientConfidence: &conf,
		Signature:        sig.Signature,
		PublicKey:        sig.PublicKey,
		ClientTimestamp:  sig.ClientTimestamp,
	})
	require.NoError(t, err)
	require.NotEqual(t, "L2_VERIFIED", resp.TrustLevel)
	require.False(t, resp.GateResults[0].Passed)
}

func TestVerifyMapsConfidenceBands(t *testing.T) {
	cases := []struct {
		confidence float64
		want       api.VerifyResult
	}{
		{0.95, api.ResultValid},
		{0.8, api.ResultValid},
		{0.6, api.ResultUncertain},
		{0.2, api.ResultInvalid},
	}
	for _, tc := range cases {
		_, c := newTestServer(t)
		sess := startSession(t, c)

		conf := tc.confidence
		resp, err := c.Verify(context.Background(), api.VerifyRequest{
			SessionToken:     sess.SessionToken,
			Nonce:            sess.Nonce,
			ClientConfidence: &conf,
		})
		require.NoError(t, err)
		require.Equal(t, tc.want, resp.Result, "confidence %v", tc.confidence)
	}
}

func TestVerifyRejectsUnknownSession(t *testing.T) {
	_, c := newTestServer(t)

	_, err := c.Verify(context.Background(), api.VerifyRequest{SessionToken: "SES-nope", Nonce: "n"})
	apiErr, ok := api.AsError(err)
	require.True(t, ok)
	require.Equal(t, 401, apiErr.Status)
}

func TestVerifyAttemptsExhausted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAttempts = 1
	ts := httptest.NewServer(New(cfg, []Batch{{DinaID: testDina, Shipped: true}}).Router())
	t.Cleanup(ts.Close)
	c := api.NewClient(ts.URL, time.Second)
	sess := startSession(t, c)

	conf := 0.9
	resp, err := c.Verify(context.Background(), api.VerifyRequest{SessionToken: sess.SessionToken, Nonce: sess.Nonce, ClientConfidence: &conf})
	require.NoError(t, err)
	require.False(t, resp.RetryAllowed)

	_, err = c.Verify(context.Background(), api.VerifyRequest{SessionToken: sess.SessionToken, Nonce: sess.Nonce, ClientConfidence: &conf})
	apiErr, ok := api.AsError(err)
	require.True(t, ok)
	require.Equal(t, api.CodeRateLimitExceeded, apiErr.Code)
}

func TestRegisterActivatesOnce(t *testing.T) {
	_, c := newTestServer(t)
	sess := startSession(t, c)

	first, err := c.Register(context.Background(), api.RegisterRequest{
		SessionToken: sess.SessionToken,
		Nonce:        sess.Nonce,
		DinaID:       testDina,
	})
	require.NoError(t, err)
	require.Equal(t, api.RegisterActivated, first.Status)
	require.NotEmpty(t, first.ActivatedAt)

	second, err := c.Register(context.Background(), api.RegisterRequest{
		SessionToken: sess.SessionToken,
		Nonce:        sess.Nonce,
		DinaID:       testDina,
	})
	require.NoError(t, err)
	require.Equal(t, api.RegisterAlreadyActivated, second.Status)
	require.Equal(t, first.ActivatedAt, second.ActivatedAt)
}

func TestStatusLifecycle(t *testing.T) {
	_, c := newTestServer(t)

	before, err := c.Status(context.Background(), testDina)
	require.NoError(t, err)
	require.Equal(t, api.AssetShipped, before.Status)

	sess := startSession(t, c)
	_, err = c.Register(context.Background(), api.RegisterRequest{
		SessionToken: sess.SessionToken,
		Nonce:        sess.Nonce,
		DinaID:       testDina,
	})
	require.NoError(t, err)

	after, err := c.Status(context.Background(), testDina)
	require.NoError(t, err)
	require.Equal(t, api.AssetActivated, after.Status)

	unknown, err := c.Status(context.Background(), "DINA-ZZZZZZZZZZZZZ")
	require.NoError(t, err)
	require.Equal(t, api.AssetUnknown, unknown.Status)
}
