package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScanStartDecodesResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/geocam/scan/start", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		var req ScanStartRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "DINA-LJH001A7X9K2M", req.QRPayload)

		json.NewEncoder(w).Encode(ScanStartResponse{
			Success:      true,
			SessionToken: "SES-1",
			Nonce:        "abc",
			AssetStatus:  AssetShipped,
		})
	}))
	defer ts.Close()

	c := NewClient(ts.URL, 0)
	resp, err := c.ScanStart(context.Background(), ScanStartRequest{QRPayload: "DINA-LJH001A7X9K2M"})
	require.NoError(t, err)
	require.Equal(t, "SES-1", resp.SessionToken)
	require.Equal(t, AssetShipped, resp.AssetStatus)
}

func TestServerErrorCarriesCode(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]any{"error": CodeBatchNotShipped, "message": "not yet"})
	}))
	defer ts.Close()

	c := NewClient(ts.URL, 0)
	_, err := c.Verify(context.Background(), VerifyRequest{})
	require.Error(t, err)

	apiErr, ok := AsError(err)
	require.True(t, ok)
	require.Equal(t, CodeBatchNotShipped, apiErr.Code)
	require.Equal(t, http.StatusConflict, apiErr.Status)
	require.False(t, errors.Is(err, ErrNetwork))
}

func TestUnreachableServerIsNetworkError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ts.Close()

	c := NewClient(ts.URL, 0)
	_, err := c.ScanStart(context.Background(), ScanStartRequest{})
	require.ErrorIs(t, err, ErrNetwork)

	_, ok := AsError(err)
	require.False(t, ok)
}

func TestStatusEscapesPath(t *testing.T) {
	var gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		json.NewEncoder(w).Encode(StatusResponse{DinaID: "x", Status: AssetUnknown})
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL, 0).Status(context.Background(), "DINA-LJH001A7X9K2M")
	require.NoError(t, err)
	require.Equal(t, "/geocam/status/DINA-LJH001A7X9K2M", gotPath)
}

func TestBaseURLTrailingSlash(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/geocam/verify", r.URL.Path)
		json.NewEncoder(w).Encode(VerifyResponse{Success: true, Result: ResultValid})
	}))
	defer ts.Close()

	c := NewClient(ts.URL+"/", 0)
	resp, err := c.Verify(context.Background(), VerifyRequest{})
	require.NoError(t, err)
	require.Equal(t, ResultValid, resp.Result)
}
