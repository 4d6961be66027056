package qr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseExtractsDina(t *testing.T) {
	p := Parse("DINA-LJH001A7X9K2M")
	require.Equal(t, StatusFound, p.Status)
	require.Equal(t, "DINA-LJH001A7X9K2M", p.Code)
	require.Empty(t, p.OTP)
}

func TestParseExtractsFromURL(t *testing.T) {
	p := Parse("https://example.com/a/DINA-LJH001A7X9K2M?x=1")
	require.Equal(t, StatusFound, p.Status)
	require.Equal(t, "DINA-LJH001A7X9K2M", p.Code)
}

func TestParseAttachesOTP(t *testing.T) {
	p := Parse("DINA-LJH001A7X9K2M OTP-A1B2C3D4")
	require.Equal(t, StatusFound, p.Status)
	require.Equal(t, "DINA-LJH001A7X9K2M", p.Code)
	require.Equal(t, "OTP-A1B2C3D4", p.OTP)
}

func TestParseFirstMatchWins(t *testing.T) {
	p := Parse("DINA-AAAAAAAAAAAAA then DINA-BBBBBBBBBBBBB")
	require.Equal(t, "DINA-AAAAAAAAAAAAA", p.Code)
}

func TestParseMissing(t *testing.T) {
	for _, raw := range []string{"", NoCodeSentinel, "   "} {
		p := Parse(raw)
		require.Equal(t, StatusMissing, p.Status, "raw=%q", raw)
		require.True(t, p.Missing())
		require.Empty(t, p.ErrorKind)
	}
}

func TestParseInvalid(t *testing.T) {
	cases := []string{
		"hello world",
		"DINA-short",
		"DINA-ljh001a7x9k2m", // lowercase body does not match
		"dina-LJH001A7X9K2M",
	}
	for _, raw := range cases {
		p := Parse(raw)
		require.Equal(t, StatusInvalid, p.Status, "raw=%q", raw)
		require.Equal(t, ErrCodeNotFound, p.ErrorKind)
		require.False(t, p.Found())
	}
}

func TestParseTooLongBodyStillMatchesPrefix(t *testing.T) {
	// A 14-char body contains a valid 13-char prefix; the regex takes it.
	p := Parse("DINA-LJH001A7X9K2MZ")
	require.Equal(t, StatusFound, p.Status)
	require.Equal(t, "DINA-LJH001A7X9K2M", p.Code)
}
