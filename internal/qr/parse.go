// Package qr extracts structured product codes from raw scanner text.
//
// DINA format: DINA-[A-Z0-9]{13}
// OTP format:  OTP-[A-Z0-9]{8}
package qr

import (
	"regexp"
	"strings"
)

var (
	dinaRegex = regexp.MustCompile(`DINA-[A-Z0-9]{13}`)
	otpRegex  = regexp.MustCompile(`OTP-[A-Z0-9]{8}`)
)

// NoCodeSentinel is the raw value a capture surface passes when the user
// explicitly proceeds without scanning a code.
const NoCodeSentinel = "scan-mode-no-code"

// Status classifies one parse attempt.
type Status string

const (
	StatusFound   Status = "found"
	StatusMissing Status = "missing"
	StatusInvalid Status = "invalid"
)

// ErrorKind narrows why a parse came back invalid.
type ErrorKind string

const (
	ErrInvalidInput ErrorKind = "INVALID_INPUT"
	ErrCodeNotFound ErrorKind = "CODE_NOT_FOUND"
)

// ParsedCode is the immutable result of one parse attempt. Code and OTP are
// empty unless Status is StatusFound; OTP may be empty even then.
type ParsedCode struct {
	Status    Status
	Code      string
	OTP       string
	ErrorKind ErrorKind
}

// Found reports whether a code was extracted.
func (p ParsedCode) Found() bool { return p.Status == StatusFound }

// Missing reports whether the capture proceeded without a code.
func (p ParsedCode) Missing() bool { return p.Status == StatusMissing }

// Parse classifies raw scanner text. An empty string or the no-code sentinel
// means the user proceeded without a code; that is not an error. The first
// DINA match wins; an OTP is attached if one is present anywhere in the text.
func Parse(raw string) ParsedCode {
	if raw == "" || raw == NoCodeSentinel {
		return ParsedCode{Status: StatusMissing}
	}

	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ParsedCode{Status: StatusMissing}
	}

	code := dinaRegex.FindString(trimmed)
	if code == "" {
		return ParsedCode{Status: StatusInvalid, ErrorKind: ErrCodeNotFound}
	}

	return ParsedCode{
		Status: StatusFound,
		Code:   code,
		OTP:    otpRegex.FindString(trimmed),
	}
}
