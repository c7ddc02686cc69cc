// Package scan decodes raw scan payloads (NFC NDEF records or QR strings)
// into normalized claim structures. Decoding is pure: no I/O, no logging.
package scan

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"geohunt/internal/model"
)

// Decode errors. All of them are terminal for the attempt: the user must
// rescan the tag or code.
var (
	ErrEmptyPayload       = errors.New("empty scan payload")
	ErrNoClaim            = errors.New("no parseable claim in payload")
	ErrMissingFields      = errors.New("claim missing required fields")
	ErrUnsupportedType    = errors.New("unsupported claim type")
	ErrUnsupportedVersion = errors.New("unsupported claim version")
	ErrUnknownSource      = errors.New("unknown scan source")
)

// ClaimType is the envelope discriminator every claim document must carry.
const ClaimType = "treasure-claim"

// ClaimVersion is the highest envelope version this decoder understands.
const ClaimVersion = 1

// envelope is the wire form of a claim document.
type envelope struct {
	Type       string  `json:"type"`
	Version    int     `json:"version"`
	TreasureID string  `json:"treasure_id"`
	Latitude   float64 `json:"lat"`
	Longitude  float64 `json:"lng"`
	Timestamp  int64   `json:"ts"`
	Signature  string  `json:"sig,omitempty"`
}

// ndefHeaderLen is the fixed prefix some field encoders prepend before the
// text payload (record header, type length, payload length).
const ndefHeaderLen = 3

// Decode turns raw scan bytes into a ScanClaim.
//
// NFC tags in the field are written by heterogeneous encoders, so the exact
// record layout cannot be trusted. The decoder tries a fixed priority order
// of extraction strategies and stops at the first one whose output parses as
// a valid claim document; it never mixes results from different strategies.
func Decode(raw []byte, source model.ScanSource) (*model.ScanClaim, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyPayload
	}

	switch source {
	case model.SourceQR:
		return decodeQR(raw)
	case model.SourceNFC:
		return decodeNFC(raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}
}

// decodeQR parses a QR payload, which is always a single JSON document.
func decodeQR(raw []byte) (*model.ScanClaim, error) {
	claim, err := parseClaim(raw, model.SourceQR)
	if err != nil {
		return nil, err
	}
	return claim, nil
}

// decodeNFC runs the ordered fallback chain over an NFC payload:
//
//  1. standard NDEF well-known text record, honoring the embedded
//     language-code length in the status byte
//  2. raw UTF-8 with the fixed 3-byte record header skipped
//  3. raw UTF-8 of the whole payload
//
// The first candidate that yields a valid claim wins.
func decodeNFC(raw []byte) (*model.ScanClaim, error) {
	strategies := []func([]byte) ([]byte, bool){
		extractNDEFText,
		extractSkipHeader,
		extractRaw,
	}

	var lastErr error
	for _, extract := range strategies {
		candidate, ok := extract(raw)
		if !ok {
			continue
		}
		claim, err := parseClaim(candidate, model.SourceNFC)
		if err == nil {
			return claim, nil
		}
		// A strategy only wins with a fully valid claim; anything less falls
		// through to the next extraction. Keep the most specific error for
		// reporting: an envelope problem beats "no JSON found".
		if lastErr == nil || errors.Is(lastErr, ErrNoClaim) {
			lastErr = err
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrNoClaim
}

// extractNDEFText interprets raw as the payload of an NDEF well-known text
// record: a status byte whose lower 6 bits give the language-code length,
// the language code itself, then the UTF-8 text.
func extractNDEFText(raw []byte) ([]byte, bool) {
	if len(raw) < 1 {
		return nil, false
	}
	langLen := int(raw[0] & 0x3F)
	start := 1 + langLen
	if start >= len(raw) {
		return nil, false
	}
	text := raw[start:]
	if !utf8.Valid(text) {
		return nil, false
	}
	return text, true
}

// extractSkipHeader drops the fixed 3-byte record header some encoders
// prepend and returns the rest.
func extractSkipHeader(raw []byte) ([]byte, bool) {
	if len(raw) <= ndefHeaderLen {
		return nil, false
	}
	text := raw[ndefHeaderLen:]
	if !utf8.Valid(text) {
		return nil, false
	}
	return text, true
}

// extractRaw returns the payload unchanged.
func extractRaw(raw []byte) ([]byte, bool) {
	if !utf8.Valid(raw) {
		return nil, false
	}
	return raw, true
}

// parseClaim unmarshals and validates a claim document. JSON that does not
// parse at all reports ErrNoClaim so the NFC chain can fall through; JSON
// that parses but fails validation reports the specific envelope error.
func parseClaim(data []byte, source model.ScanSource) (*model.ScanClaim, error) {
	trimmed := trimToJSON(data)
	if len(trimmed) == 0 {
		return nil, ErrNoClaim
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoClaim, err)
	}

	if env.Type != ClaimType {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, env.Type)
	}
	if env.Version < 1 || env.Version > ClaimVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, env.Version)
	}
	if env.TreasureID == "" {
		return nil, fmt.Errorf("%w: treasure_id", ErrMissingFields)
	}
	if env.Timestamp <= 0 {
		return nil, fmt.Errorf("%w: ts", ErrMissingFields)
	}

	var sig []byte
	if env.Signature != "" {
		decoded, err := base64.StdEncoding.DecodeString(env.Signature)
		if err != nil {
			return nil, fmt.Errorf("%w: sig", ErrMissingFields)
		}
		sig = decoded
	}

	return &model.ScanClaim{
		TreasureID: env.TreasureID,
		Latitude:   env.Latitude,
		Longitude:  env.Longitude,
		Timestamp:  env.Timestamp,
		Signature:  sig,
		Source:     source,
	}, nil
}

// trimToJSON slices data down to the outermost JSON object, tolerating
// leading and trailing junk bytes around the document.
func trimToJSON(data []byte) []byte {
	start := -1
	for i, b := range data {
		if b == '{' {
			start = i
			break
		}
	}
	if start < 0 {
		return nil
	}
	end := -1
	for i := len(data) - 1; i >= start; i-- {
		if data[i] == '}' {
			end = i
			break
		}
	}
	if end < 0 {
		return nil
	}
	return data[start : end+1]
}
