package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ReplayWindow is the maximum clock skew tolerated between a signed request's
// timestamp and the receiving side.
const ReplayWindow = 5 * time.Minute

var (
	ErrMissingHeader        = errors.New("signature or timestamp header missing")
	ErrInvalidTimestamp     = errors.New("timestamp is not a valid integer")
	ErrReplayWindowExceeded = errors.New("timestamp outside the replay window")
	ErrInvalidSignature     = errors.New("signature mismatch")
)

// Now is the clock used by Sign and Verify; tests override it.
var Now = time.Now

// Sign computes the canonical HMAC-SHA256 signature over
// "<timestamp>.<rawBody>" and returns it base64-encoded together with the
// millisecond timestamp it was computed for.
func Sign(rawBody []byte, secret string) (string, string) {
	timestamp := strconv.FormatInt(Now().UnixMilli(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(rawBody)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), timestamp
}

// Verify checks a signature produced over "<timestamp>.<rawBody>" with the
// shared secret. Timestamps older or newer than ReplayWindow are rejected.
func Verify(rawBody []byte, sig, timestamp, secret string) error {
	sig = strings.TrimSpace(sig)
	timestamp = strings.TrimSpace(timestamp)
	if sig == "" || timestamp == "" {
		return ErrMissingHeader
	}

	millis, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrInvalidTimestamp
	}
	skew := Now().Sub(time.UnixMilli(millis))
	if skew < 0 {
		skew = -skew
	}
	if skew > ReplayWindow {
		return ErrReplayWindowExceeded
	}

	candidates := decodeSignature(sig)
	if len(candidates) == 0 {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(rawBody)
	sum := mac.Sum(nil)
	for _, decoded := range candidates {
		if hmac.Equal(sum, decoded) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// decodeSignature accepts the canonical base64 encoding and, as a
// compatibility shim for one partner system that signs in hex, lowercase hex.
// A hex digest is itself valid base64, so both decodings are returned and the
// caller compares against each. Keep every encoding decision in here;
// verification itself never branches.
func decodeSignature(sig string) [][]byte {
	var candidates [][]byte
	if decoded, err := base64.StdEncoding.DecodeString(sig); err == nil {
		candidates = append(candidates, decoded)
	}
	if decoded, err := hex.DecodeString(strings.ToLower(sig)); err == nil {
		candidates = append(candidates, decoded)
	}
	return candidates
}
