package delayqueue

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries the delivery signature on webhook callbacks.
const SignatureHeader = "Delayqueue-Signature"

// Header format: "t=<unix>,v1=<hex hmac>". The HMAC is computed over
// "<unix>.<raw body>" so neither the timestamp nor the body can be swapped
// independently.

// Signer produces callback signatures. The delay-queue service signs with
// its current key; this type also backs the in-repo fake used by tests.
type Signer struct {
	key []byte
}

// NewSigner creates a signer with the given key.
func NewSigner(key []byte) *Signer {
	return &Signer{key: key}
}

// Sign returns the signature header value for the body at time t.
func (s *Signer) Sign(body []byte, t time.Time) string {
	ts := strconv.FormatInt(t.Unix(), 10)
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac(s.key, ts, body)))
}

// Verifier checks callback signatures against one or more known signing
// keys. Two keys (current and next) are the normal state during rotation.
type Verifier struct {
	keys      [][]byte
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier creates a verifier. At least one key is required; a zero
// tolerance defaults to five minutes.
func NewVerifier(keys [][]byte, tolerance time.Duration) (*Verifier, error) {
	filtered := make([][]byte, 0, len(keys))
	for _, k := range keys {
		if len(k) > 0 {
			filtered = append(filtered, k)
		}
	}
	if len(filtered) == 0 {
		return nil, fmt.Errorf("at least one signing key is required")
	}
	if tolerance == 0 {
		tolerance = 5 * time.Minute
	}
	return &Verifier{keys: filtered, tolerance: tolerance, now: time.Now}, nil
}

// WithClock injects a clock (used by tests).
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// Verify checks the header against the exact raw body. It returns an error
// for a missing/malformed header, a stale timestamp, or a signature no
// known key produces.
func (v *Verifier) Verify(header string, body []byte) error {
	if header == "" {
		return fmt.Errorf("missing signature header")
	}

	var ts string
	var sigs []string
	for _, element := range strings.Split(header, ",") {
		parts := strings.SplitN(element, "=", 2)
		if len(parts) != 2 {
			continue
		}
		switch parts[0] {
		case "t":
			ts = parts[1]
		case "v1":
			sigs = append(sigs, parts[1])
		}
	}
	if ts == "" || len(sigs) == 0 {
		return fmt.Errorf("malformed signature header")
	}

	tsInt, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid signature timestamp: %w", err)
	}
	age := v.now().Unix() - tsInt
	if age < 0 {
		age = -age
	}
	if time.Duration(age)*time.Second > v.tolerance {
		return fmt.Errorf("signature timestamp outside tolerance")
	}

	// Try every known key against every presented signature so rotation
	// windows (old sender, new receiver and vice versa) keep working.
	for _, key := range v.keys {
		expected := hex.EncodeToString(mac(key, ts, body))
		for _, sig := range sigs {
			if hmac.Equal([]byte(expected), []byte(sig)) {
				return nil
			}
		}
	}
	return fmt.Errorf("signature does not match any known key")
}

func mac(key []byte, ts string, body []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(ts))
	h.Write([]byte("."))
	h.Write(body)
	return h.Sum(nil)
}
