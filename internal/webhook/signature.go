package webhook

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries "t=<unix seconds>,v1=<hex hmac>". The HMAC-SHA256
// covers "<t>.<body>", so a captured delivery cannot be replayed later with a
// fresh timestamp.
const SignatureHeader = "X-Rekko-Signature"

// DefaultTolerance is how old a delivery may be when the receiver verifies it
const DefaultTolerance = 5 * time.Minute

var (
	ErrMalformedSignature = errors.New("malformed webhook signature header")
	ErrSignatureMismatch  = errors.New("webhook signature mismatch")
	ErrSignatureExpired   = errors.New("webhook signature outside tolerance")
)

func mac(secret string, ts int64, payload []byte) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(strconv.FormatInt(ts, 10)))
	h.Write([]byte{'.'})
	h.Write(payload)
	return h.Sum(nil)
}

// Sign returns the signature header value for payload sent at t
func Sign(secret string, payload []byte, t time.Time) string {
	ts := t.Unix()
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac(secret, ts, payload)))
}

// Verify checks header against payload in constant time and rejects
// deliveries signed more than tolerance away from now.
func Verify(secret string, payload []byte, header string, tolerance time.Duration, now time.Time) error {
	var (
		ts  int64
		sig []byte
		err error
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return ErrMalformedSignature
		}
		switch key {
		case "t":
			if ts, err = strconv.ParseInt(value, 10, 64); err != nil {
				return ErrMalformedSignature
			}
		case "v1":
			if sig, err = hex.DecodeString(value); err != nil {
				return ErrMalformedSignature
			}
		}
	}
	if ts == 0 || sig == nil {
		return ErrMalformedSignature
	}

	if !hmac.Equal(sig, mac(secret, ts, payload)) {
		return ErrSignatureMismatch
	}

	age := now.Sub(time.Unix(ts, 0))
	if age > tolerance || age < -tolerance {
		return ErrSignatureExpired
	}

	return nil
}

// GenerateSecret creates the signing secret handed to the tenant once, on registration
func GenerateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate webhook secret: %w", err)
	}
	return "whsec_" + hex.EncodeToString(b), nil
}
