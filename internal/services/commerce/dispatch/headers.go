package dispatch

import (
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Conformance header names sent with every dispatched request.
const (
	HeaderRequestID      = "request-id"
	HeaderIdempotencyKey = "idempotency-key"
	HeaderTimestamp      = "timestamp"
	HeaderNonce          = "nonce"
	HeaderSignature      = "signature"
	HeaderKeyID          = "key-id"
	HeaderAgent          = "UCP-Agent"
)

// Signer signs request material with the hub identity.
type Signer interface {
	KeyID() string
	SignString(payload string) string
}

// SigningInput is the string covered by the request signature.
func SigningInput(timestamp, nonce string, body []byte) string {
	return timestamp + "." + nonce + "." + string(body)
}

func (d *Dispatcher) conformanceHeaders(body []byte) (http.Header, error) {
	nonce, err := newNonce(d.random)
	if err != nil {
		return nil, err
	}
	timestamp := strconv.FormatInt(d.now().Unix(), 10)

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set(HeaderAgent, "profile="+d.agentProfile)
	headers.Set(HeaderRequestID, d.newID())
	headers.Set(HeaderIdempotencyKey, d.newID())
	headers.Set(HeaderTimestamp, timestamp)
	headers.Set(HeaderNonce, nonce)
	headers.Set(HeaderSignature, d.signer.SignString(SigningInput(timestamp, nonce, body)))
	headers.Set(HeaderKeyID, d.signer.KeyID())
	return headers, nil
}

func newNonce(random io.Reader) (string, error) {
	b := make([]byte, 8)
	if _, err := io.ReadFull(random, b); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func unixNow() time.Time {
	return time.Now().UTC()
}
