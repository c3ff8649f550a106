package security

import (
	"crypto/ed25519"
	"fmt"
	"math"
	"time"

	"github.com/golang-jwt/jwt/v5"
	apperrors "github.com/louisbranch/ucp-hub/internal/platform/errors"
)

const (
	// MandateIssuer is the iss claim of every mandate.
	MandateIssuer = "ucp-hub-mcp"
	// MandateSubject is the sub claim of every mandate.
	MandateSubject = "agent-autonomous-action"
	// MandateScope is the scope claim of every mandate.
	MandateScope = "ucp:payment"

	// DefaultMandateTTL bounds how long a mandate stays valid.
	DefaultMandateTTL = 300 * time.Second
)

// MandateBody carries the financial limits of a mandate.
type MandateBody struct {
	MaxAmount float64 `json:"max_amount"`
	Currency  string  `json:"currency"`
}

// MandateClaims is the mandate payload. Field order is the serialized order.
type MandateClaims struct {
	Issuer    string      `json:"iss"`
	Subject   string      `json:"sub"`
	Audience  string      `json:"aud"`
	ExpiresAt int64       `json:"exp"`
	Scope     string      `json:"scope"`
	Mandate   MandateBody `json:"mandate"`
}

// GetExpirationTime implements jwt.Claims.
func (c MandateClaims) GetExpirationTime() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.ExpiresAt, 0)), nil
}

// GetIssuedAt implements jwt.Claims.
func (c MandateClaims) GetIssuedAt() (*jwt.NumericDate, error) { return nil, nil }

// GetNotBefore implements jwt.Claims.
func (c MandateClaims) GetNotBefore() (*jwt.NumericDate, error) { return nil, nil }

// GetIssuer implements jwt.Claims.
func (c MandateClaims) GetIssuer() (string, error) { return c.Issuer, nil }

// GetSubject implements jwt.Claims.
func (c MandateClaims) GetSubject() (string, error) { return c.Subject, nil }

// GetAudience implements jwt.Claims.
func (c MandateClaims) GetAudience() (jwt.ClaimStrings, error) {
	return jwt.ClaimStrings{c.Audience}, nil
}

// MandateIssuerService signs mandates with a KeyManager.
type MandateIssuerService struct {
	keys *KeyManager
	ttl  time.Duration
	now  func() time.Time
}

// MandateOption customizes a MandateIssuerService.
type MandateOption func(*MandateIssuerService)

// WithMandateClock overrides the clock used for expiry.
func WithMandateClock(now func() time.Time) MandateOption {
	return func(s *MandateIssuerService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMandateIssuer returns an issuer with the given TTL; non-positive TTLs
// fall back to DefaultMandateTTL.
func NewMandateIssuer(keys *KeyManager, ttl time.Duration, opts ...MandateOption) *MandateIssuerService {
	if ttl <= 0 {
		ttl = DefaultMandateTTL
	}
	s := &MandateIssuerService{keys: keys, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateMandate returns a compact token header.payload.signature authorizing
// up to amount in currency for beneficiary.
func (s *MandateIssuerService) CreateMandate(amount float64, currency, beneficiary string) (string, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
		return "", apperrors.New(apperrors.CodeMandateInvalid, fmt.Sprintf("mandate amount must be finite and non-negative, got %v", amount))
	}
	claims := MandateClaims{
		Issuer:    MandateIssuer,
		Subject:   MandateSubject,
		Audience:  beneficiary,
		ExpiresAt: s.now().Add(s.ttl).Unix(),
		Scope:     MandateScope,
		Mandate: MandateBody{
			MaxAmount: amount,
			Currency:  currency,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = s.keys.KeyID()

	signed, err := token.SignedString(signer{keys: s.keys})
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeInternal, "sign mandate", err)
	}
	return signed, nil
}

// VerifyMandate parses a mandate token and checks its signature and expiry
// against public.
func VerifyMandate(token string, public ed25519.PublicKey) (*MandateClaims, error) {
	claims := &MandateClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return public, nil
	}, jwt.WithValidMethods([]string{Algorithm}))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeMandateInvalid, "verify mandate", err)
	}
	if !parsed.Valid {
		return nil, apperrors.New(apperrors.CodeMandateInvalid, "mandate is invalid")
	}
	return claims, nil
}
