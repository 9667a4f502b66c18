package checkout

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const tokenIssuer = "trip-rewards"

// TokenSigner issues and verifies booking confirmation tokens. The subject of
// a token is the checkout's group reference.
type TokenSigner struct {
	Secret    []byte
	TTL       time.Duration
	ClockSkew time.Duration
}

// Sign issues a token for reference that expires after TTL.
func (s TokenSigner) Sign(reference string, now time.Time) (string, time.Time, error) {
	if len(s.Secret) == 0 {
		return "", time.Time{}, errors.New("checkout: token secret not configured")
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	expiresAt := now.Add(ttl)
	tok, err := jwt.NewBuilder().
		Subject(reference).
		Issuer(tokenIssuer).
		IssuedAt(now).
		Expiration(expiresAt).
		Build()
	if err != nil {
		return "", time.Time{}, err
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, s.Secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return string(signed), expiresAt, nil
}

// Verify checks signature, algorithm, issuer and expiry and returns the
// reference the token was issued for.
func (s TokenSigner) Verify(token string, now time.Time) (string, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" || len(s.Secret) == 0 {
		return "", errors.New("checkout: token missing")
	}
	msg, err := jws.ParseString(trimmed)
	if err != nil {
		return "", err
	}
	for _, sig := range msg.Signatures() {
		if headers := sig.ProtectedHeaders(); headers == nil || headers.Algorithm() != jwa.HS256 {
			return "", fmt.Errorf("checkout: unexpected token algorithm")
		}
	}
	parsed, err := jwt.ParseString(trimmed,
		jwt.WithKey(jwa.HS256, s.Secret),
		jwt.WithValidate(true),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAcceptableSkew(s.ClockSkew),
		jwt.WithClock(jwt.ClockFunc(func() time.Time { return now })),
	)
	if err != nil {
		return "", err
	}
	if parsed.Subject() == "" {
		return "", errors.New("checkout: token has no reference")
	}
	return parsed.Subject(), nil
}
