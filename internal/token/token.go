// Package token issues and verifies the short-lived signed tokens that
// authorize stream access without a session: segment tokens scoped to one
// transcode job, and file tokens scoped to one catalog file.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// AudienceSegment marks a token as granting access to the segments and
	// variant playlists of a single HLS job.
	AudienceSegment = "stream-segment"
	// AudienceFile marks a token as granting access to one progressive file.
	AudienceFile = "stream-file"

	// DefaultTTL bounds how long a handed-out token stays usable.
	DefaultTTL = 5 * time.Minute
)

var ErrInvalidToken = errors.New("invalid stream token")

// Signer mints and checks HS256 tokens with a shared secret.
type Signer struct {
	secret []byte
	ttl    time.Duration
}

func NewSigner(secret string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Signer{secret: []byte(secret), ttl: ttl}
}

// Issue returns a signed token whose subject identifies the job or file it
// is scoped to.
func (s *Signer) Issue(audience, subject string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Audience:  jwt.ClaimStrings{audience},
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify checks signature, expiry, audience and subject. Any mismatch yields
// ErrInvalidToken; callers do not need to distinguish the failure modes.
func (s *Signer) Verify(raw, audience, subject string) error {
	parsed, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithAudience(audience), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject != subject {
		return ErrInvalidToken
	}
	return nil
}
