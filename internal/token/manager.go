// Package token implements the token lifecycle: JWT issuance and
// verification for the access and refresh key classes, plus the one-way
// digest used to persist refresh tokens.
package token

import (
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/reeltask/authserver/config"
	"github.com/reeltask/authserver/internal/apperr"
)

// Class selects the signing key a token is issued or verified with.
type Class int

const (
	Access Class = iota
	Refresh
)

// digestCost is the bcrypt cost for persisted refresh-token digests,
// tuned for roughly 100ms per hash.
const digestCost = 12

// Payload is the claim set carried by both token classes.
type Payload struct {
	Subject  string `json:"sub"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

type claims struct {
	jwt.RegisteredClaims
	Email    string `json:"email"`
	Username string `json:"username"`
}

// signer holds the key material for one class.
type signer struct {
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	ttl       time.Duration
}

// Manager issues and verifies access and refresh tokens. It is stateless and
// safe for concurrent use.
type Manager struct {
	access  signer
	refresh signer
	now     func() time.Time
}

// NewManager builds a Manager from config. An RSA private key in PEM form
// selects RS256 for that class; otherwise the shared secret is used with
// HS256 and the fallback is logged as insecure.
func NewManager(cfg config.JWTConfig, logger zerolog.Logger) (*Manager, error) {
	access, err := newSigner(cfg.AccessPrivateKeyPEM, cfg.AccessPublicKeyPEM, cfg.AccessSecret, cfg.AccessTokenTTL, "access", logger)
	if err != nil {
		return nil, err
	}
	refresh, err := newSigner(cfg.RefreshPrivateKeyPEM, cfg.RefreshPublicKeyPEM, cfg.RefreshSecret, cfg.RefreshTokenTTL, "refresh", logger)
	if err != nil {
		return nil, err
	}
	return &Manager{access: access, refresh: refresh, now: time.Now}, nil
}

func newSigner(privatePEM, publicPEM, secret string, ttl time.Duration, class string, logger zerolog.Logger) (signer, error) {
	if privatePEM != "" {
		key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(privatePEM))
		if err != nil {
			return signer{}, err
		}
		var pub *rsa.PublicKey
		if publicPEM != "" {
			pub, err = jwt.ParseRSAPublicKeyFromPEM([]byte(publicPEM))
			if err != nil {
				return signer{}, err
			}
		} else {
			pub = &key.PublicKey
		}
		return signer{method: jwt.SigningMethodRS256, signKey: key, verifyKey: pub, ttl: ttl}, nil
	}
	if secret == "" {
		return signer{}, errors.New("jwt: no private key and no shared secret configured for " + class + " tokens")
	}
	logger.Warn().
		Str("key_class", class).
		Msg("no signing key configured, falling back to insecure shared-secret HMAC")
	return signer{method: jwt.SigningMethodHS256, signKey: []byte(secret), verifyKey: []byte(secret), ttl: ttl}, nil
}

// IssueAccessToken signs payload with the access key. Expiry is short
// (15 minutes by default).
func (m *Manager) IssueAccessToken(payload Payload) (string, error) {
	return m.issue(m.access, payload)
}

// IssueRefreshToken signs payload with the refresh key. Expiry is long
// (7 days by default).
func (m *Manager) IssueRefreshToken(payload Payload) (string, error) {
	return m.issue(m.refresh, payload)
}

func (m *Manager) issue(s signer, payload Payload) (string, error) {
	now := m.now()
	token := jwt.NewWithClaims(s.method, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   payload.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Email:    payload.Email,
		Username: payload.Username,
	})
	return token.SignedString(s.signKey)
}

// AccessTokenTTL reports the configured access token lifetime.
func (m *Manager) AccessTokenTTL() time.Duration {
	return m.access.ttl
}

// Verify checks signature and expiry for the given class and returns the
// embedded payload. All failure modes collapse into apperr.ErrInvalidToken;
// callers cannot distinguish an expired token from a forged one.
func (m *Manager) Verify(tokenString string, class Class) (Payload, error) {
	s := m.access
	if class == Refresh {
		s = m.refresh
	}

	parsed := &claims{}
	tok, err := jwt.ParseWithClaims(tokenString, parsed, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != s.method.Alg() {
			return nil, errors.New("unexpected signing method")
		}
		return s.verifyKey, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil || !tok.Valid || parsed.Subject == "" {
		return Payload{}, apperr.ErrInvalidToken
	}
	return Payload{Subject: parsed.Subject, Email: parsed.Email, Username: parsed.Username}, nil
}

// Digest produces a one-way adaptive hash of a token, suitable for
// persistence. The token is pre-hashed with SHA-256 because bcrypt only
// consumes the first 72 bytes of its input and JWTs are longer than that.
func (m *Manager) Digest(token string) (string, error) {
	sum := sha256.Sum256([]byte(token))
	digest, err := bcrypt.GenerateFromPassword(sum[:], digestCost)
	if err != nil {
		return "", err
	}
	return string(digest), nil
}

// Matches reports whether token corresponds to a previously stored digest.
func (m *Manager) Matches(token, digest string) bool {
	sum := sha256.Sum256([]byte(token))
	return bcrypt.CompareHashAndPassword([]byte(digest), sum[:]) == nil
}
