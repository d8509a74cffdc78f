// Package token issues and verifies the signed access/refresh tokens.
//
// A token is valid only while all of: signature intact, not expired, its
// "ver" claim equal to the user's current token epoch, and its jti absent
// from the revocation list. The first three live here; the epoch comparison
// needs the user row, so callers run CheckEpoch after loading the user.
package token

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"github.com/rs/zerolog/log"

	"github.com/prepline/backend/internal/models"
)

var (
	logger = log.With().Str("component", "token").Logger()

	ErrBadSignature          = errors.New("invalid token")
	ErrWrongKind             = errors.New("wrong token kind")
	ErrExpired               = errors.New("token expired")
	ErrRevoked               = errors.New("token revoked")
	ErrStaleEpoch            = errors.New("token no longer valid")
	ErrRevocationUnavailable = errors.New("revocation list unavailable")
)

type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// FailurePolicy decides what happens when the revocation list cannot be
// reached: "open" treats the token as not revoked (revocations go stale but
// the API stays up), "closed" rejects the request.
type FailurePolicy string

const (
	FailOpen   FailurePolicy = "open"
	FailClosed FailurePolicy = "closed"
)

// RevocationCache is the jti marker store consumed by the service. An
// implementation that cannot answer must return an error rather than guess.
type RevocationCache interface {
	MarkRevoked(jti string, ttl time.Duration) error
	IsRevoked(jti string) (bool, error)
}

type Config struct {
	// PrivateKeyPEM is RSA 256 private key in PEM format
	PrivateKeyPEM string `yaml:"private_key_pem"`

	// Issuer names this backend in the "iss" claim.
	Issuer string `yaml:"issuer"`

	AccessTokenTTL  int `yaml:"access_token_ttl"`  // seconds
	RefreshTokenTTL int `yaml:"refresh_token_ttl"` // seconds

	// RevocationFailurePolicy is "open" or "closed". Defaults to "open".
	RevocationFailurePolicy FailurePolicy `yaml:"revocation_failure_policy"`
}

const (
	defaultAccessTokenTTL  = 15 * 60           // 15 minutes
	defaultRefreshTokenTTL = 30 * 24 * 60 * 60 // 30 days
)

func (c *Config) AccessTokenTTLDuration() time.Duration {
	if c.AccessTokenTTL <= 0 {
		return defaultAccessTokenTTL * time.Second
	}
	return time.Duration(c.AccessTokenTTL) * time.Second
}

func (c *Config) RefreshTokenTTLDuration() time.Duration {
	if c.RefreshTokenTTL <= 0 {
		return defaultRefreshTokenTTL * time.Second
	}
	return time.Duration(c.RefreshTokenTTL) * time.Second
}

func (c *Config) Validate() {
	if c.PrivateKeyPEM == "" {
		logger.Fatal().Msg("token.Config: PrivateKeyPEM is missing")
	}
	if c.Issuer == "" {
		logger.Fatal().Msg("token.Config: Issuer is missing")
	}
	switch c.RevocationFailurePolicy {
	case FailOpen, FailClosed:
	case "":
		c.RevocationFailurePolicy = FailOpen
	default:
		logger.Fatal().Msgf("token.Config: unknown revocation_failure_policy %q", c.RevocationFailurePolicy)
	}
}

// Claims are the verified contents of a token.
type Claims struct {
	UserID    uint
	Kind      Kind
	JTI       string
	Epoch     uint
	ExpiresAt time.Time
}

type Service struct {
	config *Config

	privateKey jwk.Key
	publicKey  jwk.Key

	revoked RevocationCache
}

func NewService(config *Config, revoked RevocationCache) *Service {
	config.Validate()

	priv, err := jwk.ParseKey([]byte(config.PrivateKeyPEM), jwk.WithPEM(true))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to parse private key")
	}

	pub, err := priv.PublicKey()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to generate public key")
	}

	return &Service{
		config:     config,
		privateKey: priv,
		publicKey:  pub,
		revoked:    revoked,
	}
}

func (s *Service) ttlFor(kind Kind) time.Duration {
	if kind == KindRefresh {
		return s.config.RefreshTokenTTLDuration()
	}
	return s.config.AccessTokenTTLDuration()
}

// Issue signs a new token of the given kind carrying the user id, a fresh
// jti, and the epoch snapshot. The jti and expiry are not returned
// separately: they travel inside the token and come back out of Verify's
// Claims for revocation.
func (s *Service) Issue(userID uint, kind Kind, epoch uint) (string, error) {
	now := time.Now()

	tok, err := jwt.NewBuilder().
		Issuer(s.config.Issuer).
		Subject(strconv.FormatUint(uint64(userID), 10)).
		JwtID(uuid.New().String()).
		IssuedAt(now).
		Expiration(now.Add(s.ttlFor(kind))).
		Claim("kind", string(kind)).
		Claim("ver", epoch).
		Build()

	if err != nil {
		return "", fmt.Errorf("failed to build %s token claims: %v", kind, err)
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256(), s.privateKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %v", kind, err)
	}

	return string(signed), nil
}

// Verify checks signature, expiry, kind, and revocation status. The epoch
// comparison is left to CheckEpoch since it needs the current user row.
func (s *Service) Verify(raw string, expectedKind Kind) (*Claims, error) {
	// Verify the signature, this also checks if the token is expired.
	verified, err := jwt.Parse([]byte(raw), jwt.WithKey(jwa.RS256(), s.publicKey))
	if err != nil {
		if errors.Is(err, jwt.TokenExpiredError()) {
			return nil, ErrExpired
		}
		return nil, ErrBadSignature
	}

	iss, ok := verified.Issuer()
	if !ok || iss != s.config.Issuer {
		return nil, ErrBadSignature
	}

	exp, ok := verified.Expiration()
	if !ok {
		return nil, ErrBadSignature
	}

	sub, ok := verified.Subject()
	if !ok {
		return nil, ErrBadSignature
	}
	userID, err := strconv.ParseUint(sub, 10, 64)
	if err != nil {
		return nil, ErrBadSignature
	}

	jti, ok := verified.JwtID()
	if !ok || jti == "" {
		return nil, ErrBadSignature
	}

	var kind string
	if err := verified.Get("kind", &kind); err != nil {
		return nil, ErrBadSignature
	}
	if kind != string(KindAccess) && kind != string(KindRefresh) {
		return nil, ErrBadSignature
	}
	if kind != string(expectedKind) {
		return nil, ErrWrongKind
	}

	var ver float64
	if err := verified.Get("ver", &ver); err != nil || ver < 1 {
		return nil, ErrBadSignature
	}

	claims := &Claims{
		UserID:    uint(userID),
		Kind:      Kind(kind),
		JTI:       jti,
		Epoch:     uint(ver),
		ExpiresAt: exp,
	}

	revoked, err := s.revoked.IsRevoked(jti)
	if err != nil {
		if s.config.RevocationFailurePolicy == FailClosed {
			return nil, ErrRevocationUnavailable
		}
		// Fail-open: a cache outage degrades to "revocation list stale"
		// instead of a full authentication outage.
		logger.Warn().Err(err).Msg("Revocation check skipped, treating token as not revoked")
		return claims, nil
	}
	if revoked {
		return nil, ErrRevoked
	}

	return claims, nil
}

// CheckEpoch rejects tokens issued before the user's last logout-all.
func (s *Service) CheckEpoch(claims *Claims, user *models.User) error {
	if claims.Epoch != user.TokenEpoch {
		return ErrStaleEpoch
	}
	return nil
}

// Revoke marks the token's jti for the token's own remaining lifetime, so
// the entry expires together with the token instead of accumulating.
func (s *Service) Revoke(claims *Claims) error {
	return s.revoked.MarkRevoked(claims.JTI, time.Until(claims.ExpiresAt))
}
