package authn

import (
	"context"
	"crypto"
	"crypto/rsa"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"

	"github.com/xenking/user-search/internal/domain/auth"
)

var _ auth.Authenticator = (*StaticKey)(nil)

// StaticKeyConfig configures a StaticKey authenticator. Exactly one of
// HMACSecret and PublicKey must be set.
type StaticKeyConfig struct {
	// IssuerURL is the identity host base URL; the expected issuer is
	// IssuerFor(IssuerURL, realm).
	IssuerURL string
	// Audience, when set, must be present in the aud claim.
	Audience   string
	HMACSecret []byte
	PublicKey  crypto.PublicKey
	Leeway     time.Duration
}

// StaticKey verifies HS256 or RS256 tokens against a configured key. It is
// meant for development and test deployments without a JWKS endpoint.
type StaticKey struct {
	cfg     StaticKeyConfig
	methods []string
	key     any
}

// NewStaticKey validates cfg and returns a StaticKey authenticator.
func NewStaticKey(cfg StaticKeyConfig) (*StaticKey, error) {
	if cfg.IssuerURL == "" {
		return nil, errors.New("issuer url is required")
	}
	switch {
	case len(cfg.HMACSecret) > 0 && cfg.PublicKey != nil:
		return nil, errors.New("set either an HMAC secret or a public key, not both")
	case len(cfg.HMACSecret) > 0:
		return &StaticKey{cfg: cfg, methods: []string{jwt.SigningMethodHS256.Alg()}, key: cfg.HMACSecret}, nil
	case cfg.PublicKey != nil:
		pub, ok := cfg.PublicKey.(*rsa.PublicKey)
		if !ok {
			return nil, errors.Errorf("unsupported public key type %T", cfg.PublicKey)
		}
		return &StaticKey{cfg: cfg, methods: []string{jwt.SigningMethodRS256.Alg()}, key: pub}, nil
	default:
		return nil, errors.New("an HMAC secret or a public key is required")
	}
}

// ParseRSAPublicKey decodes a PEM encoded RSA public key.
func ParseRSAPublicKey(pem []byte) (*rsa.PublicKey, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM(pem)
	if err != nil {
		return nil, errors.Wrap(err, "parse rsa public key")
	}
	return key, nil
}

type accessClaims struct {
	jwt.RegisteredClaims
	Type string `json:"typ,omitempty"`
}

// Authenticate implements auth.Authenticator.
func (s *StaticKey) Authenticate(ctx context.Context, req auth.Request) auth.Verdict {
	raw, ok := TokenFromHeader(req.Authorization)
	if !ok {
		return auth.Verdict{}
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(s.methods),
		jwt.WithIssuer(IssuerFor(s.cfg.IssuerURL, req.Realm)),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(s.cfg.Leeway),
	}
	if s.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(s.cfg.Audience))
	}

	var claims accessClaims
	if _, err := jwt.NewParser(opts...).ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	}); err != nil {
		reject(ctx, req.Realm, err)
		return auth.Verdict{}
	}
	if !acceptedType(claims.Type) {
		reject(ctx, req.Realm, errors.Errorf("token type %q", claims.Type))
		return auth.Verdict{}
	}

	return auth.Verdict{Authenticated: true, HasToken: true, Subject: claims.Subject}
}
