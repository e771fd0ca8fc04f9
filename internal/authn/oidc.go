package authn

import (
	"context"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-faster/errors"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/xenking/user-search/internal/domain/auth"
)

var _ auth.Authenticator = (*OIDC)(nil)

// JWKSPath is appended to a realm issuer to locate its signing keys.
const JWKSPath = "/protocol/openid-connect/certs"

// OIDCConfig configures an OIDC authenticator.
type OIDCConfig struct {
	// IssuerURL is the identity host base URL.
	IssuerURL string
	// Audience, when set, must be present in the aud claim.
	Audience string
	// CacheSize bounds the number of realms whose verifiers are kept.
	CacheSize int
	// SigningAlgs restricts accepted algorithms. Defaults to RS256.
	SigningAlgs []string
	// KeySet overrides how a realm's key set is obtained. Defaults to a remote
	// JWKS fetched from the realm issuer.
	KeySet func(ctx context.Context, issuer string) oidc.KeySet
}

// OIDC verifies realm access tokens against the realm's published JWKS.
// Verifiers are created per realm on first use and kept in an LRU.
type OIDC struct {
	cfg       OIDCConfig
	baseCtx   context.Context
	verifiers *lru.Cache[string, *oidc.IDTokenVerifier]
}

// NewOIDC returns an OIDC authenticator. ctx bounds background key fetches
// and must outlive the authenticator.
func NewOIDC(ctx context.Context, cfg OIDCConfig) (*OIDC, error) {
	if cfg.IssuerURL == "" {
		return nil, errors.New("issuer url is required")
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 16
	}
	if len(cfg.SigningAlgs) == 0 {
		cfg.SigningAlgs = []string{oidc.RS256}
	}
	if cfg.KeySet == nil {
		cfg.KeySet = func(ctx context.Context, issuer string) oidc.KeySet {
			return oidc.NewRemoteKeySet(ctx, issuer+JWKSPath)
		}
	}

	cache, err := lru.New[string, *oidc.IDTokenVerifier](cfg.CacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "create verifier cache")
	}
	return &OIDC{cfg: cfg, baseCtx: ctx, verifiers: cache}, nil
}

func (o *OIDC) verifier(realm string) *oidc.IDTokenVerifier {
	if v, ok := o.verifiers.Get(realm); ok {
		return v
	}
	issuer := IssuerFor(o.cfg.IssuerURL, realm)
	v := oidc.NewVerifier(issuer, o.cfg.KeySet(o.baseCtx, issuer), &oidc.Config{
		ClientID:             o.cfg.Audience,
		SkipClientIDCheck:    o.cfg.Audience == "",
		SupportedSigningAlgs: o.cfg.SigningAlgs,
	})
	o.verifiers.Add(realm, v)
	return v
}

// Authenticate implements auth.Authenticator.
func (o *OIDC) Authenticate(ctx context.Context, req auth.Request) auth.Verdict {
	raw, ok := TokenFromHeader(req.Authorization)
	if !ok {
		return auth.Verdict{}
	}

	token, err := o.verifier(req.Realm).Verify(ctx, raw)
	if err != nil {
		reject(ctx, req.Realm, err)
		return auth.Verdict{}
	}

	var claims struct {
		Type string `json:"typ"`
	}
	if err := token.Claims(&claims); err != nil {
		reject(ctx, req.Realm, errors.Wrap(err, "decode claims"))
		return auth.Verdict{}
	}
	if !acceptedType(claims.Type) {
		reject(ctx, req.Realm, errors.Errorf("token type %q", claims.Type))
		return auth.Verdict{}
	}

	return auth.Verdict{Authenticated: true, HasToken: true, Subject: token.Subject}
}
