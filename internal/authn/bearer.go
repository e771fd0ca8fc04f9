// Package authn implements bearer token authenticators for realm-issued access
// tokens.
package authn

import (
	"context"
	"net/url"
	"strings"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

const bearerScheme = "bearer"

// TokenFromHeader extracts the token from an Authorization header value. The
// scheme is matched case-insensitively.
func TokenFromHeader(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, bearerScheme) {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}

// IssuerFor returns the token issuer of realm under the identity host base URL.
func IssuerFor(baseURL, realm string) string {
	return strings.TrimRight(baseURL, "/") + "/realms/" + url.PathEscape(realm)
}

// acceptedType reports whether the typ claim denotes an access token. Tokens
// without the claim are accepted; refresh and ID tokens are not.
func acceptedType(typ string) bool {
	return typ == "" || strings.EqualFold(typ, bearerScheme)
}

func reject(ctx context.Context, realm string, err error) {
	zctx.From(ctx).Debug("Bearer token rejected",
		zap.String("realm", realm),
		zap.Error(err),
	)
}
