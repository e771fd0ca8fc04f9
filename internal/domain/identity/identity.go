package identity

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrGroupNotFound is returned by Store.ResolveGroup when the group id does
// not resolve to a group in the realm.
var ErrGroupNotFound = errors.New("group not found")

// User is the store-owned record of a realm user. Callers must treat it as
// read-only.
type User struct {
	ID                       string
	Username                 string
	Email                    string
	EmailVerified            bool
	Enabled                  bool
	FirstName                string
	LastName                 string
	CreatedTimestamp         int64 // milliseconds since epoch
	FederationLink           string
	ServiceAccountClientLink string
	// Attributes maps attribute name to its values in store order.
	Attributes      map[string][]string
	RequiredActions []string
	TOTP            bool
	NotBefore       int32
}

// Group is a resolved group handle.
type Group struct {
	ID      string
	Name    string
	RealmID string
}

// Store is the read-only query capability of the identity store. Every method
// returns users in the store's native order for the criterion.
type Store interface {
	FindUsersByAttribute(ctx context.Context, realm, name, value string) ([]User, error)
	ResolveGroup(ctx context.Context, realm, groupID string) (*Group, error)
	FindGroupMembers(ctx context.Context, realm string, group *Group) ([]User, error)
	FindUsersByQuery(ctx context.Context, realm, query string) ([]User, error)
}
