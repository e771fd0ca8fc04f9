// Package representation converts store user records into the external user
// representation served by the search API.
package representation

import (
	"slices"

	"github.com/xenking/user-search/internal/domain/identity"
)

// User is the external form of a realm user. Field names follow the identity
// host's user representation.
type User struct {
	ID                         string
	CreatedTimestamp           int64
	Username                   string
	Enabled                    bool
	TOTP                       bool
	EmailVerified              bool
	FirstName                  string
	LastName                   string
	Email                      string
	FederationLink             string
	ServiceAccountClientLink   string
	Attributes                 map[string][]string
	DisableableCredentialTypes []string
	RequiredActions            []string
	NotBefore                  int32
}

// Mapper translates a store record into its representation.
type Mapper interface {
	ToRepresentation(realm string, u identity.User) User
}

// Default is the standard Mapper.
var Default Mapper = mapper{}

type mapper struct{}

// ToRepresentation copies the record so that the result never aliases store
// memory.
func (mapper) ToRepresentation(_ string, u identity.User) User {
	var attrs map[string][]string
	if len(u.Attributes) > 0 {
		attrs = make(map[string][]string, len(u.Attributes))
		for name, values := range u.Attributes {
			attrs[name] = slices.Clone(values)
		}
	}
	actions := make([]string, len(u.RequiredActions))
	copy(actions, u.RequiredActions)

	return User{
		ID:                         u.ID,
		CreatedTimestamp:           u.CreatedTimestamp,
		Username:                   u.Username,
		Enabled:                    u.Enabled,
		TOTP:                       u.TOTP,
		EmailVerified:              u.EmailVerified,
		FirstName:                  u.FirstName,
		LastName:                   u.LastName,
		Email:                      u.Email,
		FederationLink:             u.FederationLink,
		ServiceAccountClientLink:   u.ServiceAccountClientLink,
		Attributes:                 attrs,
		DisableableCredentialTypes: []string{},
		RequiredActions:            actions,
		NotBefore:                  u.NotBefore,
	}
}

// MapAll applies m to every record, keeping order and cardinality. The result
// is never nil.
func MapAll(m Mapper, realm string, users []identity.User) []User {
	out := make([]User, len(users))
	for i, u := range users {
		out[i] = m.ToRepresentation(realm, u)
	}
	return out
}
