// Package memory provides an in-memory identity.Store seeded from realm
// exports. It is immutable after construction and safe for concurrent use.
package memory

import (
	"cmp"
	"context"
	"slices"

	"github.com/xenking/user-search/internal/domain/identity"
	"github.com/xenking/user-search/internal/realmexport"
	"github.com/xenking/user-search/internal/storage"
)

var _ identity.Store = (*Store)(nil)

type realmData struct {
	id string
	// users are sorted by username, the native order of every lookup.
	users   []identity.User
	groups  map[string]identity.Group
	members map[string][]int // group id -> indexes into users
}

// Store is an in-memory identity store.
type Store struct {
	realms map[string]*realmData
}

// New builds a Store from realm exports. Memberships naming unknown group
// paths are ignored.
func New(realms ...*realmexport.Realm) *Store {
	s := &Store{realms: make(map[string]*realmData, len(realms))}
	for _, r := range realmexport.Merge(realms...) {
		s.realms[r.Name] = buildRealm(r)
	}
	return s
}

func buildRealm(r *realmexport.Realm) *realmData {
	data := &realmData{
		id:      r.ID,
		groups:  make(map[string]identity.Group, len(r.Groups)),
		members: make(map[string][]int),
	}
	byPath := make(map[string]string, len(r.Groups))
	for _, g := range r.Groups {
		data.groups[g.ID] = identity.Group{ID: g.ID, Name: g.Name, RealmID: r.ID}
		byPath[g.Path] = g.ID
	}

	users := slices.Clone(r.Users)
	slices.SortStableFunc(users, func(a, b realmexport.User) int {
		return cmp.Compare(a.Username, b.Username)
	})

	data.users = make([]identity.User, len(users))
	for i, u := range users {
		data.users[i] = u.User
		for _, path := range u.Groups {
			if id, ok := byPath[path]; ok {
				data.members[id] = append(data.members[id], i)
			}
		}
	}
	return data
}

// FindUsersByAttribute returns users whose attribute name has a value equal to
// value. Comparison is exact.
func (s *Store) FindUsersByAttribute(ctx context.Context, realm, name, value string) ([]identity.User, error) {
	return s.filter(ctx, realm, func(u identity.User) bool {
		return slices.Contains(u.Attributes[name], value)
	})
}

// ResolveGroup returns identity.ErrGroupNotFound for unknown groups or realms.
func (s *Store) ResolveGroup(ctx context.Context, realm, groupID string) (*identity.Group, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, ok := s.realms[realm]
	if !ok {
		return nil, identity.ErrGroupNotFound
	}
	g, ok := data.groups[groupID]
	if !ok {
		return nil, identity.ErrGroupNotFound
	}
	return &g, nil
}

// FindGroupMembers returns the direct members of group ordered by username.
func (s *Store) FindGroupMembers(ctx context.Context, realm string, group *identity.Group) ([]identity.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, ok := s.realms[realm]
	if !ok || group == nil {
		return nil, nil
	}
	idx := data.members[group.ID]
	out := make([]identity.User, len(idx))
	for i, j := range idx {
		out[i] = data.users[j]
	}
	return out, nil
}

// FindUsersByQuery matches every term against username, email, first and
// last name. Service account users are never returned.
func (s *Store) FindUsersByQuery(ctx context.Context, realm, query string) ([]identity.User, error) {
	terms := storage.ParseTerms(query)
	return s.filter(ctx, realm, func(u identity.User) bool {
		if u.ServiceAccountClientLink != "" {
			return false
		}
		for _, t := range terms {
			if !t.MatchAny(u.Username, u.Email, u.FirstName, u.LastName) {
				return false
			}
		}
		return true
	})
}

func (s *Store) filter(ctx context.Context, realm string, keep func(identity.User) bool) ([]identity.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, ok := s.realms[realm]
	if !ok {
		return nil, nil
	}
	var out []identity.User
	for _, u := range data.users {
		if keep(u) {
			out = append(out, u)
		}
	}
	return out, nil
}

// Ping implements the readiness probe contract shared with the postgres store.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}
