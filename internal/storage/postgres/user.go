package postgres

import (
	"context"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/user-search/internal/domain/identity"
	"github.com/xenking/user-search/internal/storage"
)

const userColumns = `u.id, u.username, COALESCE(u.email, ''), u.email_verified, u.enabled,
		COALESCE(u.first_name, ''), COALESCE(u.last_name, ''), COALESCE(u.created_timestamp, 0),
		COALESCE(u.federation_link, ''), COALESCE(u.service_account_client_link, ''), u.not_before,
		COALESCE((
			SELECT jsonb_object_agg(a.name, a.vals) FROM (
				SELECT name, jsonb_agg(value ORDER BY id) AS vals
				FROM user_attribute
				WHERE user_id = u.id AND value IS NOT NULL
				GROUP BY name
			) a
		), '{}'::jsonb),
		ARRAY(SELECT required_action FROM user_required_action WHERE user_id = u.id ORDER BY required_action),
		EXISTS(SELECT 1 FROM credential c WHERE c.user_id = u.id AND c.type = 'otp')`

const (
	usersByAttributeSQL = `SELECT ` + userColumns + `
		FROM user_entity u JOIN realm r ON r.id = u.realm_id
		WHERE r.name = $1 AND EXISTS (
			SELECT 1 FROM user_attribute a WHERE a.user_id = u.id AND a.name = $2 AND a.value = $3
		)
		ORDER BY u.username`

	resolveGroupSQL = `SELECT g.id, g.name, g.realm_id
		FROM keycloak_group g JOIN realm r ON r.id = g.realm_id
		WHERE r.name = $1 AND g.id = $2`

	groupMembersSQL = `SELECT ` + userColumns + `
		FROM user_entity u
		JOIN realm r ON r.id = u.realm_id
		JOIN user_group_membership m ON m.user_id = u.id
		WHERE r.name = $1 AND m.group_id = $2
		ORDER BY u.username`

	usersByQueryPrefix = `SELECT ` + userColumns + `
		FROM user_entity u JOIN realm r ON r.id = u.realm_id
		WHERE r.name = $1 AND u.service_account_client_link IS NULL`
)

var searchFields = []string{"u.username", "u.email", "u.first_name", "u.last_name"}

var _ identity.Store = (*UserStore)(nil)

// UserStore implements identity.Store backed by PostgreSQL. It only reads.
type UserStore struct {
	pool *pgxpool.Pool
}

// NewUserStore returns a UserStore that uses the given pool.
func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

// FindUsersByAttribute returns users having an attribute value equal to value.
func (s *UserStore) FindUsersByAttribute(ctx context.Context, realm, name, value string) ([]identity.User, error) {
	return s.collect(ctx, "users by attribute", usersByAttributeSQL, realm, name, value)
}

// ResolveGroup looks up a group of realm by id.
func (s *UserStore) ResolveGroup(ctx context.Context, realm, groupID string) (*identity.Group, error) {
	rows, err := s.pool.Query(ctx, resolveGroupSQL, realm, groupID)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve group %q", groupID)
	}
	g, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (identity.Group, error) {
		var g identity.Group
		err := row.Scan(&g.ID, &g.Name, &g.RealmID)
		return g, err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrGroupNotFound
		}
		return nil, errors.Wrapf(err, "resolve group %q", groupID)
	}
	return &g, nil
}

// FindGroupMembers returns direct members of group.
func (s *UserStore) FindGroupMembers(ctx context.Context, realm string, group *identity.Group) ([]identity.User, error) {
	if group == nil {
		return nil, nil
	}
	return s.collect(ctx, "group members", groupMembersSQL, realm, group.ID)
}

// FindUsersByQuery returns non service-account users matching every term of
// query in username, email, first or last name.
func (s *UserStore) FindUsersByQuery(ctx context.Context, realm, query string) ([]identity.User, error) {
	sql, args := buildQuerySQL(realm, storage.ParseTerms(query))
	return s.collect(ctx, "users by query", sql, args...)
}

// Ping checks database connectivity.
func (s *UserStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func buildQuerySQL(realm string, terms []storage.Term) (string, []any) {
	var (
		b    strings.Builder
		args = []any{realm}
	)
	b.WriteString(usersByQueryPrefix)
	for _, t := range terms {
		op, value := "LIKE", t.Pattern()
		if t.Exact {
			op, value = "=", t.Value
		}
		args = append(args, value)
		param := "$" + strconv.Itoa(len(args))

		b.WriteString("\n\t\tAND (")
		for i, field := range searchFields {
			if i > 0 {
				b.WriteString(" OR ")
			}
			b.WriteString("lower(COALESCE(" + field + ", '')) " + op + " " + param)
			if !t.Exact {
				b.WriteString(` ESCAPE '\'`)
			}
		}
		b.WriteString(")")
	}
	b.WriteString("\n\t\tORDER BY u.username")
	return b.String(), args
}

func (s *UserStore) collect(ctx context.Context, what, sql string, args ...any) ([]identity.User, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrap(err, what)
	}
	users, err := pgx.CollectRows(rows, scanUser)
	if err != nil {
		return nil, errors.Wrap(err, what)
	}
	return users, nil
}

func scanUser(row pgx.CollectableRow) (identity.User, error) {
	var u identity.User
	err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.EmailVerified, &u.Enabled,
		&u.FirstName, &u.LastName, &u.CreatedTimestamp,
		&u.FederationLink, &u.ServiceAccountClientLink, &u.NotBefore,
		&u.Attributes, &u.RequiredActions, &u.TOTP,
	)
	return u, err
}
