//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/user-search/internal/domain/identity"
	"github.com/xenking/user-search/internal/realmexport"
)

func testRealm() *realmexport.Realm {
	return &realmexport.Realm{
		ID:   "r-demo",
		Name: "demo",
		Groups: []realmexport.Group{
			{ID: "g1", Name: "staff", Path: "/staff"},
			{ID: "g2", Name: "admins", Path: "/staff/admins", ParentID: "g1"},
		},
		Users: []realmexport.User{
			{
				User: identity.User{
					ID: "u2", Username: "bob", Email: "bob@example.org", Enabled: true,
					FirstName: "Bob", LastName: "Stone",
					Attributes: map[string][]string{"dept": {"ops"}},
				},
				Groups: []string{"/staff"},
			},
			{
				User: identity.User{
					ID: "u1", Username: "alice", Email: "alice@example.org", Enabled: true, EmailVerified: true,
					FirstName: "Alice", LastName: "Liddell", CreatedTimestamp: 1700000000000, NotBefore: 2,
					Attributes:      map[string][]string{"dept": {"math", "logic"}},
					RequiredActions: []string{"VERIFY_EMAIL"},
					TOTP:            true,
				},
				Groups: []string{"/staff", "/staff/admins", "/missing"},
			},
			{
				User: identity.User{
					ID: "u3", Username: "service-account-cli", Enabled: true,
					ServiceAccountClientLink: "cli",
				},
			},
		},
	}
}

// startPostgres starts a throwaway PostgreSQL, imports testRealm and returns
// a store connected through a read-only pool.
func startPostgres(t *testing.T) *UserStore {
	t.Helper()

	ctx := context.Background()
	req := tc.ContainerRequest{
		Image:        "postgres:16-alpine",
		Env:          map[string]string{"POSTGRES_USER": "user", "POSTGRES_PASSWORD": "pass", "POSTGRES_DB": "identity"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)
	dsn := fmt.Sprintf("postgres://user:pass@%s:%s/identity?sslmode=disable", host, port.Port())

	var admin *pgxpool.Pool
	require.Eventually(t, func() bool {
		admin, err = NewPool(ctx, dsn, false)
		return err == nil && admin.Ping(ctx) == nil
	}, 30*time.Second, 500*time.Millisecond)
	defer admin.Close()

	require.NoError(t, RunMigrations(ctx, admin))
	stats, err := Import(ctx, admin, []*realmexport.Realm{testRealm()})
	require.NoError(t, err)
	assert.Equal(t, ImportStats{Realms: 1, Groups: 2, Users: 3, Memberships: 3}, stats)

	pool, err := NewPool(ctx, dsn, true)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return NewUserStore(pool)
}

func usernames(users []identity.User) []string {
	out := make([]string, len(users))
	for i, u := range users {
		out[i] = u.Username
	}
	return out
}

func TestUserStore(t *testing.T) {
	store := startPostgres(t)
	ctx := context.Background()

	t.Run("ByAttribute", func(t *testing.T) {
		users, err := store.FindUsersByAttribute(ctx, "demo", "dept", "math")
		require.NoError(t, err)
		require.Len(t, users, 1)

		alice := users[0]
		assert.Equal(t, "u1", alice.ID)
		assert.Equal(t, "alice@example.org", alice.Email)
		assert.True(t, alice.EmailVerified)
		assert.True(t, alice.TOTP)
		assert.Equal(t, int64(1700000000000), alice.CreatedTimestamp)
		assert.Equal(t, int32(2), alice.NotBefore)
		assert.Equal(t, []string{"math", "logic"}, alice.Attributes["dept"])
		assert.Equal(t, []string{"VERIFY_EMAIL"}, alice.RequiredActions)

		users, err = store.FindUsersByAttribute(ctx, "demo", "dept", "MATH")
		require.NoError(t, err)
		assert.Empty(t, users)

		users, err = store.FindUsersByAttribute(ctx, "other", "dept", "math")
		require.NoError(t, err)
		assert.Empty(t, users)
	})

	t.Run("ByGroup", func(t *testing.T) {
		g, err := store.ResolveGroup(ctx, "demo", "g1")
		require.NoError(t, err)
		assert.Equal(t, identity.Group{ID: "g1", Name: "staff", RealmID: "r-demo"}, *g)

		users, err := store.FindGroupMembers(ctx, "demo", g)
		require.NoError(t, err)
		assert.Equal(t, []string{"alice", "bob"}, usernames(users))

		_, err = store.ResolveGroup(ctx, "demo", "nope")
		assert.ErrorIs(t, err, identity.ErrGroupNotFound)
		_, err = store.ResolveGroup(ctx, "other", "g1")
		assert.ErrorIs(t, err, identity.ErrGroupNotFound)
	})

	t.Run("ByQuery", func(t *testing.T) {
		tests := []struct {
			query string
			want  []string
		}{
			{"", []string{"alice", "bob"}},
			{"LIC", []string{"alice"}},
			{"example.org", []string{"alice", "bob"}},
			{"a*e", []string{"alice", "bob"}},
			{"l*d", []string{"alice"}},
			{`"stone"`, []string{"bob"}},
			{`"ston"`, []string{}},
			{"bob stone", []string{"bob"}},
			{"bob liddell", []string{}},
			{"service", []string{}},
			{"100%", []string{}},
		}
		for _, tt := range tests {
			users, err := store.FindUsersByQuery(ctx, "demo", tt.query)
			require.NoError(t, err, tt.query)
			assert.Equal(t, tt.want, usernames(users), "query %q", tt.query)
		}
	})

	t.Run("ReadOnly", func(t *testing.T) {
		_, err := store.pool.Exec(ctx, `DELETE FROM user_entity`)
		assert.Error(t, err)
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, store.Ping(ctx))
	})
}
