package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/user-search/internal/realmexport"
)

const (
	upsertRealmSQL = `INSERT INTO realm (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`

	upsertGroupSQL = `INSERT INTO keycloak_group (id, realm_id, name, parent_group) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, parent_group = EXCLUDED.parent_group`

	upsertUserSQL = `INSERT INTO user_entity (
			id, realm_id, username, email, email_constraint, email_verified, enabled,
			first_name, last_name, federation_link, service_account_client_link,
			created_timestamp, not_before
		) VALUES ($1, $2, $3, NULLIF($4, ''), COALESCE(NULLIF($4, ''), $1), $5, $6,
			NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, 0), $12)
		ON CONFLICT (id) DO UPDATE SET
			username = EXCLUDED.username,
			email = EXCLUDED.email,
			email_constraint = EXCLUDED.email_constraint,
			email_verified = EXCLUDED.email_verified,
			enabled = EXCLUDED.enabled,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			federation_link = EXCLUDED.federation_link,
			service_account_client_link = EXCLUDED.service_account_client_link,
			created_timestamp = EXCLUDED.created_timestamp,
			not_before = EXCLUDED.not_before`

	clearAttributesSQL      = `DELETE FROM user_attribute WHERE user_id = $1`
	clearRequiredActionsSQL = `DELETE FROM user_required_action WHERE user_id = $1`
	clearOTPSQL             = `DELETE FROM credential WHERE user_id = $1 AND type = 'otp'`

	insertAttributeSQL      = `INSERT INTO user_attribute (id, user_id, name, value) VALUES ($1, $2, $3, $4)`
	insertRequiredActionSQL = `INSERT INTO user_required_action (user_id, required_action) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`
	insertOTPSQL        = `INSERT INTO credential (id, user_id, type) VALUES ($1, $2, 'otp')`
	insertMembershipSQL = `INSERT INTO user_group_membership (group_id, user_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`
)

// topLevelParent is the parent_group value the identity host stores for
// groups without a parent.
const topLevelParent = " "

// ImportStats counts rows written by Import.
type ImportStats struct {
	Realms      int
	Groups      int
	Users       int
	Memberships int
}

// Import writes realms into the database in a single transaction. Rows are
// upserted by id, so re-importing an export replaces the users it contains.
// Memberships naming unknown group paths are skipped.
func Import(ctx context.Context, pool *pgxpool.Pool, realms []*realmexport.Realm) (ImportStats, error) {
	var stats ImportStats
	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for _, r := range realms {
			b := &pgx.Batch{}
			n := queueRealm(b, r)
			if err := tx.SendBatch(ctx, b).Close(); err != nil {
				return errors.Wrapf(err, "import realm %q", r.Name)
			}
			stats.Realms++
			stats.Groups += len(r.Groups)
			stats.Users += len(r.Users)
			stats.Memberships += n
		}
		return nil
	})
	if err != nil {
		return ImportStats{}, err
	}
	return stats, nil
}

func queueRealm(b *pgx.Batch, r *realmexport.Realm) (memberships int) {
	b.Queue(upsertRealmSQL, r.ID, r.Name)

	byPath := make(map[string]string, len(r.Groups))
	for _, g := range r.Groups {
		parent := g.ParentID
		if parent == "" {
			parent = topLevelParent
		}
		b.Queue(upsertGroupSQL, g.ID, r.ID, g.Name, parent)
		byPath[g.Path] = g.ID
	}

	for _, u := range r.Users {
		b.Queue(upsertUserSQL,
			u.ID, r.ID, u.Username, u.Email, u.EmailVerified, u.Enabled,
			u.FirstName, u.LastName, u.FederationLink, u.ServiceAccountClientLink,
			u.CreatedTimestamp, u.NotBefore,
		)
		b.Queue(clearAttributesSQL, u.ID)
		b.Queue(clearRequiredActionsSQL, u.ID)
		b.Queue(clearOTPSQL, u.ID)

		for name, values := range u.Attributes {
			for _, v := range values {
				b.Queue(insertAttributeSQL, attributeID(), u.ID, name, v)
			}
		}
		for _, action := range u.RequiredActions {
			b.Queue(insertRequiredActionSQL, u.ID, action)
		}
		if u.TOTP {
			b.Queue(insertOTPSQL, uuid.NewString(), u.ID)
		}
		for _, path := range u.Groups {
			if id, ok := byPath[path]; ok {
				b.Queue(insertMembershipSQL, id, u.ID)
				memberships++
			}
		}
	}
	return memberships
}

// attributeID returns a time-ordered id so that reads ordered by id keep the
// export's value order.
func attributeID() string {
	return uuid.Must(uuid.NewV7()).String()
}
