package realmexport

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	pgzip "github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const realmJSON = `{
  "id": "realm-id-1",
  "realm": "demo",
  "enabled": true,
  "roles": {"realm": []},
  "groups": [
    {
      "id": "g1",
      "name": "staff",
      "path": "/staff",
      "subGroups": [
        {"id": "g2", "name": "admins", "path": "/staff/admins", "subGroups": []}
      ]
    },
    {"name": "nopath", "subGroups": [{"id": "g4", "name": "leaf", "subGroups": []}], "id": "g3"}
  ],
  "users": [
    {
      "id": "u1",
      "createdTimestamp": 1700000000000,
      "username": "alice",
      "enabled": true,
      "totp": false,
      "emailVerified": true,
      "firstName": "Alice",
      "lastName": null,
      "email": "alice@example.org",
      "attributes": {"dept": ["math", "logic"], "legacy": "single"},
      "credentials": [{"type": "password", "value": "x"}, {"type": "otp"}],
      "requiredActions": ["VERIFY_EMAIL"],
      "groups": ["/staff", "/staff/admins"],
      "notBefore": 3
    }
  ]
}`

func TestDecode(t *testing.T) {
	realm, err := Decode(strings.NewReader(realmJSON))
	require.NoError(t, err)

	assert.Equal(t, "realm-id-1", realm.ID)
	assert.Equal(t, "demo", realm.Name)

	assert.Equal(t, []Group{
		{ID: "g1", Name: "staff", Path: "/staff"},
		{ID: "g2", Name: "admins", Path: "/staff/admins", ParentID: "g1"},
		{ID: "g3", Name: "nopath", Path: "/nopath"},
		{ID: "g4", Name: "leaf", Path: "/nopath/leaf", ParentID: "g3"},
	}, realm.Groups)

	require.Len(t, realm.Users, 1)
	u := realm.Users[0]
	assert.Equal(t, "u1", u.ID)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, "alice@example.org", u.Email)
	assert.Equal(t, "Alice", u.FirstName)
	assert.Empty(t, u.LastName)
	assert.True(t, u.Enabled)
	assert.True(t, u.EmailVerified)
	assert.True(t, u.TOTP, "otp credential implies totp")
	assert.Equal(t, int64(1700000000000), u.CreatedTimestamp)
	assert.Equal(t, int32(3), u.NotBefore)
	assert.Equal(t, map[string][]string{"dept": {"math", "logic"}, "legacy": {"single"}}, u.Attributes)
	assert.Equal(t, []string{"VERIFY_EMAIL"}, u.RequiredActions)
	assert.Equal(t, []string{"/staff", "/staff/admins"}, u.Groups)
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode(strings.NewReader(`{"users": []}`))
	assert.Error(t, err, "realm name is required")

	_, err = Decode(strings.NewReader(`{"realm": "demo", "users": [{"username": "x"}]}`))
	assert.Error(t, err, "user id is required")

	_, err = Decode(strings.NewReader(`{"realm": `))
	assert.Error(t, err)
}

func TestMerge(t *testing.T) {
	a := &Realm{Name: "demo", ID: "rid", Groups: []Group{{ID: "g1"}}}
	b := &Realm{Name: "demo", Users: []User{{}}}
	c := &Realm{Name: "other"}

	merged := Merge(a, nil, c, b)
	require.Len(t, merged, 2)
	assert.Equal(t, "demo", merged[0].Name)
	assert.Equal(t, "rid", merged[0].ID)
	assert.Len(t, merged[0].Groups, 1)
	assert.Len(t, merged[0].Users, 1)
	assert.Equal(t, "other", merged[1].Name)
	assert.Equal(t, "other", merged[1].ID, "realm name doubles as id")
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	plain := filepath.Join(dir, "demo-realm.json")
	require.NoError(t, os.WriteFile(plain, []byte(realmJSON), 0o600))

	var buf bytes.Buffer
	gz := pgzip.NewWriter(&buf)
	_, err := gz.Write([]byte(`{"realm": "demo", "users": [{"id": "u2", "username": "bob"}]}`))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	split := filepath.Join(dir, "demo-users-0.json.gz")
	require.NoError(t, os.WriteFile(split, buf.Bytes(), 0o600))

	realms, err := Load(context.Background(), []string{plain, split})
	require.NoError(t, err)
	require.Len(t, realms, 1)
	assert.Equal(t, "realm-id-1", realms[0].ID)
	require.Len(t, realms[0].Users, 2)
	assert.Equal(t, "alice", realms[0].Users[0].Username)
	assert.Equal(t, "bob", realms[0].Users[1].Username)

	_, err = Load(context.Background(), []string{filepath.Join(dir, "missing.json")})
	assert.Error(t, err)
}
