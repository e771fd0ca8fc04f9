// Package realmexport reads realm export files produced by the identity host.
//
// A full export is a single object with "realm", "groups" and "users". Split
// exports put users into separate "<realm>-users-N.json" files that repeat the
// "realm" key; Merge joins them back together.
package realmexport

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/user-search/internal/domain/identity"
)

// Realm is the subset of a realm export used by the user search stores.
type Realm struct {
	ID     string
	Name   string
	Groups []Group
	Users  []User
}

// Group is a flattened group. ParentID is empty for top-level groups.
type Group struct {
	ID       string
	Name     string
	Path     string
	ParentID string
}

// User is an exported user with its group memberships given as group paths.
type User struct {
	identity.User
	Groups []string
}

// Open reads one export file. Files ending in ".gz" are decompressed.
func Open(path string) (*Realm, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open export")
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrapf(err, "gzip reader for %s", filepath.Base(path))
		}
		defer gz.Close()
		r = gz
	}

	realm, err := Decode(r)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", filepath.Base(path))
	}
	return realm, nil
}

// Load reads every file concurrently and merges them by realm name, keeping
// the order in which realms first appear in paths.
func Load(ctx context.Context, paths []string) ([]*Realm, error) {
	parsed := make([]*Realm, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			realm, err := Open(path)
			if err != nil {
				return err
			}
			parsed[i] = realm
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return Merge(parsed...), nil
}

// Merge combines exports of the same realm. Groups and users are appended in
// argument order; the first non-empty realm id wins.
func Merge(realms ...*Realm) []*Realm {
	var (
		out    []*Realm
		byName = make(map[string]*Realm)
	)
	for _, r := range realms {
		if r == nil {
			continue
		}
		m, ok := byName[r.Name]
		if !ok {
			m = &Realm{Name: r.Name}
			byName[r.Name] = m
			out = append(out, m)
		}
		if m.ID == "" {
			m.ID = r.ID
		}
		m.Groups = append(m.Groups, r.Groups...)
		m.Users = append(m.Users, r.Users...)
	}
	for _, m := range out {
		if m.ID == "" {
			m.ID = m.Name
		}
	}
	return out
}

// Decode parses a realm export document. The document is read fully into
// memory before decoding.
func Decode(r io.Reader) (*Realm, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read")
	}

	var realm Realm
	if err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			realm.ID, err = optStr(d)
		case "realm":
			realm.Name, err = optStr(d)
		case "groups":
			err = d.Arr(func(d *jx.Decoder) error {
				return decodeGroup(d, "", "", &realm.Groups)
			})
		case "users":
			err = d.Arr(func(d *jx.Decoder) error {
				u, err := decodeUser(d)
				if err != nil {
					return err
				}
				realm.Users = append(realm.Users, u)
				return nil
			})
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	if realm.Name == "" {
		return nil, errors.New("export has no realm name")
	}
	return &realm, nil
}

func decodeGroup(d *jx.Decoder, parentID, parentPath string, out *[]Group) error {
	var (
		g   = Group{ParentID: parentID}
		sub []func() error
	)
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			g.ID, err = optStr(d)
		case "name":
			g.Name, err = optStr(d)
		case "path":
			g.Path, err = optStr(d)
		case "subGroups":
			// Children need the parent id, which may appear after subGroups,
			// so capture them raw and decode once the object is complete.
			raw, rerr := d.Raw()
			if rerr != nil {
				return rerr
			}
			buf := append([]byte(nil), raw...)
			sub = append(sub, func() error {
				return jx.DecodeBytes(buf).Arr(func(d *jx.Decoder) error {
					return decodeGroup(d, g.ID, g.Path, out)
				})
			})
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		return errors.Wrap(err, "group")
	}
	if g.Path == "" {
		g.Path = parentPath + "/" + g.Name
	}
	*out = append(*out, g)
	for _, f := range sub {
		if err := f(); err != nil {
			return err
		}
	}
	return nil
}

func decodeUser(d *jx.Decoder) (User, error) {
	var u User
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			u.ID, err = optStr(d)
		case "username":
			u.Username, err = optStr(d)
		case "email":
			u.Email, err = optStr(d)
		case "firstName":
			u.FirstName, err = optStr(d)
		case "lastName":
			u.LastName, err = optStr(d)
		case "federationLink":
			u.FederationLink, err = optStr(d)
		case "serviceAccountClientId":
			u.ServiceAccountClientLink, err = optStr(d)
		case "enabled":
			u.Enabled, err = optBool(d)
		case "emailVerified":
			u.EmailVerified, err = optBool(d)
		case "totp":
			var totp bool
			totp, err = optBool(d)
			u.TOTP = u.TOTP || totp
		case "createdTimestamp":
			u.CreatedTimestamp, err = d.Int64()
		case "notBefore":
			var n int
			n, err = d.Int()
			u.NotBefore = int32(n)
		case "attributes":
			u.Attributes, err = decodeAttributes(d)
		case "requiredActions":
			u.RequiredActions, err = strArr(d)
		case "groups":
			u.Groups, err = strArr(d)
		case "credentials":
			err = d.Arr(func(d *jx.Decoder) error {
				return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
					if string(key) != "type" {
						return d.Skip()
					}
					typ, err := optStr(d)
					if typ == "otp" {
						u.TOTP = true
					}
					return err
				})
			})
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return User{}, errors.Wrap(err, "user")
	}
	if u.ID == "" {
		return User{}, errors.Errorf("user %q has no id", u.Username)
	}
	return u, nil
}

// decodeAttributes accepts both list and single string values.
func decodeAttributes(d *jx.Decoder) (map[string][]string, error) {
	attrs := make(map[string][]string)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		name := string(key)
		switch d.Next() {
		case jx.Array:
			values, err := strArr(d)
			if err != nil {
				return err
			}
			attrs[name] = append(attrs[name], values...)
			return nil
		case jx.Null:
			return d.Null()
		default:
			v, err := d.Str()
			if err != nil {
				return err
			}
			attrs[name] = append(attrs[name], v)
			return nil
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "attributes")
	}
	return attrs, nil
}

func strArr(d *jx.Decoder) ([]string, error) {
	var out []string
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	err := d.Arr(func(d *jx.Decoder) error {
		v, err := optStr(d)
		if err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	return out, err
}

func optStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

func optBool(d *jx.Decoder) (bool, error) {
	if d.Next() == jx.Null {
		return false, d.Null()
	}
	return d.Bool()
}
