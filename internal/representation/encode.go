package representation

import (
	"slices"

	"github.com/go-faster/jx"
)

// Encode writes u as a JSON object. Empty optional strings and an empty
// attribute map are omitted; array fields are always present.
func (u User) Encode(e *jx.Encoder) {
	e.ObjStart()
	optStr(e, "id", u.ID)
	if u.CreatedTimestamp != 0 {
		e.FieldStart("createdTimestamp")
		e.Int64(u.CreatedTimestamp)
	}
	optStr(e, "username", u.Username)
	e.FieldStart("enabled")
	e.Bool(u.Enabled)
	e.FieldStart("totp")
	e.Bool(u.TOTP)
	e.FieldStart("emailVerified")
	e.Bool(u.EmailVerified)
	optStr(e, "firstName", u.FirstName)
	optStr(e, "lastName", u.LastName)
	optStr(e, "email", u.Email)
	optStr(e, "federationLink", u.FederationLink)
	optStr(e, "serviceAccountClientLink", u.ServiceAccountClientLink)
	if len(u.Attributes) > 0 {
		e.FieldStart("attributes")
		encodeAttributes(e, u.Attributes)
	}
	e.FieldStart("disableableCredentialTypes")
	strArr(e, u.DisableableCredentialTypes)
	e.FieldStart("requiredActions")
	strArr(e, u.RequiredActions)
	e.FieldStart("notBefore")
	e.Int(int(u.NotBefore))
	e.ObjEnd()
}

// EncodeUsers writes users as a JSON array, "[]" when empty.
func EncodeUsers(e *jx.Encoder, users []User) {
	e.ArrStart()
	for _, u := range users {
		u.Encode(e)
	}
	e.ArrEnd()
}

// Marshal returns the JSON array encoding of users.
func Marshal(users []User) []byte {
	var e jx.Encoder
	EncodeUsers(&e, users)
	return e.Bytes()
}

// encodeAttributes sorts keys so that output is stable across calls.
func encodeAttributes(e *jx.Encoder, attrs map[string][]string) {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	e.ObjStart()
	for _, k := range keys {
		e.FieldStart(k)
		strArr(e, attrs[k])
	}
	e.ObjEnd()
}

func optStr(e *jx.Encoder, name, v string) {
	if v == "" {
		return
	}
	e.FieldStart(name)
	e.Str(v)
}

func strArr(e *jx.Encoder, values []string) {
	e.ArrStart()
	for _, v := range values {
		e.Str(v)
	}
	e.ArrEnd()
}
