// Package db embeds the identity schema used by realm-import and the
// integration tests. The search service itself never applies it.
package db

import _ "embed"

// Schema creates the identity tables read by the postgres store.
//
//go:embed migrations/001_schema.sql
var Schema string
