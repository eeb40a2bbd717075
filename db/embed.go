// Package db embeds the schema applied on startup.
package db

import _ "embed"

// Schema holds the DDL for the rule, promotion, index, history, and API key
// tables.
//
//go:embed migrations/001_schema.sql
var Schema string
