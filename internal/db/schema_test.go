package db

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaStatements(t *testing.T) {
	require.Len(t, schemaStatements, 3)

	for _, table := range []string{"etl_run", "etl_checkpoint", "customers"} {
		found := false
		for _, stmt := range schemaStatements {
			if strings.Contains(stmt, "CREATE TABLE IF NOT EXISTS "+table+" ") {
				found = true
			}
		}
		assert.True(t, found, "missing table %s", table)
	}

	assert.Contains(t, schemaStatements[1], "PRIMARY KEY (run_id, phase)")
	assert.Contains(t, schemaStatements[2], "external_id TEXT NOT NULL UNIQUE")
}

func TestUpsertCustomerSQL(t *testing.T) {
	assert.Contains(t, upsertCustomerSQL, "ON CONFLICT (external_id) DO UPDATE")
	for _, col := range []string{"name = EXCLUDED.name", "email = EXCLUDED.email", "updated_at = EXCLUDED.updated_at"} {
		assert.Contains(t, upsertCustomerSQL, col)
	}
	// updated_at arrives as source text and is cast by the server
	assert.Contains(t, upsertCustomerSQL, "NULLIF($4::text, '')::timestamptz")
}
