package db

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrationsSortsAndSkips(t *testing.T) {
	files := fstest.MapFS{
		"010_audit.sql":  {Data: []byte("SELECT 10")},
		"002_users.sql":  {Data: []byte("SELECT 2")},
		"README.md":      {Data: []byte("docs")},
		"notes.sql":      {Data: []byte("SELECT 0")},
		"abc_broken.sql": {Data: []byte("SELECT -1")},
	}

	migrations, err := LoadMigrations(files)
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, 2, migrations[0].Version)
	assert.Equal(t, "002_users.sql", migrations[0].Name)
	assert.Equal(t, 10, migrations[1].Version)
	assert.Equal(t, "SELECT 10", migrations[1].SQL)
}

func TestLoadMigrationsRejectsDuplicateVersions(t *testing.T) {
	files := fstest.MapFS{
		"001_a.sql": {Data: []byte("SELECT 1")},
		"1_b.sql":   {Data: []byte("SELECT 1")},
	}

	_, err := LoadMigrations(files)
	assert.ErrorContains(t, err, "duplicate migration version 1")
}

func TestEmbeddedMigrationsDeclareBackstopIndexes(t *testing.T) {
	m := NewMigrator(nil)
	migrations, err := LoadMigrations(m.files)
	require.NoError(t, err)
	require.NotEmpty(t, migrations)

	sql := migrations[0].SQL
	assert.Contains(t, sql, "appointments_active_slot_key")
	assert.Contains(t, sql, "WHERE status = 'SCHEDULED'")
	assert.Contains(t, sql, "visits_appointment_id_key UNIQUE (appointment_id)")
}
