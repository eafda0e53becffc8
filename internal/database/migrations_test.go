package database

import (
	"io/fs"
	"regexp"
	"strconv"
	"testing"

	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var migrationName = regexp.MustCompile(`^(\d{6})_([a-z0-9_]+)\.(up|down)\.sql$`)

func TestEmbeddedMigrations_Paired(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	ups := map[int]string{}
	downs := map[int]string{}
	for _, e := range entries {
		m := migrationName.FindStringSubmatch(e.Name())
		require.NotNil(t, m, "unexpected file %s", e.Name())

		version, _ := strconv.Atoi(m[1])
		if m[3] == "up" {
			ups[version] = m[2]
		} else {
			downs[version] = m[2]
		}

		body, err := fs.ReadFile(migrationsFS, "migrations/"+e.Name())
		require.NoError(t, err)
		assert.NotEmpty(t, body, e.Name())
	}

	assert.Equal(t, ups, downs, "every up migration needs a down with the same name")
	for v := 1; v <= len(ups); v++ {
		assert.Contains(t, ups, v, "versions must be contiguous")
	}
}

func TestMigrator_Latest(t *testing.T) {
	src, err := iofs.New(migrationsFS, "migrations")
	require.NoError(t, err)
	defer func() { _ = src.Close() }()

	latest, err := (&Migrator{source: src}).Latest()
	require.NoError(t, err)
	assert.Equal(t, uint(3), latest)
}
