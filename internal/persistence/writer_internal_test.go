package persistence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildInsert_Placeholders(t *testing.T) {
	q := buildInsert("event_log.t", []string{"a", "b"}, 2)
	assert.Equal(t, "INSERT INTO event_log.t (a, b) VALUES ($1, $2), ($3, $4)", q)
}

func TestExtractVersion(t *testing.T) {
	assert.Equal(t, "000001", extractVersion("000001_event_log.up.sql"))
	assert.Equal(t, "noversion.sql", extractVersion("noversion.sql"))
}

func TestPendingMigrations_SortedAndFiltered(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"000002_projections.up.sql",
		"000001_event_log.up.sql",
		"000001_event_log.down.sql",
		"README.md",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("--"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "000003_dir.up.sql"), 0o755))

	files, err := listMigrationFiles(dir, ".up.sql")
	require.NoError(t, err)
	assert.Equal(t, []string{"000001_event_log.up.sql", "000002_projections.up.sql"}, files)

	pending := pendingMigrations(files, map[string]bool{"000001": true})
	assert.Equal(t, []string{"000002_projections.up.sql"}, pending)
}
