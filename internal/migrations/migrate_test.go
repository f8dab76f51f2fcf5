package migrations

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatestVersion(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"000001_init.up.sql",
		"000001_init.down.sql",
		"000003_claims.up.sql",
		"000012_notes.down.sql",
		"README.md",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("--"), 0o644))
	}

	assert.Equal(t, int64(3), LatestVersion(dir))
	assert.Equal(t, int64(0), LatestVersion(filepath.Join(dir, "missing")))
}

func TestRunMigrationsRequiresURL(t *testing.T) {
	assert.Error(t, RunMigrations(""))
}
