package cli

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrate(t *testing.T) {
	cfg := sqliteConfig(t)

	out, err := run(t, cfg, "migrate")
	require.NoError(t, err, out)
	assert.Contains(t, out, "sqlite3 schema at version 1")

	// 2回目も成功する
	out, err = run(t, cfg, "--format", "json", "migrate")
	require.NoError(t, err, out)
	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Driver        string `json:"driver"`
			SchemaVersion int    `json:"schema_version"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.SchemaVersion)
}

func TestBackupListRestore(t *testing.T) {
	cfg := sqliteConfig(t)

	out, err := run(t, cfg, "db", "backups")
	require.NoError(t, err, out)
	assert.Contains(t, out, "No backups")

	out, err = run(t, cfg, "db", "backup", "--name", "antes")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Backup written: backup_antes_")

	out, err = run(t, cfg, "--format", "json", "db", "backups")
	require.NoError(t, err, out)
	var resp struct {
		Data []struct {
			Name string `json:"name"`
			Size int64  `json:"size"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 1)
	assert.Positive(t, resp.Data[0].Size)
	name := resp.Data[0].Name

	out, err = run(t, cfg, "db", "backups")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, name)

	_, err = run(t, cfg, "db", "restore", name)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	require.NoError(t, os.Remove(cfg.DBPath))
	out, err = run(t, cfg, "db", "restore", "--yes", name)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Restored "+name)
	_, err = os.Stat(cfg.DBPath)
	assert.NoError(t, err)

	_, err = run(t, cfg, "db", "restore", "--yes", "../zone.db")
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestAdminCreate(t *testing.T) {
	cfg := sqliteConfig(t)

	out, err := run(t, cfg, "admin", "create", "--name", "Root Admin", "--email", "root@zone.test", "--password", "secret123")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Admin created: ID=1, Email=root@zone.test")

	_, err = run(t, cfg, "admin", "create", "--name", "Root Admin", "--email", "root@zone.test", "--password", "secret123")
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = run(t, cfg, "admin", "create", "--name", "Otro", "--email", "otro@zone.test", "--password", "123")
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = run(t, cfg, "admin", "create", "--email", "otro@zone.test", "--password", "secret123")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
