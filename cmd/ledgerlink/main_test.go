package main

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandTree(t *testing.T) {
	want := []string{"migrate", "connect", "callback", "disconnect", "sync entity", "sync bulk", "sync refetch", "drain", "serve"}
	for _, path := range want {
		cmd, _, err := rootCmd.Find(strings.Fields(path))
		require.NoError(t, err, path)
		words := strings.Fields(path)
		assert.Equal(t, words[len(words)-1], cmd.Name())
	}
}

func TestMigrateCommand(t *testing.T) {
	t.Setenv("LEDGERLINK_DATABASE_DSN", filepath.Join(t.TempDir(), "ledgerlink.db"))

	rootCmd.SetArgs([]string{"migrate"})
	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "sqlite", cfg.Database.Driver)
}

func TestSyncCommandsRequireCredentials(t *testing.T) {
	t.Setenv("LEDGERLINK_DATABASE_DSN", filepath.Join(t.TempDir(), "ledgerlink.db"))
	t.Setenv("LEDGERLINK_OAUTH_CLIENT_ID", "")

	rootCmd.SetArgs([]string{"sync", "entity", "conn-1", "subcontractor", "sub-1"})
	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONFIGURATION")
}
