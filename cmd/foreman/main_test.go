package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/foreman/pkg/config"
)

func TestApplyOverrides(t *testing.T) {
	cfg := &config.Config{
		GameCommand: "/opt/server/bin/server",
		WriteDir:    "/var/lib/server",
		Changelog:   "/opt/server/changelog.txt",
		Save:        "world.zip",
	}

	t.Run("no flags keeps config", func(t *testing.T) {
		c := *cfg
		applyOverrides(&c, opts{})
		assert.Equal(t, *cfg, c)
	})

	t.Run("flags win over config", func(t *testing.T) {
		c := *cfg
		applyOverrides(&c, opts{
			Command:   "/usr/local/bin/server",
			WriteDir:  "/tmp/server",
			Changelog: "/tmp/changelog.txt",
			Save:      "other.zip",
		})
		assert.Equal(t, "/usr/local/bin/server", c.GameCommand)
		assert.Equal(t, "/tmp/server", c.WriteDir)
		assert.Equal(t, "/tmp/changelog.txt", c.Changelog)
		assert.Equal(t, "other.zip", c.Save)
	})
}

func TestConsoleLogPath(t *testing.T) {
	tests := []struct {
		name       string
		consoleLog string
		writeDir   string
		expected   string
	}{
		{name: "empty disables", consoleLog: "", writeDir: "/var/lib/server", expected: ""},
		{name: "relative joins write dir", consoleLog: "console.log", writeDir: "/var/lib/server", expected: "/var/lib/server/console.log"},
		{name: "absolute used as-is", consoleLog: "/var/log/server.log", writeDir: "/var/lib/server", expected: "/var/log/server.log"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &config.Config{ConsoleLog: tc.consoleLog, WriteDir: tc.writeDir}
			assert.Equal(t, tc.expected, consoleLogPath(cfg))
		})
	}
}

func TestSplitArgs(t *testing.T) {
	assert.Nil(t, splitArgs(""))
	assert.Nil(t, splitArgs("   "))
	assert.Equal(t, []string{"--mod-directory", "/opt/mods"}, splitArgs("--mod-directory /opt/mods"))
	assert.Equal(t, []string{"-x", "-y"}, splitArgs("  -x   -y  "))
}

func TestRun_configErrors(t *testing.T) {
	t.Run("missing game command", func(t *testing.T) {
		err := run(context.Background(), opts{ConfigDir: t.TempDir()})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "game_command not configured")
	})

	t.Run("missing write dir", func(t *testing.T) {
		err := run(context.Background(), opts{ConfigDir: t.TempDir(), Command: "/bin/false"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "write_dir not configured")
	})

	t.Run("missing changelog", func(t *testing.T) {
		err := run(context.Background(), opts{ConfigDir: t.TempDir(), Command: "/bin/false", WriteDir: t.TempDir()})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "changelog not configured")
	})

	t.Run("init fails on unreadable changelog", func(t *testing.T) {
		dir := t.TempDir()
		err := run(context.Background(), opts{
			ConfigDir: t.TempDir(),
			Command:   "/bin/false",
			WriteDir:  dir,
			Changelog: filepath.Join(dir, "missing-changelog.txt"),
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "init supervisor")
	})
}

func TestRun_serverExitError(t *testing.T) {
	dir := t.TempDir()
	changelog := filepath.Join(dir, "changelog.txt")
	require.NoError(t, os.WriteFile(changelog, []byte("Version: 1.1.110\n"), 0o600))

	err := run(context.Background(), opts{
		ConfigDir: t.TempDir(),
		Command:   "/bin/false",
		WriteDir:  dir,
		Changelog: changelog,
		Port:      51000,
	})
	require.Error(t, err, "/bin/false exits non-zero")
	assert.Contains(t, err.Error(), "run server")
}
