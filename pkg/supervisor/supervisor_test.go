package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/foreman/pkg/gamelog"
)

// writeChangelog creates a changelog file in a temp dir and returns its path.
func writeChangelog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "changelog.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const changelog = `---------------------------------------------------------------------------------------------------
Version: 1.1.110
Date: 2024-06-30
  Bugfixes:
    - Fixed a desync.
---------------------------------------------------------------------------------------------------
Version: 1.1.109
Date: 2024-05-20
`

func TestSupervisor_Init(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds once from new", func(t *testing.T) {
		s := New(Config{WriteDir: t.TempDir(), Changelog: writeChangelog(t, changelog)})
		assert.Equal(t, StateNew, s.State())

		require.NoError(t, s.Init(ctx))
		assert.Equal(t, StateInit, s.State())
		assert.Equal(t, "1.1.110", s.Version())
	})

	t.Run("second call fails with state mismatch", func(t *testing.T) {
		s := New(Config{WriteDir: t.TempDir(), Changelog: writeChangelog(t, changelog)})
		require.NoError(t, s.Init(ctx))

		err := s.Init(ctx)
		var stateErr *InvalidStateError
		require.True(t, errors.As(err, &stateErr))
		assert.Equal(t, StateNew, stateErr.Expected)
		assert.Equal(t, StateInit, stateErr.Actual)
		assert.Equal(t, "expected state new but state is init", err.Error())
	})

	t.Run("version undeterminable", func(t *testing.T) {
		s := New(Config{WriteDir: t.TempDir(), Changelog: writeChangelog(t, "no version header here\n")})
		err := s.Init(ctx)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrVersionNotFound))
		assert.Equal(t, StateNew, s.State())
	})

	t.Run("missing changelog", func(t *testing.T) {
		s := New(Config{WriteDir: t.TempDir(), Changelog: filepath.Join(t.TempDir(), "nope.txt")})
		err := s.Init(ctx)
		require.Error(t, err)
		assert.True(t, errors.Is(err, os.ErrNotExist))
	})

	t.Run("version header is case-sensitive", func(t *testing.T) {
		s := New(Config{WriteDir: t.TempDir(), Changelog: writeChangelog(t, "version: 1.2.3\n")})
		err := s.Init(ctx)
		assert.True(t, errors.Is(err, ErrVersionNotFound))
	})
}

func TestSupervisor_WritePath(t *testing.T) {
	s := New(Config{WriteDir: "/srv/game"})
	assert.Equal(t, filepath.Join("/srv/game", "script-output", "data.json"), s.WritePath("script-output", "data.json"))
	assert.Equal(t, "/srv/game", s.WritePath())
}

func TestSupervisor_Feed(t *testing.T) {
	ctx := context.Background()

	t.Run("log lines dispatched as records", func(t *testing.T) {
		s := New(Config{WriteDir: t.TempDir()})
		var records []gamelog.Record
		s.Bus().Subscribe(EventLog, func(payload any) {
			records = append(records, payload.(gamelog.Record))
		})

		require.NoError(t, s.Feed(ctx, "stdout", []byte("   3.374 Info Server.cpp:1: started\nplain noise\n")))
		require.Len(t, records, 2)
		assert.Equal(t, gamelog.CategoryInfo, records[0].Category)
		assert.Equal(t, "stdout", records[0].Source)
		assert.Equal(t, gamelog.CategoryGeneric, records[1].Category)
	})

	t.Run("ipc line dispatches channel event and no log record", func(t *testing.T) {
		s := New(Config{WriteDir: t.TempDir()})
		var logs int
		var got any
		s.Bus().Subscribe(EventLog, func(any) { logs++ })
		s.Bus().Subscribe("ipc-channel", func(payload any) { got = payload })

		require.NoError(t, s.Feed(ctx, "stdout", []byte("\f$ipc:channel?j\"value\"\n")))
		assert.Equal(t, "value", got)
		assert.Zero(t, logs)
	})

	t.Run("escaped channel names the event by decoded bytes", func(t *testing.T) {
		s := New(Config{WriteDir: t.TempDir()})
		var got any
		s.Bus().Subscribe("ipc-$ ?\x00\n:", func(payload any) { got = payload })

		require.NoError(t, s.Feed(ctx, "stdout", []byte("\f$ipc:$ \\x3f\\x00\\x0a:?j\"value\"\n")))
		assert.Equal(t, "value", got)
	})

	t.Run("file-backed ipc payload consumed", func(t *testing.T) {
		dir := t.TempDir()
		s := New(Config{WriteDir: dir})
		outDir := s.WritePath("script-output")
		require.NoError(t, os.MkdirAll(outDir, 0o750))
		file := filepath.Join(outDir, "data.json")
		require.NoError(t, os.WriteFile(file, []byte(`{"data":"spam"}`), 0o600))

		var got any
		s.Bus().Subscribe("ipc-channel", func(payload any) { got = payload })

		require.NoError(t, s.Feed(ctx, "stdout", []byte("\f$ipc:channel?fdata.json\n")))
		assert.Equal(t, map[string]any{"data": "spam"}, got)
		_, statErr := os.Stat(file)
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("no listener is a silent no-op", func(t *testing.T) {
		s := New(Config{WriteDir: t.TempDir()})
		require.NoError(t, s.Feed(ctx, "stdout", []byte("\f$ipc:nobody?j1\n")))
	})

	t.Run("ipc failure reported without losing later lines", func(t *testing.T) {
		s := New(Config{WriteDir: t.TempDir()})
		var records []gamelog.Record
		s.Bus().Subscribe(EventLog, func(payload any) {
			records = append(records, payload.(gamelog.Record))
		})

		err := s.Feed(ctx, "stdout", []byte("\f$ipc:blah\ngood line\n"))
		require.Error(t, err)

		// buffered remainder survives the dispatch failure
		require.NoError(t, s.Feed(ctx, "stdout", nil))
		require.Len(t, records, 1)
		assert.Equal(t, "good line", records[0].Raw)
	})

	t.Run("sources keep independent buffers", func(t *testing.T) {
		s := New(Config{WriteDir: t.TempDir()})
		var sources []string
		s.Bus().Subscribe(EventLog, func(payload any) {
			sources = append(sources, payload.(gamelog.Record).Source)
		})

		require.NoError(t, s.Feed(ctx, "stdout", []byte("out-part")))
		require.NoError(t, s.Feed(ctx, "stderr", []byte("err line\n")))
		require.NoError(t, s.Feed(ctx, "stdout", []byte("ial\n")))
		require.NoError(t, s.Close(ctx, "stdout"))

		assert.Equal(t, []string{"stderr", "stdout"}, sources)
	})

	t.Run("close flushes the unterminated tail", func(t *testing.T) {
		s := New(Config{WriteDir: t.TempDir()})
		var records []gamelog.Record
		s.Bus().Subscribe(EventLog, func(payload any) {
			records = append(records, payload.(gamelog.Record))
		})

		require.NoError(t, s.Feed(ctx, "stdout", []byte("tail without newline")))
		assert.Empty(t, records)
		require.NoError(t, s.Close(ctx, "stdout"))
		require.Len(t, records, 1)
		assert.Equal(t, "tail without newline", records[0].Raw)
	})
}

func TestSupervisor_Transition(t *testing.T) {
	s := New(Config{WriteDir: t.TempDir()})
	var seen []State
	s.Bus().Subscribe(EventState, func(payload any) { seen = append(seen, payload.(State)) })

	s.Transition(StateRunning)
	s.Transition(StateStopping)
	s.Transition(StateStopped)

	assert.Equal(t, []State{StateRunning, StateStopping, StateStopped}, seen)
	assert.Equal(t, StateStopped, s.State())
}
