package ipc

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsLine(t *testing.T) {
	assert.True(t, IsLine([]byte("\f$ipc:channel?j1")))
	assert.False(t, IsLine([]byte("$ipc:channel?j1")))
	assert.False(t, IsLine([]byte("   3.374 Info plain log line")))
	assert.False(t, IsLine([]byte("")))
}

func TestEscapeChannel_RoundTrip(t *testing.T) {
	tbl := []struct {
		name    string
		channel string
	}{
		{"plain", "my-channel"},
		{"question mark", "what?"},
		{"space", "two words"},
		{"nul byte", "a\x00b"},
		{"newline", "a\nb"},
		{"backslash escape literal", `a\x00b`},
		{"all specials", "$ ?\x00\n:"},
	}

	for _, tt := range tbl {
		t.Run(tt.name, func(t *testing.T) {
			encoded := EscapeChannel(tt.channel)
			assert.Equal(t, tt.channel, DecodeChannel([]byte(encoded)))
		})
	}
}

func TestEscapeChannel_Wire(t *testing.T) {
	// escaped channels must not contain separator or control bytes
	encoded := EscapeChannel("$ ?\x00\n:")
	assert.NotContains(t, encoded, "?")
	assert.NotContains(t, encoded, " ")
	assert.NotContains(t, encoded, "\x00")
	assert.NotContains(t, encoded, "\n")
}

func TestDecodeChannel(t *testing.T) {
	t.Run("decodes hex escapes", func(t *testing.T) {
		assert.Equal(t, "$ ?\x00\n:", DecodeChannel([]byte(`$\x20\x3f\x00\x0a:`)))
	})

	t.Run("invalid escapes copied verbatim", func(t *testing.T) {
		assert.Equal(t, `a\xzz`, DecodeChannel([]byte(`a\xzz`)))
		assert.Equal(t, `trailing\x`, DecodeChannel([]byte(`trailing\x`)))
	})
}

func TestHandler_Handle(t *testing.T) {
	ctx := context.Background()

	t.Run("json payload", func(t *testing.T) {
		h := NewHandler(t.TempDir())
		env, err := h.Handle(ctx, []byte(``+"\f"+`$ipc:channel?j"value"`))
		require.NoError(t, err)
		assert.Equal(t, "channel", env.Channel)
		assert.Equal(t, "value", env.Value)
	})

	t.Run("json object payload", func(t *testing.T) {
		h := NewHandler(t.TempDir())
		env, err := h.Handle(ctx, []byte("\f$ipc:stats?j{\"players\":3}"))
		require.NoError(t, err)
		assert.Equal(t, "stats", env.Channel)
		assert.Equal(t, map[string]any{"players": float64(3)}, env.Value)
	})

	t.Run("escaped channel decoded", func(t *testing.T) {
		h := NewHandler(t.TempDir())
		env, err := h.Handle(ctx, []byte("\f$ipc:$\\x20\\x3f\\x00\\x0a:?j\"value\""))
		require.NoError(t, err)
		assert.Equal(t, "$ ?\x00\n:", env.Channel)
		assert.Equal(t, "value", env.Value)
	})

	t.Run("file payload consumed once", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "data.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"data":"spam"}`), 0o600))

		h := NewHandler(dir)
		env, err := h.Handle(ctx, []byte("\f$ipc:channel?fdata.json"))
		require.NoError(t, err)
		assert.Equal(t, "channel", env.Channel)
		assert.Equal(t, map[string]any{"data": "spam"}, env.Value)

		// consume-once handoff: the file is deleted after a successful read
		_, statErr := os.Stat(path)
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("missing separator", func(t *testing.T) {
		h := NewHandler(t.TempDir())
		_, err := h.Handle(ctx, []byte("\f$ipc:blah"))
		var mErr *MalformedLineError
		require.True(t, errors.As(err, &mErr))
		assert.Equal(t, "\f$ipc:blah", mErr.Line)
	})

	t.Run("empty payload segment", func(t *testing.T) {
		h := NewHandler(t.TempDir())
		_, err := h.Handle(ctx, []byte("\f$ipc:channel?"))
		var mErr *MalformedLineError
		require.True(t, errors.As(err, &mErr))
	})

	t.Run("unknown payload type", func(t *testing.T) {
		h := NewHandler(t.TempDir())
		_, err := h.Handle(ctx, []byte("\f$ipc:channel??"))
		var tErr *UnknownTypeError
		require.True(t, errors.As(err, &tErr))
		assert.Equal(t, byte('?'), tErr.Type)
	})

	t.Run("file name with path separator", func(t *testing.T) {
		h := NewHandler(t.TempDir())
		_, err := h.Handle(ctx, []byte("\f$ipc:channel?fa/b"))
		var fErr *InvalidFileNameError
		require.True(t, errors.As(err, &fErr))
		assert.Equal(t, "a/b", fErr.Name)
	})

	t.Run("file name with backslash separator", func(t *testing.T) {
		h := NewHandler(t.TempDir())
		_, err := h.Handle(ctx, []byte(``+"\f"+`$ipc:channel?fa\b.json`))
		var fErr *InvalidFileNameError
		require.True(t, errors.As(err, &fErr))
	})

	t.Run("unknown file format", func(t *testing.T) {
		h := NewHandler(t.TempDir())
		_, err := h.Handle(ctx, []byte("\f$ipc:channel?fdata.xml"))
		var fErr *UnknownFileFormatError
		require.True(t, errors.As(err, &fErr))
		assert.Equal(t, ".xml", fErr.Ext)
	})

	t.Run("missing file propagates", func(t *testing.T) {
		h := NewHandler(t.TempDir())
		_, err := h.Handle(ctx, []byte("\f$ipc:channel?fnope.json"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, os.ErrNotExist))
	})

	t.Run("unparsable file propagates and is not deleted", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o600))

		h := NewHandler(dir)
		_, err := h.Handle(ctx, []byte("\f$ipc:channel?fbad.json"))
		require.Error(t, err)

		_, statErr := os.Stat(path)
		assert.NoError(t, statErr)
	})

	t.Run("invalid json payload propagates", func(t *testing.T) {
		h := NewHandler(t.TempDir())
		_, err := h.Handle(ctx, []byte("\f$ipc:channel?j{broken"))
		require.Error(t, err)
	})

	t.Run("canceled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(context.Background())
		cancel()

		h := NewHandler(t.TempDir())
		_, err := h.Handle(cctx, []byte("\f$ipc:channel?fdata.json"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

func TestHandler_Register(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "note.txt"), []byte("hello"), 0o600))

	h := NewHandler(dir)
	h.Register(".txt", func(data []byte) (any, error) { return string(data), nil })

	env, err := h.Handle(context.Background(), []byte("\f$ipc:channel?fnote.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", env.Value)
}
