// Package ipc implements the stdout side-channel protocol the game server uses
// to push structured data to the supervisor.
//
// an IPC line is a form feed followed by the "$ipc:" marker, a channel name,
// an unescaped "?" separator, a one-byte payload type and the payload itself:
//
//	\f$ipc:my-channel?j{"some":"json"}
//	\f$ipc:my-channel?fresult.json
//
// channel names may embed arbitrary bytes via \xHH escapes, including "?",
// NUL, newline and space.
package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// marker prefixes every IPC line within the plain-text output stream.
const marker = "\f$ipc:"

// Envelope is one decoded IPC dispatch.
type Envelope struct {
	Channel string // decoded channel identifier, arbitrary bytes preserved
	Value   any    // parsed payload (JSON value or file contents)
}

// MalformedLineError reports an IPC line with no channel/type separator.
type MalformedLineError struct {
	Line string // original raw line
}

func (e *MalformedLineError) Error() string {
	return fmt.Sprintf("malformed IPC line %q", e.Line)
}

// UnknownTypeError reports a payload type outside the recognized set.
type UnknownTypeError struct {
	Type byte // offending type character
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown IPC payload type %q", string(e.Type))
}

// InvalidFileNameError reports a file payload name containing a path separator.
type InvalidFileNameError struct {
	Name string // offending filename
}

func (e *InvalidFileNameError) Error() string {
	return fmt.Sprintf("invalid IPC file name %q", e.Name)
}

// UnknownFileFormatError reports a file payload with an unrecognized extension.
type UnknownFileFormatError struct {
	Ext string // offending extension, including the dot
}

func (e *UnknownFileFormatError) Error() string {
	return fmt.Sprintf("unknown IPC file format %q", e.Ext)
}

// IsLine reports whether line carries the IPC marker.
func IsLine(line []byte) bool {
	return bytes.HasPrefix(line, []byte(marker))
}

// EscapeChannel encodes a channel name for the wire. bytes that would break
// the line or the channel/type separator are replaced with \xHH escapes;
// everything else passes through unchanged. DecodeChannel inverts it exactly.
func EscapeChannel(channel string) string {
	var b strings.Builder
	for i := 0; i < len(channel); i++ {
		c := channel[i]
		if c < 0x20 || c == 0x7f || c == '?' || c == ' ' || c == '\\' {
			fmt.Fprintf(&b, `\x%02x`, c)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// DecodeChannel decodes \xHH escapes back to raw bytes. sequences that do not
// form a valid escape are copied through verbatim.
func DecodeChannel(encoded []byte) string {
	var b strings.Builder
	for i := 0; i < len(encoded); i++ {
		if encoded[i] == '\\' && i+3 < len(encoded) && encoded[i+1] == 'x' {
			if v, err := strconv.ParseUint(string(encoded[i+2:i+4]), 16, 8); err == nil {
				b.WriteByte(byte(v))
				i += 3
				continue
			}
		}
		b.WriteByte(encoded[i])
	}
	return b.String()
}

// PayloadParser parses the raw bytes of a file-backed payload.
type PayloadParser func(data []byte) (any, error)

// Handler decodes IPC lines. file payloads resolve beneath dir, are parsed
// according to their extension and deleted after a successful read.
type Handler struct {
	dir     string
	formats map[string]PayloadParser
}

// NewHandler creates a handler resolving file payloads beneath dir.
// JSON is registered out of the box; more formats can be added via Register.
func NewHandler(dir string) *Handler {
	h := &Handler{dir: dir, formats: map[string]PayloadParser{}}
	h.Register(".json", func(data []byte) (any, error) {
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
		return v, nil
	})
	return h
}

// Register adds a payload parser for the given extension (including the dot).
func (h *Handler) Register(ext string, parser PayloadParser) {
	h.formats[ext] = parser
}

// Handle decodes one IPC line into an envelope. the line must carry the
// marker (see IsLine); anything after the marker is validated strictly and
// every failure is reported, never swallowed.
func (h *Handler) Handle(ctx context.Context, line []byte) (Envelope, error) {
	rest := bytes.TrimPrefix(line, []byte(marker))

	// escaped "?" is written as \x3f, so the first literal "?" terminates the channel
	sep := bytes.IndexByte(rest, '?')
	if sep < 0 {
		return Envelope{}, &MalformedLineError{Line: string(line)}
	}

	channel := DecodeChannel(rest[:sep])
	content := rest[sep+1:]
	if len(content) == 0 {
		return Envelope{}, &MalformedLineError{Line: string(line)}
	}

	switch content[0] {
	case 'j':
		var v any
		if err := json.Unmarshal(content[1:], &v); err != nil {
			return Envelope{}, fmt.Errorf("parse json payload for channel %q: %w", channel, err)
		}
		return Envelope{Channel: channel, Value: v}, nil

	case 'f':
		v, err := h.loadFile(ctx, string(content[1:]))
		if err != nil {
			return Envelope{}, err
		}
		return Envelope{Channel: channel, Value: v}, nil

	default:
		return Envelope{}, &UnknownTypeError{Type: content[0]}
	}
}

// loadFile reads, parses and deletes a file-backed payload. the file is a
// consume-once handoff from the server's scripting side, not a cache.
func (h *Handler) loadFile(ctx context.Context, name string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("ipc file %s: %w", name, err)
	}

	if strings.ContainsAny(name, `/\`) {
		return nil, &InvalidFileNameError{Name: name}
	}

	ext := filepath.Ext(name)
	parser, ok := h.formats[ext]
	if !ok {
		return nil, &UnknownFileFormatError{Ext: ext}
	}

	path := filepath.Join(h.dir, name)
	data, err := os.ReadFile(path) //nolint:gosec // name is validated against path separators above
	if err != nil {
		return nil, fmt.Errorf("read ipc file %s: %w", name, err)
	}

	v, err := parser(data)
	if err != nil {
		return nil, fmt.Errorf("ipc file %s: %w", name, err)
	}

	if err := os.Remove(path); err != nil {
		return nil, fmt.Errorf("delete ipc file %s: %w", name, err)
	}

	return v, nil
}
