// Package console provides timestamped rendering of server output to file and stdout with color support.
package console

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/umputun/foreman/pkg/gamelog"
)

// ColorConfig holds RGB values for output colors.
// each field stores comma-separated RGB values (e.g., "255,0,0" for red).
type ColorConfig struct {
	Info      string // engine info lines
	Warning   string // warnings
	Error     string // errors
	Script    string // script (mod) output
	Action    string // join/leave/kick/ban/command lines
	Chat      string // player chat
	State     string // lifecycle transitions
	Timestamp string // timestamp prefix
}

// Colors holds all color configuration for output formatting.
// use NewColors to create from ColorConfig.
type Colors struct {
	info      *color.Color
	warn      *color.Color
	err       *color.Color
	state     *color.Color
	timestamp *color.Color
	byCat     map[gamelog.Category]*color.Color
}

// NewColors creates Colors from ColorConfig.
// all colors must be provided - use config with embedded defaults fallback.
// panics if any color value is invalid (configuration error).
func NewColors(cfg ColorConfig) *Colors {
	c := &Colors{byCat: make(map[gamelog.Category]*color.Color)}
	c.info = parseColorOrPanic(cfg.Info, "info")
	c.warn = parseColorOrPanic(cfg.Warning, "warning")
	c.err = parseColorOrPanic(cfg.Error, "error")
	c.state = parseColorOrPanic(cfg.State, "state")
	c.timestamp = parseColorOrPanic(cfg.Timestamp, "timestamp")

	script := parseColorOrPanic(cfg.Script, "script")
	action := parseColorOrPanic(cfg.Action, "action")
	chat := parseColorOrPanic(cfg.Chat, "chat")

	c.byCat[gamelog.CategoryInfo] = c.info
	c.byCat[gamelog.CategoryVerbose] = c.info
	c.byCat[gamelog.CategoryGeneric] = c.info
	c.byCat[gamelog.CategoryWarning] = c.warn
	c.byCat[gamelog.CategoryError] = c.err
	c.byCat[gamelog.CategoryScript] = script
	c.byCat[gamelog.CategoryJoin] = action
	c.byCat[gamelog.CategoryLeave] = action
	c.byCat[gamelog.CategoryKick] = action
	c.byCat[gamelog.CategoryBan] = action
	c.byCat[gamelog.CategoryCommand] = action
	c.byCat[gamelog.CategoryChat] = chat

	return c
}

// parseColorOrPanic parses RGB string and returns color, panics on invalid input.
func parseColorOrPanic(s, name string) *color.Color {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		panic(fmt.Sprintf("invalid color_%s value: %q", name, s))
	}
	rgb := make([]int, 3)
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || v < 0 || v > 255 {
			panic(fmt.Sprintf("invalid color_%s value: %q", name, s))
		}
		rgb[i] = v
	}
	return color.RGB(rgb[0], rgb[1], rgb[2])
}

// Info returns the info color for informational messages.
func (c *Colors) Info() *color.Color { return c.info }

// ForCategory returns the color for the given log category.
func (c *Colors) ForCategory(cat gamelog.Category) *color.Color {
	if cl, ok := c.byCat[cat]; ok {
		return cl
	}
	return c.info
}

// timestampFormat is the format for timestamps: YY-MM-DD HH:MM:SS
const timestampFormat = "06-01-02 15:04:05"

// Logger mirrors server output to a console log file and stdout.
type Logger struct {
	file      *os.File
	stdout    io.Writer
	startTime time.Time
	colors    *Colors
}

// Config holds logger configuration.
type Config struct {
	LogFile string // console log path, empty disables the file mirror
	NoColor bool   // disable color output (sets color.NoColor globally)
}

// NewLogger creates a logger writing to both a console log file and stdout.
// colors must be provided (created via NewColors from config).
func NewLogger(cfg Config, colors *Colors) (*Logger, error) {
	if cfg.NoColor {
		color.NoColor = true
	}

	l := &Logger{
		stdout:    os.Stdout,
		startTime: time.Now(),
		colors:    colors,
	}

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) //nolint:gosec // path comes from config
		if err != nil {
			return nil, fmt.Errorf("open console log: %w", err)
		}
		l.file = f
		l.writeFile("---- session started %s ----\n", time.Now().Format("2006-01-02 15:04:05"))
	}

	return l, nil
}

// Record writes one classified line, colored by category, wrapped to the
// terminal width.
func (l *Logger) Record(rec gamelog.Record) {
	msg := rec.Message
	if msg == "" {
		return
	}

	lineColor := l.colors.ForCategory(rec.Category)
	timestamp := rec.Received.Format(timestampFormat)
	tag := fmt.Sprintf("[%s]", rec.Category)

	width := getTerminalWidth()
	for _, line := range splitWrapped(msg, width) {
		l.writeFile("[%s] %s %s\n", timestamp, tag, line)
		tsStr := l.colors.timestamp.Sprintf("[%s]", timestamp)
		l.writeStdout("%s %s %s\n", tsStr, lineColor.Sprint(tag), lineColor.Sprint(line))
	}
}

// Print writes a timestamped supervisor message to both file and stdout.
func (l *Logger) Print(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	timestamp := time.Now().Format(timestampFormat)

	l.writeFile("[%s] %s\n", timestamp, msg)

	tsStr := l.colors.timestamp.Sprintf("[%s]", timestamp)
	l.writeStdout("%s %s\n", tsStr, l.colors.state.Sprint(msg))
}

// Error writes an error message in the error color.
func (l *Logger) Error(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	timestamp := time.Now().Format(timestampFormat)

	l.writeFile("[%s] ERROR: %s\n", timestamp, msg)

	tsStr := l.colors.timestamp.Sprintf("[%s]", timestamp)
	l.writeStdout("%s %s\n", tsStr, l.colors.err.Sprintf("ERROR: %s", msg))
}

// Warn writes a warning message in the warning color.
func (l *Logger) Warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	timestamp := time.Now().Format(timestampFormat)

	l.writeFile("[%s] WARN: %s\n", timestamp, msg)

	tsStr := l.colors.timestamp.Sprintf("[%s]", timestamp)
	l.writeStdout("%s %s\n", tsStr, l.colors.warn.Sprintf("WARN: %s", msg))
}

// Elapsed returns formatted elapsed time since the logger was created.
func (l *Logger) Elapsed() string {
	return humanize.RelTime(l.startTime, time.Now(), "", "")
}

// Close writes the session footer and closes the console log file.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}

	l.writeFile("---- session ended %s (%s) ----\n", time.Now().Format("2006-01-02 15:04:05"), l.Elapsed())

	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close console log: %w", err)
	}
	return nil
}

func (l *Logger) writeFile(format string, args ...any) {
	if l.file != nil {
		fmt.Fprintf(l.file, format, args...)
	}
}

func (l *Logger) writeStdout(format string, args ...any) {
	fmt.Fprintf(l.stdout, format, args...)
}

// getTerminalWidth returns the content width, using COLUMNS env var or syscall.
// defaults to 80 columns if detection fails; 20 columns are reserved for the
// timestamp prefix.
func getTerminalWidth() int {
	const minWidth = 40

	if cols := os.Getenv("COLUMNS"); cols != "" {
		if w, err := strconv.Atoi(cols); err == nil && w > 0 {
			return max(minWidth, w-20)
		}
	}

	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return max(minWidth, w-20)
	}

	return 80 - 20
}

// splitWrapped breaks a message into display lines no longer than width,
// wrapping on word boundaries.
func splitWrapped(text string, width int) []string {
	if width <= 0 || len(text) <= width {
		return []string{text}
	}

	var lines []string
	var current strings.Builder
	for _, word := range strings.Fields(text) {
		if current.Len() == 0 {
			current.WriteString(word)
			continue
		}
		if current.Len()+1+len(word) <= width {
			current.WriteString(" ")
			current.WriteString(word)
			continue
		}
		lines = append(lines, current.String())
		current.Reset()
		current.WriteString(word)
	}
	if current.Len() > 0 {
		lines = append(lines, current.String())
	}
	if len(lines) == 0 {
		return []string{text}
	}
	return lines
}
