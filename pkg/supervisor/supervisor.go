// Package supervisor ties the stream splitter, log classifier and IPC handler
// together and owns the server lifecycle state machine.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/umputun/foreman/pkg/gamelog"
	"github.com/umputun/foreman/pkg/ipc"
	"github.com/umputun/foreman/pkg/stream"
)

// State is a lifecycle state of the supervised server.
type State string

// lifecycle states. Init is permitted from StateNew only; the launcher drives
// the operational transitions after that.
const (
	StateNew      State = "new"
	StateInit     State = "init"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
)

// InvalidStateError reports a lifecycle method invoked from the wrong state.
type InvalidStateError struct {
	Expected State
	Actual   State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("expected state %s but state is %s", e.Expected, e.Actual)
}

// ErrVersionNotFound indicates the changelog has no recognizable version header.
var ErrVersionNotFound = errors.New("version not found in changelog")

// scriptOutputDir is the write-dir subdirectory used for file-backed IPC payloads.
const scriptOutputDir = "script-output"

// versionRe matches the changelog version header, case-sensitively.
var versionRe = regexp.MustCompile(`(?m)^Version: (\d+\.\d+\.\d+)`)

// Config holds supervisor configuration.
type Config struct {
	WriteDir  string // root directory shared with the server process
	Changelog string // path to the changelog used for version detection
}

// Supervisor routes the server's output stream: IPC-shaped lines go to the
// IPC handler and are dispatched as "ipc-<channel>" events, everything else
// is classified and dispatched as a log event. It also derives the version,
// write paths and launch credentials consumed by the launcher.
type Supervisor struct {
	cfg Config
	bus *Bus
	ipc *ipc.Handler

	mu        sync.Mutex
	state     State
	version   string
	splitters map[string]*stream.Splitter
	feedCtx   context.Context // context of the Feed call in flight, used by line callbacks
}

// New creates a supervisor in state new. the IPC handler consumes files from
// the script-output subdirectory of the write dir.
func New(cfg Config) *Supervisor {
	s := &Supervisor{
		cfg:       cfg,
		bus:       NewBus(),
		state:     StateNew,
		splitters: map[string]*stream.Splitter{},
	}
	s.ipc = ipc.NewHandler(s.WritePath(scriptOutputDir))
	return s
}

// Bus returns the event bus for subscribing to log, state and IPC events.
func (s *Supervisor) Bus() *Bus { return s.bus }

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Init detects the server version and moves the supervisor to state init.
// allowed exactly once, from state new; any other state fails with
// InvalidStateError.
func (s *Supervisor) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("init: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateNew {
		return &InvalidStateError{Expected: StateNew, Actual: s.state}
	}

	version, err := detectVersion(s.cfg.Changelog)
	if err != nil {
		return fmt.Errorf("detect version: %w", err)
	}

	s.version = version
	s.state = StateInit
	return nil
}

// Version returns the detected version, cached by Init.
func (s *Supervisor) Version() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// WritePath joins path segments under the configured write root. it neither
// creates directories nor validates existence.
func (s *Supervisor) WritePath(segments ...string) string {
	return filepath.Join(append([]string{s.cfg.WriteDir}, segments...)...)
}

// Transition moves the supervisor to an operational state and dispatches a
// state event. used by the launcher for running/stopping/stopped.
func (s *Supervisor) Transition(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.bus.Dispatch(EventState, st)
}

// Feed delivers one raw chunk from the named source stream (stdout, stderr).
// complete lines are dispatched in arrival order and each dispatch outcome is
// awaited before the next line; a dispatch failure aborts that one line and is
// returned without losing subsequent buffered lines.
func (s *Supervisor) Feed(ctx context.Context, source string, chunk []byte) error {
	s.mu.Lock()
	sp := s.splitterLocked(source)
	s.feedCtx = ctx
	s.mu.Unlock()

	if err := sp.Feed(chunk); err != nil {
		return fmt.Errorf("feed %s: %w", source, err)
	}
	return nil
}

// Close flushes the named source's pending buffer at end of stream.
func (s *Supervisor) Close(ctx context.Context, source string) error {
	s.mu.Lock()
	sp := s.splitterLocked(source)
	s.feedCtx = ctx
	s.mu.Unlock()

	if err := sp.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", source, err)
	}
	return nil
}

// splitterLocked returns (creating if needed) the splitter for source.
// caller must hold s.mu.
func (s *Supervisor) splitterLocked(source string) *stream.Splitter {
	sp, ok := s.splitters[source]
	if !ok {
		sp = stream.NewSplitter(func(line []byte) error {
			return s.handleLine(source, line)
		})
		s.splitters[source] = sp
	}
	return sp
}

// handleLine routes one complete line: IPC-shaped lines decode and dispatch
// an ipc-<channel> event, everything else classifies into a log event.
// classification is total; only the IPC path can fail.
func (s *Supervisor) handleLine(source string, line []byte) error {
	if ipc.IsLine(line) {
		s.mu.Lock()
		ctx := s.feedCtx
		s.mu.Unlock()
		if ctx == nil {
			ctx = context.Background()
		}

		env, err := s.ipc.Handle(ctx, line)
		if err != nil {
			return err
		}
		s.bus.Dispatch(IPCPrefix+env.Channel, env.Value)
		return nil
	}

	s.bus.Dispatch(EventLog, gamelog.Parse(line, source))
	return nil
}

// RegisterFormat adds a parser for an additional file-backed IPC payload format.
func (s *Supervisor) RegisterFormat(ext string, parser ipc.PayloadParser) {
	s.ipc.Register(ext, parser)
}

// detectVersion scans the changelog for the first version header line.
func detectVersion(path string) (string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from config
	if err != nil {
		return "", fmt.Errorf("read changelog: %w", err)
	}

	m := versionRe.FindSubmatch(data)
	if m == nil {
		return "", fmt.Errorf("changelog %s: %w", path, ErrVersionNotFound)
	}
	return string(m[1]), nil
}
