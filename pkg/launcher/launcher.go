// Package launcher spawns the dedicated game-server process and pumps its
// output into the supervisor.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strconv"
	"sync/atomic"

	"github.com/umputun/foreman/pkg/supervisor"
)

//go:generate moq -out mocks/command_runner.go -pkg mocks -skip-ensure -fmt goimports . CommandRunner

// readBufSize is the chunk size for draining the server's output pipe.
const readBufSize = 4096

// CommandRunner abstracts process execution for testing.
// Returns a reader for the merged output stream, the process id and a wait
// function for completion.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (output io.Reader, pid int, wait func() error, err error)
}

// execServerRunner is the default command runner using os/exec.
type execServerRunner struct{}

func (r *execServerRunner) Run(ctx context.Context, name string, args ...string) (io.Reader, int, func() error, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, nil, fmt.Errorf("context already canceled: %w", err)
	}

	// use exec.Command (not CommandContext) because cancellation is handled
	// via process group kill so the whole server tree goes down, not just the
	// direct child
	cmd := exec.Command(name, args...) //nolint:noctx // intentional: context cancellation kills the process group

	setupProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, 0, nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	// the server writes diagnostics to stderr; merge it into the same ordered stream
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, 0, nil, fmt.Errorf("start server: %w", err)
	}

	cleanup := newProcessGroupCleanup(cmd, ctx.Done())
	return stdout, cmd.Process.Pid, cleanup.Wait, nil
}

// Config holds launcher configuration.
type Config struct {
	Command      string   // server binary path
	Args         []string // extra arguments appended after the generated ones
	Save         string   // save file to load, empty to let the server pick the latest
	Port         int      // game listener port (derived, ephemeral)
	RconPort     int      // remote console port, 0 to disable
	RconPassword string   // remote console credential (derived)
	Source       string   // source label for classified lines, defaults to "stdout"
}

// Launcher runs one server process and feeds its output to the supervisor.
type Launcher struct {
	cfg       Config
	sup       *supervisor.Supervisor
	cmdRunner CommandRunner // for testing, nil uses default
	pid       atomic.Int64
}

// New creates a launcher for the given supervisor.
func New(cfg Config, sup *supervisor.Supervisor) *Launcher {
	if cfg.Source == "" {
		cfg.Source = "stdout"
	}
	return &Launcher{cfg: cfg, sup: sup}
}

// Pid returns the process id of the running server, 0 before start.
func (l *Launcher) Pid() int { return int(l.pid.Load()) }

// Run starts the server and blocks until the process exits or ctx is
// canceled. the supervisor transitions running -> stopping -> stopped around
// the process lifetime. line dispatch failures (bad IPC lines) are logged and
// reported but never abort the stream.
func (l *Launcher) Run(ctx context.Context) error {
	runner := l.cmdRunner
	if runner == nil {
		runner = &execServerRunner{}
	}

	output, pid, wait, err := runner.Run(ctx, l.cfg.Command, l.buildArgs()...)
	if err != nil {
		return fmt.Errorf("run server: %w", err)
	}
	l.pid.Store(int64(pid))

	l.sup.Transition(supervisor.StateRunning)

	var dispatchErrs []error
	buf := make([]byte, readBufSize)
	for {
		n, readErr := output.Read(buf)
		if n > 0 {
			if feedErr := l.sup.Feed(ctx, l.cfg.Source, buf[:n]); feedErr != nil {
				// one bad line must not lose the rest of the stream
				log.Printf("[WARN] line dispatch failed: %v", feedErr)
				dispatchErrs = append(dispatchErrs, feedErr)
			}
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				log.Printf("[WARN] server output read: %v", readErr)
			}
			break
		}
	}

	if closeErr := l.sup.Close(ctx, l.cfg.Source); closeErr != nil {
		dispatchErrs = append(dispatchErrs, closeErr)
	}

	l.sup.Transition(supervisor.StateStopping)
	waitErr := wait()
	l.sup.Transition(supervisor.StateStopped)

	if waitErr != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("server stopped: %w", ctx.Err())
		}
		return fmt.Errorf("server exited: %w", waitErr)
	}

	return errors.Join(dispatchErrs...)
}

// buildArgs assembles the server command line from config and derived values.
func (l *Launcher) buildArgs() []string {
	var args []string
	if l.cfg.Save != "" {
		args = append(args, "--start-server", l.cfg.Save)
	} else {
		args = append(args, "--start-server-load-latest")
	}
	if l.cfg.Port > 0 {
		args = append(args, "--port", strconv.Itoa(l.cfg.Port))
	}
	if l.cfg.RconPort > 0 {
		args = append(args, "--rcon-port", strconv.Itoa(l.cfg.RconPort),
			"--rcon-password", l.cfg.RconPassword)
	}
	return append(args, l.cfg.Args...)
}
