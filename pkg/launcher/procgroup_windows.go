//go:build windows

package launcher

import (
	"fmt"
	"os/exec"
	"sync"
)

// processGroupCleanup manages process lifecycle for graceful shutdown on Windows.
// Windows has no Unix process groups, so only the direct process is killed.
type processGroupCleanup struct {
	cmd  *exec.Cmd
	done chan struct{}
	once sync.Once
	err  error
}

// setupProcessGroup is a no-op on Windows.
func setupProcessGroup(_ *exec.Cmd) {}

// newProcessGroupCleanup creates a cleanup handler for a started command.
func newProcessGroupCleanup(cmd *exec.Cmd, cancelCh <-chan struct{}) *processGroupCleanup {
	pg := &processGroupCleanup{
		cmd:  cmd,
		done: make(chan struct{}),
	}

	go func() {
		select {
		case <-cancelCh:
			if cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
		case <-pg.done:
		}
	}()

	return pg
}

// Wait waits for the command to complete. safe to call multiple times.
func (pg *processGroupCleanup) Wait() error {
	pg.once.Do(func() {
		pg.err = pg.cmd.Wait()
		close(pg.done)
		if pg.err != nil {
			pg.err = fmt.Errorf("server wait: %w", pg.err)
		}
	})
	return pg.err
}
