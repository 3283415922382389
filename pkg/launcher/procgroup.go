//go:build !windows

package launcher

import (
	"fmt"
	"log"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// stopGracePeriod is the time between SIGTERM and SIGKILL. the server saves
// the game on SIGTERM, which can take a while on large maps.
const stopGracePeriod = 10 * time.Second

// processGroupCleanup manages process group lifecycle for graceful shutdown.
// when the context is canceled the entire process tree is terminated, not
// just the direct child.
type processGroupCleanup struct {
	cmd  *exec.Cmd
	done chan struct{}
	once sync.Once
	err  error
}

// setupProcessGroup configures the command to run in its own process group.
// must be called before cmd.Start().
func setupProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// newProcessGroupCleanup creates a cleanup handler for a started command.
// caller must eventually call Wait() to release resources.
func newProcessGroupCleanup(cmd *exec.Cmd, cancelCh <-chan struct{}) *processGroupCleanup {
	pg := &processGroupCleanup{
		cmd:  cmd,
		done: make(chan struct{}),
	}
	go pg.watchForCancel(cancelCh)
	return pg
}

// watchForCancel terminates the process group when the cancel channel fires.
func (pg *processGroupCleanup) watchForCancel(cancelCh <-chan struct{}) {
	select {
	case <-cancelCh:
		pg.stopProcessGroup()
	case <-pg.done:
		// process exited on its own
	}
}

// stopProcessGroup sends SIGTERM and escalates to SIGKILL after the grace
// period. SIGTERM first gives the server a chance to save.
func (pg *processGroupCleanup) stopProcessGroup() {
	process := pg.cmd.Process
	if process == nil {
		return
	}

	pid := process.Pid
	if pid <= 0 {
		log.Printf("[WARN] invalid pid %d, skipping process group stop", pid)
		return
	}

	pgid := -pid

	if err := syscall.Kill(pgid, syscall.SIGTERM); err != nil && err != syscall.ESRCH {
		log.Printf("[WARN] SIGTERM failed for pgid %d: %v", pgid, err)
	}

	// wait for a clean exit before escalating
	select {
	case <-pg.done:
		return
	case <-time.After(stopGracePeriod):
	}

	if err := syscall.Kill(pgid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		log.Printf("[WARN] SIGKILL failed for pgid %d: %v", pgid, err)
	}
}

// Wait waits for the command to complete. safe to call multiple times,
// subsequent calls return the cached result.
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
