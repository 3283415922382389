package launcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/shirou/gopsutil/v3/process"
)

// Stats holds resource usage of the running server process.
type Stats struct {
	CPUPercent float64 `json:"cpu_percent"`
	RSS        uint64  `json:"rss"` // resident memory, bytes
}

// ErrNotRunning indicates stats were requested before the server started.
var ErrNotRunning = errors.New("server not running")

// Stats returns current resource usage of the server process.
func (l *Launcher) Stats(ctx context.Context) (Stats, error) {
	pid := l.Pid()
	if pid == 0 {
		return Stats{}, ErrNotRunning
	}

	p, err := process.NewProcessWithContext(ctx, int32(pid)) //nolint:gosec // pid fits int32 on supported platforms
	if err != nil {
		return Stats{}, fmt.Errorf("find process %d: %w", pid, err)
	}

	res := Stats{}
	if cpu, cpuErr := p.CPUPercentWithContext(ctx); cpuErr == nil {
		res.CPUPercent = cpu
	}
	if mem, memErr := p.MemoryInfoWithContext(ctx); memErr == nil && mem != nil {
		res.RSS = mem.RSS
	}
	return res, nil
}
