//go:build linux

// control/platform_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux-specific debug probes.

package control

import (
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-probe/api"
)

// RegisterPlatformProbes sets Linux-specific debug probes. Every transport
// holds two descriptors (socket and epoll) plus an eventfd, so the fd
// limit bounds concurrent probes.
func RegisterPlatformProbes(dp api.Debug) {
	dp.RegisterProbe("platform.cpus", func() any {
		return runtime.NumCPU()
	})
	dp.RegisterProbe("platform.goroutines", func() any {
		return runtime.NumGoroutine()
	})
	dp.RegisterProbe("platform.fd_limit", func() any {
		var rl unix.Rlimit
		if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
			return err.Error()
		}
		return rl.Cur
	})
}
