//go:build linux || darwin

package clock

import (
	"time"

	"golang.org/x/sys/unix"
)

// processTime 读取进程 CPU 时间；不可用时退回到单调时间。
func processTime(start time.Time) time.Duration {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_PROCESS_CPUTIME_ID, &ts); err != nil {
		return time.Since(start)
	}
	return time.Duration(ts.Nano())
}
