//go:build !(linux || darwin)

package clock

import "time"

func processTime(start time.Time) time.Duration {
	return time.Since(start)
}
