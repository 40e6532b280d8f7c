//go:build unix

package backend

import "golang.org/x/sys/unix"

func deviceExists(path string) bool {
	var st unix.Stat_t
	return unix.Stat(path, &st) == nil
}
