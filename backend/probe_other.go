//go:build !unix

package backend

import "os"

func deviceExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
