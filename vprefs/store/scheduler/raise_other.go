//go:build !unix

package scheduler

import "os"

// Signals cannot be re-delivered to the current process here; exit with the
// status a console interrupt would produce.
func raise(os.Signal) {
	os.Exit(1)
}
