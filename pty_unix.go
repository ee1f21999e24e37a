//go:build !windows

package main

import (
	"os"

	"github.com/creack/pty"
)

// mkPty opens a terminal pair for running the build binary as if a user
// were typing at it. The caller hands tty to the child and reads ptmx.
func mkPty() (ptmx *os.File, tty *os.File, err error) {
	return pty.Open()
}
