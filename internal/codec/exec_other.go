//go:build !windows

package codec

import "os/exec"

// hideWindow is a no-op outside Windows; there is no console window to hide.
func hideWindow(cmd *exec.Cmd) {}
