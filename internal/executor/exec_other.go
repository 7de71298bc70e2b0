//go:build !unix

package executor

import "os/exec"

// configureProcessGroup is a no-op where process groups are unavailable;
// exec.CommandContext still kills the direct child.
func configureProcessGroup(*exec.Cmd) {}
