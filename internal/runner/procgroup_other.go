//go:build !unix

package runner

import "os/exec"

func configureProcessGroup(cmd *exec.Cmd) {}
