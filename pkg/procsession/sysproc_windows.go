//go:build windows

package procsession

import (
	"os"
	"os/exec"
	"strconv"
)

func configureCommand(cmd *exec.Cmd) {}

// signalProcessGroup ends the process tree rooted at pid with taskkill /T.
// Without force taskkill asks the processes to close; console programs
// usually refuse, in which case the tree is killed.
func signalProcessGroup(pid int, force bool) error {
	args := []string{"/T", "/PID", strconv.Itoa(pid)}
	if force {
		args = append([]string{"/F"}, args...)
	}
	err := exec.Command("taskkill", args...).Run()
	if err == nil {
		return nil
	}
	if !force {
		return signalProcessGroup(pid, true)
	}
	p, findErr := os.FindProcess(pid)
	if findErr != nil {
		return err
	}
	return p.Kill()
}

func terminationSignal(state *os.ProcessState) (string, bool) { return "", false }
