// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package claude

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

const defaultStopGrace = 5 * time.Second

// processSpec describes how to launch one agent process.
type processSpec struct {
	Command []string
	Args    []string
	Dir     string
	Env     []string
}

// agentProcess is a running agent child process with its pipes.
type agentProcess struct {
	cmd   *exec.Cmd
	pid   int
	stdin io.WriteCloser

	// stdinMu serializes writers only. Closing never takes it, so a write
	// blocked on a full pipe cannot hold up stop.
	stdinMu     sync.Mutex
	stdinClosed atomic.Bool

	waitDone chan struct{}
	exitErr  error
}

// buildArgs returns the agent arguments for a session.
func buildArgs(s Session) []string {
	mode := s.Mode
	if mode == "" {
		mode = ModeDefault
	}
	args := []string{
		"--output-format", "stream-json",
		"--verbose",
		"--input-format", "stream-json",
		"--include-partial-messages",
		"--permission-prompt-tool", "stdio",
		"--permission-mode", mode,
	}
	if s.Model != "" {
		args = append(args, "--model", s.Model)
	}
	// Resume the previous conversation if the agent announced one.
	if s.AgentSessionID != "" {
		args = append(args, "--resume", s.AgentSessionID)
	}
	return args
}

// startProcess launches spec in its own process group. stdout and stderr are
// handed to the given pumps; the process is reaped once both pumps return.
func startProcess(spec processSpec, onStdout, onStderr func(io.Reader)) (*agentProcess, error) {
	if len(spec.Command) == 0 {
		return nil, errors.New("empty agent command")
	}
	argv := append(append([]string(nil), spec.Command[1:]...), spec.Args...)
	cmd := exec.Command(spec.Command[0], argv...)
	cmd.Dir = spec.Dir

	// Create a new process group so tools spawned by the agent die with it.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = append(os.Environ(), spec.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start agent: %w", err)
	}

	p := &agentProcess{
		cmd:      cmd,
		pid:      cmd.Process.Pid,
		stdin:    stdin,
		waitDone: make(chan struct{}),
	}

	var pumps sync.WaitGroup
	pumps.Add(2)
	go func() {
		defer pumps.Done()
		onStdout(stdout)
	}()
	go func() {
		defer pumps.Done()
		onStderr(stderr)
	}()

	// Wait must not run before the pipes are drained.
	go func() {
		pumps.Wait()
		p.exitErr = cmd.Wait()
		close(p.waitDone)
	}()
	return p, nil
}

// Done is closed once the process has exited and its output is drained.
func (p *agentProcess) Done() <-chan struct{} { return p.waitDone }

// ExitErr returns the wait error. Valid only after Done is closed.
func (p *agentProcess) ExitErr() error { return p.exitErr }

// writeJSON writes v as one line on stdin.
func (p *agentProcess) writeJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	p.stdinMu.Lock()
	defer p.stdinMu.Unlock()
	if p.stdinClosed.Load() {
		return ErrNotRunning
	}
	if _, err := p.stdin.Write(append(data, '\n')); err != nil {
		if p.stdinClosed.Load() {
			return ErrNotRunning
		}
		return fmt.Errorf("write stdin: %w", err)
	}
	return nil
}

// closeStdin closes the pipe, waking any writer blocked on it.
func (p *agentProcess) closeStdin() {
	if p.stdinClosed.CompareAndSwap(false, true) {
		p.stdin.Close()
	}
}

// stop closes stdin so the agent can finish cleanly, then kills the whole
// process group if it has not exited within grace or ctx ends first.
func (p *agentProcess) stop(ctx context.Context, grace time.Duration) {
	if grace <= 0 {
		grace = defaultStopGrace
	}
	p.closeStdin()

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-p.waitDone:
		return
	case <-timer.C:
	case <-ctx.Done():
	}
	// Signal the process group (negative PID) to kill child processes too.
	syscall.Kill(-p.pid, syscall.SIGKILL)
	<-p.waitDone
}
