/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package hls

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/rs/zerolog"
)

// Process is a running transcoder. Done closes when the process exits for
// any reason; ExitError then reports how it went.
type Process interface {
	PID() int
	Done() <-chan struct{}
	ExitError() error
	Kill()
}

// SpawnFunc launches a transcoder process. Tests substitute their own.
type SpawnFunc func(bin string, args []string, logger zerolog.Logger) (Process, error)

// Transcoder supervises one ffmpeg process. The transcoder is disposable:
// it is killed hard on teardown and never restarted in place, so there is
// no graceful-stop path.
type Transcoder struct {
	cmd    *exec.Cmd
	logger zerolog.Logger
	done   chan struct{}

	mu         sync.Mutex
	exitErr    error
	killed     bool
	stderrTail []string
}

// SpawnTranscoder launches the binary and wires up stderr monitoring. It is
// the production SpawnFunc.
func SpawnTranscoder(bin string, args []string, logger zerolog.Logger) (Process, error) {
	cmd := exec.Command(bin, args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("transcoder stderr pipe: %w", err)
	}

	tc := &Transcoder{
		cmd:    cmd,
		logger: logger,
		done:   make(chan struct{}),
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn transcoder %s: %w", bin, err)
	}

	tc.logger.Info().Int("pid", cmd.Process.Pid).Strs("args", args).Msg("transcoder started")

	go tc.monitorStderr(stderr)
	go tc.monitorProcess()
	return tc, nil
}

// PID returns the transcoder's process id.
func (tc *Transcoder) PID() int {
	if tc.cmd.Process == nil {
		return 0
	}
	return tc.cmd.Process.Pid
}

// Done closes when the process has exited.
func (tc *Transcoder) Done() <-chan struct{} { return tc.done }

// ExitError reports the process exit status once Done is closed.
func (tc *Transcoder) ExitError() error {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.exitErr
}

// Kill terminates the process immediately. Segment output is a rolling
// window, so there is nothing worth flushing.
func (tc *Transcoder) Kill() {
	tc.mu.Lock()
	if tc.killed {
		tc.mu.Unlock()
		return
	}
	tc.killed = true
	tc.mu.Unlock()

	if tc.cmd.Process != nil {
		_ = tc.cmd.Process.Kill()
	}
}

func (tc *Transcoder) monitorStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		tc.mu.Lock()
		tc.stderrTail = append(tc.stderrTail, line)
		if len(tc.stderrTail) > 16 {
			tc.stderrTail = tc.stderrTail[1:]
		}
		tc.mu.Unlock()
		tc.logger.Debug().Str("stream", "stderr").Msg(line)
	}
}

func (tc *Transcoder) monitorProcess() {
	err := tc.cmd.Wait()

	tc.mu.Lock()
	tc.exitErr = err
	killed := tc.killed
	tail := make([]string, len(tc.stderrTail))
	copy(tail, tc.stderrTail)
	tc.mu.Unlock()

	if err != nil && !killed {
		tc.logger.Error().Err(err).Strs("stderr_tail", tail).Msg("transcoder exited unexpectedly")
	} else {
		tc.logger.Info().Msg("transcoder exited")
	}
	close(tc.done)
}
