/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// stderrTailSize is how many recent worker stderr lines are retained for
// post-mortem logging when a worker dies.
const stderrTailSize = 32

var (
	// ErrWorkerClosed indicates the worker process is gone or shut down.
	ErrWorkerClosed = errors.New("media worker closed")
)

// WorkerSettings controls how a media-router worker process is launched.
type WorkerSettings struct {
	// Bin is the worker executable path.
	Bin string
	// LogLevel is passed through as --logLevel.
	LogLevel string
	// RTPMinPort and RTPMaxPort bound the worker's media port range.
	RTPMinPort int
	RTPMaxPort int
}

// Args renders the worker command line for a given worker id.
func (s WorkerSettings) Args(id string) []string {
	return []string{
		"--id=" + id,
		"--logLevel=" + s.LogLevel,
		fmt.Sprintf("--rtcMinPort=%d", s.RTPMinPort),
		fmt.Sprintf("--rtcMaxPort=%d", s.RTPMaxPort),
	}
}

// Worker owns one media-router child process and the control channel to it.
// Routers created on the worker die with it.
type Worker struct {
	id      string
	channel *Channel
	cmd     *exec.Cmd
	logger  zerolog.Logger

	mu      sync.Mutex
	routers map[string]*Router
	closed  bool
	onDied  func(*Worker, error)

	stderrMu   sync.Mutex
	stderrTail []string

	runningCh chan struct{}
}

// NewWorker spawns a worker process and blocks until it reports running. The
// control channel rides on an inherited socket pair at fd 3. ctx bounds the
// startup wait only.
func NewWorker(ctx context.Context, settings WorkerSettings, logger zerolog.Logger) (*Worker, error) {
	id := uuid.NewString()

	fds, err := syscall.Socketpair(syscall.AF_LOCAL, syscall.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("socketpair: %w", err)
	}
	parentFile := os.NewFile(uintptr(fds[0]), "worker-channel-parent")
	childFile := os.NewFile(uintptr(fds[1]), "worker-channel-child")

	conn, err := net.FileConn(parentFile)
	_ = parentFile.Close()
	if err != nil {
		_ = childFile.Close()
		return nil, fmt.Errorf("worker channel conn: %w", err)
	}

	cmd := exec.Command(settings.Bin, settings.Args(id)...)
	cmd.ExtraFiles = []*os.File{childFile}
	cmd.Env = append(os.Environ(), "WORKER_CHANNEL_FD=3")

	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = conn.Close()
		_ = childFile.Close()
		return nil, fmt.Errorf("worker stderr pipe: %w", err)
	}

	w := &Worker{
		id:        id,
		channel:   newChannel(conn),
		cmd:       cmd,
		logger:    logger.With().Str("worker_id", id).Logger(),
		routers:   make(map[string]*Router),
		runningCh: make(chan struct{}),
	}

	w.channel.Subscribe("", w.handleWorkerNotification)
	w.channel.start(func() {
		w.died(errors.New("worker channel disconnected"))
	})

	if err := cmd.Start(); err != nil {
		w.channel.Close()
		_ = childFile.Close()
		return nil, fmt.Errorf("spawn worker %s: %w", settings.Bin, err)
	}
	_ = childFile.Close()

	go w.readStderr(stderr)
	go w.wait()

	select {
	case <-w.runningCh:
	case <-ctx.Done():
		w.Close()
		return nil, fmt.Errorf("worker %s startup: %w", id, ctx.Err())
	}

	w.logger.Info().Int("pid", cmd.Process.Pid).Msg("media worker running")
	return w, nil
}

// AttachWorker wires a Worker to an already established control connection
// and waits for its running announcement. No child process is supervised;
// death is detected through channel disconnect only.
func AttachWorker(ctx context.Context, id string, conn net.Conn, logger zerolog.Logger) (*Worker, error) {
	w := &Worker{
		id:        id,
		channel:   newChannel(conn),
		logger:    logger.With().Str("worker_id", id).Logger(),
		routers:   make(map[string]*Router),
		runningCh: make(chan struct{}),
	}
	w.channel.Subscribe("", w.handleWorkerNotification)
	w.channel.start(func() {
		w.died(errors.New("worker channel disconnected"))
	})

	select {
	case <-w.runningCh:
	case <-ctx.Done():
		w.Close()
		return nil, fmt.Errorf("worker %s startup: %w", id, ctx.Err())
	}
	return w, nil
}

// ID returns the worker's uuid, also passed to the process as --id.
func (w *Worker) ID() string { return w.id }

// Closed reports whether the worker has shut down or died.
func (w *Worker) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// OnDied registers the callback invoked once if the worker dies unexpectedly.
// A deliberate Close does not fire it.
func (w *Worker) OnDied(fn func(*Worker, error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onDied = fn
}

// CreateRouter asks the worker to materialize a router with the given codec
// set and registers it for lifecycle tracking.
func (w *Worker) CreateRouter(ctx context.Context, codecs []RtpCodecCapability) (*Router, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, ErrWorkerClosed
	}
	w.mu.Unlock()

	routerID := uuid.NewString()
	_, err := w.channel.Request(ctx, "worker.createRouter", "", map[string]any{
		"routerId":    routerID,
		"mediaCodecs": codecs,
	})
	if err != nil {
		return nil, fmt.Errorf("create router: %w", err)
	}

	router := newRouter(routerID, w, codecs, w.logger)

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		router.workerClosed()
		return nil, ErrWorkerClosed
	}
	w.routers[routerID] = router
	w.mu.Unlock()

	router.onClose(func() {
		w.mu.Lock()
		delete(w.routers, routerID)
		w.mu.Unlock()
	})
	return router, nil
}

// Close shuts the worker down deliberately: closes every router, tears down
// the channel and signals the process with SIGTERM.
func (w *Worker) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	routers := make([]*Router, 0, len(w.routers))
	for _, r := range w.routers {
		routers = append(routers, r)
	}
	w.routers = make(map[string]*Router)
	w.mu.Unlock()

	for _, r := range routers {
		r.workerClosed()
	}
	w.channel.Close()
	if w.cmd != nil && w.cmd.Process != nil {
		_ = w.cmd.Process.Signal(syscall.SIGTERM)
	}
	w.logger.Info().Msg("media worker closed")
}

// StderrTail returns the most recent stderr lines from the worker process.
func (w *Worker) StderrTail() []string {
	w.stderrMu.Lock()
	defer w.stderrMu.Unlock()
	tail := make([]string, len(w.stderrTail))
	copy(tail, w.stderrTail)
	return tail
}

func (w *Worker) handleWorkerNotification(event string, data json.RawMessage) {
	switch event {
	case "running":
		select {
		case <-w.runningCh:
		default:
			close(w.runningCh)
		}
	default:
		w.logger.Debug().Str("event", event).Msg("worker notification")
	}
}

// died handles unexpected worker loss: cascade-closes routers and notifies
// the pool exactly once. Deliberate Close wins the race and suppresses it.
func (w *Worker) died(err error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	routers := make([]*Router, 0, len(w.routers))
	for _, r := range w.routers {
		routers = append(routers, r)
	}
	w.routers = make(map[string]*Router)
	onDied := w.onDied
	w.mu.Unlock()

	w.channel.Close()
	for _, r := range routers {
		r.workerClosed()
	}

	tail := w.StderrTail()
	evt := w.logger.Error().Err(err)
	if len(tail) > 0 {
		evt = evt.Strs("stderr_tail", tail)
	}
	evt.Msg("media worker died")

	if onDied != nil {
		onDied(w, err)
	}
}

func (w *Worker) wait() {
	err := w.cmd.Wait()
	if err == nil {
		w.died(errors.New("worker exited with status 0"))
		return
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			switch {
			case status.Signaled():
				w.died(fmt.Errorf("worker killed by signal %s", status.Signal()))
			case status.Exited():
				w.died(fmt.Errorf("worker exited with status %d", status.ExitStatus()))
			default:
				w.died(fmt.Errorf("worker wait: %w", err))
			}
			return
		}
	}
	w.died(fmt.Errorf("worker wait: %w", err))
}

func (w *Worker) readStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		w.stderrMu.Lock()
		w.stderrTail = append(w.stderrTail, line)
		if len(w.stderrTail) > stderrTailSize {
			w.stderrTail = w.stderrTail[1:]
		}
		w.stderrMu.Unlock()
		w.logger.Debug().Str("stream", "stderr").Msg(line)
	}
}
