/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package hls_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/duocast/internal/hls"
	"github.com/friendsincode/duocast/internal/media"
	"github.com/friendsincode/duocast/internal/media/mediatest"
)

// fakeProcess stands in for a running ffmpeg.
type fakeProcess struct {
	mu     sync.Mutex
	done   chan struct{}
	exited bool
	killed bool
	err    error
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{done: make(chan struct{})}
}

func (p *fakeProcess) PID() int              { return 4242 }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) ExitError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *fakeProcess) Kill() {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	p.exit(nil)
}

func (p *fakeProcess) Killed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

func (p *fakeProcess) exit(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return
	}
	p.exited = true
	p.err = err
	close(p.done)
}

// fakeSpawner hands out fake processes and records every invocation. An
// optional gate blocks spawns until released.
type fakeSpawner struct {
	mu    sync.Mutex
	procs []*fakeProcess
	argvs [][]string
	gate  chan struct{}
	fail  error
}

func (s *fakeSpawner) spawn(bin string, args []string, logger zerolog.Logger) (hls.Process, error) {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	p := newFakeProcess()
	s.procs = append(s.procs, p)
	s.argvs = append(s.argvs, append([]string(nil), args...))
	return p, nil
}

func (s *fakeSpawner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}

func (s *fakeSpawner) proc(i int) *fakeProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[i]
}

func (s *fakeSpawner) argv(i int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.argvs[i], " ")
}

// callbackLog records controller notifications.
type callbackLog struct {
	mu        sync.Mutex
	started   []string
	restarted []string
	stopped   int
}

func (l *callbackLog) onStarted(url string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started = append(l.started, url)
}

func (l *callbackLog) onRestarted(url string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.restarted = append(l.restarted, url)
}

func (l *callbackLog) onStopped() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopped++
}

func (l *callbackLog) counts() (started, restarted, stopped int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.started), len(l.restarted), l.stopped
}

// hlsEnv is a room worth of media plumbing backed by an in-process worker.
type hlsEnv struct {
	node   *mediatest.Node
	router *media.Router

	mu      sync.Mutex
	sources []hls.Source
}

func newHLSEnv(t *testing.T) *hlsEnv {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	w, node, err := mediatest.Attach(ctx)
	if err != nil {
		t.Fatalf("attach worker: %v", err)
	}
	t.Cleanup(w.Close)

	router, err := w.CreateRouter(ctx, media.DefaultMediaCodecs())
	if err != nil {
		t.Fatalf("create router: %v", err)
	}

	return &hlsEnv{node: node, router: router}
}

func (e *hlsEnv) produce(t *testing.T, participantID string, kind media.MediaKind) *media.Producer {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	transport, err := e.router.CreateWebRtcTransport(ctx, media.WebRtcTransportOptions{
		ListenIP:  "0.0.0.0",
		EnableUDP: true,
		AppData:   media.TransportAppData{RoomID: "room-hls", ParticipantID: participantID, Direction: media.DirectionSend},
	})
	if err != nil {
		t.Fatalf("create send transport: %v", err)
	}

	params := media.RtpParameters{
		Codecs: []media.RtpCodecParameters{
			{MimeType: "audio/opus", PayloadType: 100, ClockRate: 48000, Channels: 2},
		},
		Encodings: []media.RtpEncodingParameters{{Ssrc: 22222222}},
		Rtcp:      media.RtcpParameters{Cname: participantID},
	}
	if kind == media.MediaKindVideo {
		params = media.RtpParameters{
			Codecs: []media.RtpCodecParameters{
				{MimeType: "video/VP8", PayloadType: 101, ClockRate: 90000},
			},
			Encodings: []media.RtpEncodingParameters{{Ssrc: 33333333}},
			Rtcp:      media.RtcpParameters{Cname: participantID},
		}
	}

	producer, err := transport.Produce(ctx, kind, params, media.EndpointAppData{
		RoomID:        "room-hls",
		ParticipantID: participantID,
		MediaTag:      string(kind),
	})
	if err != nil {
		t.Fatalf("produce %s: %v", kind, err)
	}

	e.mu.Lock()
	e.sources = append(e.sources, hls.Source{
		ProducerID:    producer.ID(),
		ParticipantID: participantID,
		Kind:          kind,
	})
	e.mu.Unlock()
	return producer
}

func (e *hlsEnv) snapshot() []hls.Source {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]hls.Source(nil), e.sources...)
}

func newController(t *testing.T, env *hlsEnv, spawner *fakeSpawner, log *callbackLog) (*hls.Controller, string) {
	t.Helper()
	base := t.TempDir()
	c := hls.NewController(hls.Options{
		RoomID:      "room-hls",
		BasePath:    base,
		Router:      func() *media.Router { return env.router },
		Sources:     env.snapshot,
		Spawn:       spawner.spawn,
		OnStarted:   log.onStarted,
		OnRestarted: log.onRestarted,
		OnStopped:   log.onStopped,
		Logger:      zerolog.Nop(),
	})
	return c, base
}

func await(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartRunsPipeline(t *testing.T) {
	env := newHLSEnv(t)
	env.produce(t, "host", media.MediaKindAudio)
	env.produce(t, "host", media.MediaKindVideo)

	spawner := &fakeSpawner{}
	log := &callbackLog{}
	c, base := newController(t, env, spawner, log)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := c.State(); got != hls.StateRunning {
		t.Fatalf("state = %s, want %s", got, hls.StateRunning)
	}
	if got := c.PlaylistURL(); got != "/hls/room-hls/playlist.m3u8" {
		t.Fatalf("playlist url = %q", got)
	}

	body, err := os.ReadFile(filepath.Join(base, "room-hls.sdp"))
	if err != nil {
		t.Fatalf("read sdp: %v", err)
	}
	if !strings.Contains(string(body), "m=video") || !strings.Contains(string(body), "m=audio") {
		t.Fatalf("sdp must describe both inputs:\n%s", body)
	}
	if _, err := os.Stat(filepath.Join(base, "room-hls")); err != nil {
		t.Fatalf("segment dir: %v", err)
	}

	if spawner.count() != 1 {
		t.Fatalf("spawns = %d, want 1", spawner.count())
	}
	argv := spawner.argv(0)
	if !strings.Contains(argv, "scale=1280:720") {
		t.Errorf("single video should scale to 720p: %s", argv)
	}
	if !strings.Contains(argv, filepath.Join(base, "room-hls", "playlist.m3u8")) {
		t.Errorf("argv must target the room playlist: %s", argv)
	}

	// Pipeline consumers skip the client acknowledge dance.
	if got := env.node.CountOf("consumer.resume"); got != 2 {
		t.Errorf("consumer.resume count = %d, want 2", got)
	}

	started, restarted, stopped := log.counts()
	if started != 1 || restarted != 0 || stopped != 0 {
		t.Fatalf("callbacks = %d/%d/%d, want 1/0/0", started, restarted, stopped)
	}
}

func TestStartRequiresAudio(t *testing.T) {
	env := newHLSEnv(t)
	env.produce(t, "host", media.MediaKindVideo)

	spawner := &fakeSpawner{}
	c, _ := newController(t, env, spawner, &callbackLog{})

	if err := c.Start(context.Background()); err != hls.ErrNoAudioProducers {
		t.Fatalf("start = %v, want %v", err, hls.ErrNoAudioProducers)
	}
	if got := c.State(); got != hls.StateOff {
		t.Fatalf("state = %s, want %s", got, hls.StateOff)
	}
	if spawner.count() != 0 {
		t.Fatalf("spawns = %d, want 0", spawner.count())
	}
}

func TestStartWhileStartingReturnsBusy(t *testing.T) {
	env := newHLSEnv(t)
	env.produce(t, "host", media.MediaKindAudio)

	spawner := &fakeSpawner{gate: make(chan struct{})}
	c, _ := newController(t, env, spawner, &callbackLog{})

	startErr := make(chan error, 1)
	go func() { startErr <- c.Start(context.Background()) }()

	await(t, 2*time.Second, "starting state", func() bool { return c.State() == hls.StateStarting })

	if err := c.Start(context.Background()); err != hls.ErrBusy {
		t.Fatalf("concurrent start = %v, want %v", err, hls.ErrBusy)
	}
	if err := c.Stop(); err != hls.ErrBusy {
		t.Fatalf("stop during start = %v, want %v", err, hls.ErrBusy)
	}

	close(spawner.gate)
	if err := <-startErr; err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.Start(context.Background()); err != hls.ErrAlreadyRunning {
		t.Fatalf("second start = %v, want %v", err, hls.ErrAlreadyRunning)
	}
}

func TestStopRemovesSessionArtifacts(t *testing.T) {
	env := newHLSEnv(t)
	env.produce(t, "host", media.MediaKindAudio)
	env.produce(t, "guest", media.MediaKindAudio)

	spawner := &fakeSpawner{}
	log := &callbackLog{}
	c, base := newController(t, env, spawner, log)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if got := c.State(); got != hls.StateOff {
		t.Fatalf("state = %s, want %s", got, hls.StateOff)
	}
	if got := c.PlaylistURL(); got != "" {
		t.Fatalf("playlist url = %q, want empty", got)
	}
	if !spawner.proc(0).Killed() {
		t.Fatal("transcoder was not killed")
	}

	if _, err := os.Stat(filepath.Join(base, "room-hls.sdp")); !os.IsNotExist(err) {
		t.Fatalf("sdp file still present: %v", err)
	}
	if _, err := os.Stat(filepath.Join(base, "room-hls")); !os.IsNotExist(err) {
		t.Fatalf("segment dir still present: %v", err)
	}

	// Consumers go down before the transports that carry them.
	lastConsumerClose, firstTransportClose := -1, -1
	for i, f := range env.node.Log() {
		switch f.Method {
		case "consumer.close":
			lastConsumerClose = i
		case "transport.close":
			if firstTransportClose == -1 {
				firstTransportClose = i
			}
		}
	}
	if lastConsumerClose == -1 || firstTransportClose == -1 {
		t.Fatal("teardown never reached the worker")
	}
	if lastConsumerClose > firstTransportClose {
		t.Fatalf("consumer.close at %d after transport.close at %d", lastConsumerClose, firstTransportClose)
	}

	if _, _, stopped := log.counts(); stopped != 1 {
		t.Fatalf("stopped callbacks = %d, want 1", stopped)
	}
	if err := c.Stop(); err != hls.ErrNotRunning {
		t.Fatalf("second stop = %v, want %v", err, hls.ErrNotRunning)
	}
}

func TestTranscoderCrashTurnsPipelineOff(t *testing.T) {
	env := newHLSEnv(t)
	env.produce(t, "host", media.MediaKindAudio)

	spawner := &fakeSpawner{}
	log := &callbackLog{}
	c, _ := newController(t, env, spawner, log)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	spawner.proc(0).exit(errors.New("segfault"))

	await(t, 2*time.Second, "off state after crash", func() bool { return c.State() == hls.StateOff })
	if got := c.PlaylistURL(); got != "" {
		t.Fatalf("playlist url = %q, want empty", got)
	}
	await(t, 2*time.Second, "stopped callback", func() bool {
		_, _, stopped := log.counts()
		return stopped == 1
	})

	// No automatic relaunch, and restart requests are ignored while off.
	c.RequestRestart()
	time.Sleep(50 * time.Millisecond)
	if spawner.count() != 1 {
		t.Fatalf("spawns = %d, want 1", spawner.count())
	}
}

func TestRestartDebounceCollapsesBursts(t *testing.T) {
	env := newHLSEnv(t)
	env.produce(t, "host", media.MediaKindAudio)

	spawner := &fakeSpawner{}
	log := &callbackLog{}
	c, _ := newController(t, env, spawner, log)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if argv := spawner.argv(0); strings.Contains(argv, "libx264") {
		t.Fatalf("audio only pipeline should not carry video: %s", argv)
	}

	env.produce(t, "host", media.MediaKindVideo)
	c.RequestRestart()
	time.Sleep(100 * time.Millisecond)
	c.RequestRestart()

	await(t, 5*time.Second, "debounced restart", func() bool { return spawner.count() == 2 })
	await(t, 2*time.Second, "running after restart", func() bool { return c.State() == hls.StateRunning })

	started, restarted, stopped := log.counts()
	if started != 1 || restarted != 1 || stopped != 0 {
		t.Fatalf("callbacks = %d/%d/%d, want 1/1/0", started, restarted, stopped)
	}
	if !spawner.proc(0).Killed() {
		t.Fatal("old transcoder must be killed on rebuild")
	}
	if argv := spawner.argv(1); !strings.Contains(argv, "scale=1280:720") {
		t.Fatalf("rebuilt pipeline should include the new video: %s", argv)
	}
}

func TestSpawnFailureReleasesMediaResources(t *testing.T) {
	env := newHLSEnv(t)
	env.produce(t, "host", media.MediaKindAudio)

	spawner := &fakeSpawner{fail: errors.New("ffmpeg not found")}
	c, base := newController(t, env, spawner, &callbackLog{})

	err := c.Start(context.Background())
	var hlsErr hls.Error
	if !errors.As(err, &hlsErr) || hlsErr != hls.ErrSpawnFailed {
		t.Fatalf("start = %v, want %v", err, hls.ErrSpawnFailed)
	}
	if got := c.State(); got != hls.StateOff {
		t.Fatalf("state = %s, want %s", got, hls.StateOff)
	}

	await(t, 2*time.Second, "transport.close frame", func() bool { return env.node.CountOf("transport.close") == 1 })
	if _, err := os.Stat(filepath.Join(base, "room-hls.sdp")); !os.IsNotExist(err) {
		t.Fatalf("sdp file must be cleaned up: %v", err)
	}

	// The controller is reusable after the failure.
	spawner.mu.Lock()
	spawner.fail = nil
	spawner.mu.Unlock()
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start after failure: %v", err)
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	env := newHLSEnv(t)
	env.produce(t, "host", media.MediaKindAudio)

	spawner := &fakeSpawner{}
	log := &callbackLog{}
	c, _ := newController(t, env, spawner, log)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	c.Shutdown()
	if got := c.State(); got != hls.StateOff {
		t.Fatalf("state = %s, want %s", got, hls.StateOff)
	}
	if !spawner.proc(0).Killed() {
		t.Fatal("transcoder was not killed")
	}
	if _, _, stopped := log.counts(); stopped != 1 {
		t.Fatalf("stopped callbacks = %d, want 1", stopped)
	}

	c.Shutdown()
	if _, _, stopped := log.counts(); stopped != 1 {
		t.Fatalf("second shutdown must not renotify, got %d", stopped)
	}
}
