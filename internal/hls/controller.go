/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package hls turns a room's live producers into an HTTP Live Streaming
// feed. A per-room Controller consumes the selected producers onto plain
// RTP transports on the loopback interface, describes them in an SDP file
// and supervises an ffmpeg process that transcodes them into a rolling
// segment playlist.
package hls

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/duocast/internal/events"
	"github.com/friendsincode/duocast/internal/media"
	"github.com/friendsincode/duocast/internal/telemetry"
)

// State is the lifecycle phase of a room's HLS pipeline.
type State string

const (
	StateOff        State = "off"
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StateRestarting State = "restarting"
	StateStopping   State = "stopping"
)

// Error is a pipeline failure reported to signaling clients.
type Error string

func (e Error) Error() string { return string(e) }

// ProtocolCode returns the wire error code.
func (e Error) ProtocolCode() string { return string(e) }

const (
	ErrAlreadyRunning   Error = "HLS_ALREADY_RUNNING"
	ErrNotRunning       Error = "HLS_NOT_RUNNING"
	ErrBusy             Error = "HLS_BUSY"
	ErrNoAudioProducers Error = "NO_AUDIO_PRODUCERS"
	ErrSpawnFailed      Error = "HLS_SPAWN_FAILED"
)

const (
	// restartDebounce collapses bursts of producer changes into one rebuild.
	restartDebounce = 2 * time.Second

	// buildTimeout bounds the worker round-trips and process spawn of one
	// pipeline build.
	buildTimeout = 15 * time.Second
)

// Options configures a room controller.
type Options struct {
	RoomID string

	// BasePath is the directory SDP files and segment directories are
	// written under.
	BasePath string
	// Bin is the transcoder binary, ffmpeg when empty.
	Bin string

	// Router returns the room's current router, nil once the room lost it.
	Router func() *media.Router
	// Sources lists candidate producers ordered by participant join time,
	// then produce time.
	Sources func() []Source

	// Spawn overrides transcoder process creation.
	Spawn SpawnFunc

	OnStarted   func(playlistURL string)
	OnRestarted func(playlistURL string)
	OnStopped   func()

	Bus    *events.Bus
	Logger zerolog.Logger
}

// Controller drives one room's HLS pipeline through its lifecycle. All
// state transitions are serialized on the controller mutex; the mutex is
// never held across worker round-trips, file writes or process spawns.
type Controller struct {
	opts   Options
	bin    string
	spawn  SpawnFunc
	logger zerolog.Logger

	mu       sync.Mutex
	state    State
	sess     *session
	debounce *time.Timer
	url      string
	counted  bool
}

// session holds everything torn down together when a pipeline stops.
type session struct {
	transports []*media.PlainTransport
	consumers  []*media.Consumer
	sdpPath    string
	segmentDir string
	process    Process
	url        string
}

// NewController creates a controller in the off state.
func NewController(opts Options) *Controller {
	bin := opts.Bin
	if bin == "" {
		bin = "ffmpeg"
	}
	spawn := opts.Spawn
	if spawn == nil {
		spawn = SpawnTranscoder
	}
	return &Controller{
		opts:   opts,
		bin:    bin,
		spawn:  spawn,
		logger: opts.Logger.With().Str("component", "hls").Str("room_id", opts.RoomID).Logger(),
		state:  StateOff,
	}
}

// State reports the current pipeline state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// PlaylistURL returns the playlist path while the pipeline is up, empty
// otherwise.
func (c *Controller) PlaylistURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.url
}

func isValidTransition(from, to State) bool {
	validTransitions := map[State][]State{
		StateOff:        {StateStarting},
		StateStarting:   {StateRunning, StateOff},
		StateRunning:    {StateRestarting, StateStopping, StateOff},
		StateRestarting: {StateRunning, StateOff},
		StateStopping:   {StateOff},
	}

	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}

	for _, next := range allowed {
		if next == to {
			return true
		}
	}

	return false
}

// transition applies a state change. Callers hold c.mu.
func (c *Controller) transition(to State) {
	if !isValidTransition(c.state, to) {
		c.logger.Error().
			Str("from", string(c.state)).
			Str("to", string(to)).
			Msg("invalid pipeline transition")
	} else {
		c.logger.Debug().
			Str("from", string(c.state)).
			Str("to", string(to)).
			Msg("pipeline state")
	}

	switch {
	case to == StateRunning && !c.counted:
		c.counted = true
		telemetry.HLSSessionsActive.Inc()
	case to == StateOff && c.counted:
		c.counted = false
		telemetry.HLSSessionsActive.Dec()
	}
	c.state = to
}

// AutoStart launches the pipeline if it is currently off. It is called on
// the host's first audio produce; failures are logged and swallowed so
// produce handling is unaffected.
func (c *Controller) AutoStart(ctx context.Context) {
	switch err := c.Start(ctx); err {
	case nil, ErrAlreadyRunning, ErrBusy:
	default:
		c.logger.Warn().Err(err).Msg("automatic hls start failed")
	}
}

// Start brings the pipeline up. It returns ErrBusy while a start, restart
// or stop is in flight, ErrAlreadyRunning when there is nothing to do and
// ErrNoAudioProducers when the room has no audio to transcode.
func (c *Controller) Start(ctx context.Context) error {
	ctx, span := telemetry.StartSpan(ctx, "duocast.hls", "pipeline.start")
	defer span.End()
	telemetry.AddSpanAttributes(span, map[string]any{"room_id": c.opts.RoomID})

	err := c.start(ctx)
	telemetry.RecordError(span, err)
	return err
}

func (c *Controller) start(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateStarting, StateRestarting, StateStopping:
		c.mu.Unlock()
		return ErrBusy
	case StateRunning:
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.transition(StateStarting)
	c.mu.Unlock()

	videos, audios := selectSources(c.opts.Sources())

	var (
		sess *session
		err  error
	)
	if len(audios) == 0 {
		err = ErrNoAudioProducers
	} else {
		sess, err = c.buildSession(ctx, videos, audios)
	}

	c.mu.Lock()
	if err != nil {
		c.transition(StateOff)
		c.mu.Unlock()
		return err
	}
	if c.state != StateStarting {
		// Shut down while we were building; discard the fresh session.
		c.mu.Unlock()
		c.teardown(sess)
		return ErrNotRunning
	}
	c.sess = sess
	c.url = sess.url
	c.transition(StateRunning)
	c.mu.Unlock()

	go c.watch(sess)

	c.logger.Info().Str("playlist_url", sess.url).Msg("hls pipeline running")
	c.notifyStarted(sess.url, false)
	return nil
}

// Stop tears the pipeline down deliberately.
func (c *Controller) Stop() error {
	c.mu.Lock()
	switch c.state {
	case StateOff:
		c.mu.Unlock()
		return ErrNotRunning
	case StateStarting, StateRestarting, StateStopping:
		c.mu.Unlock()
		return ErrBusy
	}
	c.stopDebounceLocked()
	sess := c.sess
	c.sess = nil
	c.url = ""
	c.transition(StateStopping)
	c.mu.Unlock()

	c.teardown(sess)

	c.mu.Lock()
	c.transition(StateOff)
	c.mu.Unlock()

	c.logger.Info().Msg("hls pipeline stopped")
	c.notifyStopped()
	return nil
}

// RequestRestart schedules a pipeline rebuild. Requests inside the debounce
// window replace the pending one, so a participant publishing audio and
// video back to back causes a single transcoder respawn. Ignored unless
// the pipeline is running.
func (c *Controller) RequestRestart() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRunning {
		return
	}
	if c.debounce != nil {
		c.debounce.Stop()
	}
	c.debounce = time.AfterFunc(restartDebounce, c.restart)
	c.logger.Debug().Msg("hls restart scheduled")
}

// restart rebuilds the pipeline with the current producer set. Runs on the
// debounce timer goroutine.
func (c *Controller) restart() {
	c.mu.Lock()
	if c.state != StateRunning || c.sess == nil {
		c.mu.Unlock()
		return
	}
	c.debounce = nil
	old := c.sess
	c.sess = nil
	c.transition(StateRestarting)
	c.mu.Unlock()

	ctx, span := telemetry.StartSpan(context.Background(), "duocast.hls", "pipeline.restart")
	defer span.End()

	telemetry.HLSRestartsTotal.Inc()
	c.teardown(old)

	videos, audios := selectSources(c.opts.Sources())
	telemetry.AddSpanAttributes(span, map[string]any{
		"room_id":       c.opts.RoomID,
		"video_sources": len(videos),
		"audio_sources": len(audios),
	})

	var (
		sess *session
		err  error
	)
	if len(audios) == 0 {
		err = ErrNoAudioProducers
	} else {
		sess, err = c.buildSession(ctx, videos, audios)
	}
	telemetry.RecordError(span, err)

	c.mu.Lock()
	if err != nil {
		c.url = ""
		c.transition(StateOff)
		c.mu.Unlock()
		c.logger.Error().Err(err).Msg("pipeline rebuild failed, stream is down")
		c.notifyStopped()
		return
	}
	if c.state != StateRestarting {
		c.mu.Unlock()
		c.teardown(sess)
		return
	}
	c.sess = sess
	c.url = sess.url
	c.transition(StateRunning)
	c.mu.Unlock()

	c.logger.Info().Str("playlist_url", sess.url).Msg("hls pipeline rebuilt")
	go c.watch(sess)
	c.notifyStarted(sess.url, true)
}

// Shutdown force-stops the pipeline regardless of phase. Used when the room
// goes away or its router is lost.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	c.stopDebounceLocked()
	sess := c.sess
	c.sess = nil
	active := sess != nil || c.url != ""
	c.url = ""
	if c.state != StateOff {
		c.transition(StateOff)
	}
	c.mu.Unlock()

	if sess != nil {
		c.teardown(sess)
	}
	if active {
		c.notifyStopped()
	}
}

// stopDebounceLocked cancels a pending restart. Callers hold c.mu.
func (c *Controller) stopDebounceLocked() {
	if c.debounce != nil {
		c.debounce.Stop()
		c.debounce = nil
	}
}

// watch observes the transcoder and tears the pipeline down when it dies
// out from under us.
func (c *Controller) watch(sess *session) {
	<-sess.process.Done()

	c.mu.Lock()
	if c.sess != sess || c.state != StateRunning {
		// Replaced or stopped deliberately; whoever did that cleans up.
		c.mu.Unlock()
		return
	}
	c.stopDebounceLocked()
	c.sess = nil
	c.url = ""
	c.transition(StateOff)
	c.mu.Unlock()

	c.logger.Error().Err(sess.process.ExitError()).Msg("transcoder died, stream is down")

	c.teardown(sess)
	c.notifyStopped()
}

// buildSession consumes the selected producers onto loopback RTP
// transports, writes the SDP bridge file and spawns the transcoder. On
// failure every resource acquired so far is released.
func (c *Controller) buildSession(ctx context.Context, videos, audios []Source) (*session, error) {
	router := c.opts.Router()
	if router == nil {
		return nil, fmt.Errorf("room router unavailable")
	}

	ctx, cancel := context.WithTimeout(ctx, buildTimeout)
	defer cancel()

	sess := &session{
		sdpPath:    filepath.Join(c.opts.BasePath, c.opts.RoomID+".sdp"),
		segmentDir: filepath.Join(c.opts.BasePath, c.opts.RoomID),
		url:        "/hls/" + c.opts.RoomID + "/playlist.m3u8",
	}

	selected := make([]Source, 0, len(videos)+len(audios))
	selected = append(selected, videos...)
	selected = append(selected, audios...)

	inputs := make([]MediaInput, 0, len(selected))
	for _, src := range selected {
		transport, err := router.CreatePlainTransport(ctx, media.PlainTransportOptions{
			ListenIP: "127.0.0.1",
			RTCPMux:  false,
			Comedia:  true,
			AppData: media.TransportAppData{
				RoomID:        c.opts.RoomID,
				ParticipantID: src.ParticipantID,
				Direction:     media.DirectionHLS,
			},
		})
		if err != nil {
			c.teardown(sess)
			return nil, fmt.Errorf("create plain transport: %w", err)
		}
		sess.transports = append(sess.transports, transport)

		consumer, err := transport.Consume(ctx, src.ProducerID, router.Capabilities(), media.EndpointAppData{
			RoomID:        c.opts.RoomID,
			ParticipantID: src.ParticipantID,
			MediaTag:      "hls",
		})
		if err != nil {
			c.teardown(sess)
			return nil, fmt.Errorf("consume producer %s: %w", src.ProducerID, err)
		}
		sess.consumers = append(sess.consumers, consumer)

		// The transcoder has no acknowledge step, it wants media as soon
		// as it binds the ports.
		if err := consumer.Resume(ctx); err != nil {
			c.teardown(sess)
			return nil, fmt.Errorf("resume consumer %s: %w", consumer.ID(), err)
		}

		input, err := inputFromConsumer(consumer, transport)
		if err != nil {
			c.teardown(sess)
			return nil, err
		}
		inputs = append(inputs, input)
	}

	body, err := marshalSDP(c.opts.RoomID, inputs)
	if err != nil {
		c.teardown(sess)
		return nil, fmt.Errorf("marshal sdp: %w", err)
	}
	if err := os.MkdirAll(sess.segmentDir, 0o755); err != nil {
		c.teardown(sess)
		return nil, fmt.Errorf("create segment dir: %w", err)
	}
	if err := os.WriteFile(sess.sdpPath, body, 0o644); err != nil {
		c.teardown(sess)
		return nil, fmt.Errorf("write sdp file: %w", err)
	}

	args := transcoderArgs(sess.sdpPath, sess.segmentDir, len(videos), len(audios))
	process, err := c.spawn(c.bin, args, c.logger)
	if err != nil {
		c.teardown(sess)
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}
	sess.process = process

	return sess, nil
}

// teardown releases a session. Order matters: the process goes first so
// nothing reads the inputs, then consumers before their transports, then
// the files. Cleanup is best effort and only logs on failure.
func (c *Controller) teardown(sess *session) {
	if sess.process != nil {
		sess.process.Kill()
		<-sess.process.Done()
	}
	for _, consumer := range sess.consumers {
		consumer.Close()
	}
	for _, transport := range sess.transports {
		transport.Close()
	}
	if err := os.Remove(sess.sdpPath); err != nil && !os.IsNotExist(err) {
		c.logger.Warn().Err(err).Msg("remove sdp file")
	}
	if err := os.RemoveAll(sess.segmentDir); err != nil {
		c.logger.Warn().Err(err).Msg("remove segment dir")
	}
}

func (c *Controller) notifyStarted(url string, restarted bool) {
	if restarted {
		if c.opts.OnRestarted != nil {
			c.opts.OnRestarted(url)
		}
		c.publish(events.EventHLSRestarted, url)
		return
	}
	if c.opts.OnStarted != nil {
		c.opts.OnStarted(url)
	}
	c.publish(events.EventHLSStarted, url)
}

func (c *Controller) notifyStopped() {
	if c.opts.OnStopped != nil {
		c.opts.OnStopped()
	}
	c.publish(events.EventHLSStopped, "")
}

func (c *Controller) publish(event events.EventType, url string) {
	if c.opts.Bus == nil {
		return
	}
	payload := events.Payload{"room_id": c.opts.RoomID}
	if url != "" {
		payload["playlist_url"] = url
	}
	c.opts.Bus.Publish(event, payload)
}
