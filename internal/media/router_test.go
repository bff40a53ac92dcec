/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/friendsincode/duocast/internal/media"
	"github.com/friendsincode/duocast/internal/media/mediatest"
)

func attachWorker(t *testing.T) (*media.Worker, *mediatest.Node) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	w, node, err := mediatest.Attach(ctx)
	if err != nil {
		t.Fatalf("attach worker: %v", err)
	}
	t.Cleanup(w.Close)
	return w, node
}

func createRouter(t *testing.T, w *media.Worker) *media.Router {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r, err := w.CreateRouter(ctx, media.DefaultMediaCodecs())
	if err != nil {
		t.Fatalf("create router: %v", err)
	}
	return r
}

func createSendTransport(t *testing.T, r *media.Router, participant string) *media.WebRtcTransport {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	tr, err := r.CreateWebRtcTransport(ctx, media.WebRtcTransportOptions{
		ListenIP:  "0.0.0.0",
		EnableUDP: true,
		EnableTCP: true,
		PreferUDP: true,
		AppData:   media.TransportAppData{RoomID: "room-1", ParticipantID: participant, Direction: media.DirectionSend},
	})
	if err != nil {
		t.Fatalf("create send transport: %v", err)
	}
	return tr
}

func createRecvTransport(t *testing.T, r *media.Router, participant string) *media.WebRtcTransport {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	tr, err := r.CreateWebRtcTransport(ctx, media.WebRtcTransportOptions{
		ListenIP:  "0.0.0.0",
		EnableUDP: true,
		EnableTCP: true,
		PreferUDP: true,
		AppData:   media.TransportAppData{RoomID: "room-1", ParticipantID: participant, Direction: media.DirectionRecv},
	})
	if err != nil {
		t.Fatalf("create recv transport: %v", err)
	}
	return tr
}

func produceOpus(t *testing.T, tr *media.WebRtcTransport, participant string) *media.Producer {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	p, err := tr.Produce(ctx, media.MediaKindAudio, media.RtpParameters{
		Codecs: []media.RtpCodecParameters{
			{MimeType: "audio/opus", PayloadType: 100, ClockRate: 48000, Channels: 2},
		},
		Encodings: []media.RtpEncodingParameters{{Ssrc: 11111111}},
		Rtcp:      media.RtcpParameters{Cname: participant},
	}, media.EndpointAppData{RoomID: "room-1", ParticipantID: participant, MediaTag: "mic"})
	if err != nil {
		t.Fatalf("produce: %v", err)
	}
	return p
}

func opusCaps() media.RtpCapabilities {
	return media.RtpCapabilities{Codecs: []media.RtpCodecCapability{
		{Kind: media.MediaKindAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
	}}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRouterCapabilities(t *testing.T) {
	w, _ := attachWorker(t)
	r := createRouter(t, w)

	caps := r.Capabilities()
	if len(caps.Codecs) != 3 {
		t.Fatalf("capabilities codecs = %d, want 3", len(caps.Codecs))
	}
	if len(caps.HeaderExtensions) == 0 {
		t.Error("capabilities missing header extensions")
	}
	if r.WorkerID() != w.ID() {
		t.Errorf("WorkerID() = %q, want %q", r.WorkerID(), w.ID())
	}
}

func TestWebRtcTransportConnectAndProduce(t *testing.T) {
	w, _ := attachWorker(t)
	r := createRouter(t, w)
	tr := createSendTransport(t, r, "alice")

	info := tr.Info()
	if info.ID != tr.ID() {
		t.Errorf("Info().ID = %q, want %q", info.ID, tr.ID())
	}
	if info.ICEParameters.UsernameFragment == "" {
		t.Error("empty ICE username fragment")
	}
	if len(info.ICECandidates) != 1 {
		t.Errorf("ICE candidates = %d, want 1", len(info.ICECandidates))
	}
	if len(info.DTLSParameters.Fingerprints) != 1 {
		t.Errorf("DTLS fingerprints = %d, want 1", len(info.DTLSParameters.Fingerprints))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	dtls := webrtc.DTLSParameters{
		Role:         webrtc.DTLSRoleClient,
		Fingerprints: []webrtc.DTLSFingerprint{{Algorithm: "sha-256", Value: "00:11:22"}},
	}
	if err := tr.Connect(ctx, dtls); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !tr.Connected() {
		t.Error("Connected() = false after Connect")
	}
	if err := tr.Connect(ctx, dtls); err != nil {
		t.Errorf("second Connect() error = %v, want nil", err)
	}

	p := produceOpus(t, tr, "alice")
	if got, ok := r.Producer(p.ID()); !ok || got != p {
		t.Error("producer not registered on router")
	}
	if p.Kind() != media.MediaKindAudio {
		t.Errorf("Kind() = %q, want audio", p.Kind())
	}
	if p.AppData().MediaTag != "mic" {
		t.Errorf("AppData().MediaTag = %q, want mic", p.AppData().MediaTag)
	}
}

func TestConsumeStartsPaused(t *testing.T) {
	w, _ := attachWorker(t)
	r := createRouter(t, w)
	send := createSendTransport(t, r, "alice")
	p := produceOpus(t, send, "alice")
	recv := createRecvTransport(t, r, "bob")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := recv.Consume(ctx, p.ID(), opusCaps(), media.EndpointAppData{RoomID: "room-1", ParticipantID: "bob"})
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if !c.Paused() {
		t.Error("consumer not paused at creation")
	}
	if c.Kind() != media.MediaKindAudio {
		t.Errorf("Kind() = %q, want audio", c.Kind())
	}
	if c.ProducerID() != p.ID() {
		t.Errorf("ProducerID() = %q, want %q", c.ProducerID(), p.ID())
	}
	if len(c.RtpParameters().Encodings) == 0 || c.RtpParameters().Encodings[0].Ssrc == 0 {
		t.Error("consumer rtp parameters missing ssrc")
	}
	if got, ok := r.Consumer(c.ID()); !ok || got != c {
		t.Error("consumer not registered on router")
	}

	if err := c.Resume(ctx); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if c.Paused() {
		t.Error("consumer still paused after Resume")
	}
}

func TestConsumeUnknownProducer(t *testing.T) {
	w, _ := attachWorker(t)
	r := createRouter(t, w)
	recv := createRecvTransport(t, r, "bob")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := recv.Consume(ctx, "missing", opusCaps(), media.EndpointAppData{})
	if !errors.Is(err, media.ErrProducerNotFound) {
		t.Fatalf("Consume() error = %v, want ErrProducerNotFound", err)
	}
}

func TestCanConsume(t *testing.T) {
	w, _ := attachWorker(t)
	r := createRouter(t, w)
	send := createSendTransport(t, r, "alice")
	p := produceOpus(t, send, "alice")

	if !r.CanConsume(p.ID(), opusCaps()) {
		t.Error("CanConsume() = false for matching capabilities")
	}
	videoOnly := media.RtpCapabilities{Codecs: []media.RtpCodecCapability{
		{Kind: media.MediaKindVideo, MimeType: "video/VP8", ClockRate: 90000},
	}}
	if r.CanConsume(p.ID(), videoOnly) {
		t.Error("CanConsume() = true for video-only capabilities against audio producer")
	}
	if r.CanConsume("missing", opusCaps()) {
		t.Error("CanConsume() = true for unknown producer")
	}
}

func TestTransportCloseCascades(t *testing.T) {
	w, node := attachWorker(t)
	r := createRouter(t, w)
	send := createSendTransport(t, r, "alice")
	p := produceOpus(t, send, "alice")
	recv := createRecvTransport(t, r, "bob")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := recv.Consume(ctx, p.ID(), opusCaps(), media.EndpointAppData{})
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}

	recv.Close()
	if !recv.Closed() {
		t.Error("transport not closed")
	}
	if !c.Closed() {
		t.Error("consumer survived transport close")
	}
	if _, ok := r.Consumer(c.ID()); ok {
		t.Error("consumer still registered after transport close")
	}
	waitFor(t, "transport.close frame", func() bool { return node.CountOf("transport.close") == 1 })

	send.Close()
	if !p.Closed() {
		t.Error("producer survived transport close")
	}
	if _, ok := r.Producer(p.ID()); ok {
		t.Error("producer still registered after transport close")
	}
}

func TestRouterCloseCascades(t *testing.T) {
	w, node := attachWorker(t)
	r := createRouter(t, w)
	send := createSendTransport(t, r, "alice")
	p := produceOpus(t, send, "alice")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	plain, err := r.CreatePlainTransport(ctx, media.PlainTransportOptions{
		ListenIP: "127.0.0.1",
		RTCPMux:  false,
		Comedia:  true,
		AppData:  media.TransportAppData{RoomID: "room-1", Direction: media.DirectionHLS},
	})
	if err != nil {
		t.Fatalf("create plain transport: %v", err)
	}

	r.Close()
	if !r.Closed() {
		t.Error("router not closed")
	}
	if !send.Closed() || !plain.Closed() || !p.Closed() {
		t.Error("router close did not cascade")
	}
	waitFor(t, "router.close frame", func() bool { return node.CountOf("router.close") == 1 })

	if _, err := r.CreateWebRtcTransport(ctx, media.WebRtcTransportOptions{}); !errors.Is(err, media.ErrRouterClosed) {
		t.Errorf("CreateWebRtcTransport() on closed router = %v, want ErrRouterClosed", err)
	}
}

func TestPlainTransportTuples(t *testing.T) {
	w, _ := attachWorker(t)
	r := createRouter(t, w)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	plain, err := r.CreatePlainTransport(ctx, media.PlainTransportOptions{
		ListenIP: "127.0.0.1",
		RTCPMux:  false,
		Comedia:  true,
	})
	if err != nil {
		t.Fatalf("create plain transport: %v", err)
	}

	if plain.Tuple().LocalIP != "127.0.0.1" {
		t.Errorf("Tuple().LocalIP = %q, want 127.0.0.1", plain.Tuple().LocalIP)
	}
	if plain.Tuple().LocalPort == 0 {
		t.Error("Tuple().LocalPort = 0")
	}
	if plain.RTCPTuple().LocalPort != plain.Tuple().LocalPort+1 {
		t.Errorf("RTCPTuple().LocalPort = %d, want %d", plain.RTCPTuple().LocalPort, plain.Tuple().LocalPort+1)
	}
}

func TestRemoteProducerCloseEvictsRegistry(t *testing.T) {
	w, node := attachWorker(t)
	r := createRouter(t, w)
	send := createSendTransport(t, r, "alice")
	p := produceOpus(t, send, "alice")

	node.Notify(p.ID(), "@close", nil)

	waitFor(t, "producer eviction", func() bool {
		_, ok := r.Producer(p.ID())
		return !ok && p.Closed()
	})
}

func TestProducerCloseClosesItsConsumers(t *testing.T) {
	w, _ := attachWorker(t)
	r := createRouter(t, w)
	send := createSendTransport(t, r, "alice")
	p := produceOpus(t, send, "alice")
	recv := createRecvTransport(t, r, "bob")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := recv.Consume(ctx, p.ID(), opusCaps(), media.EndpointAppData{RoomID: "room-1", ParticipantID: "bob"})
	if err != nil {
		t.Fatalf("consume: %v", err)
	}

	closed := make(chan struct{})
	p.OnClose(func() { close(closed) })

	p.Close()

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("OnClose never fired")
	}
	if !c.Closed() {
		t.Fatal("consumer must close with its producer")
	}
	if _, ok := r.Consumer(c.ID()); ok {
		t.Fatal("consumer still registered after producer close")
	}
}

func TestConnectTimeout(t *testing.T) {
	w, node := attachWorker(t)
	r := createRouter(t, w)
	tr := createSendTransport(t, r, "alice")

	node.Drop("transport.connect")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := tr.Connect(ctx, webrtc.DTLSParameters{Role: webrtc.DTLSRoleClient})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Connect() error = %v, want deadline exceeded", err)
	}
}

func TestWorkerDeathClosesRouters(t *testing.T) {
	w, node := attachWorker(t)
	r := createRouter(t, w)
	tr := createSendTransport(t, r, "alice")

	died := make(chan error, 1)
	w.OnDied(func(_ *media.Worker, err error) { died <- err })

	node.Kill()

	select {
	case <-died:
	case <-time.After(2 * time.Second):
		t.Fatal("OnDied never fired")
	}
	if !w.Closed() {
		t.Error("worker not marked closed after death")
	}
	if !r.Closed() {
		t.Error("router survived worker death")
	}
	if !tr.Closed() {
		t.Error("transport survived worker death")
	}
}
