/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package mediatest provides an in-process stand-in for media-router worker
// processes. A Node sits on the far end of a pipe, speaks the worker control
// protocol and fabricates plausible transport and consumer parameters, so
// the layers above the media SDK can be exercised without spawning anything.
package mediatest

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/friendsincode/duocast/internal/media"
)

type frame struct {
	ID       uint32          `json:"id,omitempty"`
	Method   string          `json:"method,omitempty"`
	TargetID string          `json:"targetId,omitempty"`
	Event    string          `json:"event,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

type reply struct {
	ID       uint32 `json:"id"`
	Accepted bool   `json:"accepted,omitempty"`
	Error    string `json:"error,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Data     any    `json:"data,omitempty"`
}

type notification struct {
	TargetID string `json:"targetId,omitempty"`
	Event    string `json:"event"`
	Data     any    `json:"data,omitempty"`
}

// FrameRecord is one request or notification the node received.
type FrameRecord struct {
	Method   string
	TargetID string
}

type producerRec struct {
	kind   media.MediaKind
	params media.RtpParameters
}

// Node is one fake worker. All protocol handling runs on a single goroutine,
// like the real worker's control loop.
type Node struct {
	conn net.Conn

	writeMu sync.Mutex

	mu        sync.Mutex
	log       []FrameRecord
	producers map[string]producerRec
	delays    map[string]time.Duration
	drops     map[string]bool
	failNext  map[string]string
	nextPort  int
	nextSsrc  uint32
	killed    bool
}

// NewNode starts a fake worker and returns it together with the near-side
// connection to hand to media.AttachWorker.
func NewNode() (*Node, net.Conn) {
	near, far := net.Pipe()
	n := &Node{
		conn:      far,
		producers: make(map[string]producerRec),
		delays:    make(map[string]time.Duration),
		drops:     make(map[string]bool),
		failNext:  make(map[string]string),
		nextPort:  40000,
		nextSsrc:  1000,
	}
	go n.serve()
	return n, near
}

// Attach spawns a node and attaches a Worker to it.
func Attach(ctx context.Context) (*media.Worker, *Node, error) {
	node, conn := NewNode()
	w, err := media.AttachWorker(ctx, fmt.Sprintf("stub-%08x", rand.Uint32()), conn, zerolog.Nop())
	if err != nil {
		node.Kill()
		return nil, nil, err
	}
	return w, node, nil
}

// SetDelay makes the node sleep before answering the given method. The
// node's control loop is single-threaded, so the delay stalls everything
// behind it, just like a wedged worker would.
func (n *Node) SetDelay(method string, d time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.delays[method] = d
}

// Drop makes the node swallow requests for the given method without
// answering.
func (n *Node) Drop(method string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.drops[method] = true
}

// FailNext rejects the next request for the given method with the reason.
func (n *Node) FailNext(method, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failNext[method] = reason
}

// Kill severs the connection, simulating the worker process dying.
func (n *Node) Kill() {
	n.mu.Lock()
	if n.killed {
		n.mu.Unlock()
		return
	}
	n.killed = true
	n.mu.Unlock()
	_ = n.conn.Close()
}

// Log returns every frame received so far, in arrival order.
func (n *Node) Log() []FrameRecord {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]FrameRecord, len(n.log))
	copy(out, n.log)
	return out
}

// CountOf returns how many frames carried the given method.
func (n *Node) CountOf(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, rec := range n.log {
		if rec.Method == method {
			count++
		}
	}
	return count
}

// Notify sends a spontaneous worker notification, e.g. an object's "@close".
func (n *Node) Notify(targetID, event string, data any) {
	n.send(notification{TargetID: targetID, Event: event, Data: data})
}

func (n *Node) send(v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	n.writeMu.Lock()
	_, _ = n.conn.Write(append(raw, '\n'))
	n.writeMu.Unlock()
}

func (n *Node) serve() {
	n.send(notification{Event: "running"})

	decoder := json.NewDecoder(n.conn)
	for {
		var f frame
		if err := decoder.Decode(&f); err != nil {
			return
		}
		n.handle(f)
	}
}

func (n *Node) handle(f frame) {
	n.mu.Lock()
	n.log = append(n.log, FrameRecord{Method: f.Method, TargetID: f.TargetID})
	delay := n.delays[f.Method]
	dropped := n.drops[f.Method]
	failReason, failing := n.failNext[f.Method]
	if failing {
		delete(n.failNext, f.Method)
	}
	n.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if f.ID == 0 {
		// Close notifications carry no id and expect no answer.
		return
	}
	if dropped {
		return
	}
	if failing {
		n.send(reply{ID: f.ID, Error: "Error", Reason: failReason})
		return
	}

	switch f.Method {
	case "worker.createRouter", "transport.connect", "consumer.resume":
		n.send(reply{ID: f.ID, Accepted: true})
	case "router.createWebRtcTransport":
		n.send(reply{ID: f.ID, Accepted: true, Data: n.webRtcTransportData()})
	case "router.createPlainTransport":
		n.send(reply{ID: f.ID, Accepted: true, Data: n.plainTransportData()})
	case "transport.produce":
		n.handleProduce(f)
	case "transport.consume":
		n.handleConsume(f)
	default:
		n.send(reply{ID: f.ID, Error: "Error", Reason: "unknown method " + f.Method})
	}
}

func (n *Node) webRtcTransportData() map[string]any {
	n.mu.Lock()
	port := n.nextPort
	n.nextPort += 2
	n.mu.Unlock()

	return map[string]any{
		"iceParameters": webrtc.ICEParameters{
			UsernameFragment: fmt.Sprintf("%08x", rand.Uint32()),
			Password:         fmt.Sprintf("%08x%08x", rand.Uint32(), rand.Uint32()),
			ICELite:          true,
		},
		"iceCandidates": []webrtc.ICECandidate{
			{
				Foundation: "udpcandidate",
				Priority:   1076302079,
				Address:    "127.0.0.1",
				Protocol:   webrtc.ICEProtocolUDP,
				Port:       uint16(port),
				Typ:        webrtc.ICECandidateTypeHost,
				Component:  1,
			},
		},
		"dtlsParameters": webrtc.DTLSParameters{
			Role: webrtc.DTLSRoleAuto,
			Fingerprints: []webrtc.DTLSFingerprint{
				{Algorithm: "sha-256", Value: fakeFingerprint()},
			},
		},
	}
}

func (n *Node) plainTransportData() map[string]any {
	n.mu.Lock()
	port := n.nextPort
	n.nextPort += 2
	n.mu.Unlock()

	return map[string]any{
		"tuple":     media.TransportTuple{LocalIP: "127.0.0.1", LocalPort: port, Protocol: "udp"},
		"rtcpTuple": media.TransportTuple{LocalIP: "127.0.0.1", LocalPort: port + 1, Protocol: "udp"},
	}
}

func (n *Node) handleProduce(f frame) {
	var req struct {
		ProducerID    string              `json:"producerId"`
		Kind          media.MediaKind     `json:"kind"`
		RtpParameters media.RtpParameters `json:"rtpParameters"`
	}
	if err := json.Unmarshal(f.Data, &req); err != nil {
		n.send(reply{ID: f.ID, Error: "TypeError", Reason: "bad produce data"})
		return
	}

	n.mu.Lock()
	n.producers[req.ProducerID] = producerRec{kind: req.Kind, params: req.RtpParameters}
	n.mu.Unlock()

	n.send(reply{ID: f.ID, Accepted: true})
}

func (n *Node) handleConsume(f frame) {
	var req struct {
		ConsumerID string `json:"consumerId"`
		ProducerID string `json:"producerId"`
	}
	if err := json.Unmarshal(f.Data, &req); err != nil {
		n.send(reply{ID: f.ID, Error: "TypeError", Reason: "bad consume data"})
		return
	}

	n.mu.Lock()
	rec, ok := n.producers[req.ProducerID]
	ssrc := n.nextSsrc
	n.nextSsrc++
	n.mu.Unlock()
	if !ok {
		n.send(reply{ID: f.ID, Error: "Error", Reason: "producer not found"})
		return
	}

	params := media.RtpParameters{
		Codecs:    rec.params.Codecs,
		Encodings: []media.RtpEncodingParameters{{Ssrc: ssrc}},
		Rtcp:      media.RtcpParameters{Cname: "mediatest", ReducedSize: true},
	}
	n.send(reply{ID: f.ID, Accepted: true, Data: map[string]any{
		"kind":          rec.kind,
		"rtpParameters": params,
	}})
}

func fakeFingerprint() string {
	parts := make([]string, 32)
	for i := range parts {
		parts[i] = fmt.Sprintf("%02X", rand.Intn(256))
	}
	return strings.Join(parts, ":")
}

// Cluster spawns stub workers on demand and remembers the node behind each
// one so tests can reach in and misbehave.
type Cluster struct {
	mu    sync.Mutex
	nodes []*Node
}

// Spawn satisfies media.SpawnFunc.
func (c *Cluster) Spawn(ctx context.Context) (*media.Worker, error) {
	w, node, err := Attach(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.nodes = append(c.nodes, node)
	c.mu.Unlock()
	return w, nil
}

// Node returns the i-th spawned node.
func (c *Cluster) Node(i int) *Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nodes[i]
}

// Nodes returns all spawned nodes in spawn order.
func (c *Cluster) Nodes() []*Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Node, len(c.nodes))
	copy(out, c.nodes)
	return out
}
