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
	"net"
	"sync"
)

// maxFrameSize bounds a single protocol frame. RTP capability payloads are a
// few KB; anything near this limit indicates a broken peer.
const maxFrameSize = 4 * 1024 * 1024

var (
	// ErrChannelClosed indicates the worker channel is no longer usable.
	ErrChannelClosed = errors.New("worker channel closed")
)

// channelRequest is one server-to-worker request frame.
type channelRequest struct {
	ID       uint32          `json:"id"`
	Method   string          `json:"method"`
	TargetID string          `json:"targetId,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// channelMessage is any worker-to-server frame: a response when ID is set, a
// notification when Event is set.
type channelMessage struct {
	ID       uint32          `json:"id,omitempty"`
	Accepted bool            `json:"accepted,omitempty"`
	Error    string          `json:"error,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	TargetID string          `json:"targetId,omitempty"`
	Event    string          `json:"event,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// NotificationHandler receives unsolicited worker events for one target id.
type NotificationHandler func(event string, data json.RawMessage)

// Channel speaks the worker control protocol: newline-delimited JSON frames
// over the socket pair inherited by the worker process. Requests are
// correlated by id; notifications are dispatched by target id.
type Channel struct {
	conn net.Conn

	writeMu sync.Mutex

	mu       sync.Mutex
	nextID   uint32
	pending  map[uint32]chan channelMessage
	handlers map[string]NotificationHandler
	closed   bool
	closedCh chan struct{}
	onClosed func()
}

func newChannel(conn net.Conn) *Channel {
	return &Channel{
		conn:     conn,
		pending:  make(map[uint32]chan channelMessage),
		handlers: make(map[string]NotificationHandler),
		closedCh: make(chan struct{}),
	}
}

// start launches the read loop. onClosed fires once when the peer goes away
// or Close is called.
func (c *Channel) start(onClosed func()) {
	c.mu.Lock()
	c.onClosed = onClosed
	c.mu.Unlock()
	go c.readLoop()
}

// Request sends one request frame and waits for the matching response.
func (c *Channel) Request(ctx context.Context, method, targetID string, data any) (json.RawMessage, error) {
	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal %s request: %w", method, err)
		}
		raw = encoded
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrChannelClosed
	}
	c.nextID++
	id := c.nextID
	waiter := make(chan channelMessage, 1)
	c.pending[id] = waiter
	c.mu.Unlock()

	frame, err := json.Marshal(channelRequest{ID: id, Method: method, TargetID: targetID, Data: raw})
	if err != nil {
		c.dropPending(id)
		return nil, fmt.Errorf("marshal %s frame: %w", method, err)
	}

	c.writeMu.Lock()
	_, err = c.conn.Write(append(frame, '\n'))
	c.writeMu.Unlock()
	if err != nil {
		c.dropPending(id)
		return nil, fmt.Errorf("write %s request: %w", method, err)
	}

	select {
	case <-ctx.Done():
		c.dropPending(id)
		return nil, ctx.Err()
	case <-c.closedCh:
		return nil, ErrChannelClosed
	case resp, ok := <-waiter:
		if !ok {
			return nil, ErrChannelClosed
		}
		if !resp.Accepted {
			msg := resp.Error
			if resp.Reason != "" {
				msg = fmt.Sprintf("%s: %s", resp.Error, resp.Reason)
			}
			return nil, fmt.Errorf("%s rejected by worker: %s", method, msg)
		}
		return resp.Data, nil
	}
}

// Notify sends a fire-and-forget frame. Used for close requests where the
// caller does not care about the outcome.
func (c *Channel) Notify(method, targetID string, data any) {
	var raw json.RawMessage
	if data != nil {
		if encoded, err := json.Marshal(data); err == nil {
			raw = encoded
		}
	}
	frame, err := json.Marshal(channelRequest{Method: method, TargetID: targetID, Data: raw})
	if err != nil {
		return
	}
	c.writeMu.Lock()
	_, _ = c.conn.Write(append(frame, '\n'))
	c.writeMu.Unlock()
}

// Subscribe registers the notification handler for a target id, replacing any
// previous one.
func (c *Channel) Subscribe(targetID string, handler NotificationHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[targetID] = handler
}

// Unsubscribe removes the notification handler for a target id.
func (c *Channel) Unsubscribe(targetID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, targetID)
}

// Close tears the channel down and fails every pending request.
func (c *Channel) Close() {
	c.shutdown()
}

func (c *Channel) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[uint32]chan channelMessage)
	onClosed := c.onClosed
	close(c.closedCh)
	c.mu.Unlock()

	_ = c.conn.Close()
	for _, waiter := range pending {
		close(waiter)
	}
	if onClosed != nil {
		onClosed()
	}
}

func (c *Channel) dropPending(id uint32) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Channel) readLoop() {
	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg channelMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}
		c.dispatch(msg)
	}

	c.shutdown()
}

func (c *Channel) dispatch(msg channelMessage) {
	if msg.ID != 0 {
		c.mu.Lock()
		waiter, ok := c.pending[msg.ID]
		delete(c.pending, msg.ID)
		c.mu.Unlock()
		if ok {
			waiter <- msg
		}
		return
	}

	if msg.Event == "" {
		return
	}
	c.mu.Lock()
	handler := c.handlers[msg.TargetID]
	c.mu.Unlock()
	if handler != nil {
		handler(msg.Event, msg.Data)
	}
}
