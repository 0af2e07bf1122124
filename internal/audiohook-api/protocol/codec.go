// Copyright (c) 2024-2026 Meshvox
//
// Licensed under the Apache License, Version 2.0.
// See LICENSE.md for details.

package internal_protocol

import (
	"sync"
)

// Codec assigns outbound sequence numbers and echoes session identity for
// one Audiohook connection. Outbound messages may be produced from more than
// one goroutine, so the counters are mutex guarded.
type Codec struct {
	mu        sync.Mutex
	serverSeq int
	clientSeq int
	sessionID string
}

func NewCodec() *Codec {
	return &Codec{}
}

// Observe records session identity and the peer's sequence number from an
// inbound control message. Called for every text frame before dispatch.
func (c *Codec) Observe(msg *Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = msg.ID
	c.clientSeq = msg.Seq
}

// SessionID returns the identifier echoed from the client.
func (c *Codec) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Codec) next(messageType string) *Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.serverSeq++
	return &Message{
		Version:    Version,
		Type:       messageType,
		Seq:        c.serverSeq,
		ClientSeq:  c.clientSeq,
		ID:         c.sessionID,
		Parameters: map[string]interface{}{},
	}
}

// EncodeOpened answers an open message. The server picks the audio format:
// both call channels, µ-law at 8 kHz, starting paused until a subscriber
// check completes.
func (c *Codec) EncodeOpened() *Message {
	msg := c.next(TypeOpened)
	msg.Parameters = map[string]interface{}{
		"startPaused": true,
		"media": []MediaParameter{
			{
				Type:     "audio",
				Format:   "PCMU",
				Channels: []string{"external", "internal"},
				Rate:     8000,
			},
		},
	}
	return msg
}

// EncodeResume tells the client the server is ready to process audio.
func (c *Codec) EncodeResume() *Message {
	return c.next(TypeResume)
}

// EncodePong answers a ping keepalive.
func (c *Codec) EncodePong() *Message {
	return c.next(TypePong)
}

// EncodeClosed acknowledges a close. The client tears down the connection
// after receiving it.
func (c *Codec) EncodeClosed() *Message {
	return c.next(TypeClosed)
}
