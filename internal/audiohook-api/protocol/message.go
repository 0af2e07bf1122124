// Copyright (c) 2024-2026 Meshvox
//
// Licensed under the Apache License, Version 2.0.
// See LICENSE.md for details.

// Package internal_protocol implements the Audiohook v2 control channel:
// framed JSON messages interleaved with binary PCMU audio on one websocket.
// Reference: https://developer.genesys.cloud/devapps/audiohook/protocol-reference
package internal_protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const Version = "2"

// Control message types observed from the Audiohook client.
const (
	TypeOpen      = "open"
	TypeClose     = "close"
	TypePing      = "ping"
	TypePaused    = "paused"
	TypeResumed   = "resumed"
	TypeDiscarded = "discarded"
)

// Control message types emitted by the server.
const (
	TypeOpened = "opened"
	TypeClosed = "closed"
	TypePong   = "pong"
	TypeResume = "resume"
)

// Message is one Audiohook control frame. The client and server each keep a
// monotonically increasing sequence number so either party can tell which
// messages the other has already seen.
type Message struct {
	Version    string                 `json:"version"`
	Type       string                 `json:"type"`
	Seq        int                    `json:"seq"`
	ClientSeq  int                    `json:"clientseq"`
	ID         string                 `json:"id"`
	Parameters map[string]interface{} `json:"parameters"`
}

// MediaParameter is one negotiated media descriptor inside opened parameters.
type MediaParameter struct {
	Type     string   `json:"type"`
	Format   string   `json:"format"`
	Channels []string `json:"channels"`
	Rate     int      `json:"rate"`
}

// Bytes marshals the message for the text channel.
func (m *Message) Bytes() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s message: %w", m.Type, err)
	}
	return data, nil
}

// ConversationID extracts parameters.conversationId. Audiohook clients pass
// the null UUID to identify connection probes, so a missing id reads as one.
func (m *Message) ConversationID() string {
	if m.Parameters == nil {
		return uuid.Nil.String()
	}
	id, ok := m.Parameters["conversationId"].(string)
	if !ok || id == "" {
		return uuid.Nil.String()
	}
	return id
}

// IsProbe reports whether the message belongs to a connection probe.
func (m *Message) IsProbe() bool {
	return m.ConversationID() == uuid.Nil.String()
}

// OfferedMedia returns the media descriptors from an open offer, if any.
func (m *Message) OfferedMedia() []MediaParameter {
	if m.Parameters == nil {
		return nil
	}
	raw, ok := m.Parameters["media"]
	if !ok {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var media []MediaParameter
	if err := json.Unmarshal(data, &media); err != nil {
		return nil
	}
	return media
}

// CompatibleMedia reports whether the offer includes the one format the
// server accepts: two-channel PCMU at 8 kHz. Offers without a media
// parameter pass; probes omit it.
func (m *Message) CompatibleMedia() bool {
	media := m.OfferedMedia()
	if len(media) == 0 {
		return true
	}
	for _, desc := range media {
		if strings.EqualFold(desc.Format, "PCMU") && desc.Rate == 8000 && len(desc.Channels) == 2 {
			return true
		}
	}
	return false
}

// DecodeControl parses one text frame. Malformed JSON is an error; the
// session logs it and drops the frame.
func DecodeControl(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("not a valid control message: %w", err)
	}
	return &msg, nil
}
