// Copyright (c) 2024-2026 Meshvox
//
// Licensed under the Apache License, Version 2.0.
// See LICENSE.md for details.

// Package internal_audio buffers µ-law telephony audio between the websocket
// reader and the streaming recognition workers, one Stream per call leg.
package internal_audio

import (
	"fmt"
)

// SplitInterleaved separates one Audiohook binary frame into its two call
// legs. Audiohook interleaves single-byte µ-law samples with the external
// channel first: even positions carry the customer, odd positions the agent.
func SplitInterleaved(frame []byte) (customer, agent []byte, err error) {
	if len(frame)%2 != 0 {
		return nil, nil, fmt.Errorf("interleaved frame must hold sample pairs, got %d bytes", len(frame))
	}
	half := len(frame) / 2
	customer = make([]byte, half)
	agent = make([]byte, half)
	for i := 0; i < half; i++ {
		customer[i] = frame[2*i]
		agent[i] = frame[2*i+1]
	}
	return customer, agent, nil
}
