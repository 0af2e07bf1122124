// Copyright (c) 2024-2026 Meshvox
//
// Licensed under the Apache License, Version 2.0.
// See LICENSE.md for details.

package internal_audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitInterleaved(t *testing.T) {
	tests := []struct {
		name           string
		frame          []byte
		expectCustomer []byte
		expectAgent    []byte
		expectError    bool
	}{
		{
			name:           "even positions go to the customer leg",
			frame:          []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06},
			expectCustomer: []byte{0x01, 0x03, 0x05},
			expectAgent:    []byte{0x02, 0x04, 0x06},
		},
		{
			name:           "single sample pair",
			frame:          []byte{0xAA, 0xBB},
			expectCustomer: []byte{0xAA},
			expectAgent:    []byte{0xBB},
		},
		{
			name:           "empty frame yields empty legs",
			frame:          []byte{},
			expectCustomer: []byte{},
			expectAgent:    []byte{},
		},
		{
			name:        "odd length frame is rejected",
			frame:       []byte{0x01, 0x02, 0x03},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			customer, agent, err := SplitInterleaved(tt.frame)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectCustomer, customer)
			assert.Equal(t, tt.expectAgent, agent)
		})
	}
}
