// Copyright (c) 2024-2026 Meshvox
//
// Licensed under the Apache License, Version 2.0.
// See LICENSE.md for details.

package internal_dialogflow

import (
	"testing"

	"cloud.google.com/go/dialogflow/apiv2beta1/dialogflowpb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocationID(t *testing.T) {
	tests := []struct {
		name        string
		profile     string
		expected    string
		expectError bool
	}{
		{
			name:     "regional profile",
			profile:  "projects/proj-1/locations/us-central1/conversationProfiles/prof-1",
			expected: "us-central1",
		},
		{
			name:     "global profile",
			profile:  "projects/proj-1/locations/global/conversationProfiles/prof-1",
			expected: "global",
		},
		{
			name:        "missing location segment",
			profile:     "projects/proj-1/conversationProfiles/prof-1",
			expectError: true,
		},
		{
			name:        "empty name",
			profile:     "",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			location, err := LocationID(tt.profile)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, location)
		})
	}
}

func TestAPIEndpoint(t *testing.T) {
	assert.Equal(t, "dialogflow.googleapis.com:443", APIEndpoint("global"))
	assert.Equal(t, "us-central1-dialogflow.googleapis.com:443", APIEndpoint("us-central1"))
	assert.Equal(t, "europe-west2-dialogflow.googleapis.com:443", APIEndpoint("europe-west2"))
}

func TestConversationNaming(t *testing.T) {
	id := NormalizedConversationID("9f2c6f5e-0b5a-4b6e-9f9d-d4e2a9d9aa11")
	assert.Equal(t, "a9f2c6f5e-0b5a-4b6e-9f9d-d4e2a9d9aa11", id)

	name := ConversationPath("proj-1", "us-central1", id)
	assert.Equal(t,
		"projects/proj-1/locations/us-central1/conversations/a9f2c6f5e-0b5a-4b6e-9f9d-d4e2a9d9aa11",
		name)
}

func TestFindParticipantByRole(t *testing.T) {
	agent := &dialogflowpb.Participant{Name: "p/agent", Role: dialogflowpb.Participant_HUMAN_AGENT}
	user := &dialogflowpb.Participant{Name: "p/user", Role: dialogflowpb.Participant_END_USER}
	participants := []*dialogflowpb.Participant{agent, user}

	assert.Same(t, agent, FindParticipantByRole(dialogflowpb.Participant_HUMAN_AGENT, participants))
	assert.Same(t, user, FindParticipantByRole(dialogflowpb.Participant_END_USER, participants))
	assert.Nil(t, FindParticipantByRole(dialogflowpb.Participant_AUTOMATED_AGENT, participants))
	assert.Nil(t, FindParticipantByRole(dialogflowpb.Participant_HUMAN_AGENT, nil))
}

func TestInputAudioConfigFromProfile(t *testing.T) {
	t.Run("profile values win", func(t *testing.T) {
		profile := &dialogflowpb.ConversationProfile{
			LanguageCode: "fr-FR",
			SttConfig:    &dialogflowpb.SpeechToTextConfig{Model: "telephony"},
		}

		cfg := InputAudioConfigFromProfile(profile, 8000)
		assert.Equal(t, dialogflowpb.AudioEncoding_AUDIO_ENCODING_MULAW, cfg.GetAudioEncoding())
		assert.EqualValues(t, 8000, cfg.GetSampleRateHertz())
		assert.Equal(t, "fr-FR", cfg.GetLanguageCode())
		assert.Equal(t, "telephony", cfg.GetModel())
		assert.Equal(t, dialogflowpb.SpeechModelVariant_USE_ENHANCED, cfg.GetModelVariant())
		assert.True(t, cfg.GetEnableAutomaticPunctuation())
	})

	t.Run("defaults fill unset fields", func(t *testing.T) {
		cfg := InputAudioConfigFromProfile(&dialogflowpb.ConversationProfile{}, 8000)
		assert.Equal(t, DefaultLanguageCode, cfg.GetLanguageCode())
		assert.Equal(t, DefaultSpeechModel, cfg.GetModel())
	})
}
