// Copyright (c) 2024-2026 Meshvox
//
// Licensed under the Apache License, Version 2.0.
// See LICENSE.md for details.

package events

import (
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Event data types carried in the data_type field of every envelope.
const (
	DataTypeSummarization = "conversation-summarization-received"
	DataTypeSuggestion    = "human-agent-assistant-event"
	DataTypeTranscript    = "conversation-transcript-received"
)

// Envelope is the JSON body exchanged over broker channels and the durable
// topic. data_type and conversation_name route the message; Fields carries
// the event payload. conversation_name is always the location-stripped
// canonical form.
type Envelope struct {
	DataType         string                 `mapstructure:"data_type"`
	ConversationName string                 `mapstructure:"conversation_name"`
	Fields           map[string]interface{} `mapstructure:",remain"`
}

// NewSummarization builds the envelope emitted on every summary tick. The
// stripped name routes the message; the payload keeps the full resource
// name so UIs can call the provider directly.
func NewSummarization(strippedName, fullName, genesysConversationID, summary string, summaryCount int) *Envelope {
	return &Envelope{
		DataType:         DataTypeSummarization,
		ConversationName: strippedName,
		Fields: map[string]interface{}{
			"conversationName":      fullName,
			"genesysConversationId": genesysConversationID,
			"summary":               summary,
			"summaryCount":          summaryCount,
		},
	}
}

// NewSuggestion wraps humanAgentSuggestionResults amplified off an
// analyzeContent response.
func NewSuggestion(strippedName string, suggestionResults interface{}) *Envelope {
	return &Envelope{
		DataType:         DataTypeSuggestion,
		ConversationName: strippedName,
		Fields: map[string]interface{}{
			"human_agent_suggestion_results": suggestionResults,
		},
	}
}

// NewTranscript wraps one recognition result for room-scoped delivery.
func NewTranscript(strippedName, role, transcript string, isFinal bool, offsetMs int64) *Envelope {
	return &Envelope{
		DataType:         DataTypeTranscript,
		ConversationName: strippedName,
		Fields: map[string]interface{}{
			"role":              role,
			"transcript":        transcript,
			"isFinal":           isFinal,
			"speechEndOffsetMs": offsetMs,
		},
	}
}

// Encode flattens the envelope into its wire JSON.
func (e *Envelope) Encode() ([]byte, error) {
	body := make(map[string]interface{}, len(e.Fields)+2)
	for k, v := range e.Fields {
		body[k] = v
	}
	body["data_type"] = e.DataType
	body["conversation_name"] = e.ConversationName
	return json.Marshal(body)
}

// Decode parses wire JSON back into an envelope, keeping unknown payload
// keys in Fields.
func Decode(data []byte) (*Envelope, error) {
	var body map[string]interface{}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("malformed event envelope: %w", err)
	}
	var env Envelope
	if err := mapstructure.Decode(body, &env); err != nil {
		return nil, fmt.Errorf("failed to decode event envelope: %w", err)
	}
	if env.DataType == "" {
		return nil, fmt.Errorf("event envelope missing data_type")
	}
	return &env, nil
}
