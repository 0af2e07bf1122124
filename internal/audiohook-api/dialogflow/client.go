// Copyright (c) 2024-2026 Meshvox
//
// Licensed under the Apache License, Version 2.0.
// See LICENSE.md for details.

// Package internal_dialogflow wraps the Dialogflow v2beta1 conversation,
// participant and profile services behind one client facade. The regional
// endpoint is derived from the conversation profile resource name, so a
// misconfigured profile fails at startup instead of on the first call.
package internal_dialogflow

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	dialogflow "cloud.google.com/go/dialogflow/apiv2beta1"
	"cloud.google.com/go/dialogflow/apiv2beta1/dialogflowpb"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/meshvox/agent-assist/pkg/commons"
)

// Recognition defaults applied when the conversation profile leaves the
// corresponding field unset.
const (
	DefaultLanguageCode = "en-US"
	DefaultSpeechModel  = "phone_call"
)

var locationPattern = regexp.MustCompile(`^projects/[^/]+/locations/([^/]+)`)

// LocationID extracts the location segment from a conversation profile
// resource name (projects/<p>/locations/<l>/conversationProfiles/<id>).
func LocationID(conversationProfileName string) (string, error) {
	match := locationPattern.FindStringSubmatch(conversationProfileName)
	if match == nil {
		return "", fmt.Errorf("conversation profile %q carries no location", conversationProfileName)
	}
	return match[1], nil
}

// APIEndpoint returns the Dialogflow service endpoint for a location.
// Non-global locations are served from regional endpoints.
// Reference: https://cloud.google.com/dialogflow/es/docs/reference/rest/v2-overview#service-endpoint
func APIEndpoint(location string) string {
	if location == "global" {
		return "dialogflow.googleapis.com:443"
	}
	return fmt.Sprintf("%s-dialogflow.googleapis.com:443", location)
}

// NormalizedConversationID prefixes the telephony conversation id so the
// result is a valid provider resource id, which must not start with a digit.
func NormalizedConversationID(conversationID string) string {
	return "a" + conversationID
}

// ConversationPath builds a conversation resource name.
func ConversationPath(project, location, conversationID string) string {
	return fmt.Sprintf("projects/%s/locations/%s/conversations/%s", project, location, conversationID)
}

// FindParticipantByRole returns the first participant holding the role, or
// nil when the conversation has none.
func FindParticipantByRole(role dialogflowpb.Participant_Role, participants []*dialogflowpb.Participant) *dialogflowpb.Participant {
	for _, participant := range participants {
		if participant.GetRole() == role {
			return participant
		}
	}
	return nil
}

// InputAudioConfigFromProfile builds the recognizer configuration for one
// call leg. Audiohook only ever offers µ-law, so the encoding is fixed and
// the profile contributes language and speech model.
func InputAudioConfigFromProfile(profile *dialogflowpb.ConversationProfile, rate int) *dialogflowpb.InputAudioConfig {
	language := profile.GetLanguageCode()
	if language == "" {
		language = DefaultLanguageCode
	}
	model := profile.GetSttConfig().GetModel()
	if model == "" {
		model = DefaultSpeechModel
	}
	return &dialogflowpb.InputAudioConfig{
		AudioEncoding:              dialogflowpb.AudioEncoding_AUDIO_ENCODING_MULAW,
		SampleRateHertz:            int32(rate),
		LanguageCode:               language,
		Model:                      model,
		ModelVariant:               dialogflowpb.SpeechModelVariant_USE_ENHANCED,
		EnableAutomaticPunctuation: true,
	}
}

// ============================================================================
// Client facade
// ============================================================================

// Client is the surface the session orchestrator and summary ticker need
// from Dialogflow.
type Client interface {
	// Location reports the location parsed from the conversation profile.
	Location() string
	// ConversationName builds the resource name for a normalized id.
	ConversationName(conversationID string) string

	GetConversationProfile(ctx context.Context, name string) (*dialogflowpb.ConversationProfile, error)
	GetConversation(ctx context.Context, name string) (*dialogflowpb.Conversation, error)
	CreateConversation(ctx context.Context, profileName, conversationID string) (*dialogflowpb.Conversation, error)
	ListParticipants(ctx context.Context, conversationName string) ([]*dialogflowpb.Participant, error)
	CreateParticipant(ctx context.Context, conversationName string, role dialogflowpb.Participant_Role) (*dialogflowpb.Participant, error)
	StreamingAnalyzeContent(ctx context.Context) (dialogflowpb.Participants_StreamingAnalyzeContentClient, error)
	CompleteConversation(ctx context.Context, conversationName string) error
	SuggestConversationSummary(ctx context.Context, conversationName string) (string, error)
	Close() error
}

type client struct {
	logger   commons.Logger
	project  string
	location string

	conversations *dialogflow.ConversationsClient
	participants  *dialogflow.ParticipantsClient
	profiles      *dialogflow.ConversationProfilesClient
}

// NewClient dials the three Dialogflow services on the regional endpoint of
// the given conversation profile. A profile name without a location is a
// configuration error and fails immediately.
func NewClient(ctx context.Context, logger commons.Logger, project, conversationProfileName string, opts ...option.ClientOption) (Client, error) {
	location, err := LocationID(conversationProfileName)
	if err != nil {
		return nil, err
	}
	endpoint := APIEndpoint(location)
	logger.Debugw("dialing dialogflow", "endpoint", endpoint, "project", project)

	clientOpts := append([]option.ClientOption{option.WithEndpoint(endpoint)}, opts...)
	conversations, err := dialogflow.NewConversationsClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversations client: %w", err)
	}
	participants, err := dialogflow.NewParticipantsClient(ctx, clientOpts...)
	if err != nil {
		conversations.Close()
		return nil, fmt.Errorf("failed to create participants client: %w", err)
	}
	profiles, err := dialogflow.NewConversationProfilesClient(ctx, clientOpts...)
	if err != nil {
		conversations.Close()
		participants.Close()
		return nil, fmt.Errorf("failed to create conversation profiles client: %w", err)
	}

	return &client{
		logger:        logger,
		project:       project,
		location:      location,
		conversations: conversations,
		participants:  participants,
		profiles:      profiles,
	}, nil
}

func (c *client) Location() string {
	return c.location
}

func (c *client) ConversationName(conversationID string) string {
	return ConversationPath(c.project, c.location, conversationID)
}

func (c *client) GetConversationProfile(ctx context.Context, name string) (*dialogflowpb.ConversationProfile, error) {
	profile, err := c.profiles.GetConversationProfile(ctx, &dialogflowpb.GetConversationProfileRequest{
		Name: name,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation profile %s: %w", name, err)
	}
	return profile, nil
}

func (c *client) GetConversation(ctx context.Context, name string) (*dialogflowpb.Conversation, error) {
	conversation, err := c.conversations.GetConversation(ctx, &dialogflowpb.GetConversationRequest{
		Name: name,
	})
	if err != nil {
		return nil, err
	}
	return conversation, nil
}

func (c *client) CreateConversation(ctx context.Context, profileName, conversationID string) (*dialogflowpb.Conversation, error) {
	parent := fmt.Sprintf("projects/%s/locations/%s", c.project, c.location)
	conversation, err := c.conversations.CreateConversation(ctx, &dialogflowpb.CreateConversationRequest{
		Parent:         parent,
		Conversation:   &dialogflowpb.Conversation{ConversationProfile: profileName},
		ConversationId: conversationID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation %s under %s: %w", conversationID, parent, err)
	}
	c.logger.Infow("created conversation", "name", conversation.GetName(), "parent", parent)
	return conversation, nil
}

func (c *client) ListParticipants(ctx context.Context, conversationName string) ([]*dialogflowpb.Participant, error) {
	it := c.participants.ListParticipants(ctx, &dialogflowpb.ListParticipantsRequest{
		Parent: conversationName,
	})
	var list []*dialogflowpb.Participant
	for {
		participant, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list participants of %s: %w", conversationName, err)
		}
		list = append(list, participant)
	}
	return list, nil
}

func (c *client) CreateParticipant(ctx context.Context, conversationName string, role dialogflowpb.Participant_Role) (*dialogflowpb.Participant, error) {
	participant, err := c.participants.CreateParticipant(ctx, &dialogflowpb.CreateParticipantRequest{
		Parent:      conversationName,
		Participant: &dialogflowpb.Participant{Role: role},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s participant in %s: %w", role, conversationName, err)
	}
	c.logger.Debugw("created participant", "name", participant.GetName(), "role", role.String())
	return participant, nil
}

func (c *client) StreamingAnalyzeContent(ctx context.Context) (dialogflowpb.Participants_StreamingAnalyzeContentClient, error) {
	return c.participants.StreamingAnalyzeContent(ctx)
}

func (c *client) CompleteConversation(ctx context.Context, conversationName string) error {
	_, err := c.conversations.CompleteConversation(ctx, &dialogflowpb.CompleteConversationRequest{
		Name: conversationName,
	})
	if err != nil {
		return fmt.Errorf("failed to complete conversation %s: %w", conversationName, err)
	}
	return nil
}

func (c *client) SuggestConversationSummary(ctx context.Context, conversationName string) (string, error) {
	resp, err := c.conversations.SuggestConversationSummary(ctx, &dialogflowpb.SuggestConversationSummaryRequest{
		Conversation: conversationName,
	})
	if err != nil {
		return "", fmt.Errorf("failed to suggest summary for %s: %w", conversationName, err)
	}
	return resp.GetSummary().GetText(), nil
}

func (c *client) Close() error {
	return errors.Join(
		c.conversations.Close(),
		c.participants.Close(),
		c.profiles.Close(),
	)
}
