// Copyright (c) 2024-2026 Meshvox
//
// Licensed under the Apache License, Version 2.0.
// See LICENSE.md for details.

package internal_auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/meshvox/agent-assist/pkg/commons"
)

const verifyTimeout = 10 * time.Second

// Supported identity providers for /register.
const (
	OptionGenesysCloud = "genesyscloud"
	OptionSalesforce   = "salesforce"
	OptionTwilio       = "twilio"
)

// Verifier checks an identity-provider access token presented at
// registration time.
type Verifier interface {
	Verify(ctx context.Context, token string) error
}

// NewVerifier selects the provider named by authOption. Anything unknown
// rejects every registration rather than silently letting tokens through.
func NewVerifier(logger commons.Logger, authOption, genesysEnvironment, salesforceDomain, salesforceOrganizationID, twilioEnvironment string) Verifier {
	switch strings.ToLower(strings.TrimSpace(authOption)) {
	case OptionGenesysCloud:
		return NewGenesysCloudVerifier(logger, genesysEnvironment)
	case OptionSalesforce:
		return NewSalesforceVerifier(logger, salesforceDomain, salesforceOrganizationID)
	case OptionTwilio:
		return NewTwilioVerifier(logger, twilioEnvironment)
	default:
		logger.Warnw("unknown auth option, rejecting all registrations", "authOption", authOption)
		return rejectAllVerifier{}
	}
}

type rejectAllVerifier struct{}

func (rejectAllVerifier) Verify(context.Context, string) error {
	return fmt.Errorf("%w: no identity provider configured", ErrInvalidToken)
}

// ============================================================================
// Genesys Cloud
// ============================================================================

// genesysCloudVerifier proves the token by calling the Users API; any token
// good enough for /users/me is good enough for us.
type genesysCloudVerifier struct {
	logger commons.Logger
	http   *resty.Client
}

func NewGenesysCloudVerifier(logger commons.Logger, environment string) Verifier {
	return &genesysCloudVerifier{
		logger: logger,
		http: resty.New().
			SetBaseURL("https://api." + environment).
			SetTimeout(verifyTimeout),
	}
}

func (v *genesysCloudVerifier) Verify(ctx context.Context, token string) error {
	var user struct {
		ID string `json:"id"`
	}
	resp, err := v.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetResult(&user).
		Get("/api/v2/users/me")
	if err != nil {
		return fmt.Errorf("genesys cloud user lookup failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("%w: genesys cloud returned %s", ErrInvalidToken, resp.Status())
	}
	v.logger.Debugw("verified genesys cloud user", "user", user.ID)
	return nil
}

// ============================================================================
// Salesforce
// ============================================================================

type salesforceVerifier struct {
	logger         commons.Logger
	http           *resty.Client
	organizationID string
}

func NewSalesforceVerifier(logger commons.Logger, domain, organizationID string) Verifier {
	return &salesforceVerifier{
		logger:         logger,
		organizationID: organizationID,
		http: resty.New().
			SetBaseURL("https://" + domain).
			SetTimeout(verifyTimeout),
	}
}

func (v *salesforceVerifier) Verify(ctx context.Context, token string) error {
	var user struct {
		UserID         string `json:"user_id"`
		OrganizationID string `json:"organization_id"`
	}
	resp, err := v.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetResult(&user).
		Get("/services/oauth2/userinfo")
	if err != nil {
		return fmt.Errorf("salesforce user lookup failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("%w: salesforce returned %s", ErrInvalidToken, resp.Status())
	}
	if !organizationMatches(user.OrganizationID, v.organizationID) {
		v.logger.Warnw("salesforce organization not allowed",
			"user", user.UserID, "organization", user.OrganizationID)
		return fmt.Errorf("%w: organization %s not allowed", ErrInvalidToken, user.OrganizationID)
	}
	v.logger.Debugw("verified salesforce user", "user", user.UserID)
	return nil
}

// organizationMatches compares on the shared prefix because Salesforce hands
// out the same organization id in 15 and 18 character forms.
func organizationMatches(got, want string) bool {
	n := len(got)
	if len(want) < n {
		n = len(want)
	}
	if n == 0 {
		return false
	}
	return got[:n] == want[:n]
}

// ============================================================================
// Twilio Flex
// ============================================================================

type twilioVerifier struct {
	logger commons.Logger
	http   *resty.Client
}

func NewTwilioVerifier(logger commons.Logger, environment string) Verifier {
	return &twilioVerifier{
		logger: logger,
		http: resty.New().
			SetBaseURL("https://" + environment).
			SetTimeout(verifyTimeout),
	}
}

func (v *twilioVerifier) Verify(ctx context.Context, token string) error {
	resp, err := v.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"Token": token}).
		Post("/verify")
	if err != nil {
		return fmt.Errorf("twilio flex verification failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("%w: twilio flex returned %s", ErrInvalidToken, resp.Status())
	}
	return nil
}
