// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const defaultSubjectField = "sub"

// UserInfoConfig describes how to fetch the user's identity from an OAuth2
// provider. Authentication always uses the upstream access token as a Bearer
// token in the Authorization header.
type UserInfoConfig struct {
	// EndpointURL is the URL of the userinfo endpoint (required).
	EndpointURL string

	// HTTPMethod is GET or POST (default: GET).
	HTTPMethod string

	// AdditionalHeaders contains extra headers to include in the request.
	AdditionalHeaders map[string]string

	// SubjectField is the response field holding the user ID (default: "sub").
	// GitHub-style providers use "id".
	SubjectField string
}

// Validate checks that UserInfoConfig has all required fields and valid values.
func (c *UserInfoConfig) Validate() error {
	if c.EndpointURL == "" {
		return errors.New("endpoint_url is required")
	}
	if err := validateEndpointURL(c.EndpointURL); err != nil {
		return fmt.Errorf("invalid endpoint_url: %w", err)
	}
	switch strings.ToUpper(c.HTTPMethod) {
	case "", http.MethodGet, http.MethodPost:
	default:
		return fmt.Errorf("http_method must be GET or POST, got %q", c.HTTPMethod)
	}
	return nil
}

func (c *UserInfoConfig) method() string {
	if c.HTTPMethod == "" {
		return http.MethodGet
	}
	return strings.ToUpper(c.HTTPMethod)
}

func (c *UserInfoConfig) subjectField() string {
	if c.SubjectField == "" {
		return defaultSubjectField
	}
	return c.SubjectField
}

// fetchSubject calls the userinfo endpoint and extracts the subject field.
// Numeric IDs are rendered in decimal.
func fetchSubject(ctx context.Context, client *http.Client, cfg *UserInfoConfig, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, cfg.method(), cfg.EndpointURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	for k, v := range cfg.AdditionalHeaders {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("userinfo request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("userinfo endpoint returned status %d", resp.StatusCode)
	}

	dec := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize))
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode userinfo response: %w", err)
	}

	field := cfg.subjectField()
	switch v := body[field].(type) {
	case string:
		if v != "" {
			return v, nil
		}
	case json.Number:
		return v.String(), nil
	}
	return "", fmt.Errorf("userinfo response has no usable %q field", field)
}
