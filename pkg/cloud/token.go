/*
Copyright 2025 The PTU Reconciler Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const imdsTokenEndpoint = "http://169.254.169.254/metadata/identity/oauth2/token"

// StaticTokenSource returns the same token on every acquisition. Intended
// for tests and for environments that inject a pre-acquired token.
func StaticTokenSource(token string) TokenSource {
	return func(context.Context) (string, error) {
		return token, nil
	}
}

// ManagedIdentityTokenSource acquires tokens from the instance metadata
// service of the hosting platform, the way a scheduled automation job runs.
// resource is the audience the token is requested for, typically the
// management-plane base URL.
func ManagedIdentityTokenSource(resource string) TokenSource {
	client := &http.Client{Timeout: 10 * time.Second}
	return func(ctx context.Context) (string, error) {
		q := url.Values{
			"api-version": {"2018-02-01"},
			"resource":    {resource},
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, imdsTokenEndpoint+"?"+q.Encode(), nil)
		if err != nil {
			return "", err
		}
		req.Header.Set("Metadata", "true")

		resp, err := client.Do(req)
		if err != nil {
			return "", fmt.Errorf("managed identity token request failed: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", err
		}
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("managed identity token request returned status %d", resp.StatusCode)
		}
		var body struct {
			AccessToken string `json:"access_token"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return "", fmt.Errorf("decode managed identity token response: %w", err)
		}
		if body.AccessToken == "" {
			return "", fmt.Errorf("managed identity token response carried no access token")
		}
		return body.AccessToken, nil
	}
}
