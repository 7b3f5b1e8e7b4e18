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

// Package alert posts best-effort notifications to webhook targets. Dispatch
// failures are logged and swallowed: they never surface to the caller and
// never replace the error that triggered the alert.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"k8s.io/klog/v2"

	"github.com/azureops/ptu-reconciler/pkg/monitor"
)

// Message is one outbound notification.
type Message struct {
	// Source identifies the operation emitting the alert.
	Source    string
	Body      string
	Timestamp time.Time
}

func (m Message) text() string {
	return fmt.Sprintf("[%s] %s: %s", m.Timestamp.UTC().Format(time.RFC3339), m.Source, m.Body)
}

// Provider is one supported webhook flavor.
type Provider string

const (
	ProviderFeishu   Provider = "Feishu"
	ProviderDingTalk Provider = "DingTalk"
	ProviderUnknown  Provider = "Unknown"
)

// registry maps URL substrings to providers. Unresolved URLs fall through to
// ProviderUnknown, whose dispatch is a no-op warning.
var registry = []struct {
	match    string
	provider Provider
}{
	{"open.feishu.cn", ProviderFeishu},
	{"oapi.dingtalk.com", ProviderDingTalk},
}

// handlers is the closed set of per-provider senders. Each provider owns its
// payload shape and the location of the success-code field in the response.
var handlers = map[Provider]func(ctx context.Context, client *http.Client, targetURL string, msg Message) error{
	ProviderFeishu:   sendFeishu,
	ProviderDingTalk: sendDingTalk,
}

// resolveProvider matches targetURL against the registry.
func resolveProvider(targetURL string) Provider {
	for _, entry := range registry {
		if strings.Contains(targetURL, entry.match) {
			return entry.provider
		}
	}
	return ProviderUnknown
}

// Dispatcher posts alerts. Its zero value is not usable; construct with New.
type Dispatcher struct {
	client *http.Client
}

// New returns a Dispatcher with a bounded-timeout HTTP client.
func New() *Dispatcher {
	return &Dispatcher{client: &http.Client{Timeout: 10 * time.Second}}
}

// NewWithClient returns a Dispatcher using the given HTTP client.
func NewWithClient(client *http.Client) *Dispatcher {
	return &Dispatcher{client: client}
}

// Dispatch sends msg to targetURL. It never fails visibly: network and
// formatting errors are logged and discarded.
func (d *Dispatcher) Dispatch(ctx context.Context, targetURL string, msg Message) {
	if targetURL == "" {
		klog.V(4).InfoS("No webhook target configured, skipping alert", "source", msg.Source)
		return
	}
	provider := resolveProvider(targetURL)
	handler, ok := handlers[provider]
	if !ok {
		klog.Warningf("Unknown webhook provider for target %q, alert dropped: %s", targetURL, msg.Body)
		monitor.AlertsDispatched.WithLabelValues(string(ProviderUnknown), "dropped").Inc()
		return
	}
	if err := handler(ctx, d.client, targetURL, msg); err != nil {
		klog.ErrorS(err, "Alert dispatch failed", "provider", provider, "source", msg.Source)
		monitor.AlertsDispatched.WithLabelValues(string(provider), "error").Inc()
		return
	}
	klog.V(3).InfoS("Alert dispatched", "provider", provider, "source", msg.Source)
	monitor.AlertsDispatched.WithLabelValues(string(provider), "ok").Inc()
}

func post(ctx context.Context, client *http.Client, targetURL string, payload interface{}) ([]byte, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode alert payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return raw, nil
}

func sendFeishu(ctx context.Context, client *http.Client, targetURL string, msg Message) error {
	payload := map[string]interface{}{
		"msg_type": "text",
		"content":  map[string]string{"text": msg.text()},
	}
	raw, err := post(ctx, client, targetURL, payload)
	if err != nil {
		return err
	}
	var resp struct {
		StatusCode int    `json:"StatusCode"`
		Msg        string `json:"msg"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("decode webhook response: %w", err)
	}
	if resp.StatusCode != 0 {
		return fmt.Errorf("webhook rejected message: StatusCode=%d msg=%s", resp.StatusCode, resp.Msg)
	}
	return nil
}

func sendDingTalk(ctx context.Context, client *http.Client, targetURL string, msg Message) error {
	payload := map[string]interface{}{
		"msgtype": "text",
		"text":    map[string]string{"content": msg.text()},
	}
	raw, err := post(ctx, client, targetURL, payload)
	if err != nil {
		return err
	}
	var resp struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("decode webhook response: %w", err)
	}
	if resp.ErrCode != 0 {
		return fmt.Errorf("webhook rejected message: errcode=%d errmsg=%s", resp.ErrCode, resp.ErrMsg)
	}
	return nil
}
