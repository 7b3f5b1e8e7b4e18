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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/azureops/ptu-reconciler/pkg/types"
)

const (
	defaultBaseURL    = "https://management.azure.com"
	accountAPIVersion = "2024-10-01"
	metricsAPIVersion = "2018-01-01"
	defaultTimeout    = 30 * time.Second
)

// MetricSeries is one time series returned by a metrics query, flattened to
// the metric name, the value of the dimension the query was split on, and
// the aggregated points.
type MetricSeries struct {
	Metric    string
	Dimension string
	Points    []types.MetricPoint
}

// Client is the management-plane surface this system depends on. All methods
// return classified *Error values on provider failures.
type Client interface {
	ShowDeployment(ctx context.Context, resourceGroup, account, name string) (*types.Deployment, error)
	CreateDeployment(ctx context.Context, d types.Deployment) error
	UpdateDeploymentCapacity(ctx context.Context, resourceGroup, account, name string, capacity int32) error
	DeleteDeployment(ctx context.Context, resourceGroup, account, name string) error
	GetModelCapacities(ctx context.Context, location string, model types.ModelInfo, skuName string) (int32, error)
	EstimateModelCapacity(ctx context.Context, req types.CapacityRequest) (int32, error)
	ListMetrics(ctx context.Context, resourceID string, window types.UsageWindow, metricNames []string, dimension string, dimensionValues []string) ([]MetricSeries, error)
	// RefreshCredential forces the next request to run with a freshly
	// acquired token.
	RefreshCredential(ctx context.Context) error
}

// TokenSource returns a bearer token for the management plane. It must be a
// pure acquisition function: no state is mutated by calling it.
type TokenSource func(ctx context.Context) (string, error)

// Config is the immutable configuration of a REST client.
type Config struct {
	SubscriptionID string
	BaseURL        string
	Timeout        time.Duration
	Token          TokenSource
}

type restClient struct {
	cfg  Config
	http *http.Client

	mu    sync.Mutex
	token string
}

// New builds a management-plane REST client from an immutable Config.
func New(cfg Config) Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &restClient{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *restClient) bearer(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" {
		t, err := c.cfg.Token(ctx)
		if err != nil {
			return "", &Error{Kind: KindAuthentication, Op: "AcquireToken", Message: err.Error()}
		}
		c.token = t
	}
	return c.token, nil
}

func (c *restClient) RefreshCredential(ctx context.Context) error {
	t, err := c.cfg.Token(ctx)
	if err != nil {
		return &Error{Kind: KindAuthentication, Op: "RefreshCredential", Message: err.Error()}
	}
	c.mu.Lock()
	c.token = t
	c.mu.Unlock()
	klog.V(3).InfoS("Refreshed management-plane credential")
	return nil
}

// armError is the provider's wire error envelope.
type armError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// do issues one request and decodes a 2xx JSON body into out (when non-nil).
// Non-2xx responses are turned into classified *Error values.
func (c *restClient) do(ctx context.Context, op, method, path string, query url.Values, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(buf)
	}

	u := c.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	token, err := c.bearer(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("x-ms-correlation-request-id", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Transport-level failures carry no status and stay retryable.
		return &Error{Kind: KindTransient, Op: op, Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Kind: KindTransient, Op: op, Message: fmt.Sprintf("read response: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var ae armError
		_ = json.Unmarshal(raw, &ae)
		klog.V(4).InfoS("Provider call failed", "operation", op, "status", resp.StatusCode, "code", ae.Error.Code)
		return &Error{
			Kind:    classify(resp.StatusCode, ae.Error.Code),
			Op:      op,
			Status:  resp.StatusCode,
			Code:    ae.Error.Code,
			Message: ae.Error.Message,
		}
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return &Error{Kind: KindTransient, Op: op, Message: fmt.Sprintf("decode response: %v", err)}
		}
	}
	return nil
}

func (c *restClient) deploymentPath(resourceGroup, account, name string) string {
	return fmt.Sprintf("/subscriptions/%s/resourceGroups/%s/providers/Microsoft.CognitiveServices/accounts/%s/deployments/%s",
		c.cfg.SubscriptionID, resourceGroup, account, name)
}

// deploymentResource is the provider's deployment wire shape.
type deploymentResource struct {
	Name string `json:"name"`
	SKU  struct {
		Name     string `json:"name"`
		Capacity int32  `json:"capacity"`
	} `json:"sku"`
	Properties struct {
		Model struct {
			Format  string `json:"format"`
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"model"`
	} `json:"properties"`
}

func (c *restClient) ShowDeployment(ctx context.Context, resourceGroup, account, name string) (*types.Deployment, error) {
	var res deploymentResource
	q := url.Values{"api-version": {accountAPIVersion}}
	if err := c.do(ctx, "ShowDeployment", http.MethodGet, c.deploymentPath(resourceGroup, account, name), q, nil, &res); err != nil {
		return nil, err
	}
	return &types.Deployment{
		ResourceGroup: resourceGroup,
		AccountName:   account,
		Name:          res.Name,
		Model: types.ModelInfo{
			Name:    res.Properties.Model.Name,
			Version: res.Properties.Model.Version,
			Format:  res.Properties.Model.Format,
		},
		SKUName:  res.SKU.Name,
		Capacity: res.SKU.Capacity,
	}, nil
}

func (c *restClient) CreateDeployment(ctx context.Context, d types.Deployment) error {
	body := map[string]interface{}{
		"sku": map[string]interface{}{"name": d.SKUName, "capacity": d.Capacity},
		"properties": map[string]interface{}{
			"model": map[string]string{
				"format":  d.Model.Format,
				"name":    d.Model.Name,
				"version": d.Model.Version,
			},
		},
	}
	q := url.Values{"api-version": {accountAPIVersion}}
	return c.do(ctx, "CreateDeployment", http.MethodPut, c.deploymentPath(d.ResourceGroup, d.AccountName, d.Name), q, body, nil)
}

func (c *restClient) UpdateDeploymentCapacity(ctx context.Context, resourceGroup, account, name string, capacity int32) error {
	body := map[string]interface{}{
		"sku": map[string]interface{}{"capacity": capacity},
	}
	q := url.Values{"api-version": {accountAPIVersion}}
	return c.do(ctx, "UpdateDeploymentCapacity", http.MethodPatch, c.deploymentPath(resourceGroup, account, name), q, body, nil)
}

func (c *restClient) DeleteDeployment(ctx context.Context, resourceGroup, account, name string) error {
	q := url.Values{"api-version": {accountAPIVersion}}
	return c.do(ctx, "DeleteDeployment", http.MethodDelete, c.deploymentPath(resourceGroup, account, name), q, nil, nil)
}

// modelCapacityList is the wire shape of the model capacities query.
type modelCapacityList struct {
	Value []struct {
		Location   string `json:"location"`
		Properties struct {
			Model struct {
				Name    string `json:"name"`
				Version string `json:"version"`
			} `json:"model"`
			SKUName           string `json:"skuName"`
			AvailableCapacity int32  `json:"availableCapacity"`
		} `json:"properties"`
	} `json:"value"`
}

func (c *restClient) GetModelCapacities(ctx context.Context, location string, model types.ModelInfo, skuName string) (int32, error) {
	path := fmt.Sprintf("/subscriptions/%s/providers/Microsoft.CognitiveServices/modelCapacities", c.cfg.SubscriptionID)
	q := url.Values{
		"api-version":  {accountAPIVersion},
		"modelFormat":  {model.Format},
		"modelName":    {model.Name},
		"modelVersion": {model.Version},
	}
	var list modelCapacityList
	if err := c.do(ctx, "GetModelCapacities", http.MethodGet, path, q, nil, &list); err != nil {
		return 0, err
	}
	for _, item := range list.Value {
		if strings.EqualFold(item.Location, location) && strings.EqualFold(item.Properties.SKUName, skuName) {
			return item.Properties.AvailableCapacity, nil
		}
	}
	return 0, nil
}

// capacityEstimate is the wire shape of the estimation response.
type capacityEstimate struct {
	EstimatedCapacity struct {
		Value           int32 `json:"value"`
		DeployableValue int32 `json:"deployableValue"`
	} `json:"estimatedCapacity"`
}

func (c *restClient) EstimateModelCapacity(ctx context.Context, req types.CapacityRequest) (int32, error) {
	path := fmt.Sprintf("/subscriptions/%s/providers/Microsoft.CognitiveServices/calculateModelCapacity", c.cfg.SubscriptionID)
	q := url.Values{"api-version": {accountAPIVersion}}
	body := map[string]interface{}{
		"model": map[string]string{
			"format":  req.Model.Format,
			"name":    req.Model.Name,
			"version": req.Model.Version,
		},
		"skuName":   req.SKUName,
		"workloads": req.Workloads,
	}
	var est capacityEstimate
	if err := c.do(ctx, "EstimateModelCapacity", http.MethodPost, path, q, body, &est); err != nil {
		return 0, err
	}
	return est.EstimatedCapacity.DeployableValue, nil
}

// metricsResponse is the wire shape of the metrics query.
type metricsResponse struct {
	Value []struct {
		Name struct {
			Value string `json:"value"`
		} `json:"name"`
		Timeseries []struct {
			MetadataValues []struct {
				Name struct {
					Value string `json:"value"`
				} `json:"name"`
				Value string `json:"value"`
			} `json:"metadatavalues"`
			Data []struct {
				TimeStamp time.Time `json:"timeStamp"`
				Total     float64   `json:"total"`
				Count     float64   `json:"count"`
			} `json:"data"`
		} `json:"timeseries"`
	} `json:"value"`
}

func (c *restClient) ListMetrics(ctx context.Context, resourceID string, window types.UsageWindow, metricNames []string, dimension string, dimensionValues []string) ([]MetricSeries, error) {
	clauses := make([]string, 0, len(dimensionValues))
	for _, v := range dimensionValues {
		clauses = append(clauses, fmt.Sprintf("%s eq '%s'", dimension, v))
	}
	q := url.Values{
		"api-version": {metricsAPIVersion},
		"metricnames": {strings.Join(metricNames, ",")},
		"timespan":    {fmt.Sprintf("%s/%s", window.StartUTC.UTC().Format(time.RFC3339), window.EndUTC.UTC().Format(time.RFC3339))},
		"interval":    {"PT1H"},
		"aggregation": {"Total,Count"},
		"$filter":     {strings.Join(clauses, " or ")},
	}
	path := resourceID + "/providers/microsoft.insights/metrics"
	var res metricsResponse
	if err := c.do(ctx, "ListMetrics", http.MethodGet, path, q, nil, &res); err != nil {
		return nil, err
	}

	var series []MetricSeries
	for _, metric := range res.Value {
		for _, ts := range metric.Timeseries {
			s := MetricSeries{Metric: metric.Name.Value}
			for _, md := range ts.MetadataValues {
				if strings.EqualFold(md.Name.Value, dimension) {
					s.Dimension = md.Value
				}
			}
			for _, p := range ts.Data {
				s.Points = append(s.Points, types.MetricPoint{Timestamp: p.TimeStamp, Total: p.Total, Count: p.Count})
			}
			series = append(series, s)
		}
	}
	return series, nil
}
