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
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azureops/ptu-reconciler/pkg/types"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{
		SubscriptionID: "sub-1",
		BaseURL:        srv.URL,
		Token:          StaticTokenSource("test-token"),
	})
}

func TestShowDeployment(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("x-ms-correlation-request-id"))
		assert.Contains(t, r.URL.Path, "/resourceGroups/rg-ptu/providers/Microsoft.CognitiveServices/accounts/aoai-prod/deployments/gpt-4o-ptu")

		_, _ = fmt.Fprint(w, `{
			"name": "gpt-4o-ptu",
			"sku": {"name": "ProvisionedManaged", "capacity": 100},
			"properties": {"model": {"format": "OpenAI", "name": "gpt-4o", "version": "2024-08-06"}}
		}`)
	})

	d, err := client.ShowDeployment(context.Background(), "rg-ptu", "aoai-prod", "gpt-4o-ptu")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-ptu", d.Name)
	assert.Equal(t, "ProvisionedManaged", d.SKUName)
	assert.Equal(t, int32(100), d.Capacity)
	assert.Equal(t, "gpt-4o", d.Model.Name)
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		code     string
		expected Kind
	}{
		{"bad_request", 400, "InvalidRequest", KindBadRequest},
		{"authentication", 401, "", KindAuthentication},
		{"authorization", 403, "AuthorizationFailed", KindAuthorization},
		{"route_not_found", 404, "", KindNotFound},
		{"resource_not_found", 404, "ResourceNotFound", KindResourceNotFound},
		{"deployment_not_found", 404, "DeploymentNotFound", KindResourceNotFound},
		{"quota_exceeded", 409, "InsufficientQuota", KindQuotaExceeded},
		{"conflict", 409, "Conflict", KindConflict},
		{"throttled", 429, "TooManyRequests", KindThrottled},
		{"server_error", 500, "InternalServerError", KindTransient},
		{"bad_gateway", 502, "", KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"error": map[string]string{"code": tt.code, "message": "provider says no"},
				})
			})

			_, err := client.ShowDeployment(context.Background(), "rg", "acct", "dep")
			require.Error(t, err)
			assert.Equal(t, tt.expected, KindOf(err))

			var ce *Error
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.status, ce.Status)
			assert.Equal(t, tt.code, ce.Code)
		})
	}
}

func TestUpdateDeploymentCapacity(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		var body struct {
			SKU struct {
				Capacity int32 `json:"capacity"`
			} `json:"sku"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, int32(150), body.SKU.Capacity)
		w.WriteHeader(http.StatusOK)
	})

	err := client.UpdateDeploymentCapacity(context.Background(), "rg", "acct", "dep", 150)
	assert.NoError(t, err)
}

func TestEstimateModelCapacity(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "calculateModelCapacity")
		var body struct {
			SKUName   string                  `json:"skuName"`
			Workloads []types.WorkloadProfile `json:"workloads"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ProvisionedManaged", body.SKUName)
		require.Len(t, body.Workloads, 1)
		assert.Equal(t, int64(12), body.Workloads[0].RequestsPerMinute)

		_, _ = fmt.Fprint(w, `{"estimatedCapacity": {"value": 95, "deployableValue": 100}}`)
	})

	got, err := client.EstimateModelCapacity(context.Background(), types.CapacityRequest{
		Model:   types.ModelInfo{Name: "gpt-4o", Version: "2024-08-06", Format: "OpenAI"},
		SKUName: "ProvisionedManaged",
		Workloads: []types.WorkloadProfile{
			{Workload: "gpt-4o-ptu", RequestsPerMinute: 12, AvgPromptTokens: 800, AvgGeneratedTokens: 200},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int32(100), got)
}

func TestGetModelCapacities(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "gpt-4o", r.URL.Query().Get("modelName"))
		_, _ = fmt.Fprint(w, `{"value": [
			{"location": "westus", "properties": {"skuName": "ProvisionedManaged", "availableCapacity": 50}},
			{"location": "eastus", "properties": {"skuName": "ProvisionedManaged", "availableCapacity": 300}},
			{"location": "eastus", "properties": {"skuName": "GlobalProvisionedManaged", "availableCapacity": 700}}
		]}`)
	})

	model := types.ModelInfo{Name: "gpt-4o", Version: "2024-08-06", Format: "OpenAI"}
	got, err := client.GetModelCapacities(context.Background(), "eastus", model, "ProvisionedManaged")
	require.NoError(t, err)
	assert.Equal(t, int32(300), got)

	// No matching tuple yields zero, not an error.
	got, err = client.GetModelCapacities(context.Background(), "northeurope", model, "ProvisionedManaged")
	require.NoError(t, err)
	assert.Equal(t, int32(0), got)
}

func TestListMetrics(t *testing.T) {
	window := types.UsageWindow{
		StartUTC:  time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC),
		EndUTC:    time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		StartHour: 9,
		EndHour:   17,
	}

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "PT1H", q.Get("interval"))
		assert.Equal(t, "Total,Count", q.Get("aggregation"))
		assert.Equal(t, "ModelDeploymentName eq 'gpt-4o-ptu' or ModelDeploymentName eq 'gpt-4o-batch'", q.Get("$filter"))
		assert.Equal(t, "2025-03-03T00:00:00Z/2025-03-10T00:00:00Z", q.Get("timespan"))

		_, _ = fmt.Fprint(w, `{"value": [{
			"name": {"value": "ProcessedPromptTokens"},
			"timeseries": [{
				"metadatavalues": [{"name": {"value": "modeldeploymentname"}, "value": "gpt-4o-ptu"}],
				"data": [
					{"timeStamp": "2025-03-04T10:00:00Z", "total": 12000, "count": 40},
					{"timeStamp": "2025-03-04T11:00:00Z", "total": 9000, "count": 30}
				]
			}]
		}]}`)
	})

	series, err := client.ListMetrics(context.Background(), "/subscriptions/sub-1/resourceGroups/rg/providers/Microsoft.CognitiveServices/accounts/acct",
		window, []string{"ProcessedPromptTokens", "GeneratedTokens"}, "ModelDeploymentName", []string{"gpt-4o-ptu", "gpt-4o-batch"})
	require.NoError(t, err)
	require.Len(t, series, 1)
	assert.Equal(t, "ProcessedPromptTokens", series[0].Metric)
	assert.Equal(t, "gpt-4o-ptu", series[0].Dimension)
	require.Len(t, series[0].Points, 2)
	assert.Equal(t, float64(12000), series[0].Points[0].Total)
	assert.Equal(t, float64(40), series[0].Points[0].Count)
}

func TestRefreshCredential(t *testing.T) {
	issued := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Echo back the token the client presented.
		_, _ = fmt.Fprintf(w, `{"name": %q, "sku": {"name": "S", "capacity": 1}, "properties": {"model": {}}}`,
			r.Header.Get("Authorization"))
	}))
	defer srv.Close()

	client := New(Config{
		SubscriptionID: "sub-1",
		BaseURL:        srv.URL,
		Token: func(context.Context) (string, error) {
			issued++
			return fmt.Sprintf("token-%d", issued), nil
		},
	})

	d, err := client.ShowDeployment(context.Background(), "rg", "acct", "dep")
	require.NoError(t, err)
	assert.Equal(t, "Bearer token-1", d.Name)

	// The token is cached until explicitly refreshed.
	d, err = client.ShowDeployment(context.Background(), "rg", "acct", "dep")
	require.NoError(t, err)
	assert.Equal(t, "Bearer token-1", d.Name)

	require.NoError(t, client.RefreshCredential(context.Background()))
	d, err = client.ShowDeployment(context.Background(), "rg", "acct", "dep")
	require.NoError(t, err)
	assert.Equal(t, "Bearer token-2", d.Name)
}
