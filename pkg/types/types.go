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

package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ModelInfo identifies a hosted model by name, version and publishing format.
type ModelInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Format  string `json:"format"`
}

// Deployment is a provisioned-capacity model instance as reported by the
// provider. Capacity is expressed in PTUs. SKUName is immutable once the
// deployment exists.
type Deployment struct {
	ResourceGroup string    `json:"resourceGroup"`
	AccountName   string    `json:"accountName"`
	Name          string    `json:"name"`
	Model         ModelInfo `json:"model"`
	SKUName       string    `json:"skuName"`
	Capacity      int32     `json:"capacity"`
}

// MetricPoint is one aggregated hourly sample: Total is the summed metric
// value, Count the number of requests contributing to it.
type MetricPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Total     float64   `json:"total"`
	Count     float64   `json:"count"`
}

// UsageWindow bounds a metrics query. StartUTC/EndUTC select which calendar
// days are queried; StartHour/EndHour re-apply as a recurring daily clock
// window on every day in that span. EndHour <= StartHour means the window
// wraps past midnight into the next day.
type UsageWindow struct {
	StartUTC  time.Time
	EndUTC    time.Time
	StartHour int
	EndHour   int
}

// Contains reports whether ts falls inside the recurring daily clock window.
func (w UsageWindow) Contains(ts time.Time) bool {
	day := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, ts.Location())
	offset := ts.Sub(day)
	start := time.Duration(w.StartHour) * time.Hour
	end := time.Duration(w.EndHour) * time.Hour
	if w.EndHour <= w.StartHour {
		// Window wraps past midnight: a sample belongs either to the
		// tail of the window opened the previous day or to the head of
		// the one opening today.
		return offset >= start || offset < end
	}
	return offset >= start && offset < end
}

// WorkloadProfile is the derived demand signal for one workload. All fields
// are rounded up so the downstream estimate leans toward over-provisioning.
type WorkloadProfile struct {
	Workload           string `json:"workload"`
	RequestsPerMinute  int64  `json:"requestsPerMinute"`
	AvgPromptTokens    int64  `json:"avgPromptTokens"`
	AvgGeneratedTokens int64  `json:"avgGeneratedTokens"`
}

// CapacityRequest is the input to the provider's capacity estimation call.
type CapacityRequest struct {
	Model     ModelInfo         `json:"model"`
	SKUName   string            `json:"skuName"`
	Workloads []WorkloadProfile `json:"workloads"`
}

// TriggerParams carries the per-invocation parameters handed over by the
// external scheduler.
type TriggerParams struct {
	SubscriptionID   string `json:"subscriptionId" validate:"required"`
	ResourceGroup    string `json:"resourceGroup" validate:"required"`
	AccountName      string `json:"accountName" validate:"required"`
	DeploymentName   string `json:"deploymentName" validate:"required"`
	ModelName        string `json:"modelName" validate:"required"`
	ModelVersion     string `json:"modelVersion" validate:"required"`
	ModelFormat      string `json:"modelFormat" validate:"required"`
	SKUName          string `json:"skuName" validate:"required"`
	Location         string `json:"location"`
	// Capacity is the explicit manual target; 0 means unset.
	Capacity int32 `json:"capacity" validate:"gte=0"`
	// CapacityVariable names the variable holding a calculated capacity.
	CapacityVariable string `json:"capacityVariable"`
	WebhookURL       string `json:"webhookUrl"`
}

var validate = validator.New()

// Validate checks required fields and the deployment naming rule: the
// deployment name must start with the model name.
func (p TriggerParams) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid trigger parameters: %w", err)
	}
	if !strings.HasPrefix(p.DeploymentName, p.ModelName) {
		return fmt.Errorf("deployment name %q must start with model name %q", p.DeploymentName, p.ModelName)
	}
	return nil
}

// Model assembles the ModelInfo from the trigger parameters.
func (p TriggerParams) Model() ModelInfo {
	return ModelInfo{Name: p.ModelName, Version: p.ModelVersion, Format: p.ModelFormat}
}
