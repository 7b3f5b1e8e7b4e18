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

// Package cloudtest provides a function-field fake for the cloud.Client
// interface used across package tests.
package cloudtest

import (
	"context"

	"github.com/azureops/ptu-reconciler/pkg/cloud"
	"github.com/azureops/ptu-reconciler/pkg/types"
)

// Fake implements cloud.Client via overridable function fields. Calls records
// the operation names in invocation order.
type Fake struct {
	Calls []string

	ShowDeploymentFunc           func(ctx context.Context, resourceGroup, account, name string) (*types.Deployment, error)
	CreateDeploymentFunc         func(ctx context.Context, d types.Deployment) error
	UpdateDeploymentCapacityFunc func(ctx context.Context, resourceGroup, account, name string, capacity int32) error
	DeleteDeploymentFunc         func(ctx context.Context, resourceGroup, account, name string) error
	GetModelCapacitiesFunc       func(ctx context.Context, location string, model types.ModelInfo, skuName string) (int32, error)
	EstimateModelCapacityFunc    func(ctx context.Context, req types.CapacityRequest) (int32, error)
	ListMetricsFunc              func(ctx context.Context, resourceID string, window types.UsageWindow, metricNames []string, dimension string, dimensionValues []string) ([]cloud.MetricSeries, error)
	RefreshCredentialFunc        func(ctx context.Context) error
}

var _ cloud.Client = (*Fake)(nil)

func (f *Fake) record(op string) { f.Calls = append(f.Calls, op) }

// CallCount returns how many times op was invoked.
func (f *Fake) CallCount(op string) int {
	n := 0
	for _, c := range f.Calls {
		if c == op {
			n++
		}
	}
	return n
}

func (f *Fake) ShowDeployment(ctx context.Context, resourceGroup, account, name string) (*types.Deployment, error) {
	f.record("ShowDeployment")
	if f.ShowDeploymentFunc == nil {
		return nil, &cloud.Error{Kind: cloud.KindResourceNotFound, Op: "ShowDeployment"}
	}
	return f.ShowDeploymentFunc(ctx, resourceGroup, account, name)
}

func (f *Fake) CreateDeployment(ctx context.Context, d types.Deployment) error {
	f.record("CreateDeployment")
	if f.CreateDeploymentFunc == nil {
		return nil
	}
	return f.CreateDeploymentFunc(ctx, d)
}

func (f *Fake) UpdateDeploymentCapacity(ctx context.Context, resourceGroup, account, name string, capacity int32) error {
	f.record("UpdateDeploymentCapacity")
	if f.UpdateDeploymentCapacityFunc == nil {
		return nil
	}
	return f.UpdateDeploymentCapacityFunc(ctx, resourceGroup, account, name, capacity)
}

func (f *Fake) DeleteDeployment(ctx context.Context, resourceGroup, account, name string) error {
	f.record("DeleteDeployment")
	if f.DeleteDeploymentFunc == nil {
		return nil
	}
	return f.DeleteDeploymentFunc(ctx, resourceGroup, account, name)
}

func (f *Fake) GetModelCapacities(ctx context.Context, location string, model types.ModelInfo, skuName string) (int32, error) {
	f.record("GetModelCapacities")
	if f.GetModelCapacitiesFunc == nil {
		return 0, nil
	}
	return f.GetModelCapacitiesFunc(ctx, location, model, skuName)
}

func (f *Fake) EstimateModelCapacity(ctx context.Context, req types.CapacityRequest) (int32, error) {
	f.record("EstimateModelCapacity")
	if f.EstimateModelCapacityFunc == nil {
		return 0, nil
	}
	return f.EstimateModelCapacityFunc(ctx, req)
}

func (f *Fake) ListMetrics(ctx context.Context, resourceID string, window types.UsageWindow, metricNames []string, dimension string, dimensionValues []string) ([]cloud.MetricSeries, error) {
	f.record("ListMetrics")
	if f.ListMetricsFunc == nil {
		return nil, nil
	}
	return f.ListMetricsFunc(ctx, resourceID, window, metricNames, dimension, dimensionValues)
}

func (f *Fake) RefreshCredential(ctx context.Context) error {
	f.record("RefreshCredential")
	if f.RefreshCredentialFunc == nil {
		return nil
	}
	return f.RefreshCredentialFunc(ctx)
}
