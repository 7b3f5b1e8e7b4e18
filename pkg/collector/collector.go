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

// Package collector fetches and buckets per-deployment usage time series
// from the provider's metrics API.
package collector

import (
	"context"

	"k8s.io/klog/v2"

	"github.com/azureops/ptu-reconciler/pkg/cloud"
	"github.com/azureops/ptu-reconciler/pkg/retry"
	"github.com/azureops/ptu-reconciler/pkg/types"
)

// Metric names exposed by the provider for hosted model deployments.
const (
	MetricPromptTokens    = "ProcessedPromptTokens"
	MetricGeneratedTokens = "GeneratedTokens"
)

// DefaultDimension is the dimension metrics are split on.
const DefaultDimension = "ModelDeploymentName"

// Buckets maps dimension value -> metric name -> retained points.
type Buckets map[string]map[string][]types.MetricPoint

// Collector queries usage metrics through the retry executor.
type Collector struct {
	client   cloud.Client
	executor *retry.Executor
	policy   retry.Policy
}

// New returns a Collector.
func New(client cloud.Client, executor *retry.Executor, policy retry.Policy) *Collector {
	return &Collector{client: client, executor: executor, policy: policy}
}

// Collect issues a single hourly-granularity query over the full window,
// filtered to the given dimension values, and buckets the returned series.
// Points outside the window's recurring daily clock range are discarded.
// A missing or empty metrics response yields an empty result with a warning,
// not an error.
func (c *Collector) Collect(ctx context.Context, resourceID string, window types.UsageWindow, dimension string, dimensionValues []string) (Buckets, error) {
	metricNames := []string{MetricPromptTokens, MetricGeneratedTokens}

	series, err := retry.Do(c.executor, "ListMetrics", c.policy, func() ([]cloud.MetricSeries, error) {
		return c.client.ListMetrics(ctx, resourceID, window, metricNames, dimension, dimensionValues)
	})
	if err != nil {
		return nil, err
	}

	buckets := Buckets{}
	for _, s := range series {
		if s.Dimension == "" {
			klog.Warningf("Metric series %s carries no %s dimension metadata, skipping", s.Metric, dimension)
			continue
		}
		var retained []types.MetricPoint
		for _, p := range s.Points {
			if window.Contains(p.Timestamp) {
				retained = append(retained, p)
			}
		}
		if len(retained) == 0 {
			continue
		}
		if buckets[s.Dimension] == nil {
			buckets[s.Dimension] = map[string][]types.MetricPoint{}
		}
		buckets[s.Dimension][s.Metric] = append(buckets[s.Dimension][s.Metric], retained...)
	}

	if len(buckets) == 0 {
		klog.Warningf("Metrics query for %s returned no usable series in window %02d:00-%02d:00",
			resourceID, window.StartHour, window.EndHour)
	}
	return buckets, nil
}
