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

// Package estimator turns bucketed usage metrics into a recommended
// deployable capacity via the provider's estimation call.
package estimator

import (
	"context"
	"math"
	"sort"

	"k8s.io/klog/v2"

	"github.com/azureops/ptu-reconciler/pkg/cloud"
	"github.com/azureops/ptu-reconciler/pkg/collector"
	"github.com/azureops/ptu-reconciler/pkg/retry"
	"github.com/azureops/ptu-reconciler/pkg/types"
)

// Estimator asks the provider for a capacity recommendation.
type Estimator struct {
	client   cloud.Client
	executor *retry.Executor
	policy   retry.Policy
}

// New returns an Estimator.
func New(client cloud.Client, executor *retry.Executor, policy retry.Policy) *Estimator {
	return &Estimator{client: client, executor: executor, policy: policy}
}

// profileFromBuckets derives a workload profile from one dimension value's
// buckets. It returns false when the workload has to be skipped: no
// prompt-token series, no buckets, or no requests observed. All rates are
// rounded up so the estimate errs toward over-provisioning.
func profileFromBuckets(workload string, buckets map[string][]types.MetricPoint) (types.WorkloadProfile, bool) {
	prompt := buckets[collector.MetricPromptTokens]
	if len(prompt) == 0 {
		klog.Warningf("Workload %s has no prompt-token samples in the window, skipping", workload)
		return types.WorkloadProfile{}, false
	}

	var totalRequests, totalPromptTokens, totalGeneratedTokens float64
	bucketCount := 0
	for _, p := range prompt {
		// Samples with no token volume carry no demand signal.
		if p.Total <= 0 {
			continue
		}
		totalRequests += p.Count
		totalPromptTokens += p.Total
		bucketCount++
	}
	for _, p := range buckets[collector.MetricGeneratedTokens] {
		if p.Total <= 0 {
			continue
		}
		totalGeneratedTokens += p.Total
	}

	if bucketCount == 0 || totalRequests <= 0 {
		klog.Warningf("Workload %s has no non-zero samples in the window, skipping", workload)
		return types.WorkloadProfile{}, false
	}

	return types.WorkloadProfile{
		Workload:           workload,
		RequestsPerMinute:  int64(math.Ceil(totalRequests / float64(bucketCount*60))),
		AvgPromptTokens:    int64(math.Ceil(totalPromptTokens / totalRequests)),
		AvgGeneratedTokens: int64(math.Ceil(totalGeneratedTokens / totalRequests)),
	}, true
}

// Estimate builds workload profiles from the buckets and invokes the
// provider's estimation call. Zero surviving workloads is a fatal validation
// failure. A returned 0 means no capacity could be computed and must be
// treated by callers as "do not act".
func (e *Estimator) Estimate(ctx context.Context, model types.ModelInfo, skuName string, buckets collector.Buckets) (int32, error) {
	workloads := make([]string, 0, len(buckets))
	for w := range buckets {
		workloads = append(workloads, w)
	}
	sort.Strings(workloads)

	profiles := make([]types.WorkloadProfile, 0, len(workloads))
	for _, w := range workloads {
		if profile, ok := profileFromBuckets(w, buckets[w]); ok {
			profiles = append(profiles, profile)
		}
	}
	if len(profiles) == 0 {
		return 0, cloud.NewValidationError("Estimate",
			"no workload produced a usable demand profile for model %s", model.Name)
	}

	req := types.CapacityRequest{Model: model, SKUName: skuName, Workloads: profiles}
	capacity, err := retry.Do(e.executor, "EstimateModelCapacity", e.policy, func() (int32, error) {
		return e.client.EstimateModelCapacity(ctx, req)
	})
	if err != nil {
		return 0, err
	}
	klog.V(3).InfoS("Capacity estimated", "model", model.Name, "sku", skuName,
		"workloads", len(profiles), "capacity", capacity)
	return capacity, nil
}
