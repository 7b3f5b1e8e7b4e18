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

// Package capacity validates a requested capacity against the provider's
// reported availability.
package capacity

import (
	"context"

	"k8s.io/klog/v2"

	"github.com/azureops/ptu-reconciler/pkg/cloud"
	"github.com/azureops/ptu-reconciler/pkg/retry"
	"github.com/azureops/ptu-reconciler/pkg/types"
)

// Validator checks a target capacity against the provider-reported ceiling.
type Validator struct {
	client   cloud.Client
	executor *retry.Executor
	policy   retry.Policy
}

// New returns a Validator.
func New(client cloud.Client, executor *retry.Executor, policy retry.Policy) *Validator {
	return &Validator{client: client, executor: executor, policy: policy}
}

// Validate fails only when the provider reports a positive available figure
// lower than requested. A blank location skips the check; a failing query or
// a non-positive figure logs a warning and lets the caller proceed — the
// provider's own mutating call remains the final authority.
func (v *Validator) Validate(ctx context.Context, location string, model types.ModelInfo, skuName string, requested int32) error {
	if location == "" {
		klog.V(3).InfoS("No location resolved, skipping availability check",
			"model", model.Name, "sku", skuName)
		return nil
	}

	available, err := retry.Do(v.executor, "GetModelCapacities", v.policy, func() (int32, error) {
		return v.client.GetModelCapacities(ctx, location, model, skuName)
	})
	if err != nil {
		klog.Warningf("Availability check for %s/%s in %s failed, proceeding without it: %v",
			model.Name, skuName, location, err)
		return nil
	}
	if available <= 0 {
		klog.Warningf("Provider reported no availability figure for %s/%s in %s, proceeding without it",
			model.Name, skuName, location)
		return nil
	}
	if requested > available {
		return cloud.NewValidationError("ValidateCapacity",
			"insufficient capacity: requested %d PTUs but only %d available for %s/%s in %s",
			requested, available, model.Name, skuName, location)
	}
	klog.V(3).InfoS("Requested capacity fits provider availability",
		"requested", requested, "available", available, "location", location)
	return nil
}
