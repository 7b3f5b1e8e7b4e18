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

// Package reconciler drives a provisioned-capacity deployment toward the
// state an intended action declares: create, update or delete. The current
// provider state is read fresh on every invocation and mutated through at
// most one call.
package reconciler

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"k8s.io/klog/v2"

	"github.com/azureops/ptu-reconciler/pkg/alert"
	"github.com/azureops/ptu-reconciler/pkg/capacity"
	"github.com/azureops/ptu-reconciler/pkg/cloud"
	"github.com/azureops/ptu-reconciler/pkg/collector"
	"github.com/azureops/ptu-reconciler/pkg/config"
	"github.com/azureops/ptu-reconciler/pkg/estimator"
	"github.com/azureops/ptu-reconciler/pkg/monitor"
	"github.com/azureops/ptu-reconciler/pkg/retry"
	"github.com/azureops/ptu-reconciler/pkg/types"
)

// Action is the intent handed over by the external trigger.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Options configures a Reconciler.
type Options struct {
	// Source names the operation in outbound alerts, typically the
	// scheduled job name.
	Source string
	// WebhookURL is the default alert target; trigger parameters and the
	// resource definition's webhook variable override it.
	WebhookURL string
	// Definition optionally supplies location, usage window, workloads
	// and variable names for the capacity fallback chain.
	Definition *config.Definition
	// Policy governs every retried provider call.
	Policy retry.Policy
}

// Reconciler sequences the collector, estimator and validator around at most
// one mutating provider call per invocation.
type Reconciler struct {
	client    cloud.Client
	vars      config.VariableStore
	alerts    *alert.Dispatcher
	collector *collector.Collector
	estimator *estimator.Estimator
	validator *capacity.Validator
	executor  *retry.Executor
	opts      Options
}

// New wires a Reconciler and its collaborators around one shared executor.
func New(client cloud.Client, vars config.VariableStore, alerts *alert.Dispatcher, executor *retry.Executor, opts Options) *Reconciler {
	if opts.Policy.MaxAttempts == 0 {
		opts.Policy = retry.DefaultPolicy()
	}
	return &Reconciler{
		client:    client,
		vars:      vars,
		alerts:    alerts,
		collector: collector.New(client, executor, opts.Policy),
		estimator: estimator.New(client, executor, opts.Policy),
		validator: capacity.New(client, executor, opts.Policy),
		executor:  executor,
		opts:      opts,
	}
}

// Reconcile performs one action against the deployment the parameters
// identify. Fatal failures are alerted before they are returned.
func (r *Reconciler) Reconcile(ctx context.Context, action Action, params types.TriggerParams) error {
	if err := params.Validate(); err != nil {
		return r.fatal(ctx, action, params, err)
	}

	current, err := r.readCurrent(ctx, params)
	if err != nil {
		return r.fatal(ctx, action, params, err)
	}

	klog.V(3).InfoS("Reconciling deployment", "action", action,
		"deployment", params.DeploymentName, "present", current != nil)

	switch action {
	case ActionCreate:
		err = r.create(ctx, params, current)
	case ActionUpdate:
		err = r.update(ctx, params, current)
	case ActionDelete:
		err = r.delete(ctx, params, current)
	default:
		err = cloud.NewValidationError("Reconcile", "unknown action %q", action)
	}
	if err != nil {
		return r.fatal(ctx, action, params, err)
	}
	monitor.ReconcileTotal.WithLabelValues(string(action), "ok").Inc()
	return nil
}

// readCurrent fetches the deployment, mapping either not-found
// classification to absence.
func (r *Reconciler) readCurrent(ctx context.Context, params types.TriggerParams) (*types.Deployment, error) {
	current, err := retry.Do(r.executor, "ShowDeployment", r.opts.Policy, func() (*types.Deployment, error) {
		return r.client.ShowDeployment(ctx, params.ResourceGroup, params.AccountName, params.DeploymentName)
	})
	if err != nil {
		if cloud.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return current, nil
}

func (r *Reconciler) create(ctx context.Context, params types.TriggerParams, current *types.Deployment) error {
	if current != nil {
		klog.InfoS("Deployment already exists, create is a no-op",
			"deployment", params.DeploymentName, "capacity", current.Capacity)
		r.notify(ctx, params, fmt.Sprintf("create skipped: deployment %s already exists with %d PTUs",
			params.DeploymentName, current.Capacity))
		return nil
	}

	target, err := r.resolveTargetCapacity(ctx, params)
	if err != nil {
		return err
	}

	d := types.Deployment{
		ResourceGroup: params.ResourceGroup,
		AccountName:   params.AccountName,
		Name:          params.DeploymentName,
		Model:         params.Model(),
		SKUName:       params.SKUName,
		Capacity:      target,
	}
	if err := retry.DoVoid(r.executor, "CreateDeployment", r.opts.Policy, func() error {
		return r.client.CreateDeployment(ctx, d)
	}); err != nil {
		return err
	}
	klog.InfoS("Deployment created", "deployment", d.Name, "sku", d.SKUName, "capacity", d.Capacity)
	r.notify(ctx, params, fmt.Sprintf("created deployment %s (%s, %d PTUs)", d.Name, d.SKUName, d.Capacity))
	return nil
}

func (r *Reconciler) delete(ctx context.Context, params types.TriggerParams, current *types.Deployment) error {
	if current == nil {
		klog.InfoS("Deployment absent, delete is a no-op", "deployment", params.DeploymentName)
		r.notify(ctx, params, fmt.Sprintf("delete skipped: deployment %s does not exist", params.DeploymentName))
		return nil
	}
	if err := retry.DoVoid(r.executor, "DeleteDeployment", r.opts.Policy, func() error {
		return r.client.DeleteDeployment(ctx, params.ResourceGroup, params.AccountName, params.DeploymentName)
	}); err != nil {
		return err
	}
	klog.InfoS("Deployment deleted", "deployment", params.DeploymentName)
	r.notify(ctx, params, fmt.Sprintf("deleted deployment %s", params.DeploymentName))
	return nil
}

func (r *Reconciler) update(ctx context.Context, params types.TriggerParams, current *types.Deployment) error {
	if current == nil {
		return cloud.NewValidationError("Update",
			"deployment %s does not exist and cannot be updated", params.DeploymentName)
	}
	// The SKU is immutable once created. A mismatch means the provider
	// state and the declared target have diverged in a way this system
	// must never reconcile silently.
	if current.SKUName != params.SKUName {
		return cloud.NewValidationError("Update",
			"deployment %s has SKU %s but %s was requested; SKU changes are not reconciled",
			params.DeploymentName, current.SKUName, params.SKUName)
	}

	target, err := r.resolveTargetCapacity(ctx, params)
	if err != nil {
		return err
	}
	if current.Capacity == target {
		klog.InfoS("Deployment already at target capacity, update is a no-op",
			"deployment", params.DeploymentName, "capacity", target)
		r.notify(ctx, params, fmt.Sprintf("update skipped: deployment %s already at %d PTUs",
			params.DeploymentName, target))
		return nil
	}

	if err := r.validator.Validate(ctx, r.location(params), params.Model(), params.SKUName, target); err != nil {
		return err
	}

	err = retry.DoVoid(r.executor, "UpdateDeploymentCapacity", r.opts.Policy, func() error {
		return r.client.UpdateDeploymentCapacity(ctx, params.ResourceGroup, params.AccountName, params.DeploymentName, target)
	})
	if err != nil && cloud.IsAuth(err) {
		// The scheduled job's credential can expire mid-run. Refresh it
		// once and resubmit the same request a single time.
		klog.Warningf("Update of %s failed with %s, refreshing credential and retrying once",
			params.DeploymentName, cloud.KindOf(err))
		if refreshErr := r.client.RefreshCredential(ctx); refreshErr != nil {
			return err
		}
		err = r.client.UpdateDeploymentCapacity(ctx, params.ResourceGroup, params.AccountName, params.DeploymentName, target)
	}
	if err != nil {
		return err
	}

	klog.InfoS("Deployment capacity updated", "deployment", params.DeploymentName,
		"from", current.Capacity, "to", target)
	r.notify(ctx, params, fmt.Sprintf("updated deployment %s capacity %d -> %d PTUs",
		params.DeploymentName, current.Capacity, target))
	return nil
}

// resolveTargetCapacity picks the target through a single documented
// priority order: the explicit trigger parameter, then the named calculated
// variable, then a live metrics-driven estimate, then the baseline fallback
// variable. Sources yielding a non-positive or unparseable value are skipped
// with a warning.
func (r *Reconciler) resolveTargetCapacity(ctx context.Context, params types.TriggerParams) (int32, error) {
	if params.Capacity > 0 {
		klog.V(3).InfoS("Using explicit capacity parameter", "capacity", params.Capacity)
		return params.Capacity, nil
	}

	if v, ok := r.variableCapacity(ctx, r.calculatedVariable(params)); ok {
		klog.V(3).InfoS("Using calculated capacity variable", "capacity", v)
		return v, nil
	}

	if est, ok := r.estimateCapacity(ctx, params); ok {
		klog.V(3).InfoS("Using metrics-driven capacity estimate", "capacity", est)
		return est, nil
	}

	if def := r.opts.Definition; def != nil && def.BaselineCapacityVariable != "" {
		if v, ok := r.variableCapacity(ctx, def.BaselineCapacityVariable); ok {
			klog.V(3).InfoS("Using baseline capacity variable", "capacity", v)
			return v, nil
		}
	}

	return 0, cloud.NewValidationError("ResolveCapacity",
		"no capacity source yielded a positive target for deployment %s", params.DeploymentName)
}

func (r *Reconciler) calculatedVariable(params types.TriggerParams) string {
	if params.CapacityVariable != "" {
		return params.CapacityVariable
	}
	if r.opts.Definition != nil {
		return r.opts.Definition.CalculatedCapacityVariable
	}
	return ""
}

func (r *Reconciler) variableCapacity(ctx context.Context, name string) (int32, bool) {
	if name == "" {
		return 0, false
	}
	raw, ok, err := r.vars.Get(ctx, name)
	if err != nil {
		klog.Warningf("Variable %s could not be read, skipping: %v", name, err)
		return 0, false
	}
	if !ok {
		klog.V(3).InfoS("Capacity variable absent", "variable", name)
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || v <= 0 {
		klog.Warningf("Variable %s holds no positive integer capacity (%q), skipping", name, raw)
		return 0, false
	}
	return int32(v), true
}

// estimateCapacity runs the collector and estimator over the configured
// usage window. Validation failures (no usable workload) only disqualify
// this source; transport failures surface as fatal.
func (r *Reconciler) estimateCapacity(ctx context.Context, params types.TriggerParams) (int32, bool) {
	def := r.opts.Definition
	if def == nil {
		return 0, false
	}

	now := time.Now().UTC()
	window := types.UsageWindow{
		StartUTC:  now.AddDate(0, 0, -def.Window.LookbackDays),
		EndUTC:    now,
		StartHour: def.Window.StartHour,
		EndHour:   def.Window.EndHour,
	}
	workloads := def.Workloads
	if len(workloads) == 0 {
		workloads = []string{params.DeploymentName}
	}
	resourceID := fmt.Sprintf("/subscriptions/%s/resourceGroups/%s/providers/Microsoft.CognitiveServices/accounts/%s",
		params.SubscriptionID, params.ResourceGroup, params.AccountName)

	buckets, err := r.collector.Collect(ctx, resourceID, window, collector.DefaultDimension, workloads)
	if err != nil {
		klog.Warningf("Usage collection failed, skipping metrics-driven estimate: %v", err)
		return 0, false
	}
	est, err := r.estimator.Estimate(ctx, params.Model(), params.SKUName, buckets)
	if err != nil {
		klog.Warningf("Capacity estimation failed, skipping metrics-driven estimate: %v", err)
		return 0, false
	}
	if est <= 0 {
		klog.Warningf("Estimator produced no actionable capacity for %s", params.DeploymentName)
		return 0, false
	}
	return est, true
}

func (r *Reconciler) location(params types.TriggerParams) string {
	if params.Location != "" {
		return params.Location
	}
	if r.opts.Definition != nil {
		return r.opts.Definition.Location
	}
	return ""
}

// webhookTarget resolves the alert target: the trigger parameter wins, then
// the definition's webhook variable, then the configured default.
func (r *Reconciler) webhookTarget(ctx context.Context, params types.TriggerParams) string {
	if params.WebhookURL != "" {
		return params.WebhookURL
	}
	if def := r.opts.Definition; def != nil && def.WebhookURLVariable != "" {
		if v, ok, err := r.vars.Get(ctx, def.WebhookURLVariable); err == nil && ok && v != "" {
			return v
		}
	}
	return r.opts.WebhookURL
}

// notify sends an informational alert. Dispatch is best-effort.
func (r *Reconciler) notify(ctx context.Context, params types.TriggerParams, body string) {
	r.alerts.Dispatch(ctx, r.webhookTarget(ctx, params), alert.Message{
		Source:    r.opts.Source,
		Body:      body,
		Timestamp: time.Now().UTC(),
	})
}

// fatal alerts the failure and hands the original error back unchanged.
func (r *Reconciler) fatal(ctx context.Context, action Action, params types.TriggerParams, err error) error {
	monitor.ReconcileTotal.WithLabelValues(string(action), "error").Inc()
	klog.ErrorS(err, "Reconciliation failed", "action", action, "deployment", params.DeploymentName)
	r.notify(ctx, params, fmt.Sprintf("%s of deployment %s failed: %v", action, params.DeploymentName, err))
	return err
}
