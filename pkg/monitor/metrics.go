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

package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ReconcileTotal counts reconciliation outcomes by action.
	ReconcileTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ptu_reconcile_total",
			Help: "Reconciliation invocations by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	// RetryAttempts counts retries (attempts beyond the first) per operation.
	RetryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ptu_retry_attempts_total",
			Help: "Retry attempts consumed per operation",
		},
		[]string{"operation"},
	)

	// AlertsDispatched counts webhook alert dispatch results per provider.
	AlertsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ptu_alerts_dispatched_total",
			Help: "Webhook alerts dispatched by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(ReconcileTotal, RetryAttempts, AlertsDispatched)
}
