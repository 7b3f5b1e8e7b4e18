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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUsageWindowContains(t *testing.T) {
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		startHour int
		endHour   int
		ts        time.Time
		expected  bool
	}{
		{
			name:      "wraparound_includes_late_evening",
			startHour: 22, endHour: 2,
			ts:       day.Add(23*time.Hour + 30*time.Minute),
			expected: true,
		},
		{
			name:      "wraparound_includes_next_day_early_morning",
			startHour: 22, endHour: 2,
			ts:       day.AddDate(0, 0, 1).Add(1 * time.Hour),
			expected: true,
		},
		{
			name:      "wraparound_excludes_midday",
			startHour: 22, endHour: 2,
			ts:       day.Add(10 * time.Hour),
			expected: false,
		},
		{
			name:      "wraparound_excludes_end_hour",
			startHour: 22, endHour: 2,
			ts:       day.Add(2 * time.Hour),
			expected: false,
		},
		{
			name:      "plain_window_includes_start",
			startHour: 9, endHour: 17,
			ts:       day.Add(9 * time.Hour),
			expected: true,
		},
		{
			name:      "plain_window_excludes_end",
			startHour: 9, endHour: 17,
			ts:       day.Add(17 * time.Hour),
			expected: false,
		},
		{
			name:      "plain_window_excludes_early_morning",
			startHour: 9, endHour: 17,
			ts:       day.Add(1 * time.Hour),
			expected: false,
		},
		{
			name:      "equal_hours_wrap_covers_full_day",
			startHour: 0, endHour: 0,
			ts:       day.Add(13 * time.Hour),
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := UsageWindow{StartHour: tt.startHour, EndHour: tt.endHour}
			assert.Equal(t, tt.expected, w.Contains(tt.ts))
		})
	}
}

func validParams() TriggerParams {
	return TriggerParams{
		SubscriptionID: "sub-1",
		ResourceGroup:  "rg-ptu",
		AccountName:    "aoai-prod",
		DeploymentName: "gpt-4o-ptu",
		ModelName:      "gpt-4o",
		ModelVersion:   "2024-08-06",
		ModelFormat:    "OpenAI",
		SKUName:        "ProvisionedManaged",
	}
}

func TestTriggerParamsValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, validParams().Validate())
	})

	t.Run("deployment_name_must_start_with_model_name", func(t *testing.T) {
		p := validParams()
		p.DeploymentName = "ptu-gpt-4o"
		assert.Error(t, p.Validate())
	})

	t.Run("missing_required_field", func(t *testing.T) {
		p := validParams()
		p.AccountName = ""
		assert.Error(t, p.Validate())
	})

	t.Run("negative_capacity_rejected", func(t *testing.T) {
		p := validParams()
		p.Capacity = -1
		assert.Error(t, p.Validate())
	})
}
