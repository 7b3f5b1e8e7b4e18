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

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// WindowDefinition configures the recurring usage window the collector
// queries: how many days back to look and which daily clock range to keep.
type WindowDefinition struct {
	LookbackDays int `yaml:"lookbackDays"`
	StartHour    int `yaml:"startHour"`
	EndHour      int `yaml:"endHour"`
}

// Definition is the on-disk description of one managed capacity resource.
type Definition struct {
	ResourceGroupName string `yaml:"resourceGroupName"`
	AccountName       string `yaml:"accountName"`
	Location          string `yaml:"location"`

	// Variable names read through the VariableStore.
	CalculatedCapacityVariable string `yaml:"calculatedCapacityVariable"`
	BaselineCapacityVariable   string `yaml:"baselineCapacityVariable"`
	WebhookURLVariable         string `yaml:"webhookUrlVariable"`

	// Workloads enumerates the deployment names whose usage feeds the
	// estimator. Empty means the triggered deployment only.
	Workloads []string `yaml:"workloads"`

	Window WindowDefinition `yaml:"window"`
}

// LoadDefinition reads and validates a resource definition file.
func LoadDefinition(path string) (*Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read resource definition: %w", err)
	}
	var def Definition
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("parse resource definition %s: %w", path, err)
	}
	if def.ResourceGroupName == "" || def.AccountName == "" {
		return nil, fmt.Errorf("resource definition %s must name a resource group and account", path)
	}
	if def.Window.StartHour < 0 || def.Window.StartHour > 23 || def.Window.EndHour < 0 || def.Window.EndHour > 23 {
		return nil, fmt.Errorf("resource definition %s window hours must be within 0-23", path)
	}
	if def.Window.LookbackDays <= 0 {
		def.Window.LookbackDays = 7
	}
	return &def, nil
}
