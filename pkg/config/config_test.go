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
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvStoreMapsVariableNames(t *testing.T) {
	t.Setenv("PTU_CALCULATED_CAPACITY", "120")

	v, ok, err := EnvStore{}.Get(context.Background(), "ptu-calculated-capacity")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "120", v)

	_, ok, err = EnvStore{}.Get(context.Background(), "ptu-missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStaticStore(t *testing.T) {
	s := StaticStore{"a": "1"}

	v, ok, err := s.Get(context.Background(), "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1", v)

	_, ok, _ = s.Get(context.Background(), "b")
	assert.False(t, ok)
}

func writeDefinition(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "resources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefinition(t *testing.T) {
	path := writeDefinition(t, `
resourceGroupName: rg-ptu
accountName: aoai-prod
location: eastus
calculatedCapacityVariable: ptu-calculated-capacity
baselineCapacityVariable: ptu-baseline-capacity
webhookUrlVariable: ptu-webhook-url
workloads:
  - gpt-4o-ptu
  - gpt-4o-batch
window:
  lookbackDays: 14
  startHour: 22
  endHour: 2
`)

	def, err := LoadDefinition(path)
	require.NoError(t, err)
	assert.Equal(t, "rg-ptu", def.ResourceGroupName)
	assert.Equal(t, "aoai-prod", def.AccountName)
	assert.Equal(t, []string{"gpt-4o-ptu", "gpt-4o-batch"}, def.Workloads)
	assert.Equal(t, 14, def.Window.LookbackDays)
	assert.Equal(t, 22, def.Window.StartHour)
	assert.Equal(t, 2, def.Window.EndHour)
}

func TestLoadDefinitionDefaultsLookback(t *testing.T) {
	path := writeDefinition(t, `
resourceGroupName: rg-ptu
accountName: aoai-prod
`)

	def, err := LoadDefinition(path)
	require.NoError(t, err)
	assert.Equal(t, 7, def.Window.LookbackDays)
}

func TestLoadDefinitionRejectsBadInput(t *testing.T) {
	t.Run("missing_account", func(t *testing.T) {
		path := writeDefinition(t, "resourceGroupName: rg-ptu\n")
		_, err := LoadDefinition(path)
		assert.Error(t, err)
	})

	t.Run("hours_out_of_range", func(t *testing.T) {
		path := writeDefinition(t, `
resourceGroupName: rg-ptu
accountName: aoai-prod
window:
  startHour: 24
`)
		_, err := LoadDefinition(path)
		assert.Error(t, err)
	})

	t.Run("missing_file", func(t *testing.T) {
		_, err := LoadDefinition(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
}
