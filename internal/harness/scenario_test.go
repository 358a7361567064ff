package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario_ValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.yaml")
	content := `
name: test_scenario
description: "Test scenario for validation"
worker: w-1
steps:
  - invoke: wait
    key: w1
    args: 10s
    expect: {suspended: true}
  - advance: 1m30s
  - upgrade: {function: stamp, with: stamp_uuid}
assertions:
  - type: side_effects
    draws: 0
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	s, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", s.Name)
	assert.Equal(t, "w-1", s.Worker)
	require.Len(t, s.Steps, 3)
	assert.Equal(t, "wait", s.Steps[0].Invoke)
	assert.Equal(t, "10s", s.Steps[0].Args)
	assert.True(t, s.Steps[0].Expect.Suspended)
	assert.Equal(t, 90*time.Second, s.Steps[1].Advance)
	assert.Equal(t, &Upgrade{Function: "stamp", With: "stamp_uuid"}, s.Steps[2].Upgrade)
	require.Len(t, s.Assertions, 1)
	require.NotNil(t, s.Assertions[0].Draws)
	assert.Zero(t, *s.Assertions[0].Draws)
}

func TestLoadScenario_DefaultWorker(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: x
description: y
steps:
  - crash: true
`))
	require.NoError(t, err)
	assert.Equal(t, DefaultWorker, s.Worker)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{
			name:    "missing name",
			content: "description: d\nsteps:\n  - crash: true\n",
			errMsg:  "name is required",
		},
		{
			name:    "missing description",
			content: "name: n\nsteps:\n  - crash: true\n",
			errMsg:  "description is required",
		},
		{
			name:    "no steps",
			content: "name: n\ndescription: d\n",
			errMsg:  "steps list is required",
		},
		{
			name:    "two actions in one step",
			content: "name: n\ndescription: d\nsteps:\n  - crash: true\n    resume: true\n",
			errMsg:  "want exactly one action, got 2",
		},
		{
			name:    "empty step",
			content: "name: n\ndescription: d\nsteps:\n  - key: k\n",
			errMsg:  "want exactly one action, got 0",
		},
		{
			name:    "incomplete upgrade",
			content: "name: n\ndescription: d\nsteps:\n  - upgrade: {function: stamp}\n",
			errMsg:  "upgrade needs function and with",
		},
		{
			name:    "unknown assertion",
			content: "name: n\ndescription: d\nsteps:\n  - crash: true\nassertions:\n  - type: vibes\n",
			errMsg:  `unknown type "vibes"`,
		},
		{
			name:    "unknown field",
			content: "name: n\ndescription: d\nflow: []\nsteps:\n  - crash: true\n",
			errMsg:  "failed to parse YAML",
		},
		{
			name:    "bad duration",
			content: "name: n\ndescription: d\nsteps:\n  - advance: soon\n",
			errMsg:  "failed to parse YAML",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
