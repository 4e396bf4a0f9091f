package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/amp-labs/workflow-core/bus"
	"github.com/amp-labs/workflow-core/config"
	"github.com/amp-labs/workflow-core/plugins"
	"github.com/amp-labs/workflow-core/statemachine"
	"github.com/amp-labs/workflow-core/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer

	root := newRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)

	err := root.ExecuteContext(t.Context())

	return stdout.String(), err
}

func decodeLines(t *testing.T, out string) []map[string]any {
	t.Helper()

	var lines []map[string]any

	for _, raw := range strings.Split(strings.TrimSpace(out), "\n") {
		var line map[string]any
		require.NoError(t, json.Unmarshal([]byte(raw), &line))

		lines = append(lines, line)
	}

	return lines
}

func TestValidate(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "validate", "testdata/case.yaml", "--plugins", "testdata/plugins.yaml")
	require.NoError(t, err)

	assert.Contains(t, out, `definition "case" is valid: 4 states, 2 plugins`)
	assert.Contains(t, out, "host action: audit")
	assert.NotContains(t, out, "host action: log")
}

func TestValidateFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		wantErr error
	}{
		{
			name:    "broken definition",
			args:    []string{"validate", "testdata/broken.yaml"},
			wantErr: statemachine.ErrInitialStateNotFound,
		},
		{
			name:    "plugin bound to unknown state",
			args:    []string{"validate", "testdata/case.yaml", "-p", "testdata/stray-plugins.yaml"},
			wantErr: plugins.ErrUnknownStateName,
		},
		{
			name:    "negative callback depth flag",
			args:    []string{"validate", "testdata/case.yaml", "--max-callback-depth=-1"},
			wantErr: config.ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := execute(t, tt.args...)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := execute(t, "validate")
	require.Error(t, err)
}

func TestEnvFileIsLoaded(t *testing.T) {
	// Restored to unset when the test ends; godotenv only fills unset keys.
	t.Setenv("WORKFLOW_STORE_KIND", "")
	require.NoError(t, os.Unsetenv("WORKFLOW_STORE_KIND"))

	envFile := filepath.Join(t.TempDir(), "workflow.env")
	require.NoError(t, os.WriteFile(envFile, []byte("WORKFLOW_STORE_KIND=etcd\n"), 0o600))

	_, err := execute(t, "validate", "testdata/case.yaml", "--env-file", envFile)
	require.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = execute(t, "validate", "testdata/case.yaml", "--env-file", filepath.Join(t.TempDir(), "missing.env"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestGraph(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "graph", "testdata/case.yaml", "--direction", "LR", "--highlight", "review,scoring")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "```mermaid\nstateDiagram-v2\n"))
	assert.Contains(t, out, "direction LR")
	assert.Contains(t, out, "[*] --> review")
	assert.Contains(t, out, "classDef highlighted")
}

func TestRun(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "run", "testdata/case.yaml",
		"--plugins", "testdata/plugins.yaml",
		"--events", "testdata/events.yaml",
		"--event", "NEXT",
		"--runtime-id", "wf-cli")
	require.NoError(t, err)

	lines := decodeLines(t, out)
	require.NotEmpty(t, lines)

	var seen []string

	for _, line := range lines[:len(lines)-1] {
		seen = append(seen, line["notification"].(string)+":"+line["type"].(string)) //nolint:forcetypeassert
	}

	assert.Equal(t, []string{
		bus.StateUpdate + ":" + statemachine.EventUpdateContext,
		bus.StateUpdate + ":SCORE",
		"CASE_SCORED:CASE_SCORED",
		bus.StateUpdate + ":NEXT",
	}, seen)

	final := lines[len(lines)-1]
	assert.Equal(t, "wf-cli", final["runtimeId"])
	assert.Equal(t, "done", final["state"])
	assert.Equal(t, map[string]any{
		"entity":        map[string]any{"id": "e-7"},
		"pluginsOutput": map[string]any{"summary": map[string]any{"entityId": "e-7"}},
	}, final["context"])
}

func TestRunOffline(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "run", "testdata/case.yaml",
		"--plugins", "testdata/vendor-plugins.yaml",
		"--event", "SCORE",
		"--offline")
	require.NoError(t, err)

	lines := decodeLines(t, out)
	final := lines[len(lines)-1]
	assert.Equal(t, "done", final["state"])

	output := final["context"].(map[string]any)["pluginsOutput"].(map[string]any)["verify"].(map[string]any) //nolint:forcetypeassert
	assert.Equal(t, "ERROR", output["status"])
	assert.Contains(t, output["error"], "outbound http is disabled")
}

func TestRunFailures(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "run", "testdata/case.yaml")
	require.ErrorIs(t, err, errNoEvents)

	_, err = execute(t, "run", "testdata/case.yaml", "-e", "ARCHIVE")
	require.ErrorIs(t, err, workflow.ErrEventNotAllowed)
}

func TestReferencedActions(t *testing.T) {
	t.Parallel()

	def, err := statemachine.LoadDefinition("testdata/case.yaml")
	require.NoError(t, err)

	assert.Equal(t, []string{"audit"}, referencedActions(def))
	assert.Len(t, hostActions(def), 1)
}
