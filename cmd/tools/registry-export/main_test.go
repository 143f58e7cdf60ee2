package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"followup-dispatcher/pkg/registry"
)

func TestRun_Export(t *testing.T) {
	path := filepath.Join(t.TempDir(), "configs", "activity-registry.json")
	var out bytes.Buffer

	code := run([]string{"export", "-out", path}, &out)

	require.Equal(t, 0, code, out.String())
	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var reg registry.ActivityRegistry
	require.NoError(t, json.Unmarshal(raw, &reg))
	require.Len(t, reg.Activities, 1)
	assert.Equal(t, "followup-dispatch", reg.Activities[0].TaskType)
}

func TestRun_ExportStdout(t *testing.T) {
	var out bytes.Buffer
	assert.Equal(t, 0, run([]string{"export", "-out", "-"}, &out))
	assert.Contains(t, out.String(), `"campaign.followup-dispatch"`)
}

func TestRun_Validate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(good, []byte(`{"campaignId":"ai-accelerator"}`), 0o644))
	require.NoError(t, os.WriteFile(bad, []byte(`{"campaignId":7}`), 0o644))

	var out bytes.Buffer
	assert.Equal(t, 0, run([]string{"validate", "-vars", good}, &out))
	assert.Equal(t, 2, run([]string{"validate", "-vars", bad}, &out))
	assert.Equal(t, 1, run([]string{"validate", "-vars", good, "-taskType", "unknown"}, &out))
	assert.Equal(t, 1, run([]string{"validate"}, &out))
}

func TestRun_Usage(t *testing.T) {
	var out bytes.Buffer
	assert.Equal(t, 1, run(nil, &out))
	assert.Equal(t, 1, run([]string{"bogus"}, &out))
	assert.Contains(t, out.String(), "Usage: registry-export")
}
