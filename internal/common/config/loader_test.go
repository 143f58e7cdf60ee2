package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const minimalConfig = `
campaign:
  from_address: hello@example.com
  unsubscribe_url: https://www.innovationbound.com/unsubscribe
database:
  postgres:
    host: localhost
    database: followups
    user: followup
`

func TestLoadFromFile_Defaults(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, TriggerOnce, cfg.App.Trigger)
	assert.Equal(t, "ai-accelerator", cfg.Campaign.ID)
	assert.Equal(t, "ai-accelerator-followup", cfg.Campaign.List)
	assert.Equal(t, 1, cfg.Campaign.Stage2AfterDays)
	assert.Equal(t, 7, cfg.Campaign.Stage3AfterStage2Days)
	assert.Equal(t, 8, cfg.Campaign.Stage3AfterAppliedDays)
	assert.Equal(t, Stage3PolicyRelativeToStage2, cfg.Campaign.Stage3Policy)
	assert.Equal(t, DeadlineAnchorStage2, cfg.Campaign.DeadlineAnchor)
	assert.Equal(t, 14, cfg.Campaign.SendsPerPause)
	assert.Equal(t, 1000, cfg.Campaign.PauseMillis)
	assert.Equal(t, "hello@example.com", cfg.Campaign.ReplyTo)
	assert.Equal(t, "hello@example.com", cfg.Campaign.BCC)
	assert.Equal(t, StoreDriverPostgres, cfg.Store.Driver)
	assert.Equal(t, "campaign_applications", cfg.Store.PostgresTable)
	assert.Equal(t, 5432, cfg.Database.Postgres.Port)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadFromFile_Overrides(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, `
app:
  trigger: cron
campaign:
  id: spring-cohort
  schedule: "0 9 * * *"
  stage3_policy: relative_to_application
  deadline_anchor: render
  from_address: hello@example.com
  reply_to: team@example.com
  unsubscribe_url: https://example.com/unsubscribe
store:
  driver: dynamodb
  dynamodb:
    table: www.innovationbound.com
workers:
  followup-dispatch:
    enabled: true
`))
	require.NoError(t, err)

	assert.Equal(t, TriggerCron, cfg.App.Trigger)
	assert.Equal(t, "spring-cohort-followup", cfg.Campaign.List)
	assert.Equal(t, Stage3PolicyRelativeToApplication, cfg.Campaign.Stage3Policy)
	assert.Equal(t, DeadlineAnchorRender, cfg.Campaign.DeadlineAnchor)
	assert.Equal(t, "team@example.com", cfg.Campaign.BCC)
	assert.Equal(t, "application#", cfg.Store.DynamoDB.KeyPrefix)

	w := GetWorkerConfig(cfg, "followup-dispatch")
	assert.True(t, w.Enabled)
	assert.Equal(t, 3, w.MaxRetries)
	assert.Equal(t, cfg.Campaign.RunTimeout, w.Timeout)
}

func TestLoadFromFile_ExplicitZeroThresholds(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, `
database:
  postgres:
    host: localhost
    database: followups
    user: followup
campaign:
  from_address: hello@example.com
  unsubscribe_url: https://www.innovationbound.com/unsubscribe
  stage2_after_days: 0
  stage3_after_stage2_days: 0
  stage3_after_applied_days: 0
  deadline_days: 0
  sends_per_pause: 0
  pause_ms: 0
`))
	require.NoError(t, err)

	c := cfg.Campaign
	assert.Equal(t, 0, c.Stage2AfterDays)
	assert.Equal(t, 0, c.Stage3AfterStage2Days)
	assert.Equal(t, 0, c.Stage3AfterAppliedDays)
	assert.Equal(t, 0, c.DeadlineDays)
	assert.Equal(t, 0, c.SendsPerPause)
	assert.Equal(t, 0, c.PauseMillis)
}

func TestLoadFromFile_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing from address", `
campaign:
  unsubscribe_url: https://example.com/u
store:
  driver: dynamodb
  dynamodb:
    table: t
`},
		{"unknown trigger", minimalConfig + `
app:
  trigger: hourly
`},
		{"unknown policy", `
campaign:
  from_address: a@example.com
  unsubscribe_url: https://example.com/u
  stage3_policy: weekly
store:
  driver: dynamodb
  dynamodb:
    table: t
`},
		{"camunda without broker", minimalConfig + `
app:
  trigger: camunda
`},
		{"dynamodb without table", `
campaign:
  from_address: a@example.com
  unsubscribe_url: https://example.com/u
store:
  driver: dynamodb
`},
		{"redis without address", minimalConfig + `
  redis:
    enabled: true
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromFile(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadFromFile_ExpandsEnv(t *testing.T) {
	t.Setenv("FOLLOWUP_TEST_FROM", "ops@example.com")

	cfg, err := LoadFromFile(writeConfig(t, `
campaign:
  from_address: ${FOLLOWUP_TEST_FROM}
  unsubscribe_url: https://example.com/u
store:
  driver: dynamodb
  dynamodb:
    table: t
`))
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", cfg.Campaign.FromAddress)
}

func TestGetDuration(t *testing.T) {
	assert.Equal(t, "1.5s", GetDuration(1500).String())
}
