// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	TriggerOnce    = "once"
	TriggerCron    = "cron"
	TriggerCamunda = "camunda"

	StoreDriverPostgres = "postgres"
	StoreDriverDynamoDB = "dynamodb"

	Stage3PolicyRelativeToStage2      = "relative_to_stage2"
	Stage3PolicyRelativeToApplication = "relative_to_application"

	DeadlineAnchorRender = "render"
	DeadlineAnchorStage2 = "stage2"
)

// Load reads configs/config.yaml, merges configs/config.<APP_ENVIRONMENT>.yaml
// on top and lets environment variables override individual keys.
func Load() (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig() // ignore error if not found

	return finish(v)
}

// LoadFromFile loads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return finish(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setCampaignDefaults(v)
	return v
}

// setCampaignDefaults registers defaults for numeric campaign settings where
// an explicit 0 is meaningful (send on the same day, no throttle pause).
func setCampaignDefaults(v *viper.Viper) {
	v.SetDefault("campaign.stage2_after_days", 1)
	v.SetDefault("campaign.stage3_after_stage2_days", 7)
	v.SetDefault("campaign.stage3_after_applied_days", 8)
	v.SetDefault("campaign.deadline_days", 7)
	v.SetDefault("campaign.sends_per_pause", 14)
	v.SetDefault("campaign.pause_ms", 1000)
}

func finish(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// findProjectRoot walks up from the working directory looking for go.mod.
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
			expanded := os.ExpandEnv(strVal)
			if expanded != strVal && expanded != "" {
				v.Set(key, expanded)
			}
		}
	}
}

// overrideEmptyConfig fills secrets that deployments commonly pass as bare
// environment variables rather than through the config tree.
func overrideEmptyConfig(cfg *Config) {
	if cfg.Database.Postgres.User == "" {
		if val := os.Getenv("DB_USER"); val != "" {
			cfg.Database.Postgres.User = val
		}
	}
	if cfg.Database.Postgres.Password == "" {
		if val := os.Getenv("DB_PASSWORD"); val != "" {
			cfg.Database.Postgres.Password = val
		}
	}
	if cfg.Database.Redis.Password == "" {
		if val := os.Getenv("REDIS_PASSWORD"); val != "" {
			cfg.Database.Redis.Password = val
		}
	}
	if cfg.AWS.Region == "" {
		if val := os.Getenv("AWS_REGION"); val != "" {
			cfg.AWS.Region = val
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "followup-dispatcher"
	}
	if cfg.App.Trigger == "" {
		cfg.App.Trigger = TriggerOnce
	}
	if cfg.App.HTTPListen == "" {
		cfg.App.HTTPListen = ":8080"
	}

	if cfg.Camunda.MaxJobsActive == 0 {
		cfg.Camunda.MaxJobsActive = 1
	}
	if cfg.Camunda.Timeout == 0 {
		cfg.Camunda.Timeout = 30000
	}
	if cfg.Camunda.RequestTimeout == 0 {
		cfg.Camunda.RequestTimeout = 30000
	}

	c := &cfg.Campaign
	if c.ID == "" {
		c.ID = "ai-accelerator"
	}
	if c.List == "" {
		c.List = c.ID + "-followup"
	}
	if c.Schedule == "" {
		c.Schedule = "@daily"
	}
	if c.Stage3Policy == "" {
		c.Stage3Policy = Stage3PolicyRelativeToStage2
	}
	if c.DeadlineAnchor == "" {
		c.DeadlineAnchor = DeadlineAnchorStage2
	}
	if c.TemplateDir == "" {
		c.TemplateDir = "./templates"
	}
	if c.Stage2Subject == "" {
		c.Stage2Subject = "💵 Scholarship Granted for the 2026 AI Accelerator"
	}
	if c.Stage3Subject == "" {
		c.Stage3Subject = "⏰ Scholarship Deadline Today for the 2026 AI Accelerator"
	}
	if c.ReplyTo == "" {
		c.ReplyTo = c.FromAddress
	}
	if c.BCC == "" {
		c.BCC = c.ReplyTo
	}
	if c.RunTimeout == 0 {
		c.RunTimeout = 900000
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = StoreDriverPostgres
	}
	if cfg.Store.PostgresTable == "" {
		cfg.Store.PostgresTable = "campaign_applications"
	}
	if cfg.Store.DynamoDB.KeyPrefix == "" {
		cfg.Store.DynamoDB.KeyPrefix = "application#"
	}

	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 5
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 2
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.Redis.DedupeTTLHours == 0 {
		cfg.Database.Redis.DedupeTTLHours = 24 * 30
	}
	if cfg.Database.Elasticsearch.Index == "" {
		cfg.Database.Elasticsearch.Index = "followup-deliveries"
	}

	if cfg.AWS.Region == "" {
		cfg.AWS.Region = "us-east-1"
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = cfg.App.Name
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	for key, worker := range cfg.Workers {
		if worker.MaxJobsActive == 0 {
			worker.MaxJobsActive = 1
		}
		if worker.Timeout == 0 {
			worker.Timeout = c.RunTimeout
		}
		if worker.MaxRetries == 0 {
			worker.MaxRetries = 3
		}
		cfg.Workers[key] = worker
	}
}

func validateConfig(cfg *Config) error {
	switch cfg.App.Trigger {
	case TriggerOnce, TriggerCron:
	case TriggerCamunda:
		if cfg.Camunda.BrokerAddress == "" {
			return fmt.Errorf("camunda.broker_address is required for the camunda trigger")
		}
	default:
		return fmt.Errorf("app.trigger must be one of %q, %q, %q", TriggerOnce, TriggerCron, TriggerCamunda)
	}

	c := cfg.Campaign
	switch c.Stage3Policy {
	case Stage3PolicyRelativeToStage2, Stage3PolicyRelativeToApplication:
	default:
		return fmt.Errorf("campaign.stage3_policy must be %q or %q", Stage3PolicyRelativeToStage2, Stage3PolicyRelativeToApplication)
	}
	switch c.DeadlineAnchor {
	case DeadlineAnchorRender, DeadlineAnchorStage2:
	default:
		return fmt.Errorf("campaign.deadline_anchor must be %q or %q", DeadlineAnchorRender, DeadlineAnchorStage2)
	}
	if c.Stage2AfterDays < 0 || c.Stage3AfterStage2Days < 0 || c.Stage3AfterAppliedDays < 0 {
		return fmt.Errorf("campaign stage thresholds must not be negative")
	}
	if c.SendsPerPause < 0 || c.PauseMillis < 0 {
		return fmt.Errorf("campaign.sends_per_pause and campaign.pause_ms must not be negative")
	}
	if c.FromAddress == "" {
		return fmt.Errorf("campaign.from_address is required")
	}
	if c.UnsubscribeURL == "" {
		return fmt.Errorf("campaign.unsubscribe_url is required")
	}

	switch cfg.Store.Driver {
	case StoreDriverPostgres:
		if cfg.Database.Postgres.Host == "" {
			return fmt.Errorf("database.postgres.host is required")
		}
		if cfg.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres.database is required")
		}
		if cfg.Database.Postgres.User == "" {
			return fmt.Errorf("database.postgres.user is required")
		}
	case StoreDriverDynamoDB:
		if cfg.Store.DynamoDB.Table == "" {
			return fmt.Errorf("store.dynamodb.table is required")
		}
	default:
		return fmt.Errorf("store.driver must be %q or %q", StoreDriverPostgres, StoreDriverDynamoDB)
	}

	if cfg.Database.Redis.Enabled && cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required when redis is enabled")
	}
	if cfg.Database.Elasticsearch.Enabled && len(cfg.Database.Elasticsearch.Addresses) == 0 {
		return fmt.Errorf("database.elasticsearch.addresses is required when elasticsearch is enabled")
	}

	return nil
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}

// GetWorkerConfig retrieves worker-specific configuration with fallback to defaults
func GetWorkerConfig(cfg *Config, workerName string) WorkerConfig {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker
	}

	return WorkerConfig{
		Enabled:       true,
		MaxJobsActive: 1,
		Timeout:       cfg.Campaign.RunTimeout,
		MaxRetries:    3,
	}
}
