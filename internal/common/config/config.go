// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig               `mapstructure:"app"`
	Camunda       CamundaConfig           `mapstructure:"camunda"`
	Campaign      CampaignConfig          `mapstructure:"campaign"`
	Store         StoreConfig             `mapstructure:"store"`
	Database      DatabaseConfig          `mapstructure:"database"`
	AWS           AWSConfig               `mapstructure:"aws"`
	Workers       map[string]WorkerConfig `mapstructure:"workers"`
	Observability ObservabilityConfig     `mapstructure:"observability"`
	Logging       LoggingConfig           `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	// Trigger is one of "once", "cron" or "camunda".
	Trigger    string `mapstructure:"trigger"`
	HTTPListen string `mapstructure:"http_listen"`
}

type CamundaConfig struct {
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

// CampaignConfig drives eligibility, rendering and throttling.
type CampaignConfig struct {
	ID       string `mapstructure:"id"`
	List     string `mapstructure:"list"`
	Schedule string `mapstructure:"schedule"`

	Stage2AfterDays        int    `mapstructure:"stage2_after_days"`
	Stage3Policy           string `mapstructure:"stage3_policy"`
	Stage3AfterStage2Days  int    `mapstructure:"stage3_after_stage2_days"`
	Stage3AfterAppliedDays int    `mapstructure:"stage3_after_applied_days"`

	DeadlineAnchor string `mapstructure:"deadline_anchor"`
	DeadlineDays   int    `mapstructure:"deadline_days"`

	TemplateDir    string `mapstructure:"template_dir"`
	CacheTemplates bool   `mapstructure:"cache_templates"`
	TiersFile      string `mapstructure:"tiers_file"`

	Stage2Subject string `mapstructure:"stage2_subject"`
	Stage3Subject string `mapstructure:"stage3_subject"`

	FromAddress    string `mapstructure:"from_address"`
	ReplyTo        string `mapstructure:"reply_to"`
	BCC            string `mapstructure:"bcc"`
	UnsubscribeURL string `mapstructure:"unsubscribe_url"`

	SendsPerPause int `mapstructure:"sends_per_pause"`
	PauseMillis   int `mapstructure:"pause_ms"`
	RunTimeout    int `mapstructure:"run_timeout"` // milliseconds
}

// StoreConfig selects the record store gateway.
type StoreConfig struct {
	Driver        string         `mapstructure:"driver"` // "postgres" or "dynamodb"
	PostgresTable string         `mapstructure:"postgres_table"`
	DynamoDB      DynamoDBConfig `mapstructure:"dynamodb"`
}

type DynamoDBConfig struct {
	Table     string `mapstructure:"table"`
	KeyPrefix string `mapstructure:"key_prefix"`
	Endpoint  string `mapstructure:"endpoint"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Index     string   `mapstructure:"index"`
}

type RedisConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Address        string `mapstructure:"address"`
	Password       string `mapstructure:"password"`
	DB             int    `mapstructure:"db"`
	DedupeTTLHours int    `mapstructure:"dedupe_ttl_hours"`
}

// AWSConfig holds SES, SNS and DynamoDB settings.
type AWSConfig struct {
	Region string `mapstructure:"region"`
	SES    struct {
		ConfigurationSet string `mapstructure:"configuration_set"`
	} `mapstructure:"ses"`
	SNS struct {
		TopicARN string `mapstructure:"topic_arn"`
	} `mapstructure:"sns"`
}

// WorkerConfig holds the core settings applicable to every Zeebe worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"` // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"`
}

type ObservabilityConfig struct {
	ServiceName    string `mapstructure:"service_name"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
