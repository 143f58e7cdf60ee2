package followupdispatch

import (
	"time"

	"followup-dispatcher/internal/common/config"
)

type Config struct {
	CampaignID    string
	MaxJobsActive int
	Timeout       time.Duration
}

func LoadConfig(cfg *config.Config) *Config {
	w := config.GetWorkerConfig(cfg, TaskType)
	return &Config{
		CampaignID:    cfg.Campaign.ID,
		MaxJobsActive: w.MaxJobsActive,
		Timeout:       config.GetDuration(w.Timeout),
	}
}
