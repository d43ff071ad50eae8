package worker

import (
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/relaydesk/taskrelay/custom_errors"
	"gopkg.in/yaml.v3"
	"os"
	"runtime"
	"time"
)

const (
	DefaultPollInterval      = 10 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
)

// Config is the worker's YAML configuration. Environment variables override the file.
type Config struct {
	CoordinatorURL    string         `yaml:"coordinator_url"`
	APIKey            string         `yaml:"api_key"`
	WorkerID          string         `yaml:"worker_id"`
	PollInterval      time.Duration  `yaml:"poll_interval"`
	HeartbeatInterval time.Duration  `yaml:"heartbeat_interval"`
	Info              map[string]any `yaml:"info"`

	Campaign  CampaignConfig  `yaml:"campaign"`
	Directory DirectoryConfig `yaml:"directory"`
}

// CampaignConfig configures outbound delivery. An empty FromEmail keeps messages in the log.
type CampaignConfig struct {
	FromEmail            string        `yaml:"from_email"`
	Subject              string        `yaml:"subject"`
	Region               string        `yaml:"region"`
	DecisionPollInterval time.Duration `yaml:"decision_poll_interval"`
}

// DirectoryConfig points search jobs at a directory endpoint. Search is disabled when URL is empty.
type DirectoryConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// LoadConfig reads path when it is non-empty, applies env overrides and fills defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read worker config: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse worker config %s: %w", path, err)
		}
	}

	if v := os.Getenv("TASKRELAY_URL"); v != "" {
		cfg.CoordinatorURL = v
	}
	if v := os.Getenv("TASKRELAY_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("TASKRELAY_WORKER_ID"); v != "" {
		cfg.WorkerID = v
	}
	if v := os.Getenv("TASKRELAY_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("TASKRELAY_POLL_INTERVAL: %w", err)
		}
		cfg.PollInterval = d
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.WorkerID == "" {
		c.WorkerID = uuid.NewString()
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Info == nil {
		c.Info = map[string]any{}
	}
	if _, ok := c.Info["os"]; !ok {
		c.Info["os"] = runtime.GOOS
	}
	if _, ok := c.Info["hostname"]; !ok {
		if host, err := os.Hostname(); err == nil {
			c.Info["hostname"] = host
		}
	}
}

func (c *Config) validate() error {
	validationErrs := &custom_errors.ValidationError{}
	if c.CoordinatorURL == "" {
		validationErrs.Add(errors.New("coordinator_url is required"))
	}
	if c.APIKey == "" {
		validationErrs.Add(errors.New("api_key is required"))
	}
	if validationErrs.HasError() {
		return validationErrs
	}
	return nil
}
