package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileConfig is the optional YAML configuration file. Environment
// variables fill any credential left empty, matching the original
// dotenv-based workflow.
type fileConfig struct {
	AccessToken string `yaml:"access_token"`
	AdminID     string `yaml:"admin_id"`
	BaseURL     string `yaml:"base_url"`
	TeamID      string `yaml:"team_id"`
	State       string `yaml:"state"`
	LogLevel    string `yaml:"log_level"`
}

// loadConfig reads the config file if it exists. A missing file at the
// default path is not an error; an explicitly requested file must exist.
func loadConfig(path string, explicit bool) (fileConfig, error) {
	var cfg fileConfig

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			cfg.applyEnv()
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv fills empty fields from the environment.
func (c *fileConfig) applyEnv() {
	if c.AccessToken == "" {
		c.AccessToken = os.Getenv("INTERCOM_ACCESS_TOKEN")
	}
	if c.AdminID == "" {
		c.AdminID = os.Getenv("INTERCOM_ADMIN_ID")
	}
	if c.TeamID == "" {
		c.TeamID = os.Getenv("INTERCOM_TEAM_ID")
	}
	if c.BaseURL == "" {
		c.BaseURL = os.Getenv("INTERCOM_BASE_URL")
	}
}
