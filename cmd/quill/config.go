package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the quill configuration file
// (~/.config/quill/config.yaml).
type Config struct {
	HubBaseURL    string `yaml:"hub_base_url"`
	ServerAddress string `yaml:"server_address"`
	LogLevel      string `yaml:"log_level"`
	LogFormat     string `yaml:"log_format"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "quill", "config.yaml")
}

// applyConfig fills command variables from the config file when the
// corresponding flag was not explicitly set.
func applyConfig(c *cli.Command, cfg Config, hubURL *string, addr *string) {
	if cfg.HubBaseURL != "" && hubURL != nil && !c.IsSet("hub-url") {
		*hubURL = cfg.HubBaseURL
	}
	if cfg.ServerAddress != "" && addr != nil && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}

// LoadConfig reads the config file. Returns a zero Config if the file
// doesn't exist or doesn't parse.
func LoadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}
