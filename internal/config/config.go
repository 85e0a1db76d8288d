package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the YAML configuration.
type Config struct {
	Version int          `yaml:"version"`
	Global  GlobalConfig `yaml:"global"`
	Chain   ChainConfig  `yaml:"chain"`
	Sinks   []Sink       `yaml:"sinks"`
}

type GlobalConfig struct {
	DBPath       string `yaml:"db_path"`
	PollInterval string `yaml:"poll_interval"`
}

type ChainConfig struct {
	ID                         string `yaml:"id"`
	RPCURL                     string `yaml:"rpc_url"`
	InitialBlockCount          uint64 `yaml:"initial_block_count"`
	StartBlock                 uint64 `yaml:"start_block"`
	CheckDepth                 uint64 `yaml:"check_depth"`
	MaxReorgResolutionAttempts int    `yaml:"max_reorg_resolution_attempts"`
	ReorgWaitSeconds           int    `yaml:"reorg_wait_seconds"`
}

type Sink struct {
	ID         string `yaml:"id"`
	Type       string `yaml:"type"`
	WebhookURL string `yaml:"webhook_url"`
	Template   string `yaml:"template"`
	URL        string `yaml:"url"`
	Method     string `yaml:"method"`
}

var envPattern = regexp.MustCompile(`\${([A-Za-z_][A-Za-z0-9_]*)}`)

// Load reads, interpolates env vars, parses YAML, and validates.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}

	if err := loadDotEnv(path); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	interpolated, err := interpolateEnv(string(raw))
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv(configPath string) error {
	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
	}
	return nil
}

func interpolateEnv(input string) (string, error) {
	missing := []string{}
	out := envPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		missing = append(missing, name)
		return match
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("missing environment variables: %s", strings.Join(dedup(missing), ", "))
	}
	return out, nil
}

// Validate performs small, direct schema checks.
func (c *Config) Validate() error {
	if c.Version == 0 {
		return errors.New("version is required")
	}
	if c.Global.DBPath == "" {
		return errors.New("global.db_path is required")
	}
	if c.Global.PollInterval != "" {
		if _, err := time.ParseDuration(c.Global.PollInterval); err != nil {
			return fmt.Errorf("global.poll_interval: %w", err)
		}
	}
	if err := c.Chain.Validate(); err != nil {
		return fmt.Errorf("chain: %w", err)
	}

	sinkIDs := map[string]struct{}{}
	for i := range c.Sinks {
		s := &c.Sinks[i]
		if _, exists := sinkIDs[s.ID]; exists {
			return fmt.Errorf("duplicate sink id: %s", s.ID)
		}
		sinkIDs[s.ID] = struct{}{}
		if err := s.Validate(); err != nil {
			return fmt.Errorf("sink %s: %w", s.ID, err)
		}
	}

	return nil
}

func (c *ChainConfig) Validate() error {
	if c.RPCURL == "" {
		return errors.New("rpc_url is required")
	}
	if c.InitialBlockCount != 0 && c.StartBlock != 0 {
		return errors.New("initial_block_count and start_block are mutually exclusive")
	}
	if c.MaxReorgResolutionAttempts < 0 {
		return errors.New("max_reorg_resolution_attempts must not be negative")
	}
	if c.ReorgWaitSeconds < 0 {
		return errors.New("reorg_wait_seconds must not be negative")
	}
	return nil
}

func (s *Sink) Validate() error {
	if s.ID == "" {
		return errors.New("id is required")
	}
	switch strings.ToLower(s.Type) {
	case "slack", "teams":
		if s.WebhookURL == "" {
			return errors.New("webhook_url is required")
		}
	case "webhook":
		if s.URL == "" {
			return errors.New("url is required")
		}
	default:
		return fmt.Errorf("unsupported sink type: %s", s.Type)
	}
	return nil
}

// PollInterval returns the parsed duty-cycle interval, defaulting to 1s.
func (c *Config) PollInterval() time.Duration {
	if c.Global.PollInterval == "" {
		return time.Second
	}
	d, err := time.ParseDuration(c.Global.PollInterval)
	if err != nil {
		return time.Second
	}
	return d
}

func dedup(in []string) []string {
	seen := map[string]struct{}{}
	out := []string{}
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
