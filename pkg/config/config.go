// Package config provides file-based configuration for the worker, for
// settings too unwieldy for flags.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration parses YAML scalars like "3s" or "12h".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}

	*d = Duration(parsed)

	return nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// WhatsAppConfig holds the Cloud API delivery settings.
type WhatsAppConfig struct {
	BaseURL          string `yaml:"base_url"`
	PhoneNumberID    string `yaml:"phone_number_id"`
	AccessToken      string `yaml:"access_token"`
	TemplateName     string `yaml:"template_name"`
	TemplateLanguage string `yaml:"template_language"`

	SendRetryAttempts int      `yaml:"send_retry_attempts"`
	SendRetryDelay    Duration `yaml:"send_retry_delay"`
}

// EngineConfig holds execution tuning.
type EngineConfig struct {
	StepLimit  int      `yaml:"step_limit"`
	SessionTTL Duration `yaml:"session_ttl"`
	LockTTL    Duration `yaml:"lock_ttl"`
}

// WorkerConfig is the structure of the worker's YAML config file. Values set
// on the command line take precedence over file values.
type WorkerConfig struct {
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
	Engine   EngineConfig   `yaml:"engine"`
}

// LoadWorkerConfig reads and parses a worker config file.
func LoadWorkerConfig(path string) (*WorkerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config WorkerConfig

	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return &config, nil
}
