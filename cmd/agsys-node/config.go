package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agsys/field-node/internal/engine"
	"github.com/agsys/field-node/internal/netstack"
	"github.com/agsys/field-node/internal/radio"
	"github.com/agsys/field-node/internal/webhook"
)

// Config represents the configuration file structure
type Config struct {
	Node struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"node"`

	WiFi struct {
		SSID     string `yaml:"ssid"`
		Password string `yaml:"password"`
	} `yaml:"wifi"`

	Webhook struct {
		Host      string `yaml:"host"`
		Path      string `yaml:"path"`
		Port      uint16 `yaml:"port"`
		VerifyTLS *bool  `yaml:"verify_tls"`
		Template  string `yaml:"template"` // "discord", "json" or an inline template
	} `yaml:"webhook"`

	Radio struct {
		EventURL       string `yaml:"event_url"`
		CommandURL     string `yaml:"command_url"`
		RequestTimeout int    `yaml:"request_timeout"`
	} `yaml:"radio"`

	Network struct {
		Interface  string `yaml:"interface"`
		ResolvConf string `yaml:"resolv_conf"`
	} `yaml:"network"`

	Sensors struct {
		Environmental string `yaml:"environmental"` // "sim" or "none"
		Soil          string `yaml:"soil"`          // "sim", "iio" or "none"
		IIOPath       string `yaml:"iio_path"`
	} `yaml:"sensors"`

	Timing struct {
		BackoffMs       int `yaml:"backoff_ms"`
		ReadinessPollMs int `yaml:"readiness_poll_ms"`
		SettleMs        int `yaml:"settle_ms"`
		SampleInterval  int `yaml:"sample_interval"`
		PublishInterval int `yaml:"publish_interval_ms"`
		ConnectTimeout  int `yaml:"connect_timeout"`
		ActiveWindow    int `yaml:"active_window"`
		SleepDuration   int `yaml:"sleep_duration"`
	} `yaml:"timing"`

	Metrics struct {
		Listen string `yaml:"listen"`
	} `yaml:"metrics"`

	Logging struct {
		Level   string `yaml:"level"`
		File    string `yaml:"file"`
		Console bool   `yaml:"console"`
	} `yaml:"logging"`
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Node.ID == "" {
		return fmt.Errorf("node.id is required")
	}
	if c.WiFi.SSID == "" {
		return fmt.Errorf("wifi.ssid is required")
	}
	if c.Webhook.Host == "" {
		return fmt.Errorf("webhook.host is required")
	}
	switch c.Sensors.Environmental {
	case "", "sim", "none":
	default:
		return fmt.Errorf("unknown environmental sensor driver %q", c.Sensors.Environmental)
	}
	switch c.Sensors.Soil {
	case "", "sim", "iio", "none":
	default:
		return fmt.Errorf("unknown soil sensor driver %q", c.Sensors.Soil)
	}
	if err := webhook.ValidateTemplate(c.template()); err != nil {
		return fmt.Errorf("invalid webhook.template: %w", err)
	}
	return nil
}

func (c *Config) template() string {
	switch c.Webhook.Template {
	case "", "discord":
		return webhook.DiscordTemplate
	case "json":
		return ""
	default:
		return c.Webhook.Template
	}
}

// engineConfig overlays the file onto the engine defaults
func (c *Config) engineConfig() engine.Config {
	cfg := engine.DefaultConfig()
	cfg.NodeID = c.Node.ID
	if c.Node.Name != "" {
		cfg.NodeName = c.Node.Name
	}
	cfg.FirmwareVersion = version

	cfg.Connectivity.SSID = c.WiFi.SSID
	cfg.Connectivity.Password = c.WiFi.Password

	cfg.Webhook.Host = c.Webhook.Host
	cfg.Webhook.Path = c.Webhook.Path
	if c.Webhook.Port != 0 {
		cfg.Webhook.Port = c.Webhook.Port
	}
	if c.Webhook.VerifyTLS != nil {
		cfg.Webhook.VerifyTLS = *c.Webhook.VerifyTLS
	}
	cfg.Webhook.Template = c.template()

	if c.Timing.BackoffMs > 0 {
		cfg.Connectivity.Backoff = millisToDuration(c.Timing.BackoffMs)
	}
	if c.Timing.ReadinessPollMs > 0 {
		cfg.ReadinessPoll = millisToDuration(c.Timing.ReadinessPollMs)
	}
	if c.Timing.SettleMs > 0 {
		cfg.Sampler.Settle = millisToDuration(c.Timing.SettleMs)
	}
	if c.Timing.SampleInterval > 0 {
		cfg.Sampler.Interval = secondsToDuration(c.Timing.SampleInterval)
	}
	if c.Timing.PublishInterval > 0 {
		cfg.Webhook.Interval = millisToDuration(c.Timing.PublishInterval)
	}
	if c.Timing.ConnectTimeout > 0 {
		cfg.Webhook.ConnectTimeout = secondsToDuration(c.Timing.ConnectTimeout)
	}
	if c.Timing.ActiveWindow > 0 {
		cfg.Sleep.ActiveWindow = secondsToDuration(c.Timing.ActiveWindow)
	}
	if c.Timing.SleepDuration > 0 {
		cfg.Sleep.SleepFor = secondsToDuration(c.Timing.SleepDuration)
	}

	return cfg
}

func (c *Config) radioConfig() radio.Config {
	cfg := radio.DefaultConfig()
	if c.Radio.EventURL != "" {
		cfg.EventURL = c.Radio.EventURL
	}
	if c.Radio.CommandURL != "" {
		cfg.CommandURL = c.Radio.CommandURL
	}
	if c.Radio.RequestTimeout > 0 {
		cfg.RequestTimeout = secondsToDuration(c.Radio.RequestTimeout)
	}
	return cfg
}

func (c *Config) hostConfig() netstack.HostConfig {
	cfg := netstack.DefaultHostConfig()
	if c.Network.Interface != "" {
		cfg.Interface = c.Network.Interface
	}
	if c.Network.ResolvConf != "" {
		cfg.ResolvConf = c.Network.ResolvConf
	}
	return cfg
}

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

func millisToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
