package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Tried in order; the first selector that matches anything wins.
	PriceSelectors    []string `yaml:"price_selectors"`
	DeliverySelectors []string `yaml:"delivery_selectors"`

	// Locale code to the phrase that marks delivery as free.
	FreeDeliveryText map[string]string `yaml:"free_delivery_text"`

	MarkerClass   string `yaml:"marker_class"`
	QuietPeriodMs int    `yaml:"quiet_period_ms"`

	BrowserProfilePath string `yaml:"browser_profile_path"`
	RemoteURL          string `yaml:"remote_url"`
	UserAgent          string `yaml:"user_agent"`
	PageLoadTimeout    int    `yaml:"page_load_timeout"`

	Headless  bool `yaml:"headless"`
	DebugMode bool `yaml:"debug_mode"`
}

var markerClassPattern = regexp.MustCompile(`^-?[_a-zA-Z][_a-zA-Z0-9-]*$`)

func DefaultConfig() *Config {
	userDataDir := getUserDataDir()

	return &Config{
		PriceSelectors: []string{
			`[class*="Price__main"]`,
			`[class*="ProductPrice__price"]`,
			`.price, .item-price`,
		},
		DeliverySelectors: []string{
			`[class*="DeliveryMethodItem__price"]`,
			`[class*="Delivery__price"]`,
			`.delivery-price, .shipping-cost`,
		},
		FreeDeliveryText: map[string]string{
			"ru": "Бесплатно",
			"en": "Free",
			"es": "Gratis",
			"fr": "Gratuit",
		},
		MarkerClass:        "total-price-extension",
		QuietPeriodMs:      300,
		BrowserProfilePath: filepath.Join(userDataDir, "browser-profile"),
		UserAgent:          "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		PageLoadTimeout:    30,
		Headless:           false,
		DebugMode:          false,
	}
}

func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := config.Save(path); err != nil {
			return nil, err
		}
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return config, nil
}

func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

func (c *Config) Validate() error {
	if len(c.PriceSelectors) == 0 {
		return errors.New("price_selectors must not be empty")
	}
	if len(c.DeliverySelectors) == 0 {
		return errors.New("delivery_selectors must not be empty")
	}
	if !markerClassPattern.MatchString(c.MarkerClass) {
		return fmt.Errorf("marker_class %q is not a valid class name", c.MarkerClass)
	}
	if c.QuietPeriodMs <= 0 {
		return fmt.Errorf("quiet_period_ms must be positive, got %d", c.QuietPeriodMs)
	}
	if c.PageLoadTimeout <= 0 {
		return fmt.Errorf("page_load_timeout must be positive, got %d", c.PageLoadTimeout)
	}
	return nil
}

func (c *Config) QuietPeriod() time.Duration {
	return time.Duration(c.QuietPeriodMs) * time.Millisecond
}

func (c *Config) LoadTimeout() time.Duration {
	return time.Duration(c.PageLoadTimeout) * time.Second
}
