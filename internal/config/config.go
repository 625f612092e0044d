// Package config implements the dkim-sign configuration.
package config

import (
	"fmt"
	"os"
	"strings"

	"blitiri.com.ar/go/log"
	"gopkg.in/yaml.v2"
)

// Config for signing messages.
type Config struct {
	// Domain and selector to sign with (d= and s= tags).
	Domain   string `yaml:"domain"`
	Selector string `yaml:"selector"`

	// Passphrase the key is derived from. If empty, it is read from
	// PassphraseFile.
	Passphrase     string `yaml:"passphrase"`
	PassphraseFile string `yaml:"passphrase_file"`

	// RSA key size, in bits.
	KeyBits int `yaml:"key_bits"`

	// Whether to keep derived keys in memory between signatures.
	CacheKeys *bool `yaml:"cache_keys"`

	// Where to log the signatures: a path, or one of "<stdout>",
	// "<stderr>", "<syslog>" and "<none>".
	SignLogPath string `yaml:"sign_log_path"`
}

func boolPtr(b bool) *bool { return &b }

var defaultConfig = Config{
	KeyBits:     1024,
	CacheKeys:   boolPtr(true),
	SignLogPath: "<none>",
}

// Load the config from the given file, with the given overrides.
// Both are in YAML; an empty path means only the defaults and the
// overrides are used.
func Load(path, overrides string) (*Config, error) {
	// Start with a copy of the default config.
	c := defaultConfig
	c.CacheKeys = boolPtr(*defaultConfig.CacheKeys)

	if path != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config at %q: %v", path, err)
		}

		fromFile := &Config{}
		if err := yaml.UnmarshalStrict(buf, fromFile); err != nil {
			return nil, fmt.Errorf("parsing config: %v", err)
		}
		override(&c, fromFile)
	}

	// Handle command line overrides.
	fromOverrides := &Config{}
	if err := yaml.UnmarshalStrict([]byte(overrides), fromOverrides); err != nil {
		return nil, fmt.Errorf("parsing override: %v", err)
	}
	override(&c, fromOverrides)

	if c.Passphrase == "" && c.PassphraseFile != "" {
		buf, err := os.ReadFile(c.PassphraseFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read passphrase: %v", err)
		}
		c.Passphrase = strings.TrimRight(string(buf), "\r\n")
	}

	if c.KeyBits < 1024 || c.KeyBits%2 != 0 {
		return nil, fmt.Errorf("invalid key_bits value %d", c.KeyBits)
	}

	return &c, nil
}

// Override fields in `c` that are set in `o`.
func override(c, o *Config) {
	if o.Domain != "" {
		c.Domain = o.Domain
	}
	if o.Selector != "" {
		c.Selector = o.Selector
	}
	if o.Passphrase != "" {
		c.Passphrase = o.Passphrase
	}
	if o.PassphraseFile != "" {
		c.PassphraseFile = o.PassphraseFile
	}
	if o.KeyBits > 0 {
		c.KeyBits = o.KeyBits
	}
	if o.CacheKeys != nil {
		c.CacheKeys = o.CacheKeys
	}
	if o.SignLogPath != "" {
		c.SignLogPath = o.SignLogPath
	}
}

// LogConfig logs the given configuration, in a human-friendly way.
// The passphrase itself is never logged.
func LogConfig(c *Config) {
	log.Infof("Configuration:")
	log.Infof("  Domain: %q", c.Domain)
	log.Infof("  Selector: %q", c.Selector)
	log.Infof("  Passphrase set: %v (file: %q)",
		c.Passphrase != "", c.PassphraseFile)
	log.Infof("  Key bits: %d", c.KeyBits)
	log.Infof("  Cache keys: %v", *c.CacheKeys)
	log.Infof("  Sign log: %q", c.SignLogPath)
}
