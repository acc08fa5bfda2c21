// Copyright 2026 The Meshdrop Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for a Meshdrop client.
type Config struct {
	// Registry is the base URL of the discovery registry.
	Registry string `yaml:"registry"`

	// DisplayName is shown to other room participants. Defaults to
	// the OS username.
	DisplayName string `yaml:"display_name"`

	// DownloadDir is where sealed incoming files are written.
	DownloadDir string `yaml:"download_dir"`

	// STUNURLs are the STUN servers used for connectivity. An empty
	// list means host candidates only (LAN or loopback use).
	STUNURLs []string `yaml:"stun_urls"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	name := "anonymous"
	if user := os.Getenv("USER"); user != "" {
		name = user
	}
	return &Config{
		Registry:    "http://localhost:8137",
		DisplayName: name,
		DownloadDir: "${HOME}/Downloads",
		STUNURLs:    []string{"stun:stun.l.google.com:19302"},
	}
}

// Load reads the config from the path in MESHDROP_CONFIG, falling
// back to defaults when the variable is unset.
func Load() (*Config, error) {
	path := os.Getenv("MESHDROP_CONFIG")
	if path == "" {
		cfg := Default()
		cfg.expandVariables()
		return cfg, nil
	}
	return LoadFile(path)
}

// LoadFile reads the config from an explicit path. Fields absent from
// the file keep their defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.expandVariables()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// expandVariables substitutes ${HOME} and ${USER} in path-like
// fields.
func (c *Config) expandVariables() {
	replacer := strings.NewReplacer(
		"${HOME}", os.Getenv("HOME"),
		"${USER}", os.Getenv("USER"),
	)
	c.DownloadDir = replacer.Replace(c.DownloadDir)
}

// Validate checks field values that would otherwise fail at first
// use.
func (c *Config) Validate() error {
	parsed, err := url.Parse(c.Registry)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("registry %q is not an absolute URL", c.Registry)
	}
	if c.DisplayName == "" {
		return fmt.Errorf("display_name must not be empty")
	}
	for _, stun := range c.STUNURLs {
		if !strings.HasPrefix(stun, "stun:") && !strings.HasPrefix(stun, "stuns:") {
			return fmt.Errorf("stun url %q must use the stun: or stuns: scheme", stun)
		}
	}
	return nil
}
