package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the config file name looked up in the current and
// home directories.
const DefaultConfigFile = ".webimg.yaml"

// ErrConfigNotFound is returned when the configuration file does not exist.
var ErrConfigNotFound = errors.New("configuration file not found")

// LoadConfigFile reads a .webimg.yaml file. Every minSize in it must parse.
func LoadConfigFile(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // user-provided config path
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}

	var cf File
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if cf.Sites == nil {
		cf.Sites = make(map[string]SiteConfig)
	}

	if _, err := ParseMinSize(cf.Defaults.MinSize); err != nil {
		return nil, fmt.Errorf("defaults: %w", err)
	}
	for host, site := range cf.Sites {
		if _, err := ParseMinSize(site.MinSize); err != nil {
			return nil, fmt.Errorf("site %s: %w", host, err)
		}
	}
	return &cf, nil
}

// FindConfigFile returns the first existing config file among:
//  1. configPath, when given (and nothing else is tried)
//  2. .webimg.yaml in the current directory
//  3. config.yaml in the XDG config directory
//  4. .webimg.yaml in the home directory
//
// It returns "" when none exists.
func FindConfigFile(configPath string) string {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		return ""
	}

	var candidates []string
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(cwd, DefaultConfigFile))
	}
	candidates = append(candidates, filepath.Join(XDGConfigDir(), "config.yaml"))
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, DefaultConfigFile))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
