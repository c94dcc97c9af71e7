package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "WEBIMG_"

// LoadDotEnv loads the given .env files into the process environment.
// Missing files are skipped and variables already set are kept.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// MapLookup adapts a map to the lookup function taken by ApplyEnv.
func MapLookup(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

// ApplyEnv overrides c with WEBIMG_* variables found through lookup,
// usually os.LookupEnv. Empty values are ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		return v, ok && v != ""
	}

	if v, ok := get("OUTPUT"); ok {
		c.OutputDir = v
	}
	if v, ok := get("BASE_URL"); ok {
		c.BaseURL = v
	}
	if v, ok := get("PROXY"); ok {
		c.ProxyAddress = v
	}
	if v, ok := get("CHROME_PATH"); ok {
		c.ChromePath = v
	}
	if v, ok := get("USER_AGENT"); ok {
		c.UserAgent = v
	}
	if v, ok := get("DB_DIR"); ok {
		c.DBDir = v
	}
	if v, ok := get("DEPTH"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sDEPTH: %w", EnvPrefix, ErrInvalidDepth)
		}
		c.Depth = n
	}
	if v, ok := get("CONCURRENCY"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sCONCURRENCY: %w", EnvPrefix, ErrInvalidConcurrency)
		}
		c.Concurrency = n
	}
	if v, ok := get("TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sTIMEOUT: %w", EnvPrefix, ErrInvalidTimeout)
		}
		c.Timeout = d
	}
	if v, ok := get("MIN_SIZE"); ok {
		size, err := ParseMinSize(v)
		if err != nil {
			return fmt.Errorf("%sMIN_SIZE: %w", EnvPrefix, err)
		}
		c.MinSize = size
	}
	if v, ok := get("NO_BROWSER"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sNO_BROWSER: %w", EnvPrefix, err)
		}
		c.NoBrowser = b
	}
	return nil
}
