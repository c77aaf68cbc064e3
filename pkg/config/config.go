// Package config reads cocoons.toml.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// DefaultFile is the config file name looked up in the working directory.
const DefaultFile = "cocoons.toml"

// Config holds pass, link and logging settings.
type Config struct {
	Strings      StringsConfig      `toml:"strings"`
	Substitution SubstitutionConfig `toml:"substitution"`
	Link         LinkConfig         `toml:"link"`
	Log          LogConfig          `toml:"log"`
}

type StringsConfig struct {
	Enabled     bool   `toml:"enabled"`
	TagPrefix   string `toml:"tag_prefix"`
	RecordField int    `toml:"record_field"`
	MaxDepth    int    `toml:"max_depth"`
	// Seed selects deterministic keys; zero draws keys from crypto/rand.
	Seed uint64 `toml:"seed"`
}

type SubstitutionConfig struct {
	Enabled bool `toml:"enabled"`
}

type LinkConfig struct {
	PointerSize int    `toml:"pointer_size"`
	BaseAddress uint64 `toml:"base_address"`
	DeadStrip   bool   `toml:"dead_strip"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns the settings used when no file exists.
func Default() *Config {
	return &Config{
		Strings: StringsConfig{
			Enabled:     true,
			TagPrefix:   "obfuscate",
			RecordField: 2,
			MaxDepth:    32,
		},
		Link: LinkConfig{DeadStrip: true},
		Log:  LogConfig{Level: "info"},
	}
}

// Read loads path over the defaults. A missing file returns the defaults.
func Read(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("read config: decode: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("read config: unknown keys %s", strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return cfg, nil
}

// Validate reports settings no pass can honor.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Strings.TagPrefix) == "" {
		return fmt.Errorf("strings.tag_prefix must not be empty")
	}
	if c.Strings.RecordField < 0 {
		return fmt.Errorf("strings.record_field must not be negative")
	}
	if c.Strings.MaxDepth <= 0 {
		return fmt.Errorf("strings.max_depth must be positive")
	}
	switch c.Link.PointerSize {
	case 0, 4, 8:
	default:
		return fmt.Errorf("link.pointer_size must be 4 or 8, got %d", c.Link.PointerSize)
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error", "fatal":
	default:
		return fmt.Errorf("log.level %q is not a level", c.Log.Level)
	}
	return nil
}
