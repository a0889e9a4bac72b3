package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/teamcutter/dirup/internal/domain"
)

const (
	HomeEnv    = "DIRUP_HOME"
	configName = "config.toml"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	StagingDir          string            `toml:"staging_dir"`
	TargetDir           string            `toml:"target_dir"`
	MaxSizeMB           int64             `toml:"max_size_mb"`
	AllowOverwrite      bool              `toml:"allow_overwrite"`
	AbortOnAnyCollision bool              `toml:"abort_on_any_collision"`
	Timeout             Duration          `toml:"timeout"`
	MaxParallel         int               `toml:"max_parallel"`
	StateDB             string            `toml:"state_db"`
	ListenAddr          string            `toml:"listen_addr"`
	Users               map[string]string `toml:"users"`
}

// Duration is a time.Duration written as "10m" in config.toml.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Home returns the dirup base directory, $DIRUP_HOME or ~/.dirup.
func Home() string {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".dirup")
}

func Path() string {
	return filepath.Join(Home(), configName)
}

func DefaultConfig() *Config {
	base := Home()

	return &Config{
		StagingDir:  filepath.Join(base, "staging"),
		TargetDir:   filepath.Join(base, "www"),
		MaxSizeMB:   50,
		Timeout:     Duration{10 * time.Minute},
		MaxParallel: 4,
		StateDB:     filepath.Join(base, "dirup.db"),
		ListenAddr:  "127.0.0.1:8470",
		Users:       map[string]string{},
	}
}

// Load reads config.toml over the defaults. A missing file is not an error.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	path := Path()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if cfg.Users == nil {
		cfg.Users = map[string]string{}
	}

	return cfg, cfg.Validate()
}

func Save(cfg *Config) error {
	path := Path()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func (c *Config) Validate() error {
	switch {
	case c.StagingDir == "":
		return fmt.Errorf("%w: staging_dir is empty", ErrInvalidConfig)
	case c.TargetDir == "" || !filepath.IsAbs(c.TargetDir):
		return fmt.Errorf("%w: target_dir must be an absolute path", ErrInvalidConfig)
	case c.MaxSizeMB <= 0:
		return fmt.Errorf("%w: max_size_mb must be positive", ErrInvalidConfig)
	case c.MaxParallel <= 0:
		return fmt.Errorf("%w: max_parallel must be positive", ErrInvalidConfig)
	case c.Timeout.Duration < 0:
		return fmt.Errorf("%w: timeout is negative", ErrInvalidConfig)
	}
	return nil
}

func (c *Config) MaxSizeBytes() int64 {
	return c.MaxSizeMB << 20
}

// Policy builds the upload policy for the configured target.
func (c *Config) Policy() domain.UploadPolicy {
	return domain.UploadPolicy{
		MaxSizeBytes:        uint64(c.MaxSizeBytes()),
		TargetDirectory:     c.TargetDir,
		AllowOverwrite:      c.AllowOverwrite,
		AbortOnAnyCollision: c.AbortOnAnyCollision,
	}
}
