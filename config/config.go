// Package config reads slotmap settings from a .env file, an optional YAML
// config file and SLOTMAP_* environment variables, in increasing order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"slotmap/color"
	"slotmap/engine"
	"slotmap/labware"
	"slotmap/qc"
)

const EnvPrefix = "SLOTMAP"

type QC struct {
	URL           string
	OperationType string
	Timeout       time.Duration
	Retries       uint64
	CacheSize     int
}

type Config struct {
	QC               QC
	FailedSlotsCheck bool
	Direction        labware.Direction
	Palette          []color.ID
	LogLevel         slog.Level
	MetricsAddr      string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("qc.url", "")
	v.SetDefault("qc.operation_type", engine.DefaultOperationType)
	v.SetDefault("qc.timeout", 10*time.Second)
	v.SetDefault("qc.retries", 3)
	v.SetDefault("qc.cache_size", 128)
	v.SetDefault("failed_slots_check", false)
	v.SetDefault("direction", "down-right")
	v.SetDefault("palette", []string{})
	v.SetDefault("log.level", "info")
	v.SetDefault("metrics.addr", "")
}

// New returns a viper instance with defaults and environment binding set
// up. Callers may bind flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadEnv loads the given .env files into the process environment without
// overriding variables already set. A missing ".env" is not an error.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("failed to load env files: %w", err)
	}
	return nil
}

// Load reads configFile, if not empty, into v and decodes the result.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configFile, err)
		}
	}

	d, err := labware.ParseDirection(v.GetString("direction"))
	if err != nil {
		return nil, err
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(v.GetString("log.level"))); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	retries := v.GetInt("qc.retries")
	if retries < 0 {
		return nil, fmt.Errorf("qc.retries must not be negative, got %d", retries)
	}

	c := &Config{
		QC: QC{
			URL:           v.GetString("qc.url"),
			OperationType: v.GetString("qc.operation_type"),
			Timeout:       v.GetDuration("qc.timeout"),
			Retries:       uint64(retries),
			CacheSize:     v.GetInt("qc.cache_size"),
		},
		FailedSlotsCheck: v.GetBool("failed_slots_check"),
		Direction:        d,
		LogLevel:         level,
		MetricsAddr:      v.GetString("metrics.addr"),
	}
	for _, p := range v.GetStringSlice("palette") {
		c.Palette = append(c.Palette, color.ID(p))
	}
	if c.FailedSlotsCheck && c.QC.URL == "" {
		return nil, errors.New("failed_slots_check needs qc.url")
	}
	return c, nil
}

// Lookup returns a QC client for the configured service, or nil when no
// service is configured.
func (c *Config) Lookup(logger *slog.Logger) (qc.Lookup, error) {
	if c.QC.URL == "" {
		return nil, nil
	}
	client, err := qc.NewClient(c.QC.URL,
		qc.WithLogger(logger),
		qc.WithTimeout(c.QC.Timeout),
		qc.WithRetries(c.QC.Retries),
		qc.WithCacheSize(c.QC.CacheSize),
	)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (c *Config) EngineOptions(logger *slog.Logger) []engine.Option {
	return []engine.Option{
		engine.WithLogger(logger),
		engine.WithDirection(c.Direction),
		engine.WithOperationType(c.QC.OperationType),
		engine.WithFailedSlotsCheck(c.FailedSlotsCheck),
		engine.WithPalette(c.Palette...),
	}
}
