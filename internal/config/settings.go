// Package config loads engine settings from a YAML or JSON file, a .env file
// and QRIS_ environment variables, in increasing order of precedence.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/riverscapes/qris/internal/calc"
	"github.com/riverscapes/qris/internal/streamstats"
	"github.com/riverscapes/qris/internal/usgs"
)

// EnvPrefix prefixes every environment override, e.g. QRIS_USGS_TIMEOUT.
const EnvPrefix = "QRIS"

const maxFileSize = 1 << 20

// Settings is the complete engine configuration.
type Settings struct {
	Project struct {
		// Path is the project database file.
		Path string `mapstructure:"path"`
	} `mapstructure:"project"`

	Analysis struct {
		// ZonalBuffer is the buffer distance in meters around a centerline
		// when sampling a surface for gradient.
		ZonalBuffer float64 `mapstructure:"zonal_buffer"`
	} `mapstructure:"analysis"`

	USGS struct {
		SiteURL           string        `mapstructure:"site_url"`
		DischargeURL      string        `mapstructure:"discharge_url"`
		RequestsPerSecond float64       `mapstructure:"requests_per_second"`
		Timeout           time.Duration `mapstructure:"timeout"`
		CacheTTL          time.Duration `mapstructure:"cache_ttl"`
	} `mapstructure:"usgs"`

	StreamStats struct {
		BaseURL string        `mapstructure:"base_url"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"streamstats"`

	StateBoundaries struct {
		// Path is a GeoJSON file of state polygons. Empty disables lookup.
		Path string `mapstructure:"path"`
	} `mapstructure:"state_boundaries"`

	Server struct {
		Listen string `mapstructure:"listen"`
	} `mapstructure:"server"`

	Logging struct {
		Verbose bool `mapstructure:"verbose"`
	} `mapstructure:"logging"`
}

func setDefaults(v *viper.Viper) {
	u := usgs.DefaultConfig()
	s := streamstats.DefaultConfig()

	v.SetDefault("project.path", "")
	v.SetDefault("analysis.zonal_buffer", calc.DefaultBufferDistance)
	v.SetDefault("usgs.site_url", u.SiteURL)
	v.SetDefault("usgs.discharge_url", u.DischargeURL)
	v.SetDefault("usgs.requests_per_second", u.RequestsPerSecond)
	v.SetDefault("usgs.timeout", u.Timeout)
	v.SetDefault("usgs.cache_ttl", u.CacheTTL)
	v.SetDefault("streamstats.base_url", s.BaseURL)
	v.SetDefault("streamstats.timeout", s.Timeout)
	v.SetDefault("state_boundaries.path", "")
	v.SetDefault("server.listen", "localhost:8080")
	v.SetDefault("logging.verbose", false)
}

// Default returns the settings with no file and no environment.
func Default() *Settings {
	v := viper.New()
	setDefaults(v)
	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		panic(fmt.Sprintf("config defaults do not decode: %v", err))
	}
	return s
}

// Load reads settings. An empty path uses defaults and the environment only.
// A .env file beside the config file, or in the working directory when path
// is empty, is loaded into the environment first without overriding
// variables that are already set.
func Load(path string) (*Settings, error) {
	envFile := ".env"
	if path != "" {
		envFile = filepath.Join(filepath.Dir(path), ".env")
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if err := checkFile(path); err != nil {
			return nil, err
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func checkFile(path string) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml", ".json":
	default:
		return fmt.Errorf("config file must be .yaml, .yml or .json, got %q", ext)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}
	return nil
}

// Validate checks ranges and endpoint syntax.
func (s *Settings) Validate() error {
	if s.Analysis.ZonalBuffer < 0 {
		return fmt.Errorf("analysis.zonal_buffer must be non-negative, got %g", s.Analysis.ZonalBuffer)
	}
	if s.USGS.RequestsPerSecond <= 0 {
		return fmt.Errorf("usgs.requests_per_second must be positive, got %g", s.USGS.RequestsPerSecond)
	}
	if s.USGS.Timeout <= 0 {
		return fmt.Errorf("usgs.timeout must be positive, got %s", s.USGS.Timeout)
	}
	if s.USGS.CacheTTL < 0 {
		return fmt.Errorf("usgs.cache_ttl must be non-negative, got %s", s.USGS.CacheTTL)
	}
	if s.StreamStats.Timeout <= 0 {
		return fmt.Errorf("streamstats.timeout must be positive, got %s", s.StreamStats.Timeout)
	}
	for key, raw := range map[string]string{
		"usgs.site_url":        s.USGS.SiteURL,
		"usgs.discharge_url":   s.USGS.DischargeURL,
		"streamstats.base_url": s.StreamStats.BaseURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid %s %q: must be an http(s) URL", key, raw)
		}
	}
	if s.Server.Listen == "" {
		return fmt.Errorf("server.listen must not be empty")
	}
	return nil
}

// USGSConfig returns the producer configuration.
func (s *Settings) USGSConfig() usgs.Config {
	return usgs.Config{
		SiteURL:           s.USGS.SiteURL,
		DischargeURL:      s.USGS.DischargeURL,
		RequestsPerSecond: s.USGS.RequestsPerSecond,
		Timeout:           s.USGS.Timeout,
		CacheTTL:          s.USGS.CacheTTL,
	}
}

// StreamStatsConfig returns the delineation client configuration.
func (s *Settings) StreamStatsConfig() streamstats.Config {
	return streamstats.Config{BaseURL: s.StreamStats.BaseURL, Timeout: s.StreamStats.Timeout}
}
