package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	s := Default()
	assert.Equal(t, 10.0, s.Analysis.ZonalBuffer)
	assert.Equal(t, "https://waterservices.usgs.gov/nwis/site/", s.USGS.SiteURL)
	assert.Equal(t, 2.0, s.USGS.RequestsPerSecond)
	assert.Equal(t, time.Hour, s.USGS.CacheTTL)
	assert.Equal(t, "localhost:8080", s.Server.Listen)
	require.NoError(t, s.Validate())
}

func TestLoad_YAMLAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "qris.yaml", `
project:
  path: /data/project.gpkg
analysis:
  zonal_buffer: 25
usgs:
  timeout: 45s
  requests_per_second: 1
state_boundaries:
  path: /data/states.geojson
logging:
  verbose: true
`)
	t.Setenv("QRIS_SERVER_LISTEN", ":9090")

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/project.gpkg", s.Project.Path)
	assert.Equal(t, 25.0, s.Analysis.ZonalBuffer)
	assert.Equal(t, 45*time.Second, s.USGS.Timeout)
	assert.Equal(t, "/data/states.geojson", s.StateBoundaries.Path)
	assert.True(t, s.Logging.Verbose)
	assert.Equal(t, ":9090", s.Server.Listen)

	want := Default().USGSConfig()
	want.Timeout = 45 * time.Second
	want.RequestsPerSecond = 1
	if diff := cmp.Diff(want, s.USGSConfig()); diff != "" {
		t.Errorf("USGSConfig mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "qris.json", `{"project": {"path": "from-file.gpkg"}}`)
	writeFile(t, dir, ".env", "QRIS_PROJECT_PATH=from-dotenv.gpkg\n")
	t.Setenv("QRIS_PROJECT_PATH", "")
	os.Unsetenv("QRIS_PROJECT_PATH")

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv.gpkg", s.Project.Path)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{"extension", writeFile(t, dir, "qris.toml", ""), "must be .yaml"},
		{"missing", filepath.Join(dir, "missing.yaml"), "failed to stat"},
		{"too large", writeFile(t, dir, "big.yaml", "# "+strings.Repeat("x", maxFileSize)), "too large"},
		{"bad yaml", writeFile(t, dir, "bad.yaml", "usgs: [unclosed"), "failed to read config"},
		{"invalid value", writeFile(t, dir, "neg.yaml", "analysis:\n  zonal_buffer: -1\n"), "zonal_buffer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{"rate", func(s *Settings) { s.USGS.RequestsPerSecond = 0 }, "requests_per_second"},
		{"usgs timeout", func(s *Settings) { s.USGS.Timeout = 0 }, "usgs.timeout"},
		{"cache ttl", func(s *Settings) { s.USGS.CacheTTL = -time.Second }, "cache_ttl"},
		{"streamstats timeout", func(s *Settings) { s.StreamStats.Timeout = 0 }, "streamstats.timeout"},
		{"url scheme", func(s *Settings) { s.USGS.SiteURL = "ftp://example.com/" }, "usgs.site_url"},
		{"url host", func(s *Settings) { s.StreamStats.BaseURL = "https://" }, "streamstats.base_url"},
		{"listen", func(s *Settings) { s.Server.Listen = "" }, "server.listen"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Default()
			tt.mutate(s)
			err := s.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
