package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	internal "github.com/ZanzyTHEbar/virtual-prefs/vprefs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// ConfigTestSuite tests the config package functionality
type ConfigTestSuite struct {
	suite.Suite
	tempDir string
	origDir string
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (suite *ConfigTestSuite) SetupTest() {
	var err error
	suite.origDir, err = os.Getwd()
	require.NoError(suite.T(), err)

	suite.tempDir = suite.T().TempDir()

	// Run from an empty directory so a stray config.yaml is never picked up
	err = os.Chdir(suite.tempDir)
	require.NoError(suite.T(), err)
}

func (suite *ConfigTestSuite) TearDownTest() {
	if suite.origDir != "" {
		os.Chdir(suite.origDir)
	}
}

func (suite *ConfigTestSuite) TestLoadConfigWithDefaults() {
	cfg, err := LoadConfig("")

	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), cfg)

	assert.Equal(suite.T(), internal.DefaultUserRootDir, cfg.Prefs.UserRoot)
	assert.Equal(suite.T(), internal.DefaultSystemRootDir, cfg.Prefs.SystemRoot)
	assert.Equal(suite.T(), internal.DefaultSystemRootFallbackDir, cfg.Prefs.SystemRootFallback)
	assert.Equal(suite.T(), internal.DefaultDataFileName, cfg.Prefs.DataFileName)
	assert.Equal(suite.T(), 30*time.Second, cfg.Prefs.SyncInterval)
	assert.Empty(suite.T(), cfg.Prefs.Owner)
}

func (suite *ConfigTestSuite) TestLoadConfigWithFile() {
	configContent := `
prefs:
  userRoot: "./user-prefs"
  systemRoot: "./system-prefs"
  dataFileName: "settings.properties"
  syncInterval: "5s"
  owner: "tester"
`

	configFile := filepath.Join(suite.tempDir, "config.yaml")
	err := os.WriteFile(configFile, []byte(configContent), 0o644)
	require.NoError(suite.T(), err)

	cfg, err := LoadConfig(configFile)

	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), cfg)

	assert.Equal(suite.T(), "./user-prefs", cfg.Prefs.UserRoot)
	assert.Equal(suite.T(), "./system-prefs", cfg.Prefs.SystemRoot)
	assert.Equal(suite.T(), "settings.properties", cfg.Prefs.DataFileName)
	assert.Equal(suite.T(), 5*time.Second, cfg.Prefs.SyncInterval)
	assert.Equal(suite.T(), "tester", cfg.Prefs.Owner)
	// Unset keys keep their defaults
	assert.Equal(suite.T(), internal.DefaultSystemRootFallbackDir, cfg.Prefs.SystemRootFallback)
}

func (suite *ConfigTestSuite) TestEnvironmentOverrides() {
	suite.T().Setenv("VPREFS_PREFS_SYNCINTERVAL", "10s")
	suite.T().Setenv("VPREFS_PREFS_USERROOT", "/tmp/env-user-root")

	cfg, err := LoadConfig("")
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), 10*time.Second, cfg.Prefs.SyncInterval)
	assert.Equal(suite.T(), "/tmp/env-user-root", cfg.Prefs.UserRoot)
}

func (suite *ConfigTestSuite) TestLoadConfigInvalidFile() {
	// An explicit path that does not exist is an error
	cfg, err := LoadConfig("/nonexistent/path/config.yaml")

	assert.Error(suite.T(), err)
	assert.Nil(suite.T(), cfg)
}

func (suite *ConfigTestSuite) TestLoadConfigMalformedFile() {
	malformedContent := `
prefs:
  userRoot: "./user-prefs"
  invalid_yaml: [unclosed bracket
`

	configFile := filepath.Join(suite.tempDir, "malformed.yaml")
	err := os.WriteFile(configFile, []byte(malformedContent), 0o644)
	require.NoError(suite.T(), err)

	cfg, err := LoadConfig(configFile)

	assert.Error(suite.T(), err)
	assert.Nil(suite.T(), cfg)
}

func (suite *ConfigTestSuite) TestLoadConfigRejectsInvalidValues() {
	configContent := `
prefs:
  dataFileName: "nested/prefs.properties"
`
	configFile := filepath.Join(suite.tempDir, "config.yaml")
	require.NoError(suite.T(), os.WriteFile(configFile, []byte(configContent), 0o644))

	cfg, err := LoadConfig(configFile)
	assert.ErrorIs(suite.T(), err, ErrInvalidDataFileName)
	assert.Nil(suite.T(), cfg)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     PrefsConfig
		wantErr error
	}{
		{"valid", PrefsConfig{DataFileName: "prefs.properties", SyncInterval: time.Second}, nil},
		{"empty data file", PrefsConfig{DataFileName: " ", SyncInterval: time.Second}, ErrEmptyDataFileName},
		{"separator in data file", PrefsConfig{DataFileName: `a\b`, SyncInterval: time.Second}, ErrInvalidDataFileName},
		{"dot dot data file", PrefsConfig{DataFileName: "..", SyncInterval: time.Second}, ErrInvalidDataFileName},
		{"zero interval", PrefsConfig{DataFileName: "prefs.properties"}, ErrInvalidSyncInterval},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{Prefs: tt.cfg}
			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

// BenchmarkLoadConfig benchmarks config loading performance
func BenchmarkLoadConfig(b *testing.B) {
	for i := 0; i < b.N; i++ {
		cfg, err := LoadConfig("")
		if err != nil {
			b.Fatal(err)
		}
		_ = cfg
	}
}
