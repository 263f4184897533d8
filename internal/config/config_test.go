package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validBuild() BuildConfig {
	return BuildConfig{
		AppDir:      ".",
		BuildDir:    ".fluxpack/build",
		OutputDir:   "dist",
		Target:      "es2015",
		Concurrency: 4,
	}
}

func TestBuildConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*BuildConfig)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid config",
			mutate:  func(*BuildConfig) {},
			wantErr: false,
		},
		{
			name:    "empty build dir",
			mutate:  func(c *BuildConfig) { c.BuildDir = "" },
			wantErr: true,
			errMsg:  "build_dir cannot be empty",
		},
		{
			name:    "empty output dir",
			mutate:  func(c *BuildConfig) { c.OutputDir = "" },
			wantErr: true,
			errMsg:  "output_dir cannot be empty",
		},
		{
			name:    "zero concurrency",
			mutate:  func(c *BuildConfig) { c.Concurrency = 0 },
			wantErr: true,
			errMsg:  "concurrency must be at least 1",
		},
		{
			name:    "unknown target",
			mutate:  func(c *BuildConfig) { c.Target = "es5" },
			wantErr: true,
			errMsg:  "unsupported build target",
		},
		{
			name:    "uppercase target",
			mutate:  func(c *BuildConfig) { c.Target = "ES2020" },
			wantErr: false,
		},
		{
			name: "entry without url",
			mutate: func(c *BuildConfig) {
				c.Entries = []EntryConfig{{URL: "/pages/index.tsx"}, {Shared: true}}
			},
			wantErr: true,
			errMsg:  "entry 1 has no url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validBuild()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCacheConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  CacheConfig
		wantErr bool
		errMsg  string
	}{
		{
			name:   "memory backend",
			config: CacheConfig{Backend: "memory", FetchTimeout: time.Second},
		},
		{
			name:   "badger backend",
			config: CacheConfig{Backend: "badger", Dir: "/tmp/cache", FetchTimeout: time.Second},
		},
		{
			name:    "badger without dir",
			config:  CacheConfig{Backend: "badger", FetchTimeout: time.Second},
			wantErr: true,
			errMsg:  "dir is required",
		},
		{
			name:    "redis without url",
			config:  CacheConfig{Backend: "redis", FetchTimeout: time.Second},
			wantErr: true,
			errMsg:  "redis_url is required",
		},
		{
			name:    "unknown backend",
			config:  CacheConfig{Backend: "memcached", FetchTimeout: time.Second},
			wantErr: true,
			errMsg:  "cache backend must be",
		},
		{
			name:    "zero timeout",
			config:  CacheConfig{Backend: "memory"},
			wantErr: true,
			errMsg:  "fetch_timeout must be positive",
		},
		{
			name:    "negative rate",
			config:  CacheConfig{Backend: "memory", FetchTimeout: time.Second, FetchRate: -1},
			wantErr: true,
			errMsg:  "fetch_rate cannot be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPublishConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  PublishConfig
		wantErr bool
	}{
		{"local", PublishConfig{Provider: "local"}, false},
		{"complete s3", PublishConfig{Provider: "s3", S3Endpoint: "localhost:9000", S3AccessKey: "a", S3SecretKey: "b", S3Bucket: "assets"}, false},
		{"incomplete s3", PublishConfig{Provider: "s3", S3Endpoint: "localhost:9000"}, true},
		{"unknown provider", PublishConfig{Provider: "gcs"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ".fluxpack/build", cfg.Build.BuildDir)
	assert.Equal(t, "dist", cfg.Build.OutputDir)
	assert.Equal(t, "es2015", cfg.Build.Target)
	assert.True(t, cfg.Build.Minify)
	assert.Equal(t, 4, cfg.Build.Concurrency)
	assert.Equal(t, "badger", cfg.Cache.Backend)
	assert.Equal(t, 30*time.Second, cfg.Cache.FetchTimeout)
	assert.Equal(t, "local", cfg.Publish.Provider)
	assert.Equal(t, "fluxpack", cfg.Tracing.ServiceName)
	assert.False(t, cfg.Debug)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	file := filepath.Join(dir, "custom.yaml")
	content := `
build:
  target: es2020
  minify: false
  browserslist:
    - chrome >= 80
  entries:
    - url: /pages/index.tsx
    - url: https://cdn.example.com/react.js
      shared: true
  import_map:
    react: https://cdn.example.com/react.js
cache:
  backend: memory
`
	require.NoError(t, os.WriteFile(file, []byte(content), 0644))

	cfg, err := Load(file)
	require.NoError(t, err)

	assert.Equal(t, "es2020", cfg.Build.Target)
	assert.False(t, cfg.Build.Minify)
	assert.Equal(t, []string{"chrome >= 80"}, cfg.Build.Browserslist)
	require.Len(t, cfg.Build.Entries, 2)
	assert.Equal(t, "/pages/index.tsx", cfg.Build.Entries[0].URL)
	assert.False(t, cfg.Build.Entries[0].Shared)
	assert.True(t, cfg.Build.Entries[1].Shared)
	assert.Equal(t, "https://cdn.example.com/react.js", cfg.Build.ImportMap["react"])
	assert.Equal(t, "memory", cfg.Cache.Backend)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("FLUXPACK_BUILD_TARGET", "es2018")
	t.Setenv("FLUXPACK_CACHE_BACKEND", "memory")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "es2018", cfg.Build.Target)
	assert.Equal(t, "memory", cfg.Cache.Backend)
}

func TestLoad_Invalid(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("FLUXPACK_PUBLISH_PROVIDER", "ftp")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}
