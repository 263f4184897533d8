package storage

import (
	"fmt"
	"strings"

	"github.com/fluxbase-eu/fluxpack/internal/config"
)

// NewTarget creates the provider described by cfg. Local targets write under
// cfg.LocalPath, or outputDir when it is empty.
func NewTarget(cfg *config.PublishConfig, outputDir string) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "local":
		root := cfg.LocalPath
		if root == "" {
			root = outputDir
		}
		provider, err := NewLocalStorage(root)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize local storage: %w", err)
		}
		return provider, nil

	case "s3":
		provider, err := NewS3Storage(s3Options(cfg))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 storage: %w", err)
		}
		return provider, nil

	default:
		return nil, fmt.Errorf("unsupported storage provider: %s", cfg.Provider)
	}
}

// s3Options reads the scheme of the configured endpoint as the TLS switch.
// An empty endpoint means AWS.
func s3Options(cfg *config.PublishConfig) S3Options {
	opts := S3Options{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Region:    cfg.S3Region,
		Bucket:    cfg.S3Bucket,
		UseSSL:    true,
	}
	switch {
	case strings.HasPrefix(opts.Endpoint, "http://"):
		opts.Endpoint = strings.TrimPrefix(opts.Endpoint, "http://")
		opts.UseSSL = false
	case strings.HasPrefix(opts.Endpoint, "https://"):
		opts.Endpoint = strings.TrimPrefix(opts.Endpoint, "https://")
	}
	if opts.Endpoint == "" {
		opts.Endpoint = "s3.amazonaws.com"
		opts.UseSSL = true
	}
	return opts
}
