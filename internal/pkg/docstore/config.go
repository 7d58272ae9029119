package docstore

import (
	"errors"
	"fmt"

	"github.com/verigate/verigate/internal/pkg/env"
)

// Config holds document store (S3) configuration
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
	Enabled         bool
}

// LoadConfig loads document store configuration from environment variables
func LoadConfig() (*Config, error) {
	config := &Config{
		AccessKeyID:     env.GetEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("S3_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("S3_REGION", "us-west-001"),
		BucketName:      env.GetEnv("S3_BUCKET_NAME", ""),
		EndpointURL:     env.GetEnv("S3_ENDPOINT_URL", ""),
		Enabled:         env.GetEnv("S3_DOCSTORE_ENABLED", "false") == "true",
	}

	// Validate required fields if the document store is enabled
	if config.Enabled {
		if config.AccessKeyID == "" {
			return nil, errors.New("S3_ACCESS_KEY_ID is required when the document store is enabled")
		}
		if config.SecretAccessKey == "" {
			return nil, errors.New("S3_SECRET_ACCESS_KEY is required when the document store is enabled")
		}
		if config.BucketName == "" {
			return nil, errors.New("S3_BUCKET_NAME is required when the document store is enabled")
		}
	}

	return config, nil
}

// IsEnabled returns true if the document store is enabled
func (c *Config) IsEnabled() bool {
	return c.Enabled
}

// ObjectKey generates the standardized S3 object key for a session document
func ObjectKey(sessionID, documentType string) string {
	// Format: sessions/<session-id>/<document-type>.jpg
	return fmt.Sprintf("sessions/%s/%s.jpg", sessionID, documentType)
}

// GetBucketName returns the bucket name as configured (no automatic prefixing)
func (c *Config) GetBucketName() string {
	return c.BucketName
}
