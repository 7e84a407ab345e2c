// Package config loads application settings from environment variables and
// the static pipeline plan file.
package config

import (
	"errors"
	"os"
)

// Config holds the store endpoints and run identity, populated from
// environment variables (loaded from .env in main).
type Config struct {
	MongoURI      string
	SourceDB      string
	PostgresDSN   string
	InstitutionID string

	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3UseSSL    bool
}

// Load reads the environment. Object storage settings are optional here and
// validated separately, since verify-only runs never touch them.
func Load() (*Config, error) {
	cfg := &Config{
		MongoURI:      os.Getenv("MONGO_URI"),
		SourceDB:      os.Getenv("SOURCE_DB"),
		PostgresDSN:   os.Getenv("POSTGRES_DSN"),
		InstitutionID: os.Getenv("INSTITUTION_ID"),
		S3Endpoint:    os.Getenv("S3_ENDPOINT"),
		S3AccessKey:   os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:   os.Getenv("S3_SECRET_KEY"),
		S3Bucket:      os.Getenv("S3_BUCKET"),
		S3UseSSL:      os.Getenv("S3_USE_SSL") == "true",
	}

	if cfg.MongoURI == "" {
		return nil, errors.New("MONGO_URI environment variable not set")
	}
	if cfg.SourceDB == "" {
		return nil, errors.New("SOURCE_DB environment variable not set")
	}
	if cfg.PostgresDSN == "" {
		return nil, errors.New("POSTGRES_DSN environment variable not set")
	}
	if cfg.InstitutionID == "" {
		return nil, errors.New("INSTITUTION_ID environment variable not set")
	}
	return cfg, nil
}

// ValidateObjectStorage checks the settings the attachment relocator needs.
func (c *Config) ValidateObjectStorage() error {
	if c.S3Endpoint == "" || c.S3AccessKey == "" || c.S3SecretKey == "" {
		return errors.New("S3_ENDPOINT, S3_ACCESS_KEY and S3_SECRET_KEY must be set for attachment relocation")
	}
	if c.S3Bucket == "" {
		return errors.New("S3_BUCKET environment variable not set")
	}
	return nil
}
