// Package qcfg loads quill's process-level configuration from the environment.
package qcfg

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type EnvConfig struct {
	TrackingURI    string `envconfig:"QUILL_TRACKING_URI"`
	TrackingDir    string `envconfig:"QUILL_TRACKING_DIR" default:".quill"`
	TrackingToken  string `envconfig:"QUILL_TRACKING_TOKEN"`
	CondaHome      string `envconfig:"QUILL_CONDA_HOME"`
	DefaultBackend string `envconfig:"QUILL_BACKEND" default:"local"`
	StorageDir     string `envconfig:"QUILL_STORAGE_DIR"`
	S3Endpoint     string `envconfig:"QUILL_S3_ENDPOINT"`
	S3AccessKey    string `envconfig:"QUILL_S3_ACCESS_KEY"`
	S3SecretKey    string `envconfig:"QUILL_S3_SECRET_KEY"`
	S3Bucket       string `envconfig:"QUILL_S3_BUCKET"`
	S3Region       string `envconfig:"QUILL_S3_REGION"`
	S3UseSSL       bool   `envconfig:"QUILL_S3_USE_SSL" default:"false"`
}

// Load reads configuration from the environment, loading a .env file first
// when one is present in the working directory.
func Load() (*EnvConfig, error) {
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load()
	}

	var cfg EnvConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	return &cfg, nil
}
