package qcfg

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// CLIConfig is the file-backed configuration consumed by the command-line
// tool. It layers a tracked project file under local untracked overrides,
// with QUILL_* environment variables taking precedence over both.
type CLIConfig struct {
	TrackingURI string `mapstructure:"tracking-uri"`
	TrackingDir string `mapstructure:"tracking-dir"`
	Backend     string `mapstructure:"backend"`
	CondaHome   string `mapstructure:"conda-home"`

	v *viper.Viper
}

const (
	EnvPrefix  = "QUILL"
	ConfigRoot = ".quill"

	TrackingDirKey = "tracking-dir"
	BackendKey     = "backend"
)

// LoadCLIConfig creates a new CLIConfig with its own viper instance; there
// is no global state.
func LoadCLIConfig(cfgFile string) (*CLIConfig, error) {
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", cfgFile, err)
		}
	} else {
		// Tracked project-level config in the current directory. The name
		// avoids quill.yaml, which is the project declaration file.
		for _, name := range []string{".quillconfig.yaml", ".quillconfig.yml"} {
			if _, err := os.Stat(name); err == nil {
				v.SetConfigFile(name)
				if err := v.ReadInConfig(); err == nil {
					break
				}
			}
		}

		// Untracked local overrides.
		localConfigPath := filepath.Join(ConfigRoot, "config.yaml")
		if _, err := os.Stat(localConfigPath); err == nil {
			v.SetConfigFile(localConfigPath)
			if err := v.MergeInConfig(); err != nil {
				return nil, fmt.Errorf("merging local config: %w", err)
			}
		}
	}

	v.SetDefault(TrackingDirKey, ConfigRoot)
	v.SetDefault(BackendKey, "local")

	var cfg CLIConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.v = v
	return &cfg, nil
}

// GetString returns a string value from the underlying viper instance.
// Useful for values bound from CLI flags.
func (c *CLIConfig) GetString(key string) string {
	if c.v == nil {
		return ""
	}
	return c.v.GetString(key)
}

// Viper returns the underlying viper instance for flag binding.
func (c *CLIConfig) Viper() *viper.Viper {
	return c.v
}

// ConfigFileUsed returns the config file that was used, if any.
func (c *CLIConfig) ConfigFileUsed() string {
	if c.v == nil {
		return ""
	}
	return c.v.ConfigFileUsed()
}
