package cmd

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/quillml/quill/pkg/qcfg"
)

type contextKey string

const configContextKey contextKey = "quillconfig"

var (
	cfgFile string
	verbose bool
	rootCmd = &cobra.Command{
		Use:   "quill",
		Short: "Run packaged projects and track their execution",
		Long: `quill resolves a project reference (a local directory, a zip archive, or a
git repository), fetches it locally, prepares an isolated environment, builds
the entry-point command, and runs it under a chosen backend (local process,
docker container, or kubernetes job) while recording the run's lifecycle in a
tracking store.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := qcfg.LoadCLIConfig(cfgFile)
			if err != nil {
				return err
			}

			if err := cfg.Viper().BindPFlags(cmd.Flags()); err != nil {
				return err
			}

			ctx := context.WithValue(cmd.Context(), configContextKey, cfg)
			cmd.SetContext(ctx)

			return nil
		},
	}
)

// GetConfig retrieves the CLIConfig from the command context
func GetConfig(cmd *cobra.Command) (*qcfg.CLIConfig, error) {
	ctx := cmd.Context()
	cfg, ok := ctx.Value(configContextKey).(*qcfg.CLIConfig)
	if !ok {
		return nil, errors.New("no config in context")
	}
	return cfg, nil
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML). Searches: .quillconfig.yaml, .quill/config.yaml")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug logging")
	rootCmd.PersistentFlags().String("tracking-dir", "", "directory for file-backed run tracking (overrides config)")
	rootCmd.PersistentFlags().String("tracking-uri", "", "base URL of a remote tracking server (overrides config)")
}
