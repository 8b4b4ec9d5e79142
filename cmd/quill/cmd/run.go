package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	sigyaml "sigs.k8s.io/yaml"

	"github.com/quillml/quill/pkg/projects"
	"github.com/quillml/quill/pkg/qcfg"
	"github.com/quillml/quill/pkg/qhttp"
	"github.com/quillml/quill/pkg/qlog"
	"github.com/quillml/quill/pkg/qrunner"
	"github.com/quillml/quill/pkg/qtrack"
)

var (
	runParams         []string
	runEntryPoint     string
	runVersion        string
	runBackend        string
	runBackendConfig  string
	runExperimentID   string
	runExperimentName string
	runParentRunID    string
	runDockerImage    string
	runStorageDir     string
	runNoIsolatedEnv  bool
	runAsync          bool
)

var runCmd = &cobra.Command{
	Use:   "run <uri>",
	Short: "Fetch a project and run one of its entry points",
	Long: `Fetch the project at the given reference and run an entry point, tracking
the run's lifecycle.

Examples:
  # Run the main entry point of a local project
  quill run ./examples/sklearn

  # Run a project from a git repository at a specific tag
  quill run https://github.com/acme/trainer --version v1.2 -P epochs=100

  # Run a subdirectory of a zip archive on the docker backend
  quill run https://example.com/bundle.zip#trainer --backend docker`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig(cmd)
		if err != nil {
			return err
		}

		logger := qlog.NewDefault()
		if verbose {
			logger = qlog.NewVerbose()
		}

		params, err := parseParams(runParams)
		if err != nil {
			return err
		}
		backendConfig, err := loadBackendConfig(runBackendConfig)
		if err != nil {
			return err
		}
		tracking, err := buildTrackingStore(cfg)
		if err != nil {
			return err
		}

		backend := runBackend
		if backend == "" {
			backend = cfg.GetString(qcfg.BackendKey)
		}

		opts := &projects.RunOptions{
			EntryPoint:      runEntryPoint,
			Version:         runVersion,
			Parameters:      params,
			ExperimentName:  runExperimentName,
			ExperimentID:    runExperimentID,
			ParentRunID:     runParentRunID,
			Backend:         backend,
			BackendConfig:   backendConfig,
			SkipIsolatedEnv: runNoIsolatedEnv,
			StorageDir:      runStorageDir,
			DockerImage:     runDockerImage,
			LogDir:          logDir(cfg),
			Tracking:        tracking,
			Logger:          logger,
		}

		run, err := projects.Run(cmd.Context(), args[0], opts)
		exitIfRunError(err)

		if runAsync {
			fmt.Printf("Run %s submitted\n", run.RunID())
			return nil
		}

		status, err := run.Wait(cmd.Context())
		if err != nil {
			return fmt.Errorf("waiting for run %s: %w", run.RunID(), err)
		}
		fmt.Printf("Run %s finished with status %s\n", run.RunID(), status)
		if status != qrunner.StatusFinished {
			os.Exit(1)
		}
		return nil
	},
}

// parseParams turns repeated -P key=value flags into a map.
func parseParams(pairs []string) (map[string]string, error) {
	params := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q: expected key=value", pair)
		}
		params[key] = value
	}
	return params, nil
}

// loadBackendConfig reads a YAML or JSON file of backend settings.
func loadBackendConfig(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading backend config %s: %w", path, err)
	}
	var config map[string]string
	if err := sigyaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing backend config %s: %w", path, err)
	}
	return config, nil
}

func buildTrackingStore(cfg *qcfg.CLIConfig) (qtrack.Store, error) {
	if uri := cfg.GetString("tracking-uri"); uri != "" {
		env, err := qcfg.Load()
		if err != nil {
			return nil, err
		}
		return qtrack.NewRestStore(qhttp.HostCreds{Host: uri, Token: env.TrackingToken}), nil
	}
	return qtrack.NewFileStore(trackingDir(cfg))
}

func trackingDir(cfg *qcfg.CLIConfig) string {
	if dir := cfg.GetString(qcfg.TrackingDirKey); dir != "" {
		return dir
	}
	return projects.DefaultTrackingDir
}

// logDir keeps each run's captured stdout/stderr next to its tracking data;
// remote tracking stores capture nothing.
func logDir(cfg *qcfg.CLIConfig) string {
	if cfg.GetString("tracking-uri") != "" {
		return ""
	}
	return trackingDir(cfg) + "/logs"
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringArrayVarP(&runParams, "param", "P", nil, "entry point parameter as key=value (repeatable)")
	runCmd.Flags().StringVarP(&runEntryPoint, "entry-point", "e", "", "entry point to run (default \"main\")")
	runCmd.Flags().StringVar(&runVersion, "version", "", "commit, branch, or tag for version-controlled references")
	runCmd.Flags().StringVarP(&runBackend, "backend", "b", "", "execution backend: local, docker, or kubernetes")
	runCmd.Flags().StringVar(&runBackendConfig, "backend-config", "", "path to a YAML/JSON file of backend settings")
	runCmd.Flags().StringVar(&runExperimentID, "experiment-id", "", "experiment id to record the run under")
	runCmd.Flags().StringVar(&runExperimentName, "experiment-name", "", "experiment name to record the run under")
	runCmd.Flags().StringVar(&runParentRunID, "parent-run-id", "", "record the run as a child of this run")
	runCmd.Flags().StringVar(&runDockerImage, "docker-image", "", "container image overriding the project declaration")
	runCmd.Flags().StringVar(&runStorageDir, "storage-dir", "", "directory for downloaded path-typed parameters")
	runCmd.Flags().BoolVar(&runNoIsolatedEnv, "no-isolated-env", false, "run in the ambient environment instead of a prepared one")
	runCmd.Flags().BoolVar(&runAsync, "async", false, "submit and return without waiting for completion")
}
