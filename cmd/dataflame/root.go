package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kylegalloway/dataflame/internal/config"
	"github.com/kylegalloway/dataflame/internal/llm"
	"github.com/kylegalloway/dataflame/internal/ui"
)

const defaultConfigFile = "dataflame.yaml"

// newClient builds the model client; tests replace it with a scripted one.
var newClient = func(cfg config.ModelConfig, logger *slog.Logger) llm.Client {
	return llm.FromConfig(cfg, logger)
}

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	verbose    bool
	logFormat  string
	v          *viper.Viper
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:           "dataflame",
		Short:         "Analyze data files by letting a language model write and run the analysis",
		Long:          "dataflame asks a language model for analysis code, runs it in a restricted Starlark sandbox against your files, feeds the results back, and writes a Markdown and HTML report with charts.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to the config file (default dataflame.yaml, env DATAFLAME_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log debug details")
	rootCmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "auto", "log format: auto, text or json")

	rootCmd.AddCommand(
		newVersionCmd(),
		newConfigCmd(opts),
		newAnalyzeCmd(opts),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "dataflame %s\n", version)
			return err
		},
	}
}

// loadConfig reads the config file and layers environment and flag
// overrides on top. A missing default config file is not an error.
func (o *globalOptions) loadConfig() (*config.Config, error) {
	v := o.v
	v.SetEnvPrefix("DATAFLAME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for key, envs := range envAliases {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	path := o.configPath
	explicit := path != ""
	if !explicit {
		path = v.GetString("config")
		explicit = path != ""
	}
	if !explicit {
		path = defaultConfigFile
	}

	cfg, err := config.Load(path)
	switch {
	case err == nil:
	case !explicit && errors.Is(err, fs.ErrNotExist):
		cfg = config.Default()
	default:
		return nil, err
	}

	applyOverrides(v, cfg)
	if err := config.Finalize(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// envAliases maps config keys to the conventional variables read in
// addition to DATAFLAME_<KEY>.
var envAliases = map[string][]string{
	"model.api_key":  {"DATAFLAME_MODEL_API_KEY", "OPENAI_API_KEY"},
	"model.base_url": {"DATAFLAME_MODEL_BASE_URL", "OPENAI_BASE_URL"},
	"model.name":     {"DATAFLAME_MODEL_NAME", "OPENAI_MODEL"},
}

func applyOverrides(v *viper.Viper, cfg *config.Config) {
	if v.IsSet("output.dir") {
		cfg.Output.Dir = v.GetString("output.dir")
	}
	if v.IsSet("model.name") {
		cfg.Model.Name = v.GetString("model.name")
	}
	if v.IsSet("model.base_url") {
		cfg.Model.BaseURL = v.GetString("model.base_url")
	}
	if v.IsSet("model.api_key") {
		cfg.Model.APIKey = v.GetString("model.api_key")
	}
	if v.IsSet("model.temperature") {
		cfg.Model.Temperature = v.GetFloat64("model.temperature")
	}
	if v.IsSet("model.request_timeout") {
		cfg.Model.RequestTimeout = v.GetDuration("model.request_timeout")
	}
	if v.IsSet("model.max_retries") {
		cfg.Model.MaxRetries = v.GetInt("model.max_retries")
	}
	if v.IsSet("limits.max_rounds") {
		cfg.Limits.MaxRounds = v.GetInt("limits.max_rounds")
	}
	if v.IsSet("limits.exec_timeout") {
		cfg.Limits.ExecTimeout = v.GetDuration("limits.exec_timeout")
	}
	if v.IsSet("decision.mode") {
		cfg.Decision.Mode = v.GetString("decision.mode")
	}
	if v.IsSet("decision.threshold") {
		cfg.Decision.Threshold = v.GetInt("decision.threshold")
	}
}

// newLogger builds the process logger on w. Text is used on a terminal,
// JSON otherwise.
func (o *globalOptions) newLogger(w io.Writer) (*slog.Logger, error) {
	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	format := o.logFormat
	if format == "auto" || format == "" {
		format = "json"
		if ui.IsTerminal(w) {
			format = "text"
		}
	}
	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q (use auto, text or json)", o.logFormat)
	}
}
