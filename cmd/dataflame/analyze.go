package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kylegalloway/dataflame/internal/analysis"
	"github.com/kylegalloway/dataflame/internal/config"
	"github.com/kylegalloway/dataflame/internal/prompt"
	"github.com/kylegalloway/dataflame/internal/sandbox"
	"github.com/kylegalloway/dataflame/internal/session"
	"github.com/kylegalloway/dataflame/internal/ui"
)

func newAnalyzeCmd(opts *globalOptions) *cobra.Command {
	var (
		files  []string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "analyze <request>",
		Short: "Analyze data files for a natural-language request",
		Example: `  dataflame analyze "Which region has the highest revenue growth?" --file sales.csv
  dataflame analyze "Compare the two quarters" -f q1.csv -f q2.csv --max-rounds 5`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			request := strings.Join(args, " ")
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			logger, err := opts.newLogger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if err := session.ValidateInputs(files); err != nil {
				return err
			}
			if dryRun {
				return printDryRun(cmd.OutOrStdout(), cfg, request, files)
			}
			if cfg.Model.APIKey == "" && cfg.Model.BaseURL == "" {
				return fmt.Errorf("no API key: set %s or DATAFLAME_MODEL_API_KEY", cfg.Model.APIKeyEnv)
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			stopSignals := handleSignals(cancel, cmd.ErrOrStderr())
			defer stopSignals()

			printer := ui.NewPrinter(cmd.OutOrStdout())
			analyzer := analysis.New(cfg, newClient(cfg.Model, logger), logger)
			analyzer.SetObserver(printer)

			res, err := analyzer.Analyze(ctx, request, files, cfg.Limits.MaxRounds)
			if err != nil {
				var ae *analysis.AnalysisError
				if errors.As(err, &ae) && ae.SessionID != "" {
					return fmt.Errorf("%w (session %s)", err, ae.SessionID)
				}
				return err
			}
			printer.Summary(res, cfg.Limits.MaxRounds)
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "input data file (.csv, .tsv, .txt, .json); repeat for several")
	cmd.Flags().Int("max-rounds", 0, "maximum successful analysis rounds (default from config)")
	cmd.Flags().String("model", "", "model name")
	cmd.Flags().String("output-dir", "", "directory receiving session folders")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate inputs and print the first prompt without calling the model")
	_ = cmd.MarkFlagRequired("file")

	_ = opts.v.BindPFlag("limits.max_rounds", cmd.Flags().Lookup("max-rounds"))
	_ = opts.v.BindPFlag("model.name", cmd.Flags().Lookup("model"))
	_ = opts.v.BindPFlag("output.dir", cmd.Flags().Lookup("output-dir"))
	return cmd
}

// handleSignals cancels the analysis on the first SIGINT/SIGTERM; the
// loop then stops at the next round boundary. A second signal exits.
func handleSignals(cancel context.CancelFunc, w io.Writer) (stop func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(w, "\nReceived %s, finishing the current round and writing a partial report...\n", sig)
			cancel()
		case <-done:
			return
		}
		select {
		case <-sigCh:
			fmt.Fprintln(w, "Force exit.")
			os.Exit(1)
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

func printDryRun(w io.Writer, cfg *config.Config, request string, files []string) error {
	executor := sandbox.NewExecutor(sandbox.Options{AllowedModules: cfg.Sandbox.AllowedModules})
	builder := prompt.NewBuilder(executor.Modules(), cfg.Prompt.RecencyWindow)

	inputs := make([]string, len(files))
	for i, f := range files {
		inputs[i] = filepath.Base(f)
	}
	msgs := builder.Build(prompt.Input{
		Request:   request,
		Inputs:    inputs,
		Namespace: []sandbox.VarInfo{{Name: session.InputFilesVar, Type: "tuple", Summary: fmt.Sprintf("len=%d", len(inputs))}},
		Stage:     prompt.StageExplore,
		MaxRounds: cfg.Limits.MaxRounds,
	})

	fmt.Fprintln(w, "=== DRY RUN ===")
	fmt.Fprintf(w, "Model:       %s\n", cfg.Model.Name)
	if cfg.Model.BaseURL != "" {
		fmt.Fprintf(w, "Endpoint:    %s\n", cfg.Model.BaseURL)
	}
	if cfg.Model.Fallback != nil {
		fmt.Fprintf(w, "Fallback:    %s\n", cfg.Model.Fallback.Name)
	}
	fmt.Fprintf(w, "Max rounds:  %d\n", cfg.Limits.MaxRounds)
	fmt.Fprintf(w, "Decision:    %s\n", cfg.Decision.Mode)
	fmt.Fprintf(w, "Modules:     %s\n", strings.Join(executor.Modules(), ", "))
	fmt.Fprintf(w, "Output dir:  %s\n", cfg.Output.Dir)
	fmt.Fprintln(w, "Inputs:")
	for _, f := range files {
		fmt.Fprintf(w, "  %s\n", f)
	}
	fmt.Fprintln(w)
	for _, m := range msgs {
		fmt.Fprintf(w, "--- %s ---\n%s\n\n", m.Role, m.Content)
	}
	fmt.Fprintln(w, "No model request was made.")
	return nil
}
