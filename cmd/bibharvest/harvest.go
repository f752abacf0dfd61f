package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/bibharvest/internal/app"
	"github.com/JakeFAU/bibharvest/internal/config"
	"github.com/JakeFAU/bibharvest/internal/logging"
)

// newHarvestCmd creates the 'harvest' subcommand.
func newHarvestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Harvest every configured source and write the merged records",
		Long: `Runs every source in the source file in order, enriches records with DOI
metadata, merges the metadata into the records and writes the output file.
Responses are cached on first fetch and never refetched.`,
		RunE: runHarvestCommand,
	}
	flags := cmd.Flags()
	flags.String("source-file", "", "file describing the bibliography sources (.json, .json5, .yaml)")
	flags.String("output-file", "", "where to write the merged records")
	flags.String("cache-file", "", "response cache file (json backend)")
	flags.String("doi-file", "", "DOI metadata cache file (json backend)")
	flags.String("cache-backend", "", "cache backend: json, sqlite or postgres")
	flags.String("http-client", "", "HTTP client: colly or resty")
	return cmd
}

func runHarvestCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	undo := zap.ReplaceGlobals(logger)
	defer undo()

	a, err := app.New(cmd.Context(), cfg, logger.Named("bibharvest"))
	if err != nil {
		return fmt.Errorf("initialize application services: %w", err)
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			logger.Warn("failed to close caches", zap.Error(cerr))
		}
	}()

	report, err := a.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("harvest run %s: %w", a.RunID(), err)
	}
	renderSummary(cmd.ErrOrStderr(), report)
	return nil
}
