// File: cmd/scan.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-sast/api/schemas"
	"github.com/xkilldash9x/scalpel-sast/internal/config"
	"github.com/xkilldash9x/scalpel-sast/internal/discovery"
	"github.com/xkilldash9x/scalpel-sast/internal/engine"
	"github.com/xkilldash9x/scalpel-sast/internal/frontend"
	"github.com/xkilldash9x/scalpel-sast/internal/observability"
	"github.com/xkilldash9x/scalpel-sast/internal/reporting"
)

func newScanCmd() *cobra.Command {
	return newScanCmdWithProvider(NewStoreProvider())
}

// newScanCmdWithProvider creates the `scan` command with the given store
// provider, which is only used with --persist.
func newScanCmdWithProvider(provider storeProvider) *cobra.Command {
	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan a source tree or git revision for taint vulnerabilities",
		Long: `Parses every Java, Python and JavaScript file of a directory or git
revision, evaluates the selected rules and writes the vulnerabilities and
coverage gaps as JSON or SARIF.`,
		Example: `  scalpel-sast scan --path ./src
  scalpel-sast scan --git https://github.com/org/app --rev main --format sarif -o app.sarif
  scalpel-sast scan --path . --rule F001 --rule F004 --persist`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if err := applyScanFlagOverrides(cmd, cfg); err != nil {
				return err
			}
			return runScan(ctx, observability.GetLogger(), cfg, provider)
		},
	}

	// Target flags
	scanCmd.Flags().String("path", "", "Directory to scan")
	scanCmd.Flags().String("git", "", "Git repository to scan, a local path or a URL")
	scanCmd.Flags().String("rev", "", "Git revision to scan (default HEAD)")
	scanCmd.MarkFlagsMutuallyExclusive("path", "git")
	scanCmd.MarkFlagsOneRequired("path", "git")

	// Rule flags
	scanCmd.Flags().String("rules", "", "Rule catalog file (default is the embedded catalog)")
	scanCmd.Flags().StringArray("rule", nil, "Rule ID to run; repeatable (default is every rule)")

	// Reporting flags
	scanCmd.Flags().StringP("format", "f", reporting.FormatJSON, "Format for the output report ('json' or 'sarif')")
	scanCmd.Flags().StringP("output", "o", "", "Output file path. If unset, the report is printed to stdout.")
	scanCmd.Flags().Bool("persist", false, "Store the report in the configured database")

	// Configuration override flags.
	scanCmd.Flags().IntP("concurrency", "j", 0, "Number of concurrent engine workers. (Overrides config/env)")
	scanCmd.Flags().Duration("pair-timeout", 0, "Time limit for one rule over one file. (Overrides config/env)")
	scanCmd.Flags().StringArray("exclude", nil, "Additional exclude glob; repeatable")

	return scanCmd
}

// applyScanFlagOverrides copies the scan flags into cfg. Override flags only
// apply when set.
func applyScanFlagOverrides(cmd *cobra.Command, cfg config.Interface) error {
	flags := cmd.Flags()
	var sc config.ScanConfig
	sc.Path, _ = flags.GetString("path")
	sc.Repo, _ = flags.GetString("git")
	sc.Revision, _ = flags.GetString("rev")
	sc.RuleIDs, _ = flags.GetStringArray("rule")
	sc.Format, _ = flags.GetString("format")
	sc.Output, _ = flags.GetString("output")
	sc.Persist, _ = flags.GetBool("persist")

	if sc.Revision != "" && sc.Repo == "" {
		return errors.New("--rev requires --git")
	}
	if sc.Format != reporting.FormatJSON && sc.Format != reporting.FormatSARIF {
		return fmt.Errorf("unsupported output format: %s", sc.Format)
	}
	cfg.SetScanConfig(sc)

	if flags.Changed("rules") {
		p, _ := flags.GetString("rules")
		cfg.SetRulesPath(p)
	}
	if flags.Changed("concurrency") {
		n, _ := flags.GetInt("concurrency")
		if n <= 0 {
			return fmt.Errorf("--concurrency must be positive, got %d", n)
		}
		cfg.SetEngineWorkerConcurrency(n)
	}
	if flags.Changed("pair-timeout") {
		d, _ := flags.GetDuration("pair-timeout")
		cfg.SetEnginePairTimeout(d)
	}
	if flags.Changed("exclude") {
		extra, _ := flags.GetStringArray("exclude")
		cfg.AddDiscoveryExcludes(extra...)
	}
	return nil
}

// runScan executes one scan with the settings in cfg.
func runScan(ctx context.Context, logger *zap.Logger, cfg config.Interface, provider storeProvider) error {
	sc := cfg.Scan()
	logger.Info("Starting new scan",
		zap.String("path", sc.Path),
		zap.String("git", sc.Repo),
		zap.Strings("rules", sc.RuleIDs))

	catalog, err := loadCatalog(cfg.Rules())
	if err != nil {
		return err
	}
	// Unknown rule ids fail before any file is read.
	if _, err := catalog.Select(sc.RuleIDs); err != nil {
		return err
	}

	files, root, revision, err := discoverFiles(ctx, sc, discovery.OptionsFromConfig(cfg.Discovery()))
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}

	parser := frontend.New(logger, cfg.Discovery().MaxFileSize)
	db, buildGaps, err := discovery.Build(ctx, files, parser, logger, discovery.BuildOptions{
		Concurrency:  cfg.Engine().WorkerConcurrency,
		ParseTimeout: cfg.Engine().ParseTimeout,
	})
	if err != nil {
		return err
	}

	var metrics *observability.Metrics
	if cfg.Metrics().Enabled {
		metrics = observability.NewMetrics()
	}
	eng, err := engine.New(cfg, logger, catalog, metrics)
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}
	report, err := eng.Analyze(ctx, db, sc.RuleIDs)
	if err != nil {
		return err
	}

	report.Root = root
	report.Revision = revision
	for _, g := range buildGaps {
		metrics.Gap(string(g.Reason))
	}
	report.Gaps = append(report.Gaps, buildGaps...)
	report.Sort()

	if err := writeReport(logger, report, catalog, sc.Format, sc.Output); err != nil {
		return err
	}
	if sc.Persist {
		if err := persistReport(ctx, cfg, report, provider); err != nil {
			return err
		}
	}
	if metrics != nil {
		if err := metrics.WriteTextfile(cfg.Metrics().TextfilePath); err != nil {
			logger.Warn("Failed to write metrics", zap.Error(err))
		}
	}

	logger.Info("Scan complete",
		zap.String("run_id", report.RunID),
		zap.Int("files", report.Files),
		zap.Int("vulnerabilities", len(report.Vulnerabilities)),
		zap.Int("gaps", len(report.Gaps)))
	return nil
}

// discoverFiles loads the scan target. root is the absolute directory or the
// repository; revision is the resolved commit for git scans.
func discoverFiles(ctx context.Context, sc config.ScanConfig, opts discovery.Options) (files []discovery.SourceFile, root, revision string, err error) {
	if sc.Repo != "" {
		files, revision, err = discovery.FromGit(ctx, sc.Repo, sc.Revision, opts)
		return files, sc.Repo, revision, err
	}
	if sc.Path == "" {
		return nil, "", "", errors.New("a --path or --git target is required")
	}
	root, err = filepath.Abs(sc.Path)
	if err != nil {
		return nil, "", "", err
	}
	files, err = discovery.FromDirectory(ctx, root, opts)
	return files, root, "", err
}

// persistReport stores report in the configured database.
func persistReport(ctx context.Context, cfg config.Interface, report *schemas.Report, provider storeProvider) error {
	storeService, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}
	if err := storeService.EnsureSchema(ctx); err != nil {
		return err
	}
	if err := storeService.PersistReport(ctx, report); err != nil {
		return fmt.Errorf("failed to persist report: %w", err)
	}
	return nil
}
