package main

import (
	"fmt"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spotsave/spotsave/internal/config"
	"github.com/spotsave/spotsave/internal/engine"
	"github.com/spotsave/spotsave/internal/export"
	"github.com/spotsave/spotsave/internal/models"
	"github.com/spotsave/spotsave/internal/output"
	"github.com/spotsave/spotsave/internal/server"
	"github.com/spotsave/spotsave/internal/session"
	"github.com/spotsave/spotsave/internal/store"
	"github.com/spotsave/spotsave/internal/version"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "spotsave",
		Short: "spotsave finds AWS cost-saving opportunities across accounts",
	}
	root.PersistentFlags().String("config", "", "Path to a yaml config file (default: built-in defaults)")
	root.AddCommand(newScanCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprint(cmd.OutOrStdout(), version.Info())
		},
	}
}

// loadConfig resolves the effective configuration for a command: the file
// named by --config when set, the built-in defaults otherwise.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Config{}, err
	}
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return *cfg, nil
}

// newEngine wires the production coordinator: in-memory store behind the
// retrying decorator, STS-backed sessions from the process's own AWS
// credentials.
func newEngine(cmd *cobra.Command, cfg config.Config, log *zap.Logger) (engine.Engine, store.Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(cmd.Context())
	if err != nil {
		return nil, nil, fmt.Errorf("load AWS credentials: %w", err)
	}

	st := store.NewRetrying(store.NewMemoryStore(), cfg.StoreRetry.Policy())
	sessions := session.NewSTSProvider(awsCfg)
	return engine.NewCoordinator(cfg, st, sessions, log), st, nil
}

func newServeCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scan orchestration HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log, err := zap.NewProduction()
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer log.Sync() //nolint:errcheck

			eng, st, err := newEngine(cmd, cfg, log)
			if err != nil {
				return err
			}

			addr := cfg.Server.Listen
			if listen != "" {
				addr = listen
			}
			log.Info("starting server", zap.String("listen", addr))
			return server.New(eng, st, log).Start(addr)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (overrides config, default :8080)")
	return cmd
}

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan commands",
	}
	cmd.AddCommand(newScanRunCmd())
	return cmd
}

func newScanRunCmd() *cobra.Command {
	var (
		roleARN    string
		externalID string
		name       string
		regions    []string
		format     string
		outputPath string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one scan against an account and print its opportunities",
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID := models.ExtractAccountID(roleARN)
			if accountID == "" {
				return fmt.Errorf("malformed role ARN %q", roleARN)
			}
			if externalID == "" {
				return fmt.Errorf("an external ID is required")
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if len(regions) > 0 {
				cfg.Engine.Regions = regions
			}

			eng, st, err := newEngine(cmd, cfg, zap.NewNop())
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			account := models.Account{
				ID:         accountID,
				Name:       name,
				RoleARN:    roleARN,
				ExternalID: externalID,
				CreatedAt:  time.Now().UTC(),
			}
			if err := st.PutAccount(ctx, account); err != nil {
				return fmt.Errorf("register account: %w", err)
			}

			scanID, err := eng.StartScan(ctx, accountID)
			if err != nil {
				return fmt.Errorf("start scan: %w", err)
			}

			if err := watchProgress(eng, scanID); err != nil {
				return err
			}

			result, err := eng.GetResult(ctx, scanID)
			if err != nil {
				return fmt.Errorf("fetch result: %w", err)
			}
			if result.Session.State == models.ScanStateFailed {
				output.RenderSummary(cmd.OutOrStdout(), result.Session)
				return fmt.Errorf("scan failed: %s", result.Session.ErrorMessage)
			}

			switch format {
			case "json", "csv":
				set := export.Flatten(result.Session, result.Opportunities)
				return writeExport(cmd, set, format, outputPath)
			case "table", "":
				output.RenderOpportunities(cmd.OutOrStdout(), result.Opportunities)
				output.RenderSummary(cmd.OutOrStdout(), result.Session)
				return nil
			default:
				return fmt.Errorf("unsupported format %q (want table, json, or csv)", format)
			}
		},
	}

	cmd.Flags().StringVar(&roleARN, "role-arn", "", "IAM role ARN to assume in the target account (required)")
	cmd.Flags().StringVar(&externalID, "external-id", "", "External ID shared with the target account (required)")
	cmd.Flags().StringVar(&name, "name", "", "Friendly account name")
	cmd.Flags().StringSliceVar(&regions, "region", nil, "Region(s) to scan (default: the session's home region)")
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table, json, or csv")
	cmd.Flags().StringVar(&outputPath, "output", "", "Write json/csv output to this file instead of stdout")
	_ = cmd.MarkFlagRequired("role-arn")
	_ = cmd.MarkFlagRequired("external-id")

	return cmd
}

// watchProgress drives a terminal spinner from the scan's snapshot stream
// and returns once the terminal snapshot arrives.
func watchProgress(eng engine.Engine, scanID string) error {
	snapshots, err := eng.SubscribeProgress(scanID)
	if err != nil {
		return fmt.Errorf("subscribe to scan %s: %w", scanID, err)
	}

	sp := spinner.New(spinner.CharSets[9], 200*time.Millisecond)
	sp.Suffix = " Starting scan ..."
	sp.Start()
	defer sp.Stop()

	for snap := range snapshots {
		sp.Suffix = fmt.Sprintf(" %s %d%% (%d/%d domains, %d opportunities, $%.0f/yr)",
			snap.State, snap.Percent, snap.DomainsDone, snap.DomainsTotal,
			snap.OpportunitiesFound, snap.TotalSavingsAnnual)
	}
	return nil
}

// writeExport serialises set in the requested format to path, or to stdout
// when path is empty.
func writeExport(cmd *cobra.Command, set export.Set, format, path string) error {
	w := cmd.OutOrStdout()
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		defer f.Close()
		w = f
	}

	if format == "csv" {
		return export.WriteCSV(w, set)
	}
	return export.WriteJSON(w, set)
}
