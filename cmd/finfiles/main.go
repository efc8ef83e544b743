// FinFiles — SEC filing ingestion, distribution, and analytics.
//
// Main CLI entrypoint using cobra command framework.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/finfiles/finfiles/api"
	"github.com/finfiles/finfiles/internal/analytics"
	"github.com/finfiles/finfiles/internal/audit"
	"github.com/finfiles/finfiles/internal/config"
	"github.com/finfiles/finfiles/internal/edgar"
	"github.com/finfiles/finfiles/internal/fetcher"
	"github.com/finfiles/finfiles/internal/filing"
	"github.com/finfiles/finfiles/internal/hub"
	"github.com/finfiles/finfiles/pkg/models"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Global config
var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "finfiles",
	Short: "FinFiles — SEC filing ingestion, distribution, and analytics",
	Long: `FinFiles pulls regulatory filings from SEC EDGAR, deduplicates them
into a canonical store, streams them to filtered subscribers, and runs
pluggable analytics over filing documents. Every privileged action
lands in an append-only audit trail.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config/config.yaml)")
	rootCmd.PersistentFlags().String("role", "operator", "actor role recorded in the audit trail")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(backendsCmd)
	rootCmd.AddCommand(statusCmd)
}

// system bundles the wired components for one process.
type system struct {
	deps   api.Deps
	cancel context.CancelFunc
}

// buildSystem wires the store, hub, fetcher, analytics, and audit
// trail from the loaded configuration.
func buildSystem() (*system, error) {
	client := edgar.NewClient(cfg.Edgar)

	store := filing.NewStore()
	h := hub.New(store, cfg.Hub.BufferWatermark)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	auditLog, err := audit.Open(cfg.Audit)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open audit trail: %w", err)
	}

	disp := analytics.NewDispatcher(cfg.AnalyticsTimeout(), time.Duration(cfg.Analytics.CacheTTLSec)*time.Second)
	disp.Register(analytics.NewLocalBackend())
	if cfg.Analytics.RemoteURL != "" {
		remote, err := analytics.NewRemoteBackend(cfg.Analytics.RemoteURL,
			analytics.WithRemoteModel(cfg.Analytics.RemoteModel),
			analytics.WithRemoteKey(cfg.Analytics.RemoteKey))
		if err != nil {
			cancel()
			return nil, err
		}
		disp.Register(remote)
	}
	if cfg.Analytics.DefaultBackend != "" {
		if err := disp.SetDefault(cfg.Analytics.DefaultBackend); err != nil {
			log.Printf("default backend %q unavailable, using local", cfg.Analytics.DefaultBackend)
		}
	}

	poller := fetcher.New(client, h, auditLog, fetcher.Config{
		Tickers:     cfg.Fetcher.Tickers,
		Interval:    cfg.PollInterval(),
		MaxInFlight: cfg.Fetcher.MaxInFlight,
		RetryBase:   time.Duration(cfg.Fetcher.RetryBaseMs) * time.Millisecond,
		RetryMax:    time.Duration(cfg.Fetcher.RetryMaxMs) * time.Millisecond,
		MaxAttempts: cfg.Fetcher.MaxAttempts,
	})

	return &system{
		deps: api.Deps{
			Store:      store,
			Hub:        h,
			Poller:     poller,
			Edgar:      client,
			Dispatcher: disp,
			Audit:      auditLog,
		},
		cancel: cancel,
	}, nil
}

func (s *system) close() {
	s.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.AuditFlushTimeout())
	defer cancel()
	if err := s.deps.Audit.Close(ctx); err != nil {
		log.Printf("audit close: %v", err)
	}
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("FinFiles %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

// --- Serve Command (API Server) ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server and background poller",
	RunE: func(cmd *cobra.Command, args []string) error {
		sys, err := buildSystem()
		if err != nil {
			return err
		}
		defer sys.close()

		if len(cfg.Fetcher.Tickers) > 0 {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go sys.deps.Poller.Run(ctx)
			log.Printf("polling %d tickers every %s", len(cfg.Fetcher.Tickers), cfg.PollInterval())
		}

		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		log.Printf("FinFiles API listening on %s", addr)
		srv := api.NewServer(cfg, sys.deps)
		return srv.ListenAndServe(addr)
	},
}

// --- Fetch Command ---

var fetchCmd = &cobra.Command{
	Use:   "fetch [ticker...]",
	Short: "Fetch recent filings for the given tickers",
	Long: `Fetch recent filings for the given tickers (or the configured watch
list) and print what was admitted. The fetch is recorded in the audit
trail under the role given with --role.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sys, err := buildSystem()
		if err != nil {
			return err
		}
		defer sys.close()

		tickers := args
		if len(tickers) == 0 {
			tickers = cfg.Fetcher.Tickers
		}
		if len(tickers) == 0 {
			return fmt.Errorf("no tickers given and no watch list configured")
		}

		role, _ := cmd.Flags().GetString("role")
		results := sys.deps.Poller.FetchOnce(cmd.Context(), role, tickers)

		for _, r := range results {
			if r.Err != nil {
				fmt.Printf("  %-8s error: %s\n", r.Ticker, r.Error)
				continue
			}
			fmt.Printf("  %-8s admitted=%d duplicates=%d parse_failures=%d\n",
				r.Ticker, r.Admitted, r.Duplicates, r.ParseFailures)
		}
		fmt.Printf("store now holds %d filings\n", sys.deps.Store.Len())
		return nil
	},
}

// --- Query Command ---

var queryCmd = &cobra.Command{
	Use:   "query [ticker...]",
	Short: "Fetch and filter filings from the command line",
	Long: `Fetch recent filings for the given tickers (or the configured watch
list), then print the ones matching the filter flags.

Examples:
  finfiles query AAPL --forms 10-K,10-Q
  finfiles query --forms 8-K --from 2024-01-01`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sys, err := buildSystem()
		if err != nil {
			return err
		}
		defer sys.close()

		tickers := args
		if len(tickers) == 0 {
			tickers = cfg.Fetcher.Tickers
		}
		if len(tickers) == 0 {
			return fmt.Errorf("no tickers given and no watch list configured")
		}

		spec, err := specFromFlags(cmd)
		if err != nil {
			return err
		}

		role, _ := cmd.Flags().GetString("role")
		sys.deps.Poller.FetchOnce(cmd.Context(), role, tickers)

		filings := sys.deps.Store.Query(spec)
		if len(filings) == 0 {
			fmt.Println("no filings match")
			return nil
		}
		for _, f := range filings {
			fmt.Printf("  %s  %-8s %s  %s\n",
				f.FiledDate.Format("2006-01-02"), f.FormType, f.AccessionID, f.CompanyName)
		}
		fmt.Printf("%d filings\n", len(filings))
		return nil
	},
}

func init() {
	queryCmd.Flags().String("forms", "", "comma-separated form types (e.g. 10-K,8-K)")
	queryCmd.Flags().StringSlice("cik", nil, "CIK numbers to match")
	queryCmd.Flags().String("from", "", "earliest filed date (2006-01-02)")
	queryCmd.Flags().String("to", "", "latest filed date (2006-01-02)")
}

func specFromFlags(cmd *cobra.Command) (filing.FilterSpec, error) {
	var spec filing.FilterSpec

	if forms, _ := cmd.Flags().GetString("forms"); forms != "" {
		for _, f := range strings.Split(forms, ",") {
			if f = strings.TrimSpace(f); f != "" {
				spec.FormTypes = append(spec.FormTypes, models.FormType(f))
			}
		}
	}
	spec.CIKs, _ = cmd.Flags().GetStringSlice("cik")

	if from, _ := cmd.Flags().GetString("from"); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			return spec, fmt.Errorf("--from must be 2006-01-02 formatted")
		}
		spec.From = t
	}
	if to, _ := cmd.Flags().GetString("to"); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			return spec, fmt.Errorf("--to must be 2006-01-02 formatted")
		}
		spec.To = t
	}
	return spec, nil
}

// --- Audit Command ---

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Print the audit trail",
	RunE: func(cmd *cobra.Command, args []string) error {
		auditLog, err := audit.Open(cfg.Audit)
		if err != nil {
			return fmt.Errorf("open audit trail: %w", err)
		}
		defer auditLog.Close(cmd.Context())

		action, _ := cmd.Flags().GetString("action")
		role, _ := cmd.Flags().GetString("actor")
		limit, _ := cmd.Flags().GetInt("limit")

		entries, err := auditLog.Trail(cmd.Context(), audit.TrailFilter{
			Action:    models.AuditAction(action),
			ActorRole: role,
			Limit:     limit,
		})
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("audit trail is empty")
			return nil
		}
		for _, e := range entries {
			fmt.Printf("  #%-5d %s  %-10s %-16s %-8s %s\n",
				e.Seq, e.Timestamp.Format(time.RFC3339), e.ActorRole, e.Action, e.Outcome, e.Target)
		}
		return nil
	},
}

func init() {
	auditCmd.Flags().String("action", "", "filter by action (fetch, filter, export, analytics-invoke)")
	auditCmd.Flags().String("actor", "", "filter by actor role")
	auditCmd.Flags().Int("limit", 0, "maximum entries to print")
}

// --- Backends Command ---

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List the available analytics backends",
	RunE: func(cmd *cobra.Command, args []string) error {
		sys, err := buildSystem()
		if err != nil {
			return err
		}
		defer sys.close()

		for _, id := range sys.deps.Dispatcher.Backends() {
			fmt.Printf("  %s\n", id)
		}
		return nil
	},
}

// --- Status Command ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("═══════════════════════════════════════")
		fmt.Println("  FinFiles — Status")
		fmt.Println("═══════════════════════════════════════")
		fmt.Printf("  Version:       %s (%s)\n", version, commit)
		fmt.Println()
		fmt.Println("  Configuration:")
		fmt.Printf("    EDGAR:         %s (rate %d/s)\n", cfg.Edgar.DataURL, cfg.Edgar.RatePerSec)
		fmt.Printf("    Watch list:    %v\n", cfg.Fetcher.Tickers)
		fmt.Printf("    Poll interval: %s\n", cfg.PollInterval())
		fmt.Printf("    Analytics:     %s (timeout %s)\n", cfg.Analytics.DefaultBackend, cfg.AnalyticsTimeout())
		fmt.Printf("    Audit DB:      %s\n", cfg.Audit.DBPath)
		fmt.Printf("    API Server:    %s:%d\n", cfg.API.Host, cfg.API.Port)
		fmt.Println("═══════════════════════════════════════")
		return nil
	},
}
