// Command checker is the stockwatch availability checker and its operator
// CLI.
//
// Usage:
//
//	stockwatch-checker run
//	SUBSIDIARY=FR stockwatch-checker run
//	stockwatch-checker once --region CA
//	stockwatch-checker catalog sync --region US,FR
//	stockwatch-checker config set check_interval_seconds 60
//	stockwatch-checker webhook test https://discord.com/api/webhooks/...
//	stockwatch-checker prune
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ovhwatch/stockwatch/internal/availability"
	"github.com/ovhwatch/stockwatch/internal/backend"
	"github.com/ovhwatch/stockwatch/internal/catalog"
	"github.com/ovhwatch/stockwatch/internal/checker"
	"github.com/ovhwatch/stockwatch/internal/config"
	"github.com/ovhwatch/stockwatch/internal/maintenance"
	"github.com/ovhwatch/stockwatch/internal/notifications"
	"github.com/ovhwatch/stockwatch/internal/storage"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:          "stockwatch-checker",
		Short:        "VPS stock checker",
		SilenceUsage: true,
	}

	root.AddCommand(runCmd())
	root.AddCommand(onceCmd())
	root.AddCommand(catalogCmd())
	root.AddCommand(configCmd())
	root.AddCommand(webhookCmd())
	root.AddCommand(pruneCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// --------------------------------------------------------------------------
// run / once
// --------------------------------------------------------------------------

func runCmd() *cobra.Command {
	var region string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Check availability in a loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(func(ctx context.Context, cfg *config.Config, be *backend.Backend) error {
				if region != "" {
					cfg.Region = strings.ToUpper(region)
				}
				sched, err := buildScheduler(cfg, be)
				if err != nil {
					return err
				}

				var topo checker.Topology
				if cfg.Region != "" {
					topo = checker.SingleRegion(cfg.Region)
				} else {
					topo = checker.AllRegions(be.Store, logger)
				}
				logger.Info("Starting checker", "agent_id", cfg.AgentID, "topology", topo.Name())
				return sched.Run(ctx, topo)
			})
		},
	}
	cmd.Flags().StringVar(&region, "region", "", "Pin the checker to one region (overrides SUBSIDIARY)")
	return cmd
}

func onceCmd() *cobra.Command {
	var regions string
	cmd := &cobra.Command{
		Use:   "once",
		Short: "Run a single check cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(func(ctx context.Context, cfg *config.Config, be *backend.Backend) error {
				sched, err := buildScheduler(cfg, be)
				if err != nil {
					return err
				}
				list := catalog.ParseRegions(regions)
				settings := checker.NewSettingsResolver(be.Store, defaultSettings(cfg), logger).Resolve(ctx)
				result, err := sched.RunCycle(ctx, list, settings)
				if err != nil {
					return err
				}
				logger.Info("Check cycle finished", "summary", result.Summary())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&regions, "region", config.DefaultRegion, "Comma-separated regions, or ALL")
	return cmd
}

// --------------------------------------------------------------------------
// catalog command
// --------------------------------------------------------------------------

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Plan catalog maintenance",
	}
	cmd.AddCommand(catalogSyncCmd())
	return cmd
}

func catalogSyncCmd() *cobra.Command {
	var regions, baseURL string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync the plan registry from the order catalog now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(func(ctx context.Context, cfg *config.Config, be *backend.Backend) error {
				fetcher := catalog.NewFetcher(baseURL, cfg.UpstreamRPM, cfg.HTTPTimeout, logger)
				syncer := catalog.NewSyncer(fetcher, be.Store, cfg.CatalogSyncEvery, logger)
				var failed int
				for _, region := range catalog.ParseRegions(regions) {
					result, err := syncer.Sync(ctx, region)
					if err != nil {
						logger.Error("Catalog sync failed", "region", region, "error", err)
						failed++
						continue
					}
					logger.Info("Catalog sync finished",
						"duration", result.Duration.Round(time.Millisecond),
						"summary", result.Summary())
					for _, e := range result.Errors {
						logger.Error("sync error", "region", region, "error", e)
					}
				}
				if failed > 0 {
					return fmt.Errorf("%d region(s) failed to sync", failed)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&regions, "region", config.DefaultRegion, "Comma-separated regions, or ALL")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Override the regional API host")
	return cmd
}

// --------------------------------------------------------------------------
// config command
// --------------------------------------------------------------------------

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read or write dynamic configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get <key>",
		Short: "Print a config value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(func(ctx context.Context, cfg *config.Config, be *backend.Backend) error {
				v, ok, err := be.Store.GetConfig(ctx, args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("config key %q is not set", args[0])
				}
				fmt.Fprintln(cmd.OutOrStdout(), v)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Write a config value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(func(ctx context.Context, cfg *config.Config, be *backend.Backend) error {
				if err := be.Store.SetConfig(ctx, args[0], args[1]); err != nil {
					return err
				}
				logger.Info("Config updated", "key", args[0], "value", args[1])
				return nil
			})
		},
	})
	return cmd
}

// --------------------------------------------------------------------------
// webhook command
// --------------------------------------------------------------------------

func webhookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Validate or test a webhook destination",
	}

	var validateType string
	validate := &cobra.Command{
		Use:   "validate <url>",
		Short: "Check a webhook URL without sending anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			guard := notifications.NewURLGuard(net.DefaultResolver)
			kind, err := guard.Validate(cmd.Context(), args[0], validateType)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "valid %s webhook\n", kind)
			return nil
		},
	}
	validate.Flags().StringVar(&validateType, "type", "", "Destination type (discord, slack); sniffed when empty")

	var ep storage.Endpoint
	test := &cobra.Command{
		Use:   "test <url>",
		Short: "Send a test notification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			ep.URL = args[0]
			sender := notifications.NewWebhookSender(cfg.WebhookTimeout,
				notifications.NewURLGuard(net.DefaultResolver), logger)
			if err := sender.SendTest(cmd.Context(), ep); err != nil {
				return err
			}
			logger.Info("Test notification delivered", "type", ep.Type)
			return nil
		},
	}
	test.Flags().StringVar(&ep.Type, "type", "", "Destination type (discord, slack); sniffed when empty")
	test.Flags().StringVar(&ep.BotUsername, "username", "", "Bot username override")
	test.Flags().StringVar(&ep.SlackChannel, "channel", "", "Slack channel override")

	cmd.AddCommand(validate, test)
	return cmd
}

// --------------------------------------------------------------------------
// prune command
// --------------------------------------------------------------------------

func pruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete observations and notification history past retention",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(func(ctx context.Context, cfg *config.Config, be *backend.Backend) error {
				mcfg := maintenanceConfig(cfg)
				now := time.Now()
				result := maintenance.Cleanup(ctx, be.Store, mcfg, now, logger)
				promoted := maintenance.PromoteNewPlans(ctx, be.Store, mcfg, now, logger)
				logger.Info("Prune finished",
					"observations", result.Observations,
					"attempts", result.Attempts,
					"promoted", promoted)
				return nil
			})
		},
	}
}

// --------------------------------------------------------------------------
// Shared setup
// --------------------------------------------------------------------------

// withBackend handles config loading, store opening and context
// cancellation.
func withBackend(fn func(ctx context.Context, cfg *config.Config, be *backend.Backend) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})).
		With("agent_id", cfg.AgentID)
	slog.SetDefault(logger)

	be, err := backend.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer be.Close()

	return fn(ctx, cfg, be)
}

func defaultSettings(cfg *config.Config) checker.Settings {
	return checker.Settings{Interval: cfg.CheckInterval, ThresholdMinutes: cfg.ThresholdMinutes}
}

func maintenanceConfig(cfg *config.Config) maintenance.Config {
	mcfg := maintenance.DefaultConfig()
	mcfg.StatusRetention = cfg.StatusRetention
	mcfg.HistoryRetention = cfg.HistoryRetention
	return mcfg
}

// buildScheduler wires the availability client, detector, fan-out, catalog
// syncer and publishers around be.
func buildScheduler(cfg *config.Config, be *backend.Backend) (*checker.Scheduler, error) {
	locations, err := catalog.LoadLocations(cfg.LocationsFile)
	if err != nil {
		return nil, err
	}
	logger.Info("Datacenter locations loaded", "count", locations.Len(), "file", cfg.LocationsFile)

	guard := notifications.NewURLGuard(net.DefaultResolver)
	sender := notifications.NewWebhookSender(cfg.WebhookTimeout, guard, logger)
	fetcher := catalog.NewFetcher("", cfg.UpstreamRPM, cfg.HTTPTimeout, logger)

	return checker.NewScheduler(checker.Options{
		Registry:    be.Store,
		Source:      availability.NewClient(cfg.UpstreamRPM, cfg.HTTPTimeout, logger),
		Detector:    checker.NewDetector(be.Store, locations, logger),
		Settings:    checker.NewSettingsResolver(be.Store, defaultSettings(cfg), logger),
		Dispatcher:  notifications.NewFanout(be.Store, sender, logger),
		Publishers:  be.Publishers(cfg, logger),
		Catalog:     catalog.NewSyncer(fetcher, be.Store, cfg.CatalogSyncEvery, logger),
		TargetPause: cfg.TargetPause,
		SyncOnStart: cfg.CatalogSyncOnBoot,
		Logger:      logger,
	}), nil
}
