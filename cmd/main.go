package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"proxy-pool/pkg/config"
	"proxy-pool/pkg/engine"
	"proxy-pool/pkg/models"
	"proxy-pool/pkg/sources"
	"proxy-pool/pkg/store"
	"proxy-pool/pkg/validator"
)

var (
	debugFlag bool
	logger    *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "proxy-pool",
	Short: "A tool for acquiring, validating and serving working proxies",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Set up logging based on the debug flag
		var logLevel slog.Level
		if debugFlag {
			logLevel = slog.LevelDebug
		} else {
			logLevel = slog.LevelInfo
		}

		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
		slog.SetDefault(logger)
	},
}

var acquireCmd = &cobra.Command{
	Use:   "acquire",
	Short: "Run one acquisition and validation cycle",
	Run: func(cmd *cobra.Command, args []string) {
		eng, st, err := buildEngine()
		if err != nil {
			logger.Error("Error initializing engine", "error", err)
			os.Exit(1)
		}
		defer st.Close()
		defer eng.Close()

		if err := eng.Acquire(context.Background()); err != nil {
			logger.Error("Error running acquisition cycle", "error", err)
			os.Exit(1)
		}
		logger.Info("Acquisition cycle completed successfully")
	},
}

var revalidateCmd = &cobra.Command{
	Use:   "revalidate",
	Short: "Re-test stored proxies along with freshly acquired candidates",
	Run: func(cmd *cobra.Command, args []string) {
		eng, st, err := buildEngine()
		if err != nil {
			logger.Error("Error initializing engine", "error", err)
			os.Exit(1)
		}
		defer st.Close()
		defer eng.Close()

		if err := eng.ForceRevalidate(context.Background()); err != nil {
			logger.Error("Error running revalidation cycle", "error", err)
			os.Exit(1)
		}
		logger.Info("Revalidation cycle completed successfully")
	},
}

var bestCmd = &cobra.Command{
	Use:   "best",
	Short: "Print the current best working proxy",
	Run: func(cmd *cobra.Command, args []string) {
		eng, st, err := buildEngine()
		if err != nil {
			logger.Error("Error initializing engine", "error", err)
			os.Exit(1)
		}
		defer st.Close()
		defer eng.Close()

		address, ok := eng.GetBestProxy(context.Background())
		if !ok {
			fmt.Println("no proxy available")
			os.Exit(1)
		}
		fmt.Println(address)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show pool composition and recent validation runs",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			logger.Error("Error loading configuration", "error", err)
			os.Exit(1)
		}
		st, err := initStore(cfg)
		if err != nil {
			logger.Error("Error initializing store", "error", err)
			os.Exit(1)
		}
		defer st.Close()

		stats, err := st.GetStats(context.Background())
		if err != nil {
			logger.Error("Error getting pool stats", "error", err)
			os.Exit(1)
		}
		runs, err := st.RecentRuns(context.Background(), 5)
		if err != nil {
			logger.Error("Error getting recent runs", "error", err)
			os.Exit(1)
		}

		fmt.Printf("Pool: %d proxies (%d working, %d degraded, %d failed, %d untested)\n",
			stats.Total(), stats.WorkingCount, stats.DegradedCount, stats.FailedCount, stats.UntestedCount)
		fmt.Printf("Average success rate of working proxies: %.1f%%\n", stats.AvgSuccessRate)
		if len(stats.ByTier) > 0 {
			fmt.Println("By tier:")
			for tier, count := range stats.ByTier {
				fmt.Printf("  %-12s %d\n", tier, count)
			}
		}
		if len(stats.ByRegion) > 0 {
			fmt.Println("By region:")
			for region, count := range stats.ByRegion {
				fmt.Printf("  %-20s %d\n", region, count)
			}
		}
		if len(runs) > 0 {
			fmt.Println("Recent validation runs:")
			for _, run := range runs {
				fmt.Printf("  %s  %-10s %d candidates: %d working, %d degraded, %d failed (%dms)\n",
					run.StartedAt.Format(time.RFC3339), run.Trigger, run.CandidateCount,
					run.WorkingCount, run.DegradedCount, run.FailedCount, run.DurationMs)
			}
		}
	},
}

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Add proxies from a file to the pool as untested records",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		tierFlag, _ := cmd.Flags().GetString("tier")
		tier := models.Tier(tierFlag)
		switch tier {
		case models.TierPremium, models.TierDatacenter, models.TierPublic, models.TierEmergency:
		default:
			logger.Error("Invalid tier. Must be 'premium', 'datacenter', 'public' or 'emergency'")
			os.Exit(1)
		}

		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			logger.Error("Error loading configuration", "error", err)
			os.Exit(1)
		}
		st, err := initStore(cfg)
		if err != nil {
			logger.Error("Error initializing store", "error", err)
			os.Exit(1)
		}
		defer st.Close()

		count, err := importProxies(st, cfg, args[0], tier)
		if err != nil {
			logger.Error("Error importing proxies", "error", err)
			os.Exit(1)
		}
		logger.Info("Proxies imported successfully", "count", count)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the maintenance loop until interrupted",
	Run: func(cmd *cobra.Command, args []string) {
		interval, _ := cmd.Flags().GetDuration("interval")

		eng, st, err := buildEngine()
		if err != nil {
			logger.Error("Error initializing engine", "error", err)
			os.Exit(1)
		}
		defer st.Close()
		defer eng.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger.Info("Starting maintenance loop", "interval", interval)
		if err := eng.Run(ctx, interval); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error running maintenance loop", "error", err)
			os.Exit(1)
		}
		logger.Info("Maintenance loop stopped")
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false, "Enable debug logging")
	importCmd.Flags().String("tier", string(models.TierDatacenter), "Tier to assign to imported proxies")
	watchCmd.Flags().Duration("interval", 30*time.Minute, "Time between validation cycles")

	rootCmd.AddCommand(acquireCmd)
	rootCmd.AddCommand(revalidateCmd)
	rootCmd.AddCommand(bestCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(watchCmd)
}

func initConfig() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("../")
	viper.AddConfigPath("$HOME/.proxy-pool")
	viper.AddConfigPath("/etc/proxy-pool/")

	if err := viper.ReadInConfig(); err != nil {
		fmt.Printf("Error reading config file: %v\n", err)
		os.Exit(1)
	}
}

func initStore(cfg *config.Config) (store.Store, error) {
	clk := clock.New()
	switch cfg.Store.Backend {
	case "memory":
		return store.NewMemory(cfg.Policy(), clk), nil
	default:
		db, err := store.NewDB(cfg.Policy(), clk)
		if err != nil {
			return nil, fmt.Errorf("error connecting to database: %v", err)
		}
		if err := db.InitSchema(context.Background()); err != nil {
			db.Close()
			return nil, fmt.Errorf("error initializing database schema: %v", err)
		}
		return db, nil
	}
}

func buildEngine() (*engine.Engine, store.Store, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, nil, fmt.Errorf("error loading configuration: %v", err)
	}
	st, err := initStore(cfg)
	if err != nil {
		return nil, nil, err
	}

	clk := clock.New()
	providers := sources.BuildProviders(cfg.Sources, logger)
	v := validator.New(cfg.Validator, logger, clk)
	eng := engine.New(st, providers, v, cfg, logger, clk)
	return eng, st, nil
}

func importProxies(st store.Store, cfg *config.Config, path string, tier models.Tier) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("error opening file: %v", err)
	}
	defer file.Close()

	filter := sources.NewFilter(cfg.Sources.AllowedPorts, cfg.Sources.CDNPrefixes)
	now := clock.New().Now()
	count := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		address, err := sources.ParseAddress(line)
		if err != nil {
			logger.Warn("Skipping malformed proxy", "line", line, "error", err)
			continue
		}
		if !filter.Accept(address) {
			logger.Debug("Skipping filtered proxy", "address", address)
			continue
		}
		record := models.NewRecord(address, tier, now)
		if err := st.Upsert(context.Background(), &record); err != nil {
			return count, fmt.Errorf("error storing proxy %s: %v", address, err)
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("error reading file: %v", err)
	}
	return count, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
