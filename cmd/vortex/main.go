// Command vortex is the ingestion framework CLI: inspect registered
// connectors, validate and test connections, run one-shot extractions
// and serve scheduled ingestion jobs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/vortexdata/vortex/pkg/config"
	"github.com/vortexdata/vortex/pkg/connector/core"
	"github.com/vortexdata/vortex/pkg/connector/registry"
	"github.com/vortexdata/vortex/pkg/credentials"
	"github.com/vortexdata/vortex/pkg/logger"
	"github.com/vortexdata/vortex/pkg/scheduler"

	// Connector self-registration.
	_ "github.com/vortexdata/vortex/pkg/connector/sources/file"
	_ "github.com/vortexdata/vortex/pkg/connector/sources/mysql"
	_ "github.com/vortexdata/vortex/pkg/connector/sources/postgres"
	_ "github.com/vortexdata/vortex/pkg/connector/sources/synthetic"
)

var (
	version = "1.0.0"

	cfgFile  string
	logLevel string
	logJSON  bool
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vortex",
		Short: "Pluggable data-ingestion framework",
		Long: `Vortex extracts data from pluggable source connectors, transforms it
through declarative rule pipelines and runs ingestion jobs on cron
schedules with encrypted credential storage.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setup()
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ./vortex.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug/info/warn/error)")
	cmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "log as JSON instead of console encoding")

	cmd.AddCommand(versionCmd())
	cmd.AddCommand(connectorsCmd())
	cmd.AddCommand(testCmd())
	cmd.AddCommand(extractCmd())
	cmd.AddCommand(serveCmd())
	return cmd
}

// setup loads the environment, the config file and the logger, in that
// order, so config values can come from any of the three layers.
func setup() error {
	_ = godotenv.Load()

	viper.SetEnvPrefix("VORTEX")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("cannot read config file: %w", err)
		}
	} else {
		viper.SetConfigName("vortex")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		_ = viper.ReadInConfig()
	}

	encoding := "console"
	if logJSON {
		encoding = "json"
	}
	return logger.Init(logger.Config{
		Level:    logLevel,
		Encoding: encoding,
	})
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("vortex %s\n", version)
		},
	}
}

func connectorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connectors",
		Short: "List registered connectors",
		RunE: func(cmd *cobra.Command, args []string) error {
			regs := registry.GetRegistry().List()
			fmt.Printf("%-12s %-24s %-12s %s\n", "ID", "NAME", "SOURCE TYPE", "ALIASES")
			for _, reg := range regs {
				fmt.Printf("%-12s %-24s %-12s %s\n",
					reg.ID, reg.Name, reg.SourceType, strings.Join(reg.Aliases, ","))
			}
			return nil
		},
	}
}

func testCmd() *cobra.Command {
	var sourceType string
	var params []string

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Test a connection with throwaway credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			factory := registry.NewFactory(registry.GetRegistry(), nil)
			connector, err := factory.CreateBySourceType(sourceType)
			if err != nil {
				return err
			}
			defer func() { _ = connector.Close(ctx) }()

			result, err := connector.TestConnection(ctx, parseParams(params))
			if err != nil {
				return err
			}
			if !result.Success {
				for _, e := range result.Errors {
					fmt.Fprintf(os.Stderr, "  %s: %s\n", e.Field, e.Message)
				}
				return fmt.Errorf("connection test failed: %s", result.Message)
			}
			fmt.Printf("connection ok (backend: %s)\n", result.BackendVersion)
			return nil
		},
	}
	cmd.Flags().StringVar(&sourceType, "type", "", "source type (postgres/mysql/file/synthetic)")
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "connection parameter key=value")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func extractCmd() *cobra.Command {
	var (
		sourceType string
		params     []string
		target     string
		maxRecords int
		trackField string
		token      string
	)

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Run one extraction and print the rows as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			factory := registry.NewFactory(registry.GetRegistry(), nil)
			cfg := config.NewConnectorConfiguration("cli", "cli extraction", "", parseParams(params))
			connector, err := factory.CreateBySourceType(sourceType)
			if err != nil {
				return err
			}
			defer func() { _ = connector.Close(ctx) }()

			if err := connector.Initialize(ctx, cfg); err != nil {
				return err
			}
			if _, err := connector.Connect(ctx); err != nil {
				return err
			}
			defer func() { _, _ = connector.Disconnect(ctx) }()

			extraction := &core.ExtractionParameters{
				TargetStructures:  []string{target},
				MaxRecords:        maxRecords,
				Incremental:       trackField != "",
				TrackingField:     trackField,
				ContinuationToken: token,
			}
			result, err := connector.Extract(ctx, extraction)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			for _, row := range result.Rows {
				out := make(map[string]string, len(row))
				for field, value := range row {
					out[field] = value.Transport()
				}
				if err := enc.Encode(out); err != nil {
					return err
				}
			}
			logger.Get().Info("extraction finished",
				zap.Int("rows", result.RowCount),
				zap.Bool("has_more", result.HasMore),
				zap.String("continuation_token", result.ContinuationToken))
			return nil
		},
	}
	cmd.Flags().StringVar(&sourceType, "type", "", "source type")
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "connection parameter key=value")
	cmd.Flags().StringVar(&target, "target", "*", "target structure")
	cmd.Flags().IntVar(&maxRecords, "max-records", 0, "row cap (0 = connector default)")
	cmd.Flags().StringVar(&trackField, "tracking-field", "", "tracking field for incremental extraction")
	cmd.Flags().StringVar(&token, "token", "", "continuation token from a prior run")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func serveCmd() *cobra.Command {
	var jobsFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the job scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer logger.Sync()

			masterKey := viper.GetString("credentials.master_key")
			if masterKey == "" {
				return fmt.Errorf("credentials.master_key is required (config or VORTEX_CREDENTIALS_MASTER_KEY)")
			}
			enc, err := credentials.NewEncryptor(masterKey, nil)
			if err != nil {
				return err
			}
			creds := credentials.NewStore(credentials.NewMemoryBackend(), enc)

			loc := time.UTC
			if tz := viper.GetString("scheduler.timezone"); tz != "" {
				if loc, err = time.LoadLocation(tz); err != nil {
					return fmt.Errorf("invalid scheduler.timezone: %w", err)
				}
			}

			store := scheduler.NewMemoryJobStore()
			engine := scheduler.NewRobfigEngine(scheduler.CronConfig{
				Location: loc,
				Workers:  viper.GetInt("scheduler.workers"),
			})
			factory := registry.NewFactory(registry.GetRegistry(), nil)
			executor := scheduler.NewExecutor(store, factory, creds, engine)
			sched := scheduler.NewScheduler(store, engine, executor)

			ctx := cmd.Context()
			if jobsFile != "" {
				if err := loadJobs(ctx, sched, jobsFile); err != nil {
					return err
				}
			}
			if err := sched.Start(ctx); err != nil {
				return err
			}
			logger.Get().Info("scheduler serving", zap.String("timezone", loc.String()))

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			<-stop

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return sched.Stop(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&jobsFile, "jobs", "", "YAML file with job definitions to schedule at startup")
	return cmd
}

// loadJobs schedules every job definition in a YAML file.
func loadJobs(ctx context.Context, sched *scheduler.Scheduler, path string) error {
	jobs, err := scheduler.LoadJobsFromFile(path)
	if err != nil {
		return err
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })
	for _, job := range jobs {
		if err := sched.Schedule(ctx, job); err != nil {
			return fmt.Errorf("cannot schedule job %q: %w", job.Name, err)
		}
	}
	return nil
}

func parseParams(pairs []string) map[string]string {
	params := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		if k, v, ok := strings.Cut(pair, "="); ok {
			params[k] = v
		}
	}
	return params
}
