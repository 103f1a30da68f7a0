package commands

import (
	"context"
	"errors"
	"fmt"
	"internship-reporter/internal/components/chrono"
	"internship-reporter/internal/components/restyutil"
	"internship-reporter/internal/components/serviceutil"
	"internship-reporter/internal/components/telemetry"
	"internship-reporter/internal/config"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

const defaultConfigName = "config.json5"

var (
	configPath string
	verbose    bool
	dumpHttp   string
)

// current is populated by the root command before any subcommand runs.
var current *env

type env struct {
	config config.Config
	tel    telemetry.API
	clock  chrono.StandardTime
	otel   telemetry.Telemetry
	dump   *restyutil.Dump

	closeLog func() error
}

var rootCmd = &cobra.Command{
	Use:   "reporter",
	Short: "reporter submits pre-written internship reports to the student portal.",
	// errors are logged by ExecuteContext
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig(cmd)
		if err != nil {
			return fmt.Errorf("read config: %w", err)
		}

		closeLog, err := telemetry.InitSlog(verbose, cfg.LogFile)
		if err != nil {
			return err
		}

		clock, err := chrono.NewStandardTime(cfg.Schedule.Timezone)
		if err != nil {
			return fmt.Errorf("load timezone: %w", err)
		}

		t, err := telemetry.Setup(cmd.Context(), "internship-reporter", cfg.Telemetry)
		if err != nil {
			return fmt.Errorf("setup telemetry: %w", err)
		}

		current = &env{
			config:   cfg,
			tel:      telemetry.SlogAPI{},
			clock:    clock,
			otel:     t,
			closeLog: closeLog,
		}

		if dumpHttp != "" {
			dump, err := restyutil.NewDump(dumpHttp)
			if err != nil {
				return fmt.Errorf("prepare http dump directory: %w", err)
			}
			current.dump = &dump
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if current == nil {
			return
		}
		err := current.otel.Shutdown(context.Background())
		if err != nil {
			slog.Warn("failed to flush telemetry", "err", err.Error())
		}
		current.closeLog()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigName, "The configuration file, <name>.local.json5 is merged over it.")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug messages.")
	rootCmd.PersistentFlags().StringVar(&dumpHttp, "dump-http", "", "Write every request and response to this directory (it is cleared first).")
}

func readConfig(cmd *cobra.Command) (config.Config, error) {
	if cmd.Flags().Changed("config") {
		return config.Read(configPath)
	}
	cfg, err := config.ReadRecursively(defaultConfigName)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("could not find %s in this directory or any parent", defaultConfigName)
	}
	return cfg, err
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		serviceutil.Fatal("reporter failed", err)
	}
}
