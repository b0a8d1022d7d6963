package main

import (
	"fmt"
	"os"

	"github.com/edgeflare/restless/pkg/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:          "restless",
	Short:        "restless serves ReSTful JSON APIs for database models",
	Long:         `restless exposes database tables as JSON APIs with search, relations and change events`,
	Version:      config.Version,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/restless.yaml)")
	f.StringP("log-level", "L", "info", "log level (debug, info, warn, error)")
	f.StringP("conn", "c", "", "database connection string")
	f.String("driver", "pgx", "database driver (pgx, postgres, sqlite3)")
	f.Bool("reflect", false, "reflect models from the PostgreSQL catalog")

	rootCmd.AddCommand(serveCmd, modelsCmd)
}

// loadConfig reads the configuration and installs the global logger.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return cfg, nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.DisableStacktrace = lvl > zapcore.DebugLevel
	return zc.Build()
}
