package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/axellelanca/linkcloak/internal/config"
	"github.com/axellelanca/linkcloak/internal/database"
	"github.com/axellelanca/linkcloak/internal/logger"
)

// Cfg holds the configuration loaded before any subcommand runs.
var Cfg *config.Config

// Logger is the process logger, built from Cfg.Log.
var Logger *zap.Logger

var configDir string

// RootCmd is the base command. Subcommands (run-server, create, stats,
// migrate, classify, token) register themselves from their own init().
var RootCmd = &cobra.Command{
	Use:   "linkcloak",
	Short: "Affiliate link cloaker",
	Long: `linkcloak serves short affiliate links that show rich previews to social
crawlers, send people on to the merchant and count which visits are worth money.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

// Execute runs the root command. It is called from main.
func Execute() {
	defer func() {
		if Logger != nil {
			_ = Logger.Sync()
		}
	}()
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	RootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "./configs", "directory holding config.yaml")
}

func initConfig() error {
	var err error
	Cfg, err = config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	Logger, err = logger.New(Cfg.Log.Level, Cfg.Log.Development)
	if err != nil {
		return err
	}
	return nil
}

// OpenDatabase connects to the configured database and migrates the schema.
func OpenDatabase() (*gorm.DB, error) {
	db, err := database.Open(Cfg.Database.Driver, Cfg.Database.Name, Cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		_ = database.Close(db)
		return nil, err
	}
	return db, nil
}
