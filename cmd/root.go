package cmd

import (
	"fmt"
	"os"

	"curator/config"
	"curator/database"
	"curator/logger"

	"github.com/spf13/cobra"
)

var (
	cfgFile            string
	dbPath             string
	appLogPathFlag     string
	captureLogPathFlag string
	logLevelFlag       string
)

var rootCmd = &cobra.Command{
	Use:   "curator",
	Short: "Captures API traffic from test runs and curates it into a small, current corpus",
	Long: `curator records the request/response pairs your integration tests produce,
either through the capture proxy or the /collect endpoint, and curates them:
redundant records are collapsed into representatives, and representatives are
replayed against a live service to drop or refresh stale data.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Init(cfgFile, appLogPathFlag, captureLogPathFlag, logLevelFlag); err != nil {
			return fmt.Errorf("failed to initialize config in PersistentPreRunE: %w", err)
		}

		finalDBPath := config.AppConfig.Database.Path
		if dbPath != "" {
			expanded, err := config.ExpandTilde(dbPath)
			if err != nil {
				logger.Error("Error expanding tilde in --dbpath flag '%s': %v. Using original.", dbPath, err)
				expanded = dbPath
			}
			finalDBPath = expanded
			logger.Info("PersistentPreRunE: Using database path from --dbpath flag: '%s'", finalDBPath)
		}
		if finalDBPath == "" {
			logger.Error("PersistentPreRunE: Database path is empty after checking flag and config! Falling back to 'captures.db' in CWD.")
			finalDBPath = "captures.db"
		}

		if err := database.InitDB(finalDBPath); err != nil {
			return fmt.Errorf("failed to initialize database at %s: %w", finalDBPath, err)
		}
		logger.Debug("Database initialized at: %s", finalDBPath)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if err := database.CloseDB(); err != nil {
			logger.Error("Closing database: %v", err)
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/curator/config.yaml or ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "dbpath", "", "path to SQLite database file (overrides config/default)")
	rootCmd.PersistentFlags().StringVar(&appLogPathFlag, "app-log", "", "path for the application log file (overrides config/default)")
	rootCmd.PersistentFlags().StringVar(&captureLogPathFlag, "capture-log", "", "path for the capture proxy log file (overrides config/default)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "log level: DEBUG, INFO, WARN, ERROR (overrides config/default)")
}
