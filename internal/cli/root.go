// Package cli implements the deployctl command tree. deployctl drives a
// single deployment run synchronously, without the queue or the API server,
// and reads the same record store the services write.
package cli

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/alvesdmateus/deploy-engine/internal/state"
	"github.com/alvesdmateus/deploy-engine/pkg/config"
	"github.com/alvesdmateus/deploy-engine/pkg/database"
)

// Version is the build version, overridden at link time.
var Version = "1.0.0"

var verbose bool

// NewRootCommand builds the deployctl command tree.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "deployctl",
		Short: "Build, publish, and provision one application version",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			} else {
				zerolog.SetGlobalLevel(zerolog.InfoLevel)
			}
			cmd.SilenceUsage = true
		},
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	rootCmd.AddCommand(
		newRunCommand(),
		newRunsCommand(),
		newVersionCommand(),
	)

	return rootCmd
}

// newLogger builds the CLI logger. Logs go to stderr so command output on
// stdout stays machine-readable.
func newLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}

// openRepository connects to the configured record store and returns the
// repository with its cleanup function.
func openRepository(cfg *config.Config) (*state.Repository, func(), error) {
	db, err := database.New(database.Config{
		Driver:          cfg.Database.Driver,
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		DBName:          cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := state.AutoMigrate(db); err != nil {
		database.Close(db)
		return nil, nil, err
	}
	cleanup := func() { database.Close(db) }
	return state.NewRepository(db), cleanup, nil
}
