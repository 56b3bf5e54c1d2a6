// Package main provides the rdgql command line tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fnuworsu/rdgql/pkg/config"
	"github.com/fnuworsu/rdgql/pkg/logging"
	"github.com/fnuworsu/rdgql/pkg/query"
	"github.com/fnuworsu/rdgql/pkg/storage"
)

var (
	version = "0.4.0"
	commit  = "dev"
)

// app carries settings shared by every subcommand
type app struct {
	configPath string
	backend    string
	dataDir    string
	database   string
	cfg        *config.Config
}

func main() {
	err := newRootCmd().Execute()
	logging.Close()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "rdgql",
		Short: "rdgql - graph pattern matching over pluggable storage",
		Long: `rdgql evaluates MATCH statements against a graph held in memory,
Badger or SQLite. Statements are written as YAML documents.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Config file (default: search standard locations)")
	rootCmd.PersistentFlags().StringVar(&a.backend, "backend", "", "Storage backend: memory, badger, sqlite")
	rootCmd.PersistentFlags().StringVar(&a.dataDir, "data-dir", "", "Data directory for persistent backends")
	rootCmd.PersistentFlags().StringVar(&a.database, "database", "", "Database name")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "rdgql v%s (%s)\n", version, commit)
		},
	})
	rootCmd.AddCommand(
		newLoadCmd(a),
		newDumpCmd(a),
		newRunCmd(a),
		newExplainCmd(a),
		newStatusCmd(a),
	)
	return rootCmd
}

// setup loads the configuration, applies flag overrides and starts logging
func (a *app) setup() error {
	path := a.configPath
	if path == "" {
		path = config.FindConfigFile()
	}
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return err
	}
	if a.backend != "" {
		cfg.Storage.Backend = a.backend
	}
	if a.dataDir != "" {
		cfg.Storage.DataDir = a.dataDir
	}
	if a.database != "" {
		cfg.Storage.Name = a.database
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg

	return logging.Init(logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.Output,
	})
}

// open returns a session on the configured backend
func (a *app) open() (storage.Session, error) {
	s, err := storage.Open(storage.Options{
		Name:       a.cfg.Storage.Name,
		Backend:    a.cfg.Storage.Backend,
		DataDir:    a.cfg.Storage.DataDir,
		InMemory:   a.cfg.Storage.InMemory,
		SyncWrites: a.cfg.Storage.SyncWrites,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", a.cfg.Storage.Backend, err)
	}
	logging.WithComponent("cli").Debug("storage.open",
		"backend", a.cfg.Storage.Backend, "database", a.cfg.Storage.Name)
	return s, nil
}

// engine opens storage, optionally seeds it from a fixture, and wraps it
// in a query engine
func (a *app) engine(fixture string) (*query.Engine, error) {
	s, err := a.open()
	if err != nil {
		return nil, err
	}
	if fixture != "" {
		if _, err := loadFixture(s, fixture); err != nil {
			s.Close()
			return nil, err
		}
	}
	return query.NewEngine(s, a.cfg), nil
}

func loadFixture(s storage.Session, path string) (*storage.Fixture, error) {
	f, err := storage.ReadFixture(path)
	if err != nil {
		return nil, err
	}
	if _, err := f.Load(s); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return f, nil
}
