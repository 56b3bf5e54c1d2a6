package storage

import (
	"fmt"
	"os"
)

// Backend names accepted by Open
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
)

// Options selects and configures a storage backend
type Options struct {
	Name       string
	Backend    string
	DataDir    string
	InMemory   bool
	SyncWrites bool
}

// Open creates the Session for the configured backend
func Open(opts Options) (Session, error) {
	if opts.Name == "" {
		opts.Name = "rdgql"
	}
	switch opts.Backend {
	case "", BackendMemory:
		return NewGraph(opts.Name), nil
	case BackendBadger:
		if !opts.InMemory {
			if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
		}
		return NewBadgerGraph(BadgerOptions{
			Name:       opts.Name,
			DataDir:    opts.DataDir,
			InMemory:   opts.InMemory,
			SyncWrites: opts.SyncWrites,
		})
	case BackendSQLite:
		if opts.InMemory {
			return OpenSQLiteMemory(opts.Name)
		}
		if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		return OpenSQLiteGraph(opts.Name, opts.DataDir)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
}
