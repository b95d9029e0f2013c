package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/lemmego/rdo"
	"github.com/lemmego/rdo/rdobun"
	"github.com/lemmego/rdo/rdogorm"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Adapter    string // "bun" | "gorm"
	Format     string // "text" | "json"
	Verbose    bool
}

// ValidAdapters lists the adapters the CLI can open.
var ValidAdapters = []string{"bun", "gorm"}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// closableAdapter is an adapter owning a connection pool.
type closableAdapter interface {
	rdo.Adapter
	Close() error
}

// openAdapter opens the named adapter. Tests replace it.
var openAdapter = func(name string, config rdo.Config) (closableAdapter, error) {
	switch name {
	case "bun":
		return rdobun.Open(config)
	case "gorm":
		return rdogorm.Open(config)
	}
	return nil, fmt.Errorf("unknown adapter %q", name)
}

// NewRootCommand creates the root command for rdoinspect.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "rdoinspect",
		Short: "Inspect tables the way an rdo mapper sees them",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !oneOf(opts.Adapter, ValidAdapters) {
				return fmt.Errorf("invalid adapter %q: must be one of %v", opts.Adapter, ValidAdapters)
			}
			if !oneOf(opts.Format, ValidFormats) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage: true,
	}

	// Global flags
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "rdo.yaml", "YAML connection config")
	cmd.PersistentFlags().StringVar(&opts.Adapter, "adapter", "bun", "adapter to open (bun|gorm)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log rendered SQL to stderr")

	// Add subcommands
	cmd.AddCommand(NewDescribeCommand(opts))
	cmd.AddCommand(NewCountCommand(opts))

	return cmd
}

// session is an open adapter plus a mapper for one table.
type session struct {
	adapter closableAdapter
	mapper  *rdo.Mapper
}

func openSession(opts *RootOptions, table string, stderr io.Writer) (*session, error) {
	config, err := rdo.LoadConfig(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	adapter, err := openAdapter(opts.Adapter, config)
	if err != nil {
		return nil, err
	}

	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	def := rdo.Definition{Name: table, Table: table, DisableTimestamps: true}
	mapper := rdo.NewMapper(adapter, rdo.NewSchema(def), def, rdo.WithLogger(logger))
	return &session{adapter: adapter, mapper: mapper}, nil
}

func (s *session) Close() error {
	return s.adapter.Close()
}

func oneOf(value string, allowed []string) bool {
	for _, v := range allowed {
		if v == value {
			return true
		}
	}
	return false
}
