// Command featherdb runs the Feather HTTP collaborator and ships snapshot
// maintenance tooling.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/featherdb/featherdb/pkg/archive"
	"github.com/featherdb/featherdb/pkg/config"
	"github.com/featherdb/featherdb/pkg/feather"
	"github.com/featherdb/featherdb/pkg/scoring"
	"github.com/featherdb/featherdb/pkg/server"
	"github.com/featherdb/featherdb/pkg/snapshot"
)

var version = "0.5.0"

func main() {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "featherdb",
	})

	var configPath string

	rootCmd := &cobra.Command{
		Use:   "featherdb",
		Short: "Feather — embedded multi-modal vector + context-graph database",
		Long: `Feather unifies ANN vector search, a typed context graph, and
living-context metadata behind a single-file snapshot format. This command
runs the multi-tenant HTTP API and provides snapshot tooling.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to feather.yaml")

	loadConfig := func() (*config.Config, error) {
		if configPath != "" {
			return config.LoadFile(configPath)
		}
		return config.LoadFromEnv(), nil
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("featherdb", version)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the multi-tenant HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
				return fmt.Errorf("create data dir: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Info("starting", "version", version, "data_dir", cfg.DataDir)
			return server.New(cfg, logger).ListenAndServe(ctx)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "init [dir]",
		Short: "Write a default feather.yaml into a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
			path := filepath.Join(dir, "feather.yaml")
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			cfg := config.Default()
			cfg.DataDir = filepath.Join(dir, "data")
			if err := cfg.WriteFile(path); err != nil {
				return err
			}
			logger.Info("wrote config", "path", path)
			return nil
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "inspect <file.feather>",
		Short: "Print a snapshot's header, modalities and counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := snapshot.Load(args[0])
			if err != nil {
				return err
			}

			fmt.Printf("snapshot: %s\n", args[0])
			fmt.Printf("records:  %d\n", len(snap.Metadata))
			edgeCount := 0
			for _, edges := range snap.Edges {
				edgeCount += len(edges)
			}
			fmt.Printf("edges:    %d\n", edgeCount)
			fmt.Printf("modalities:\n")
			for _, m := range snap.Modalities {
				ann := "persisted"
				if m.Graph == nil {
					ann = "rebuild on open"
				}
				fmt.Printf("  %-12s dim=%-5d vectors=%-7d ann=%s\n", m.Name, m.Dim, len(m.IDs), ann)
			}

			types := make(map[string]int)
			for _, meta := range snap.Metadata {
				types[meta.Type.String()]++
			}
			keys := make([]string, 0, len(types))
			for k := range types {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			fmt.Printf("record types:\n")
			for _, k := range keys {
				fmt.Printf("  %-14s %d\n", k, types[k])
			}
			return nil
		},
	})

	compactCmd := &cobra.Command{
		Use:   "compact <file.feather>",
		Short: "Open a snapshot, sweep cold records into the archive, and save",
		Long: `Compact opens a snapshot, optionally sweeps soft-deleted and decayed
records into the configured archive directory, rebuilds the ANN graphs
without them, and writes the snapshot back.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			db, err := feather.Open(args[0], nil)
			if err != nil {
				return err
			}
			defer db.Close()

			if cfg.Archive.Dir != "" {
				arc, err := archive.Open(archive.Options{Dir: cfg.Archive.Dir})
				if err != nil {
					return err
				}
				defer arc.Close()
				db.AttachArchive(arc)

				moved, err := db.SweepArchive(cfg.Archive.Threshold, scoring.Config{
					HalfLifeDays: cfg.Scoring.HalfLifeDays,
					Weight:       cfg.Scoring.Weight,
					Min:          cfg.Scoring.Min,
				})
				if err != nil {
					return err
				}
				logger.Info("swept", "records", moved, "archive", cfg.Archive.Dir)
			}

			if err := db.Save(); err != nil {
				return err
			}
			logger.Info("compacted", "path", args[0])
			return nil
		},
	}
	rootCmd.AddCommand(compactCmd)

	if err := rootCmd.Execute(); err != nil {
		logger.Error("fatal", "err", err)
		os.Exit(1)
	}
}
