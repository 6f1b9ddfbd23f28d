// ============================================================================
// Corestore CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Cobra-based command line interface over the WAL, the
// coordination cache, and the tablet server composition root.
//
// Command Structure:
//   corestore                        # Root command
//   ├── walctl
//   │   ├── open                     # Open a fresh WAL session, write OPEN, close
//   │   ├── append                   # Durably append one mutation, report once it is durable
//   │   └── dump <path>              # Print every record in a segment, one line each
//   ├── cachectl
//   │   ├── get <path>                # Read (and cache) one coordination path's data
//   │   ├── children <path>           # Read (and cache) one coordination path's children
//   │   └── clear                     # Drop every cached slot
//   └── tabletserver
//       └── run                       # Open a fresh WAL session, serve until signaled (no prior segments are replayed)
//
// Configuration Management:
//   Uses YAML config file (default: configs/default.yaml, override with
//   --config/-c). See internal/config for the full schema.
//
// Signal Handling:
//   tabletserver run captures SIGINT/SIGTERM and closes the server
//   gracefully: drain the WAL's outstanding handles, then exit.
//
// ============================================================================

package cli

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tabletkv/corestore/internal/config"
	"github.com/tabletkv/corestore/internal/coordination"
	"github.com/tabletkv/corestore/internal/coordination/cache"
	"github.com/tabletkv/corestore/internal/coordination/watch"
	"github.com/tabletkv/corestore/internal/metrics"
	"github.com/tabletkv/corestore/internal/replication"
	"github.com/tabletkv/corestore/internal/storage/blocksink"
	"github.com/tabletkv/corestore/internal/storage/crypto"
	"github.com/tabletkv/corestore/internal/storage/wal"
	"github.com/tabletkv/corestore/internal/tabletserver"
	"github.com/tabletkv/corestore/internal/volume"
	"github.com/tabletkv/corestore/pkg/record"
)

var (
	configFile string
	log        = slog.Default()
)

// BuildCLI assembles the full corestore command tree.
func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "corestore",
		Short: "Corestore: an encrypted, group-committed tablet WAL",
		Long: `Corestore is a tablet server's write-ahead log with:
- Group-commit durability over a replicating block sink
- At-rest ChaCha20-Poly1305 encryption
- A watch-driven coordination cache with bounded-backoff retry`,
		Version: "1.0.0",
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")

	rootCmd.AddCommand(buildWalCtlCommand())
	rootCmd.AddCommand(buildCacheCtlCommand())
	rootCmd.AddCommand(buildTabletServerCommand())

	return rootCmd
}

// ----------------------------------------------------------------------------
// walctl
// ----------------------------------------------------------------------------

func buildWalCtlCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "walctl",
		Short: "Inspect and exercise a WAL session directly",
	}
	cmd.AddCommand(buildWalOpenCommand())
	cmd.AddCommand(buildWalAppendCommand())
	cmd.AddCommand(buildWalDumpCommand())
	return cmd
}

func buildWalOpenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "open",
		Short: "Open a fresh WAL session and close it immediately",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			w, err := openWriter(cfg)
			if err != nil {
				return err
			}
			defer w.Close()
			fmt.Printf("opened session %s at %s\n", w.SessionID(), w.Path())
			return nil
		},
	}
	return cmd
}

func buildWalAppendCommand() *cobra.Command {
	var tabletID int32
	var row, family, qualifier, value string

	cmd := &cobra.Command{
		Use:   "append",
		Short: "Durably append one mutation and report once it is durable",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			w, err := openWriter(cfg)
			if err != nil {
				return err
			}
			defer w.Close()

			handle, err := w.LogMany([]wal.MutationBatch{{
				TabletID: tabletID,
				Sequence: time.Now().UnixNano(),
				Mutations: []record.Mutation{
					{Row: row, Family: family, Qualifier: qualifier, Op: record.OpPut, Value: []byte(value)},
				},
			}})
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			if err := handle.Await(ctx); err != nil {
				return fmt.Errorf("append did not become durable: %w", err)
			}
			fmt.Println("append durable")
			return nil
		},
	}

	cmd.Flags().Int32Var(&tabletID, "tablet-id", 1, "tablet id")
	cmd.Flags().StringVar(&row, "row", "", "row key")
	cmd.Flags().StringVar(&family, "family", "", "column family")
	cmd.Flags().StringVar(&qualifier, "qualifier", "", "column qualifier")
	cmd.Flags().StringVar(&value, "value", "", "cell value")
	return cmd
}

func buildWalDumpCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump <segment-path>",
		Short: "Print every record in a segment, one line each",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			registry, err := buildCryptoRegistry(cfg)
			if err != nil {
				return err
			}
			opener := wal.LocalReaderOpener(firstVolume(cfg))
			return wal.Dump(args[0], opener, registry, os.Stdout)
		},
	}
	return cmd
}

// ----------------------------------------------------------------------------
// cachectl
// ----------------------------------------------------------------------------

func buildCacheCtlCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cachectl",
		Short: "Read and invalidate the coordination cache",
	}
	cmd.AddCommand(buildCacheGetCommand())
	cmd.AddCommand(buildCacheChildrenCommand())
	cmd.AddCommand(buildCacheClearCommand())
	return cmd
}

func buildCacheGetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <path>",
		Short: "Read (and cache) one coordination path's data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			zkChannel, c, err := openCache(cfg)
			if err != nil {
				return err
			}
			defer zkChannel.Close()
			defer c.Close()

			data, present, err := c.GetData(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !present {
				fmt.Println("(absent)")
				return nil
			}
			fmt.Printf("%s\n", data)
			return nil
		},
	}
	return cmd
}

func buildCacheChildrenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "children <path>",
		Short: "Read (and cache) one coordination path's children",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			zkChannel, c, err := openCache(cfg)
			if err != nil {
				return err
			}
			defer zkChannel.Close()
			defer c.Close()

			children, present, err := c.GetChildren(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !present {
				fmt.Println("(absent)")
				return nil
			}
			for _, child := range children {
				fmt.Println(child)
			}
			return nil
		},
	}
	return cmd
}

func buildCacheClearCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop every cached slot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			zkChannel, c, err := openCache(cfg)
			if err != nil {
				return err
			}
			defer zkChannel.Close()
			c.Clear()
			c.Close()
			fmt.Println("cache cleared")
			return nil
		},
	}
	return cmd
}

// ----------------------------------------------------------------------------
// tabletserver
// ----------------------------------------------------------------------------

func buildTabletServerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tabletserver",
		Short: "Run a tablet server: serve, shut down gracefully",
	}
	cmd.AddCommand(buildTabletServerRunCommand())
	return cmd
}

func buildTabletServerRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Open a fresh WAL session and serve until signaled; prior segments are not replayed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTabletServer(cmd.Context())
		},
	}
	return cmd
}

func runTabletServer(ctx context.Context) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	registry, err := buildCryptoRegistry(cfg)
	if err != nil {
		return err
	}

	collector := buildMetricsCollector(cfg)
	if collector != nil {
		go func() {
			if err := metrics.StartServer(cfg.Metrics.Port); err != nil {
				log.Error("metrics server exited", "error", err)
			}
		}()
	}

	var coordClient coordination.Client
	var zkChannel *watch.ZKChannel
	if cfg.Coord.ConnectString != "" {
		zkChannel, err = watch.DialZK([]string{cfg.Coord.ConnectString}, cfg.Coord.SessionTimeout)
		if err != nil {
			return fmt.Errorf("dial coordination store: %w", err)
		}
		coordClient = zkChannel
	}

	serverCfg := tabletserver.Config{
		WAL: wal.Config{
			ServerTag:     cfg.Server.Tag,
			Volumes:       cfg.WAL.Volumes,
			VolumePolicy:  volume.NewRoundRobin(),
			OpenSink:      buildSinkOpener(cfg),
			CipherModule:  resolveWriteModule(registry, cfg),
			QueueCapacity: cfg.WAL.QueueCapacity,
			Metrics:       collector,
		},
		CryptoReg:    registry,
		ReaderOpener: wal.LocalReaderOpener(firstVolume(cfg)),
		Coordination: coordClient,
		Metrics:      collector,
	}

	srv, err := tabletserver.Open(serverCfg)
	if err != nil {
		return fmt.Errorf("open tablet server: %w", err)
	}

	log.Info("tablet server running", "server_tag", cfg.Server.Tag)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		log.Info("signal received, shutting down")
	case <-ctx.Done():
	}

	if err := srv.Close(); err != nil {
		log.Error("error closing tablet server", "error", err)
	}
	if zkChannel != nil {
		zkChannel.Close()
	}
	return nil
}

// ----------------------------------------------------------------------------
// shared helpers
// ----------------------------------------------------------------------------

func firstVolume(cfg *config.Config) string {
	if len(cfg.WAL.Volumes) == 0 {
		return "."
	}
	return cfg.WAL.Volumes[0]
}

func buildCryptoRegistry(cfg *config.Config) (*crypto.Registry, error) {
	registry := crypto.Default()
	if cfg.Crypto.KeyHex != "" {
		key, err := decodeKeyHex(cfg.Crypto.KeyHex)
		if err != nil {
			return nil, err
		}
		registry.Register(crypto.NewChaCha20Poly1305Module().WithKey(key))
	}
	return registry, nil
}

// buildMetricsCollector returns a registered metrics collector when
// metrics.enabled is set in config, or nil otherwise. The caller decides
// whether to also start the /metrics HTTP server.
func buildMetricsCollector(cfg *config.Config) *metrics.Collector {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return metrics.NewCollector()
}

func resolveWriteModule(registry *crypto.Registry, cfg *config.Config) crypto.Module {
	name := cfg.Crypto.ModuleClass
	if name == "" {
		name = "null"
	}
	module, err := registry.Resolve(name)
	if err != nil {
		log.Warn("unknown crypto module, falling back to null", "module", name)
		return crypto.NullModule{}
	}
	return module
}

// defaultPlacementProvider is the replication.DefaultProvider consulted
// whenever a caller leaves wal.replication or wal.block_size at 0: three
// replicas and a 128MiB block, the same defaults HDFS ships with.
var defaultPlacementProvider replication.DefaultProvider = replication.NewStatic(replication.Defaults{
	ReplicationFactor: 3,
	BlockSizeBytes:    128 << 20,
})

// resolvePlacement fills in wal.replication/block_size from
// defaultPlacementProvider wherever the config left them at 0, per
// spec.md §6's "used when caller passes 0 as replication/block size".
func resolvePlacement(cfg *config.Config) replication.Defaults {
	resolved := replication.Defaults{
		ReplicationFactor: cfg.WAL.Replication,
		BlockSizeBytes:    cfg.EffectiveBlockSize(),
	}
	fallback := defaultPlacementProvider.Defaults()
	if resolved.ReplicationFactor == 0 {
		resolved.ReplicationFactor = fallback.ReplicationFactor
	}
	if resolved.BlockSizeBytes == 0 {
		resolved.BlockSizeBytes = fallback.BlockSizeBytes
	}
	return resolved
}

func buildSinkOpener(cfg *config.Config) wal.SinkOpener {
	placement := resolvePlacement(cfg)
	if cfg.WAL.Backend == "s3" {
		s3cfg := cfg.WAL.S3
		return func(path string) (blocksink.Sink, error) {
			return blocksink.NewS3Sink(context.Background(), blocksink.S3Config{
				Bucket:            s3cfg.Bucket,
				Key:               path,
				Region:            s3cfg.Region,
				Endpoint:          s3cfg.Endpoint,
				AccessKeyID:       s3cfg.AccessKeyID,
				SecretAccessKey:   s3cfg.SecretAccessKey,
				ForcePathStyle:    s3cfg.ForcePathStyle,
				ReplicationFactor: placement.ReplicationFactor,
				BlockSizeBytes:    placement.BlockSizeBytes,
			})
		}
	}
	log.Info("wal: local backend ignores replication/block-size placement hints",
		"replication", placement.ReplicationFactor, "block_size", placement.BlockSizeBytes)
	return wal.LocalSinkOpener(firstVolume(cfg))
}

// openWriter is the walctl subcommands' shared session-opening path.
func openWriter(cfg *config.Config) (*wal.Writer, error) {
	registry, err := buildCryptoRegistry(cfg)
	if err != nil {
		return nil, err
	}
	return wal.Open(wal.Config{
		ServerTag:     cfg.Server.Tag,
		Volumes:       cfg.WAL.Volumes,
		VolumePolicy:  volume.NewRoundRobin(),
		OpenSink:      buildSinkOpener(cfg),
		CipherModule:  resolveWriteModule(registry, cfg),
		QueueCapacity: cfg.WAL.QueueCapacity,
		Metrics:       buildMetricsCollector(cfg),
	})
}

// openCache is the cachectl subcommands' shared coordination-cache path.
func openCache(cfg *config.Config) (*watch.ZKChannel, *cache.Cache, error) {
	if cfg.Coord.ConnectString == "" {
		return nil, nil, fmt.Errorf("cli: coord.connect_string is required")
	}
	zkChannel, err := watch.DialZK([]string{cfg.Coord.ConnectString}, cfg.Coord.SessionTimeout)
	if err != nil {
		return nil, nil, fmt.Errorf("dial coordination store: %w", err)
	}
	return zkChannel, cache.NewWithMetrics(zkChannel, buildMetricsCollector(cfg)), nil
}

func decodeKeyHex(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("cli: crypto.key_hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("cli: crypto.key_hex must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}
