package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/cascadedb/cascade/pkg/compactor"
	"github.com/cascadedb/cascade/pkg/compute"
	"github.com/cascadedb/cascade/pkg/hummock"
	"github.com/cascadedb/cascade/pkg/log"
	"github.com/cascadedb/cascade/pkg/meta"
	"github.com/cascadedb/cascade/pkg/metrics"
	"github.com/cascadedb/cascade/pkg/objectstore"
	"github.com/cascadedb/cascade/pkg/rpc"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cascade",
	Short: "Cascade - a distributed streaming SQL database",
	Long: `Cascade is a distributed streaming database: it maintains materialized
views incrementally over changing input, with a shared LSM-tree state store
and a barrier-based consistency protocol across its compute fleet.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("Cascade version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().Bool("insecure", false, "Disable mTLS between nodes (local development only)")
	rootCmd.PersistentFlags().String("cert-dir", "", "Directory holding this node's certificate and the cluster CA")
	rootCmd.PersistentFlags().String("config", "", "YAML config file; flags override its values")

	cobra.OnInitialize(initLogging)
	metrics.SetVersion(Version)

	rootCmd.AddCommand(metaCmd)
	rootCmd.AddCommand(computeCmd)
	rootCmd.AddCommand(compactorCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

func serveMetrics(addr string) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/health", metrics.HealthHandler())
		mux.HandleFunc("/ready", metrics.ReadyHandler())
		mux.HandleFunc("/livez", metrics.LivenessHandler())
		if err := http.ListenAndServe(addr, mux); err != nil {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()
}

// --- meta --------------------------------------------------------------

var metaCmd = &cobra.Command{
	Use:   "meta",
	Short: "Run a Meta node (control plane: catalog, version authority, compaction scheduling)",
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeID, _ := cmd.Flags().GetString("node-id")
		bindAddr, _ := cmd.Flags().GetString("raft-addr")
		rpcAddr, _ := cmd.Flags().GetString("rpc-addr")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		insecure, _ := cmd.Flags().GetBool("insecure")
		certDir, _ := cmd.Flags().GetString("cert-dir")
		bootstrap, _ := cmd.Flags().GetBool("bootstrap")
		configPath, _ := cmd.Flags().GetString("config")

		fileCfg, err := loadNodeConfig(configPath)
		if err != nil {
			return err
		}
		dataDir = orDefault(dataDir, "./data/meta", fileCfg.DataDir)
		rpcAddr = orDefault(rpcAddr, "127.0.0.1:7001", fileCfg.RPCAddr)
		metricsAddr = orDefault(metricsAddr, "127.0.0.1:9090", fileCfg.MetricsAddr)

		m, err := meta.New(meta.Config{
			NodeID:           nodeID,
			BindAddr:         bindAddr,
			DataDir:          dataDir,
			VacuumPeriod:     fileCfg.Vacuum.Period,
			HeartbeatTimeout: fileCfg.Vacuum.HeartbeatTimeout,
			Compaction:       fileCfg.compactionConfig(),
		})
		if err != nil {
			return fmt.Errorf("failed to create meta node: %w", err)
		}
		metrics.SetCriticalComponents("raft", "rpc")
		if bootstrap {
			if err := m.Bootstrap(); err != nil {
				return fmt.Errorf("failed to bootstrap cluster: %w", err)
			}
			fmt.Println("✓ Meta cluster bootstrapped")
		} else {
			if err := m.Join(); err != nil {
				return fmt.Errorf("failed to join cluster: %w", err)
			}
			fmt.Println("✓ Joined existing meta cluster")
		}
		metrics.RegisterComponent("raft", true, "")

		var server *rpc.Server
		if insecure {
			server = rpc.NewInsecureServer()
		} else {
			server, err = rpc.NewServer(certDir)
			if err != nil {
				return fmt.Errorf("failed to create rpc server: %w", err)
			}
		}
		rpc.RegisterMetaServer(server.Raw(), m)
		rpc.RegisterTaskServer(server.Raw(), m)
		rpc.RegisterCompactorServer(server.Raw(), m)

		errCh := make(chan error, 1)
		go func() {
			if err := server.Serve(rpcAddr); err != nil {
				errCh <- fmt.Errorf("rpc server error: %w", err)
			}
		}()
		fmt.Printf("✓ Meta RPC listening on %s\n", rpcAddr)
		metrics.RegisterComponent("rpc", true, "")

		serveMetrics(metricsAddr)
		fmt.Printf("✓ Metrics endpoint: http://%s/metrics\n", metricsAddr)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "\n%v\n", err)
		}
		server.Stop()
		return m.Shutdown()
	},
}

func init() {
	metaCmd.Flags().String("node-id", "", "Raft node id (required; no id is generated when empty)")
	metaCmd.Flags().String("raft-addr", "127.0.0.1:7000", "Raft transport bind address")
	metaCmd.Flags().String("rpc-addr", "127.0.0.1:7001", "Address compute/compactor nodes dial")
	metaCmd.Flags().String("data-dir", "./data/meta", "Directory for the raft log and catalog store")
	metaCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Prometheus metrics listen address")
	metaCmd.Flags().Bool("bootstrap", false, "Bootstrap a new single-node cluster instead of joining one")
}

// --- compute -------------------------------------------------------------

var computeCmd = &cobra.Command{
	Use:   "compute",
	Short: "Run a Compute node (hosts streaming actors and batch tasks)",
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeID, _ := cmd.Flags().GetString("node-id")
		rpcAddr, _ := cmd.Flags().GetString("rpc-addr")
		metaAddr, _ := cmd.Flags().GetString("meta-addr")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		insecure, _ := cmd.Flags().GetBool("insecure")
		certDir, _ := cmd.Flags().GetString("cert-dir")
		configPath, _ := cmd.Flags().GetString("config")

		fileCfg, err := loadNodeConfig(configPath)
		if err != nil {
			return err
		}
		dataDir = orDefault(dataDir, "./data/compute", fileCfg.DataDir)
		rpcAddr = orDefault(rpcAddr, "127.0.0.1:7010", fileCfg.RPCAddr)
		metaAddr = orDefault(metaAddr, "127.0.0.1:7001", fileCfg.MetaAddr)
		metricsAddr = orDefault(metricsAddr, "127.0.0.1:9091", fileCfg.MetricsAddr)

		dialOpts, err := dialOptionsFor(insecure, certDir)
		if err != nil {
			return err
		}
		metaCC, err := grpc.NewClient(metaAddr, dialOpts...)
		if err != nil {
			return fmt.Errorf("failed to dial meta at %s: %w", metaAddr, err)
		}
		metaClient := rpc.NewMetaClient(metaCC)

		regResp, err := metaClient.RegisterWorker(context.Background(), &rpc.RegisterWorkerRequest{NodeID: nodeID, Role: "compute", Host: rpcAddr})
		if err != nil {
			return fmt.Errorf("failed to register with meta: %w", err)
		}
		workerID := regResp.WorkerID
		fmt.Printf("✓ Registered with meta as %s\n", workerID)

		objects, err := objectstore.New(dataDir, 4096)
		if err != nil {
			return fmt.Errorf("failed to open object store: %w", err)
		}
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		versionSource, err := compute.NewMetaVersionSource(ctx, metaClient, workerID)
		if err != nil {
			return fmt.Errorf("failed to pin initial version: %w", err)
		}
		storage := hummock.NewStorage(objects, versionSource)
		metrics.SetCriticalComponents("hummock", "rpc")
		metrics.RegisterComponent("hummock", true, "")

		node := compute.NewNode(workerID, rpcAddr, certDir, insecure, storage, metaCC)

		var server *rpc.Server
		if insecure {
			server = rpc.NewInsecureServer()
		} else {
			server, err = rpc.NewServer(certDir)
			if err != nil {
				return fmt.Errorf("failed to create rpc server: %w", err)
			}
		}
		rpc.RegisterTaskServer(server.Raw(), node)
		rpc.RegisterExchangeServer(server.Raw(), node)

		errCh := make(chan error, 1)
		go func() {
			if err := server.Serve(rpcAddr); err != nil {
				errCh <- fmt.Errorf("rpc server error: %w", err)
			}
		}()
		fmt.Printf("✓ Compute RPC listening on %s\n", rpcAddr)
		metrics.RegisterComponent("rpc", true, "")

		go func() {
			if err := node.Run(ctx); err != nil && ctx.Err() == nil {
				errCh <- fmt.Errorf("compute node stopped: %w", err)
			}
		}()

		serveMetrics(metricsAddr)
		fmt.Printf("✓ Metrics endpoint: http://%s/metrics\n", metricsAddr)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "\n%v\n", err)
		}
		cancel()
		server.Stop()
		return nil
	},
}

func init() {
	computeCmd.Flags().String("node-id", "", "Worker id (defaults to one assigned by meta)")
	computeCmd.Flags().String("rpc-addr", "127.0.0.1:7010", "Address this node listens on and advertises to peers")
	computeCmd.Flags().String("meta-addr", "127.0.0.1:7001", "Meta RPC address to register and sync against")
	computeCmd.Flags().String("data-dir", "./data/compute", "Directory for this node's local object store cache")
	computeCmd.Flags().String("metrics-addr", "127.0.0.1:9091", "Prometheus metrics listen address")
}

// --- compactor -------------------------------------------------------------

var compactorCmd = &cobra.Command{
	Use:   "compactor",
	Short: "Run a Compactor node (pulls compaction and vacuum tasks from meta)",
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeID, _ := cmd.Flags().GetString("node-id")
		metaAddr, _ := cmd.Flags().GetString("meta-addr")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		insecure, _ := cmd.Flags().GetBool("insecure")
		certDir, _ := cmd.Flags().GetString("cert-dir")
		configPath, _ := cmd.Flags().GetString("config")

		fileCfg, err := loadNodeConfig(configPath)
		if err != nil {
			return err
		}
		dataDir = orDefault(dataDir, "./data/compactor", fileCfg.DataDir)
		metaAddr = orDefault(metaAddr, "127.0.0.1:7001", fileCfg.MetaAddr)
		metricsAddr = orDefault(metricsAddr, "127.0.0.1:9092", fileCfg.MetricsAddr)

		dialOpts, err := dialOptionsFor(insecure, certDir)
		if err != nil {
			return err
		}
		metaCC, err := grpc.NewClient(metaAddr, dialOpts...)
		if err != nil {
			return fmt.Errorf("failed to dial meta at %s: %w", metaAddr, err)
		}

		objects, err := objectstore.New(dataDir, 4096)
		if err != nil {
			return fmt.Errorf("failed to open object store: %w", err)
		}

		c := compactor.New(nodeID, "", metaCC, objects)
		metrics.SetCriticalComponents("rpc")
		metrics.RegisterComponent("rpc", true, "")

		serveMetrics(metricsAddr)
		fmt.Printf("✓ Metrics endpoint: http://%s/metrics\n", metricsAddr)

		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() {
			if err := c.Run(ctx); err != nil && ctx.Err() == nil {
				errCh <- fmt.Errorf("compactor stopped: %w", err)
			}
		}()
		fmt.Println("✓ Compactor started")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "\n%v\n", err)
		}
		cancel()
		time.Sleep(100 * time.Millisecond)
		return nil
	},
}

func init() {
	compactorCmd.Flags().String("node-id", "", "Worker id (defaults to one assigned by meta)")
	compactorCmd.Flags().String("meta-addr", "127.0.0.1:7001", "Meta RPC address to register and pull tasks from")
	compactorCmd.Flags().String("data-dir", "./data/compactor", "Directory for this node's local object store cache")
	compactorCmd.Flags().String("metrics-addr", "127.0.0.1:9092", "Prometheus metrics listen address")
}

func dialOptionsFor(insecure bool, certDir string) ([]grpc.DialOption, error) {
	if insecure {
		return rpc.DialInsecureOptions(), nil
	}
	return rpc.DialOptions(certDir)
}
