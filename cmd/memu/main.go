// Package main provides the memu command line tool for inspecting and
// mutating candidate memory stores.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/memtensor/memu/pkg/config"
	"github.com/memtensor/memu/pkg/interfaces"
	"github.com/memtensor/memu/pkg/logger"
	"github.com/memtensor/memu/pkg/metrics"
	"github.com/memtensor/memu/pkg/storage"
	"github.com/memtensor/memu/pkg/types"
)

// Version information (set by build process)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Command line flags
var (
	configFile  = flag.String("config", "", "Path to configuration file")
	storagePath = flag.String("storage", "", "Storage directory (overrides config)")
	logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error)")
	maxDepth    = flag.Int("max-depth", 0, "Maximum tree depth (overrides config)")
	cacheSize   = flag.Int("cache-size", 0, "Cache capacity (overrides config)")
	showVersion = flag.Bool("version", false, "Show version information")
)

const usageText = `Usage: memu [flags] <command> [args]

Commands:
  create <candidate> [data.json]            create a candidate memory
  get <candidate>                           print a candidate's tree
  add <candidate> <parent> <data.json>      add a node under parent
  update <candidate> <node> <patch.json>    merge a patch into a node
  delete <candidate>                        delete a candidate
  path <candidate> <node>                   print the root-to-node chain
  traverse <candidate> <node> [bfs|dfs]     walk the subtree
  search <candidate> <query...>             score nodes against a query
  stats <candidate>                         print tree statistics
`

func main() {
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usageText)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("MemU %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)
		os.Exit(0)
	}

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("Received shutdown signal, shutting down...")
		cancel()
	}()

	if err := run(ctx, flag.Args()); err != nil {
		log.Fatalf("memu: %v", err)
	}
}

func run(ctx context.Context, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	lg := initializeLogger(cfg)
	store, err := storage.New(cfg, lg, initializeMetrics(cfg))
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			lg.Error("Failed to close storage", closeErr)
		}
	}()

	return dispatch(ctx, store, args)
}

func dispatch(ctx context.Context, store *storage.MemUStorage, args []string) error {
	command, args := args[0], args[1:]

	switch command {
	case "create":
		if len(args) < 1 {
			return fmt.Errorf("create requires a candidate id")
		}
		var data map[string]interface{}
		if len(args) > 1 {
			if err := readJSONFile(args[1], &data); err != nil {
				return err
			}
		}
		tree, err := store.CreateCandidateMemory(ctx, args[0], data)
		if err != nil {
			return err
		}
		return printJSON(tree)

	case "get":
		if len(args) != 1 {
			return fmt.Errorf("get requires a candidate id")
		}
		tree, err := store.GetCandidateMemory(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(tree)

	case "add":
		if len(args) != 3 {
			return fmt.Errorf("add requires candidate, parent and data file")
		}
		var data map[string]interface{}
		if err := readJSONFile(args[2], &data); err != nil {
			return err
		}
		nodeID, err := store.AddMemoryNode(ctx, args[0], args[1], data, nil)
		if err != nil {
			return err
		}
		fmt.Println(nodeID)
		return nil

	case "update":
		if len(args) != 3 {
			return fmt.Errorf("update requires candidate, node and patch file")
		}
		var patch map[string]interface{}
		if err := readJSONFile(args[2], &patch); err != nil {
			return err
		}
		return store.UpdateMemoryNode(ctx, args[0], args[1], patch, nil)

	case "delete":
		if len(args) != 1 {
			return fmt.Errorf("delete requires a candidate id")
		}
		return store.DeleteCandidate(ctx, args[0])

	case "path":
		if len(args) != 2 {
			return fmt.Errorf("path requires candidate and node ids")
		}
		nodes, err := store.GetPath(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(nodes)

	case "traverse":
		if len(args) < 2 {
			return fmt.Errorf("traverse requires candidate and node ids")
		}
		order := types.TraversalBFS
		if len(args) > 2 {
			order = types.TraversalOrder(args[2])
		}
		nodes, err := store.Traverse(ctx, args[0], args[1], order)
		if err != nil {
			return err
		}
		return printJSON(nodes)

	case "search":
		if len(args) < 2 {
			return fmt.Errorf("search requires a candidate id and a query")
		}
		results, err := store.Search(ctx, args[0], strings.Join(args[1:], " "), 10)
		if err != nil {
			return err
		}
		return printJSON(results)

	case "stats":
		if len(args) != 1 {
			return fmt.Errorf("stats requires a candidate id")
		}
		stats, err := store.Stats(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(stats)

	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func loadConfig() (*config.MemUConfig, error) {
	cfg := config.NewMemUConfig()

	if *configFile != "" {
		ext := filepath.Ext(*configFile)
		switch ext {
		case ".json":
			if err := cfg.FromJSONFile(*configFile); err != nil {
				return nil, fmt.Errorf("failed to load JSON config: %w", err)
			}
		case ".yaml", ".yml":
			if err := cfg.FromYAMLFile(*configFile); err != nil {
				return nil, fmt.Errorf("failed to load YAML config: %w", err)
			}
		default:
			return nil, fmt.Errorf("unsupported config file format: %s", ext)
		}
	}

	// Override with command line flags
	if *storagePath != "" {
		cfg.StoragePath = *storagePath
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *maxDepth > 0 {
		cfg.MaxDepth = *maxDepth
	}
	if *cacheSize > 0 {
		cfg.CacheSize = *cacheSize
	}

	return cfg, cfg.Validate()
}

func initializeLogger(cfg *config.MemUConfig) interfaces.Logger {
	if cfg.LogFile != "" {
		if lg, err := logger.NewFileLogger(cfg.LogLevel, cfg.LogFile); err == nil {
			return lg
		}
	}
	return logger.NewConsoleLogger(cfg.LogLevel)
}

func initializeMetrics(cfg *config.MemUConfig) interfaces.Metrics {
	if cfg.MetricsEnabled {
		return metrics.NewPrometheusMetrics()
	}
	return metrics.NewNoOpMetrics()
}

func readJSONFile(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
