// Package config loads this process's configuration from environment
// variables and CLI flags.
package config

import (
	"flag"
	"fmt"
	"os"
)

// Config holds all configuration for the projector daemon.
type Config struct {
	// RelayHost is the subscribeRepos relay's host (no scheme). Defaults to
	// "bsky.network".
	RelayHost string

	// GraphDBEndpoint is the external EdgeQL-like database's base URL.
	GraphDBEndpoint string
	// GraphDBBranch names the database/branch to query.
	GraphDBBranch string
	// GraphDBToken authenticates requests to GraphDBEndpoint.
	GraphDBToken string

	// BskyAPIHost is the host serving getProfile/getPost.
	BskyAPIHost string

	// CursorFile is the path to the persisted cursor record.
	CursorFile string
	// FailedQueueFile is the path to the persisted failed-message store.
	FailedQueueFile string

	// OpsAddr is the bind address for the /health and /stats HTTP surface.
	OpsAddr string

	// Verbose enables startup and periodic events-per-second logging.
	Verbose bool
}

const defaultRelayHost = "bsky.network"
const defaultBskyAPIHost = "https://public.api.bsky.app"
const defaultOpsAddr = ":8081"

// Load reads configuration from environment variables, then lets CLI flags
// override RelayHost and Verbose.
func Load(args []string) (*Config, error) {
	cfg := &Config{
		RelayHost:       os.Getenv("RELAY_HOST"),
		GraphDBEndpoint: os.Getenv("GRAPHDB_ENDPOINT"),
		GraphDBBranch:   os.Getenv("GRAPHDB_BRANCH"),
		GraphDBToken:    os.Getenv("GRAPHDB_TOKEN"),
		BskyAPIHost:     os.Getenv("BSKY_API_HOST"),
		CursorFile:      os.Getenv("CURSOR_FILE"),
		FailedQueueFile: os.Getenv("FAILED_QUEUE_FILE"),
		OpsAddr:         os.Getenv("OPS_ADDR"),
		Verbose:         os.Getenv("VERBOSE") == "true",
	}

	if cfg.BskyAPIHost == "" {
		cfg.BskyAPIHost = defaultBskyAPIHost
	}
	if cfg.OpsAddr == "" {
		cfg.OpsAddr = defaultOpsAddr
	}
	if cfg.CursorFile == "" {
		cfg.CursorFile = "cursor.json"
	}
	if cfg.FailedQueueFile == "" {
		cfg.FailedQueueFile = "failed-messages.json"
	}
	if cfg.GraphDBBranch == "" {
		cfg.GraphDBBranch = "main"
	}

	fs := flag.NewFlagSet("projector", flag.ContinueOnError)
	verbose := fs.Bool("verbose", cfg.Verbose, "enable startup and periodic events-per-second logging")
	relayHost := fs.String("relay-host", cfg.RelayHost, "subscribeRepos relay host")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("config: parse flags: %w", err)
	}
	cfg.Verbose = *verbose
	if *relayHost != "" {
		cfg.RelayHost = *relayHost
	}
	if cfg.RelayHost == "" {
		cfg.RelayHost = defaultRelayHost
	}

	if cfg.GraphDBEndpoint == "" {
		return nil, fmt.Errorf("config: GRAPHDB_ENDPOINT is required")
	}

	return cfg, nil
}
