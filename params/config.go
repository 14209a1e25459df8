package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Network struct {
	Service          string
	AnnounceInterval time.Duration
	ProviderTTL      time.Duration
	RequestTimeout   time.Duration
	Bootstrap        []string // multiaddrs with /p2p/<peer id>
	MDNS             bool
}

type Node struct {
	Nodes         int
	MatchInterval time.Duration
	// APIPortOffset > 0 serves the HTTP API of each node on port+offset.
	APIPortOffset int
	// JournalDir keeps the settlement journal on disk, one subdirectory per
	// node. Empty keeps it in memory.
	JournalDir string
}

type Client struct {
	Delay    time.Duration
	Interval time.Duration
}

type Log struct {
	File    string
	Verbose bool
}

type Config struct {
	Network Network
	Node    Node
	Client  Client
	Log     Log
}

func Default() Config {
	return Config{
		Network: Network{
			Service:          "orderbook",
			AnnounceInterval: time.Second,
			ProviderTTL:      10 * time.Second,
			RequestTimeout:   5 * time.Second,
			MDNS:             true,
		},
		Node: Node{
			Nodes:         3,
			MatchInterval: time.Second,
		},
		Client: Client{
			Delay:    2 * time.Second,
			Interval: 2 * time.Second,
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	cfg.Network.Service = getEnv("DISTEX_SERVICE", cfg.Network.Service)
	envDuration("DISTEX_ANNOUNCE_INTERVAL_MS", &cfg.Network.AnnounceInterval)
	envDuration("DISTEX_PROVIDER_TTL_MS", &cfg.Network.ProviderTTL)
	envDuration("DISTEX_REQUEST_TIMEOUT_MS", &cfg.Network.RequestTimeout)
	if bs := os.Getenv("DISTEX_BOOTSTRAP"); bs != "" {
		// Example: "/ip4/10.0.0.2/tcp/1400/p2p/12D3Koo...,/ip4/..."
		for _, addr := range strings.Split(bs, ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				cfg.Network.Bootstrap = append(cfg.Network.Bootstrap, addr)
			}
		}
	}
	if v := os.Getenv("DISTEX_MDNS"); v != "" {
		cfg.Network.MDNS = v == "true"
	}

	envInt("DISTEX_NODES", &cfg.Node.Nodes)
	envDuration("DISTEX_MATCH_INTERVAL_MS", &cfg.Node.MatchInterval)
	envInt("DISTEX_API_PORT_OFFSET", &cfg.Node.APIPortOffset)
	cfg.Node.JournalDir = getEnv("DISTEX_JOURNAL_DIR", cfg.Node.JournalDir)

	envDuration("DISTEX_CLIENT_DELAY_MS", &cfg.Client.Delay)
	envDuration("DISTEX_CLIENT_INTERVAL_MS", &cfg.Client.Interval)

	cfg.Log.File = getEnv("LOG_FILE", cfg.Log.File)
	cfg.Log.Verbose = os.Getenv("VERBOSE") == "true"

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// envDuration overrides *d with a millisecond value from key, if valid.
func envDuration(key string, d *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
			*d = time.Duration(ms) * time.Millisecond
		}
	}
}

func envInt(key string, n *int) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*n = i
		}
	}
}
