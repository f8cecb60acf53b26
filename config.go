package ronet

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Backend selectors accepted by Config.Backend.
const (
	BackendIPC = "ipc" // all PEs in one process, direct memory fabric
	BackendP2P = "p2p" // one PE per process over libp2p streams
)

// Config carries the runtime configuration for one PE. Zero values
// are filled from DefaultConfig; RONET_* environment variables
// override both at Init.
type Config struct {
	// Backend selects the transport implementation.
	Backend string `json:"backend"`

	// HeapSize is the symmetric heap size in bytes, including the
	// reserved internal segment.
	HeapSize uint64 `json:"heap_size"`

	// MaxTeams bounds simultaneously live teams, world team
	// included. Capped at 64 because team IDs are agreed through a
	// single 64-bit bitmask reduction.
	MaxTeams int `json:"max_teams"`

	// MaxContexts is the user context pool capacity. The default
	// context does not draw from this pool.
	MaxContexts int `json:"max_contexts"`

	// Rank and WorldSize place this PE in the job. The ipc backend
	// assigns ranks itself; the p2p backend requires both.
	Rank      int `json:"rank"`
	WorldSize int `json:"world_size"`

	// ListenAddr is this PE's multiaddr for the p2p backend.
	ListenAddr string `json:"listen_addr"`

	// Peers lists every PE's multiaddr, indexed by rank.
	Peers []string `json:"peers"`

	Transport TransportConfig `json:"transport"`

	// Logger receives all runtime logging. Nil falls back to
	// slog.Default.
	Logger *slog.Logger `json:"-"`
}

// TransportConfig tunes the p2p backend.
type TransportConfig struct {
	ConnectTimeout time.Duration `json:"connect_timeout"`
	ReconnectDelay time.Duration `json:"reconnect_delay"`
	RequestTimeout time.Duration `json:"request_timeout"`
	MaxRetries     int           `json:"max_retries"`

	// DialRate/DialBurst pace outbound connection attempts.
	DialRate  float64 `json:"dial_rate"`
	DialBurst int     `json:"dial_burst"`

	// MaxFrameSize bounds a single frame; CompressThreshold is the
	// payload size above which frames are brotli-compressed.
	MaxFrameSize      int `json:"max_frame_size"`
	CompressThreshold int `json:"compress_threshold"`

	// BreakerFailures consecutive failures open a peer's circuit
	// breaker for BreakerCooldown.
	BreakerFailures uint32        `json:"breaker_failures"`
	BreakerCooldown time.Duration `json:"breaker_cooldown"`
}

// DefaultConfig returns production defaults for a single-process ipc
// world.
func DefaultConfig() Config {
	return Config{
		Backend:     BackendIPC,
		HeapSize:    64 << 20,
		MaxTeams:    40,
		MaxContexts: 1024,
		Transport:   DefaultTransportConfig(),
	}
}

// DefaultTransportConfig returns sensible production defaults.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		ConnectTimeout:    10 * time.Second,
		ReconnectDelay:    5 * time.Second,
		RequestTimeout:    30 * time.Second,
		MaxRetries:        3,
		DialRate:          2,
		DialBurst:         4,
		MaxFrameSize:      10 << 20,
		CompressThreshold: 4 << 10,
		BreakerFailures:   5,
		BreakerCooldown:   30 * time.Second,
	}
}

// applyEnv overrides fields from RONET_* environment variables.
// Malformed values are logged and skipped rather than failing Init.
func (c *Config) applyEnv(logger *slog.Logger) {
	if v := os.Getenv("RONET_BACKEND"); v != "" {
		c.Backend = v
	}
	if v, ok := envUint(logger, "RONET_HEAP_SIZE"); ok {
		c.HeapSize = v
	}
	if v, ok := envInt(logger, "RONET_MAX_NUM_TEAMS"); ok {
		c.MaxTeams = v
	}
	if v, ok := envInt(logger, "RONET_MAX_NUM_CTXS"); ok {
		c.MaxContexts = v
	}
	if v, ok := envInt(logger, "RONET_RANK"); ok {
		c.Rank = v
	}
	if v, ok := envInt(logger, "RONET_WORLD_SIZE"); ok {
		c.WorldSize = v
	}
	if v := os.Getenv("RONET_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("RONET_PEERS"); v != "" {
		c.Peers = strings.Split(v, ",")
	}
}

// validate normalizes the configuration and rejects combinations the
// runtime cannot honor.
func (c *Config) validate(logger *slog.Logger) error {
	if c.Backend == "" {
		c.Backend = BackendIPC
	}
	if c.Backend != BackendIPC && c.Backend != BackendP2P {
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidArgument, c.Backend)
	}
	if c.HeapSize == 0 {
		c.HeapSize = DefaultConfig().HeapSize
	}
	if c.HeapSize < 1<<20 {
		return fmt.Errorf("%w: heap size %d below 1MiB minimum", ErrInvalidArgument, c.HeapSize)
	}
	if c.MaxTeams <= 0 {
		c.MaxTeams = DefaultConfig().MaxTeams
	}
	if c.MaxTeams > 64 {
		logger.Warn("clamping team limit to bitmask width", "requested", c.MaxTeams, "max", 64)
		c.MaxTeams = 64
	}
	if c.MaxContexts <= 0 {
		c.MaxContexts = DefaultConfig().MaxContexts
	}
	if c.Backend == BackendP2P {
		if c.WorldSize <= 0 {
			return fmt.Errorf("%w: p2p backend requires world_size", ErrInvalidArgument)
		}
		if c.Rank < 0 || c.Rank >= c.WorldSize {
			return fmt.Errorf("%w: rank %d outside [0,%d)", ErrInvalidArgument, c.Rank, c.WorldSize)
		}
		if len(c.Peers) != c.WorldSize {
			return fmt.Errorf("%w: peer table has %d entries for world of %d", ErrInvalidArgument, len(c.Peers), c.WorldSize)
		}
	}
	return nil
}

func envInt(logger *slog.Logger, key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logger.Warn("ignoring malformed environment override", "key", key, "value", v, "error", err)
		return 0, false
	}
	return n, true
}

func envUint(logger *slog.Logger, key string) (uint64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		logger.Warn("ignoring malformed environment override", "key", key, "value", v, "error", err)
		return 0, false
	}
	return n, true
}
