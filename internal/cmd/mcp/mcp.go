// Package mcp parses bridge command flags and selects stdio or HTTP transport.
package mcp

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	entrypoint "github.com/louisbranch/ipython-mcp/internal/platform/cmd"
	"github.com/louisbranch/ipython-mcp/internal/services/kernel/launcher"
	"github.com/louisbranch/ipython-mcp/internal/services/mcp/service"
)

// stateDirName is the per-user cache subdirectory holding bridge state.
const stateDirName = "ipython-mcp"

// userCacheDir is swapped in tests.
var userCacheDir = os.UserCacheDir

// Config holds MCP command configuration.
type Config struct {
	Connection     string        `env:"IPYTHON_MCP_CONNECTION"`
	Transport      string        `env:"IPYTHON_MCP_TRANSPORT"       envDefault:"stdio"`
	HTTPAddr       string        `env:"IPYTHON_MCP_HTTP_ADDR"       envDefault:"localhost:8082"`
	AllowedHosts   []string      `env:"IPYTHON_MCP_ALLOWED_HOSTS"   envSeparator:","`
	AuthToken      string        `env:"IPYTHON_MCP_AUTH_TOKEN"`
	ConnectTimeout time.Duration `env:"IPYTHON_MCP_CONNECT_TIMEOUT" envDefault:"10s"`
	ExecuteTimeout time.Duration `env:"IPYTHON_MCP_EXECUTE_TIMEOUT" envDefault:"30s"`
	StartTimeout   time.Duration `env:"IPYTHON_MCP_START_TIMEOUT"   envDefault:"30s"`
	KernelCommand  string        `env:"IPYTHON_MCP_KERNEL_COMMAND"  envDefault:"ipython kernel"`
	StateDB        string        `env:"IPYTHON_MCP_STATE_DB"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	if cfg.StateDB == "" {
		cfg.StateDB = defaultStateDB()
	}

	allowedHosts := strings.Join(cfg.AllowedHosts, ",")
	fs.StringVar(&cfg.Connection, "connection", cfg.Connection, "Kernel connection file used when a tool call names none")
	fs.StringVar(&cfg.Transport, "transport", cfg.Transport, "Transport type: stdio or http")
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP server address (for HTTP transport)")
	fs.StringVar(&allowedHosts, "allowed-hosts", allowedHosts, "Comma separated hosts accepted besides loopback (for HTTP transport)")
	fs.StringVar(&cfg.AuthToken, "auth-token", cfg.AuthToken, "Bearer token required on HTTP requests")
	fs.DurationVar(&cfg.ConnectTimeout, "connect-timeout", cfg.ConnectTimeout, "Kernel connect and handshake timeout")
	fs.DurationVar(&cfg.ExecuteTimeout, "execute-timeout", cfg.ExecuteTimeout, "Blocking execute_code timeout")
	fs.DurationVar(&cfg.StartTimeout, "start-timeout", cfg.StartTimeout, "Kernel readiness timeout for start_kernel")
	fs.StringVar(&cfg.KernelCommand, "kernel-command", cfg.KernelCommand, "Command that launches a kernel; the connection file flag is appended")
	fs.StringVar(&cfg.StateDB, "state-db", cfg.StateDB, "SQLite launch registry path; empty disables it")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	cfg.AllowedHosts = splitList(allowedHosts)
	return cfg, nil
}

// Run starts the MCP bridge.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceMCP, func(ctx context.Context) error {
		return service.Run(ctx, serviceConfig(cfg))
	})
}

func serviceConfig(cfg Config) service.Config {
	command := launcher.ParseCommand(cfg.KernelCommand)
	if len(command) == 0 {
		command = launcher.DefaultCommand
	}
	return service.Config{
		Transport:      service.TransportKind(strings.ToLower(strings.TrimSpace(cfg.Transport))),
		HTTPAddr:       cfg.HTTPAddr,
		AllowedHosts:   cfg.AllowedHosts,
		AuthToken:      cfg.AuthToken,
		ConnectionFile: cfg.Connection,
		ConnectTimeout: cfg.ConnectTimeout,
		ExecuteTimeout: cfg.ExecuteTimeout,
		StartTimeout:   cfg.StartTimeout,
		KernelCommand:  command,
		StateDB:        cfg.StateDB,
	}
}

// defaultStateDB places the launch registry in the user cache directory.
// Without one the registry stays disabled.
func defaultStateDB() string {
	dir, err := userCacheDir()
	if err != nil || dir == "" {
		log.Printf("launch registry disabled: no user cache dir: err=%v", err)
		return ""
	}
	return filepath.Join(dir, stateDirName, "state.db")
}

func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
