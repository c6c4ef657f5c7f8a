// Package config handles configuration loading and validation.
package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v2"

	"github.com/gateway-fm/abisig/internal/layout"
	"github.com/gateway-fm/abisig/pkg/types"
)

// Config holds selector scanner configuration.
type Config struct {
	Root          string             `yaml:"root"`
	Pattern       string             `yaml:"pattern"`
	Recursive     bool               `yaml:"recursive"`
	Layout        string             `yaml:"layout"` // named toolchain layout, overrides Pattern and Recursive
	Kinds         []types.EntryKind  `yaml:"kinds"`
	Format        types.OutputFormat `yaml:"format"`
	CheckBytecode bool               `yaml:"check_bytecode"`
	Strict        bool               `yaml:"strict"` // exit 2 when any file or entry failed

	DatabasePath string `yaml:"database_path"` // empty = no store (unless serving)

	RPCURL       string        `yaml:"rpc_url"`
	Address      string        `yaml:"address"` // contract checked against on-chain code
	RPCTimeout   time.Duration `yaml:"rpc_timeout"`
	RPCRateLimit float64       `yaml:"rpc_rate_limit"` // requests per second, 0 = unlimited

	ListenAddr         string `yaml:"listen_addr"` // empty = print and exit
	CORSAllowedOrigins string `yaml:"cors_allowed_origins"`

	LogLevel string `yaml:"log_level"`
}

// Defaults
const (
	DefaultRoot               = "."
	DefaultPattern            = "out/*/*.json"
	DefaultFormat             = types.FormatText
	DefaultServeDatabasePath  = "./data/abisig.db" // used when serving without -db
	DefaultRPCTimeout         = 10 * time.Second
	DefaultCORSAllowedOrigins = "*" // Allow all origins by default for dev
	DefaultLogLevel           = "info"
)

// ErrHelp is returned by Load when -h or -help was given.
var ErrHelp = flag.ErrHelp

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		Root:               DefaultRoot,
		Pattern:            DefaultPattern,
		Format:             DefaultFormat,
		RPCTimeout:         DefaultRPCTimeout,
		CORSAllowedOrigins: DefaultCORSAllowedOrigins,
		LogLevel:           DefaultLogLevel,
	}
}

// Load builds the configuration from, in increasing precedence: defaults,
// an optional YAML file (-config or ABISIG_CONFIG), ABISIG_* environment
// variables and command-line flags. An optional positional argument sets
// the root directory.
func Load(name string, args []string) (*Config, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)

	// Define command-line flags
	var (
		configPath    = fs.String("config", "", "YAML configuration file")
		root          = fs.String("root", DefaultRoot, "Directory the pattern is resolved against")
		pattern       = fs.String("pattern", DefaultPattern, "Glob pattern for artifact files")
		recursive     = fs.Bool("recursive", false, "Walk root and match pattern against file names")
		layoutName    = fs.String("layout", "", "Toolchain artifact layout (foundry, hardhat, truffle); overrides -pattern and -recursive")
		kinds         = fs.String("kinds", "", "Comma-separated entry kinds (function,event,error)")
		format        = fs.String("format", string(DefaultFormat), "Output format (text, json)")
		checkBytecode = fs.Bool("check-bytecode", false, "Check function selectors against deployed bytecode")
		strict        = fs.Bool("strict", false, "Exit with status 2 when any file or entry fails")
		dbPath        = fs.String("db", "", "SQLite database path for the signature directory")
		rpcURL        = fs.String("rpc", "", "JSON-RPC URL for on-chain bytecode checks")
		address       = fs.String("address", "", "Contract address checked against on-chain code (requires -rpc)")
		rpcTimeout    = fs.Duration("rpc-timeout", DefaultRPCTimeout, "JSON-RPC request timeout")
		rpcRate       = fs.Float64("rpc-rate", 0, "Maximum JSON-RPC requests per second (0 = unlimited)")
		listenAddr    = fs.String("serve", "", "Serve the HTTP API on this address after scanning")
		corsOrigins   = fs.String("cors", DefaultCORSAllowedOrigins, "Comma-separated allowed CORS origins")
		logLevel      = fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warn, error)")
	)

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 1 {
		return nil, fmt.Errorf("at most one root directory argument, got %d", fs.NArg())
	}

	cfg := Default()

	// Load from file
	path := *configPath
	if path == "" {
		path = os.Getenv("ABISIG_CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	// Load from environment variables
	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}

	// Apply flags that were set explicitly
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "root":
			cfg.Root = *root
		case "pattern":
			cfg.Pattern = *pattern
		case "recursive":
			cfg.Recursive = *recursive
		case "layout":
			cfg.Layout = *layoutName
		case "kinds":
			cfg.Kinds = parseKinds(*kinds)
		case "format":
			cfg.Format = types.OutputFormat(*format)
		case "check-bytecode":
			cfg.CheckBytecode = *checkBytecode
		case "strict":
			cfg.Strict = *strict
		case "db":
			cfg.DatabasePath = *dbPath
		case "rpc":
			cfg.RPCURL = *rpcURL
		case "address":
			cfg.Address = *address
		case "rpc-timeout":
			cfg.RPCTimeout = *rpcTimeout
		case "rpc-rate":
			cfg.RPCRateLimit = *rpcRate
		case "serve":
			cfg.ListenAddr = *listenAddr
		case "cors":
			cfg.CORSAllowedOrigins = *corsOrigins
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})
	if fs.NArg() == 1 {
		cfg.Root = fs.Arg(0)
	}

	// Serving needs a store
	if cfg.ListenAddr != "" && cfg.DatabasePath == "" {
		cfg.DatabasePath = DefaultServeDatabasePath
	}

	// Validate config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile merges a YAML file into c. Keys absent from the file keep their
// current values.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// loadEnv applies ABISIG_* environment variables.
func (c *Config) loadEnv() error {
	if v := os.Getenv("ABISIG_ROOT"); v != "" {
		c.Root = v
	}
	if v := os.Getenv("ABISIG_PATTERN"); v != "" {
		c.Pattern = v
	}
	if v := os.Getenv("ABISIG_RECURSIVE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid ABISIG_RECURSIVE: %w", err)
		}
		c.Recursive = b
	}
	if v := os.Getenv("ABISIG_LAYOUT"); v != "" {
		c.Layout = v
	}
	if v := os.Getenv("ABISIG_KINDS"); v != "" {
		c.Kinds = parseKinds(v)
	}
	if v := os.Getenv("ABISIG_FORMAT"); v != "" {
		c.Format = types.OutputFormat(v)
	}
	if v := os.Getenv("ABISIG_DATABASE_PATH"); v != "" {
		c.DatabasePath = v
	}
	if v := os.Getenv("ABISIG_RPC_URL"); v != "" {
		c.RPCURL = v
	}
	if v := os.Getenv("ABISIG_ADDRESS"); v != "" {
		c.Address = v
	}
	if v := os.Getenv("ABISIG_RPC_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid ABISIG_RPC_TIMEOUT: %w", err)
		}
		c.RPCTimeout = d
	}
	if v := os.Getenv("ABISIG_RPC_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid ABISIG_RPC_RATE_LIMIT: %w", err)
		}
		c.RPCRateLimit = f
	}
	if v := os.Getenv("ABISIG_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("ABISIG_CORS_ALLOWED_ORIGINS"); v != "" {
		c.CORSAllowedOrigins = v
	}
	if v := os.Getenv("ABISIG_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	return nil
}

func parseKinds(s string) []types.EntryKind {
	var kinds []types.EntryKind
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(strings.ToLower(k)); k != "" {
			kinds = append(kinds, types.EntryKind(k))
		}
	}
	return kinds
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Root == "" {
		return errors.New("root directory is required")
	}
	if c.Pattern == "" {
		return errors.New("pattern is required")
	}
	if c.Layout != "" {
		reg := layout.DefaultRegistry()
		if reg.Get(c.Layout) == nil {
			return fmt.Errorf("unknown layout: %s (valid: %s)", c.Layout, strings.Join(reg.Names(), ", "))
		}
	}
	switch c.Format {
	case types.FormatText, types.FormatJSON:
	default:
		return fmt.Errorf("invalid format: %s (valid: text, json)", c.Format)
	}
	for _, k := range c.Kinds {
		switch k {
		case types.KindFunction, types.KindEvent, types.KindError:
		default:
			return fmt.Errorf("invalid kind: %s (valid: function, event, error)", k)
		}
	}
	if c.Address != "" {
		if c.RPCURL == "" {
			return errors.New("address requires an RPC URL")
		}
		if !common.IsHexAddress(c.Address) {
			return fmt.Errorf("invalid address: %s", c.Address)
		}
	}
	if c.RPCTimeout <= 0 {
		return errors.New("rpc timeout must be positive")
	}
	if c.RPCRateLimit < 0 {
		return errors.New("rpc rate limit must not be negative")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ScanTarget resolves the directory, pattern and recursion a scan uses.
// A named layout takes precedence over Pattern and Recursive.
func (c *Config) ScanTarget() (root, pattern string, recursive bool) {
	if l := layout.DefaultRegistry().Get(c.Layout); l != nil {
		return l.Target(c.Root)
	}
	return c.Root, c.Pattern, c.Recursive
}

// ParseLogLevel maps a level name to a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", s)
	}
	return level, nil
}
