package config

import (
	"errors"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gateway-fm/abisig/pkg/types"
)

// clearEnv unsets every ABISIG_* variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		if name, _, _ := strings.Cut(kv, "="); strings.HasPrefix(name, "ABISIG_") {
			t.Setenv(name, "")
		}
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "abisig.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("selectors", nil)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}

	if cfg.Root != DefaultRoot {
		t.Errorf("Root = %q, want %q", cfg.Root, DefaultRoot)
	}
	if cfg.Pattern != DefaultPattern {
		t.Errorf("Pattern = %q, want %q", cfg.Pattern, DefaultPattern)
	}
	if cfg.Format != types.FormatText {
		t.Errorf("Format = %q, want text", cfg.Format)
	}
	if cfg.DatabasePath != "" {
		t.Errorf("DatabasePath = %q, want empty when not serving", cfg.DatabasePath)
	}
	if cfg.RPCTimeout != DefaultRPCTimeout {
		t.Errorf("RPCTimeout = %v, want %v", cfg.RPCTimeout, DefaultRPCTimeout)
	}
}

func TestLoad_Precedence(t *testing.T) {
	clearEnv(t)

	path := writeConfigFile(t, `
root: /from/file
pattern: "artifacts/**.json"
format: json
log_level: debug
rpc_timeout: 3s
kinds: [function]
`)
	t.Setenv("ABISIG_PATTERN", "env/*/*.json")
	t.Setenv("ABISIG_LOG_LEVEL", "warn")

	cfg, err := Load("selectors", []string{"-config", path, "-log-level", "error"})
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}

	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"file overrides default", cfg.Root, "/from/file"},
		{"file format", cfg.Format, types.FormatJSON},
		{"file duration", cfg.RPCTimeout, 3 * time.Second},
		{"env overrides file", cfg.Pattern, "env/*/*.json"},
		{"flag overrides env", cfg.LogLevel, "error"},
		{"file kinds", len(cfg.Kinds), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestLoad_ConfigFromEnv(t *testing.T) {
	clearEnv(t)

	path := writeConfigFile(t, "pattern: \"build/*.json\"\n")
	t.Setenv("ABISIG_CONFIG", path)

	cfg, err := Load("selectors", nil)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cfg.Pattern != "build/*.json" {
		t.Errorf("Pattern = %q, want build/*.json", cfg.Pattern)
	}
}

func TestLoad_PositionalRoot(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("selectors", []string{"-format", "json", "./contracts"})
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cfg.Root != "./contracts" {
		t.Errorf("Root = %q, want ./contracts", cfg.Root)
	}

	if _, err := Load("selectors", []string{"a", "b"}); err == nil {
		t.Error("Load() with two positional arguments should fail")
	}
}

func TestLoad_ServeDefaultsDatabase(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("selectors", []string{"-serve", ":3002"})
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cfg.DatabasePath != DefaultServeDatabasePath {
		t.Errorf("DatabasePath = %q, want %q", cfg.DatabasePath, DefaultServeDatabasePath)
	}
}

func TestLoad_Kinds(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("selectors", []string{"-kinds", "Function, event"})
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if len(cfg.Kinds) != 2 || cfg.Kinds[0] != types.KindFunction || cfg.Kinds[1] != types.KindEvent {
		t.Errorf("Kinds = %v, want [function event]", cfg.Kinds)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		env     map[string]string
		file    string
		wantErr string
	}{
		{name: "unknown flag", args: []string{"-nope"}, wantErr: "flag provided but not defined"},
		{name: "bad env bool", env: map[string]string{"ABISIG_RECURSIVE": "maybe"}, wantErr: "ABISIG_RECURSIVE"},
		{name: "bad env rate", env: map[string]string{"ABISIG_RPC_RATE_LIMIT": "fast"}, wantErr: "ABISIG_RPC_RATE_LIMIT"},
		{name: "bad env duration", env: map[string]string{"ABISIG_RPC_TIMEOUT": "soon"}, wantErr: "ABISIG_RPC_TIMEOUT"},
		{name: "unknown file key", file: "colour: blue\n", wantErr: "failed to parse config file"},
		{name: "invalid format", args: []string{"-format", "xml"}, wantErr: "invalid format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			args := tt.args
			if tt.file != "" {
				args = append([]string{"-config", writeConfigFile(t, tt.file)}, args...)
			}

			_, err := Load("selectors", args)
			if err == nil {
				t.Fatalf("Load() expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %q, want containing %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoad_Help(t *testing.T) {
	clearEnv(t)

	_, err := Load("selectors", []string{"-h"})
	if !errors.Is(err, flag.ErrHelp) {
		t.Errorf("Load(-h) error = %v, want flag.ErrHelp", err)
	}
}

func TestConfigValidate(t *testing.T) {
	const addr = "0x00000000000000000000000000000000000000aa"

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string // Empty string = no error expected
	}{
		{
			name:    "defaults",
			modify:  func(c *Config) {},
			wantErr: "",
		},
		{
			name:    "empty root",
			modify:  func(c *Config) { c.Root = "" },
			wantErr: "root directory is required",
		},
		{
			name:    "empty pattern",
			modify:  func(c *Config) { c.Pattern = "" },
			wantErr: "pattern is required",
		},
		{
			name:    "invalid format",
			modify:  func(c *Config) { c.Format = "yaml" },
			wantErr: "invalid format",
		},
		{
			name:    "constructor kind",
			modify:  func(c *Config) { c.Kinds = []types.EntryKind{types.KindConstructor} },
			wantErr: "invalid kind",
		},
		{
			name:    "address without rpc",
			modify:  func(c *Config) { c.Address = addr },
			wantErr: "requires an RPC URL",
		},
		{
			name: "invalid address",
			modify: func(c *Config) {
				c.RPCURL = "http://localhost:8545"
				c.Address = "0x1234"
			},
			wantErr: "invalid address",
		},
		{
			name: "address with rpc",
			modify: func(c *Config) {
				c.RPCURL = "http://localhost:8545"
				c.Address = addr
			},
			wantErr: "",
		},
		{
			name:    "zero rpc timeout",
			modify:  func(c *Config) { c.RPCTimeout = 0 },
			wantErr: "rpc timeout must be positive",
		},
		{
			name:    "unknown layout",
			modify:  func(c *Config) { c.Layout = "brownie" },
			wantErr: "unknown layout: brownie",
		},
		{
			name:    "known layout",
			modify:  func(c *Config) { c.Layout = "hardhat" },
			wantErr: "",
		},
		{
			name:    "negative rpc rate",
			modify:  func(c *Config) { c.RPCRateLimit = -1 },
			wantErr: "rpc rate limit must not be negative",
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "loud" },
			wantErr: "invalid log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("Validate() error = %q, want containing %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLogLevel(tt.in)
			if err != nil {
				t.Fatalf("ParseLogLevel(%q) unexpected error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestConfigScanTarget(t *testing.T) {
	tests := []struct {
		name          string
		modify        func(*Config)
		wantRoot      string
		wantPattern   string
		wantRecursive bool
	}{
		{
			name:        "pattern",
			modify:      func(c *Config) { c.Root = "proj"; c.Pattern = "abi/*.json" },
			wantRoot:    "proj",
			wantPattern: "abi/*.json",
		},
		{
			name: "layout overrides pattern",
			modify: func(c *Config) {
				c.Root = "proj"
				c.Pattern = "abi/*.json"
				c.Layout = "hardhat"
			},
			wantRoot:      filepath.Join("proj", "artifacts", "contracts"),
			wantPattern:   "*.json",
			wantRecursive: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			root, pattern, recursive := cfg.ScanTarget()
			if root != tt.wantRoot || pattern != tt.wantPattern || recursive != tt.wantRecursive {
				t.Errorf("ScanTarget() = (%s, %s, %v), want (%s, %s, %v)",
					root, pattern, recursive, tt.wantRoot, tt.wantPattern, tt.wantRecursive)
			}
		})
	}
}
