package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gateway-fm/abisig/internal/config"
	"github.com/gateway-fm/abisig/internal/storage"
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

func runCLI(t *testing.T, ctx context.Context, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(ctx, "selectors", args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_TextOutput(t *testing.T) {
	clearEnv(t)
	root := writeTree(t, map[string]string{
		"out/Token.sol/Token.json": tokenArtifact,
	})

	code, stdout, _ := runCLI(t, context.Background(), root)
	if code != exitOK {
		t.Fatalf("exit code = %d, want %d", code, exitOK)
	}

	for _, want := range []string{
		filepath.Join(root, "out", "Token.sol", "Token.json"),
		"transfer(address,uint256) 0xa9059cbb",
		"totalSupply() 0x18160ddd",
		"Transfer(address,address,uint256) 0xddf252ad",
	} {
		if !strings.Contains(stdout, want) {
			t.Errorf("stdout missing %q:\n%s", want, stdout)
		}
	}
}

func TestRun_JSONOutput(t *testing.T) {
	clearEnv(t)
	root := writeTree(t, map[string]string{
		"out/Token.sol/Token.json": tokenArtifact,
	})

	code, stdout, _ := runCLI(t, context.Background(), "-format", "json", "-kinds", "event", root)
	if code != exitOK {
		t.Fatalf("exit code = %d, want %d", code, exitOK)
	}

	var report types.FileReport
	if err := json.Unmarshal([]byte(strings.TrimSpace(stdout)), &report); err != nil {
		t.Fatalf("stdout is not one JSON report: %v\n%s", err, stdout)
	}
	if len(report.Entries) != 1 || report.Entries[0].Kind != types.KindEvent {
		t.Errorf("Entries = %+v, want one event", report.Entries)
	}
}

func TestRun_HardhatLayout(t *testing.T) {
	clearEnv(t)
	root := writeTree(t, map[string]string{
		"artifacts/contracts/token/Token.sol/Token.json":     tokenArtifact,
		"artifacts/contracts/token/Token.sol/Token.dbg.json": `{"buildInfo": "../../build-info/x.json"}`,
		"artifacts/build-info/x.json":                        `{"output": {}}`,
	})

	code, stdout, _ := runCLI(t, context.Background(), "-layout", "hardhat", "-format", "json", root)
	if code != exitOK {
		t.Fatalf("exit code = %d, want %d", code, exitOK)
	}

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d reports, want 2 (artifact and debug file):\n%s", len(lines), stdout)
	}
	if strings.Contains(stdout, "build-info") {
		t.Errorf("build-info should be outside the hardhat layout:\n%s", stdout)
	}
}

func TestRun_ExitCodes(t *testing.T) {
	files := map[string]string{
		"out/Token.sol/Token.json":   tokenArtifact,
		"out/Broken.sol/Broken.json": `{"abi": [`,
	}

	tests := []struct {
		name string
		args func(root string) []string
		want int
	}{
		{name: "failures tolerated", args: func(root string) []string { return []string{root} }, want: exitOK},
		{name: "strict", args: func(root string) []string { return []string{"-strict", root} }, want: exitFailed},
		{name: "help", args: func(string) []string { return []string{"-h"} }, want: exitOK},
		{name: "unknown flag", args: func(string) []string { return []string{"-nope"} }, want: exitFatal},
		{name: "bad pattern", args: func(root string) []string { return []string{"-pattern", "[", root} }, want: exitFatal},
		{name: "address without rpc", args: func(root string) []string {
			return []string{"-address", "0x00000000000000000000000000000000000000aa", root}
		}, want: exitFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			root := writeTree(t, files)
			code, _, _ := runCLI(t, context.Background(), tt.args(root)...)
			if code != tt.want {
				t.Errorf("exit code = %d, want %d", code, tt.want)
			}
		})
	}
}

func TestRun_Database(t *testing.T) {
	clearEnv(t)
	root := writeTree(t, map[string]string{
		"out/Token.sol/Token.json": tokenArtifact,
	})
	dbPath := filepath.Join(t.TempDir(), "sigs.db")

	if code, _, stderr := runCLI(t, context.Background(), "-db", dbPath, root); code != exitOK {
		t.Fatalf("exit code = %d, want %d\n%s", code, exitOK, stderr)
	}

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		t.Fatalf("failed to reopen storage: %v", err)
	}
	defer store.Close()

	stats, err := store.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() unexpected error: %v", err)
	}
	if stats.Signatures != 3 || stats.Sources != 1 {
		t.Errorf("stats = %+v, want 3 signatures from 1 source", stats)
	}
}

func TestServe_Shutdown(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.ListenAddr = "127.0.0.1:0"
	dir := NewDirectory(cfg, createTestStore(t), nil, nil, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := serve(ctx, cfg, dir, prometheus.NewRegistry(), quietLogger()); err != nil {
		t.Errorf("serve() after cancel = %v, want nil", err)
	}
	if len(dir.observers) != 1 {
		t.Errorf("observers = %d, want the event stream registered", len(dir.observers))
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name    string
		strict  bool
		summary types.ScanSummary
		want    int
	}{
		{name: "clean", summary: types.ScanSummary{Files: 2}, want: exitOK},
		{name: "clean strict", strict: true, summary: types.ScanSummary{Files: 2}, want: exitOK},
		{name: "file failure lenient", summary: types.ScanSummary{Files: 2, FilesFailed: 1}, want: exitOK},
		{name: "file failure strict", strict: true, summary: types.ScanSummary{Files: 2, FilesFailed: 1}, want: exitFailed},
		{name: "entry failure strict", strict: true, summary: types.ScanSummary{Files: 1, EntryErrors: 1}, want: exitFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Strict = tt.strict
			if got := exitCode(cfg, &tt.summary); got != tt.want {
				t.Errorf("exitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}
