package nodeconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func writeNetworkConfig(t *testing.T, dir, network, contents string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, network+".yaml"), []byte(contents), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestLoadAppliesCompiledDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir(), "local", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DA.RatePerMinute != 20 {
		t.Fatalf("DA.RatePerMinute = %d, want 20 (compiled default)", cfg.DA.RatePerMinute)
	}
	if cfg.Store.Path != "./data/store" {
		t.Fatalf("Store.Path = %q, want default", cfg.Store.Path)
	}
}

func TestLoadMergesNetworkFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	writeNetworkConfig(t, dir, "dev", "store:\n  path: /var/kanari/dev\nda:\n  rate_per_minute: 5\n")

	cfg, err := Load(dir, "dev", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Path != "/var/kanari/dev" {
		t.Fatalf("Store.Path = %q, want file value", cfg.Store.Path)
	}
	if cfg.DA.RatePerMinute != 5 {
		t.Fatalf("DA.RatePerMinute = %d, want 5 (file value)", cfg.DA.RatePerMinute)
	}
	if cfg.DA.MaxTurboRetry != 5 {
		t.Fatalf("DA.MaxTurboRetry = %d, want compiled default 5 (untouched by file)", cfg.DA.MaxTurboRetry)
	}
}

func TestLoadOverridesWinOverFileAndDefaults(t *testing.T) {
	dir := t.TempDir()
	writeNetworkConfig(t, dir, "dev", "store:\n  path: /var/kanari/dev\n")

	cfg, err := Load(dir, "dev", map[string]string{"store.path": "/override/path"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Path != "/override/path" {
		t.Fatalf("Store.Path = %q, want override value", cfg.Store.Path)
	}
}

func TestLoadToleratesMissingNetworkFile(t *testing.T) {
	cfg, err := Load(t.TempDir(), "nonexistent-network", nil)
	if err != nil {
		t.Fatalf("Load should not error on a missing network file: %v", err)
	}
	if cfg.DA.RatePerMinute != 20 {
		t.Fatalf("expected defaults to still apply, got %+v", cfg.DA)
	}
}

func TestLoadBindsEnvironmentVariable(t *testing.T) {
	t.Setenv("ETH_RPC_URL", "http://localhost:8545")
	cfg, err := Load(t.TempDir(), "local", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.L1.EthRPCURL != "http://localhost:8545" {
		t.Fatalf("L1.EthRPCURL = %q, want env value", cfg.L1.EthRPCURL)
	}
}
