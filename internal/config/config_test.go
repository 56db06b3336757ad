package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func boolPtr(b bool) *bool { return &b }

func baseConfig() *Config {
	return &Config{
		Server:  ServerConfig{RequestTimeout: 300 * time.Second},
		Catalog: CatalogConfig{Path: "catalog.json"},
		ProviderChain: []ProviderEntry{
			{Name: "runware", Priority: 1},
		},
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(Options{ConfigFile: writeConfigFile(t, "server:\n  listen_addr: \":9999\"\n")})
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.ListenAddr != ":9999" {
		t.Fatalf("expected file override, got %s", cfg.Server.ListenAddr)
	}
	if cfg.Server.RequestTimeout != 300*time.Second {
		t.Fatalf("expected default request timeout, got %s", cfg.Server.RequestTimeout)
	}
	if cfg.Catalog.Path != "master_adapter_catalog.json" {
		t.Fatalf("expected default catalog path, got %s", cfg.Catalog.Path)
	}
	if got := cfg.Catalog.RoleQuotas["character"]; got != 6 {
		t.Fatalf("expected character quota 6, got %d", got)
	}

	names := make([]string, 0, len(cfg.ProviderChain))
	for _, entry := range cfg.ProviderChain {
		names = append(names, entry.Name)
	}
	want := []string{"runware", "hfspace", "wavespeed", "fal", "together", "pixeldojo"}
	if len(names) != len(want) {
		t.Fatalf("expected %d chain entries, got %v", len(want), names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("chain slot %d: expected %s, got %s", i, want[i], names[i])
		}
	}
	if cfg.ProviderChain[0].MaxAdapters != 12 || cfg.ProviderChain[5].MaxAdapters != 1 {
		t.Fatalf("unexpected adapter limits: %+v", cfg.ProviderChain)
	}
}

func TestLoadSortsChainByPriority(t *testing.T) {
	cfg, err := Load(Options{ConfigFile: writeConfigFile(t, `
provider_chain:
  - name: fallback
    priority: 9
  - name: primary
    priority: 1
  - name: secondary
    priority: 3
`)})
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	want := []string{"primary", "secondary", "fallback"}
	for i, name := range want {
		if cfg.ProviderChain[i].Name != name {
			t.Fatalf("slot %d: expected %s, got %s", i, name, cfg.ProviderChain[i].Name)
		}
	}
}

func TestValidateAppliesEntryDefaults(t *testing.T) {
	cfg := baseConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.ProviderChain[0].TimeoutBudget != 120*time.Second {
		t.Fatalf("expected default timeout budget, got %s", cfg.ProviderChain[0].TimeoutBudget)
	}
	if cfg.ProviderChain[0].PollInterval != 2*time.Second {
		t.Fatalf("expected default poll interval, got %s", cfg.ProviderChain[0].PollInterval)
	}
}

func TestValidateRejectsDuplicateProvider(t *testing.T) {
	cfg := baseConfig()
	cfg.ProviderChain = append(cfg.ProviderChain, ProviderEntry{Name: "runware", Priority: 2})
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected duplicate provider error")
	}
}

func TestValidateRequiresEnabledProvider(t *testing.T) {
	cfg := baseConfig()
	cfg.ProviderChain[0].Enabled = boolPtr(false)
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected no-enabled-providers error")
	}
}

func TestValidateRequiresCatalogPath(t *testing.T) {
	cfg := baseConfig()
	cfg.Catalog.Path = "  "
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected catalog path error")
	}
}

func TestValidateSummarizerRequiresKey(t *testing.T) {
	cfg := baseConfig()
	cfg.Summarizer.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected summarizer key error")
	}

	cfg.Summarizer.APIKey = "k"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.Summarizer.Timeout != 30*time.Second || cfg.Summarizer.MaxWords != 300 {
		t.Fatalf("expected summarizer defaults, got timeout=%s max_words=%d", cfg.Summarizer.Timeout, cfg.Summarizer.MaxWords)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("BRIDGE_SERVER_LISTEN_ADDR", ":8088")
	cfg, err := Load(Options{ConfigFile: writeConfigFile(t, "observability:\n  enable_metrics: false\n")})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.ListenAddr != ":8088" {
		t.Fatalf("expected env override, got %s", cfg.Server.ListenAddr)
	}
	if cfg.Observability.EnableMetrics {
		t.Fatalf("expected metrics disabled via file")
	}
}
