package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsAndFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
data_dir: /tmp/reports
extraction:
  provider: deepseek
  call_delay: 2s
discovery:
  max_documents: 5
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("REPORTS_LOG_LEVEL", "debug")
	t.Setenv("DEEPSEEK_API_KEY", "sk-test")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.DataDir != "/tmp/reports" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.Extraction.Provider != "deepseek" {
		t.Errorf("Provider = %q", cfg.Extraction.Provider)
	}
	if cfg.Extraction.CallDelay != 2*time.Second {
		t.Errorf("CallDelay = %v", cfg.Extraction.CallDelay)
	}
	if cfg.Extraction.MaxChars != 100000 || cfg.Extraction.MinChars != 1000 {
		t.Errorf("char bounds = %d/%d", cfg.Extraction.MaxChars, cfg.Extraction.MinChars)
	}
	if cfg.Discovery.MaxDocuments != 5 || cfg.Discovery.WindowYears != 10 {
		t.Errorf("discovery = %+v", cfg.Discovery)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want env override", cfg.Log.Level)
	}
	if cfg.LLM.DeepSeekAPIKey != "sk-test" {
		t.Errorf("DeepSeekAPIKey = %q, want legacy env value", cfg.LLM.DeepSeekAPIKey)
	}
	if cfg.HTTP.DownloadTimeout != 120*time.Second {
		t.Errorf("DownloadTimeout = %v", cfg.HTTP.DownloadTimeout)
	}
}

func TestValidate(t *testing.T) {
	cfg := Config{DataDir: "d", Discovery: DiscoveryConfig{WindowYears: 10, MaxDocuments: 10},
		Extraction: ExtractionConfig{MinChars: 1000, MaxChars: 500}}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error when max_chars <= min_chars")
	}
	cfg.Extraction.MaxChars = 100000
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
