package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", `
llm:
  default_provider: anthropic
  providers:
    anthropic:
      api_key: sk-test
      default_model: claude-sonnet
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ContextWindow.MaxTokens != 128000 {
		t.Errorf("MaxTokens = %d, want default 128000", cfg.ContextWindow.MaxTokens)
	}
	if cfg.Tools.DefaultTimeout.String() != "30s" {
		t.Errorf("DefaultTimeout = %v, want 30s", cfg.Tools.DefaultTimeout)
	}
	if cfg.Session.Backend != "memory" {
		t.Errorf("Session.Backend = %q, want memory", cfg.Session.Backend)
	}
	if cfg.Interrupt.OnAction == nil || !*cfg.Interrupt.OnAction {
		t.Error("expected Interrupt.OnAction to default true")
	}
}

func TestLoad_MissingDefaultProviderFails(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", `
server:
  metrics_port: 9090
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error for missing llm.default_provider")
	}
}

func TestLoad_DefaultProviderMustExist(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", `
llm:
  default_provider: openai
  providers:
    anthropic:
      api_key: sk-test
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error for unmatched default_provider")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-from-env")
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", `
llm:
  default_provider: anthropic
  providers:
    anthropic:
      api_key: ${TEST_API_KEY}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Providers["anthropic"].APIKey != "sk-from-env" {
		t.Errorf("APIKey = %q, want expanded env value", cfg.LLM.Providers["anthropic"].APIKey)
	}
}

func TestLoad_ResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "providers.yaml", `
llm:
  providers:
    anthropic:
      api_key: sk-test
`)
	path := writeConfig(t, dir, "config.yaml", `
$include: providers.yaml
llm:
  default_provider: anthropic
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Providers["anthropic"].APIKey != "sk-test" {
		t.Fatalf("expected included provider config to merge in, got %+v", cfg.LLM.Providers)
	}
}

func TestLoad_EnvOverridesTakePrecedence(t *testing.T) {
	t.Setenv("PENGUIN_TOOL_TIMEOUT_CODE", "90s")
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", `
llm:
  default_provider: anthropic
  providers:
    anthropic:
      api_key: sk-test
tools:
  code_timeout: 10s
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Tools.CodeTimeout.String() != "1m30s" {
		t.Errorf("CodeTimeout = %v, want env override of 90s", cfg.Tools.CodeTimeout)
	}
}

func TestLoad_InvalidSessionBackendFails(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", `
llm:
  default_provider: anthropic
  providers:
    anthropic:
      api_key: sk-test
session:
  backend: postgres
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error for unsupported session backend")
	}
}

func TestLoad_OmittedVersionSkipsVersionCheck(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", `
llm:
  default_provider: anthropic
  providers:
    anthropic:
      api_key: sk-test
`)
	if _, err := Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestLoad_CurrentVersionLoads(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", `
version: 1
llm:
  default_provider: anthropic
  providers:
    anthropic:
      api_key: sk-test
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Version != CurrentVersion {
		t.Errorf("Version = %d, want %d", cfg.Version, CurrentVersion)
	}
}

func TestLoad_OutdatedVersionFails(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", `
version: 0
llm:
  default_provider: anthropic
  providers:
    anthropic:
      api_key: sk-test
`)
	_, err := Load(path)
	var ve *VersionError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *VersionError, got %T (%v)", err, err)
	}
}

func TestLoad_NewerVersionFails(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", `
version: 99
llm:
  default_provider: anthropic
  providers:
    anthropic:
      api_key: sk-test
`)
	_, err := Load(path)
	var ve *VersionError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *VersionError, got %T (%v)", err, err)
	}
}
