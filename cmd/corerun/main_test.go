package main

import "testing"

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"run", "sweep", "serve"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestDefaultConfigPathFallsBackWhenEnvUnset(t *testing.T) {
	t.Setenv("COREUN_CONFIG", "")
	if got := defaultConfigPath(); got != "corerun.yaml" {
		t.Fatalf("expected corerun.yaml, got %q", got)
	}
}

func TestDefaultConfigPathHonorsEnv(t *testing.T) {
	t.Setenv("COREUN_CONFIG", "/etc/corerun/prod.yaml")
	if got := defaultConfigPath(); got != "/etc/corerun/prod.yaml" {
		t.Fatalf("expected env override, got %q", got)
	}
}
