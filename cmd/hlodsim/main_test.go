package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("hlodsim %s: %v\n%s", strings.Join(args, " "), err, out.String())
	}
	return out.String()
}

func TestConfigShowAppliesFlags(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	out := execute(t, "config", "show", "--lod-distance", "0.45")
	if !strings.Contains(out, "lod_distance: 0.45") {
		t.Errorf("expected flag override in output, got:\n%s", out)
	}
}

func TestConfigSaveWritesFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "out", "hlod.yaml")

	execute(t, "config", "save", path, "--depth", "5")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading saved config: %v", err)
	}
	if !strings.Contains(string(data), "depth: 5") {
		t.Errorf("expected depth override in saved config, got:\n%s", data)
	}
}
