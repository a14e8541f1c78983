package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLabelCommand(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	raw := t.TempDir()
	meta := filepath.Join(t.TempDir(), "meta")
	if err := os.WriteFile(filepath.Join(raw, "A.IMG"), []byte("PRODUCT_ID = A\nEND\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cmd := newRootCmd()
	cmd.SetArgs([]string{"label", "--raw-dir", raw, "--metadata-dir", meta})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("label: %v", err)
	}
	if _, err := os.Stat(filepath.Join(meta, "A.json")); err != nil {
		t.Errorf("sidecar not written: %v", err)
	}
}

func TestConfigFileAndEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "p.yaml")
	if err := os.WriteFile(cfgPath, []byte("tile-size: 128\nquality: 70\nformat: png\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PLANETILES_QUALITY", "60")

	a := newApp()
	cmd := a.rootCmd()
	cmd.SetArgs([]string{"--config", cfgPath, "--min-level", "3", "label", "--raw-dir", dir, "--metadata-dir", filepath.Join(dir, "meta")})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	c := a.cfg
	if c.TileSize != 128 || c.Format != "png" {
		t.Errorf("config file not applied: %+v", c)
	}
	if c.Quality != 60 {
		t.Errorf("Quality = %d, want env value 60", c.Quality)
	}
	if c.MinLevel != 3 {
		t.Errorf("MinLevel = %d, want flag value 3", c.MinLevel)
	}
	if c.RawDir != dir {
		t.Errorf("RawDir = %q, want %q", c.RawDir, dir)
	}
}

func TestInvalidConfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cmd := newRootCmd()
	cmd.SetArgs([]string{"label", "--tile-size", "3"})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "tile-size") {
		t.Errorf("err = %v, want tile-size validation error", err)
	}
}

func TestMissingConfigFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "nope.yaml"), "label"})
	if err := cmd.Execute(); err == nil {
		t.Error("expected error for explicit missing config file")
	}
}
