package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/MarcoPoloResearchLab/vatdefs/internal/config"
)

func TestReadConfigFileRejectsMissingExplicitPath(testContext *testing.T) {
	missing := filepath.Join(testContext.TempDir(), "absent.yaml")
	if err := readConfigFile(config.NewViper(), missing); err == nil {
		testContext.Fatalf("expected error for missing config file %s", missing)
	}
}

func TestReadConfigFileToleratesNoConfig(testContext *testing.T) {
	if err := readConfigFile(config.NewViper(), ""); err != nil {
		testContext.Fatalf("expected no error without a config file, got %v", err)
	}
}

func TestReadConfigFileLoadsExplicitPath(testContext *testing.T) {
	path := filepath.Join(testContext.TempDir(), "vatdefs.yaml")
	contents := "mirror:\n  base_url: https://mirror.example.com/defs\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		testContext.Fatalf("failed to write config: %v", err)
	}

	configViper := config.NewViper()
	if err := readConfigFile(configViper, path); err != nil {
		testContext.Fatalf("unexpected error: %v", err)
	}
	if got := configViper.GetString("mirror.base_url"); got != "https://mirror.example.com/defs" {
		testContext.Fatalf("expected mirror url from file, got %q", got)
	}
}
