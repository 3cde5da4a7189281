package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/vinayprograms/pluginkit/errors"
	"github.com/vinayprograms/pluginkit/logging"
	"github.com/vinayprograms/pluginkit/plugin"
	"github.com/vinayprograms/pluginkit/registry"
)

const sample = `
[logging]
level = "debug"

[registries.greeter]
disabled = ["legacy"]

[registries.config]
auto_setup = false

[extension]
enabled = true
name = "greeter-ext"
bus = "nats"
url = "nats://nats:4222"
announce_interval = "5s"
ttl = "15s"

[metrics]
namespace = "osq"
`

func TestParse(t *testing.T) {
	cfg, err := Parse(sample)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}

	if cfg.LogLevel() != logging.LevelDebug {
		t.Errorf("LogLevel() = %v, want DEBUG", cfg.LogLevel())
	}
	if diff := cmp.Diff([]string{"legacy"}, cfg.Registries["greeter"].Disabled); diff != "" {
		t.Errorf("disabled mismatch (-want +got):\n%s", diff)
	}
	if cfg.Registries["greeter"].AutoSetup != nil {
		t.Error("greeter auto_setup should be unset")
	}
	if as := cfg.Registries["config"].AutoSetup; as == nil || *as {
		t.Errorf("config auto_setup = %v, want false", as)
	}

	ext := cfg.Extension
	if !ext.Enabled || ext.Name != "greeter-ext" || ext.Bus != BusNATS || ext.URL != "nats://nats:4222" {
		t.Errorf("extension = %+v", ext)
	}
	if ext.AnnounceInterval.Duration != 5*time.Second || ext.TTL.Duration != 15*time.Second {
		t.Errorf("durations = %v/%v", ext.AnnounceInterval, ext.TTL)
	}
	if ext.Bucket != "pluginkit-broadcast" {
		t.Errorf("Bucket = %q, want default", ext.Bucket)
	}
	if cfg.Metrics.Namespace != "osq" {
		t.Errorf("Namespace = %q", cfg.Metrics.Namespace)
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse("")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if diff := cmp.Diff(New(), cfg); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"syntax", "[logging\nlevel = "},
		{"unknown key", "[logging]\nformat = \"json\""},
		{"bad level", "[logging]\nlevel = \"verbose\""},
		{"bad bus", "[extension]\nbus = \"kafka\""},
		{"nats without url", "[extension]\nbus = \"nats\"\nurl = \"\""},
		{"bad duration", "[extension]\nttl = \"soon\""},
		{"zero interval", "[extension]\nannounce_interval = \"0s\""},
		{"ttl shorter than interval", "[extension]\nannounce_interval = \"10s\"\nttl = \"5s\""},
		{"enabled without bucket", "[extension]\nenabled = true\nbucket = \"\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.content)
			if !errors.Is(err, errors.ErrCodeInvalidInput) {
				t.Errorf("Parse error = %v, want INVALID_INPUT", err)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pluginkit.toml")
	if err := os.WriteFile(path, []byte(sample), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}
	if cfg.Extension.Name != "greeter-ext" {
		t.Errorf("Name = %q", cfg.Extension.Name)
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("expected error for missing file")
	}
}

type item struct {
	plugin.Base
	setUps int
}

func (i *item) SetUp() error {
	i.setUps++
	return nil
}

func (i *item) Call(ctx context.Context, req plugin.Request) (plugin.Response, error) {
	return plugin.Response{}, nil
}

func TestApply(t *testing.T) {
	d := registry.NewDirectory()
	greeters, _ := registry.Create[plugin.Plugin](d, "greeter")
	configs, _ := registry.Create[plugin.Plugin](d, "config")

	legacy := &item{}
	greeters.Add("hello", func() plugin.Plugin { return &item{} })
	greeters.Add("legacy", func() plugin.Plugin { return legacy })
	cfgItem := &item{}
	configs.Add("filesystem", func() plugin.Plugin { return cfgItem })

	cfg, err := Parse(sample)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if err := cfg.Apply(d); err != nil {
		t.Fatalf("Apply error: %v", err)
	}

	if d.Exists("greeter", "legacy") {
		t.Error("disabled item should be removed")
	}
	if !d.Exists("greeter", "hello") {
		t.Error("other items should remain")
	}

	d.SetUp()
	if legacy.setUps != 0 {
		t.Error("disabled item should not be set up")
	}
	if cfgItem.setUps != 0 {
		t.Error("auto_setup = false should skip the registry")
	}
}

func TestApply_UnknownRegistry(t *testing.T) {
	d := registry.NewDirectory()
	registry.Create[plugin.Plugin](d, "greeter")

	cfg := New()
	cfg.Registries["greeter"] = RegistryConfig{Disabled: []string{"absent"}}
	cfg.Registries["typo"] = RegistryConfig{}

	err := cfg.Apply(d)
	if !errors.Is(err, errors.ErrCodeRegistryNotFound) {
		t.Errorf("Apply error = %v, want REGISTRY_NOT_FOUND", err)
	}
}
