package cmd

import (
	"context"
	"errors"
	"flag"
	"testing"
)

type testConfig struct {
	StorePath string `env:"RIFTMETER_TEST_STORE_PATH" envDefault:"sessions.json"`
}

func TestParseConfigReadsEnvAndFlags(t *testing.T) {
	t.Setenv("RIFTMETER_TEST_STORE_PATH", "env.json")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var cfg testConfig
	if err := ParseConfig(&cfg); err != nil {
		t.Fatalf("load config defaults: %v", err)
	}
	fs.StringVar(&cfg.StorePath, "store-path", cfg.StorePath, "store path")

	if err := ParseArgs(fs, []string{"-store-path", "flag.json"}); err != nil {
		t.Fatalf("parse args: %v", err)
	}
	if cfg.StorePath != "flag.json" {
		t.Fatalf("store path = %q, want flag override", cfg.StorePath)
	}
}

func TestParseConfigNilTarget(t *testing.T) {
	if err := ParseConfig[testConfig](nil); err == nil {
		t.Fatal("expected error for nil config target")
	}
}

func TestRunWithTelemetryRequiresService(t *testing.T) {
	err := RunWithTelemetry(context.Background(), " ", func(context.Context) error { return nil })
	if err == nil {
		t.Fatal("expected error for empty service name")
	}
}

func TestRunWithTelemetryPropagatesRunError(t *testing.T) {
	t.Setenv("RIFTMETER_OTEL_ENDPOINT", "")
	wantErr := errors.New("run failed")
	err := RunWithTelemetry(context.Background(), ServiceMeter, func(context.Context) error { return wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected run error, got %v", err)
	}
}
