package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"WARNING": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"bogus":   zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("LOG_DEV", "1")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("LOG_FILE", "")

	cfg := ConfigFromEnv()
	if !cfg.Dev || cfg.Level != "debug" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestInitWritesRotatingFile(t *testing.T) {
	dir := t.TempDir()
	logger, err := Init(Config{Level: "info", File: filepath.Join(dir, "authn.%Y%m%d.log")})
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	logger.Info("hello file")
	_ = logger.Sync()

	matches, err := filepath.Glob(filepath.Join(dir, "authn.*.log"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected one log file, got %v %v", matches, err)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"hello file"`) {
		t.Fatalf("log line missing: %s", data)
	}
}

func TestInitDevelopment(t *testing.T) {
	logger, err := Init(Config{Level: "debug", Dev: true})
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("debug level not enabled")
	}
}
