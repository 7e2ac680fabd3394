package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func isolate(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "config"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(tmp, "cache"))
	for _, key := range []string{"BOT_TOKEN", "DOMAIN", "CHATSWAP_STORE", "CHATSWAP_RETRIES", "CHATSWAP_ROUTERS", "CHATSWAP_TELEGRAM_TOKEN"} {
		if v, ok := os.LookupEnv(key); ok {
			t.Setenv(key, v)
			os.Unsetenv(key)
		}
	}
	return tmp
}

func TestLoadDefaults(t *testing.T) {
	tmp := isolate(t)
	settings, err := Load(GlobalFlags{Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.Retries != 1 {
		t.Fatalf("expected one read retry by default, got %d", settings.Retries)
	}
	if settings.SessionTTL != 30*time.Minute || settings.RebuildAfter != time.Minute {
		t.Fatalf("unexpected session timings %+v", settings)
	}
	if settings.StoreKind != "memory" {
		t.Fatalf("expected memory store, got %s", settings.StoreKind)
	}
	if len(settings.Routers) != 2 || settings.Routers[0] != "jupiter" {
		t.Fatalf("unexpected routers %v", settings.Routers)
	}
	if want := filepath.Join(tmp, "cache", "chatswap", "ledger.db"); settings.LedgerPath != want {
		t.Fatalf("expected ledger at %s, got %s", want, settings.LedgerPath)
	}
}

func TestLoadPrecedenceFlagsOverEnvOverFile(t *testing.T) {
	tmp := isolate(t)
	configPath := filepath.Join(tmp, "config.yaml")
	yaml := `
output: plain
retries: 3
sessions:
  store: redis
  ttl: 20m
  redis:
    addr: redis:6379
swap:
  routers: [raydium]
  slippage_bps: 75
irc:
  server: irc.libera.chat
  channels: ["#swaps"]
`
	if err := os.WriteFile(configPath, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CHATSWAP_RETRIES", "4")
	t.Setenv("CHATSWAP_ROUTERS", "jupiter, raydium")
	settings, err := LoadServe(GlobalFlags{ConfigPath: configPath, Retries: 5}, ServeFlags{Store: "memory"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.OutputMode != "plain" {
		t.Fatalf("expected output from file, got %s", settings.OutputMode)
	}
	if settings.Retries != 5 {
		t.Fatalf("expected retries from flags, got %d", settings.Retries)
	}
	if settings.StoreKind != "memory" {
		t.Fatalf("expected flag to override store, got %s", settings.StoreKind)
	}
	if settings.RedisAddr != "redis:6379" || settings.SessionTTL != 20*time.Minute || settings.SlippageBps != 75 {
		t.Fatalf("file values not applied: %+v", settings)
	}
	if len(settings.Routers) != 2 || settings.Routers[0] != "jupiter" {
		t.Fatalf("expected env routers, got %v", settings.Routers)
	}
	if settings.IRCServer != "irc.libera.chat" || len(settings.IRCChannels) != 1 {
		t.Fatalf("irc settings not applied: %+v", settings)
	}
}

func TestLoadReadsDotEnvAndLegacyNames(t *testing.T) {
	tmp := isolate(t)
	envPath := filepath.Join(tmp, ".env")
	if err := os.WriteFile(envPath, []byte("BOT_TOKEN=123:abc\nDOMAIN=https://swap.example/\nCHATSWAP_STORE=redis\n"), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}
	settings, err := Load(GlobalFlags{EnvFile: envPath, Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.TelegramToken != "123:abc" {
		t.Fatalf("expected token from .env, got %q", settings.TelegramToken)
	}
	if settings.PublicURL != "https://swap.example" {
		t.Fatalf("expected trimmed public url, got %q", settings.PublicURL)
	}
	if settings.StoreKind != "redis" {
		t.Fatalf("expected store from .env, got %q", settings.StoreKind)
	}

	t.Setenv("CHATSWAP_STORE", "memory")
	settings, err = Load(GlobalFlags{EnvFile: envPath, Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.StoreKind != "memory" {
		t.Fatalf("process env must win over .env, got %q", settings.StoreKind)
	}
}

func TestLoadMissingEnvFileIsIgnored(t *testing.T) {
	tmp := isolate(t)
	if _, err := Load(GlobalFlags{EnvFile: filepath.Join(tmp, "nope.env"), Retries: -1}); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	isolate(t)
	cases := []struct {
		name  string
		flags GlobalFlags
		serve ServeFlags
	}{
		{"json and plain", GlobalFlags{JSON: true, Plain: true, Retries: -1}, ServeFlags{}},
		{"bad timeout", GlobalFlags{Timeout: "soon", Retries: -1}, ServeFlags{}},
		{"bad store", GlobalFlags{Retries: -1}, ServeFlags{Store: "etcd"}},
		{"bad router", GlobalFlags{Retries: -1}, ServeFlags{Routers: "orca"}},
	}
	for _, tc := range cases {
		if _, err := LoadServe(tc.flags, tc.serve); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestLoadRejectsBadFileDuration(t *testing.T) {
	tmp := isolate(t)
	configPath := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(configPath, []byte("sessions:\n  grace: later\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(GlobalFlags{ConfigPath: configPath, Retries: -1}); err == nil {
		t.Fatal("expected duration error")
	}
}

func TestBindFlags(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	var g GlobalFlags
	var s ServeFlags
	BindGlobal(fs, &g)
	BindServe(fs, &s)
	if err := fs.Parse([]string{"--plain", "--retries", "0", "--store", "redis", "--routers", "raydium"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !g.Plain || g.Retries != 0 || g.EnvFile != ".env" || s.Store != "redis" || s.Routers != "raydium" {
		t.Fatalf("unexpected flags %+v %+v", g, s)
	}
}
