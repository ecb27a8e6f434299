package config

import (
    "os"
    "path/filepath"
    "strings"
    "testing"
    "time"

    "github.com/kixelated/warp/pkg/protocol"
)

func writeConfig(t *testing.T, body string) string {
    t.Helper()
    path := filepath.Join(t.TempDir(), "warp.yaml")
    if err := os.WriteFile(path, []byte(body), 0o644); err != nil { t.Fatalf("write config: %v", err) }
    return path
}

func TestLoadFileAndEnv(t *testing.T) {
    path := writeConfig(t, `
log:
  level: debug
session:
  close_timeout: 750ms
  codec: json
engine:
  kind: mem
  publish_rate: 65536
status:
  listen: 127.0.0.1:8090
`)
    t.Setenv("WARP_ENGINE_ALPN", "moq-00")
    cfg, err := Load(path)
    if err != nil { t.Fatalf("Load: %v", err) }
    if cfg.Log.Level != "debug" { t.Fatalf("log.level = %q", cfg.Log.Level) }
    if cfg.Session.CloseTimeout != 750*time.Millisecond { t.Fatalf("close_timeout = %s", cfg.Session.CloseTimeout) }
    if cfg.Codec() != protocol.FormatJSON { t.Fatalf("codec = %s", cfg.Codec()) }
    if cfg.Engine.Kind != "mem" || cfg.Engine.PublishRate != 65536 { t.Fatalf("engine = %+v", cfg.Engine) }
    if cfg.Engine.ALPN != "moq-00" { t.Fatalf("env override ignored: alpn = %q", cfg.Engine.ALPN) }
    if cfg.Status.Listen != "127.0.0.1:8090" { t.Fatalf("status.listen = %q", cfg.Status.Listen) }
    if cfg.Session.StatsInterval != 250*time.Millisecond { t.Fatalf("default stats_interval lost: %s", cfg.Session.StatsInterval) }
}

func TestLoadRejectsInvalid(t *testing.T) {
    for name, body := range map[string]string{
        "level":     "log:\n  level: loud\n",
        "codec":     "session:\n  codec: xml\n",
        "engine":    "engine:\n  kind: carrier-pigeon\n",
        "relay":     "relay:\n  transport: udp\n",
        "timeout":   "session:\n  close_timeout: 0s\n",
        "pub_rate":  "engine:\n  publish_rate: -1\n",
    } {
        if _, err := Load(writeConfig(t, body)); err == nil { t.Fatalf("%s: invalid config accepted", name) }
    }
}

func TestDump(t *testing.T) {
    out, err := Default().Dump()
    if err != nil { t.Fatalf("Dump: %v", err) }
    for _, want := range []string{"close_timeout: 2s", "kind: quic", "alpn: warp", "codec: cbor"} {
        if !strings.Contains(string(out), want) { t.Fatalf("dump missing %q:\n%s", want, out) }
    }
}
