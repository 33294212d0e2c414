package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	c, err := Parse([]byte(`
cache:
  enabled: true
  ttl: 30m
  dir: /tmp/wasm-cache
  maxEntries: 128
retry:
  retries: 4
  retryDelay: 250ms
shim:
  version: "1.21.0"
load:
  timeout: 20s
  validateCalls: false
  isolation: virtual
`))
	if err != nil {
		t.Fatal(err)
	}
	if !c.Cache.On() || c.Cache.TTL.Std() != 30*time.Minute || c.Cache.MaxEntries != 128 {
		t.Fatalf("cache section = %+v", c.Cache)
	}
	if c.Retry.Retries != 4 || c.Retry.RetryDelay.Std() != 250*time.Millisecond {
		t.Fatalf("retry section = %+v", c.Retry)
	}
	if c.Shim.Version != "1.21.0" {
		t.Fatalf("shim section = %+v", c.Shim)
	}
	if c.Load.Validate() || c.Load.Isolation != "virtual" || c.Load.Timeout.Std() != 20*time.Second {
		t.Fatalf("load section = %+v", c.Load)
	}
}

func TestParse_EmptyDefaults(t *testing.T) {
	c, err := Parse([]byte(""))
	if err != nil {
		t.Fatal(err)
	}
	if !c.Cache.On() {
		t.Fatal("cache must default to enabled")
	}
	if !c.Load.Validate() {
		t.Fatal("validation must default to on")
	}
}

func TestParse_BadDuration(t *testing.T) {
	if _, err := Parse([]byte("retry:\n  retryDelay: soon\n")); err == nil {
		t.Fatal("invalid duration must fail")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loader.yaml")
	if err := os.WriteFile(path, []byte("retry:\n  retries: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Retry.Retries != 1 {
		t.Fatalf("retries = %d", c.Retry.Retries)
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("missing file must fail")
	}
}
