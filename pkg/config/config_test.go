package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), configFile)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigFrom(t *testing.T) {
	path := writeConfig(t, `
aliases:
  break: ["b", "bp"]
self-frame-access: deoptimize
resolver-cache-size: 16
event-sink: ws://localhost:9000/events
max-stack-depth: 10
service-poll-interval: 250ms
event-queue-limit: 100
`)
	c, err := LoadConfigFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Aliases["break"]) != 2 || c.Aliases["break"][1] != "bp" {
		t.Fatalf("expected aliases for break, got %v", c.Aliases)
	}
	if c.SelfFrameAccess != "deoptimize" {
		t.Fatalf("expected deoptimize, got %q", c.SelfFrameAccess)
	}
	if c.ResolverCacheSizeOrDefault() != 16 || c.MaxStackDepthOrDefault() != 10 {
		t.Fatalf("expected sizes 16 and 10, got %d and %d", c.ResolverCacheSizeOrDefault(), c.MaxStackDepthOrDefault())
	}
	if c.EventSink != "ws://localhost:9000/events" {
		t.Fatalf("wrong event sink %q", c.EventSink)
	}
	if c.ServicePollInterval != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %v", c.ServicePollInterval)
	}
	if c.EventQueueLimit != 100 {
		t.Fatalf("expected queue limit 100, got %d", c.EventQueueLimit)
	}
}

func TestDefaults(t *testing.T) {
	c, err := LoadConfigFrom(writeConfig(t, "aliases:\n"))
	if err != nil {
		t.Fatal(err)
	}
	if c.ResolverCacheSizeOrDefault() != DefaultResolverCacheSize {
		t.Fatalf("expected default resolver cache size, got %d", c.ResolverCacheSizeOrDefault())
	}
	if c.MaxStackDepthOrDefault() != DefaultMaxStackDepth {
		t.Fatalf("expected default stack depth, got %d", c.MaxStackDepthOrDefault())
	}
	if c.SelfFrameAccess != "" || c.ServicePollInterval != 0 || c.EventQueueLimit != 0 {
		t.Fatalf("unexpected non zero values %#v", c)
	}
}

func TestInvalidConfig(t *testing.T) {
	for _, content := range []string{
		"self-frame-access: sometimes\n",
		"service-poll-interval: -1s\n",
		"event-queue-limit: -3\n",
		"aliases: [\n",
	} {
		if _, err := LoadConfigFrom(writeConfig(t, content)); err == nil {
			t.Fatalf("expected error loading %q", content)
		}
	}
}

func TestDefaultConfigParses(t *testing.T) {
	path := filepath.Join(t.TempDir(), configFile)
	f, err := createDefaultConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	c, err := LoadConfigFrom(path)
	if err != nil {
		t.Fatalf("default config does not parse: %v", err)
	}
	if c.SelfFrameAccess != "" {
		t.Fatalf("expected commented out options, got %q", c.SelfFrameAccess)
	}
}
