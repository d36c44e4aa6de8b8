package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultApplied(t *testing.T) {
	f := Default()
	if f.MaxConnections != 1000 {
		t.Errorf("MaxConnections = %d, want 1000", f.MaxConnections)
	}
	if f.RTMPListenAddr != ":1935" {
		t.Errorf("RTMPListenAddr = %q, want :1935", f.RTMPListenAddr)
	}
	if f.OutbufWatermark != f.MaxOutbufSize/2 {
		t.Errorf("OutbufWatermark should default to half of MaxOutbufSize")
	}
}

func TestApplyDefaultsPreservesSetFields(t *testing.T) {
	f := &ProtocolFlags{MaxConnections: 5}
	f.ApplyDefaults()
	if f.MaxConnections != 5 {
		t.Errorf("ApplyDefaults overwrote an explicitly set field")
	}
	if f.MaxStreamsPerConn != 4 {
		t.Errorf("ApplyDefaults should still fill unset fields")
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "core.yaml")
	contents := "max_connections: 50\nrtmp_listen_addr: \":1936\"\npause_timeout: 30s\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if f.MaxConnections != 50 {
		t.Errorf("MaxConnections = %d, want 50", f.MaxConnections)
	}
	if f.RTMPListenAddr != ":1936" {
		t.Errorf("RTMPListenAddr = %q, want :1936", f.RTMPListenAddr)
	}
	if f.PauseTimeout != 30*time.Second {
		t.Errorf("PauseTimeout = %v, want 30s", f.PauseTimeout)
	}
	if f.MaxOutbufSize == 0 {
		t.Errorf("omitted field should still receive its default")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
