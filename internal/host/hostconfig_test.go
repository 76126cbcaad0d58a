package host

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const cpuinfo = `processor	: 0
vendor_id	: GenuineIntel
model name	: Intel(R) Xeon(R) Gold 6230
physical id	: 0

processor	: 1
vendor_id	: GenuineIntel
model name	: Intel(R) Xeon(R) Gold 6230
physical id	: 1

processor	: 2
physical id	: 1
`

func TestParseCPUInfo(t *testing.T) {
	info := parseCPUInfo(strings.NewReader(cpuinfo))
	if info.vendor != "GenuineIntel" {
		t.Fatalf("vendor = %q", info.vendor)
	}
	if info.model != "Intel(R) Xeon(R) Gold 6230" {
		t.Fatalf("model = %q", info.model)
	}
	if info.sockets != 2 {
		t.Fatalf("sockets = %d, want 2", info.sockets)
	}
}

func TestParseCacheSize(t *testing.T) {
	tests := map[string]int64{
		"8192K\n": 8192 * 1024,
		"32M":     32 * 1024 * 1024,
		"1048576": 1048576,
	}
	for in, want := range tests {
		got, err := parseCacheSize(in)
		if err != nil {
			t.Fatalf("parseCacheSize(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("parseCacheSize(%q) = %d, want %d", in, got, want)
		}
	}
	if _, err := parseCacheSize("lots"); err == nil {
		t.Fatalf("expected error for invalid size")
	}
}

func TestL3CacheSize(t *testing.T) {
	dir := t.TempDir()
	write := func(index, level, size string) {
		p := filepath.Join(dir, index)
		if err := os.MkdirAll(p, 0o755); err != nil {
			t.Fatal(err)
		}
		os.WriteFile(filepath.Join(p, "level"), []byte(level+"\n"), 0o644)
		os.WriteFile(filepath.Join(p, "size"), []byte(size+"\n"), 0o644)
	}
	write("index0", "1", "32K")
	write("index2", "2", "1024K")
	write("index3", "3", "28160K")

	got, err := l3CacheSize(dir)
	if err != nil {
		t.Fatalf("l3CacheSize: %v", err)
	}
	if got != 28160*1024 {
		t.Fatalf("l3CacheSize = %d", got)
	}

	if _, err := l3CacheSize(filepath.Join(dir, "index0")); err == nil {
		t.Fatalf("expected error without an L3 index")
	}
}
