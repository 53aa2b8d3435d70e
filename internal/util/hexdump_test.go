package util

import (
	"strings"
	"testing"
)

func TestHexDump(t *testing.T) {
	out := HexDump([]byte("hello\x00world, this is a second row"))

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d rows, want 3:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[0], "0000  68 65 6c 6c 6f 00 77 6f ") {
		t.Errorf("first row = %q", lines[0])
	}
	if !strings.Contains(lines[0], "|hello.wo") {
		t.Errorf("ASCII gutter missing or wrong: %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "0010  ") {
		t.Errorf("second row offset = %q", lines[1])
	}
}

func TestHexDumpEmpty(t *testing.T) {
	if out := HexDump(nil); out != "" {
		t.Errorf("HexDump(nil) = %q, want empty", out)
	}
}
