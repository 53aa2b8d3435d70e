package archive

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func writeTree(t *testing.T, root string, files map[string]string, dirs ...string) {
	t.Helper()
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	for name, content := range files {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

// buildTar hand-crafts an archive so tests control the exact entry names
// the decoder sees, including ones Pack would never produce.
func buildTar(t *testing.T, entries []tar.Header, contents map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, hdr := range entries {
		hdr := hdr
		if hdr.Typeflag == tar.TypeReg {
			hdr.Size = int64(len(contents[hdr.Name]))
		}
		if err := tw.WriteHeader(&hdr); err != nil {
			t.Fatal(err)
		}
		if hdr.Typeflag == tar.TypeReg {
			if _, err := tw.Write([]byte(contents[hdr.Name])); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestRoundTrip(t *testing.T) {
	src := t.TempDir()
	files := map[string]string{
		"main.py":        "print('hello')\n",
		"lib/helpers.py": "x = 1\n",
		"version":        "1.0.0",
	}
	writeTree(t, src, files, "empty")

	data, err := Pack(src)
	if err != nil {
		t.Fatalf("Pack() error = %v", err)
	}

	dest := filepath.Join(t.TempDir(), "out")
	skipped, err := Extract(data, dest)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(skipped) != 0 {
		t.Fatalf("Extract() skipped %v, want none", skipped)
	}

	for name, want := range files {
		got, err := os.ReadFile(filepath.Join(dest, name))
		if err != nil {
			t.Fatalf("reading %s: %v", name, err)
		}
		if string(got) != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
	info, err := os.Stat(filepath.Join(dest, "empty"))
	if err != nil || !info.IsDir() {
		t.Errorf("empty directory not reproduced: %v", err)
	}
}

func TestPackDeterministic(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "a", "b/c.txt": "c"})

	first, err := Pack(src)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Pack(src)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Error("Pack() output differs between runs on the same tree")
	}
}

func TestExtractDotSlashPrefix(t *testing.T) {
	data := buildTar(t,
		[]tar.Header{
			{Name: "./a/", Typeflag: tar.TypeDir, Mode: 0o755},
			{Name: "./a/./b.txt", Typeflag: tar.TypeReg, Mode: 0o644},
		},
		map[string]string{"./a/./b.txt": "payload"},
	)

	dest := t.TempDir()
	skipped, err := Extract(data, dest)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(skipped) != 0 {
		t.Fatalf("skipped = %v, want none", skipped)
	}
	got, err := os.ReadFile(filepath.Join(dest, "a", "b.txt"))
	if err != nil {
		t.Fatalf("a/b.txt not extracted: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("a/b.txt = %q", got)
	}
}

func TestExtractSkipsPaxMarkers(t *testing.T) {
	data := buildTar(t,
		[]tar.Header{
			{Name: "PaxHeaders.0/file.txt", Typeflag: tar.TypeReg, Mode: 0o644},
			{Name: "file.txt", Typeflag: tar.TypeReg, Mode: 0o644},
		},
		map[string]string{"PaxHeaders.0/file.txt": "meta", "file.txt": "real"},
	)

	dest := t.TempDir()
	skipped, err := Extract(data, dest)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(skipped) != 0 {
		t.Fatalf("skipped = %v, want none", skipped)
	}
	if _, err := os.Stat(filepath.Join(dest, "PaxHeaders.0")); !os.IsNotExist(err) {
		t.Error("pax marker entry was materialized")
	}
	if _, err := os.Stat(filepath.Join(dest, "file.txt")); err != nil {
		t.Errorf("real entry missing: %v", err)
	}
}

func TestExtractSkipAndContinue(t *testing.T) {
	data := buildTar(t,
		[]tar.Header{
			{Name: "missing/parent.txt", Typeflag: tar.TypeReg, Mode: 0o644},
			{Name: "ok.txt", Typeflag: tar.TypeReg, Mode: 0o644},
		},
		map[string]string{"missing/parent.txt": "x", "ok.txt": "y"},
	)

	dest := t.TempDir()
	skipped, err := Extract(data, dest)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(skipped) != 1 || skipped[0].Name != "missing/parent.txt" {
		t.Fatalf("skipped = %v, want missing/parent.txt only", skipped)
	}
	if _, err := os.Stat(filepath.Join(dest, "ok.txt")); err != nil {
		t.Errorf("extraction did not continue past failed entry: %v", err)
	}
}

func TestExtractRejectsEscapingPaths(t *testing.T) {
	data := buildTar(t,
		[]tar.Header{
			{Name: "../evil.txt", Typeflag: tar.TypeReg, Mode: 0o644},
		},
		map[string]string{"../evil.txt": "x"},
	)

	dest := filepath.Join(t.TempDir(), "out")
	skipped, err := Extract(data, dest)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(skipped) != 1 {
		t.Fatalf("skipped = %v, want one entry", skipped)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(dest), "evil.txt")); !os.IsNotExist(err) {
		t.Error("entry escaped the extraction root")
	}
}

func TestExtractMalformedContainer(t *testing.T) {
	if _, err := Extract([]byte("this is not a tar archive at all, but long enough to try"), t.TempDir()); err == nil {
		t.Error("Extract() accepted garbage input")
	}
}

func TestNormalizeName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"./a/./b.txt", "a/b.txt"},
		{"././x", "x"},
		{"plain.txt", "plain.txt"},
		{"dir/", "dir"},
		{".", ""},
	}
	for _, tt := range tests {
		if got := NormalizeName(tt.in); got != tt.want {
			t.Errorf("NormalizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
