// Package archive encodes a directory tree into a tar byte stream and
// decodes such a stream back onto a filesystem root. The encoder runs on
// the host, the decoder on the device; both sides agree only on the
// container format (path, type flag, size, content per entry).
package archive

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// SkippedEntry records an archive entry that could not be materialized.
// Extraction continues past these; callers decide whether a partially
// populated tree is acceptable.
type SkippedEntry struct {
	Name string
	Err  error
}

func (s SkippedEntry) String() string {
	return fmt.Sprintf("%s: %v", s.Name, s.Err)
}

// Pack encodes the directory tree rooted at dir into a tar stream.
// Entries are emitted in lexical walk order so the output is deterministic
// for a given tree. Directory entries are included so empty directories
// survive the round trip.
func Pack(dir string) ([]byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		name := filepath.ToSlash(rel)

		switch {
		case d.IsDir():
			hdr := &tar.Header{
				Name:     name + "/",
				Typeflag: tar.TypeDir,
				Mode:     0o755,
				Format:   tar.FormatUSTAR,
			}
			return tw.WriteHeader(hdr)
		case d.Type().IsRegular():
			info, err := d.Info()
			if err != nil {
				return err
			}
			hdr := &tar.Header{
				Name:     name,
				Typeflag: tar.TypeReg,
				Mode:     0o644,
				Size:     info.Size(),
				Format:   tar.FormatUSTAR,
			}
			if err := tw.WriteHeader(hdr); err != nil {
				return err
			}
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			if _, err := io.Copy(tw, f); err != nil {
				return err
			}
			return nil
		default:
			// Sockets, symlinks and the like have no place in a
			// firmware image.
			return fmt.Errorf("unsupported file type for %q", name)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("packing %s: %w", dir, err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("finalizing archive: %w", err)
	}
	return buf.Bytes(), nil
}

// Extract decodes a tar stream into the directory root, creating it if
// needed. Individual entries that cannot be materialized (missing parent,
// disk full, path escaping root) are collected and skipped; only a
// malformed container aborts extraction. The returned slice lists every
// skipped entry with its cause.
func Extract(data []byte, root string) ([]SkippedEntry, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", root, err)
	}

	var skipped []SkippedEntry
	tr := tar.NewReader(bytes.NewReader(data))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return skipped, fmt.Errorf("reading archive: %w", err)
		}

		name := NormalizeName(hdr.Name)
		if name == "" || isPaxMarker(name) {
			continue
		}
		if !filepath.IsLocal(filepath.FromSlash(name)) {
			skipped = append(skipped, SkippedEntry{name, fmt.Errorf("path escapes extraction root")})
			continue
		}
		dest := filepath.Join(root, filepath.FromSlash(name))

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.Mkdir(dest, 0o755); err != nil && !os.IsExist(err) {
				skipped = append(skipped, SkippedEntry{name, err})
			}
		case tar.TypeReg:
			content, err := io.ReadAll(tr)
			if err != nil {
				return skipped, fmt.Errorf("reading entry %q: %w", name, err)
			}
			if err := os.WriteFile(dest, content, 0o644); err != nil {
				skipped = append(skipped, SkippedEntry{name, err})
			}
		default:
			skipped = append(skipped, SkippedEntry{name, fmt.Errorf("unsupported entry type %q", hdr.Typeflag)})
		}
	}
	return skipped, nil
}

// NormalizeName strips any run of leading "./" prefixes from an entry name
// and any trailing slash on directory entries.
func NormalizeName(name string) string {
	for strings.HasPrefix(name, "./") {
		name = name[2:]
	}
	name = strings.TrimSuffix(name, "/")
	if name == "." {
		return ""
	}
	// Interior "/./" segments show up in archives built from "." roots.
	name = strings.ReplaceAll(name, "/./", "/")
	return name
}

// isPaxMarker reports whether an entry name identifies an extended-header
// pseudo-entry that carries no content to materialize. archive/tar consumes
// the ones it wrote itself; this catches markers from foreign packers.
func isPaxMarker(name string) bool {
	return strings.HasSuffix(name, "@PaxHeader") || strings.Contains(name, "PaxHeaders.")
}
