package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/ulikunitz/xz"
)

func writeZip(t *testing.T, entries map[string]string) string {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range entries {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("create zip entry: %v", err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatalf("write zip entry: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	path := filepath.Join(t.TempDir(), "sdk.zip")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write zip file: %v", err)
	}
	return path
}

func writeTarXz(t *testing.T, entries map[string]string) string {
	t.Helper()
	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	for name, content := range entries {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write tar header: %v", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("write tar entry: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	return compressTarXz(t, tarBuf.Bytes())
}

func compressTarXz(t *testing.T, tarBytes []byte) string {
	t.Helper()
	var xzBuf bytes.Buffer
	xw, err := xz.NewWriter(&xzBuf)
	if err != nil {
		t.Fatalf("create xz writer: %v", err)
	}
	if _, err := xw.Write(tarBytes); err != nil {
		t.Fatalf("compress tar: %v", err)
	}
	if err := xw.Close(); err != nil {
		t.Fatalf("close xz: %v", err)
	}

	path := filepath.Join(t.TempDir(), "sdk.tar.xz")
	if err := os.WriteFile(path, xzBuf.Bytes(), 0o644); err != nil {
		t.Fatalf("write tar.xz file: %v", err)
	}
	return path
}

func assertContent(t *testing.T, path, want string) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	if string(data) != want {
		t.Fatalf("%s: expected %q, got %q", path, want, data)
	}
}

func TestExtractZip(t *testing.T) {
	src := writeZip(t, map[string]string{
		"sdk/lib/core.dll": "core",
		"sdk/readme.txt":   "hello",
	})
	dest := t.TempDir()

	if err := Extract(src, dest); err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	assertContent(t, filepath.Join(dest, "sdk", "lib", "core.dll"), "core")
	assertContent(t, filepath.Join(dest, "sdk", "readme.txt"), "hello")
}

func TestExtractTarXz(t *testing.T) {
	src := writeTarXz(t, map[string]string{
		"sdk/bin/tool": "tool-bytes",
	})
	dest := t.TempDir()

	if err := Extract(src, dest); err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	assertContent(t, filepath.Join(dest, "sdk", "bin", "tool"), "tool-bytes")
}

func TestExtractTarXzWithRootEntry(t *testing.T) {
	// Tarballs made with "tar -cf x ." prefix every entry with "./" and
	// carry a header for the root directory itself.
	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	for _, dir := range []string{"./", "./sdk/"} {
		if err := tw.WriteHeader(&tar.Header{Name: dir, Mode: 0o755, Typeflag: tar.TypeDir}); err != nil {
			t.Fatalf("write dir header: %v", err)
		}
	}
	content := "core"
	hdr := &tar.Header{Name: "./sdk/core.dll", Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg}
	if err := tw.WriteHeader(hdr); err != nil {
		t.Fatalf("write file header: %v", err)
	}
	if _, err := tw.Write([]byte(content)); err != nil {
		t.Fatalf("write file entry: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}

	dest := t.TempDir()
	if err := Extract(compressTarXz(t, tarBuf.Bytes()), dest); err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	assertContent(t, filepath.Join(dest, "sdk", "core.dll"), "core")
}

func TestExtractRejectsEscapingEntries(t *testing.T) {
	src := writeZip(t, map[string]string{"../evil.txt": "nope"})
	dest := t.TempDir()

	if err := Extract(src, dest); err == nil {
		t.Fatal("expected traversal entry to be rejected")
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(dest), "evil.txt")); err == nil {
		t.Fatal("escaping file must not be written")
	}
}

func TestExtractUnsupportedFormat(t *testing.T) {
	src := filepath.Join(t.TempDir(), "sdk.rar")
	if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := Extract(src, t.TempDir()); err == nil {
		t.Fatal("expected unsupported format error")
	}
}
