package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.bin")
	dest := filepath.Join(dir, "out", "nested", "b.bin")
	if err := os.WriteFile(src, []byte{0, 1, 2, 255}, 0644); err != nil {
		t.Fatal(err)
	}

	if err := CopyFile(src, dest); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string([]byte{0, 1, 2, 255}) {
		t.Errorf("copied bytes = %v", got)
	}

	entries, err := os.ReadDir(filepath.Dir(dest))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %v", entries)
	}
}

func TestCopyFileMissingSource(t *testing.T) {
	dir := t.TempDir()
	if err := CopyFile(filepath.Join(dir, "nope"), filepath.Join(dir, "x")); err == nil {
		t.Error("expected error")
	}
	if Exists(filepath.Join(dir, "x")) {
		t.Error("destination should not exist")
	}
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "f")
	if err := WriteFileAtomicBytes(f, []byte("x")); err != nil {
		t.Fatal(err)
	}
	if !Exists(f) {
		t.Error("Exists(file) = false")
	}
	if Exists(dir) {
		t.Error("Exists(dir) = true")
	}
	if Exists(filepath.Join(dir, "missing")) {
		t.Error("Exists(missing) = true")
	}
}
