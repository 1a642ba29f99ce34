package fsutil

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

var _ FileSystem = OSFileSystem{}
var _ FileSystem = (*MemoryFileSystem)(nil)

func TestOSFileSystem_OpenAppend(t *testing.T) {
	osfs := OSFileSystem{}
	path := filepath.Join(t.TempDir(), "flow-speed-data")

	for _, line := range []string{"0.5,1\n", "1,0.75\n"} {
		w, err := osfs.OpenAppend(path)
		if err != nil {
			t.Fatalf("OpenAppend failed: %v", err)
		}
		if _, err := w.Write([]byte(line)); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "0.5,1\n1,0.75\n" {
		t.Errorf("expected both lines appended, got %q", data)
	}
}

func TestOSFileSystem_CreateTruncates(t *testing.T) {
	osfs := OSFileSystem{}
	dir := filepath.Join(t.TempDir(), "figures", "run")
	if err := osfs.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	path := filepath.Join(dir, "figure.png")
	if err := os.WriteFile(path, []byte("old contents"), 0644); err != nil {
		t.Fatal(err)
	}

	w, err := osfs.Create(path)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	w.Write([]byte("new"))
	w.Close()

	data, _ := os.ReadFile(path)
	if string(data) != "new" {
		t.Errorf("expected truncated file, got %q", data)
	}
}

func TestMemoryFileSystem_OpenAppend(t *testing.T) {
	mfs := NewMemoryFileSystem()

	first, err := mfs.OpenAppend("/out/flow-density-data")
	if err != nil {
		t.Fatalf("OpenAppend failed: %v", err)
	}
	first.Write([]byte("a\n"))

	// Data is readable before Close.
	data, err := mfs.ReadFile("/out/flow-density-data")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "a\n" {
		t.Errorf("expected %q, got %q", "a\n", data)
	}
	first.Close()

	second, _ := mfs.OpenAppend("/out/flow-density-data")
	second.Write([]byte("b\n"))
	second.Close()

	data, _ = mfs.ReadFile("/out/flow-density-data")
	if string(data) != "a\nb\n" {
		t.Errorf("expected appended content, got %q", data)
	}
}

func TestMemoryFileSystem_CreateTruncates(t *testing.T) {
	mfs := NewMemoryFileSystem()

	w, _ := mfs.OpenAppend("/x")
	w.Write([]byte("old"))
	w.Close()

	w, err := mfs.Create("/x")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	w.Write([]byte("new"))
	w.Close()

	data, _ := mfs.ReadFile("/x")
	if string(data) != "new" {
		t.Errorf("expected 'new', got %q", data)
	}
}

func TestMemoryFileSystem_WriteAfterClose(t *testing.T) {
	mfs := NewMemoryFileSystem()
	w, _ := mfs.Create("/closed")
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := w.Write([]byte("late")); !errors.Is(err, fs.ErrClosed) {
		t.Errorf("expected fs.ErrClosed, got %v", err)
	}
	if err := w.Close(); !errors.Is(err, fs.ErrClosed) {
		t.Errorf("expected fs.ErrClosed on double close, got %v", err)
	}
}

func TestMemoryFileSystem_ReadNonExistent(t *testing.T) {
	mfs := NewMemoryFileSystem()

	_, err := mfs.ReadFile("/nonexistent.txt")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected fs.ErrNotExist, got %v", err)
	}
}

func TestMemoryFileSystem_MkdirAllAndExists(t *testing.T) {
	mfs := NewMemoryFileSystem()

	if err := mfs.MkdirAll("/a/b/c", 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	for _, dir := range []string{"/a", "/a/b", "/a/b/c", "/a/b/c/"} {
		if !mfs.Exists(dir) {
			t.Errorf("expected %s to exist", dir)
		}
	}
	if mfs.Exists("/a/b/d") {
		t.Error("expected /a/b/d to not exist")
	}
}

func TestMemoryFileSystem_PathCleaning(t *testing.T) {
	mfs := NewMemoryFileSystem()

	w, _ := mfs.Create("/path/../clean.txt")
	w.Write([]byte("data"))
	w.Close()

	if !mfs.Exists("/clean.txt") {
		t.Error("expected path to be cleaned")
	}
}
